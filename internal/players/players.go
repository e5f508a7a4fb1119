// Package players resolves player identities against the third-party
// player directory, with a per-process cache.
package players

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skyblockd/skyblockd/internal/domain"
)

// ErrUnknownPlayer is returned when the directory has no record for the
// requested uuid or username.
var ErrUnknownPlayer = errors.New("player does not exist")

// Manager looks up players by uuid or username and caches resolutions for
// the life of the process.
type Manager struct {
	baseURL string
	httpc   *http.Client

	mu    sync.RWMutex
	cache map[string]domain.Player // keyed by dashed uuid
}

// NewManager creates a player manager against the given directory base URL.
func NewManager(baseURL string) *Manager {
	return &Manager{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[string]domain.Player),
	}
}

// NormalizeUUID parses a uuid in dashed or compact form and returns the
// dashed canonical form.
func NormalizeUUID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse uuid %q: %w", raw, err)
	}
	return id.String(), nil
}

// CompactUUID parses a uuid in dashed or compact form and returns the
// compact form. The upstream feed identifies auctions, sellers, and
// bidders compactly, so store lookups use this form.
func CompactUUID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse uuid %q: %w", raw, err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// ByUUID resolves a player by uuid. force skips the cache.
func (m *Manager) ByUUID(ctx context.Context, raw string, force bool) (domain.Player, error) {
	id, err := NormalizeUUID(raw)
	if err != nil {
		return domain.Player{}, ErrUnknownPlayer
	}

	if !force {
		m.mu.RLock()
		p, ok := m.cache[id]
		m.mu.RUnlock()
		if ok {
			return p, nil
		}
	}

	return m.lookup(ctx, "/session/minecraft/profile/"+url.PathEscape(id))
}

// ByName resolves a player by username. force skips the cache. Username
// matching is case-insensitive, as in the directory itself.
func (m *Manager) ByName(ctx context.Context, name string, force bool) (domain.Player, error) {
	if !force {
		m.mu.RLock()
		for _, p := range m.cache {
			if strings.EqualFold(p.Username, name) {
				m.mu.RUnlock()
				return p, nil
			}
		}
		m.mu.RUnlock()
	}

	return m.lookup(ctx, "/users/profiles/minecraft/"+url.PathEscape(name))
}

func (m *Manager) lookup(ctx context.Context, path string) (domain.Player, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return domain.Player{}, fmt.Errorf("build directory request: %w", err)
	}

	res, err := m.httpc.Do(req)
	if err != nil {
		slog.Debug("Player directory lookup failed", "path", path, "error", err)
		return domain.Player{}, ErrUnknownPlayer
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return domain.Player{}, ErrUnknownPlayer
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return domain.Player{}, ErrUnknownPlayer
	}

	var record struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &record); err != nil {
		return domain.Player{}, ErrUnknownPlayer
	}

	id, err := NormalizeUUID(record.ID)
	if err != nil {
		return domain.Player{}, ErrUnknownPlayer
	}

	p := domain.Player{UUID: id, Username: record.Name}

	m.mu.Lock()
	m.cache[p.UUID] = p
	m.mu.Unlock()

	return p, nil
}
