// Package upstream provides the rate-limited dispatcher that owns the
// single outbound channel to the upstream auction API. All callers share
// one quota; the dispatcher serializes queued work and absorbs quota
// exhaustion so callers only ever see added latency or an empty result.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mode selects how a fetch enters the dispatch queue.
type Mode int

const (
	// ModeNormal appends the call to the tail of the queue.
	ModeNormal Mode = iota
	// ModePriority inserts the call at the head of the queue.
	ModePriority
	// ModeBypass executes immediately, skipping the queue. Reserved for
	// endpoints exempt from the shared quota and one-off validation calls.
	ModeBypass
)

// maxAttempts caps transport-level retries per call. Beyond the cap the
// call resolves to an empty payload rather than an error.
const maxAttempts = 3

const keyInfoPath = "/key"

type call struct {
	path     string
	key      string
	attempts int
	done     chan []byte
}

// Client is the shared upstream dispatcher. A single drain loop executes
// at most one queued call at a time, and only while the shared
// requests-remaining counter is positive.
type Client struct {
	baseURL  string
	apiKey   string
	httpc    *http.Client
	cooldown time.Duration

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []*call
	remaining  int
	resetTimer *time.Timer
	closed     bool
}

// New creates a dispatcher for the given upstream base URL and API key.
// cooldown is the fixed backoff armed after a quota-exceeded response when
// the upstream has not advertised its own reset.
func New(baseURL, apiKey string, cooldown time.Duration) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		httpc:    &http.Client{Timeout: 20 * time.Second},
		cooldown: cooldown,
		// One request is assumed available until the first response
		// discloses the real window.
		remaining: 1,
	}
	c.cond = sync.NewCond(&c.mu)
	go c.drain()
	return c
}

// Close stops the drain loop and any pending reset timer. Queued calls
// that have not executed are resolved as empty.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
	for _, cl := range c.queue {
		cl.done <- nil
	}
	c.queue = nil
	c.cond.Broadcast()
}

// Fetch requests path from the upstream using the client's own key.
// A nil payload means no data could be obtained; callers must treat
// absence as an expected condition, not an error. The returned error is
// only ever the context's.
func (c *Client) Fetch(ctx context.Context, path string, mode Mode) ([]byte, error) {
	return c.fetch(ctx, path, c.apiKey, mode)
}

// ValidateKey checks a credential against the upstream. A probe for the
// dispatcher's own key is queued with priority; any other key bypasses the
// queue since it does not draw from the shared quota owner's budget.
func (c *Client) ValidateKey(ctx context.Context, key string) (bool, error) {
	mode := ModeBypass
	if key == c.apiKey {
		mode = ModePriority
	}
	body, err := c.fetch(ctx, keyInfoPath, key, mode)
	if err != nil {
		return false, err
	}
	if body == nil {
		return false, nil
	}
	var info KeyInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return false, fmt.Errorf("parse key info: %w", err)
	}
	return info.Success, nil
}

// AuctionPage fetches one page of the auction collection. The pages
// endpoint is exempt from the shared quota, so the call bypasses the
// queue. Returns nil when no data could be obtained.
func (c *Client) AuctionPage(ctx context.Context, page int) (*Page, error) {
	body, err := c.Fetch(ctx, fmt.Sprintf("/skyblock/auctions?page=%d", page), ModeBypass)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	var p Page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse auction page %d: %w", page, err)
	}
	return &p, nil
}

// EndedAuctions fetches the recently-ended feed through the shared queue.
// Returns nil when no data could be obtained.
func (c *Client) EndedAuctions(ctx context.Context) (*EndedPage, error) {
	body, err := c.Fetch(ctx, "/skyblock/auctions_ended", ModeNormal)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	var p EndedPage
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse ended feed: %w", err)
	}
	return &p, nil
}

func (c *Client) fetch(ctx context.Context, path, key string, mode Mode) ([]byte, error) {
	cl := &call{path: path, key: key, done: make(chan []byte, 1)}

	switch mode {
	case ModeBypass:
		go c.execute(cl)
	case ModePriority:
		c.pushHead(cl)
	default:
		c.pushTail(cl)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case body := <-cl.done:
		return body, nil
	}
}

func (c *Client) pushHead(cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		cl.done <- nil
		return
	}
	c.queue = append([]*call{cl}, c.queue...)
	c.cond.Broadcast()
}

func (c *Client) pushTail(cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		cl.done <- nil
		return
	}
	c.queue = append(c.queue, cl)
	c.cond.Broadcast()
}

// drain pops one call at a time from the head of the queue while the
// shared window still has requests remaining.
func (c *Client) drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		for !c.closed && (len(c.queue) == 0 || c.remaining <= 0) {
			c.cond.Wait()
		}
		if c.closed {
			return
		}
		cl := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.execute(cl)
		c.mu.Lock()
	}
}

func (c *Client) execute(cl *call) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+cl.path, nil)
	if err != nil {
		cl.done <- nil
		return
	}
	req.Header.Set("API-Key", cl.key)

	res, err := c.httpc.Do(req)
	if err != nil {
		cl.attempts++
		if cl.attempts >= maxAttempts {
			slog.Warn("Upstream call abandoned after transport failures",
				"path", cl.path, "attempts", cl.attempts, "error", err)
			cl.done <- nil
			return
		}
		slog.Debug("Upstream transport failure, retrying", "path", cl.path, "attempt", cl.attempts)
		c.pushHead(cl)
		return
	}
	defer res.Body.Close()

	body, readErr := io.ReadAll(res.Body)

	c.observeQuota(res)

	if res.StatusCode == http.StatusTooManyRequests {
		c.handleRateLimited(cl)
		return
	}
	if readErr != nil {
		slog.Warn("Upstream response read failed", "path", cl.path, "error", readErr)
		cl.done <- nil
		return
	}

	cl.done <- body
}

// observeQuota updates the shared counter and window reset from the quota
// headers of a response. Arming the reset timer is idempotent: an already
// pending timer is left in place.
func (c *Client) observeQuota(res *http.Response) {
	limitStr := res.Header.Get("RateLimit-Limit")
	if limitStr == "" {
		return
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resetTimer == nil && !c.closed {
		resetSecs, err := strconv.Atoi(res.Header.Get("RateLimit-Reset"))
		if err == nil && resetSecs > 0 {
			c.resetTimer = time.AfterFunc(time.Duration(resetSecs)*time.Second, func() {
				c.windowReset(limit)
			})
		}
	}

	if rem, err := strconv.Atoi(res.Header.Get("RateLimit-Remaining")); err == nil {
		c.remaining = rem
		if rem > 0 {
			c.cond.Broadcast()
		}
	}
}

func (c *Client) windowReset(limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetTimer = nil
	c.remaining = limit
	c.cond.Broadcast()
}

// handleRateLimited zeroes the shared counter, re-queues the failing call
// at the tail so other queued work is not starved behind it, and arms the
// fixed cooldown unless a window reset is already pending.
func (c *Client) handleRateLimited(cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slog.Warn("Upstream quota exceeded, entering cooldown", "path", cl.path)
	c.remaining = 0
	if c.closed {
		cl.done <- nil
		return
	}
	c.queue = append(c.queue, cl)
	if c.resetTimer == nil {
		c.resetTimer = time.AfterFunc(c.cooldown, c.recoverFromCooldown)
	}
}

// recoverFromCooldown re-validates the operating credential and restores
// the counter to a minimally positive value so the queue can resume. The
// probe is inserted at the head and consumes the restored slot first.
func (c *Client) recoverFromCooldown() {
	probe := &call{path: keyInfoPath, key: c.apiKey, done: make(chan []byte, 1)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.resetTimer = nil
	c.queue = append([]*call{probe}, c.queue...)
	c.remaining = 1
	c.cond.Broadcast()
}
