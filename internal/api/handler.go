// Package api provides the request/response query surface over the
// reconciled auction collection.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skyblockd/skyblockd/internal/domain"
	"github.com/skyblockd/skyblockd/internal/middleware"
	"github.com/skyblockd/skyblockd/internal/players"
	"github.com/skyblockd/skyblockd/internal/query"
	"github.com/skyblockd/skyblockd/internal/store"
)

// PlayerDirectory resolves player identities by uuid or username.
type PlayerDirectory interface {
	ByUUID(ctx context.Context, uuid string, force bool) (domain.Player, error)
	ByName(ctx context.Context, name string, force bool) (domain.Player, error)
}

// Handler serves the auction query endpoints.
type Handler struct {
	repo    store.Repository
	players PlayerDirectory
	decoder domain.Decoder
}

// NewHandler creates a new Handler with its dependencies.
func NewHandler(repo store.Repository, directory PlayerDirectory, decoder domain.Decoder) *Handler {
	return &Handler{
		repo:    repo,
		players: directory,
		decoder: decoder,
	}
}

// RegisterRoutes attaches the auction routes with their per-route
// request budgets.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auctions", func(r chi.Router) {
		r.With(middleware.RateLimit(60)).Get("/get/{id}", h.GetAuction)
		r.With(middleware.RateLimit(30)).Get("/find", h.FindAuctions)
		r.With(middleware.RateLimit(15)).Get("/amounts", h.Amounts)
		r.With(middleware.RateLimit(45)).Get("/user/{identifier}", h.UserAuctions)
	})
}

// GetAuction is the point lookup by auction id. The store keys auctions
// by the feed's compact uuid form, so the request id is canonicalized to
// that form whichever way the client writes it.
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := players.CompactUUID(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusNotFound, "This auction does not exist or has not been cached yet!")
		return
	}

	auction, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "This auction does not exist or has not been cached yet!")
		return
	}
	if err != nil {
		slog.Error("Auction lookup failed", "id", id, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.decodeItems(auction)
	Success(w, auction.API(time.Now()))
}

// FindAuctions is the filtered, sorted, paginated search.
func (h *Handler) FindAuctions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	auctions, err := h.repo.List(r.Context())
	if err != nil {
		slog.Error("Auction listing failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	filter := query.NormalizedFilter(q.Get("query"), q.Get("category"), q.Get("rarity"), q.Get("type"))
	page := query.Page{
		Start:  intParam(q.Get("start"), query.DefaultPage.Start),
		Amount: intParam(q.Get("amount"), query.DefaultPage.Amount),
	}

	results := query.Run(auctions, filter, query.ParseOrder(q.Get("order")), page)
	h.decodeItems(results...)

	Success(w, query.Projected(results, time.Now()))
}

// Amounts is the aggregate count split by auction variant.
func (h *Handler) Amounts(w http.ResponseWriter, r *http.Request) {
	binTrue, binFalse := true, false

	binCount, err := h.repo.Count(r.Context(), &binTrue)
	if err != nil {
		slog.Error("Auction count failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	auctionCount, err := h.repo.Count(r.Context(), &binFalse)
	if err != nil {
		slog.Error("Auction count failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	Success(w, map[string]int{
		"total":   auctionCount + binCount,
		"auction": auctionCount,
		"bin":     binCount,
	})
}

// UserAuctions is the per-identity rollup: what a player is selling, has
// bought, and is bidding on. The identifier may be a username or a uuid.
func (h *Handler) UserAuctions(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	player, err := h.players.ByUUID(r.Context(), identifier, false)
	if err != nil {
		player, err = h.players.ByName(r.Context(), identifier, false)
	}
	if err != nil {
		Error(w, http.StatusBadRequest, "This user does not exist!")
		return
	}

	// The directory serves dashed uuids; the stored records carry the
	// feed's compact form.
	feedID := player.FeedID()

	selling, err := h.repo.BySeller(r.Context(), feedID)
	if err != nil {
		slog.Error("Seller rollup failed", "uuid", player.UUID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	bought, err := h.repo.ByClaimedBidder(r.Context(), feedID)
	if err != nil {
		slog.Error("Buyer rollup failed", "uuid", player.UUID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	bidding, err := h.repo.ByBidder(r.Context(), feedID)
	if err != nil {
		slog.Error("Bidder rollup failed", "uuid", player.UUID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := time.Now()
	h.decodeItems(selling...)
	h.decodeItems(bought...)
	h.decodeItems(bidding...)

	Success(w, map[string][]domain.APIAuction{
		"selling": query.Projected(selling, now),
		"bought":  query.Projected(bought, now),
		"bidding": query.Projected(bidding, now),
	})
}

func (h *Handler) decodeItems(auctions ...*domain.Auction) {
	for _, a := range auctions {
		if _, err := a.Item(h.decoder); err != nil {
			slog.Debug("Item decode failed", "auction_id", a.ID, "error", err)
		}
	}
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
