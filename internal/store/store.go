// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/skyblockd/skyblockd/internal/domain"
)

// ErrNotFound is returned when the requested auction is not in the store.
var ErrNotFound = errors.New("auction not found")

// Repository defines the read/write contract over the reconciled auction
// collection. The sync engine is the only writer; the session gateway and
// the query surface are readers.
type Repository interface {
	// Get retrieves an auction by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*domain.Auction, error)

	// List returns every auction currently in the store.
	List(ctx context.Context) ([]*domain.Auction, error)

	// Upsert inserts or fully replaces one auction keyed by id.
	Upsert(ctx context.Context, auction *domain.Auction) error

	// BulkUpsert inserts or fully replaces a batch of auctions in one
	// transaction.
	BulkUpsert(ctx context.Context, auctions []*domain.Auction) error

	// Delete removes an auction by id. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// Reset clears the whole collection ahead of a full reload.
	Reset(ctx context.Context) error

	// Count returns the number of auctions, optionally restricted to
	// buy-it-now (bin true) or ascending auctions (bin false).
	Count(ctx context.Context, bin *bool) (int, error)

	// BySeller returns the auctions a player is selling.
	BySeller(ctx context.Context, uuid string) ([]*domain.Auction, error)

	// ByClaimedBidder returns the auctions a player has bought (claimed).
	ByClaimedBidder(ctx context.Context, uuid string) ([]*domain.Auction, error)

	// ByBidder returns the auctions a player has placed a bid on.
	ByBidder(ctx context.Context, uuid string) ([]*domain.Auction, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
