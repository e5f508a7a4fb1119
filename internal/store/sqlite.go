package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/skyblockd/skyblockd/internal/domain"
	"github.com/skyblockd/skyblockd/internal/shared"
	_ "modernc.org/sqlite"
)

// withBusyRetry retries an operation that failed on SQLite lock
// contention, with exponential backoff. Sync-engine bulk writes and
// query-surface reads share one database.
func withBusyRetry(op func() error) error {
	const maxRetries = 3
	delay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository. A dbPath of ":memory:"
// opens an in-process database, used by tests.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode for concurrent readers while the sync engine writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS auctions (
		id TEXT PRIMARY KEY,
		seller TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		coop_members TEXT NOT NULL,
		start_ts INTEGER NOT NULL,
		end_ts INTEGER NOT NULL,
		claimed_bidders TEXT NOT NULL,
		bids TEXT NOT NULL,
		bin INTEGER NOT NULL,
		starting_bid INTEGER NOT NULL,
		item_name TEXT NOT NULL,
		item_lore TEXT NOT NULL,
		category TEXT NOT NULL,
		rarity TEXT NOT NULL,
		item_bytes BLOB,
		item_data TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_auctions_seller ON auctions(seller);
	CREATE INDEX IF NOT EXISTS idx_auctions_end ON auctions(end_ts);
	CREATE INDEX IF NOT EXISTS idx_auctions_category ON auctions(category);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// persistBid is the stored form of a bid; instants are unix milliseconds.
type persistBid struct {
	AuctionID string `json:"auction_id"`
	Bidder    string `json:"bidder"`
	ProfileID string `json:"profile_id"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

func encodeBids(bids []domain.Bid) ([]byte, error) {
	out := make([]persistBid, 0, len(bids))
	for _, b := range bids {
		out = append(out, persistBid{
			AuctionID: b.Auction,
			Bidder:    b.Bidder,
			ProfileID: b.ProfileID,
			Amount:    b.Amount,
			Timestamp: b.Timestamp.UnixMilli(),
		})
	}
	return json.Marshal(out)
}

func decodeBids(raw []byte) ([]domain.Bid, error) {
	var stored []persistBid
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	bids := make([]domain.Bid, 0, len(stored))
	for _, b := range stored {
		bids = append(bids, domain.Bid{
			Auction:   b.AuctionID,
			Bidder:    b.Bidder,
			ProfileID: b.ProfileID,
			Amount:    b.Amount,
			Timestamp: time.UnixMilli(b.Timestamp),
		})
	}
	return bids, nil
}

func encodeStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

const auctionColumns = `id, seller, profile_id, coop_members, start_ts, end_ts,
	claimed_bidders, bids, bin, starting_bid,
	item_name, item_lore, category, rarity, item_bytes, item_data`

const upsertQuery = `
	INSERT INTO auctions (` + auctionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		seller = excluded.seller,
		profile_id = excluded.profile_id,
		coop_members = excluded.coop_members,
		start_ts = excluded.start_ts,
		end_ts = excluded.end_ts,
		claimed_bidders = excluded.claimed_bidders,
		bids = excluded.bids,
		bin = excluded.bin,
		starting_bid = excluded.starting_bid,
		item_name = excluded.item_name,
		item_lore = excluded.item_lore,
		category = excluded.category,
		rarity = excluded.rarity,
		item_bytes = excluded.item_bytes,
		item_data = excluded.item_data`

func upsertArgs(a *domain.Auction) ([]any, error) {
	coop, err := encodeStrings(a.CoopMembers)
	if err != nil {
		return nil, fmt.Errorf("encode coop members: %w", err)
	}
	claimed, err := encodeStrings(a.ClaimedBidders)
	if err != nil {
		return nil, fmt.Errorf("encode claimed bidders: %w", err)
	}
	bids, err := encodeBids(a.Bids)
	if err != nil {
		return nil, fmt.Errorf("encode bids: %w", err)
	}

	var itemData any
	if item := a.CachedItem(); item != nil {
		encoded, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode item data: %w", err)
		}
		itemData = string(encoded)
	}

	return []any{
		a.ID, a.Seller, a.ProfileID, string(coop),
		a.Timestamps.Start.UnixMilli(), a.Timestamps.End.UnixMilli(),
		string(claimed), string(bids), a.BIN, a.StartingBid,
		a.Meta.Name, a.Meta.Lore, a.Meta.Category, a.Meta.Rarity,
		a.ItemBytes, itemData,
	}, nil
}

func scanAuction(scan func(dest ...any) error) (*domain.Auction, error) {
	var a domain.Auction
	var coop, claimed, bids string
	var startTs, endTs int64
	var itemData sql.NullString

	err := scan(
		&a.ID, &a.Seller, &a.ProfileID, &coop, &startTs, &endTs,
		&claimed, &bids, &a.BIN, &a.StartingBid,
		&a.Meta.Name, &a.Meta.Lore, &a.Meta.Category, &a.Meta.Rarity,
		&a.ItemBytes, &itemData,
	)
	if err != nil {
		return nil, err
	}

	a.Timestamps.Start = time.UnixMilli(startTs)
	a.Timestamps.End = time.UnixMilli(endTs)

	if err := json.Unmarshal([]byte(coop), &a.CoopMembers); err != nil {
		return nil, fmt.Errorf("decode coop members: %w", err)
	}
	if err := json.Unmarshal([]byte(claimed), &a.ClaimedBidders); err != nil {
		return nil, fmt.Errorf("decode claimed bidders: %w", err)
	}
	decoded, err := decodeBids([]byte(bids))
	if err != nil {
		return nil, fmt.Errorf("decode bids: %w", err)
	}
	a.Bids = decoded

	if itemData.Valid {
		var item domain.ItemData
		if err := json.Unmarshal([]byte(itemData.String), &item); err != nil {
			return nil, fmt.Errorf("decode item data: %w", err)
		}
		a.SetItem(&item)
	}

	return &a, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves an auction by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Auction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, id)

	auction, err := scanAuction(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan auction row: %w", err)
	}
	return auction, nil
}

// List returns every auction in the store.
func (s *SQLiteStore) List(ctx context.Context) ([]*domain.Auction, error) {
	return s.query(ctx, `SELECT `+auctionColumns+` FROM auctions`)
}

// Upsert inserts or fully replaces one auction.
func (s *SQLiteStore) Upsert(ctx context.Context, auction *domain.Auction) error {
	args, err := upsertArgs(auction)
	if err != nil {
		return err
	}
	err = withBusyRetry(func() error {
		_, execErr := s.db.ExecContext(ctx, upsertQuery, args...)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("upsert auction %s: %w", auction.ID, err)
	}
	return nil
}

// BulkUpsert writes a batch of auctions in one transaction.
func (s *SQLiteStore) BulkUpsert(ctx context.Context, auctions []*domain.Auction) error {
	if len(auctions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk upsert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		return fmt.Errorf("prepare bulk upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range auctions {
		args, err := upsertArgs(a)
		if err != nil {
			return err
		}
		err = withBusyRetry(func() error {
			_, execErr := stmt.ExecContext(ctx, args...)
			return execErr
		})
		if err != nil {
			return fmt.Errorf("bulk upsert auction %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk upsert: %w", err)
	}
	return nil
}

// Delete removes an auction by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auctions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete auction %s: %w", id, err)
	}
	return nil
}

// Reset clears the whole collection.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auctions`); err != nil {
		return fmt.Errorf("reset auctions: %w", err)
	}
	return nil
}

// Count returns the number of auctions, optionally restricted by bin flag.
func (s *SQLiteStore) Count(ctx context.Context, bin *bool) (int, error) {
	query := `SELECT COUNT(*) FROM auctions`
	var args []any
	if bin != nil {
		query += ` WHERE bin = ?`
		args = append(args, *bin)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count auctions: %w", err)
	}
	return count, nil
}

// BySeller returns the auctions a player is selling.
func (s *SQLiteStore) BySeller(ctx context.Context, uuid string) ([]*domain.Auction, error) {
	return s.query(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE seller = ?`, uuid)
}

// ByClaimedBidder returns the auctions a player has claimed.
func (s *SQLiteStore) ByClaimedBidder(ctx context.Context, uuid string) ([]*domain.Auction, error) {
	return s.query(ctx,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE EXISTS (
			SELECT 1 FROM json_each(auctions.claimed_bidders)
			WHERE json_each.value = ?
		 )`, uuid)
}

// ByBidder returns the auctions a player has placed a bid on.
func (s *SQLiteStore) ByBidder(ctx context.Context, uuid string) ([]*domain.Auction, error) {
	return s.query(ctx,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE EXISTS (
			SELECT 1 FROM json_each(auctions.bids)
			WHERE json_extract(json_each.value, '$.bidder') = ?
		 )`, uuid)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*domain.Auction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query auctions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close auction rows", "error", closeErr)
		}
	}()

	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan auction row: %w", err)
		}
		auctions = append(auctions, auction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auction rows: %w", err)
	}

	return auctions, nil
}
