package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skyblockd/skyblockd/internal/domain"
	"github.com/skyblockd/skyblockd/internal/upstream"
	"github.com/stretchr/testify/require"
)

// fakeFeed serves a fixed set of pages and records which ones were asked
// for.
type fakeFeed struct {
	mu      sync.Mutex
	pages   []upstream.Page
	ended   *upstream.EndedPage
	fetched []int
}

func (f *fakeFeed) AuctionPage(ctx context.Context, page int) (*upstream.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, page)
	if page < 0 || page >= len(f.pages) {
		return nil, nil
	}
	p := f.pages[page]
	return &p, nil
}

func (f *fakeFeed) EndedAuctions(ctx context.Context) (*upstream.EndedPage, error) {
	return f.ended, nil
}

func (f *fakeFeed) pagesFetched() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.fetched))
	copy(out, f.fetched)
	return out
}

// memRepo is an in-memory Repository sufficient for engine tests.
type memRepo struct {
	mu       sync.Mutex
	auctions map[string]*domain.Auction
	resets   int
}

func newMemRepo() *memRepo {
	return &memRepo{auctions: make(map[string]*domain.Auction)}
}

func (r *memRepo) Get(ctx context.Context, id string) (*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.auctions[id]; ok {
		return a, nil
	}
	return nil, nil
}

func (r *memRepo) List(ctx context.Context) ([]*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		out = append(out, a)
	}
	return out, nil
}

func (r *memRepo) Upsert(ctx context.Context, a *domain.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[a.ID] = a
	return nil
}

func (r *memRepo) BulkUpsert(ctx context.Context, auctions []*domain.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range auctions {
		r.auctions[a.ID] = a
	}
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.auctions, id)
	return nil
}

func (r *memRepo) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions = make(map[string]*domain.Auction)
	r.resets++
	return nil
}

func (r *memRepo) Count(ctx context.Context, bin *bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bin == nil {
		return len(r.auctions), nil
	}
	n := 0
	for _, a := range r.auctions {
		if a.BIN == *bin {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) BySeller(ctx context.Context, uuid string) ([]*domain.Auction, error) {
	return nil, nil
}

func (r *memRepo) ByClaimedBidder(ctx context.Context, uuid string) ([]*domain.Auction, error) {
	return nil, nil
}

func (r *memRepo) ByBidder(ctx context.Context, uuid string) ([]*domain.Auction, error) {
	return nil, nil
}

func (r *memRepo) Ping(ctx context.Context) error { return nil }
func (r *memRepo) Close() error                   { return nil }

func (r *memRepo) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.auctions[id]
	return ok
}

func (r *memRepo) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.auctions)
}

// rawAuction builds a running, bid-less record whose lastUpdated equals
// its start instant.
func rawAuction(id string, start time.Time) upstream.RawAuction {
	return upstream.RawAuction{
		UUID:       id,
		Auctioneer: "seller",
		Start:      start.UnixMilli(),
		End:        time.Now().Add(24 * time.Hour).UnixMilli(),
	}
}

func TestEngine_FullReload(t *testing.T) {
	now := time.Now()
	newest := now.Add(-time.Minute)

	feed := &fakeFeed{pages: []upstream.Page{
		{Page: 0, TotalPages: 3, Auctions: []upstream.RawAuction{
			rawAuction("a0", now.Add(-3*time.Hour)),
			rawAuction("a1", newest),
		}},
		{Page: 1, TotalPages: 3, Auctions: []upstream.RawAuction{
			rawAuction("b0", now.Add(-2*time.Hour)),
		}},
		{Page: 2, TotalPages: 3, Auctions: []upstream.RawAuction{
			rawAuction("c0", now.Add(-5*time.Hour)),
		}},
	}}
	repo := newMemRepo()
	repo.Upsert(context.Background(), &domain.Auction{ID: "stale-leftover"})

	e := New(feed, repo, 2)
	require.NoError(t, e.FullReload(context.Background()))

	require.Equal(t, 1, repo.resets)
	require.False(t, repo.has("stale-leftover"), "reload must clear prior contents")
	require.Equal(t, 4, repo.size())
	require.Equal(t, newest.UnixMilli(), e.Baseline().UnixMilli(),
		"baseline is the maximum lastUpdated across all pages")
}

func TestEngine_FullReload_NoData(t *testing.T) {
	feed := &fakeFeed{}
	repo := newMemRepo()

	err := New(feed, repo, 2).FullReload(context.Background())
	require.Error(t, err)
	require.Zero(t, repo.resets, "store must not be cleared when page 0 is unavailable")
}

func TestEngine_Incremental_EarlyExit(t *testing.T) {
	now := time.Now()
	baseline := now.Add(-time.Hour)

	// Pages are ordered newest-first; page 1 contains the first record
	// older than the baseline, so page 2 must never be fetched.
	feed := &fakeFeed{pages: []upstream.Page{
		{Page: 0, TotalPages: 3, Auctions: []upstream.RawAuction{
			rawAuction("fresh1", now.Add(-time.Minute)),
			rawAuction("fresh2", now.Add(-10*time.Minute)),
		}},
		{Page: 1, TotalPages: 3, Auctions: []upstream.RawAuction{
			rawAuction("fresh3", now.Add(-30*time.Minute)),
			rawAuction("stale1", now.Add(-2*time.Hour)),
		}},
		{Page: 2, TotalPages: 3, Auctions: []upstream.RawAuction{
			rawAuction("stale2", now.Add(-3*time.Hour)),
		}},
	}}
	repo := newMemRepo()

	e := New(feed, repo, 1)
	e.setBaseline(baseline)

	require.NoError(t, e.Incremental(context.Background()))

	require.Equal(t, []int{0, 1}, feed.pagesFetched())

	// The stale record's page is still written in full before stopping.
	for _, id := range []string{"fresh1", "fresh2", "fresh3", "stale1"} {
		require.True(t, repo.has(id), "expected %s to be upserted", id)
	}
	require.False(t, repo.has("stale2"))

	require.Equal(t, now.Add(-time.Minute).UnixMilli(), e.Baseline().UnixMilli(),
		"baseline advances to the pass maximum")
}

func TestEngine_Incremental_WalksAllPagesWhenFresh(t *testing.T) {
	now := time.Now()

	feed := &fakeFeed{pages: []upstream.Page{
		{Page: 0, TotalPages: 2, Auctions: []upstream.RawAuction{
			rawAuction("p0", now.Add(-time.Minute)),
		}},
		{Page: 1, TotalPages: 2, Auctions: []upstream.RawAuction{
			rawAuction("p1", now.Add(-2*time.Minute)),
		}},
	}}
	repo := newMemRepo()

	e := New(feed, repo, 1)
	e.setBaseline(now.Add(-time.Hour))

	require.NoError(t, e.Incremental(context.Background()))
	require.Equal(t, []int{0, 1}, feed.pagesFetched())
	require.Equal(t, 2, repo.size())
}

func TestEngine_Incremental_NoBaselineWalksEverything(t *testing.T) {
	now := time.Now()

	feed := &fakeFeed{pages: []upstream.Page{
		{Page: 0, TotalPages: 2, Auctions: []upstream.RawAuction{
			rawAuction("old", now.Add(-100 * time.Hour)),
		}},
		{Page: 1, TotalPages: 2, Auctions: []upstream.RawAuction{
			rawAuction("older", now.Add(-200 * time.Hour)),
		}},
	}}
	repo := newMemRepo()

	e := New(feed, repo, 1)
	require.NoError(t, e.Incremental(context.Background()))
	require.Equal(t, []int{0, 1}, feed.pagesFetched(), "a zero baseline never triggers the early exit")
}

func TestEngine_SweepEnded(t *testing.T) {
	repo := newMemRepo()
	ctx := context.Background()
	repo.Upsert(ctx, &domain.Auction{ID: "keep"})
	repo.Upsert(ctx, &domain.Auction{ID: "sold"})

	feed := &fakeFeed{ended: &upstream.EndedPage{Auctions: []upstream.EndedAuction{
		{AuctionID: "sold"},
		{AuctionID: "never-cached"},
	}}}

	e := New(feed, repo, 1)
	require.NoError(t, e.SweepEnded(ctx))

	require.True(t, repo.has("keep"))
	require.False(t, repo.has("sold"))
}

func TestEngine_SweepEnded_NoData(t *testing.T) {
	repo := newMemRepo()
	repo.Upsert(context.Background(), &domain.Auction{ID: "keep"})

	e := New(&fakeFeed{}, repo, 1)
	require.NoError(t, e.SweepEnded(context.Background()))
	require.True(t, repo.has("keep"))
}
