// Package ingest reconciles the upstream auction collection into local
// storage. Full reloads rebuild the store with bounded parallel bulk
// loads; incremental passes walk pages in order and exit early once they
// reach data older than the recorded baseline.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skyblockd/skyblockd/internal/domain"
	"github.com/skyblockd/skyblockd/internal/store"
	"github.com/skyblockd/skyblockd/internal/upstream"
)

// Feed is the slice of the dispatcher the engine consumes. The engine
// never talks to the upstream directly.
type Feed interface {
	AuctionPage(ctx context.Context, page int) (*upstream.Page, error)
	EndedAuctions(ctx context.Context) (*upstream.EndedPage, error)
}

// Engine drives the ingest side of the pipeline: full reloads,
// incremental updates, and the ended-auction sweep.
type Engine struct {
	feed    Feed
	repo    store.Repository
	workers int

	mu       sync.Mutex
	baseline time.Time
}

// New creates a sync engine with the given worker pool width for full
// reloads.
func New(feed Feed, repo store.Repository, workers int) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{feed: feed, repo: repo, workers: workers}
}

// Baseline returns the highest lastUpdated observed by the most recent
// completed pass.
func (e *Engine) Baseline() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseline
}

func (e *Engine) setBaseline(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseline = t
}

type pageResult struct {
	maxUpdated time.Time
	err        error
}

// FullReload clears the store and rebuilds it from every page of the
// feed. Page 0 establishes the page count and the initial baseline; the
// remaining pages are loaded by a fixed-width worker pool, each worker
// bulk-writing exactly one page and reporting its own maximum
// lastUpdated. The baseline advances to the maximum across all workers.
func (e *Engine) FullReload(ctx context.Context) error {
	started := time.Now()

	first, err := e.feed.AuctionPage(ctx, 0)
	if err != nil {
		return err
	}
	if first == nil {
		return fmt.Errorf("full reload: page 0 unavailable")
	}

	now := time.Now()
	batch, baseline := convertPage(first.Auctions, now, time.Time{})

	if err := e.repo.Reset(ctx); err != nil {
		return fmt.Errorf("full reload: %w", err)
	}
	if err := e.repo.BulkUpsert(ctx, batch); err != nil {
		return fmt.Errorf("full reload: %w", err)
	}

	remaining := first.TotalPages - 1
	if remaining > 0 {
		tasks := make(chan int)
		results := make(chan pageResult, remaining)

		var wg sync.WaitGroup
		for w := 0; w < e.workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.loadWorker(ctx, tasks, results)
			}()
		}

		go func() {
			defer close(tasks)
			for page := 1; page < first.TotalPages; page++ {
				select {
				case tasks <- page:
				case <-ctx.Done():
					return
				}
			}
		}()

		wg.Wait()
		close(results)

		// The pool is complete only once every worker task has reported
		// exactly one terminal result.
		var failed int
		for res := range results {
			if res.err != nil {
				failed++
				continue
			}
			if res.maxUpdated.After(baseline) {
				baseline = res.maxUpdated
			}
		}
		if failed > 0 {
			slog.Warn("Full reload completed with failed pages", "failed", failed, "total", first.TotalPages)
		}
	}

	e.setBaseline(baseline)

	count, err := e.repo.Count(ctx, nil)
	if err != nil {
		count = -1
	}
	slog.Info("Full reload complete",
		"pages", first.TotalPages, "auctions", count, "elapsed", time.Since(started))
	return ctx.Err()
}

// loadWorker fetches and bulk-writes one page per task, reporting one
// terminal result per task.
func (e *Engine) loadWorker(ctx context.Context, tasks <-chan int, results chan<- pageResult) {
	for page := range tasks {
		p, err := e.feed.AuctionPage(ctx, page)
		if err != nil {
			results <- pageResult{err: err}
			continue
		}
		if p == nil {
			results <- pageResult{err: fmt.Errorf("page %d unavailable", page)}
			continue
		}

		batch, max := convertPage(p.Auctions, time.Now(), time.Time{})
		if err := e.repo.BulkUpsert(ctx, batch); err != nil {
			results <- pageResult{err: err}
			continue
		}
		results <- pageResult{maxUpdated: max}
	}
}

// Incremental walks pages strictly in ascending order, upserting every
// auction encountered, and stops after the page containing an auction
// whose lastUpdated is older than the recorded baseline. The early exit
// leans on the feed returning recently-touched auctions first; page order
// is why this walk must never run in parallel.
func (e *Engine) Incremental(ctx context.Context) error {
	baseline := e.Baseline()

	var passMax time.Time
	page := 0
	for {
		p, err := e.feed.AuctionPage(ctx, page)
		if err != nil {
			return err
		}
		if p == nil {
			// No data is an expected outcome; the walk just ends here.
			break
		}

		now := time.Now()
		stop := false
		batch := make([]*domain.Auction, 0, len(p.Auctions))
		for i := range p.Auctions {
			a := p.Auctions[i].ToDomain()
			lu := a.LastUpdated(now)
			if lu.After(passMax) {
				passMax = lu
			}
			if !baseline.IsZero() && lu.Before(baseline) {
				stop = true
			}
			batch = append(batch, a)
		}

		if err := e.repo.BulkUpsert(ctx, batch); err != nil {
			return fmt.Errorf("incremental sync: %w", err)
		}

		if stop || page >= p.TotalPages-1 {
			break
		}
		page++
	}

	if !passMax.IsZero() {
		e.setBaseline(passMax)
	}
	return ctx.Err()
}

// SweepEnded deletes every auction the recently-ended feed reports.
// Auctions that end naturally but go unreported (seller has not
// reclaimed) are retained until the main feed stops returning them; that
// retention is a deliberate trade-off, not an oversight.
func (e *Engine) SweepEnded(ctx context.Context) error {
	ended, err := e.feed.EndedAuctions(ctx)
	if err != nil {
		return err
	}
	if ended == nil {
		return nil
	}

	for _, rec := range ended.Auctions {
		if err := e.repo.Delete(ctx, rec.AuctionID); err != nil {
			return fmt.Errorf("sweep ended: %w", err)
		}
	}

	slog.Debug("Ended-auction sweep complete", "removed", len(ended.Auctions))
	return nil
}

// Run performs an initial full reload and then schedules the periodic
// work: sweep plus incremental on the short cadence, full reload on the
// long cadence. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, syncInterval, fullReloadInterval time.Duration) {
	if err := e.FullReload(ctx); err != nil {
		slog.Error("Initial full reload failed", "error", err)
	}

	syncTick := time.NewTicker(syncInterval)
	defer syncTick.Stop()
	fullTick := time.NewTicker(fullReloadInterval)
	defer fullTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTick.C:
			if err := e.SweepEnded(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Ended-auction sweep failed", "error", err)
			}
			if err := e.Incremental(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Incremental sync failed", "error", err)
			}
		case <-fullTick.C:
			if err := e.FullReload(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Full reload failed", "error", err)
			}
		}
	}
}

// convertPage maps raw feed records to domain form and returns the
// maximum lastUpdated across them, seeded with floor.
func convertPage(raw []upstream.RawAuction, now, floor time.Time) ([]*domain.Auction, time.Time) {
	batch := make([]*domain.Auction, 0, len(raw))
	max := floor
	for i := range raw {
		a := raw[i].ToDomain()
		if lu := a.LastUpdated(now); lu.After(max) {
			max = lu
		}
		batch = append(batch, a)
	}
	return batch, max
}
