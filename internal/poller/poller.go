package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jakehlee/valorie/internal/storage"
)

// retention is how long an event stays in the store after it last
// appeared in a poll
const retention = 24 * time.Hour

// Source is one external match feed
type Source interface {
	FetchUpcoming(ctx context.Context) ([]storage.Event, error)
	FetchResults(ctx context.Context) ([]storage.Event, error)
}

// Poller periodically syncs the external match feed into the event store
type Poller struct {
	repo     *storage.Repository
	source   Source
	interval time.Duration

	// running guards against overlapping cycles; a skipped cycle is
	// retried on the next tick
	running sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Poller
func New(repo *storage.Repository, source Source, interval time.Duration) *Poller {
	return &Poller{
		repo:     repo,
		source:   source,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop
func (p *Poller) Start(ctx context.Context) {
	slog.Info("Starting poller", "interval", p.interval)

	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial poll
	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Poller stopped (context cancelled)")
			return
		case <-p.stopChan:
			slog.Info("Poller stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Stop signals the poller to stop
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

// Poll runs one fetch-and-sync cycle. A failed fetch leaves the store
// untouched; the next cycle retries. Safe to call from the manual
// refresh command while the loop is running.
func (p *Poller) Poll(ctx context.Context) {
	if !p.running.TryLock() {
		slog.Debug("Poll already in flight, skipping")
		return
	}
	defer p.running.Unlock()

	matches, err := p.source.FetchUpcoming(ctx)
	if err != nil {
		slog.Error("Poll failed for upcoming matches", "error", err)
		return
	}

	results, err := p.source.FetchResults(ctx)
	if err != nil {
		slog.Error("Poll failed for results", "error", err)
		return
	}

	var inserted, updated int
	for _, ev := range append(matches, results...) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := ev
		outcome, err := p.repo.UpsertEvent(&ev)
		if err != nil {
			slog.Error("Failed to upsert event", "externalID", ev.ExternalID, "error", err)
			continue
		}
		if outcome.Inserted {
			inserted++
		} else if outcome.Changed {
			updated++
		}
	}

	slog.Debug("Poll complete",
		"matches", len(matches), "results", len(results),
		"inserted", inserted, "updated", updated)

	pruned, err := p.repo.PruneStale(time.Now().Add(-retention))
	if err != nil {
		slog.Error("Failed to prune stale events", "error", err)
	} else if pruned > 0 {
		slog.Debug("Pruned stale events", "count", pruned)
	}
}
