// Package watchdog implements Watchdog (C10): an independent task that
// force-resolves stalled discussions and items, running on its own
// cadence decoupled from any per-sector ticker (spec.md §4.10, §5).
// Grounded on the teacher orchestrator's periodic-maintenance-goroutine
// shape (a ticker loop guarded by its own mutex, a bounded amount of
// work per pass, structured logging of every forced resolution).
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/metrics"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/store"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

// Watchdog periodically scans IN_PROGRESS discussions and their items
// for staleness and force-resolves them, independent of SectorTicker
// cadence.
type Watchdog struct {
	logger *zap.Logger
	store  *store.KeyedStore
	cfg    types.WatchdogConfig

	// mu serializes Watchdog passes against a concurrent ticker round
	// step touching the same discussion (spec.md §5's per-discussion
	// mutex requirement). One process-wide mutex is sufficient because
	// a discussion's only other writer is its own sector's ticker,
	// which always goes through the same store.WriteCollection call
	// this package does.
	mu sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(logger *zap.Logger, st *store.KeyedStore, cfg types.WatchdogConfig) *Watchdog {
	return &Watchdog{
		logger: logger.Named("watchdog"),
		store:  st,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the watchdog loop in its own goroutine until Stop is
// called or ctx is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop requests cooperative shutdown and waits for the in-flight pass
// to finish.
func (w *Watchdog) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.doneCh)
	tick := time.NewTicker(w.cfg.Period)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case now := <-tick.C:
			if err := w.Sweep(now); err != nil {
				w.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass over every discussion, exported so tests and
// SystemOrchestrator can drive it synchronously. It force-resolves:
//   - IN_PROGRESS discussions stalled past StallTimeout (spec.md §4.10,
//     scenario 6: closeReason "watchdog_force_close_stalled_<id>").
//   - PENDING items older than ItemPendingTimeout.
//   - REVISE_REQUIRED items older than ItemReviseTimeout.
func (w *Watchdog) Sweep(now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, err := store.WriteCollection(w.store, store.CollectionDiscussions, func(all []types.Discussion) ([]types.Discussion, error) {
		for i, d := range all {
			if d.Status != types.DiscussionInProgress {
				continue
			}
			all[i] = w.sweepOne(d, now)
		}
		return all, nil
	})
	return err
}

func (w *Watchdog) sweepOne(d types.Discussion, now time.Time) types.Discussion {
	changed := false
	for i, item := range d.Checklist {
		switch item.Status {
		case types.ItemPending:
			if now.Sub(item.CreatedAt) > w.cfg.ItemPendingTimeout {
				d.Checklist[i] = rejectStale(item, "watchdog_timeout_pending", now)
				changed = true
			}
		case types.ItemReviseRequired:
			if now.Sub(item.UpdatedAt) > w.cfg.ItemReviseTimeout {
				d.Checklist[i] = rejectStale(item, "watchdog_timeout_revise", now)
				changed = true
			}
		}
	}

	if now.Sub(d.LastChecklistItemAt) > w.cfg.StallTimeout {
		for i, item := range d.Checklist {
			if !item.Status.Decided() {
				d.Checklist[i] = rejectStale(item, "watchdog_stalled_discussion", now)
				changed = true
			}
		}
		reason := fmt.Sprintf("watchdog_force_close_stalled_%s", d.ID)
		d.Status = types.DiscussionDecided
		d.CloseReason = &reason
		d.UpdatedAt = now
		w.logger.Warn("force-closed stalled discussion",
			zap.String("discussionId", d.ID),
			zap.String("sectorId", d.SectorID),
			zap.Duration("sinceLastItem", now.Sub(d.LastChecklistItemAt)))
		metrics.WatchdogForceClosesTotal.Inc()
		return d
	}

	if changed {
		d.UpdatedAt = now
	}
	return d
}

func rejectStale(item types.ChecklistItem, reason string, now time.Time) types.ChecklistItem {
	item.Status = types.ItemRejected
	item.UpdatedAt = now
	record := types.ScoreRecord{Reason: reason}
	item.RejectionReason = &record
	return item
}
