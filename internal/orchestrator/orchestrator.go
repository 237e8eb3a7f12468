// Package orchestrator implements SystemOrchestrator (C11): the
// top-level owner of per-sector tickers, cooldowns, and the watchdog
// lifecycle. Grounded on the teacher orchestrator's registry-plus-
// Start/Stop shape (a mutex-guarded map of long-running components,
// one constructor wiring the whole graph, a single ctx/cancel pair
// for the process), generalized from a single PhD-pipeline instance
// to one SectorTicker per sector plus one shared Watchdog.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/checklist"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/confidence"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/discussion"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/errs"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/execution"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/metrics"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/oracle"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/pricemodel"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/regime"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/registry"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/scoring"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/sizing"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/store"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/ticker"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/watchdog"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

// Orchestrator owns every SectorTicker and the shared Watchdog and
// decides when each is started and stopped.
type Orchestrator struct {
	logger *zap.Logger
	store  *store.KeyedStore
	cfg    types.EngineConfig
	feed   *regime.Recalibrator
	mirror registry.Mirror

	confidence *confidence.Engine
	discussion *discussion.StateMachine
	execution  *execution.Engine
	watchdog   *watchdog.Watchdog

	mu      sync.Mutex
	tickers map[string]*ticker.Ticker
	mode    types.SectorMode

	ctx    context.Context
	cancel context.CancelFunc
}

// New assembles the full component graph from a single EngineConfig,
// matching the teacher's "one orchestrator wires everything" startup
// pattern in cmd/server/main.go.
func New(logger *zap.Logger, st *store.KeyedStore, oc oracle.ProposalOracle, cfg types.EngineConfig) *Orchestrator {
	sizer := sizing.New(sizing.DefaultConfig())
	synth := checklist.New(sizer)
	scorer := scoring.New(cfg.Scorer)
	dsm := discussion.New(logger, st, oc, synth, scorer, cfg)
	price := pricemodel.New(cfg.PriceModel)
	ee := execution.New(logger, price, cfg.Execution)
	wd := watchdog.New(logger, st, cfg.Watchdog)
	feed := regime.New(regime.DefaultConfig())
	mirror := registry.New(logger, cfg.MaxRegistry)

	return &Orchestrator{
		logger:     logger.Named("orchestrator"),
		store:      st,
		cfg:        cfg,
		feed:       feed,
		mirror:     mirror,
		confidence: confidence.New(),
		discussion: dsm,
		execution:  ee,
		watchdog:   wd,
		tickers:    make(map[string]*ticker.Ticker),
		mode:       types.ModeSimulation,
	}
}

// Run starts the watchdog and a ticker for every sector currently in
// the store, blocking until ctx is cancelled or Shutdown is called.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.ctx, o.cancel = context.WithCancel(ctx)
	runCtx := o.ctx
	o.mu.Unlock()

	o.watchdog.Start(runCtx)
	go o.runRecalibration(runCtx)

	sectors, err := store.List[types.Sector](o.store, store.CollectionSectors)
	if err != nil {
		return fmt.Errorf("list sectors: %w", err)
	}
	for _, s := range sectors {
		o.StartSector(runCtx, s.ID)
	}

	<-runCtx.Done()
	o.Shutdown()
	return nil
}

// runRecalibration periodically feeds every sector's current price
// into the regime recalibrator and persists its updated trendFactor/
// volatility pair (S5), independent of any sector's own tick cadence —
// the same "separate task on its own cadence" shape as the watchdog.
func (o *Orchestrator) runRecalibration(ctx context.Context) {
	tick := time.NewTicker(o.cfg.Watchdog.Period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			o.recalibrateAll()
		}
	}
}

func (o *Orchestrator) recalibrateAll() {
	if agents, err := store.List[types.Agent](o.store, store.CollectionAgents); err == nil {
		metrics.AgentsActive.Set(float64(len(agents)))
	}

	sectors, err := store.List[types.Sector](o.store, store.CollectionSectors)
	if err != nil {
		o.logger.Warn("recalibration: list sectors failed", zap.Error(err))
		return
	}
	for _, s := range sectors {
		o.feed.Observe(s)
		_, trendFactor, volatility := o.feed.Recalibrate(s)
		if _, err := store.Mutate(o.store, store.CollectionSectors, s.ID, func(cur types.Sector) (types.Sector, error) {
			cur.TrendFactor = trendFactor
			cur.Volatility = volatility
			return cur, nil
		}); err != nil {
			o.logger.Warn("recalibration: persist failed", zap.String("sectorId", s.ID), zap.Error(err))
		}
	}
}

// StartSector spawns a SectorTicker for sectorID if one is not already
// running, per spec.md §4.11. Idempotent.
func (o *Orchestrator) StartSector(ctx context.Context, sectorID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.tickers[sectorID]; ok {
		return
	}
	t := ticker.New(o.logger, o.store, o.confidence, o.discussion, o.execution, o.feed, o.mirror, o.cfg.Ticker, sectorID)
	t.Start(ctx)
	o.tickers[sectorID] = t
	metrics.SectorsActive.Set(float64(len(o.tickers)))
	o.logger.Info("sector ticker started", zap.String("sectorId", sectorID))
}

// StopSector stops and removes sectorID's ticker, if running. Any
// in-flight tick completes before this returns (spec.md §4.9's
// cancellation clause).
func (o *Orchestrator) StopSector(sectorID string) {
	o.mu.Lock()
	t, ok := o.tickers[sectorID]
	if ok {
		delete(o.tickers, sectorID)
	}
	o.mu.Unlock()

	if ok {
		t.Stop()
		o.mu.Lock()
		metrics.SectorsActive.Set(float64(len(o.tickers)))
		o.mu.Unlock()
		o.logger.Info("sector ticker stopped", zap.String("sectorId", sectorID))
	}
}

// TickOnce drives exactly one tick for sectorID synchronously,
// independent of that sector's own cadence — the seam spec.md §4.11
// reserves for tests and the confidence-tick HTTP endpoint.
func (o *Orchestrator) TickOnce(ctx context.Context, sectorID string) error {
	o.mu.Lock()
	t, ok := o.tickers[sectorID]
	o.mu.Unlock()
	if !ok {
		return errs.NotFound("sector_ticker_not_running")
	}
	return t.Tick(ctx, time.Now())
}

// SetMode switches the system between simulation and realtime; new
// sectors inherit it, existing sectors are updated in place so their
// ExecutionEngine drains respect it on the very next tick.
func (o *Orchestrator) SetMode(mode types.SectorMode) error {
	o.mu.Lock()
	o.mode = mode
	o.mu.Unlock()

	_, err := store.WriteCollection(o.store, store.CollectionSectors, func(all []types.Sector) ([]types.Sector, error) {
		for i := range all {
			all[i].Mode = mode
		}
		return all, nil
	})
	return err
}

// Mode returns the system's current global mode.
func (o *Orchestrator) Mode() types.SectorMode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// HandleSectorDelete cascades a sector deletion per spec.md §3:
// participating agents are removed, the sector's balance is returned
// to the external user account, and any open discussion is terminally
// closed. The sector's ticker is stopped first so nothing else writes
// to these collections concurrently.
func (o *Orchestrator) HandleSectorDelete(sectorID string) (types.Sector, error) {
	o.StopSector(sectorID)

	sector, ok, err := store.FindByID[types.Sector](o.store, store.CollectionSectors, sectorID)
	if err != nil {
		return types.Sector{}, err
	}
	if !ok {
		return types.Sector{}, errs.NotFound("sector_not_found")
	}

	if _, err := store.WriteCollection(o.store, store.CollectionDiscussions, func(all []types.Discussion) ([]types.Discussion, error) {
		for i, d := range all {
			if d.SectorID == sectorID && d.Status == types.DiscussionInProgress {
				reason := "sector_deleted"
				all[i].Status = types.DiscussionDecided
				all[i].CloseReason = &reason
			}
		}
		return all, nil
	}); err != nil {
		return types.Sector{}, err
	}

	if _, err := store.WriteCollection(o.store, store.CollectionAgents, func(all []types.Agent) ([]types.Agent, error) {
		out := all[:0:0]
		for _, a := range all {
			if a.SectorID != sectorID || a.Role == types.RoleManager {
				out = append(out, a)
			}
		}
		return out, nil
	}); err != nil {
		return types.Sector{}, err
	}

	if _, err := store.WriteCollection(o.store, store.CollectionUserAccount, func(accounts []types.UserAccount) ([]types.UserAccount, error) {
		if len(accounts) == 0 {
			return accounts, nil
		}
		accounts[0].Balance = accounts[0].Balance.Add(sector.Balance)
		return accounts, nil
	}); err != nil {
		return types.Sector{}, err
	}

	if err := store.DeleteByID[types.Sector](o.store, store.CollectionSectors, sectorID); err != nil {
		return types.Sector{}, err
	}

	return sector, nil
}

// Shutdown cancels every sector ticker and the watchdog cooperatively,
// waiting for in-flight work to drain.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	ids := make([]string, 0, len(o.tickers))
	for id := range o.tickers {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.StopSector(id)
	}
	o.watchdog.Stop()
}
