// Package ticker implements SectorTicker (C9): the per-sector
// cooperative control loop driving ConfidenceEngine, the
// DiscussionStateMachine, and ExecutionEngine in that order each
// tick. Grounded on the teacher orchestrator's Start/Stop goroutine
// convention (a ctx/stopCh pair, a time.Ticker loop, cooperative
// cancellation that lets in-flight work finish) applied to one sector
// instead of the whole process.
package ticker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/checklist"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/confidence"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/discussion"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/errs"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/execution"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/metrics"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/registry"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/store"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

// MarketFeed supplies the simulated market signal a sector's
// ConfidenceEngine update needs each tick. The core treats this as an
// opaque, fire-and-forget external source (spec.md §1 non-goals).
type MarketFeed interface {
	Signal(sector types.Sector) confidence.MarketSignal
}

// Ticker drives one sector's tick loop. Confidence update, discussion
// step, and execution drain happen strictly in that order within a
// tick (spec.md §5); cross-sector ordering is never guaranteed.
type Ticker struct {
	logger     *zap.Logger
	store      *store.KeyedStore
	confidence *confidence.Engine
	discussion *discussion.StateMachine
	execution  *execution.Engine
	feed       MarketFeed
	mirror     registry.Mirror
	cfg        types.TickerConfig

	sectorID string
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(logger *zap.Logger, st *store.KeyedStore, ce *confidence.Engine, dsm *discussion.StateMachine, ee *execution.Engine, feed MarketFeed, mirror registry.Mirror, cfg types.TickerConfig, sectorID string) *Ticker {
	return &Ticker{
		logger:     logger.Named("ticker." + sectorID),
		store:      st,
		confidence: ce,
		discussion: dsm,
		execution:  ee,
		feed:       feed,
		mirror:     mirror,
		cfg:        cfg,
		sectorID:   sectorID,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs the tick loop in its own goroutine until Stop is called
// or ctx is cancelled. It returns immediately.
func (t *Ticker) Start(ctx context.Context) {
	go t.run(ctx)
}

// Stop requests cooperative shutdown and blocks until the in-flight
// tick (if any) has completed, per spec.md §4.9's cancellation clause.
func (t *Ticker) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

func (t *Ticker) run(ctx context.Context) {
	defer close(t.doneCh)
	tick := time.NewTicker(t.cfg.TickPeriod)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case now := <-tick.C:
			if err := t.Tick(ctx, now); err != nil {
				t.logger.Warn("tick failed", zap.Error(err))
			}
		}
	}
}

// Tick runs exactly one iteration of the loop described in spec.md
// §4.9, exported so SystemOrchestrator.TickOnce (and tests) can drive
// it synchronously without waiting on the ticker's own cadence.
func (t *Ticker) Tick(ctx context.Context, now time.Time) error {
	metrics.TicksTotal.Inc()
	sector, ok, err := store.FindByID[types.Sector](t.store, store.CollectionSectors, t.sectorID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("sector_not_found")
	}
	agents, err := sectorAgents(t.store, t.sectorID)
	if err != nil {
		return err
	}

	// 1. Confidence update (spec.md §4.3), with operator-configured
	// simulation rules layered on after smoothing.
	signal := t.feed.Signal(sector)
	rules, err := store.List[types.SimulationRule](t.store, store.CollectionSimulationRules)
	if err != nil {
		return err
	}
	for i := range agents {
		updated := t.confidence.Update(agents[i], sector, signal)
		agents[i].Confidence = confidence.ApplyRules(updated, agents[i], rules)
		agents[i].UpdatedAt = now
	}
	nonManagers := nonManagerAgents(agents)
	if err := persistAgents(t.store, agents); err != nil {
		return err
	}
	if mgr := managerAgent(agents); mgr != nil {
		mgr.Confidence = confidence.ManagerConfidence(nonManagers)
		mgr.UpdatedAt = now
		if err := persistAgents(t.store, []types.Agent{*mgr}); err != nil {
			return err
		}
	}

	// 2. Discussion gate + progression (spec.md §4.6, §4.9 steps 3-4).
	active, hasActive, err := t.activeDiscussion(sector.ID)
	if err != nil {
		return err
	}

	if !hasActive && confidence.Gate(nonManagers, hasActive, sector.InCooldown(now)) {
		started, startErr := t.discussion.StartDiscussion(sector, nonManagers, now)
		switch {
		case startErr == nil:
			active, hasActive = started, true
			metrics.DiscussionsStartedTotal.Inc()
			sector, err = appendDiscussionID(t.store, sector.ID, started.ID)
			if err != nil {
				return err
			}
		case errs.IsKind(startErr, errs.KindInvariantViolation):
			// DuplicateActive: another writer already opened one this
			// tick. Not fatal; continue without a fresh discussion.
		default:
			t.logger.Warn("start discussion failed", zap.Error(startErr))
		}
	}

	if hasActive && active.Status == types.DiscussionInProgress {
		agentByID := indexAgents(agents)
		agentCtx := buildAgentContext(agents)
		stepped := t.discussion.Step(ctx, active, sector, agentByID, agentCtx, now)
		stepped, err = persistDiscussion(t.store, stepped)
		if err != nil {
			return err
		}
		if stepped.Status == types.DiscussionDecided {
			reason := ""
			if stepped.CloseReason != nil {
				reason = *stepped.CloseReason
			}
			metrics.RecordDiscussionDecided(reason)
			sector, err = t.startCooldown(sector.ID, now)
			if err != nil {
				return err
			}
		}
		active = stepped
	}

	// 3. Execution drain (spec.md §4.8, bounded to MaxExecutionDrainPerTick).
	return t.drainExecution(sector.ID, active, now)
}

// drainExecution re-reads the sector fresh (confidence/discussion
// steps above may have changed balance via a concurrent writer is not
// possible within a single sector, but re-reading keeps this step
// independent and idempotent under retry) and feeds the discussion's
// APPROVED items through ExecutionEngine.
func (t *Ticker) drainExecution(sectorID string, active types.Discussion, now time.Time) error {
	sector, ok, err := store.FindByID[types.Sector](t.store, store.CollectionSectors, sectorID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("sector_not_found")
	}
	if !hasApprovedItems(active.Checklist) {
		return nil
	}

	result := t.execution.Drain(sector, active.Checklist, active, t.cfg.MaxExecutionDrainPerTick, now)

	if _, err := store.Upsert(t.store, store.CollectionSectors, result.Sector); err != nil {
		return err
	}
	active.Checklist = result.Items
	active.UpdatedAt = now
	if _, err := persistDiscussion(t.store, active); err != nil {
		return err
	}
	for _, log := range result.Logs {
		if err := store.Append(t.store, store.CollectionExecutionLogs, log, types.ExecutionLogsRing); err != nil {
			return err
		}
		metrics.ExecutionLogsTotal.WithLabelValues(log.Action).Inc()
		registry.MirrorAsync(t.logger, t.mirror, log)
	}
	for _, item := range result.Items {
		if item.Status.Terminal() {
			metrics.ChecklistItemsTotal.WithLabelValues(string(item.Status)).Inc()
		}
	}
	if err := execution.ApplyRewards(t.store, result.Rewards, now); err != nil {
		return err
	}
	return nil
}

func (t *Ticker) activeDiscussion(sectorID string) (types.Discussion, bool, error) {
	all, err := store.List[types.Discussion](t.store, store.CollectionDiscussions)
	if err != nil {
		return types.Discussion{}, false, err
	}
	for _, d := range all {
		if d.SectorID == sectorID && d.Status == types.DiscussionInProgress {
			return d, true, nil
		}
	}
	return types.Discussion{}, false, nil
}

func (t *Ticker) startCooldown(sectorID string, now time.Time) (types.Sector, error) {
	until := now.Add(t.cfg.TickPeriod * 2)
	return store.Mutate(t.store, store.CollectionSectors, sectorID, func(s types.Sector) (types.Sector, error) {
		s.CooldownUntil = &until
		s.UpdatedAt = now
		return s, nil
	})
}

func sectorAgents(st *store.KeyedStore, sectorID string) ([]types.Agent, error) {
	all, err := store.List[types.Agent](st, store.CollectionAgents)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, a := range all {
		if a.SectorID == sectorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func persistAgents(st *store.KeyedStore, agents []types.Agent) error {
	_, err := store.WriteCollection(st, store.CollectionAgents, func(all []types.Agent) ([]types.Agent, error) {
		byID := make(map[string]types.Agent, len(agents))
		for _, a := range agents {
			byID[a.ID] = a
		}
		for i, existing := range all {
			if updated, ok := byID[existing.ID]; ok {
				all[i] = updated
			}
		}
		return all, nil
	})
	return err
}

func persistDiscussion(st *store.KeyedStore, d types.Discussion) (types.Discussion, error) {
	return store.Upsert(st, store.CollectionDiscussions, d)
}

func appendDiscussionID(st *store.KeyedStore, sectorID, discussionID string) (types.Sector, error) {
	return store.Mutate(st, store.CollectionSectors, sectorID, func(s types.Sector) (types.Sector, error) {
		s.DiscussionIDs = append(s.DiscussionIDs, discussionID)
		return s, nil
	})
}

func nonManagerAgents(agents []types.Agent) []types.Agent {
	out := make([]types.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Role != types.RoleManager {
			out = append(out, a)
		}
	}
	return out
}

func managerAgent(agents []types.Agent) *types.Agent {
	for i := range agents {
		if agents[i].Role == types.RoleManager {
			return &agents[i]
		}
	}
	return nil
}

func indexAgents(agents []types.Agent) map[string]types.Agent {
	out := make(map[string]types.Agent, len(agents))
	for _, a := range agents {
		out[a.ID] = a
	}
	return out
}

func buildAgentContext(agents []types.Agent) map[string]checklist.AgentContext {
	out := make(map[string]checklist.AgentContext, len(agents))
	for _, a := range agents {
		out[a.ID] = checklist.AgentContext{AgentID: a.ID, WinRate: a.Performance.WinRate}
	}
	return out
}

func hasApprovedItems(items []types.ChecklistItem) bool {
	for _, item := range items {
		if item.Status == types.ItemApproved {
			return true
		}
	}
	return false
}
