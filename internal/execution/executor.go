// Package execution implements ExecutionEngine (C8): draining a
// sector's FIFO execution list against Portfolio and PriceModel, and
// emitting ExecutionLogs. Grounded on the teacher's Executor
// (config-struct-plus-constructor, a mutex-guarded state machine, a
// running metrics block, structured zap logging around every order),
// generalized from live-exchange order placement to in-process
// portfolio mutation against the simulated PriceModel.
package execution

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/errs"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/portfolio"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/pricemodel"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/store"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

// Engine applies approved ChecklistItems to a sector's Portfolio and
// PriceModel. It holds no per-sector state of its own; every call is
// given the sector/discussion it should mutate and returns the
// updated values for the caller (SectorTicker) to persist.
type Engine struct {
	logger *zap.Logger
	price  *pricemodel.Model
	cfg    types.ExecutionConfig
}

func New(logger *zap.Logger, price *pricemodel.Model, cfg types.ExecutionConfig) *Engine {
	return &Engine{logger: logger.Named("execution"), price: price, cfg: cfg}
}

// Result carries everything one Drain call changed, for the ticker to
// persist and for callers/tests to assert against.
type Result struct {
	Sector  types.Sector
	Items   []types.ChecklistItem // updated with final status (EXECUTED or REJECTED)
	Logs    []types.ExecutionLog
	Rewards map[string]int // agentId -> delta
}

// Drain executes up to max APPROVED items from the front of items,
// applying each to sector in turn (so later items see earlier items'
// balance/position effects), per spec.md §4.8. items not drained are
// returned unchanged, in order, after the drained ones.
func (e *Engine) Drain(sector types.Sector, items []types.ChecklistItem, discussion types.Discussion, max int, now time.Time) Result {
	result := Result{Sector: sector, Rewards: map[string]int{}}
	managerID := ""
	if len(sector.AgentIDs) > 0 {
		managerID = sector.AgentIDs[0] // ordered, manager first (pkg/types.Sector.AgentIDs)
	}

	drained := 0
	remaining := make([]types.ChecklistItem, 0, len(items))
	for _, item := range items {
		if item.Status != types.ItemApproved || drained >= max {
			remaining = append(remaining, item)
			continue
		}
		item, log := e.executeOne(&result.Sector, item, managerID, now)
		result.Items = append(result.Items, item)
		if log != nil {
			result.Logs = append(result.Logs, *log)
			e.applyRewards(result.Rewards, item, discussion, log.Action)
			if managerID != "" {
				result.Rewards[managerID] += e.cfg.ManagerReward
			}
		}
		drained++
	}
	result.Items = append(result.Items, remaining...)
	return result
}

// executeOne re-validates item against the current (already-mutated-
// this-drain) sector, applies the portfolio operation, updates price
// (unless the sector is in realtime mode), and builds the
// ExecutionLog. On re-validation failure the item is marked REJECTED
// post-hoc and no log is produced for it (spec.md §4.8 step 1).
func (e *Engine) executeOne(sector *types.Sector, item types.ChecklistItem, managerID string, now time.Time) (types.ChecklistItem, *types.ExecutionLog) {
	updated, err := portfolio.Apply(*sector, item.ActionType, item.Amount, item.AllocationPercent)
	if err != nil {
		e.logger.Warn("post-hoc validation failed; rejecting item",
			zap.String("itemId", item.ID), zap.Error(err))
		item.Status = types.ItemRejected
		item.UpdatedAt = now
		reason := types.ScoreRecord{Reason: reasonFromErr(err)}
		item.RejectionReason = &reason
		return item, nil
	}

	prevPrice := sector.CurrentPrice
	impact := e.price.ImpactFor(item.ActionType)

	if sector.Mode != types.ModeRealtime {
		delta := e.price.NewPrice(prevPrice, impact, sector.TrendFactor, sector.Volatility)
		updated.CurrentPrice = delta.NewPrice
		updated.Change = delta.Change
		updated.ChangePercent = delta.ChangePercent
	}
	updated.LastPriceUpdate = now
	updated.UpdatedAt = now
	*sector = updated

	item.Status = types.ItemExecuted
	item.UpdatedAt = now

	log := &types.ExecutionLog{
		ID:        newLogID(),
		SectorID:  sector.ID,
		Timestamp: now,
		Action:    string(item.ActionType),
		Impact:    impact * 100,
		ItemID:    item.ID,
		ManagerID: managerID,
		Amount:    item.Amount,
	}
	return item, log
}

// applyRewards implements spec.md §4.8 step 5: the proposer gains,
// supporting messages (same action+symbol, different agent) gain, and
// opposing messages (a conflicting BUY/SELL on the same symbol) lose.
// The manager's once-per-executed-item credit is added by Drain.
func (e *Engine) applyRewards(rewards map[string]int, item types.ChecklistItem, discussion types.Discussion, action string) {
	if item.SourceAgentID != "" && item.SourceAgentID != "consensus" {
		rewards[item.SourceAgentID] += e.cfg.ProposerReward
	}
	for _, msg := range discussion.Messages {
		if msg.AgentID == item.SourceAgentID {
			continue
		}
		supports, opposes := classifyMessage(msg, item)
		switch {
		case supports:
			rewards[msg.AgentID] += e.cfg.SupportReward
		case opposes:
			rewards[msg.AgentID] += e.cfg.OpposeReward
		}
	}
}

// classifyMessage reports whether msg's proposal text names the same
// action as item (supports) or a conflicting BUY/SELL action on the
// same symbol (opposes).
func classifyMessage(msg types.Message, item types.ChecklistItem) (supports, opposes bool) {
	if !containsWord(msg.Proposal, item.Symbol) {
		return false, false
	}
	switch {
	case containsWord(msg.Proposal, string(item.ActionType)):
		return true, false
	case item.ActionType == types.ActionBuy && containsWord(msg.Proposal, string(types.ActionSell)):
		return false, true
	case item.ActionType == types.ActionSell && containsWord(msg.Proposal, string(types.ActionBuy)):
		return false, true
	default:
		return false, false
	}
}

func containsWord(haystack, word string) bool {
	for _, f := range strings.Fields(haystack) {
		if strings.EqualFold(f, word) {
			return true
		}
	}
	return false
}

// ApplyRewards persists the reward deltas onto the agents collection;
// kept separate from Drain/executeOne so callers can batch several
// ticks' rewards into one writeCollection (spec.md §9 open question:
// rewards need not share a transaction with the execution log).
func ApplyRewards(st *store.KeyedStore, rewards map[string]int, now time.Time) error {
	if len(rewards) == 0 {
		return nil
	}
	_, err := store.WriteCollection(st, store.CollectionAgents, func(agents []types.Agent) ([]types.Agent, error) {
		for i := range agents {
			if delta, ok := rewards[agents[i].ID]; ok {
				agents[i].Rewards += delta
				agents[i].UpdatedAt = now
			}
		}
		return agents, nil
	})
	return err
}

func reasonFromErr(err error) string {
	var e *errs.Error
	if as, ok := err.(*errs.Error); ok {
		e = as
		return e.Reason
	}
	return "execution_failed"
}

func newLogID() string {
	return uuid.NewString()
}
