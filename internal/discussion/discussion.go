// Package discussion implements DiscussionStateMachine (C6): the
// bounded multi-round progression from startDiscussion through to a
// DECIDED discussion, grounded on the round-robin debate coordinator
// pattern (config-driven max rounds, per-round results, consensus/
// close checks, bounded by a context timeout).
package discussion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/checklist"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/errs"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/oracle"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/scoring"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/store"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

// StateMachine drives one discussion's lifecycle. It is stateless
// across calls except for the store it uses to enforce the
// serial-execution invariant at creation time; everything else
// operates on the types.Discussion value the caller (SectorTicker)
// reads and persists each tick.
type StateMachine struct {
	logger  *zap.Logger
	store   *store.KeyedStore
	oracle  oracle.ProposalOracle
	synth   *checklist.Synthesizer
	scorer  *scoring.Scorer
	cfg     types.EngineConfig
}

func New(logger *zap.Logger, st *store.KeyedStore, oc oracle.ProposalOracle, synth *checklist.Synthesizer, scorer *scoring.Scorer, cfg types.EngineConfig) *StateMachine {
	return &StateMachine{
		logger: logger.Named("discussion"),
		store:  st,
		oracle: oc,
		synth:  synth,
		scorer: scorer,
		cfg:    cfg,
	}
}

// StartDiscussion opens a new discussion for sector, enforcing the
// serial-execution invariant (spec.md §4.6 precondition 1, §5) inside
// a single writeCollection: it re-reads all discussions for the
// sector under the same atomic operation that creates the new one.
func (sm *StateMachine) StartDiscussion(sector types.Sector, participants []types.Agent, now time.Time) (types.Discussion, error) {
	if sector.Balance.LessThanOrEqual(decimal.Zero) {
		return types.Discussion{}, errs.InvariantViolation("sector_balance_not_positive")
	}
	if len(sector.AllowedSymbols) == 0 {
		return types.Discussion{}, errs.Validation("no_allowed_symbols")
	}
	for _, a := range participants {
		if a.Confidence < sm.cfg.ConfidenceGate {
			return types.Discussion{}, errs.InvariantViolation("confidence_gate_not_met")
		}
	}

	maxRounds := sm.cfg.MaxRounds
	if len(participants) == 1 {
		maxRounds = 1
	}
	agentIDs := make([]string, len(participants))
	for i, a := range participants {
		agentIDs[i] = a.ID
	}

	var created types.Discussion
	_, err := store.WriteCollection(sm.store, store.CollectionDiscussions, func(all []types.Discussion) ([]types.Discussion, error) {
		for _, d := range all {
			if d.SectorID == sector.ID && d.Status == types.DiscussionInProgress {
				return nil, errs.InvariantViolation("duplicate_active")
			}
		}
		created = types.Discussion{
			ID:                  uuid.NewString(),
			SectorID:            sector.ID,
			Status:              types.DiscussionInProgress,
			CurrentRound:        1,
			MaxRounds:           maxRounds,
			AgentIDs:            agentIDs,
			LastChecklistItemAt: now,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		return append(all, created), nil
	})
	if err != nil {
		return types.Discussion{}, err
	}
	sm.logger.Info("discussion started",
		zap.String("sectorId", sector.ID),
		zap.String("discussionId", created.ID),
		zap.Int("maxRounds", maxRounds),
		zap.Int("participants", len(participants)))
	return created, nil
}

// Step drives exactly one round of progression: it gathers fresh
// proposals from gate-passing participants, resolves any
// carried-forward revisions, synthesizes a checklist whenever the live
// checklist is empty, scores every pending item, and either closes the
// discussion or advances to the next round. Bounded to one round of
// work, matching the ticker's "bounded work per tick" requirement.
func (sm *StateMachine) Step(ctx context.Context, d types.Discussion, sector types.Sector, participants map[string]types.Agent, agentCtx map[string]checklist.AgentContext, now time.Time) types.Discussion {
	if d.Status == types.DiscussionDecided {
		return d
	}

	select {
	case <-ctx.Done():
		return sm.forceClose(d, "round_failure", now)
	default:
	}

	messagesThisRound := sm.proposeRound(ctx, d, sector, participants, now)
	d.Messages = append(d.Messages, messagesThisRound...)

	sm.resolveRevisions(&d, participants, sector, now)

	if len(d.Checklist) == 0 {
		messagesByRound := groupByRound(d.Messages, d.CurrentRound)
		items := sm.synth.Synthesize(sector, messagesByRound, agentCtx, now)
		if len(items) == 0 && d.CurrentRound >= d.MaxRounds {
			reason := "no_items_synthesized"
			d.Status = types.DiscussionDecided
			d.CloseReason = &reason
			d.UpdatedAt = now
			return d
		}
		d.Checklist = append(d.Checklist, items...)
	}

	sm.scorePending(&d, sector, now)

	return sm.checkClose(d, now)
}

func (sm *StateMachine) proposeRound(ctx context.Context, d types.Discussion, sector types.Sector, participants map[string]types.Agent, now time.Time) []types.Message {
	var messages []types.Message
	for _, agentID := range d.AgentIDs {
		agent, ok := participants[agentID]
		if !ok {
			continue
		}
		if hasMessageInRound(d.Messages, agentID, d.CurrentRound) {
			continue
		}

		revision := sm.revisionContextFor(d, agentID)
		proposal, err := sm.oracle.Propose(ctx, agent, sector, messages, revision)
		if err != nil {
			sm.logger.Warn("oracle failure for agent; round continues without it",
				zap.String("agentId", agentID), zap.Error(err))
			continue
		}

		messages = append(messages, types.Message{
			ID:         uuid.NewString(),
			AgentID:    agentID,
			Round:      d.CurrentRound,
			Reasoning:  proposal.Reasoning,
			Proposal:   proposal.ProposalText,
			Confidence: proposal.Confidence,
			CreatedAt:  now,
		})
	}
	return messages
}

// resolveRevisions calls workerRespondToRejection for every
// REVISE_REQUIRED item carried into this round, per spec.md §4.6's
// rejection/revision contract.
func (sm *StateMachine) resolveRevisions(d *types.Discussion, participants map[string]types.Agent, sector types.Sector, now time.Time) {
	for i := range d.Checklist {
		item := d.Checklist[i]
		if item.Status != types.ItemReviseRequired {
			continue
		}
		resolved, revised := sm.workerRespondToRejection(item, now)
		d.Checklist[i] = resolved
		if revised != nil {
			d.Checklist = append(d.Checklist, *revised)
			d.LastChecklistItemAt = now
		}
	}
}

// workerRespondToRejection implements spec.md §4.6's rejection/
// revision contract. Returns the (possibly terminally-updated) original
// item and, if a revision was created, the new ChecklistItem.
func (sm *StateMachine) workerRespondToRejection(item types.ChecklistItem, now time.Time) (types.ChecklistItem, *types.ChecklistItem) {
	if item.RevisionCount >= types.MaxRevisions {
		item.Status = types.ItemAcceptRejection
		item.UpdatedAt = now
		return item, nil
	}
	if isHardConstraint(item.RejectionReason) {
		item.Status = types.ItemAcceptRejection
		item.UpdatedAt = now
		return item, nil
	}

	newItem := item
	newItem.ID = uuid.NewString()
	newItem.PreviousVersions = append(append([]string{}, item.PreviousVersions...), item.ID)
	newItem.RevisionCount = item.RevisionCount + 1
	newItem.Status = types.ItemResubmitted
	newItem.RejectionReason = nil
	newItem.EvaluatedAt = nil
	newItem.CreatedAt = now
	newItem.UpdatedAt = now

	if isExcessiveRisk(item.RejectionReason) {
		newItem.Amount = item.Amount.Div(decimal.NewFromInt(2))
		newItem.Confidence = item.Confidence * 0.9
		newItem.Reasoning = fmt.Sprintf("%s (revised: halved amount after risk rejection)", item.Reasoning)
	}

	item.Status = types.ItemAcceptRejection // superseded by revision; the old item never mutates further
	item.UpdatedAt = now
	return item, &newItem
}

func isHardConstraint(reason *types.ScoreRecord) bool {
	if reason == nil {
		return false
	}
	switch reason.Reason {
	case "symbol_not_allowed", "rule_violation", "policy_violation":
		return true
	default:
		return false
	}
}

func isExcessiveRisk(reason *types.ScoreRecord) bool {
	if reason == nil {
		return false
	}
	return reason.Breakdown.RiskLevel > 50 || reason.Reason == "risk too high"
}

// scorePending scores every PENDING item (fresh synthesis output or a
// just-flipped resubmission) against the sector's current trend.
func (sm *StateMachine) scorePending(d *types.Discussion, sector types.Sector, now time.Time) {
	trendPercent := sector.TrendFactor * 100
	for i := range d.Checklist {
		item := d.Checklist[i]
		if item.Status == types.ItemResubmitted {
			item.Status = types.ItemPending
		}
		if item.Status != types.ItemPending {
			continue
		}
		d.Checklist[i] = sm.scorer.Evaluate(item, trendPercent, now, requiredImprovementsFor)
		d.LastChecklistItemAt = now
	}
}

func requiredImprovementsFor(b types.ScoreBreakdown) []string {
	var improvements []string
	if b.RiskLevel > 50 {
		improvements = append(improvements, "reduce position size")
	}
	if b.AlignmentWithSectorGoal < 50 {
		improvements = append(improvements, "align action with sector trend")
	}
	if b.WorkerConfidence < 65 {
		improvements = append(improvements, "raise proposer confidence")
	}
	return improvements
}

// checkClose evaluates spec.md §4.6's close conditions: terminal
// resolution, round exhaustion, or advance to the next round.
func (sm *StateMachine) checkClose(d types.Discussion, now time.Time) types.Discussion {
	if allDecided(d.Checklist) {
		d.Status = types.DiscussionDecided
		reason := "all_items_terminal"
		d.CloseReason = &reason
		d.UpdatedAt = now
		return d
	}

	if d.CurrentRound >= d.MaxRounds {
		for i := range d.Checklist {
			if d.Checklist[i].Status == types.ItemPending || d.Checklist[i].Status == types.ItemReviseRequired {
				d.Checklist[i].Status = types.ItemRejected
				d.Checklist[i].UpdatedAt = now
			}
		}
		d.Status = types.DiscussionDecided
		reason := "round_exhausted"
		d.CloseReason = &reason
		d.UpdatedAt = now
		return d
	}

	return sm.advanceRound(d, now)
}

// advanceRound snapshots the round into history and increments
// currentRound, per spec.md §4.6.
func (sm *StateMachine) advanceRound(d types.Discussion, now time.Time) types.Discussion {
	decisions := make(map[string]types.ScoreRecord)
	for _, item := range d.Checklist {
		if item.RejectionReason != nil {
			decisions[item.ID] = *item.RejectionReason
		}
	}
	d.RoundHistory = append(d.RoundHistory, types.RoundSnapshot{
		Round:            d.CurrentRound,
		Checklist:        append([]types.ChecklistItem{}, d.Checklist...),
		Messages:         append([]types.Message{}, d.Messages...),
		ManagerDecisions: decisions,
		Timestamp:        now,
	})
	d.CurrentRound++
	d.UpdatedAt = now

	kept := d.Checklist[:0:0]
	for _, item := range d.Checklist {
		switch item.Status {
		case types.ItemReviseRequired, types.ItemResubmitted, types.ItemApproved:
			kept = append(kept, item)
		}
	}
	d.Checklist = kept
	return d
}

func (sm *StateMachine) forceClose(d types.Discussion, reason string, now time.Time) types.Discussion {
	d.Status = types.DiscussionDecided
	d.CloseReason = &reason
	d.UpdatedAt = now
	return d
}

func (sm *StateMachine) revisionContextFor(d types.Discussion, agentID string) *oracle.RevisionContext {
	var ctx oracle.RevisionContext
	for _, item := range d.Checklist {
		if item.SourceAgentID != agentID {
			continue
		}
		if item.RejectionReason == nil {
			continue
		}
		ctx.RejectedItems = append(ctx.RejectedItems, item)
		ctx.ScoreRecords = append(ctx.ScoreRecords, *item.RejectionReason)
	}
	if len(ctx.RejectedItems) == 0 {
		return nil
	}
	return &ctx
}

// allDecided reports whether every item has reached APPROVED or one of
// Terminal()'s final states — spec.md §4.6's "all items are terminal
// (APPROVED→executed, REJECTED, ACCEPT_REJECTION)" close condition.
func allDecided(items []types.ChecklistItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !item.Status.Decided() {
			return false
		}
	}
	return true
}

func hasMessageInRound(messages []types.Message, agentID string, round int) bool {
	for _, m := range messages {
		if m.AgentID == agentID && m.Round == round {
			return true
		}
	}
	return false
}

func groupByRound(messages []types.Message, upToRound int) [][]types.Message {
	byRound := make([][]types.Message, upToRound)
	for _, m := range messages {
		if m.Round >= 1 && m.Round <= upToRound {
			byRound[m.Round-1] = append(byRound[m.Round-1], m)
		}
	}
	return byRound
}
