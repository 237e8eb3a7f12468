// Package scoring implements ManagerScorer (C7): multi-factor scoring
// and the accept/revise/reject decision for a ChecklistItem.
package scoring

import (
	"math"
	"time"

	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

// Scorer evaluates ChecklistItems against a sector's goal (trend).
type Scorer struct {
	cfg types.ScorerConfig
}

func New(cfg types.ScorerConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the weighted score and alignment breakdown for one
// item. expectedImpact is estimated from allocationPercent: larger
// proposed moves are scored as higher expected impact, capped at 100.
func (s *Scorer) Score(item types.ChecklistItem, trendPercent float64) types.ScoreRecord {
	workerConfidence := item.Confidence
	expectedImpact := math.Min(100, item.AllocationPercent*2)
	riskLevel := s.riskLevelFor(item)
	alignment := alignmentFor(item.ActionType, trendPercent)

	score := s.cfg.WeightWorkerConfidence*workerConfidence +
		s.cfg.WeightExpectedImpact*expectedImpact +
		s.cfg.WeightRiskLevel*(100-riskLevel) +
		s.cfg.WeightAlignment*alignment

	return types.ScoreRecord{
		Score:             score,
		ApprovalThreshold: s.cfg.ApprovalThreshold,
		Breakdown: types.ScoreBreakdown{
			WorkerConfidence:        workerConfidence,
			ExpectedImpact:          expectedImpact,
			RiskLevel:               riskLevel,
			AlignmentWithSectorGoal: alignment,
		},
	}
}

// riskLevelFor derives a 0..100 risk level from the proposed
// allocation size: a larger share of the sector's capital in one move
// is treated as riskier, independent of direction.
func (s *Scorer) riskLevelFor(item types.ChecklistItem) float64 {
	if item.ActionType == types.ActionHold {
		return 0
	}
	return math.Min(100, item.AllocationPercent)
}

// alignmentFor implements spec.md §4.7's tie-break rules: BUY aligns
// with a positive trend, SELL with a negative trend, HOLD with a
// near-zero trend; otherwise alignment decays linearly with |trendPercent|.
func alignmentFor(action types.ActionType, trendPercent float64) float64 {
	switch action {
	case types.ActionBuy:
		if trendPercent > 0 {
			return 100
		}
	case types.ActionSell:
		if trendPercent < 0 {
			return 100
		}
	case types.ActionHold:
		if math.Abs(trendPercent) < 0.5 {
			return 100
		}
	case types.ActionRebalance:
		return 75
	}
	return math.Max(0, 100-math.Abs(trendPercent)*100)
}

// Decide applies the decision policy: approve, request revision, or
// reject. rejectionRefinement gates the REVISE_REQUIRED band.
func (s *Scorer) Decide(record types.ScoreRecord, revisionCount int) types.ChecklistItemStatus {
	threshold := record.ApprovalThreshold
	switch {
	case record.Score >= threshold:
		return types.ItemApproved
	case record.Score >= threshold-10 && revisionCount < types.MaxRevisions && s.cfg.RejectionRefinement:
		return types.ItemReviseRequired
	default:
		return types.ItemRejected
	}
}

// Evaluate scores and decides in one step, returning the updated item
// (status, rejectionReason, evaluatedAt set) ready to persist.
func (s *Scorer) Evaluate(item types.ChecklistItem, trendPercent float64, now time.Time, requiredImprovements func(types.ScoreBreakdown) []string) types.ChecklistItem {
	record := s.Score(item, trendPercent)
	status := s.Decide(record, item.RevisionCount)

	item.Status = status
	item.EvaluatedAt = &now
	item.UpdatedAt = now

	if status != types.ItemApproved {
		record.Reason = reasonFor(status, record)
		if requiredImprovements != nil {
			record.RequiredImprovements = requiredImprovements(record.Breakdown)
		}
		item.RejectionReason = &record
	}

	return item
}

func reasonFor(status types.ChecklistItemStatus, record types.ScoreRecord) string {
	switch status {
	case types.ItemReviseRequired:
		return "score below approval threshold but within revision band"
	default:
		if record.Breakdown.RiskLevel > 50 {
			return "risk too high"
		}
		return "score below approval threshold"
	}
}
