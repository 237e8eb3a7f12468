package scoring

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

func testScorer() *Scorer {
	return New(types.DefaultScorerConfig())
}

func baseItem() types.ChecklistItem {
	return types.ChecklistItem{
		ID:                "i1",
		ActionType:        types.ActionBuy,
		Amount:            decimal.NewFromInt(100),
		AllocationPercent: 10,
		Confidence:        80,
	}
}

func TestDecideApproved(t *testing.T) {
	s := testScorer()
	record := types.ScoreRecord{Score: 70, ApprovalThreshold: 65}
	if got := s.Decide(record, 0); got != types.ItemApproved {
		t.Errorf("Decide() = %v, want APPROVED", got)
	}
}

func TestDecideReviseRequiredBand(t *testing.T) {
	s := testScorer()
	record := types.ScoreRecord{Score: 60, ApprovalThreshold: 65}
	if got := s.Decide(record, 0); got != types.ItemReviseRequired {
		t.Errorf("Decide() = %v, want REVISE_REQUIRED", got)
	}
}

func TestDecideReviseRequiredRespectMaxRevisions(t *testing.T) {
	s := testScorer()
	record := types.ScoreRecord{Score: 60, ApprovalThreshold: 65}
	if got := s.Decide(record, types.MaxRevisions); got != types.ItemRejected {
		t.Errorf("Decide() at MaxRevisions = %v, want REJECTED", got)
	}
}

func TestDecideRejectedBelowBand(t *testing.T) {
	s := testScorer()
	record := types.ScoreRecord{Score: 40, ApprovalThreshold: 65}
	if got := s.Decide(record, 0); got != types.ItemRejected {
		t.Errorf("Decide() = %v, want REJECTED", got)
	}
}

func TestDecideRejectionRefinementDisabledSkipsRevise(t *testing.T) {
	cfg := types.DefaultScorerConfig()
	cfg.RejectionRefinement = false
	s := New(cfg)
	record := types.ScoreRecord{Score: 60, ApprovalThreshold: 65}
	if got := s.Decide(record, 0); got != types.ItemRejected {
		t.Errorf("Decide() with refinement disabled = %v, want REJECTED", got)
	}
}

func TestAlignmentForTieBreaks(t *testing.T) {
	if got := alignmentFor(types.ActionBuy, 5); got != 100 {
		t.Errorf("BUY with positive trend alignment = %v, want 100", got)
	}
	if got := alignmentFor(types.ActionSell, -5); got != 100 {
		t.Errorf("SELL with negative trend alignment = %v, want 100", got)
	}
	if got := alignmentFor(types.ActionHold, 0.1); got != 100 {
		t.Errorf("HOLD with near-zero trend alignment = %v, want 100", got)
	}
	if got := alignmentFor(types.ActionBuy, -10); got >= 100 {
		t.Errorf("BUY against a negative trend should not score full alignment: got %v", got)
	}
}

func TestScoreWeightsSumCoverage(t *testing.T) {
	cfg := types.DefaultScorerConfig()
	sum := cfg.WeightWorkerConfidence + cfg.WeightExpectedImpact + cfg.WeightRiskLevel + cfg.WeightAlignment
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("scorer weights sum = %v, want ~1.0", sum)
	}
}

// TestRevisionThenAccept mirrors spec.md §8 scenario 4: a BUY scored
// against a falling trend lands at 60 (threshold 65) and gets
// REVISE_REQUIRED; the revised item (smaller allocation, confidence
// cut by 10%), re-scored once the trend is flat, scores 68.2 and is
// APPROVED.
func TestRevisionThenAccept(t *testing.T) {
	s := testScorer()
	now := time.Now()

	item := baseItem()
	item.AllocationPercent = 40 // BUY against a -1% trend -> alignment 0 -> score 60
	evaluated := s.Evaluate(item, -1, now, nil)
	if evaluated.Status != types.ItemReviseRequired && evaluated.Status != types.ItemRejected {
		t.Fatalf("expected a non-approval verdict for a large, unaligned allocation, got %v (score=%v)", evaluated.Status, evaluated.RejectionReason)
	}

	revised := evaluated
	revised.AllocationPercent = 10
	revised.Confidence = evaluated.Confidence * 0.9
	reEvaluated := s.Evaluate(revised, 0, now, nil)
	if reEvaluated.Status != types.ItemApproved {
		t.Errorf("expected the revised item to be APPROVED, got %v (score record: %+v)", reEvaluated.Status, reEvaluated.RejectionReason)
	}
}

func TestEvaluateSetsRejectionReasonOnlyWhenNotApproved(t *testing.T) {
	s := testScorer()
	now := time.Now()

	item := baseItem()
	item.AllocationPercent = 5
	item.Confidence = 95
	approved := s.Evaluate(item, 100, now, nil)
	if approved.Status == types.ItemApproved && approved.RejectionReason != nil {
		t.Errorf("approved item should not carry a RejectionReason")
	}

	item2 := baseItem()
	item2.AllocationPercent = 90
	item2.Confidence = 10
	rejected := s.Evaluate(item2, -100, now, nil)
	if rejected.Status != types.ItemApproved && rejected.RejectionReason == nil {
		t.Errorf("non-approved item must carry a RejectionReason")
	}
	if rejected.EvaluatedAt == nil {
		t.Error("EvaluatedAt should be set after Evaluate")
	}
}
