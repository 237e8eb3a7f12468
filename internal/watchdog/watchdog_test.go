package watchdog

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/store"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

func newTestStore(t *testing.T) *store.KeyedStore {
	t.Helper()
	st, err := store.NewKeyedStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewKeyedStore: %v", err)
	}
	return st
}

func seedDiscussion(t *testing.T, st *store.KeyedStore, d types.Discussion) {
	t.Helper()
	_, err := store.WriteCollection(st, store.CollectionDiscussions, func(all []types.Discussion) ([]types.Discussion, error) {
		return append(all, d), nil
	})
	if err != nil {
		t.Fatalf("seed discussion: %v", err)
	}
}

func readDiscussion(t *testing.T, st *store.KeyedStore, id string) types.Discussion {
	t.Helper()
	all, err := store.ReadCollection[[]types.Discussion](st, store.CollectionDiscussions)
	if err != nil {
		t.Fatalf("read discussions: %v", err)
	}
	for _, d := range all {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("discussion %s not found", id)
	return types.Discussion{}
}

// TestSweepForceClosesStalledDiscussion mirrors spec.md §8 scenario 6:
// a discussion with no checklist activity past StallTimeout is force
// closed with closeReason "watchdog_force_close_stalled_<id>" and every
// non-terminal item is rejected.
func TestSweepForceClosesStalledDiscussion(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	cfg := types.DefaultWatchdogConfig()

	d := types.Discussion{
		ID:                   "d1",
		SectorID:             "s1",
		Status:               types.DiscussionInProgress,
		LastChecklistItemAt:  now.Add(-cfg.StallTimeout - time.Second),
		Checklist: []types.ChecklistItem{
			{ID: "i1", Status: types.ItemPending, CreatedAt: now},
		},
	}
	seedDiscussion(t, st, d)

	w := New(zap.NewNop(), st, cfg)
	if err := w.Sweep(now); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got := readDiscussion(t, st, "d1")
	if got.Status != types.DiscussionDecided {
		t.Errorf("status = %v, want DECIDED", got.Status)
	}
	if got.CloseReason == nil || *got.CloseReason != "watchdog_force_close_stalled_d1" {
		t.Errorf("closeReason = %v, want watchdog_force_close_stalled_d1", got.CloseReason)
	}
	if got.Checklist[0].Status != types.ItemRejected {
		t.Errorf("item status = %v, want REJECTED", got.Checklist[0].Status)
	}
}

func TestSweepRejectsStalePendingItem(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	cfg := types.DefaultWatchdogConfig()

	d := types.Discussion{
		ID:                  "d2",
		SectorID:            "s1",
		Status:              types.DiscussionInProgress,
		LastChecklistItemAt: now,
		Checklist: []types.ChecklistItem{
			{ID: "i1", Status: types.ItemPending, CreatedAt: now.Add(-cfg.ItemPendingTimeout - time.Second)},
		},
	}
	seedDiscussion(t, st, d)

	w := New(zap.NewNop(), st, cfg)
	if err := w.Sweep(now); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got := readDiscussion(t, st, "d2")
	if got.Status != types.DiscussionInProgress {
		t.Errorf("discussion should remain IN_PROGRESS, got %v", got.Status)
	}
	if got.Checklist[0].Status != types.ItemRejected {
		t.Errorf("stale pending item status = %v, want REJECTED", got.Checklist[0].Status)
	}
	if got.Checklist[0].RejectionReason == nil || got.Checklist[0].RejectionReason.Reason != "watchdog_timeout_pending" {
		t.Errorf("rejection reason = %v, want watchdog_timeout_pending", got.Checklist[0].RejectionReason)
	}
}

func TestSweepRejectsStaleReviseRequiredItem(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	cfg := types.DefaultWatchdogConfig()

	d := types.Discussion{
		ID:                  "d3",
		SectorID:            "s1",
		Status:              types.DiscussionInProgress,
		LastChecklistItemAt: now,
		Checklist: []types.ChecklistItem{
			{ID: "i1", Status: types.ItemReviseRequired, UpdatedAt: now.Add(-cfg.ItemReviseTimeout - time.Second)},
		},
	}
	seedDiscussion(t, st, d)

	w := New(zap.NewNop(), st, cfg)
	if err := w.Sweep(now); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got := readDiscussion(t, st, "d3")
	if got.Checklist[0].Status != types.ItemRejected {
		t.Errorf("stale revise-required item status = %v, want REJECTED", got.Checklist[0].Status)
	}
}

func TestSweepIgnoresDecidedDiscussions(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	cfg := types.DefaultWatchdogConfig()

	d := types.Discussion{
		ID:                  "d4",
		SectorID:            "s1",
		Status:              types.DiscussionDecided,
		LastChecklistItemAt: now.Add(-cfg.StallTimeout - time.Hour),
		Checklist: []types.ChecklistItem{
			{ID: "i1", Status: types.ItemPending, CreatedAt: now.Add(-cfg.StallTimeout - time.Hour)},
		},
	}
	seedDiscussion(t, st, d)

	w := New(zap.NewNop(), st, cfg)
	if err := w.Sweep(now); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got := readDiscussion(t, st, "d4")
	if got.Checklist[0].Status != types.ItemPending {
		t.Errorf("a DECIDED discussion's items must not be touched, got %v", got.Checklist[0].Status)
	}
}

// TestSweepStallDoesNotRejectApprovedItem guards spec.md §4.6's
// framing of APPROVED as a decided, awaiting-execution outcome: a
// stalled discussion's force-rejection pass must leave an
// already-approved item alone even as it force-closes everything else.
func TestSweepStallDoesNotRejectApprovedItem(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	cfg := types.DefaultWatchdogConfig()

	d := types.Discussion{
		ID:                  "d6",
		SectorID:            "s1",
		Status:              types.DiscussionInProgress,
		LastChecklistItemAt: now.Add(-cfg.StallTimeout - time.Second),
		Checklist: []types.ChecklistItem{
			{ID: "i1", Status: types.ItemApproved, CreatedAt: now},
			{ID: "i2", Status: types.ItemPending, CreatedAt: now},
		},
	}
	seedDiscussion(t, st, d)

	w := New(zap.NewNop(), st, cfg)
	if err := w.Sweep(now); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got := readDiscussion(t, st, "d6")
	if got.Status != types.DiscussionDecided {
		t.Errorf("status = %v, want DECIDED", got.Status)
	}
	if got.Checklist[0].Status != types.ItemApproved {
		t.Errorf("APPROVED item status = %v, want it left untouched", got.Checklist[0].Status)
	}
	if got.Checklist[1].Status != types.ItemRejected {
		t.Errorf("pending item status = %v, want REJECTED", got.Checklist[1].Status)
	}
}

func TestSweepLeavesHealthyDiscussionUntouched(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	cfg := types.DefaultWatchdogConfig()

	d := types.Discussion{
		ID:                  "d5",
		SectorID:            "s1",
		Status:              types.DiscussionInProgress,
		LastChecklistItemAt: now,
		Checklist: []types.ChecklistItem{
			{ID: "i1", Status: types.ItemPending, CreatedAt: now},
		},
	}
	seedDiscussion(t, st, d)

	w := New(zap.NewNop(), st, cfg)
	if err := w.Sweep(now); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got := readDiscussion(t, st, "d5")
	if got.Status != types.DiscussionInProgress {
		t.Errorf("healthy discussion status changed to %v", got.Status)
	}
	if got.Checklist[0].Status != types.ItemPending {
		t.Errorf("healthy item status changed to %v", got.Checklist[0].Status)
	}
}
