package orchestrator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/errs"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/oracle"
	"github.com/atlas-desktop/sector-deliberation-engine/internal/store"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.KeyedStore) {
	t.Helper()
	st, err := store.NewKeyedStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewKeyedStore: %v", err)
	}
	return New(zap.NewNop(), st, oracle.NewRuleOracle(), types.DefaultEngineConfig()), st
}

func seedSectorGraph(t *testing.T, st *store.KeyedStore) types.Sector {
	t.Helper()
	sector := types.Sector{
		ID:             "s1",
		Name:           "S1",
		Symbol:         "ACME",
		Balance:        decimal.NewFromInt(500),
		CurrentPrice:   decimal.NewFromInt(100),
		AllowedSymbols: []string{"ACME"},
		AgentIDs:       []string{"mgr", "a1"},
		Mode:           types.ModeSimulation,
	}
	if _, err := store.Upsert(st, store.CollectionSectors, sector); err != nil {
		t.Fatalf("seed sector: %v", err)
	}
	for _, a := range []types.Agent{
		{ID: "mgr", SectorID: "s1", Role: types.RoleManager},
		{ID: "a1", SectorID: "s1", Role: types.RoleTrader},
	} {
		if _, err := store.Upsert(st, store.CollectionAgents, a); err != nil {
			t.Fatalf("seed agent: %v", err)
		}
	}
	if _, err := store.Upsert(st, store.CollectionUserAccount, types.UserAccount{
		ID:      "default",
		Balance: decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("seed user account: %v", err)
	}
	return sector
}

// TestHandleSectorDeleteCascades covers the spec.md §3 cascade: the
// sector's non-manager agents are removed, its balance is returned to
// the user account, and any open discussion is terminally closed.
func TestHandleSectorDeleteCascades(t *testing.T) {
	o, st := newTestOrchestrator(t)
	sector := seedSectorGraph(t, st)

	open := types.Discussion{
		ID:       "d1",
		SectorID: "s1",
		Status:   types.DiscussionInProgress,
	}
	if _, err := store.Upsert(st, store.CollectionDiscussions, open); err != nil {
		t.Fatalf("seed discussion: %v", err)
	}

	deleted, err := o.HandleSectorDelete("s1")
	if err != nil {
		t.Fatalf("HandleSectorDelete: %v", err)
	}
	if deleted.ID != sector.ID {
		t.Errorf("deleted sector id = %q, want %q", deleted.ID, sector.ID)
	}

	if _, ok, _ := store.FindByID[types.Sector](st, store.CollectionSectors, "s1"); ok {
		t.Error("sector should be gone after delete")
	}
	if _, ok, _ := store.FindByID[types.Agent](st, store.CollectionAgents, "a1"); ok {
		t.Error("non-manager agent should be cascaded away")
	}
	if _, ok, _ := store.FindByID[types.Agent](st, store.CollectionAgents, "mgr"); !ok {
		t.Error("manager lifecycle is not part of the cascade; it should survive")
	}

	accounts, err := store.List[types.UserAccount](st, store.CollectionUserAccount)
	if err != nil || len(accounts) != 1 {
		t.Fatalf("read user account: err=%v n=%d", err, len(accounts))
	}
	if !accounts[0].Balance.Equal(decimal.NewFromInt(600)) {
		t.Errorf("user balance after cascade = %s, want 600 (100 + returned 500)", accounts[0].Balance)
	}

	d, ok, err := store.FindByID[types.Discussion](st, store.CollectionDiscussions, "d1")
	if err != nil || !ok {
		t.Fatalf("read discussion: err=%v ok=%v", err, ok)
	}
	if d.Status != types.DiscussionDecided {
		t.Errorf("open discussion status after cascade = %v, want DECIDED", d.Status)
	}
	if d.CloseReason == nil || *d.CloseReason != "sector_deleted" {
		t.Errorf("closeReason = %v, want sector_deleted", d.CloseReason)
	}
}

func TestHandleSectorDeleteMissingSector(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if _, err := o.HandleSectorDelete("nope"); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("expected NotFound for a missing sector, got %v", err)
	}
}

func TestSetModeUpdatesEverySector(t *testing.T) {
	o, st := newTestOrchestrator(t)
	seedSectorGraph(t, st)

	if err := o.SetMode(types.ModeRealtime); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if o.Mode() != types.ModeRealtime {
		t.Errorf("Mode() = %v, want realtime", o.Mode())
	}

	sectors, err := store.List[types.Sector](st, store.CollectionSectors)
	if err != nil {
		t.Fatalf("List sectors: %v", err)
	}
	for _, s := range sectors {
		if s.Mode != types.ModeRealtime {
			t.Errorf("sector %s mode = %v, want realtime", s.ID, s.Mode)
		}
	}
}

func TestTickOnceRequiresRunningTicker(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if err := o.TickOnce(context.Background(), "s1"); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("expected NotFound when no ticker is running, got %v", err)
	}
}

func TestStartSectorIsIdempotentAndTickOnceDrives(t *testing.T) {
	o, st := newTestOrchestrator(t)
	seedSectorGraph(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.StartSector(ctx, "s1")
	o.StartSector(ctx, "s1")

	if err := o.TickOnce(ctx, "s1"); err != nil {
		t.Fatalf("TickOnce: %v", err)
	}

	agent, ok, err := store.FindByID[types.Agent](st, store.CollectionAgents, "a1")
	if err != nil || !ok {
		t.Fatalf("read agent: err=%v ok=%v", err, ok)
	}
	if agent.UpdatedAt.IsZero() {
		t.Error("a tick should have stamped the agent's confidence update")
	}

	o.StopSector("s1")
	o.StopSector("s1") // second stop must be a no-op, not a panic
}
