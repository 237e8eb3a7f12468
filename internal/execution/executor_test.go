package execution

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/pricemodel"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

func testEngine() *Engine {
	price := pricemodel.New(types.DefaultPriceModelConfig())
	return New(zap.NewNop(), price, types.DefaultExecutionConfig())
}

func testSector() types.Sector {
	return types.Sector{
		ID:           "s1",
		Symbol:       "ACME",
		Balance:      decimal.NewFromInt(1000),
		CurrentPrice: decimal.NewFromInt(100),
		Mode:         types.ModeSimulation,
	}
}

func approvedBuy(amount int64) types.ChecklistItem {
	return types.ChecklistItem{
		ID:                "item-1",
		ActionType:        types.ActionBuy,
		Symbol:            "ACME",
		Amount:            decimal.NewFromInt(amount),
		AllocationPercent: 20,
		Status:            types.ItemApproved,
	}
}

// TestDrainHappyPathBuy mirrors spec.md §8 scenario 2's execution half:
// balance=1000, BUY 200 -> balance=800, position=200, one ExecutionLog
// with action BUY and a positive impact.
func TestDrainHappyPathBuy(t *testing.T) {
	e := testEngine()
	sector := testSector()
	items := []types.ChecklistItem{approvedBuy(200)}
	now := time.Now()

	result := e.Drain(sector, items, types.Discussion{}, 5, now)

	if !result.Sector.Balance.Equal(decimal.NewFromInt(800)) {
		t.Errorf("balance = %s, want 800", result.Sector.Balance)
	}
	if !result.Sector.Position.Equal(decimal.NewFromInt(200)) {
		t.Errorf("position = %s, want 200", result.Sector.Position)
	}
	if len(result.Logs) != 1 {
		t.Fatalf("expected 1 execution log, got %d", len(result.Logs))
	}
	if result.Logs[0].Action != "BUY" {
		t.Errorf("log action = %q, want BUY", result.Logs[0].Action)
	}
	if result.Logs[0].Impact <= 0 {
		t.Errorf("BUY impact should be positive, got %v", result.Logs[0].Impact)
	}
	if len(result.Items) != 1 || result.Items[0].Status != types.ItemExecuted {
		t.Fatalf("expected the item to be EXECUTED, got %+v", result.Items)
	}
}

func TestDrainRevalidatesInsufficientBalancePostHoc(t *testing.T) {
	e := testEngine()
	sector := testSector()
	sector.Balance = decimal.NewFromInt(50)
	items := []types.ChecklistItem{approvedBuy(200)}

	result := e.Drain(sector, items, types.Discussion{}, 5, time.Now())

	if len(result.Logs) != 0 {
		t.Errorf("expected no execution log for a post-hoc failure, got %d", len(result.Logs))
	}
	if len(result.Items) != 1 || result.Items[0].Status != types.ItemRejected {
		t.Fatalf("expected item REJECTED post-hoc, got %+v", result.Items)
	}
	if !result.Sector.Balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("sector balance should be untouched by the failed item, got %s", result.Sector.Balance)
	}
}

func TestDrainRespectsRealtimeModePriceFreeze(t *testing.T) {
	e := testEngine()
	sector := testSector()
	sector.Mode = types.ModeRealtime
	items := []types.ChecklistItem{approvedBuy(100)}

	result := e.Drain(sector, items, types.Discussion{}, 5, time.Now())

	if !result.Sector.CurrentPrice.Equal(sector.CurrentPrice) {
		t.Errorf("realtime mode must not mutate currentPrice: got %s, want %s", result.Sector.CurrentPrice, sector.CurrentPrice)
	}
	if !result.Sector.Balance.Equal(decimal.NewFromInt(900)) {
		t.Errorf("realtime mode must still apply portfolio changes: balance = %s, want 900", result.Sector.Balance)
	}
}

func TestDrainBoundedByMaxPerTick(t *testing.T) {
	e := testEngine()
	sector := testSector()
	sector.Balance = decimal.NewFromInt(10000)
	items := []types.ChecklistItem{approvedBuy(100), approvedBuy(100), approvedBuy(100)}

	result := e.Drain(sector, items, types.Discussion{}, 2, time.Now())

	executed := 0
	for _, item := range result.Items {
		if item.Status == types.ItemExecuted {
			executed++
		}
	}
	if executed != 2 {
		t.Errorf("expected exactly 2 items drained (max=2), got %d", executed)
	}
	if len(result.Items) != 3 {
		t.Fatalf("all items must be returned (drained + remaining), got %d", len(result.Items))
	}
}

func TestDrainAppliesSequentially(t *testing.T) {
	e := testEngine()
	sector := testSector()
	sector.Balance = decimal.NewFromInt(300)
	items := []types.ChecklistItem{approvedBuy(200), approvedBuy(200)}

	result := e.Drain(sector, items, types.Discussion{}, 5, time.Now())

	executed, rejected := 0, 0
	for _, item := range result.Items {
		switch item.Status {
		case types.ItemExecuted:
			executed++
		case types.ItemRejected:
			rejected++
		}
	}
	if executed != 1 || rejected != 1 {
		t.Errorf("expected first BUY to succeed and the second to be rejected for insufficient balance; executed=%d rejected=%d", executed, rejected)
	}
}

func TestApplyRewardsProposerSupportOppose(t *testing.T) {
	e := testEngine()
	sector := testSector()
	item := approvedBuy(100)
	item.SourceAgentID = "proposer"

	discussion := types.Discussion{
		Messages: []types.Message{
			{AgentID: "supporter", Proposal: "BUY ACME"},
			{AgentID: "opposer", Proposal: "SELL ACME"},
		},
	}
	result := e.Drain(sector, []types.ChecklistItem{item}, discussion, 5, time.Now())

	if result.Rewards["proposer"] != e.cfg.ProposerReward {
		t.Errorf("proposer reward = %d, want %d", result.Rewards["proposer"], e.cfg.ProposerReward)
	}
	if result.Rewards["supporter"] != e.cfg.SupportReward {
		t.Errorf("supporter reward = %d, want %d", result.Rewards["supporter"], e.cfg.SupportReward)
	}
	if result.Rewards["opposer"] != e.cfg.OpposeReward {
		t.Errorf("opposer reward = %d, want %d", result.Rewards["opposer"], e.cfg.OpposeReward)
	}
}

// TestDrainCreditsManagerPerExecutedItem covers spec.md §4.8 step 5:
// the sector's manager (AgentIDs[0], ordered manager-first) earns
// ManagerReward once per executed item and is stamped on the log.
func TestDrainCreditsManagerPerExecutedItem(t *testing.T) {
	e := testEngine()
	sector := testSector()
	sector.AgentIDs = []string{"mgr", "proposer"}
	item := approvedBuy(100)
	item.SourceAgentID = "proposer"

	result := e.Drain(sector, []types.ChecklistItem{item}, types.Discussion{}, 5, time.Now())

	if result.Rewards["mgr"] != e.cfg.ManagerReward {
		t.Errorf("manager reward = %d, want %d", result.Rewards["mgr"], e.cfg.ManagerReward)
	}
	if len(result.Logs) != 1 || result.Logs[0].ManagerID != "mgr" {
		t.Fatalf("expected execution log stamped with managerId=mgr, got %+v", result.Logs)
	}
}
