// Package types provides shared domain type definitions for the
// deliberation engine: sectors, agents, discussions, checklist items,
// and the records that accumulate around them.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentRole is the tagged variant encoding an agent's participation
// role in a sector. Role-specific numerics live in the confidence
// engine's table, not here.
type AgentRole string

const (
	RoleManager    AgentRole = "manager"
	RoleResearcher AgentRole = "researcher"
	RoleAnalyst    AgentRole = "analyst"
	RoleTrader     AgentRole = "trader"
	RoleExecution  AgentRole = "execution"
	RoleRisk       AgentRole = "risk"
	RoleAdvisor    AgentRole = "advisor"
	RoleGeneral    AgentRole = "general"
)

// AgentStatus is idle or active.
type AgentStatus string

const (
	AgentIdle   AgentStatus = "idle"
	AgentActive AgentStatus = "active"
)

// SectorMode selects whether ExecutionEngine mutates price.
type SectorMode string

const (
	ModeSimulation SectorMode = "simulation"
	ModeRealtime   SectorMode = "realtime"
)

// DiscussionStatus is the two-state lifecycle of a Discussion.
type DiscussionStatus string

const (
	DiscussionInProgress DiscussionStatus = "IN_PROGRESS"
	DiscussionDecided    DiscussionStatus = "DECIDED"
)

// ActionType is the executable verb of a ChecklistItem.
type ActionType string

const (
	ActionBuy       ActionType = "BUY"
	ActionSell      ActionType = "SELL"
	ActionHold      ActionType = "HOLD"
	ActionRebalance ActionType = "REBALANCE"
)

// ChecklistItemStatus is the revision/approval lifecycle of an item.
type ChecklistItemStatus string

const (
	ItemPending         ChecklistItemStatus = "PENDING"
	ItemApproved        ChecklistItemStatus = "APPROVED"
	ItemReviseRequired  ChecklistItemStatus = "REVISE_REQUIRED"
	ItemResubmitted     ChecklistItemStatus = "RESUBMITTED"
	ItemRejected        ChecklistItemStatus = "REJECTED"
	ItemAcceptRejection ChecklistItemStatus = "ACCEPT_REJECTION"
	ItemExecuted        ChecklistItemStatus = "EXECUTED"
)

func (s ChecklistItemStatus) Terminal() bool {
	switch s {
	case ItemExecuted, ItemRejected, ItemAcceptRejection:
		return true
	default:
		return false
	}
}

// Decided reports whether an item has reached one of the three
// outcomes spec.md §4.6 treats as closing a discussion: APPROVED
// (awaiting execution), or one of Terminal()'s truly final states. It
// is a superset of Terminal() used wherever "still open for
// deliberation" is the question, as opposed to ticker.go's post-drain
// accounting, which only cares about Terminal() states that can never
// change again.
func (s ChecklistItemStatus) Decided() bool {
	return s == ItemApproved || s.Terminal()
}

// Personality carries the two free-form dials ConfidenceEngine reads.
type Personality struct {
	RiskTolerance float64 `json:"riskTolerance"` // 0..1, higher = more risk seeking
	DecisionStyle float64 `json:"decisionStyle"` // -1..1, negative = cautious, positive = aggressive
}

// Performance is an agent's running trading record.
type Performance struct {
	PnL         decimal.Decimal `json:"pnl"`
	WinRate     float64         `json:"winRate"` // 0..1
	TotalTrades int             `json:"totalTrades"`
}

// Agent is a deliberative actor belonging to exactly one Sector.
type Agent struct {
	ID          string      `json:"id"`
	SectorID    string      `json:"sectorId"`
	Name        string      `json:"name"`
	Role        AgentRole   `json:"role"`
	Personality Personality `json:"personality"`
	Confidence  float64     `json:"confidence"` // -100..100
	Morale      int         `json:"morale"`     // 0..100
	Performance Performance `json:"performance"`
	Status      AgentStatus `json:"status"`
	Rewards     int         `json:"rewards"`
	Memory      []string    `json:"memory,omitempty"` // manager-only: messages appended via message-manager
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Sector is a named container of an asset, its agents, balance, and
// price model state.
type Sector struct {
	ID              string                     `json:"id"`
	Name            string                     `json:"name"`
	Symbol          string                     `json:"symbol"`
	Balance         decimal.Decimal            `json:"balance"`
	Position        decimal.Decimal            `json:"position"`
	Holdings        map[string]decimal.Decimal `json:"holdings"`
	CurrentPrice    decimal.Decimal            `json:"currentPrice"`
	InitialPrice    decimal.Decimal            `json:"initialPrice"`
	Volatility      float64                    `json:"volatility"`  // 0..1
	RiskScore       int                        `json:"riskScore"`   // 0..100
	TrendFactor     float64                    `json:"trendFactor"` // -1..1
	AllowedSymbols  []string                   `json:"allowedSymbols"`
	AgentIDs        []string                   `json:"agentIds"` // ordered, manager first
	DiscussionIDs   []string                   `json:"discussionIds"`
	CooldownUntil   *time.Time                 `json:"cooldownUntil,omitempty"`
	Mode            SectorMode                 `json:"mode"`
	LastPriceUpdate time.Time                  `json:"lastPriceUpdate"`
	Change          decimal.Decimal            `json:"change"`
	ChangePercent   float64                    `json:"changePercent"`
	CreatedAt       time.Time                  `json:"createdAt"`
	UpdatedAt       time.Time                  `json:"updatedAt"`
}

// GetID satisfies store.Identifiable.
func (s Sector) GetID() string { return s.ID }

// AllowsSymbol reports whether symbol is tradable in this sector.
func (s Sector) AllowsSymbol(symbol string) bool {
	for _, sym := range s.AllowedSymbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

// InCooldown reports whether the sector currently refuses new discussions.
func (s Sector) InCooldown(now time.Time) bool {
	return s.CooldownUntil != nil && now.Before(*s.CooldownUntil)
}

// GetID satisfies store.Identifiable.
func (a Agent) GetID() string { return a.ID }

// Message is an immutable proposal-round contribution from one agent.
type Message struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agentId"`
	Round      int       `json:"round"`
	Reasoning  string    `json:"reasoning"`
	Proposal   string    `json:"proposal"`
	Confidence float64   `json:"confidence"` // 0..1
	CreatedAt  time.Time `json:"createdAt"`
}

// ScoreRecord is the ManagerScorer's verdict on one ChecklistItem.
type ScoreRecord struct {
	Score                float64        `json:"score"` // 0..100
	ApprovalThreshold    float64        `json:"approvalThreshold"`
	Breakdown            ScoreBreakdown `json:"breakdown"`
	Reason               string         `json:"reason"`
	RequiredImprovements []string       `json:"requiredImprovements"`
}

// ScoreBreakdown is the per-factor detail behind a ScoreRecord.Score.
type ScoreBreakdown struct {
	WorkerConfidence        float64 `json:"workerConfidence"`
	ExpectedImpact          float64 `json:"expectedImpact"`
	RiskLevel               float64 `json:"riskLevel"`
	AlignmentWithSectorGoal float64 `json:"alignmentWithSectorGoal"`
}

// ChecklistItem is an executable proposal produced by ChecklistSynthesizer
// and decided on by ManagerScorer. Immutable across revisions: a revision
// creates a new ChecklistItem linked via PreviousVersions.
type ChecklistItem struct {
	ID                string              `json:"id"`
	SourceAgentID     string              `json:"sourceAgentId"` // "consensus" allowed
	Round             int                 `json:"round"`
	ActionType        ActionType          `json:"actionType"`
	Symbol            string              `json:"symbol"`
	Amount            decimal.Decimal     `json:"amount"`
	AllocationPercent float64             `json:"allocationPercent"` // 0..100
	Confidence        float64             `json:"confidence"`        // 0..100
	Reasoning         string              `json:"reasoning"`
	Status            ChecklistItemStatus `json:"status"`
	RevisionCount     int                 `json:"revisionCount"` // 0..2
	PreviousVersions  []string            `json:"previousVersions"`
	RejectionReason   *ScoreRecord        `json:"rejectionReason,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	EvaluatedAt       *time.Time          `json:"evaluatedAt,omitempty"`
}

// RoundSnapshot is a deep copy taken when a discussion round closes.
type RoundSnapshot struct {
	Round            int                    `json:"round"`
	Checklist        []ChecklistItem        `json:"checklist"`
	Messages         []Message              `json:"messages"`
	ManagerDecisions map[string]ScoreRecord `json:"managerDecisions"` // itemId -> record
	Timestamp        time.Time              `json:"timestamp"`
}

// Discussion is a bounded, multi-round deliberation over a sector.
type Discussion struct {
	ID                  string           `json:"id"`
	SectorID            string           `json:"sectorId"`
	Status              DiscussionStatus `json:"status"`
	CurrentRound        int              `json:"currentRound"`
	MaxRounds           int              `json:"maxRounds"`
	AgentIDs            []string         `json:"agentIds"` // non-manager participants
	Messages            []Message        `json:"messages"`
	Checklist           []ChecklistItem  `json:"checklist"`
	RoundHistory        []RoundSnapshot  `json:"roundHistory"`
	LastChecklistItemAt time.Time        `json:"lastChecklistItemAt"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
	CloseReason         *string          `json:"closeReason,omitempty"`
}

// GetID satisfies store.Identifiable.
func (d Discussion) GetID() string { return d.ID }

// ExecutionLog is an append-only record of one executed ChecklistItem's
// effect; an item rejected post-hoc at execution gets no log.
type ExecutionLog struct {
	ID        string          `json:"id"`
	SectorID  string          `json:"sectorId"`
	Timestamp time.Time       `json:"timestamp"`
	Action    string          `json:"action"`
	Impact    float64         `json:"impact"` // percent of prev price
	ItemID    string          `json:"itemId,omitempty"`
	ManagerID string          `json:"managerId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// GetID satisfies store.Identifiable.
func (e ExecutionLog) GetID() string { return e.ID }

// SimulationRule is an operator-configured confidence adjustment kept
// in the simulation_rules collection and applied on top of the
// confidence engine's computed value each tick. An empty Role or
// SectorID matches every agent or sector respectively.
type SimulationRule struct {
	ID         string    `json:"id"`
	SectorID   string    `json:"sectorId,omitempty"`
	Role       AgentRole `json:"role,omitempty"`
	Adjustment float64   `json:"adjustment"` // added to confidence, post-smoothing
	Enabled    bool      `json:"enabled"`
	Reason     string    `json:"reason,omitempty"`
}

// GetID satisfies store.Identifiable.
func (r SimulationRule) GetID() string { return r.ID }

// UserAccount is the external wallet sector balances are drawn from
// and returned to on sector deletion.
type UserAccount struct {
	ID        string          `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// GetID satisfies store.Identifiable.
func (u UserAccount) GetID() string { return u.ID }

// PriceDelta is the output of one PriceModel.NewPrice call, persisted
// by the caller alongside portfolio deltas.
type PriceDelta struct {
	PreviousPrice decimal.Decimal
	NewPrice      decimal.Decimal
	Change        decimal.Decimal
	ChangePercent float64
}
