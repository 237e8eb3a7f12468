// Package oracle defines ProposalOracle (C4): the interface the core
// treats the language model (or any proposal source) as opaque behind.
// It also provides RuleOracle, a deterministic oracle used in tests and
// by cmd/server (whatever USE_LLM is set to), grounded in the teacher's pattern of
// keeping a rule-based path alongside any ML/LLM-backed one.
package oracle

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

// Proposal is the oracle's per-agent-per-round output.
type Proposal struct {
	Reasoning    string
	ProposalText string
	Confidence   float64 // 0..1
}

// RevisionContext carries an agent's previously rejected items and
// their ScoreRecords, supplied when the agent is responding to a
// rejection within the same discussion.
type RevisionContext struct {
	RejectedItems []types.ChecklistItem
	ScoreRecords  []types.ScoreRecord
}

// ProposalOracle produces one Proposal per agent per round. Contract:
// if agent.Confidence < types.ConfidenceGate, the oracle MUST return an
// observation-only message (Confidence = agent.Confidence/100) and the
// caller MUST NOT synthesize a checklist item from it.
type ProposalOracle interface {
	Propose(ctx context.Context, agent types.Agent, sector types.Sector, priorMessagesInRound []types.Message, revision *RevisionContext) (Proposal, error)
}

// RuleOracle is a deterministic, LLM-free ProposalOracle: it proposes
// BUY when sector.TrendFactor > 0, SELL when < 0, and HOLD on dead
// center, naming no amount and reporting the agent's own confidence
// (as a 0..1 fraction) as the proposal's confidence.
// It satisfies the C4 contract's observation-only clause explicitly.
type RuleOracle struct{}

func NewRuleOracle() *RuleOracle { return &RuleOracle{} }

func (o *RuleOracle) Propose(_ context.Context, agent types.Agent, sector types.Sector, _ []types.Message, revision *RevisionContext) (Proposal, error) {
	if agent.Confidence < types.ConfidenceGate {
		return Proposal{
			Reasoning:    "confidence below gate; observing only",
			ProposalText: "OBSERVE",
			Confidence:   agent.Confidence / 100,
		}, nil
	}

	action := "HOLD"
	switch {
	case sector.TrendFactor > 0:
		action = "BUY"
	case sector.TrendFactor < 0:
		action = "SELL"
	}

	reasoning := fmt.Sprintf("rule-based proposal from %s: trendFactor=%.3f, confidence=%.1f", agent.Role, sector.TrendFactor, agent.Confidence)
	if revision != nil && len(revision.RejectedItems) > 0 {
		reasoning += fmt.Sprintf("; revising after %d prior rejection(s)", len(revision.RejectedItems))
	}

	return Proposal{
		Reasoning:    reasoning,
		ProposalText: fmt.Sprintf("%s %s", action, sector.Symbol),
		Confidence:   agent.Confidence / 100,
	}, nil
}
