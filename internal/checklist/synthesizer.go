// Package checklist implements ChecklistSynthesizer (C5): collapsing a
// round's messages into executable ChecklistItems.
package checklist

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/sizing"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

const fallbackInsightMarker = "[earlier round]"

// Synthesizer turns a discussion's messages into a checklist.
type Synthesizer struct {
	sizer *sizing.Sizer
}

func New(sizer *sizing.Sizer) *Synthesizer {
	return &Synthesizer{sizer: sizer}
}

// AgentContext supplies per-agent facts the synthesizer needs beyond
// what's on a Message (the agent's win rate, used for sizing).
type AgentContext struct {
	AgentID string
	WinRate float64
}

// Synthesize builds the checklist for the final round. messagesByRound
// holds every round's messages (index 0 = round 1), used to append
// earlier-round insight markers in the fallback path. Only the final
// round's messages produce items.
func (s *Synthesizer) Synthesize(sector types.Sector, messagesByRound [][]types.Message, agentCtx map[string]AgentContext, now time.Time) []types.ChecklistItem {
	if len(messagesByRound) == 0 {
		return nil
	}
	finalRound := len(messagesByRound)
	finalMessages := messagesByRound[finalRound-1]

	var items []types.ChecklistItem
	for _, msg := range finalMessages {
		if msg.Confidence*100 < types.ConfidenceGate {
			// Observation-only message per the ProposalOracle contract
			// (spec.md §4.4): never synthesized into an item.
			continue
		}

		action, symbol := parseProposal(msg.Proposal, sector.Symbol)
		if !sector.AllowsSymbol(symbol) {
			continue
		}

		reasoning := msg.Reasoning
		reasoning = appendEarlierInsights(reasoning, msg.AgentID, messagesByRound[:finalRound-1])

		ctx := agentCtx[msg.AgentID]
		amount, allocationPercent := s.amountFor(action, msg.Confidence, ctx.WinRate, sector)

		item := types.ChecklistItem{
			ID:                uuid.NewString(),
			SourceAgentID:     msg.AgentID,
			Round:             finalRound,
			ActionType:        action,
			Symbol:            symbol,
			Amount:            amount,
			AllocationPercent: allocationPercent,
			Confidence:        msg.Confidence * 100,
			Reasoning:         reasoning,
			Status:            types.ItemPending,
			RevisionCount:     0,
			PreviousVersions:  nil,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		items = append(items, item)
	}

	return consolidateByAction(items)
}

func (s *Synthesizer) amountFor(action types.ActionType, confidence, winRate float64, sector types.Sector) (decimal.Decimal, float64) {
	if action == types.ActionHold {
		return decimal.Zero, 0
	}
	available := sector.Balance
	if action == types.ActionSell {
		available = sector.Position
	}
	amount, allocationPercent := s.sizer.Calculate(confidence, winRate, sector.Volatility, available)
	if amount.GreaterThan(available) {
		amount = available
	}
	return amount, allocationPercent
}

// consolidateByAction sums amounts and averages confidence for items
// sharing the same actionType+symbol, the fallback-path consolidation
// rule from spec.md §4.5.
func consolidateByAction(items []types.ChecklistItem) []types.ChecklistItem {
	type key struct {
		action types.ActionType
		symbol string
	}
	order := make([]key, 0, len(items))
	groups := make(map[key][]types.ChecklistItem)

	for _, item := range items {
		k := key{item.ActionType, item.Symbol}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], item)
	}

	consolidated := make([]types.ChecklistItem, 0, len(order))
	for _, k := range order {
		group := groups[k]
		if len(group) == 1 {
			consolidated = append(consolidated, group[0])
			continue
		}
		merged := group[0]
		sumAmount := decimal.Zero
		sumConfidence := 0.0
		sumAlloc := 0.0
		var reasons []string
		for _, g := range group {
			sumAmount = sumAmount.Add(g.Amount)
			sumConfidence += g.Confidence
			sumAlloc += g.AllocationPercent
			reasons = append(reasons, g.Reasoning)
		}
		merged.Amount = sumAmount
		merged.Confidence = sumConfidence / float64(len(group))
		merged.AllocationPercent = sumAlloc / float64(len(group))
		merged.Reasoning = strings.Join(reasons, " | ")
		merged.SourceAgentID = "consensus"
		consolidated = append(consolidated, merged)
	}
	return consolidated
}

func appendEarlierInsights(reasoning, agentID string, earlierRounds [][]types.Message) string {
	var insights []string
	for _, round := range earlierRounds {
		for _, msg := range round {
			if msg.AgentID == agentID {
				insights = append(insights, msg.Reasoning)
			}
		}
	}
	if len(insights) == 0 {
		return reasoning
	}
	return fmt.Sprintf("%s %s %s", reasoning, fallbackInsightMarker, strings.Join(insights, "; "))
}

// parseProposal extracts "ACTION SYMBOL" out of an oracle's free-form
// ProposalText, falling back to HOLD/sector symbol when unparseable.
func parseProposal(proposal, sectorSymbol string) (types.ActionType, string) {
	fields := strings.Fields(strings.ToUpper(proposal))
	if len(fields) == 0 {
		return types.ActionHold, sectorSymbol
	}
	action := types.ActionType(fields[0])
	switch action {
	case types.ActionBuy, types.ActionSell, types.ActionHold, types.ActionRebalance:
	default:
		return types.ActionHold, sectorSymbol
	}
	symbol := sectorSymbol
	if len(fields) > 1 {
		symbol = fields[1]
	}
	return action, symbol
}
