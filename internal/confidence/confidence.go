// Package confidence implements ConfidenceEngine (C3): deterministic
// agent confidence derived from role, simulated market signals,
// personality, performance, and morale.
package confidence

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/utils"
)

// roleBase is the per-role starting confidence, spec.md §4.3.
var roleBase = map[types.AgentRole]float64{
	types.RoleManager:    20,
	types.RoleResearcher: 30,
	types.RoleAnalyst:    30,
	types.RoleTrader:     15,
	types.RoleExecution:  10,
	types.RoleRisk:       5,
	types.RoleAdvisor:    25,
	types.RoleGeneral:    10,
}

// MarketSignal carries the simulated market inputs ConfidenceEngine
// reads for one sector at update time.
type MarketSignal struct {
	ChangePercent      float64
	Volume             decimal.Decimal
	RecentCandleChanges []float64 // most recent first, up to 5 used
}

// Engine is stateless; all state lives on the Agent/Sector passed in.
type Engine struct{}

func New() *Engine { return &Engine{} }

// Update computes the agent's new confidence given its own prior
// confidence, the sector it belongs to, and the current market signal.
func (e *Engine) Update(agent types.Agent, sector types.Sector, signal MarketSignal) float64 {
	raw := roleBase[agent.Role]

	raw += e.marketInfluence(sector, signal)
	raw += e.performanceInfluence(agent.Performance)
	raw += e.personalityInfluence(agent.Personality, sector.Volatility)
	raw += (float64(agent.Morale) - 50) * 0.4

	smoothed := agent.Confidence*0.7 + raw*0.3
	return utils.ClampFloat(smoothed, -100, 100)
}

func (e *Engine) marketInfluence(sector types.Sector, signal MarketSignal) float64 {
	volumeTerm := utils.ClampFloat(log10(signal.Volume.InexactFloat64()+1)*2, 0, 10)
	riskTerm := (50 - float64(sector.RiskScore)) * 0.4
	avgCandle := avgOf(signal.RecentCandleChanges, 5)

	return 2*signal.ChangePercent +
		volumeTerm -
		500*sector.Volatility +
		riskTerm +
		5*avgCandle
}

func (e *Engine) performanceInfluence(p types.Performance) float64 {
	winRateTerm := (p.WinRate - 0.5) * 60
	pnlTerm := utils.ClampFloat(p.PnL.InexactFloat64()/1000, -20, 20)
	tradesTerm := math.Min(5, log10(float64(p.TotalTrades)+1))
	return winRateTerm + pnlTerm + tradesTerm
}

// personalityInfluence adds +-5..10 from riskTolerance/decisionStyle,
// with an additional +-5/-10 shift when volatility exceeds 0.03: risk
// seekers are penalized more (-10) for holding ground in high vol,
// cautious agents gain (+5) for the same.
func (e *Engine) personalityInfluence(p types.Personality, volatility float64) float64 {
	base := (p.RiskTolerance-0.5)*20*0.5 + p.DecisionStyle*5 // scales RiskTolerance(0..1) and DecisionStyle(-1..1) into +-5..10

	if volatility > 0.03 {
		if p.RiskTolerance > 0.5 {
			base -= 10
		} else {
			base += 5
		}
	}
	return base
}

// ApplyRules layers operator-configured simulation rules on top of a
// computed confidence value, keeping the result clamped. Disabled
// rules and rules scoped to another sector or role are skipped.
func ApplyRules(value float64, agent types.Agent, rules []types.SimulationRule) float64 {
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if r.SectorID != "" && r.SectorID != agent.SectorID {
			continue
		}
		if r.Role != "" && r.Role != agent.Role {
			continue
		}
		value += r.Adjustment
	}
	return utils.ClampFloat(value, -100, 100)
}

// Gate reports whether sector is discussion-ready: every non-manager
// agent meets the confidence gate, no active discussion exists, and
// the sector is not in cooldown. hasActiveDiscussion and inCooldown
// are supplied by the caller (the ticker), which owns discussion lookup.
func Gate(nonManagerAgents []types.Agent, hasActiveDiscussion bool, inCooldown bool) bool {
	if hasActiveDiscussion || inCooldown {
		return false
	}
	if len(nonManagerAgents) == 0 {
		return false
	}
	for _, a := range nonManagerAgents {
		if a.Confidence < types.ConfidenceGate {
			return false
		}
	}
	return true
}

// ManagerConfidence returns the average of non-manager confidences,
// the derived value for the sector's manager agent (not itself part
// of the gate).
func ManagerConfidence(nonManagerAgents []types.Agent) float64 {
	if len(nonManagerAgents) == 0 {
		return 0
	}
	sum := 0.0
	for _, a := range nonManagerAgents {
		sum += a.Confidence
	}
	return sum / float64(len(nonManagerAgents))
}

func avgOf(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < n {
		n = len(values)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += values[i]
	}
	return sum / float64(n)
}

func log10(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Log10(v)
}
