// Package sizing adapts the teacher's Kelly/volatility position sizer
// into a single-purpose helper for ChecklistSynthesizer's fallback
// path (spec.md §4.5): turning an agent's confidence and a sector's
// available balance into a concrete BUY/SELL amount and
// allocationPercent when the oracle gives no explicit number.
package sizing

import (
	"math"

	"github.com/shopspring/decimal"
)

// Config mirrors the teacher's SizingConfig, trimmed to the knobs this
// engine actually uses.
type Config struct {
	MaxPositionPct float64 // cap, fraction of available balance
	MinPositionPct float64 // floor, fraction of available balance
	KellyFraction  float64 // fraction of full Kelly to use
}

// DefaultConfig returns conservative defaults, matching the teacher's
// DefaultSizingConfig's quarter-Kelly choice.
func DefaultConfig() Config {
	return Config{
		MaxPositionPct: 0.25,
		MinPositionPct: 0.01,
		KellyFraction:  0.25,
	}
}

// Sizer computes a position size from confidence, win rate, and
// sector volatility.
type Sizer struct {
	cfg Config
}

func New(cfg Config) *Sizer { return &Sizer{cfg: cfg} }

// Calculate returns (amount, allocationPercent) for a BUY/SELL
// proposal given the agent's oracle confidence (0..1), its historical
// win rate (0..1), sector volatility (0..1), and the sector's
// available balance.
func (s *Sizer) Calculate(confidence, winRate, volatility float64, availableBalance decimal.Decimal) (decimal.Decimal, float64) {
	kelly := kellyFraction(winRate)
	positionPct := kelly * s.cfg.KellyFraction * confidence

	// Volatility targeting: scale down the position as volatility rises.
	if volatility > 0 {
		positionPct *= clamp(0.02/volatility, 0.1, 2.0)
	}

	positionPct = clamp(positionPct, s.cfg.MinPositionPct, s.cfg.MaxPositionPct)

	amount := availableBalance.Mul(decimal.NewFromFloat(positionPct))
	return amount, positionPct * 100
}

// kellyFraction implements f* = p - q/b with a fixed 2:1 assumed
// win/loss ratio (b = 2); no measured win/loss ratio is used.
func kellyFraction(winRate float64) float64 {
	if winRate <= 0 || winRate >= 1 {
		return 0.1
	}
	p := winRate
	q := 1 - p
	b := 2.0
	kelly := p - q/b
	if kelly < 0 {
		return 0
	}
	if kelly > 1 {
		return 1
	}
	return kelly
}

func clamp(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}
