// Package pricemodel implements the PriceModel (C1): a deterministic,
// side-effect-free price update from executed-action impact, sector
// trend, and bounded noise.
package pricemodel

import (
	"math"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/utils"
)

// Model is pure from its callers' point of view: it holds only its
// configured constants and a noise source. Callers persist the
// returned delta alongside portfolio changes; Model never touches
// storage. One Model is shared across every sector's ticker (spec.md
// §5: cross-sector tasks run in parallel), so access to the
// non-thread-safe rand.Rand is serialized by mu.
type Model struct {
	cfg  types.PriceModelConfig
	mu   sync.Mutex
	rand *rand.Rand
}

// New constructs a Model from engine config. Its noise source is seeded
// with the fixed seed 1, so the noise sequence is the same on every
// run; NewWithSource takes a caller-supplied source instead.
func New(cfg types.PriceModelConfig) *Model {
	return &Model{cfg: cfg, rand: rand.New(rand.NewSource(1))}
}

// NewWithSource builds a Model using the given random source, letting
// tests pin the noise term for exact assertions.
func NewWithSource(cfg types.PriceModelConfig, src rand.Source) *Model {
	return &Model{cfg: cfg, rand: rand.New(src)}
}

// ImpactFor returns the manager-impact constant for an executed action,
// the exact contract constants from spec.md §4.1.
func (m *Model) ImpactFor(action types.ActionType) float64 {
	switch action {
	case types.ActionBuy:
		return m.cfg.ImpactBuy
	case types.ActionSell:
		return m.cfg.ImpactSell
	case types.ActionHold:
		return m.cfg.ImpactHold
	case types.ActionRebalance:
		return m.cfg.ImpactRebalance
	default:
		return 0
	}
}

// NewPrice computes newPrice = max(epsilon, prev * (1 + managerImpact +
// trendFactor*dt + noise)), noise drawn from a zero-mean uniform
// distribution with amplitude volatility*sqrt(dt).
func (m *Model) NewPrice(prev decimal.Decimal, managerImpact, trendFactor, volatility float64) types.PriceDelta {
	prevF := prev.InexactFloat64()
	amplitude := volatility * math.Sqrt(m.cfg.DT)
	m.mu.Lock()
	noise := (m.rand.Float64()*2 - 1) * amplitude // uniform in [-amplitude, amplitude], zero mean
	m.mu.Unlock()

	factor := 1 + managerImpact + trendFactor*m.cfg.DT + noise
	next := prevF * factor
	if next < m.cfg.MinPrice {
		next = m.cfg.MinPrice
	}

	newPrice := decimal.NewFromFloat(next)
	change := newPrice.Sub(prev)
	changePercent := utils.CalculatePercentageChange(prev, newPrice)

	return types.PriceDelta{
		PreviousPrice: prev,
		NewPrice:      newPrice,
		Change:        change,
		ChangePercent: changePercent,
	}
}
