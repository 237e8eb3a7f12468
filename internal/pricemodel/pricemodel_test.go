package pricemodel

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

func TestImpactForMatchesContractConstants(t *testing.T) {
	m := New(types.DefaultPriceModelConfig())

	cases := []struct {
		action types.ActionType
		want   float64
	}{
		{types.ActionBuy, 0.002},
		{types.ActionSell, -0.002},
		{types.ActionHold, 0.0001},
		{types.ActionRebalance, 0.0005},
	}
	for _, c := range cases {
		if got := m.ImpactFor(c.action); got != c.want {
			t.Errorf("ImpactFor(%s) = %v, want %v", c.action, got, c.want)
		}
	}
}

// TestNewPriceZeroVolatilityIsDeterministic pins volatility at zero so
// the noise term vanishes, letting the BUY scenario from spec.md §8
// scenario 2 (balance=1000, currentPrice=100, BUY) be asserted exactly:
// currentPrice = 100 * (1 + 0.002 + 0) = 100.20.
func TestNewPriceZeroVolatilityIsDeterministic(t *testing.T) {
	m := NewWithSource(types.DefaultPriceModelConfig(), rand.NewSource(1))
	prev := decimal.NewFromInt(100)

	delta := m.NewPrice(prev, 0.002, 0, 0)

	want := decimal.NewFromFloat(100.20)
	if !delta.NewPrice.Round(2).Equal(want) {
		t.Errorf("NewPrice = %s, want %s", delta.NewPrice.Round(2), want)
	}
	if !delta.PreviousPrice.Equal(prev) {
		t.Errorf("PreviousPrice = %s, want %s", delta.PreviousPrice, prev)
	}
	if delta.ChangePercent <= 0 {
		t.Errorf("ChangePercent = %v, want > 0 for a BUY impact", delta.ChangePercent)
	}
}

func TestNewPriceNeverGoesBelowMinPrice(t *testing.T) {
	cfg := types.DefaultPriceModelConfig()
	m := NewWithSource(cfg, rand.NewSource(1))

	// A catastrophic negative impact should floor at MinPrice, not go
	// negative or to zero.
	delta := m.NewPrice(decimal.NewFromFloat(0.0002), -5.0, -1, 1)
	if delta.NewPrice.LessThan(decimal.NewFromFloat(cfg.MinPrice)) {
		t.Errorf("NewPrice = %s, want >= MinPrice %v", delta.NewPrice, cfg.MinPrice)
	}
	if !delta.NewPrice.IsPositive() {
		t.Errorf("NewPrice = %s, want > 0", delta.NewPrice)
	}
}

func TestNewPriceNoiseBoundedByVolatility(t *testing.T) {
	cfg := types.DefaultPriceModelConfig()
	m := NewWithSource(cfg, rand.NewSource(42))
	prev := decimal.NewFromInt(100)

	// With zero impact/trend, the only source of movement is noise,
	// bounded by volatility*sqrt(dt).
	volatility := 0.5
	amplitude := volatility * sqrt(cfg.DT)
	for i := 0; i < 200; i++ {
		delta := m.NewPrice(prev, 0, 0, volatility)
		factor := delta.NewPrice.Div(prev).InexactFloat64() - 1
		if factor < -amplitude-1e-9 || factor > amplitude+1e-9 {
			t.Fatalf("iteration %d: factor %v outside +-%v amplitude", i, factor, amplitude)
		}
	}
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 50; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}
