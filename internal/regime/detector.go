// Package regime adapts the teacher's HMM-based regime detector into a
// light recalibrator for a sector's simulated TrendFactor/Volatility
// pair (S5) and the simulated MarketFeed ConfidenceEngine reads each
// tick. It keeps the teacher's core idea — classify recent returns
// into a regime and derive trend/volatility from it — while dropping
// the full hidden-Markov state machine, which has no SPEC_FULL.md
// component to attach to (see DESIGN.md).
package regime

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/confidence"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

// Regime is a coarse classification of a sector's recent returns.
type Regime string

const (
	RegimeBull    Regime = "bull"
	RegimeBear    Regime = "bear"
	RegimeHighVol Regime = "high_vol"
	RegimeFlat    Regime = "flat"
)

// Config controls the recalibrator's lookback window and thresholds.
type Config struct {
	WindowSize     int     // number of recent closes retained per sector
	VolThreshold   float64 // stdev-of-returns threshold for RegimeHighVol
	TrendThreshold float64 // |mean return| threshold for RegimeBull/Bear
}

// DefaultConfig mirrors the teacher's DefaultRegimeConfig, trimmed to
// the knobs this recalibrator actually uses.
func DefaultConfig() Config {
	return Config{
		WindowSize:     20,
		VolThreshold:   0.02,
		TrendThreshold: 0.002,
	}
}

// Recalibrator tracks one price window per sector and derives both a
// Regime classification and the TrendFactor/Volatility pair that feeds
// back into PriceModel and ConfidenceEngine, closing the loop the
// teacher's RegimeDetector->Strategy pipeline modeled, now scoped to
// the engine's own simulated price series instead of live market data.
type Recalibrator struct {
	cfg Config

	mu      sync.Mutex
	history map[string][]float64 // sectorId -> recent closes
}

func New(cfg Config) *Recalibrator {
	return &Recalibrator{cfg: cfg, history: make(map[string][]float64)}
}

// Observe records sector's current price, evicting the oldest close
// once the window is full.
func (r *Recalibrator) Observe(sector types.Sector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	closes := r.history[sector.ID]
	closes = append(closes, sector.CurrentPrice.InexactFloat64())
	if len(closes) > r.cfg.WindowSize {
		closes = closes[len(closes)-r.cfg.WindowSize:]
	}
	r.history[sector.ID] = closes
}

// Recalibrate returns the regime classification and the trendFactor/
// volatility pair a sector's next tick should carry, given everything
// observed for it so far. Safe to call with fewer than two
// observations; it returns RegimeFlat and the sector's current values
// unchanged until enough history accumulates.
func (r *Recalibrator) Recalibrate(sector types.Sector) (Regime, float64, float64) {
	r.mu.Lock()
	closes := append([]float64{}, r.history[sector.ID]...)
	r.mu.Unlock()

	if len(closes) < 2 {
		return RegimeFlat, sector.TrendFactor, sector.Volatility
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) == 0 {
		return RegimeFlat, sector.TrendFactor, sector.Volatility
	}

	mean := meanOf(returns)
	vol := stdDevOf(returns, mean)

	trendFactor := clamp(mean*100, -1, 1)
	volatility := clamp(vol*10, 0, 1)

	regime := RegimeFlat
	switch {
	case vol >= r.cfg.VolThreshold:
		regime = RegimeHighVol
	case mean >= r.cfg.TrendThreshold:
		regime = RegimeBull
	case mean <= -r.cfg.TrendThreshold:
		regime = RegimeBear
	}

	return regime, trendFactor, volatility
}

// Signal implements ticker.MarketFeed: it derives a ConfidenceEngine
// MarketSignal from the same observed window, using position as a
// volume proxy (spec.md §1 treats real volume/market data as an
// external, opaque source the core never depends on being "real").
func (r *Recalibrator) Signal(sector types.Sector) confidence.MarketSignal {
	r.mu.Lock()
	closes := append([]float64{}, r.history[sector.ID]...)
	r.mu.Unlock()

	signal := confidence.MarketSignal{
		ChangePercent: sector.ChangePercent,
		Volume:        sector.Position.Add(decimal.NewFromInt(1)),
	}
	for i := len(closes) - 1; i > 0 && len(signal.RecentCandleChanges) < 5; i-- {
		if closes[i-1] == 0 {
			continue
		}
		change := (closes[i] - closes[i-1]) / closes[i-1] * 100
		signal.RecentCandleChanges = append(signal.RecentCandleChanges, change)
	}
	return signal
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sumSquares := 0.0
	for _, v := range values {
		d := v - mean
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
