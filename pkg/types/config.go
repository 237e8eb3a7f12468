// Package types also carries the engine's configuration surface: a
// static struct tree, populated once at startup, never read from the
// environment by core packages.
package types

import "time"

// Bounded constants from the external contract. These are the
// defaults; EngineConfig may override them from env/file at startup.
const (
	MaxAgentsPerSector  = 12
	MaxTotalAgents      = 100
	MaxSectors          = 6
	ConfidenceGate      = 65.0
	ApprovalThreshold   = 65.0
	MaxRevisions        = 2
	MaxRounds           = 2
	StallTimeoutS       = 30
	ItemPendingTimeoutS = 300
	ItemReviseTimeoutS  = 600
	ExecutionLogsRing   = 10000
	TickPeriodMS        = 1500
	WatchdogPeriodMS    = 10000
)

// TickerConfig controls SectorTicker (C9) cadence and per-tick bounds.
type TickerConfig struct {
	TickPeriod               time.Duration `json:"tickPeriod"`
	MaxExecutionDrainPerTick int           `json:"maxExecutionDrainPerTick"`
}

// DefaultTickerConfig returns the spec's documented defaults.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		TickPeriod:               TickPeriodMS * time.Millisecond,
		MaxExecutionDrainPerTick: 5,
	}
}

// WatchdogConfig controls Watchdog (C10) cadence and timeouts.
type WatchdogConfig struct {
	Period             time.Duration `json:"period"`
	StallTimeout       time.Duration `json:"stallTimeout"`
	ItemPendingTimeout time.Duration `json:"itemPendingTimeout"`
	ItemReviseTimeout  time.Duration `json:"itemReviseTimeout"`
}

// DefaultWatchdogConfig returns the spec's documented defaults.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		Period:             WatchdogPeriodMS * time.Millisecond,
		StallTimeout:       StallTimeoutS * time.Second,
		ItemPendingTimeout: ItemPendingTimeoutS * time.Second,
		ItemReviseTimeout:  ItemReviseTimeoutS * time.Second,
	}
}

// ScorerConfig controls ManagerScorer (C7) weights and policy flags.
type ScorerConfig struct {
	WeightWorkerConfidence float64 `json:"weightWorkerConfidence"` // w1
	WeightExpectedImpact   float64 `json:"weightExpectedImpact"`   // w2
	WeightRiskLevel        float64 `json:"weightRiskLevel"`        // w3
	WeightAlignment        float64 `json:"weightAlignment"`        // w4
	ApprovalThreshold      float64 `json:"approvalThreshold"`
	RejectionRefinement    bool    `json:"rejectionRefinement"`
}

// DefaultScorerConfig returns an open-question resolution: see
// DESIGN.md for why these weights were chosen (sum to 1, weighted
// toward worker confidence and expected impact, with risk level and
// alignment at 0.20 each).
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		WeightWorkerConfidence: 0.35,
		WeightExpectedImpact:   0.25,
		WeightRiskLevel:        0.20,
		WeightAlignment:        0.20,
		ApprovalThreshold:      ApprovalThreshold,
		RejectionRefinement:    true,
	}
}

// ExecutionConfig controls ExecutionEngine (C8) behavior.
type ExecutionConfig struct {
	ProposerReward int `json:"proposerReward"`
	SupportReward  int `json:"supportReward"`
	OpposeReward   int `json:"opposeReward"`
	ManagerReward  int `json:"managerReward"`
}

// DefaultExecutionConfig returns the spec's documented reward deltas.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		ProposerReward: 2,
		SupportReward:  1,
		OpposeReward:   -1,
		ManagerReward:  1,
	}
}

// PriceModelConfig controls PriceModel (C1) constants.
type PriceModelConfig struct {
	ImpactBuy       float64 `json:"impactBuy"`
	ImpactSell      float64 `json:"impactSell"`
	ImpactHold      float64 `json:"impactHold"`
	ImpactRebalance float64 `json:"impactRebalance"`
	DT              float64 `json:"dt"`       // trading-day fraction, 1/252
	MinPrice        float64 `json:"minPrice"` // epsilon floor
}

// DefaultPriceModelConfig returns the spec's documented constants.
func DefaultPriceModelConfig() PriceModelConfig {
	return PriceModelConfig{
		ImpactBuy:       0.002,
		ImpactSell:      -0.002,
		ImpactHold:      0.0001,
		ImpactRebalance: 0.0005,
		DT:              1.0 / 252.0,
		MinPrice:        0.0001,
	}
}

// ServerConfig controls the HTTP/WS API surface (S1, non-core).
type ServerConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
	EnableMetrics bool          `json:"enableMetrics"`
}

// DefaultServerConfig returns sane defaults for local development.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:          "0.0.0.0",
		Port:          8080,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		EnableMetrics: true,
	}
}

// StoreConfig controls the Storage facade (C12).
type StoreConfig struct {
	DataDir string `json:"dataDir"`
}

// DefaultStoreConfig returns sane defaults for local development.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{DataDir: "./data"}
}

// EngineConfig is the single static config struct every component is
// constructed from. Populated once at startup by internal/config.
type EngineConfig struct {
	Ticker             TickerConfig     `json:"ticker"`
	Watchdog           WatchdogConfig   `json:"watchdog"`
	Scorer             ScorerConfig     `json:"scorer"`
	Execution          ExecutionConfig  `json:"execution"`
	PriceModel         PriceModelConfig `json:"priceModel"`
	Server             ServerConfig     `json:"server"`
	Store              StoreConfig      `json:"store"`
	MaxAgentsPerSector int              `json:"maxAgentsPerSector"`
	MaxTotalAgents     int              `json:"maxTotalAgents"`
	MaxSectors         int              `json:"maxSectors"`
	ConfidenceGate     float64          `json:"confidenceGate"`
	MaxRevisions       int              `json:"maxRevisions"`
	MaxRounds          int              `json:"maxRounds"`
	ExecutionLogsRing  int              `json:"executionLogsRing"`
	UseLLM             bool             `json:"useLlm"`
	MaxRegistry        string           `json:"maxRegistry"` // mirror sink URL, empty disables
}

// DefaultEngineConfig assembles every sub-config's documented default.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Ticker:             DefaultTickerConfig(),
		Watchdog:           DefaultWatchdogConfig(),
		Scorer:             DefaultScorerConfig(),
		Execution:          DefaultExecutionConfig(),
		PriceModel:         DefaultPriceModelConfig(),
		Server:             DefaultServerConfig(),
		Store:              DefaultStoreConfig(),
		MaxAgentsPerSector: MaxAgentsPerSector,
		MaxTotalAgents:     MaxTotalAgents,
		MaxSectors:         MaxSectors,
		ConfidenceGate:     ConfidenceGate,
		MaxRevisions:       MaxRevisions,
		MaxRounds:          MaxRounds,
		ExecutionLogsRing:  ExecutionLogsRing,
		UseLLM:             false,
		MaxRegistry:        "",
	}
}
