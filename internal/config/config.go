// Package config loads the pipeline's parameter bundle (spec §6) via
// viper and hot-reloads it via fsnotify, the way the teacher bot does
// for its trading parameters. Replay mode snapshots Get() once at
// startup and never calls Reload again, to keep a run deterministic;
// live mode may retune Detection/Absorption/Stabilization/Scoring
// thresholds without a restart.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the full parameter bundle from spec §6.
type Config struct {
	Detection     DetectionConfig     `mapstructure:"detection"`
	Absorption    AbsorptionConfig    `mapstructure:"absorption"`
	Stabilization StabilizationConfig `mapstructure:"stabilization"`
	Scoring       ScoringConfig       `mapstructure:"scoring"`
	Execution     ExecutionConfig     `mapstructure:"execution"`
	Capital       CapitalConfig       `mapstructure:"capital"`
	Replay        ReplayConfig        `mapstructure:"replay"`
	ChainFeed     ChainFeedConfig     `mapstructure:"chain_feed"`
	Storage       StorageConfig       `mapstructure:"storage"`
	SignalServer  SignalServerConfig  `mapstructure:"signal_server"`
	TUI           TUIConfig           `mapstructure:"tui"`
}

// DetectionConfig parameterizes the Large-Sell Detector (C).
type DetectionConfig struct {
	MinSellFraction          float64 `mapstructure:"min_sell_fraction"`
	MaxSellFraction          float64 `mapstructure:"max_sell_fraction"`
	AbsorptionWindowSlots    uint64  `mapstructure:"absorption_window_slots"`
	MaxResponseLatencySlots  uint64  `mapstructure:"max_response_latency_slots"`
	PreEventPriceLookbackSec int     `mapstructure:"pre_event_price_lookback_seconds"`
}

// AbsorptionConfig parameterizes the Absorption Analyzer (D).
type AbsorptionConfig struct {
	MinAbsorption float64 `mapstructure:"min_absorption"`
	MaxAbsorption float64 `mapstructure:"max_absorption"`
}

// StabilizationConfig parameterizes the Stabilization Validator (E).
type StabilizationConfig struct {
	StabilizationWindowSlots uint64  `mapstructure:"stabilization_window_slots"`
	MaxPriceDropPct          float64 `mapstructure:"max_price_drop_pct"`
	MinContractionPct        float64 `mapstructure:"min_contraction_pct"`
	NewLowTolerance          float64 `mapstructure:"new_low_tolerance"`
}

// ScoringConfig parameterizes the Wallet Scorer (F).
type ScoringConfig struct {
	MinEvents            int     `mapstructure:"min_events"`
	MinTokens            int     `mapstructure:"min_tokens"`
	MinStabilizationRate float64 `mapstructure:"min_stabilization_rate"`
	MinConfidence        float64 `mapstructure:"min_confidence"`
	MaxTrackedWallets    int     `mapstructure:"max_tracked_wallets"`
	MaxEvidencePerWallet int     `mapstructure:"max_evidence_per_wallet"`
	DecayDays            float64 `mapstructure:"decay_days"`
	DecayStep            float64 `mapstructure:"decay_step"`
	DecayPeriod          time.Duration `mapstructure:"decay_period"`
}

// SlippageModel names the fill simulator's slippage computation (§4.H).
type SlippageModel string

const (
	SlippageNone     SlippageModel = "none"
	SlippageConstant SlippageModel = "constant"
	SlippageReserves SlippageModel = "reserves"
)

// ExecutionMode names one of the three sandbox presets (§6).
type ExecutionMode string

const (
	ExecutionIdealized ExecutionMode = "idealized"
	ExecutionRealistic ExecutionMode = "realistic"
	ExecutionStress    ExecutionMode = "stress"
)

// ExecutionConfig parameterizes the Fill Simulator (H).
type ExecutionConfig struct {
	Mode            ExecutionMode `mapstructure:"mode"`
	LatencySlots    uint64        `mapstructure:"latency_slots"`
	SlippageModel   SlippageModel `mapstructure:"slippage_model"`
	SlippageBps     float64       `mapstructure:"slippage_bps"`
	QuoteStaleProb  float64       `mapstructure:"quote_stale_prob"`
	RouteFailProb   float64       `mapstructure:"route_fail_prob"`
	PartialFillProb float64       `mapstructure:"partial_fill_prob"`
	PartialFillRatio float64      `mapstructure:"partial_fill_ratio"`
	LPFeeBps        float64       `mapstructure:"lp_fee_bps"`
	PriorityFee     float64       `mapstructure:"priority_fee"`
}

// CapitalConfig parameterizes the Virtual Portfolio (I).
type CapitalConfig struct {
	StartingCapitalBase float64 `mapstructure:"starting_capital_base"`
	MaxPositionSizeBase float64 `mapstructure:"max_position_size_base"`
	MaxConcurrentPositions int  `mapstructure:"max_concurrent_positions"`
	RiskPerTradePct     float64 `mapstructure:"risk_per_trade_pct"`
}

// ReplaySpeed names one of the four replay pacing modes (§4.J).
type ReplaySpeed string

const (
	Speed1x   ReplaySpeed = "1x"
	Speed10x  ReplaySpeed = "10x"
	Speed100x ReplaySpeed = "100x"
	SpeedMax  ReplaySpeed = "max"
)

// ReplayConfig parameterizes the Replay Driver (J).
type ReplayConfig struct {
	DatasetPath string      `mapstructure:"dataset_path"`
	StartSlot   *uint64     `mapstructure:"start_slot"`
	EndSlot     *uint64     `mapstructure:"end_slot"`
	Speed       ReplaySpeed `mapstructure:"speed"`
	OutputDir   string      `mapstructure:"output_dir"`
	Seed        uint32      `mapstructure:"seed"`
}

// ChainFeedConfig holds endpoints for the external chain-client and
// market-data oracle collaborators (§6). Live mode only.
type ChainFeedConfig struct {
	WSURL             string        `mapstructure:"ws_url"`
	RPCURL            string        `mapstructure:"rpc_url"`
	FallbackRPCURL    string        `mapstructure:"fallback_rpc_url"`
	OracleURL         string        `mapstructure:"oracle_url"`
	ReconnectDelayMs  int           `mapstructure:"reconnect_delay_ms"`
	ProgramIDs        []string      `mapstructure:"program_ids"`
}

// StorageConfig holds the wallet-scorer checkpoint database location
// (AMBIENT — not the report artifacts, which are files per §6).
type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// SignalServerConfig holds the live-mode HTTP publish surface (AMBIENT).
type SignalServerConfig struct {
	ListenHost        string `mapstructure:"listen_host"`
	ListenPort        int    `mapstructure:"listen_port"`
	SignalsBufferSize int    `mapstructure:"signals_buffer_size"`
}

// TUIConfig holds live-dashboard refresh parameters (AMBIENT).
type TUIConfig struct {
	RefreshRateMs int `mapstructure:"refresh_rate_ms"`
	LogLines      int `mapstructure:"log_lines"`
}

// Manager handles config loading, validation, and hot-reload.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
	watchingDisabled bool
}

// NewManager loads configPath and validates it. Out-of-range fractions
// and unrecognized enum values fail fast per §7's configuration-error
// taxonomy.
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Manager{config: &cfg, viper: v}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("detection.min_sell_fraction", 0.01)
	v.SetDefault("detection.max_sell_fraction", 0.15)
	v.SetDefault("detection.absorption_window_slots", 150)
	v.SetDefault("detection.max_response_latency_slots", 100)
	v.SetDefault("detection.pre_event_price_lookback_seconds", 30)

	v.SetDefault("absorption.min_absorption", 0.1)
	v.SetDefault("absorption.max_absorption", 1.0)

	v.SetDefault("stabilization.stabilization_window_slots", 400)
	v.SetDefault("stabilization.max_price_drop_pct", 10.0)
	v.SetDefault("stabilization.min_contraction_pct", 20.0)
	v.SetDefault("stabilization.new_low_tolerance", 0.05)

	v.SetDefault("scoring.min_events", 3)
	v.SetDefault("scoring.min_tokens", 2)
	v.SetDefault("scoring.min_stabilization_rate", 0.6)
	v.SetDefault("scoring.min_confidence", 50.0)
	v.SetDefault("scoring.max_tracked_wallets", 10000)
	v.SetDefault("scoring.max_evidence_per_wallet", 50)
	v.SetDefault("scoring.decay_days", 14.0)
	v.SetDefault("scoring.decay_step", 10.0)
	v.SetDefault("scoring.decay_period", "24h")

	v.SetDefault("execution.mode", "realistic")
	v.SetDefault("execution.latency_slots", 2)
	v.SetDefault("execution.slippage_model", "reserves")
	v.SetDefault("execution.slippage_bps", 50.0)
	v.SetDefault("execution.quote_stale_prob", 0.02)
	v.SetDefault("execution.route_fail_prob", 0.03)
	v.SetDefault("execution.partial_fill_prob", 0.05)
	v.SetDefault("execution.partial_fill_ratio", 0.5)
	v.SetDefault("execution.lp_fee_bps", 25.0)
	v.SetDefault("execution.priority_fee", 0.0001)

	v.SetDefault("capital.starting_capital_base", 100.0)
	v.SetDefault("capital.max_position_size_base", 5.0)
	v.SetDefault("capital.max_concurrent_positions", 10)
	v.SetDefault("capital.risk_per_trade_pct", 2.0)

	v.SetDefault("replay.speed", "max")
	v.SetDefault("replay.output_dir", "./data/reports")
	v.SetDefault("replay.seed", 12345)

	v.SetDefault("chain_feed.reconnect_delay_ms", 1000)

	v.SetDefault("storage.sqlite_path", "./data/scorer.db")

	v.SetDefault("signal_server.listen_host", "0.0.0.0")
	v.SetDefault("signal_server.listen_port", 8787)
	v.SetDefault("signal_server.signals_buffer_size", 100)

	v.SetDefault("tui.refresh_rate_ms", 250)
	v.SetDefault("tui.log_lines", 200)
}

func validate(cfg *Config) error {
	d := cfg.Detection
	if d.MinSellFraction < 0 || d.MinSellFraction > 1 {
		return fmt.Errorf("detection.min_sell_fraction out of [0,1]: %v", d.MinSellFraction)
	}
	if d.MaxSellFraction < d.MinSellFraction || d.MaxSellFraction > 1 {
		return fmt.Errorf("detection.max_sell_fraction out of range: %v", d.MaxSellFraction)
	}
	a := cfg.Absorption
	if a.MinAbsorption < 0 || a.MaxAbsorption > 1 || a.MaxAbsorption < a.MinAbsorption {
		return fmt.Errorf("absorption fraction bounds invalid: [%v,%v]", a.MinAbsorption, a.MaxAbsorption)
	}
	s := cfg.Scoring
	if s.DecayDays <= 0 {
		return fmt.Errorf("scoring.decay_days must be positive")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 100 {
		return fmt.Errorf("scoring.min_confidence out of [0,100]")
	}
	switch cfg.Execution.SlippageModel {
	case SlippageNone, SlippageConstant, SlippageReserves:
	default:
		return fmt.Errorf("execution.slippage_model unrecognized: %q", cfg.Execution.SlippageModel)
	}
	switch cfg.Replay.Speed {
	case Speed1x, Speed10x, Speed100x, SpeedMax:
	default:
		return fmt.Errorf("replay.speed unrecognized: %q", cfg.Replay.Speed)
	}
	return nil
}

// Get returns the current config (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetScoring returns the scoring config (most frequently re-read by the
// decay task).
func (m *Manager) GetScoring() ScoringConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Scoring
}

// SetOnChange registers a callback invoked after a successful reload.
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// DisableWatch stops reacting to file-system reloads. The Replay Driver
// calls this once at startup so a run stays deterministic even if the
// config file is edited mid-run (§5 determinism rules).
func (m *Manager) DisableWatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchingDisabled = true
}

// Update applies fn to a copy of the config, validates the copy, and only
// then installs it and writes it back through viper, mirroring the
// teacher's live-reload of trading parameters.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *m.config
	fn(&next)
	if err := validate(&next); err != nil {
		return err
	}
	m.config = &next

	m.viper.Set("detection.min_sell_fraction", m.config.Detection.MinSellFraction)
	m.viper.Set("detection.max_sell_fraction", m.config.Detection.MaxSellFraction)
	m.viper.Set("absorption.min_absorption", m.config.Absorption.MinAbsorption)
	m.viper.Set("absorption.max_absorption", m.config.Absorption.MaxAbsorption)
	m.viper.Set("scoring.min_confidence", m.config.Scoring.MinConfidence)
	m.viper.Set("scoring.decay_step", m.config.Scoring.DecayStep)

	if err := m.viper.WriteConfig(); err != nil {
		return err
	}

	if m.onChange != nil {
		m.onChange(m.config)
	}
	return nil
}

func (m *Manager) reload() {
	m.mu.Lock()
	if m.watchingDisabled {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}
	if err := validate(&cfg); err != nil {
		log.Error().Err(err).Msg("reloaded config failed validation, keeping previous")
		return
	}

	m.mu.Lock()
	m.config = &cfg
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(&cfg)
	}
}

// MustEnv reads a required environment variable, failing fast (§7
// configuration errors) if it is unset.
func MustEnv(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is not set", name)
	}
	return v, nil
}
