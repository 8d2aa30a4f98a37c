package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marketpulse/convictionrun/internal/adapt"
	"github.com/marketpulse/convictionrun/internal/domain"
	"github.com/marketpulse/convictionrun/internal/lifecycle"
	"github.com/marketpulse/convictionrun/internal/score"
	"github.com/marketpulse/convictionrun/internal/sizing"
)

// Config is the full engine configuration. Every section validates at load
// time; out-of-range parameters are fatal then, never at scoring time.
type Config struct {
	Equity float64 `yaml:"equity"`

	Sizing     sizing.Config    `yaml:"sizing"`
	Lifecycle  lifecycle.Config `yaml:"lifecycle"`
	Adaptation adapt.Config     `yaml:"adaptation"`

	Tiers             score.TierThresholds `yaml:"tier_thresholds"`
	MinActionableTier int                  `yaml:"min_actionable_tier"`

	Position PositionDefaults `yaml:"position"`
	Gates    EntryGates       `yaml:"gates"`
	Fetch    FetchConfig      `yaml:"fetch"`
	Server   ServerConfig     `yaml:"server"`
	Postgres PostgresConfig   `yaml:"postgres"`
	Redis    RedisConfig      `yaml:"redis"`
	Stream   StreamConfig     `yaml:"stream"`
}

// PositionDefaults carry the exit-lifecycle percentages every new position
// is configured with.
type PositionDefaults struct {
	StopLossPct      float64 `yaml:"stop_loss_pct"`
	Target1Pct       float64 `yaml:"target1_pct"`
	Target2Pct       float64 `yaml:"target2_pct"`
	TrailingStopPct  float64 `yaml:"trailing_stop_pct"`
	ScaleOutFraction float64 `yaml:"scale_out_fraction"`
}

// EntryGates are the hard filters a ticker clears before any position opens.
type EntryGates struct {
	MinPrice          float64 `yaml:"min_price"`
	MinVolumeBaseline float64 `yaml:"min_volume_baseline"`
}

// FetchConfig bounds signal-source retrieval.
type FetchConfig struct {
	Workers        int           `yaml:"workers"`
	Retries        int           `yaml:"retries"`
	Timeout        time.Duration `yaml:"timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	RateBurst      int           `yaml:"rate_burst"`
	BreakerMaxFail uint32        `yaml:"breaker_max_failures"`
	BreakerCooloff time.Duration `yaml:"breaker_cooloff"`
}

// ServerConfig configures the HTTP interface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// PostgresConfig configures outcome and weight persistence.
type PostgresConfig struct {
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig configures the snapshot cache.
type RedisConfig struct {
	Addr string        `yaml:"addr"`
	DB   int           `yaml:"db"`
	TTL  time.Duration `yaml:"ttl"`
}

// StreamConfig configures the inbound tick feed.
type StreamConfig struct {
	URL string `yaml:"url"`
}

// Default returns a complete runnable configuration.
func Default() Config {
	return Config{
		Equity:            100000,
		Sizing:            sizing.DefaultConfig(),
		Lifecycle:         lifecycle.DefaultConfig(),
		Adaptation:        adapt.DefaultConfig(),
		Tiers:             score.DefaultTierThresholds(),
		MinActionableTier: int(domain.TierTwo),
		Position: PositionDefaults{
			StopLossPct:      0.08,
			Target1Pct:       0.10,
			Target2Pct:       0.25,
			TrailingStopPct:  0.08,
			ScaleOutFraction: 0.5,
		},
		Gates: EntryGates{
			MinPrice:          1.00,
			MinVolumeBaseline: 100000,
		},
		Fetch: FetchConfig{
			Workers:        8,
			Retries:        2,
			Timeout:        5 * time.Second,
			RatePerSecond:  10,
			RateBurst:      20,
			BreakerMaxFail: 5,
			BreakerCooloff: 30 * time.Second,
		},
		Server:   ServerConfig{Addr: ":8087"},
		Postgres: PostgresConfig{Timeout: 5 * time.Second},
		Redis:    RedisConfig{Addr: "localhost:6379", TTL: 5 * time.Minute},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section. Violations wrap
// domain.ErrInvalidConfiguration and are fatal at load time.
func (c Config) Validate() error {
	if c.Equity <= 0 {
		return fmt.Errorf("%w: equity %.2f must be positive", domain.ErrInvalidConfiguration, c.Equity)
	}
	if err := c.Sizing.Validate(); err != nil {
		return err
	}
	if err := c.Lifecycle.Validate(); err != nil {
		return err
	}
	if err := c.Adaptation.Validate(); err != nil {
		return err
	}
	if err := c.Tiers.Validate(); err != nil {
		return err
	}
	if c.MinActionableTier < int(domain.TierOne) || c.MinActionableTier > int(domain.TierFour) {
		return fmt.Errorf("%w: min_actionable_tier %d out of [1,4]", domain.ErrInvalidConfiguration, c.MinActionableTier)
	}
	if err := c.Position.Validate(); err != nil {
		return err
	}
	if c.Gates.MinPrice < 0 || c.Gates.MinVolumeBaseline < 0 {
		return fmt.Errorf("%w: entry gates must be non-negative", domain.ErrInvalidConfiguration)
	}
	if err := c.Fetch.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks the exit percentages the same way PositionConfig will at
// position open, so a bad file fails at startup instead.
func (p PositionDefaults) Validate() error {
	probe := domain.PositionConfig{
		Ticker:           "PROBE",
		StrategyID:       "probe",
		EntryPrice:       1,
		StopLossPct:      p.StopLossPct,
		Target1Pct:       p.Target1Pct,
		Target2Pct:       p.Target2Pct,
		TrailingStopPct:  p.TrailingStopPct,
		ScaleOutFraction: p.ScaleOutFraction,
	}
	return probe.Validate()
}

// Validate checks retrieval bounds.
func (f FetchConfig) Validate() error {
	if f.Workers <= 0 {
		return fmt.Errorf("%w: fetch workers %d must be positive", domain.ErrInvalidConfiguration, f.Workers)
	}
	if f.Retries < 0 {
		return fmt.Errorf("%w: fetch retries %d must be non-negative", domain.ErrInvalidConfiguration, f.Retries)
	}
	if f.Timeout <= 0 {
		return fmt.Errorf("%w: fetch timeout %s must be positive", domain.ErrInvalidConfiguration, f.Timeout)
	}
	if f.RatePerSecond <= 0 || f.RateBurst <= 0 {
		return fmt.Errorf("%w: fetch rate %.1f/s burst %d must be positive", domain.ErrInvalidConfiguration, f.RatePerSecond, f.RateBurst)
	}
	return nil
}
