package sizing

import (
	"fmt"
	"math"

	"github.com/marketpulse/convictionrun/internal/domain"
)

// Config holds the risk parameters the sizer works under. Percentages are
// fractions of account equity.
type Config struct {
	RiskPerTradePct     float64 `yaml:"risk_per_trade_pct"`
	MaxPositionPct      float64 `yaml:"max_position_pct"`
	MaxPortfolioHeatPct float64 `yaml:"max_portfolio_heat_pct"`
	MinConvictionScale  float64 `yaml:"min_conviction_scale"`
}

// DefaultConfig returns conservative production sizing parameters.
func DefaultConfig() Config {
	return Config{
		RiskPerTradePct:     0.02,
		MaxPositionPct:      0.10,
		MaxPortfolioHeatPct: 0.06,
		MinConvictionScale:  0.25,
	}
}

// Validate rejects sizing parameters out of allowed range at load time.
func (c Config) Validate() error {
	if c.RiskPerTradePct <= 0 || c.RiskPerTradePct >= 1 {
		return fmt.Errorf("%w: risk_per_trade_pct %.4f out of (0,1)", domain.ErrInvalidConfiguration, c.RiskPerTradePct)
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		return fmt.Errorf("%w: max_position_pct %.4f out of (0,1]", domain.ErrInvalidConfiguration, c.MaxPositionPct)
	}
	if c.MaxPortfolioHeatPct <= 0 || c.MaxPortfolioHeatPct > 1 {
		return fmt.Errorf("%w: max_portfolio_heat_pct %.4f out of (0,1]", domain.ErrInvalidConfiguration, c.MaxPortfolioHeatPct)
	}
	if c.MaxPortfolioHeatPct < c.RiskPerTradePct {
		return fmt.Errorf("%w: max_portfolio_heat_pct %.4f below risk_per_trade_pct %.4f",
			domain.ErrInvalidConfiguration, c.MaxPortfolioHeatPct, c.RiskPerTradePct)
	}
	if c.MinConvictionScale <= 0 || c.MinConvictionScale > 1 {
		return fmt.Errorf("%w: min_conviction_scale %.4f out of (0,1]", domain.ErrInvalidConfiguration, c.MinConvictionScale)
	}
	return nil
}

// Sizer turns conviction, equity and stop distance into a bounded share
// quantity. The returned quantity never implies dollar risk beyond
// equity * risk_per_trade_pct, regardless of allocation caps.
type Sizer struct {
	cfg Config
}

// NewSizer builds a sizer over a validated config.
func NewSizer(cfg Config) (*Sizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sizer{cfg: cfg}, nil
}

// Shares computes the position size for a long entry. The stop must sit
// below the entry; anything else is an invalid configuration surfaced to the
// caller, never sized around.
func (s *Sizer) Shares(equity, entryPrice, stopPrice, conviction float64) (int64, error) {
	if entryPrice <= 0 {
		return 0, fmt.Errorf("%w: entry price %.4f must be positive", domain.ErrInvalidConfiguration, entryPrice)
	}
	if stopPrice >= entryPrice {
		return 0, fmt.Errorf("%w: stop %.4f must be below entry %.4f for a long position",
			domain.ErrInvalidConfiguration, stopPrice, entryPrice)
	}
	if equity <= 0 {
		return 0, nil
	}

	stopDistance := entryPrice - stopPrice
	riskBased := math.Floor((equity * s.cfg.RiskPerTradePct) / stopDistance)
	allocationBased := math.Floor((equity * s.cfg.MaxPositionPct * s.scale(conviction)) / entryPrice)

	shares := math.Min(riskBased, allocationBased)
	if shares <= 0 {
		return 0, nil
	}
	return int64(shares), nil
}

// scale maps conviction in [0,1] onto [MinConvictionScale, 1.0] linearly.
// Higher conviction allocates more, never exceeding the max position cap.
func (s *Sizer) scale(conviction float64) float64 {
	if conviction <= 0 {
		return s.cfg.MinConvictionScale
	}
	if conviction >= 1 {
		return 1.0
	}
	return s.cfg.MinConvictionScale + conviction*(1.0-s.cfg.MinConvictionScale)
}

// HeatAllows reports whether opening a trade risking riskDollars on top of
// the currently committed open risk stays inside the aggregate heat cap.
func (s *Sizer) HeatAllows(equity, openRiskDollars, riskDollars float64) bool {
	if equity <= 0 {
		return false
	}
	return (openRiskDollars+riskDollars)/equity <= s.cfg.MaxPortfolioHeatPct
}

// RiskDollars reports the dollar risk a sized position carries.
func RiskDollars(shares int64, entryPrice, stopPrice float64) float64 {
	if shares <= 0 || stopPrice >= entryPrice {
		return 0
	}
	return float64(shares) * (entryPrice - stopPrice)
}
