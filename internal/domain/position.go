package domain

import (
	"fmt"
	"time"
)

// Stage is the lifecycle state of an open position. Transitions only move
// forward: OPENED -> PARTIAL_T1 -> TRAILING -> CLOSED, with a direct edge
// from any non-closed stage to CLOSED on a stop event.
type Stage int

const (
	StageOpened Stage = iota
	StagePartialT1
	StageTrailing
	StageClosed
)

func (s Stage) String() string {
	switch s {
	case StageOpened:
		return "OPENED"
	case StagePartialT1:
		return "PARTIAL_T1"
	case StageTrailing:
		return "TRAILING"
	case StageClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("STAGE?(%d)", int(s))
	}
}

// ExitReason records why shares left a position.
type ExitReason string

const (
	ExitStop     ExitReason = "stop"
	ExitTarget1  ExitReason = "target1_scale_out"
	ExitTrailing ExitReason = "trailing_stop"
	ExitManual   ExitReason = "manual"
)

// PositionConfig is fixed at position open and immutable thereafter.
// Percentages are fractions (0.08 means 8%).
type PositionConfig struct {
	Ticker           string  `json:"ticker" yaml:"ticker"`
	StrategyID       string  `json:"strategy_id" yaml:"strategy_id"`
	Conviction       float64 `json:"conviction" yaml:"conviction"`
	EntryPrice       float64 `json:"entry_price" yaml:"entry_price"`
	StopLossPct      float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	Target1Pct       float64 `json:"target1_pct" yaml:"target1_pct"`
	Target2Pct       float64 `json:"target2_pct" yaml:"target2_pct"`
	TrailingStopPct  float64 `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`
	ScaleOutFraction float64 `json:"scale_out_fraction" yaml:"scale_out_fraction"`
}

// Validate rejects configurations that could never produce a sane position.
func (c PositionConfig) Validate() error {
	if c.Ticker == "" {
		return fmt.Errorf("%w: empty ticker", ErrInvalidConfiguration)
	}
	if c.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price %.4f must be positive", ErrInvalidConfiguration, c.EntryPrice)
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		return fmt.Errorf("%w: stop loss pct %.4f out of (0,1)", ErrInvalidConfiguration, c.StopLossPct)
	}
	if c.Target1Pct <= 0 || c.Target2Pct <= c.Target1Pct {
		return fmt.Errorf("%w: targets must satisfy 0 < target1 (%.4f) < target2 (%.4f)",
			ErrInvalidConfiguration, c.Target1Pct, c.Target2Pct)
	}
	if c.TrailingStopPct <= 0 || c.TrailingStopPct >= 1 {
		return fmt.Errorf("%w: trailing stop pct %.4f out of (0,1)", ErrInvalidConfiguration, c.TrailingStopPct)
	}
	if c.ScaleOutFraction <= 0 || c.ScaleOutFraction >= 1 {
		return fmt.Errorf("%w: scale out fraction %.4f out of (0,1)", ErrInvalidConfiguration, c.ScaleOutFraction)
	}
	if c.Conviction < 0 || c.Conviction > 1 {
		return fmt.Errorf("%w: conviction %.4f out of [0,1]", ErrInvalidConfiguration, c.Conviction)
	}
	return nil
}

// Position is the mutable lifecycle state for one ticker. It is owned
// exclusively by the lifecycle manager and mutated only by tick processing.
type Position struct {
	Ticker          string     `json:"ticker"`
	StrategyID      string     `json:"strategy_id"`
	SharesRemaining int64      `json:"shares_remaining"`
	SharesOriginal  int64      `json:"shares_original"`
	EntryPrice      float64    `json:"entry_price"`
	StopPrice       float64    `json:"stop_price"`
	Target1Price    float64    `json:"target1_price"`
	Target2Price    float64    `json:"target2_price"`
	HighWaterMark   float64    `json:"high_water_mark"`
	Stage           Stage      `json:"stage"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	LastSequence    uint64     `json:"last_sequence"`
}

// OrderAction is the kind of order intent emitted toward the broker.
type OrderAction string

const (
	ActionOpen       OrderAction = "OPEN"
	ActionScaleOut   OrderAction = "SCALE_OUT"
	ActionClose      OrderAction = "CLOSE"
	ActionAdjustStop OrderAction = "ADJUST_STOP"
)

// OrderIntent is the outbound instruction consumed by the broker-execution
// collaborator. Intents are fire-and-forget once emitted; reconciliation
// happens on the next tick if the broker rejects one.
type OrderIntent struct {
	ID          string      `json:"id"`
	Ticker      string      `json:"ticker"`
	Action      OrderAction `json:"action"`
	Shares      int64       `json:"shares"`
	PriceOrStop float64     `json:"price_or_stop"`
	Reason      string      `json:"reason"`
	EmittedAt   time.Time   `json:"emitted_at"`
}

// TradeOutcome is created exactly once when a position closes and is
// consumed exactly once by the weight adaptation engine.
type TradeOutcome struct {
	Ticker            string        `json:"ticker" db:"ticker"`
	StrategyID        string        `json:"strategy_id" db:"strategy_id"`
	EntryPrice        float64       `json:"entry_price" db:"entry_price"`
	ExitPrice         float64       `json:"exit_price" db:"exit_price"`
	Shares            int64         `json:"shares" db:"shares"`
	RealizedReturnPct float64       `json:"realized_return_pct" db:"realized_return_pct"`
	Duration          time.Duration `json:"duration" db:"duration_ns"`
	ExitReason        ExitReason    `json:"exit_reason" db:"exit_reason"`
	ClosedAt          time.Time     `json:"closed_at" db:"closed_at"`
}

// Tick is one inbound price observation. Sequence is monotonically
// increasing per ticker; a tick at or below the last processed sequence is
// stale and dropped without effect.
type Tick struct {
	Ticker   string    `json:"ticker"`
	Price    float64   `json:"price"`
	Sequence uint64    `json:"sequence"`
	At       time.Time `json:"at"`
}
