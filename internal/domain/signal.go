package domain

import (
	"fmt"
	"time"
)

// SourceID identifies an independent signal source feeding the scorer.
type SourceID string

const (
	SourceFloat         SourceID = "float"
	SourceInsider       SourceID = "insider"
	SourceCatalyst      SourceID = "catalyst"
	SourceShortInterest SourceID = "short"
	SourceVolume        SourceID = "volume"
	SourceMomentum      SourceID = "momentum"
)

// AllSources lists the canonical sources in scoring order. The order is
// stable so that ConvergenceResult.Signals is deterministic across passes.
var AllSources = []SourceID{
	SourceFloat,
	SourceInsider,
	SourceCatalyst,
	SourceShortInterest,
	SourceVolume,
	SourceMomentum,
}

// SourceMaxima is the canonical per-source score ceiling. The sum is fixed
// at 70 and never shrinks when a source is unavailable.
var SourceMaxima = map[SourceID]float64{
	SourceFloat:         20,
	SourceInsider:       20,
	SourceCatalyst:      10,
	SourceShortInterest: 10,
	SourceVolume:        5,
	SourceMomentum:      5,
}

// MaxTotalScore is the fixed sum of canonical per-source maxima.
const MaxTotalScore = 70.0

// IndicatorKind tags the payload type a source reports.
type IndicatorKind int

const (
	KindPercent IndicatorKind = iota // percentage value (ownership, short interest, price change)
	KindCount                        // plain count (float shares in millions)
	KindDays                         // day count to a scheduled event
	KindRatio                        // ratio vs a baseline (volume surge)
)

// Indicator is the tagged raw payload one source reports for one ticker.
// A missing value is an explicit Unavailable indicator, never a zero
// standing in for missing data.
type Indicator struct {
	Source    SourceID      `json:"source"`
	Kind      IndicatorKind `json:"kind"`
	Value     float64       `json:"value"`
	Flag      bool          `json:"flag,omitempty"` // source-specific qualifier (insider recent buys)
	Available bool          `json:"available"`
	Err       string        `json:"err,omitempty"`
}

// PercentIndicator builds an available percentage-valued indicator.
func PercentIndicator(src SourceID, pct float64) Indicator {
	return Indicator{Source: src, Kind: KindPercent, Value: pct, Available: true}
}

// CountIndicator builds an available count-valued indicator.
func CountIndicator(src SourceID, n float64) Indicator {
	return Indicator{Source: src, Kind: KindCount, Value: n, Available: true}
}

// DaysIndicator builds an available day-count indicator.
func DaysIndicator(src SourceID, days float64) Indicator {
	return Indicator{Source: src, Kind: KindDays, Value: days, Available: true}
}

// RatioIndicator builds an available ratio-valued indicator.
func RatioIndicator(src SourceID, ratio float64) Indicator {
	return Indicator{Source: src, Kind: KindRatio, Value: ratio, Available: true}
}

// UnavailableIndicator marks a source as having no data for this pass.
func UnavailableIndicator(src SourceID, reason string) Indicator {
	return Indicator{Source: src, Available: false, Err: reason}
}

// Signal is one normalized sub-score produced from a raw indicator.
type Signal struct {
	Source     SourceID `json:"source"`
	RawValue   float64  `json:"raw_value,omitempty"`
	Score      float64  `json:"score"`      // normalized, in [0, MaxSource]
	MaxSource  float64  `json:"max_source"` // canonical ceiling for this source
	Available  bool     `json:"available"`
	Reason     string   `json:"reason"`
}

// Tier is a discrete conviction bucket. TierOne is the strongest.
type Tier int

const (
	TierOne Tier = iota + 1
	TierTwo
	TierThree
	TierFour
)

func (t Tier) String() string {
	switch t {
	case TierOne:
		return "TIER1"
	case TierTwo:
		return "TIER2"
	case TierThree:
		return "TIER3"
	case TierFour:
		return "TIER4"
	default:
		return fmt.Sprintf("TIER?(%d)", int(t))
	}
}

// ConvergenceResult is the outcome of one scoring pass for one ticker.
type ConvergenceResult struct {
	Ticker     string    `json:"ticker"`
	Signals    []Signal  `json:"signals"`
	TotalScore float64   `json:"total_score"`
	MaxTotal   float64   `json:"max_total"`
	Tier       Tier      `json:"tier"`
	Actionable bool      `json:"actionable"` // false means "insufficient signal"
	ComputedAt time.Time `json:"computed_at"`
}

// Conviction maps the total score into [0, 1] for the sizer.
func (r ConvergenceResult) Conviction() float64 {
	if r.MaxTotal <= 0 {
		return 0
	}
	return r.TotalScore / r.MaxTotal
}

// Snapshot is the raw per-ticker view assembled from inbound collaborators
// for one scoring pass. Sequence carries the per-ticker tick sequence number
// the snapshot was built from; a fresher sequence supersedes an in-flight
// pass for the same ticker.
type Snapshot struct {
	Ticker         string      `json:"ticker"`
	Price          float64     `json:"price"`
	VolumeBaseline float64     `json:"volume_baseline"`
	Sequence       uint64      `json:"sequence"`
	Indicators     []Indicator `json:"indicators"`
	FetchedAt      time.Time   `json:"fetched_at"`
}
