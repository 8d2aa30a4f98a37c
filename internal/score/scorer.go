package score

import (
	"fmt"
	"time"

	"github.com/marketpulse/convictionrun/internal/domain"
)

// TierThresholds are ordered inclusive lower bounds over [0, MaxTotalScore]
// partitioning the score range into four non-overlapping tiers:
// score >= T1 -> TIER1, score >= T2 -> TIER2, score >= T3 -> TIER3,
// otherwise TIER4.
type TierThresholds struct {
	Tier1 float64 `yaml:"tier1"`
	Tier2 float64 `yaml:"tier2"`
	Tier3 float64 `yaml:"tier3"`
}

// DefaultTierThresholds partitions the 70-point schema at 55/40/25.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{Tier1: 55, Tier2: 40, Tier3: 25}
}

// Validate rejects overlapping or out-of-range cutoffs at load time.
func (t TierThresholds) Validate() error {
	if !(t.Tier1 > t.Tier2 && t.Tier2 > t.Tier3 && t.Tier3 > 0) {
		return fmt.Errorf("%w: tier thresholds must satisfy 0 < t3 (%.1f) < t2 (%.1f) < t1 (%.1f)",
			domain.ErrInvalidConfiguration, t.Tier3, t.Tier2, t.Tier1)
	}
	if t.Tier1 > domain.MaxTotalScore {
		return fmt.Errorf("%w: tier1 threshold %.1f exceeds max total %.0f",
			domain.ErrInvalidConfiguration, t.Tier1, domain.MaxTotalScore)
	}
	return nil
}

// Tier maps a total score onto its conviction bucket. Monotonic: a higher
// score never lands in a strictly lower tier.
func (t TierThresholds) Tier(total float64) domain.Tier {
	switch {
	case total >= t.Tier1:
		return domain.TierOne
	case total >= t.Tier2:
		return domain.TierTwo
	case total >= t.Tier3:
		return domain.TierThree
	default:
		return domain.TierFour
	}
}

// Scorer combines normalized signals into a conviction score and tier.
// It is pure and side-effect free; the weight set it reads is an immutable
// snapshot, so concurrent scoring passes need no coordination.
type Scorer struct {
	thresholds    TierThresholds
	minActionable domain.Tier
}

// NewScorer builds a scorer over validated tier thresholds. minActionable is
// the weakest tier that still produces an actionable result; weaker scores
// surface as "insufficient signal".
func NewScorer(thresholds TierThresholds, minActionable domain.Tier) (*Scorer, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if minActionable < domain.TierOne || minActionable > domain.TierFour {
		return nil, fmt.Errorf("%w: min actionable tier %d out of range", domain.ErrInvalidConfiguration, minActionable)
	}
	return &Scorer{thresholds: thresholds, minActionable: minActionable}, nil
}

// Score computes the weighted convergence total for one ticker. Each
// available sub-score is multiplied by the strategy weight for its source
// (default 1.0) and clamped at the source's canonical maximum so a learned
// weight can never inflate a source past its ceiling; unavailable sources
// contribute 0 while max_total stays fixed.
func (s *Scorer) Score(ticker string, sigs []domain.Signal, weights domain.WeightSet) domain.ConvergenceResult {
	result := domain.ConvergenceResult{
		Ticker:     ticker,
		Signals:    make([]domain.Signal, 0, len(sigs)),
		MaxTotal:   domain.MaxTotalScore,
		ComputedAt: time.Now().UTC(),
	}

	var total float64
	for _, sig := range sigs {
		if sig.Available {
			weighted := sig.Score * weights.Get(string(sig.Source))
			if weighted > sig.MaxSource {
				weighted = sig.MaxSource
			}
			if weighted < 0 {
				weighted = 0
			}
			sig.Score = weighted
			total += weighted
		}
		result.Signals = append(result.Signals, sig)
	}

	result.TotalScore = total
	result.Tier = s.thresholds.Tier(total)
	result.Actionable = result.Tier <= s.minActionable
	return result
}

// Explain renders a one-line summary of a scoring pass for reports and logs.
func Explain(r domain.ConvergenceResult) string {
	status := "actionable"
	if !r.Actionable {
		status = "insufficient signal"
	}
	return fmt.Sprintf("%s: %.1f/%.0f %s (%s)", r.Ticker, r.TotalScore, r.MaxTotal, r.Tier, status)
}
