package signals

import (
	"fmt"

	"github.com/marketpulse/convictionrun/internal/domain"
)

// Normalize converts one raw indicator into a bounded sub-score with a
// human-readable reason. The mapping per source is deterministic, monotonic
// and piecewise; boundary ties resolve to the higher bucket (inclusive lower
// bound). An unavailable indicator normalizes to score 0 with
// available=false, recorded rather than treated as a poor reading.
func Normalize(ind domain.Indicator) domain.Signal {
	maxSource := domain.SourceMaxima[ind.Source]

	if !ind.Available {
		reason := ind.Err
		if reason == "" {
			reason = "no data"
		}
		return domain.Signal{
			Source:    ind.Source,
			Score:     0,
			MaxSource: maxSource,
			Available: false,
			Reason:    fmt.Sprintf("unavailable: %s", reason),
		}
	}

	var score float64
	var reason string

	switch ind.Source {
	case domain.SourceFloat:
		score, reason = normalizeFloat(ind.Value)
	case domain.SourceInsider:
		score, reason = normalizeInsider(ind.Value, ind.Flag)
	case domain.SourceCatalyst:
		score, reason = normalizeCatalyst(ind.Value)
	case domain.SourceShortInterest:
		score, reason = normalizeShortInterest(ind.Value)
	case domain.SourceVolume:
		score, reason = normalizeVolume(ind.Value)
	case domain.SourceMomentum:
		score, reason = normalizeMomentum(ind.Value, ind.Flag)
	default:
		return domain.Signal{
			Source:    ind.Source,
			MaxSource: maxSource,
			Available: false,
			Reason:    fmt.Sprintf("unknown source %q", ind.Source),
		}
	}

	if score > maxSource {
		score = maxSource
	}
	if score < 0 {
		score = 0
	}

	return domain.Signal{
		Source:    ind.Source,
		RawValue:  ind.Value,
		Score:     score,
		MaxSource: maxSource,
		Available: true,
		Reason:    reason,
	}
}

// NormalizeAll normalizes a snapshot's indicators in canonical source order.
// Sources absent from the snapshot are recorded as unavailable so the
// resulting signal list always covers the full schema.
func NormalizeAll(indicators []domain.Indicator) []domain.Signal {
	bySource := make(map[domain.SourceID]domain.Indicator, len(indicators))
	for _, ind := range indicators {
		bySource[ind.Source] = ind
	}

	out := make([]domain.Signal, 0, len(domain.AllSources))
	for _, src := range domain.AllSources {
		ind, ok := bySource[src]
		if !ok {
			ind = domain.UnavailableIndicator(src, "not reported")
		}
		out = append(out, Normalize(ind))
	}
	return out
}

// normalizeFloat scores the free float in millions of shares. Tighter floats
// move harder; sub-5M floats take the full 20.
func normalizeFloat(millions float64) (float64, string) {
	reason := fmt.Sprintf("float %.1fM shares", millions)
	switch {
	case millions < 0:
		return 0, reason
	case millions <= 5:
		return 20, reason
	case millions <= 10:
		return 16, reason
	case millions <= 20:
		return 12, reason
	case millions <= 50:
		return 6, reason
	case millions <= 100:
		return 2, reason
	default:
		return 0, reason
	}
}

// normalizeInsider scores insider ownership percentage, with a 4-point kicker
// when insiders bought recently. Capped at 20 by the caller.
func normalizeInsider(ownershipPct float64, recentBuys bool) (float64, string) {
	var base float64
	switch {
	case ownershipPct >= 30:
		base = 16
	case ownershipPct >= 20:
		base = 12
	case ownershipPct >= 10:
		base = 8
	case ownershipPct >= 5:
		base = 4
	default:
		base = 0
	}

	reason := fmt.Sprintf("insider ownership %.1f%%", ownershipPct)
	if recentBuys {
		base += 4
		reason += " with recent buys"
	}
	return base, reason
}

// normalizeCatalyst scores proximity to the nearest scheduled event in days.
func normalizeCatalyst(days float64) (float64, string) {
	reason := fmt.Sprintf("catalyst in %.0f days", days)
	switch {
	case days < 0:
		return 0, reason
	case days <= 7:
		return 10, reason
	case days <= 14:
		return 8, reason
	case days <= 30:
		return 6, reason
	case days <= 60:
		return 3, reason
	default:
		return 0, reason
	}
}

// normalizeShortInterest scores short interest as a percentage of float.
func normalizeShortInterest(pct float64) (float64, string) {
	reason := fmt.Sprintf("short interest %.1f%% of float", pct)
	switch {
	case pct >= 30:
		return 10, reason
	case pct >= 20:
		return 8, reason
	case pct >= 15:
		return 6, reason
	case pct >= 10:
		return 4, reason
	case pct >= 5:
		return 2, reason
	default:
		return 0, reason
	}
}

// normalizeVolume scores current volume as a multiple of the baseline.
func normalizeVolume(ratio float64) (float64, string) {
	reason := fmt.Sprintf("volume %.2fx baseline", ratio)
	switch {
	case ratio >= 3.0:
		return 5, reason
	case ratio >= 2.0:
		return 4, reason
	case ratio >= 1.5:
		return 3, reason
	case ratio >= 1.2:
		return 2, reason
	case ratio >= 1.0:
		return 1, reason
	default:
		return 0, reason
	}
}

// normalizeMomentum scores recent price change percentage. The flag carries
// a strong-positive news sentiment reading, worth one extra bucket capped at
// the source maximum.
func normalizeMomentum(changePct float64, bullishSentiment bool) (float64, string) {
	var base float64
	switch {
	case changePct >= 10:
		base = 5
	case changePct >= 5:
		base = 4
	case changePct >= 2:
		base = 3
	case changePct >= 0:
		base = 1
	default:
		base = 0
	}

	reason := fmt.Sprintf("momentum %+.1f%%", changePct)
	if bullishSentiment {
		base++
		reason += ", bullish sentiment"
	}
	return base, reason
}
