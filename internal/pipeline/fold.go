package pipeline

import "github.com/marketpulse/convictionrun/internal/domain"

// Fetcher implementations report several inbound payloads that fold into
// the canonical six-source schema. These helpers keep the folding rules in
// one place.

// FoldCatalyst combines days-to-catalyst and days-to-earnings into the
// catalyst indicator: the nearest scheduled event counts. Either input may
// be absent (negative means not reported); both absent means unavailable.
func FoldCatalyst(daysToCatalyst, daysToEarnings float64) domain.Indicator {
	switch {
	case daysToCatalyst >= 0 && daysToEarnings >= 0:
		if daysToEarnings < daysToCatalyst {
			return domain.DaysIndicator(domain.SourceCatalyst, daysToEarnings)
		}
		return domain.DaysIndicator(domain.SourceCatalyst, daysToCatalyst)
	case daysToCatalyst >= 0:
		return domain.DaysIndicator(domain.SourceCatalyst, daysToCatalyst)
	case daysToEarnings >= 0:
		return domain.DaysIndicator(domain.SourceCatalyst, daysToEarnings)
	default:
		return domain.UnavailableIndicator(domain.SourceCatalyst, "no scheduled events")
	}
}

// FoldMomentum attaches the news-sentiment reading to the price-change
// indicator. Sentiment in [-1, 1]; readings at or above the bullish cutoff
// set the indicator flag, worth one extra bucket in normalization.
func FoldMomentum(changePct, sentiment float64, sentimentAvailable bool) domain.Indicator {
	ind := domain.PercentIndicator(domain.SourceMomentum, changePct)
	ind.Flag = sentimentAvailable && sentiment >= 0.5
	return ind
}
