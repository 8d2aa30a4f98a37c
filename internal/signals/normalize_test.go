package signals

import (
	"testing"

	"github.com/marketpulse/convictionrun/internal/domain"
)

func TestNormalizeFloatBuckets(t *testing.T) {
	cases := []struct {
		millions float64
		want     float64
	}{
		{3, 20},
		{5, 20}, // boundary resolves to the higher bucket
		{8, 16},
		{10, 16},
		{15, 12},
		{40, 6},
		{80, 2},
		{500, 0},
	}
	for _, tc := range cases {
		sig := Normalize(domain.CountIndicator(domain.SourceFloat, tc.millions))
		if sig.Score != tc.want {
			t.Errorf("float %.0fM: got %.1f, want %.1f", tc.millions, sig.Score, tc.want)
		}
		if !sig.Available {
			t.Errorf("float %.0fM: expected available", tc.millions)
		}
	}
}

func TestNormalizeInsiderWithRecentBuys(t *testing.T) {
	ind := domain.PercentIndicator(domain.SourceInsider, 32.0)
	ind.Flag = true
	sig := Normalize(ind)
	if sig.Score != 20 {
		t.Errorf("insider 32%% with buys: got %.1f, want 20", sig.Score)
	}

	ind.Flag = false
	sig = Normalize(ind)
	if sig.Score != 16 {
		t.Errorf("insider 32%% without buys: got %.1f, want 16", sig.Score)
	}
}

func TestNormalizeNeverExceedsSourceMax(t *testing.T) {
	// The recent-buy kicker on an already-max ownership bucket must cap at 20.
	ind := domain.PercentIndicator(domain.SourceInsider, 95.0)
	ind.Flag = true
	if sig := Normalize(ind); sig.Score > sig.MaxSource {
		t.Errorf("insider score %.1f exceeds max %.1f", sig.Score, sig.MaxSource)
	}

	// Sentiment kicker on top momentum bucket caps at 5.
	mom := domain.PercentIndicator(domain.SourceMomentum, 25.0)
	mom.Flag = true
	if sig := Normalize(mom); sig.Score > sig.MaxSource {
		t.Errorf("momentum score %.1f exceeds max %.1f", sig.Score, sig.MaxSource)
	}
}

func TestNormalizeUnavailable(t *testing.T) {
	sig := Normalize(domain.UnavailableIndicator(domain.SourceShortInterest, "provider timeout"))
	if sig.Available {
		t.Error("expected unavailable signal")
	}
	if sig.Score != 0 {
		t.Errorf("unavailable signal must score 0, got %.1f", sig.Score)
	}
	if sig.MaxSource != 10 {
		t.Errorf("unavailable signal keeps canonical max, got %.1f", sig.MaxSource)
	}
}

func TestNormalizeMonotonic(t *testing.T) {
	// Catalyst scoring must never increase with more distant events.
	prev := 11.0
	for days := 0.0; days <= 90; days++ {
		sig := Normalize(domain.DaysIndicator(domain.SourceCatalyst, days))
		if sig.Score > prev {
			t.Fatalf("catalyst score increased at %.0f days: %.1f > %.1f", days, sig.Score, prev)
		}
		prev = sig.Score
	}

	// Short interest must never decrease with a bigger squeeze setup.
	prev = -1
	for pct := 0.0; pct <= 60; pct++ {
		sig := Normalize(domain.PercentIndicator(domain.SourceShortInterest, pct))
		if sig.Score < prev {
			t.Fatalf("short interest score decreased at %.0f%%: %.1f < %.1f", pct, sig.Score, prev)
		}
		prev = sig.Score
	}
}

func TestNormalizeAllCoversSchema(t *testing.T) {
	// Only two sources reported; the other four must come back unavailable.
	sigs := NormalizeAll([]domain.Indicator{
		domain.CountIndicator(domain.SourceFloat, 4),
		domain.RatioIndicator(domain.SourceVolume, 2.5),
	})
	if len(sigs) != len(domain.AllSources) {
		t.Fatalf("got %d signals, want %d", len(sigs), len(domain.AllSources))
	}

	available := 0
	var maxTotal float64
	for _, s := range sigs {
		if s.Available {
			available++
		}
		maxTotal += s.MaxSource
	}
	if available != 2 {
		t.Errorf("got %d available signals, want 2", available)
	}
	if maxTotal != domain.MaxTotalScore {
		t.Errorf("schema maxima sum to %.1f, want %.1f", maxTotal, domain.MaxTotalScore)
	}
}
