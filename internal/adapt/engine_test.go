package adapt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/convictionrun/internal/domain"
)

func testConfig() Config {
	return Config{
		MinSampleSize:     4,
		MinWeight:         0.5,
		MaxWeight:         1.5,
		Step:              0.05,
		RecomputeInterval: time.Minute,
	}
}

func outcome(strategy string, returnPct float64) domain.TradeOutcome {
	return domain.TradeOutcome{
		Ticker:            "LOWF",
		StrategyID:        strategy,
		RealizedReturnPct: returnPct,
		ClosedAt:          time.Now().UTC(),
	}
}

func TestWeightsStartNeutral(t *testing.T) {
	engine, err := NewEngine(testConfig(), []string{"convergence", "momentum"})
	require.NoError(t, err)

	ws := engine.Weights()
	assert.Equal(t, 1.0, ws.Get("convergence"))
	assert.Equal(t, 1.0, ws.Get("momentum"))
	assert.Equal(t, 1.0, ws.Get("never-registered"), "unknown strategies default to 1.0")
}

func TestBelowMinSampleHoldsWeight(t *testing.T) {
	engine, err := NewEngine(testConfig(), []string{"convergence"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ { // one below min sample
		engine.RecordOutcome(outcome("convergence", 12.0))
	}
	weights := engine.RecomputeWeights()

	w := weights["convergence"]
	assert.Equal(t, 1.0, w.WeightMultiplier, "weight must not move below min sample size")
	assert.Equal(t, 3, w.SampleSize)
	assert.Equal(t, 1.0, w.WinRate)
}

func TestPositiveExpectancyRaisesWeight(t *testing.T) {
	engine, err := NewEngine(testConfig(), []string{"convergence"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		engine.RecordOutcome(outcome("convergence", 10.0))
	}
	engine.RecordOutcome(outcome("convergence", -4.0))
	weights := engine.RecomputeWeights()

	w := weights["convergence"]
	assert.Equal(t, 4, w.SampleSize)
	assert.InDelta(t, 0.75, w.WinRate, 1e-9)
	// 0.75*10 - 0.25*4 = 6.5
	assert.InDelta(t, 6.5, w.Expectancy, 1e-9)
	assert.InDelta(t, 1.05, w.WeightMultiplier, 1e-9)
}

func TestNegativeExpectancyLowersWeight(t *testing.T) {
	engine, err := NewEngine(testConfig(), []string{"convergence"})
	require.NoError(t, err)

	engine.RecordOutcome(outcome("convergence", 2.0))
	for i := 0; i < 3; i++ {
		engine.RecordOutcome(outcome("convergence", -8.0))
	}
	weights := engine.RecomputeWeights()

	w := weights["convergence"]
	assert.Negative(t, w.Expectancy)
	assert.InDelta(t, 0.95, w.WeightMultiplier, 1e-9)
}

func TestWeightsStayBounded(t *testing.T) {
	cfg := testConfig()
	engine, err := NewEngine(cfg, []string{"convergence"})
	require.NoError(t, err)

	// A long winning streak pushes toward the ceiling; the clamp holds it.
	for i := 0; i < 8; i++ {
		engine.RecordOutcome(outcome("convergence", 15.0))
	}
	for i := 0; i < 40; i++ {
		weights := engine.RecomputeWeights()
		w := weights["convergence"]
		if w.WeightMultiplier < cfg.MinWeight || w.WeightMultiplier > cfg.MaxWeight {
			t.Fatalf("round %d: weight %.3f escaped [%.2f, %.2f]", i, w.WeightMultiplier, cfg.MinWeight, cfg.MaxWeight)
		}
	}
	assert.Equal(t, cfg.MaxWeight, engine.Weights().Get("convergence"))

	// And a losing streak walks it down to the floor, never past it.
	for i := 0; i < 80; i++ {
		engine.RecordOutcome(outcome("convergence", -10.0))
	}
	for i := 0; i < 60; i++ {
		engine.RecomputeWeights()
	}
	assert.Equal(t, cfg.MinWeight, engine.Weights().Get("convergence"))
}

func TestSnapshotIsolatedFromRecompute(t *testing.T) {
	engine, err := NewEngine(testConfig(), []string{"convergence"})
	require.NoError(t, err)

	before := engine.Weights()
	for i := 0; i < 6; i++ {
		engine.RecordOutcome(outcome("convergence", 9.0))
	}
	engine.RecomputeWeights()

	assert.Equal(t, 1.0, before.Get("convergence"), "held snapshot must not change under recompute")
	assert.InDelta(t, 1.05, engine.Weights().Get("convergence"), 1e-9)
}

func TestConcurrentReadsDuringRecompute(t *testing.T) {
	engine, err := NewEngine(testConfig(), []string{"convergence"})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		engine.RecordOutcome(outcome("convergence", 8.0))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				w := engine.Weights().Get("convergence")
				if w < 0.5 || w > 1.5 {
					t.Errorf("reader observed out-of-bounds weight %.3f", w)
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		engine.RecomputeWeights()
	}
	wg.Wait()
}

func TestRestoreClampsPersistedWeights(t *testing.T) {
	engine, err := NewEngine(testConfig(), []string{"convergence"})
	require.NoError(t, err)

	engine.Restore(map[string]domain.StrategyWeight{
		"convergence": {StrategyID: "convergence", WeightMultiplier: 9.0, SampleSize: 50},
	})
	assert.Equal(t, 1.5, engine.Weights().Get("convergence"))
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample", func(c *Config) { c.MinSampleSize = 0 }},
		{"inverted bounds", func(c *Config) { c.MinWeight = 1.4; c.MaxWeight = 0.6 }},
		{"bounds exclude neutral", func(c *Config) { c.MinWeight = 1.1; c.MaxWeight = 1.5 }},
		{"zero step", func(c *Config) { c.Step = 0 }},
		{"zero interval", func(c *Config) { c.RecomputeInterval = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}
