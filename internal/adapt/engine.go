package adapt

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/convictionrun/internal/domain"
	"github.com/marketpulse/convictionrun/internal/metrics"
)

// Config bounds the adaptation loop.
type Config struct {
	MinSampleSize     int           `yaml:"min_sample_size"`
	MinWeight         float64       `yaml:"min_weight"`
	MaxWeight         float64       `yaml:"max_weight"`
	Step              float64       `yaml:"step"`
	RecomputeInterval time.Duration `yaml:"recompute_interval"`
}

// DefaultConfig returns production adaptation parameters.
func DefaultConfig() Config {
	return Config{
		MinSampleSize:     10,
		MinWeight:         0.5,
		MaxWeight:         1.5,
		Step:              0.05,
		RecomputeInterval: 15 * time.Minute,
	}
}

// Validate rejects adaptation parameters out of allowed range at load time.
func (c Config) Validate() error {
	if c.MinSampleSize <= 0 {
		return fmt.Errorf("%w: min_sample_size %d must be positive", domain.ErrInvalidConfiguration, c.MinSampleSize)
	}
	if c.MinWeight <= 0 || c.MaxWeight <= c.MinWeight {
		return fmt.Errorf("%w: weight bounds must satisfy 0 < min (%.2f) < max (%.2f)",
			domain.ErrInvalidConfiguration, c.MinWeight, c.MaxWeight)
	}
	if c.MinWeight > 1.0 || c.MaxWeight < 1.0 {
		return fmt.Errorf("%w: weight bounds [%.2f, %.2f] must contain the neutral 1.0",
			domain.ErrInvalidConfiguration, c.MinWeight, c.MaxWeight)
	}
	if c.Step <= 0 || c.Step >= c.MaxWeight-c.MinWeight {
		return fmt.Errorf("%w: step %.3f out of (0, %.2f)", domain.ErrInvalidConfiguration, c.Step, c.MaxWeight-c.MinWeight)
	}
	if c.RecomputeInterval <= 0 {
		return fmt.Errorf("%w: recompute_interval %s must be positive", domain.ErrInvalidConfiguration, c.RecomputeInterval)
	}
	return nil
}

// strategyStats aggregates realized outcomes per strategy.
type strategyStats struct {
	wins       int
	losses     int
	sumWinPct  float64
	sumLossPct float64 // absolute value
}

func (s *strategyStats) sampleSize() int { return s.wins + s.losses }

func (s *strategyStats) winRate() float64 {
	n := s.sampleSize()
	if n == 0 {
		return 0
	}
	return float64(s.wins) / float64(n)
}

// expectancy is win_rate * avg_win - (1 - win_rate) * avg_loss_abs, the
// average realized return one trade of this strategy is worth.
func (s *strategyStats) expectancy() float64 {
	n := s.sampleSize()
	if n == 0 {
		return 0
	}
	var avgWin, avgLoss float64
	if s.wins > 0 {
		avgWin = s.sumWinPct / float64(s.wins)
	}
	if s.losses > 0 {
		avgLoss = s.sumLossPct / float64(s.losses)
	}
	wr := s.winRate()
	return wr*avgWin - (1-wr)*avgLoss
}

// Engine closes the feedback loop between realized trade outcomes and the
// weights the scorer trusts each strategy with. Recomputation is a batch
// step serialized by the engine's lock; published snapshots are immutable,
// so scorer reads never observe a partial update.
type Engine struct {
	cfg Config

	mu        sync.Mutex
	stats     map[string]*strategyStats
	weights   map[string]domain.StrategyWeight
	published snapshotBox
}

// snapshotBox holds the immutable snapshot handed to concurrent readers.
type snapshotBox struct {
	mu  sync.RWMutex
	set domain.WeightSet
}

func (a *snapshotBox) load() domain.WeightSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.set
}

func (a *snapshotBox) store(set domain.WeightSet) {
	a.mu.Lock()
	a.set = set
	a.mu.Unlock()
}

// NewEngine builds an engine with every known strategy initialized to the
// neutral 1.0 multiplier.
func NewEngine(cfg Config, strategyIDs []string) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		stats:   make(map[string]*strategyStats),
		weights: make(map[string]domain.StrategyWeight),
	}
	now := time.Now().UTC()
	for _, id := range strategyIDs {
		e.weights[id] = domain.StrategyWeight{
			StrategyID:       id,
			WeightMultiplier: 1.0,
			LastUpdated:      now,
		}
		e.stats[id] = &strategyStats{}
		metrics.WeightMultiplier.WithLabelValues(id).Set(1.0)
	}
	e.published.store(e.snapshotLocked())
	return e, nil
}

// Restore replaces current multipliers with persisted records, clamped to
// the configured bounds, and publishes the result. Used at startup to carry
// learned weights across restarts.
func (e *Engine) Restore(saved map[string]domain.StrategyWeight) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, w := range saved {
		w.WeightMultiplier = e.clamp(id, w.WeightMultiplier)
		e.weights[id] = w
		if _, ok := e.stats[id]; !ok {
			e.stats[id] = &strategyStats{}
		}
		metrics.WeightMultiplier.WithLabelValues(id).Set(w.WeightMultiplier)
	}
	e.published.store(e.snapshotLocked())
}

// RecordOutcome folds one closed trade into the per-strategy aggregates.
// Weights do not move until the next RecomputeWeights batch.
func (e *Engine) RecordOutcome(outcome domain.TradeOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.stats[outcome.StrategyID]
	if !ok {
		st = &strategyStats{}
		e.stats[outcome.StrategyID] = st
		e.weights[outcome.StrategyID] = domain.StrategyWeight{
			StrategyID:       outcome.StrategyID,
			WeightMultiplier: 1.0,
			LastUpdated:      time.Now().UTC(),
		}
	}

	if outcome.RealizedReturnPct > 0 {
		st.wins++
		st.sumWinPct += outcome.RealizedReturnPct
	} else {
		st.losses++
		st.sumLossPct += math.Abs(outcome.RealizedReturnPct)
	}

	log.Debug().
		Str("strategy", outcome.StrategyID).
		Float64("return_pct", outcome.RealizedReturnPct).
		Int("sample_size", st.sampleSize()).
		Msg("outcome recorded")
}

// RecomputeWeights runs one adaptation batch and publishes the new snapshot
// atomically. Strategies below the minimum sample size keep their last
// stable multiplier, which stops a handful of early trades from producing
// runaway adaptation.
func (e *Engine) RecomputeWeights() map[string]domain.StrategyWeight {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	for id, st := range e.stats {
		w := e.weights[id]
		w.SampleSize = st.sampleSize()
		w.WinRate = st.winRate()
		w.Expectancy = st.expectancy()

		if w.SampleSize >= e.cfg.MinSampleSize {
			w.WeightMultiplier = e.clamp(id, w.WeightMultiplier+e.stepFor(w.Expectancy, w.WinRate))
			w.LastUpdated = now
		}

		e.weights[id] = w
		metrics.WeightMultiplier.WithLabelValues(id).Set(w.WeightMultiplier)
	}

	e.published.store(e.snapshotLocked())

	out := make(map[string]domain.StrategyWeight, len(e.weights))
	for id, w := range e.weights {
		out[id] = w
	}
	return out
}

// stepFor is the bounded step function of expectancy and win rate. Positive
// expectancy with a winning record earns a full step, marginal edges half a
// step, negative expectancy gives one back.
func (e *Engine) stepFor(expectancy, winRate float64) float64 {
	switch {
	case expectancy > 0 && winRate >= 0.5:
		return e.cfg.Step
	case expectancy > 0:
		return e.cfg.Step / 2
	case expectancy < 0:
		return -e.cfg.Step
	default:
		return 0
	}
}

// clamp bounds a multiplier inside [min_weight, max_weight]. An update that
// would cross a bound is clamped and logged, never raised as an error.
func (e *Engine) clamp(strategyID string, w float64) float64 {
	if w < e.cfg.MinWeight {
		metrics.WeightClamps.WithLabelValues(strategyID).Inc()
		log.Warn().Str("strategy", strategyID).Float64("attempted", w).
			Float64("floor", e.cfg.MinWeight).Msg("weight clamped at floor")
		return e.cfg.MinWeight
	}
	if w > e.cfg.MaxWeight {
		metrics.WeightClamps.WithLabelValues(strategyID).Inc()
		log.Warn().Str("strategy", strategyID).Float64("attempted", w).
			Float64("ceiling", e.cfg.MaxWeight).Msg("weight clamped at ceiling")
		return e.cfg.MaxWeight
	}
	return w
}

// snapshotLocked builds an immutable snapshot of current multipliers.
// Callers must hold e.mu.
func (e *Engine) snapshotLocked() domain.WeightSet {
	m := make(map[string]float64, len(e.weights))
	for id, w := range e.weights {
		m[id] = w.WeightMultiplier
	}
	return domain.NewWeightSet(m)
}

// Weights returns the currently published immutable snapshot. Safe for
// concurrent use with RecomputeWeights; readers see either the old or the
// new complete set, never a partial update.
func (e *Engine) Weights() domain.WeightSet {
	return e.published.load()
}

// StrategyWeights returns a copy of the full per-strategy records for
// reporting and persistence.
func (e *Engine) StrategyWeights() []domain.StrategyWeight {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.StrategyWeight, 0, len(e.weights))
	for _, w := range e.weights {
		out = append(out, w)
	}
	return out
}
