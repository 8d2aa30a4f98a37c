package domain

import "time"

// StrategyWeight is the adaptive trust level for one strategy/source.
// WeightMultiplier starts at 1.0 and stays within the configured bounds for
// the life of the process.
type StrategyWeight struct {
	StrategyID       string    `json:"strategy_id" db:"strategy_id"`
	WeightMultiplier float64   `json:"weight_multiplier" db:"weight_multiplier"`
	SampleSize       int       `json:"sample_size" db:"sample_size"`
	WinRate          float64   `json:"win_rate" db:"win_rate"`
	Expectancy       float64   `json:"expectancy" db:"expectancy"`
	LastUpdated      time.Time `json:"last_updated" db:"last_updated"`
}

// WeightSet is an immutable snapshot of per-strategy multipliers. The scorer
// reads one snapshot for the duration of a scoring pass; the adaptation
// engine publishes replacements atomically.
type WeightSet struct {
	weights map[string]float64
}

// NewWeightSet copies the given multipliers into an immutable snapshot.
func NewWeightSet(weights map[string]float64) WeightSet {
	cp := make(map[string]float64, len(weights))
	for k, v := range weights {
		cp[k] = v
	}
	return WeightSet{weights: cp}
}

// Get returns the multiplier for a strategy, defaulting to 1.0 when the
// strategy has no learned weight yet.
func (ws WeightSet) Get(strategyID string) float64 {
	if ws.weights == nil {
		return 1.0
	}
	if w, ok := ws.weights[strategyID]; ok {
		return w
	}
	return 1.0
}

// Len reports how many strategies carry a learned weight.
func (ws WeightSet) Len() int { return len(ws.weights) }
