package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketpulse/convictionrun/internal/domain"
)

// WeightsRepo persists adaptive strategy weights across restarts. Schema:
//
//	CREATE TABLE strategy_weights (
//	    strategy_id       TEXT PRIMARY KEY,
//	    weight_multiplier DOUBLE PRECISION NOT NULL,
//	    sample_size       INTEGER NOT NULL,
//	    win_rate          DOUBLE PRECISION NOT NULL,
//	    expectancy        DOUBLE PRECISION NOT NULL,
//	    last_updated      TIMESTAMPTZ NOT NULL
//	)
type WeightsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewWeightsRepo creates a PostgreSQL weights repository.
func NewWeightsRepo(db *sqlx.DB, timeout time.Duration) *WeightsRepo {
	return &WeightsRepo{db: db, timeout: timeout}
}

// Upsert stores the current weight record for one strategy.
func (r *WeightsRepo) Upsert(ctx context.Context, w domain.StrategyWeight) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO strategy_weights
			(strategy_id, weight_multiplier, sample_size, win_rate, expectancy, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (strategy_id) DO UPDATE SET
			weight_multiplier = EXCLUDED.weight_multiplier,
			sample_size       = EXCLUDED.sample_size,
			win_rate          = EXCLUDED.win_rate,
			expectancy        = EXCLUDED.expectancy,
			last_updated      = EXCLUDED.last_updated`

	if _, err := r.db.ExecContext(ctx, query,
		w.StrategyID, w.WeightMultiplier, w.SampleSize, w.WinRate, w.Expectancy, w.LastUpdated); err != nil {
		return fmt.Errorf("upsert weight %s: %w", w.StrategyID, err)
	}
	return nil
}

// LoadAll returns every stored weight record, keyed by strategy.
func (r *WeightsRepo) LoadAll(ctx context.Context) (map[string]domain.StrategyWeight, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []domain.StrategyWeight
	query := `
		SELECT strategy_id, weight_multiplier, sample_size, win_rate, expectancy, last_updated
		FROM strategy_weights`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}

	out := make(map[string]domain.StrategyWeight, len(rows))
	for _, w := range rows {
		out[w.StrategyID] = w
	}
	return out, nil
}
