package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/marketpulse/convictionrun/internal/domain"
)

// OutcomesRepo persists closed-trade outcomes for the adaptation engine and
// for audit. Schema:
//
//	CREATE TABLE trade_outcomes (
//	    id                  BIGSERIAL PRIMARY KEY,
//	    ticker              TEXT        NOT NULL,
//	    strategy_id         TEXT        NOT NULL,
//	    entry_price         DOUBLE PRECISION NOT NULL,
//	    exit_price          DOUBLE PRECISION NOT NULL,
//	    shares              BIGINT      NOT NULL,
//	    realized_return_pct DOUBLE PRECISION NOT NULL,
//	    duration_ns         BIGINT      NOT NULL,
//	    exit_reason         TEXT        NOT NULL,
//	    closed_at           TIMESTAMPTZ NOT NULL,
//	    UNIQUE (ticker, closed_at)
//	)
type OutcomesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOutcomesRepo creates a PostgreSQL outcomes repository.
func NewOutcomesRepo(db *sqlx.DB, timeout time.Duration) *OutcomesRepo {
	return &OutcomesRepo{db: db, timeout: timeout}
}

// Record inserts one outcome. Duplicate close events for the same ticker
// and timestamp are reported distinctly so the caller can treat a replayed
// close as already persisted.
func (r *OutcomesRepo) Record(ctx context.Context, outcome domain.TradeOutcome) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO trade_outcomes
			(ticker, strategy_id, entry_price, exit_price, shares,
			 realized_return_pct, duration_ns, exit_reason, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		outcome.Ticker, outcome.StrategyID, outcome.EntryPrice, outcome.ExitPrice,
		outcome.Shares, outcome.RealizedReturnPct, int64(outcome.Duration),
		string(outcome.ExitReason), outcome.ClosedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate outcome for %s at %s: %w", outcome.Ticker, outcome.ClosedAt, err)
		}
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// ListByStrategy returns outcomes for one strategy ordered by close time,
// used to warm the adaptation engine at startup.
func (r *OutcomesRepo) ListByStrategy(ctx context.Context, strategyID string, limit int) ([]domain.TradeOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ticker, strategy_id, entry_price, exit_price, shares,
		       realized_return_pct, duration_ns, exit_reason, closed_at
		FROM trade_outcomes
		WHERE strategy_id = $1
		ORDER BY closed_at ASC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeOutcome
	for rows.Next() {
		var (
			o          domain.TradeOutcome
			durationNS int64
			reason     string
		)
		if err := rows.Scan(&o.Ticker, &o.StrategyID, &o.EntryPrice, &o.ExitPrice,
			&o.Shares, &o.RealizedReturnPct, &durationNS, &reason, &o.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Duration = time.Duration(durationNS)
		o.ExitReason = domain.ExitReason(reason)
		out = append(out, o)
	}
	return out, rows.Err()
}
