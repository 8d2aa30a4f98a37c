package broker

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/convictionrun/internal/domain"
)

// PaperExecutor accepts every intent and keeps a journal of what it saw.
// It stands in for the broker-execution collaborator in dry runs and tests;
// the wire protocol of a real broker is out of scope here.
type PaperExecutor struct {
	mu      sync.Mutex
	journal []domain.OrderIntent
}

// NewPaperExecutor builds an empty paper executor.
func NewPaperExecutor() *PaperExecutor {
	return &PaperExecutor{}
}

// Submit records the intent and accepts it.
func (p *PaperExecutor) Submit(ctx context.Context, intent domain.OrderIntent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.journal = append(p.journal, intent)
	p.mu.Unlock()

	log.Info().
		Str("ticker", intent.Ticker).
		Str("action", string(intent.Action)).
		Int64("shares", intent.Shares).
		Float64("price", intent.PriceOrStop).
		Str("reason", intent.Reason).
		Msg("paper fill")
	return nil
}

// Journal returns a copy of every intent submitted so far.
func (p *PaperExecutor) Journal() []domain.OrderIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OrderIntent, len(p.journal))
	copy(out, p.journal)
	return out
}
