package adapt

import (
	"context"
	"errors"

	"github.com/marketpulse/convictionrun/internal/domain"
)

// OutcomeRecorder matches the lifecycle manager's outcome sink contract.
type OutcomeRecorder interface {
	Record(ctx context.Context, outcome domain.TradeOutcome) error
}

// engineSink feeds closed trades into the adaptation engine.
type engineSink struct {
	engine *Engine
}

func (s engineSink) Record(_ context.Context, outcome domain.TradeOutcome) error {
	s.engine.RecordOutcome(outcome)
	return nil
}

// SinkFor exposes the engine as an OutcomeRecorder.
func SinkFor(e *Engine) OutcomeRecorder {
	return engineSink{engine: e}
}

// fanOut delivers each outcome to every sink, collecting errors instead of
// short-circuiting so one failing collaborator cannot starve the others.
type fanOut struct {
	sinks []OutcomeRecorder
}

func (f fanOut) Record(ctx context.Context, outcome domain.TradeOutcome) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Record(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FanOut combines several outcome sinks into one.
func FanOut(sinks ...OutcomeRecorder) OutcomeRecorder {
	return fanOut{sinks: sinks}
}
