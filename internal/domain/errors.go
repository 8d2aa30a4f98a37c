package domain

import "errors"

// Error taxonomy. DataUnavailable and StaleTick recover locally and never
// propagate past the component that observes them. InvalidConfiguration is
// fatal at load time. OrderRejected is retried up to a bound, then surfaced.
var (
	// ErrDataUnavailable marks a signal source that failed or returned
	// nothing; the affected signal contributes 0 and scoring continues.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrInvalidConfiguration marks parameters out of allowed range,
	// rejected at configuration-load time.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrOrderRejected marks a broker decline of an order intent.
	ErrOrderRejected = errors.New("order rejected")

	// ErrStaleTick marks a tick at or below the last processed sequence
	// number; dropped silently, not an error condition.
	ErrStaleTick = errors.New("stale tick")

	// ErrPositionFrozen marks a position whose automated intents are
	// suspended after repeated broker rejections, pending manual clear.
	ErrPositionFrozen = errors.New("position frozen")
)
