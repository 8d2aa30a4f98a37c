package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/marketpulse/convictionrun/internal/config"
	"github.com/marketpulse/convictionrun/internal/domain"
	"github.com/marketpulse/convictionrun/internal/metrics"
)

// SourceFetcher retrieves one raw indicator for one ticker. Implementations
// talk to external data collaborators and may block; the pipeline bounds
// them with timeouts, retries, a rate limit and a circuit breaker.
type SourceFetcher interface {
	Source() domain.SourceID
	Fetch(ctx context.Context, ticker string) (domain.Indicator, error)
}

// guardedFetcher wraps a SourceFetcher with the retrieval bounds. A fetch
// that exhausts its budget degrades to an explicit unavailable indicator
// instead of failing the scoring pass.
type guardedFetcher struct {
	inner   SourceFetcher
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	retries int
	timeout time.Duration
}

func newGuardedFetcher(inner SourceFetcher, cfg config.FetchConfig) *guardedFetcher {
	settings := gobreaker.Settings{
		Name:    string(inner.Source()),
		Timeout: cfg.BreakerCooloff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFail
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("source", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("signal source breaker state change")
		},
	}
	return &guardedFetcher{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		retries: cfg.Retries,
		timeout: cfg.Timeout,
	}
}

// fetch returns an available indicator or the unavailable marker; it never
// returns an error to the caller. DataUnavailable recovers locally.
func (g *guardedFetcher) fetch(ctx context.Context, ticker string) domain.Indicator {
	src := g.inner.Source()

	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		out, err := g.breaker.Execute(func() (interface{}, error) {
			fetchCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()
			return g.inner.Fetch(fetchCtx, ticker)
		})
		if err == nil {
			return out.(domain.Indicator)
		}
		lastErr = err
		log.Debug().Err(err).
			Str("source", string(src)).
			Str("ticker", ticker).
			Int("attempt", attempt+1).
			Msg("signal fetch failed")
	}

	metrics.SignalFetchFailures.WithLabelValues(string(src)).Inc()
	reason := "fetch exhausted"
	if lastErr != nil {
		reason = fmt.Sprintf("%s: %v", domain.ErrDataUnavailable, lastErr)
	}
	return domain.UnavailableIndicator(src, reason)
}
