package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/marketpulse/convictionrun/internal/domain"
)

// TickHandler consumes one inbound tick. Handlers for different tickers may
// run concurrently upstream; per-ticker ordering is the lifecycle manager's
// concern via sequence numbers.
type TickHandler func(ctx context.Context, tick domain.Tick)

// TickFeed reads price ticks from a websocket collaborator. Messages are
// JSON-encoded domain.Tick frames tagged with per-ticker sequence numbers.
type TickFeed struct {
	url     string
	backoff time.Duration
}

// NewTickFeed builds a feed for the given websocket URL.
func NewTickFeed(url string) *TickFeed {
	return &TickFeed{url: url, backoff: time.Second}
}

// Run connects and dispatches ticks until the context is cancelled,
// reconnecting with capped backoff on connection loss. Malformed frames are
// logged and skipped.
func (f *TickFeed) Run(ctx context.Context, handler TickHandler) error {
	backoff := f.backoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := f.consume(ctx, handler); err != nil {
			log.Warn().Err(err).Str("url", f.url).Dur("backoff", backoff).Msg("tick feed disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *TickFeed) consume(ctx context.Context, handler TickHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()
	log.Info().Str("url", f.url).Msg("tick feed connected")

	// Unblock ReadMessage on cancellation.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		var tick domain.Tick
		if err := json.Unmarshal(msg, &tick); err != nil {
			log.Warn().Err(err).Msg("malformed tick frame skipped")
			continue
		}
		if tick.Ticker == "" || tick.Price <= 0 {
			log.Warn().Str("ticker", tick.Ticker).Float64("price", tick.Price).Msg("invalid tick skipped")
			continue
		}
		handler(ctx, tick)
	}
}
