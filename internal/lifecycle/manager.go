package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketpulse/convictionrun/internal/domain"
	"github.com/marketpulse/convictionrun/internal/metrics"
)

// Executor submits order intents to the broker-execution collaborator.
// A decline is reported as an error wrapping domain.ErrOrderRejected.
type Executor interface {
	Submit(ctx context.Context, intent domain.OrderIntent) error
}

// OutcomeSink receives the trade outcome exactly once when a position
// reaches CLOSED.
type OutcomeSink interface {
	Record(ctx context.Context, outcome domain.TradeOutcome) error
}

// Config bounds the manager's rejection handling.
type Config struct {
	MaxConsecutiveRejections int `yaml:"max_consecutive_rejections"`
}

// DefaultConfig returns production rejection bounds.
func DefaultConfig() Config {
	return Config{MaxConsecutiveRejections: 3}
}

// Validate rejects rejection bounds out of allowed range at load time.
func (c Config) Validate() error {
	if c.MaxConsecutiveRejections <= 0 {
		return fmt.Errorf("%w: max_consecutive_rejections %d must be positive",
			domain.ErrInvalidConfiguration, c.MaxConsecutiveRejections)
	}
	return nil
}

// entry is the per-ticker lifecycle state. Its mutex serializes tick
// processing for one ticker; different tickers share nothing mutable.
type entry struct {
	mu               sync.Mutex
	pos              domain.Position
	cfg              domain.PositionConfig
	realizedProceeds float64
	rejections       int
	frozen           bool
}

// Manager owns the process-scoped position table and applies the exit
// lifecycle to every price tick. Stage transitions only move forward along
// OPENED -> PARTIAL_T1 -> TRAILING -> CLOSED; a transition is committed only
// after the broker accepts the intents it emits.
type Manager struct {
	cfg      Config
	exec     Executor
	outcomes OutcomeSink

	mu    sync.RWMutex
	table map[string]*entry
}

// NewManager builds a manager over a validated config.
func NewManager(cfg Config, exec Executor, outcomes OutcomeSink) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		exec:     exec,
		outcomes: outcomes,
		table:    make(map[string]*entry),
	}, nil
}

// Open creates a position atomically with the first fill: entry price,
// computed stop and both target prices derive from the position config. The
// OPEN intent must be accepted by the broker before the position exists; a
// rejection surfaces immediately instead of tracking an unfilled position.
func (m *Manager) Open(ctx context.Context, cfg domain.PositionConfig, shares int64, seq uint64) (domain.Position, error) {
	if err := cfg.Validate(); err != nil {
		return domain.Position{}, err
	}
	if shares <= 0 {
		return domain.Position{}, fmt.Errorf("%w: cannot open %s with %d shares",
			domain.ErrInvalidConfiguration, cfg.Ticker, shares)
	}

	m.mu.Lock()
	if e, ok := m.table[cfg.Ticker]; ok && e.pos.Stage != domain.StageClosed {
		m.mu.Unlock()
		return domain.Position{}, fmt.Errorf("position already open for %s", cfg.Ticker)
	}
	m.mu.Unlock()

	now := time.Now().UTC()
	pos := domain.Position{
		Ticker:          cfg.Ticker,
		StrategyID:      cfg.StrategyID,
		SharesRemaining: shares,
		SharesOriginal:  shares,
		EntryPrice:      cfg.EntryPrice,
		StopPrice:       cfg.EntryPrice * (1 - cfg.StopLossPct),
		Target1Price:    cfg.EntryPrice * (1 + cfg.Target1Pct),
		Target2Price:    cfg.EntryPrice * (1 + cfg.Target2Pct),
		HighWaterMark:   cfg.EntryPrice,
		Stage:           domain.StageOpened,
		OpenedAt:        now,
		LastSequence:    seq,
	}

	intent := newIntent(cfg.Ticker, domain.ActionOpen, shares, cfg.EntryPrice,
		fmt.Sprintf("open %s conviction %.2f", cfg.StrategyID, cfg.Conviction))
	if err := m.exec.Submit(ctx, intent); err != nil {
		metrics.OrderRejections.WithLabelValues(string(domain.ActionOpen)).Inc()
		return domain.Position{}, fmt.Errorf("open %s: %w", cfg.Ticker, err)
	}
	metrics.OrderIntents.WithLabelValues(string(domain.ActionOpen)).Inc()

	m.mu.Lock()
	m.table[cfg.Ticker] = &entry{pos: pos, cfg: cfg}
	m.mu.Unlock()

	log.Info().
		Str("ticker", cfg.Ticker).
		Str("strategy", cfg.StrategyID).
		Int64("shares", shares).
		Float64("entry", pos.EntryPrice).
		Float64("stop", pos.StopPrice).
		Msg("position opened")
	return pos, nil
}

// step is one unit of a staged transition: at most one order intent plus the
// position state that becomes true once the broker accepts it. Steps commit
// one at a time, so a rejection mid-transition keeps what the broker already
// filled and only the remainder is retried on the next tick.
type step struct {
	intent        *domain.OrderIntent
	stage         domain.Stage
	sharesAfter   int64
	stopAfter     float64
	proceedsDelta float64
	exitReason    domain.ExitReason
	closes        bool
}

// transition is the ordered list of steps one tick produces.
type transition struct {
	steps         []step
	highWaterMark float64
}

// OnTick applies one price tick to the ticker's position, emitting the order
// intents the lifecycle rules require. Ticks at or below the last processed
// sequence number are dropped without effect, which makes replays and
// out-of-order delivery harmless.
func (m *Manager) OnTick(ctx context.Context, tick domain.Tick) ([]domain.OrderIntent, error) {
	m.mu.RLock()
	e, ok := m.table[tick.Ticker]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pos.Stage == domain.StageClosed {
		return nil, nil
	}
	if tick.Sequence <= e.pos.LastSequence {
		metrics.StaleTicks.Inc()
		log.Debug().Str("ticker", tick.Ticker).
			Uint64("seq", tick.Sequence).
			Uint64("last", e.pos.LastSequence).
			Msg("stale tick dropped")
		return nil, nil
	}
	if e.frozen {
		e.pos.LastSequence = tick.Sequence
		log.Warn().Str("ticker", tick.Ticker).Msg("position frozen, tick ignored")
		return nil, nil
	}

	tr := evaluate(e.pos, e.cfg, tick)
	e.pos.LastSequence = tick.Sequence
	e.pos.HighWaterMark = tr.highWaterMark

	var (
		emitted []domain.OrderIntent
		closed  bool
		reason  domain.ExitReason
	)
	for _, st := range tr.steps {
		if st.intent != nil {
			if err := m.exec.Submit(ctx, *st.intent); err != nil {
				return emitted, m.handleRejection(e, *st.intent, err)
			}
			metrics.OrderIntents.WithLabelValues(string(st.intent.Action)).Inc()
			emitted = append(emitted, *st.intent)
		}
		e.pos.Stage = st.stage
		e.pos.SharesRemaining = st.sharesAfter
		e.pos.StopPrice = st.stopAfter
		e.realizedProceeds += st.proceedsDelta
		if st.closes {
			closed = true
			reason = st.exitReason
		}
	}
	if len(tr.steps) == 0 {
		return nil, nil
	}
	e.rejections = 0

	log.Info().
		Str("ticker", tick.Ticker).
		Str("stage", e.pos.Stage.String()).
		Float64("price", tick.Price).
		Int64("shares_remaining", e.pos.SharesRemaining).
		Float64("stop", e.pos.StopPrice).
		Msg("position transition")

	if closed {
		m.finalize(ctx, e, reason)
	}
	return emitted, nil
}

// evaluate computes the staged steps for one tick. First matching rule wins,
// in the documented rule order; the stop check always runs against the stop
// in force before this tick.
func evaluate(pos domain.Position, cfg domain.PositionConfig, tick domain.Tick) transition {
	tr := transition{highWaterMark: math.Max(pos.HighWaterMark, tick.Price)}
	stage, shares, stop := pos.Stage, pos.SharesRemaining, pos.StopPrice

	// Rule 1: stop hit closes everything remaining.
	if tick.Price <= stop {
		reason := domain.ExitStop
		if stage == domain.StageTrailing {
			reason = domain.ExitTrailing
		}
		intent := newIntent(pos.Ticker, domain.ActionClose, shares, stop,
			fmt.Sprintf("price %.4f at or below stop %.4f", tick.Price, stop))
		tr.steps = append(tr.steps, step{
			intent:        &intent,
			stage:         domain.StageClosed,
			sharesAfter:   0,
			stopAfter:     stop,
			proceedsDelta: float64(shares) * stop,
			exitReason:    reason,
			closes:        true,
		})
		return tr
	}

	// Rule 2: first target scales out and moves the stop to breakeven. The
	// fill and the stop adjustment commit independently, so a rejected
	// adjustment after an accepted fill never re-emits the fill. Positions
	// too small to scale out skip the fill and only move the stop.
	if stage == domain.StageOpened && tick.Price >= pos.Target1Price {
		if scaleOut := int64(math.Floor(float64(pos.SharesOriginal) * cfg.ScaleOutFraction)); scaleOut > 0 {
			shares -= scaleOut
			intent := newIntent(pos.Ticker, domain.ActionScaleOut, scaleOut, tick.Price,
				fmt.Sprintf("target1 %.4f reached", pos.Target1Price))
			tr.steps = append(tr.steps, step{
				intent:        &intent,
				stage:         domain.StagePartialT1,
				sharesAfter:   shares,
				stopAfter:     stop,
				proceedsDelta: float64(scaleOut) * tick.Price,
			})
		}
		stage = domain.StagePartialT1
		stop = pos.EntryPrice
		intent := newIntent(pos.Ticker, domain.ActionAdjustStop, shares, stop,
			"breakeven stop after scale-out")
		tr.steps = append(tr.steps, step{intent: &intent, stage: stage, sharesAfter: shares, stopAfter: stop})
		return tr
	}

	// Rule 2 remainder: the breakeven adjustment was rejected on an earlier
	// tick while the scale-out stood; retry it before anything else at this
	// stage.
	if stage == domain.StagePartialT1 && stop < pos.EntryPrice {
		stop = pos.EntryPrice
		intent := newIntent(pos.Ticker, domain.ActionAdjustStop, shares, stop, "breakeven stop retry")
		tr.steps = append(tr.steps, step{intent: &intent, stage: stage, sharesAfter: shares, stopAfter: stop})
	}

	// Rule 3: second target arms the trailing stop. The stage advances even
	// when the computed trail still sits below the stop in force.
	if stage == domain.StagePartialT1 && tick.Price >= pos.Target2Price {
		stage = domain.StageTrailing
		st := step{stage: stage, sharesAfter: shares, stopAfter: stop}
		if trail := tr.highWaterMark * (1 - cfg.TrailingStopPct); trail > stop {
			stop = trail
			st.stopAfter = stop
			intent := newIntent(pos.Ticker, domain.ActionAdjustStop, shares, stop,
				fmt.Sprintf("trailing armed at target2 %.4f", pos.Target2Price))
			st.intent = &intent
		}
		tr.steps = append(tr.steps, st)
		return tr
	}

	// Rule 4: trailing stop ratchets up with the high-water mark, never down.
	if stage == domain.StageTrailing {
		if trail := tr.highWaterMark * (1 - cfg.TrailingStopPct); trail > stop {
			stop = trail
			intent := newIntent(pos.Ticker, domain.ActionAdjustStop, shares, stop,
				fmt.Sprintf("trailing stop ratchet from hwm %.4f", tr.highWaterMark))
			tr.steps = append(tr.steps, step{intent: &intent, stage: stage, sharesAfter: shares, stopAfter: stop})
		}
		return tr
	}

	// Rule 5: no transition, high-water mark already carried forward.
	return tr
}

// handleRejection counts a broker decline without advancing the position.
// The same transition is recomputed and retried on the next tick; after the
// configured bound the position freezes and surfaces a fatal alert.
func (m *Manager) handleRejection(e *entry, intent domain.OrderIntent, err error) error {
	e.rejections++
	metrics.OrderRejections.WithLabelValues(string(intent.Action)).Inc()
	log.Warn().
		Err(err).
		Str("ticker", intent.Ticker).
		Str("action", string(intent.Action)).
		Int("consecutive", e.rejections).
		Msg("order intent rejected, will retry next tick")

	if e.rejections >= m.cfg.MaxConsecutiveRejections {
		e.frozen = true
		metrics.FrozenPositions.Inc()
		log.Error().
			Str("ticker", intent.Ticker).
			Int("rejections", e.rejections).
			Msg("FATAL: position frozen after repeated broker rejections, manual clear required")
		return fmt.Errorf("%s: %w", intent.Ticker, domain.ErrPositionFrozen)
	}
	if errors.Is(err, domain.ErrOrderRejected) {
		return err
	}
	return fmt.Errorf("%s: %w", intent.Ticker, domain.ErrOrderRejected)
}

// finalize stamps the close and hands the outcome to the sink. Persistence
// failures are logged, not allowed to unwind an already-committed close.
func (m *Manager) finalize(ctx context.Context, e *entry, reason domain.ExitReason) {
	now := time.Now().UTC()
	e.pos.ClosedAt = &now

	invested := float64(e.pos.SharesOriginal) * e.pos.EntryPrice
	var returnPct float64
	if invested > 0 {
		returnPct = (e.realizedProceeds/invested - 1) * 100
	}

	outcome := domain.TradeOutcome{
		Ticker:            e.pos.Ticker,
		StrategyID:        e.pos.StrategyID,
		EntryPrice:        e.pos.EntryPrice,
		ExitPrice:         e.pos.StopPrice,
		Shares:            e.pos.SharesOriginal,
		RealizedReturnPct: returnPct,
		Duration:          now.Sub(e.pos.OpenedAt),
		ExitReason:        reason,
		ClosedAt:          now,
	}

	metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()
	log.Info().
		Str("ticker", outcome.Ticker).
		Str("exit_reason", string(reason)).
		Float64("return_pct", returnPct).
		Dur("held", outcome.Duration).
		Msg("position closed")

	if m.outcomes != nil {
		if err := m.outcomes.Record(ctx, outcome); err != nil {
			log.Error().Err(err).Str("ticker", outcome.Ticker).Msg("outcome persistence failed")
		}
	}
}

// Position returns a copy of the current state for one ticker.
func (m *Manager) Position(ticker string) (domain.Position, bool) {
	m.mu.RLock()
	e, ok := m.table[ticker]
	m.mu.RUnlock()
	if !ok {
		return domain.Position{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, true
}

// Positions returns a stable-ordered copy of the whole position table.
func (m *Manager) Positions() []domain.Position {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.table))
	for _, e := range m.table {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]domain.Position, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.pos)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// OpenRiskDollars reports the aggregate dollar risk across open positions,
// the quantity the portfolio heat cap constrains.
func (m *Manager) OpenRiskDollars() float64 {
	var total float64
	for _, pos := range m.Positions() {
		if pos.Stage == domain.StageClosed {
			continue
		}
		if risk := (pos.EntryPrice - pos.StopPrice) * float64(pos.SharesRemaining); risk > 0 {
			total += risk
		}
	}
	return total
}

// ClearFreeze re-enables automated intents for a ticker after operator
// review of repeated rejections.
func (m *Manager) ClearFreeze(ticker string) error {
	m.mu.RLock()
	e, ok := m.table[ticker]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no position for %s", ticker)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frozen = false
	e.rejections = 0
	log.Info().Str("ticker", ticker).Msg("position freeze cleared")
	return nil
}

func newIntent(ticker string, action domain.OrderAction, shares int64, price float64, reason string) domain.OrderIntent {
	return domain.OrderIntent{
		ID:          uuid.NewString(),
		Ticker:      ticker,
		Action:      action,
		Shares:      shares,
		PriceOrStop: price,
		Reason:      reason,
		EmittedAt:   time.Now().UTC(),
	}
}
