package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marketpulse/convictionrun/internal/domain"
)

type recordingExec struct {
	submitted []domain.OrderIntent
}

func (r *recordingExec) Submit(_ context.Context, intent domain.OrderIntent) error {
	r.submitted = append(r.submitted, intent)
	return nil
}

type rejectingExec struct {
	rejected int
}

func (r *rejectingExec) Submit(_ context.Context, _ domain.OrderIntent) error {
	r.rejected++
	return domain.ErrOrderRejected
}

type captureSink struct {
	outcomes []domain.TradeOutcome
}

func (c *captureSink) Record(_ context.Context, outcome domain.TradeOutcome) error {
	c.outcomes = append(c.outcomes, outcome)
	return nil
}

func testPositionConfig() domain.PositionConfig {
	return domain.PositionConfig{
		Ticker:           "LOWF",
		StrategyID:       "convergence",
		Conviction:       0.76,
		EntryPrice:       10.00,
		StopLossPct:      0.08,
		Target1Pct:       0.10,
		Target2Pct:       0.25,
		TrailingStopPct:  0.08,
		ScaleOutFraction: 0.5,
	}
}

func openTestPosition(t *testing.T, exec Executor, sink OutcomeSink) *Manager {
	t.Helper()
	m, err := NewManager(DefaultConfig(), exec, sink)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Open(context.Background(), testPositionConfig(), 1000, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m
}

func tick(seq uint64, price float64) domain.Tick {
	return domain.Tick{Ticker: "LOWF", Price: price, Sequence: seq, At: time.Now()}
}

func TestOpenComputesLevels(t *testing.T) {
	exec := &recordingExec{}
	m := openTestPosition(t, exec, &captureSink{})

	pos, ok := m.Position("LOWF")
	if !ok {
		t.Fatal("position missing after open")
	}
	if pos.Stage != domain.StageOpened {
		t.Errorf("stage %s, want OPENED", pos.Stage)
	}
	if pos.StopPrice != 9.20 {
		t.Errorf("stop %.2f, want 9.20", pos.StopPrice)
	}
	if pos.Target1Price != 11.00 {
		t.Errorf("target1 %.2f, want 11.00", pos.Target1Price)
	}
	if pos.Target2Price != 12.50 {
		t.Errorf("target2 %.2f, want 12.50", pos.Target2Price)
	}
	if len(exec.submitted) != 1 || exec.submitted[0].Action != domain.ActionOpen {
		t.Errorf("expected one OPEN intent, got %v", exec.submitted)
	}
}

func TestOpenRejectedDoesNotTrack(t *testing.T) {
	m, err := NewManager(DefaultConfig(), &rejectingExec{}, &captureSink{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Open(context.Background(), testPositionConfig(), 1000, 1); !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("expected order rejection, got %v", err)
	}
	if _, ok := m.Position("LOWF"); ok {
		t.Error("rejected open must not create a position")
	}
}

func TestTarget1ScaleOutAndBreakeven(t *testing.T) {
	exec := &recordingExec{}
	m := openTestPosition(t, exec, &captureSink{})

	intents, err := m.OnTick(context.Background(), tick(2, 11.00))
	if err != nil {
		t.Fatalf("OnTick: %v", err)
	}

	pos, _ := m.Position("LOWF")
	if pos.Stage != domain.StagePartialT1 {
		t.Errorf("stage %s, want PARTIAL_T1", pos.Stage)
	}
	if pos.SharesRemaining != 500 {
		t.Errorf("shares remaining %d, want 500", pos.SharesRemaining)
	}
	if pos.StopPrice != 10.00 {
		t.Errorf("stop %.2f, want breakeven 10.00", pos.StopPrice)
	}

	if len(intents) != 2 {
		t.Fatalf("expected SCALE_OUT + ADJUST_STOP, got %d intents", len(intents))
	}
	if intents[0].Action != domain.ActionScaleOut || intents[0].Shares != 500 {
		t.Errorf("first intent %s/%d, want SCALE_OUT/500", intents[0].Action, intents[0].Shares)
	}
	if intents[1].Action != domain.ActionAdjustStop || intents[1].PriceOrStop != 10.00 {
		t.Errorf("second intent %s@%.2f, want ADJUST_STOP@10.00", intents[1].Action, intents[1].PriceOrStop)
	}
}

func TestBreakevenStopOut(t *testing.T) {
	sink := &captureSink{}
	m := openTestPosition(t, &recordingExec{}, sink)

	if _, err := m.OnTick(context.Background(), tick(2, 11.00)); err != nil {
		t.Fatalf("target1 tick: %v", err)
	}
	intents, err := m.OnTick(context.Background(), tick(3, 9.50))
	if err != nil {
		t.Fatalf("stop tick: %v", err)
	}

	pos, _ := m.Position("LOWF")
	if pos.Stage != domain.StageClosed {
		t.Errorf("stage %s, want CLOSED", pos.Stage)
	}
	if pos.SharesRemaining != 0 {
		t.Errorf("shares remaining %d, want 0", pos.SharesRemaining)
	}
	if len(intents) != 1 || intents[0].Action != domain.ActionClose || intents[0].Shares != 500 {
		t.Fatalf("expected CLOSE/500, got %v", intents)
	}

	if len(sink.outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(sink.outcomes))
	}
	out := sink.outcomes[0]
	if out.ExitReason != domain.ExitStop {
		t.Errorf("exit reason %s, want stop", out.ExitReason)
	}
	if out.Shares != 1000 {
		t.Errorf("outcome shares %d, want 1000", out.Shares)
	}
	// 500 @ 11.00 scale-out plus 500 @ 10.00 breakeven exit on 10000 in: +5%.
	if out.RealizedReturnPct < 4.99 || out.RealizedReturnPct > 5.01 {
		t.Errorf("realized return %.2f%%, want 5%%", out.RealizedReturnPct)
	}
}

func TestTrailingStopRatchet(t *testing.T) {
	exec := &recordingExec{}
	m := openTestPosition(t, exec, &captureSink{})

	ctx := context.Background()
	mustTick := func(seq uint64, price float64) []domain.OrderIntent {
		t.Helper()
		intents, err := m.OnTick(ctx, tick(seq, price))
		if err != nil {
			t.Fatalf("tick %d@%.2f: %v", seq, price, err)
		}
		return intents
	}

	mustTick(2, 11.00) // PARTIAL_T1
	mustTick(3, 12.50) // TRAILING, stop = 12.50*0.92 = 11.50

	pos, _ := m.Position("LOWF")
	if pos.Stage != domain.StageTrailing {
		t.Fatalf("stage %s, want TRAILING", pos.Stage)
	}
	if pos.StopPrice < 11.49 || pos.StopPrice > 11.51 {
		t.Errorf("trailing stop %.4f, want 11.50", pos.StopPrice)
	}

	mustTick(4, 13.00) // ratchet up to 11.96
	pos, _ = m.Position("LOWF")
	if pos.StopPrice < 11.95 || pos.StopPrice > 11.97 {
		t.Errorf("trailing stop %.4f, want 11.96", pos.StopPrice)
	}

	// A pullback above the stop must not move the stop down.
	if intents := mustTick(5, 12.20); len(intents) != 0 {
		t.Errorf("pullback emitted intents: %v", intents)
	}
	pos, _ = m.Position("LOWF")
	if pos.StopPrice < 11.95 || pos.StopPrice > 11.97 {
		t.Errorf("stop moved on pullback: %.4f", pos.StopPrice)
	}

	// Breach closes the remainder with the trailing reason.
	mustTick(6, 11.90)
	pos, _ = m.Position("LOWF")
	if pos.Stage != domain.StageClosed {
		t.Errorf("stage %s, want CLOSED after trailing breach", pos.Stage)
	}
}

func TestStaleTickIdempotent(t *testing.T) {
	m := openTestPosition(t, &recordingExec{}, &captureSink{})
	ctx := context.Background()

	if _, err := m.OnTick(ctx, tick(2, 11.00)); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	before, _ := m.Position("LOWF")

	// Replays at and below the processed sequence are dropped without effect,
	// even at prices that would otherwise trigger transitions.
	for _, replay := range []domain.Tick{tick(2, 11.00), tick(1, 9.00), tick(2, 13.00)} {
		intents, err := m.OnTick(ctx, replay)
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if len(intents) != 0 {
			t.Errorf("replay emitted intents: %v", intents)
		}
	}

	after, _ := m.Position("LOWF")
	if after != before {
		t.Errorf("state changed on replay:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestExitQuantitiesSumToOriginal(t *testing.T) {
	exec := &recordingExec{}
	m := openTestPosition(t, exec, &captureSink{})
	ctx := context.Background()

	m.OnTick(ctx, tick(2, 11.00))
	m.OnTick(ctx, tick(3, 9.50))

	var exited int64
	for _, intent := range exec.submitted {
		if intent.Action == domain.ActionScaleOut || intent.Action == domain.ActionClose {
			exited += intent.Shares
		}
	}
	if exited != 1000 {
		t.Errorf("exit quantities sum to %d, want 1000", exited)
	}
}

func TestRejectionRetriesThenFreezes(t *testing.T) {
	exec := &rejectingExec{}

	// Seed the position through an accepting executor, then swap in the
	// rejecting one for tick processing.
	accept := &recordingExec{}
	m, err := NewManager(Config{MaxConsecutiveRejections: 3}, accept, &captureSink{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Open(context.Background(), testPositionConfig(), 1000, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	m.exec = exec

	ctx := context.Background()
	for seq := uint64(2); seq <= 3; seq++ {
		_, err := m.OnTick(ctx, tick(seq, 11.00))
		if !errors.Is(err, domain.ErrOrderRejected) {
			t.Fatalf("seq %d: expected rejection, got %v", seq, err)
		}
		pos, _ := m.Position("LOWF")
		if pos.Stage != domain.StageOpened {
			t.Fatalf("seq %d: stage advanced despite rejection", seq)
		}
	}

	// Third consecutive rejection freezes the position.
	if _, err := m.OnTick(ctx, tick(4, 11.00)); !errors.Is(err, domain.ErrPositionFrozen) {
		t.Fatalf("expected freeze, got %v", err)
	}

	// Frozen positions ignore further ticks until cleared.
	intents, err := m.OnTick(ctx, tick(5, 11.00))
	if err != nil || len(intents) != 0 {
		t.Errorf("frozen position acted: intents=%v err=%v", intents, err)
	}

	// Manual clear resumes processing; swap back to an accepting executor.
	m.exec = accept
	if err := m.ClearFreeze("LOWF"); err != nil {
		t.Fatalf("ClearFreeze: %v", err)
	}
	if _, err := m.OnTick(ctx, tick(6, 11.00)); err != nil {
		t.Fatalf("post-clear tick: %v", err)
	}
	pos, _ := m.Position("LOWF")
	if pos.Stage != domain.StagePartialT1 {
		t.Errorf("stage %s after clear, want PARTIAL_T1", pos.Stage)
	}
}

// adjustRejectingExec accepts fills but declines stop adjustments while
// rejectAdjust is set. Every submission is journaled, accepted or not.
type adjustRejectingExec struct {
	submitted    []domain.OrderIntent
	rejectAdjust bool
}

func (a *adjustRejectingExec) Submit(_ context.Context, intent domain.OrderIntent) error {
	a.submitted = append(a.submitted, intent)
	if a.rejectAdjust && intent.Action == domain.ActionAdjustStop {
		return domain.ErrOrderRejected
	}
	return nil
}

func (a *adjustRejectingExec) count(action domain.OrderAction) int {
	n := 0
	for _, intent := range a.submitted {
		if intent.Action == action {
			n++
		}
	}
	return n
}

func TestScaleOutNotResubmittedAfterStopAdjustRejection(t *testing.T) {
	exec := &adjustRejectingExec{rejectAdjust: true}
	m := openTestPosition(t, exec, &captureSink{})
	ctx := context.Background()

	// The broker fills the scale-out but declines the breakeven adjustment.
	// The fill must commit; only the adjustment stays pending.
	if _, err := m.OnTick(ctx, tick(2, 11.00)); !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("expected stop adjustment rejection, got %v", err)
	}
	pos, _ := m.Position("LOWF")
	if pos.Stage != domain.StagePartialT1 || pos.SharesRemaining != 500 {
		t.Fatalf("accepted scale-out must commit: stage %s, shares %d", pos.Stage, pos.SharesRemaining)
	}
	if pos.StopPrice != 9.20 {
		t.Errorf("stop %.2f, want original 9.20 while the adjustment is pending", pos.StopPrice)
	}

	// The retry resubmits only the stop adjustment, never a second scale-out.
	if _, err := m.OnTick(ctx, tick(3, 11.00)); !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("expected retry rejection, got %v", err)
	}
	if got := exec.count(domain.ActionScaleOut); got != 1 {
		t.Fatalf("broker saw %d SCALE_OUT orders, want exactly 1", got)
	}

	// Broker recovers and the pending breakeven adjustment lands.
	exec.rejectAdjust = false
	if _, err := m.OnTick(ctx, tick(4, 11.00)); err != nil {
		t.Fatalf("post-recovery tick: %v", err)
	}
	pos, _ = m.Position("LOWF")
	if pos.StopPrice != 10.00 {
		t.Errorf("stop %.2f, want breakeven 10.00 after recovery", pos.StopPrice)
	}
	if got := exec.count(domain.ActionScaleOut); got != 1 {
		t.Errorf("broker saw %d SCALE_OUT orders after recovery, want exactly 1", got)
	}
}

func TestTrailingStageCommitsWhenTrailBelowStop(t *testing.T) {
	// Tight targets with a wide trail: at target2 the computed trail
	// 11.00*0.85 = 9.35 sits below the breakeven stop. The stage must still
	// advance; the stop holds until the trail ratchets past it.
	cfg := testPositionConfig()
	cfg.Target1Pct = 0.05
	cfg.Target2Pct = 0.10
	cfg.TrailingStopPct = 0.15

	exec := &recordingExec{}
	m, err := NewManager(DefaultConfig(), exec, &captureSink{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if _, err := m.Open(ctx, cfg, 1000, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := m.OnTick(ctx, tick(2, 10.50)); err != nil {
		t.Fatalf("target1 tick: %v", err)
	}
	intents, err := m.OnTick(ctx, tick(3, 11.00))
	if err != nil {
		t.Fatalf("target2 tick: %v", err)
	}
	if len(intents) != 0 {
		t.Errorf("trail below stop emitted intents: %v", intents)
	}

	pos, _ := m.Position("LOWF")
	if pos.Stage != domain.StageTrailing {
		t.Fatalf("stage %s after target2, want TRAILING", pos.Stage)
	}
	if pos.StopPrice != 10.00 {
		t.Errorf("stop %.2f, want breakeven 10.00 held", pos.StopPrice)
	}

	// Once the trail clears the stop it ratchets normally: 12.00*0.85 = 10.20.
	if _, err := m.OnTick(ctx, tick(4, 12.00)); err != nil {
		t.Fatalf("ratchet tick: %v", err)
	}
	pos, _ = m.Position("LOWF")
	if pos.StopPrice < 10.19 || pos.StopPrice > 10.21 {
		t.Errorf("trailing stop %.4f, want 10.20", pos.StopPrice)
	}

	// A breach closes with the trailing reason.
	if _, err := m.OnTick(ctx, tick(5, 10.10)); err != nil {
		t.Fatalf("breach tick: %v", err)
	}
	pos, _ = m.Position("LOWF")
	if pos.Stage != domain.StageClosed {
		t.Errorf("stage %s, want CLOSED after breach", pos.Stage)
	}
}

func TestZeroShareScaleOutSkipped(t *testing.T) {
	exec := &recordingExec{}
	m, err := NewManager(DefaultConfig(), exec, &captureSink{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if _, err := m.Open(ctx, testPositionConfig(), 1, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// floor(1 * 0.5) = 0: no zero-share order goes to the broker, but the
	// stop still moves to breakeven and the stage advances.
	intents, err := m.OnTick(ctx, tick(2, 11.00))
	if err != nil {
		t.Fatalf("target1 tick: %v", err)
	}
	if len(intents) != 1 || intents[0].Action != domain.ActionAdjustStop {
		t.Fatalf("expected single ADJUST_STOP, got %v", intents)
	}

	pos, _ := m.Position("LOWF")
	if pos.Stage != domain.StagePartialT1 {
		t.Errorf("stage %s, want PARTIAL_T1", pos.Stage)
	}
	if pos.SharesRemaining != 1 {
		t.Errorf("shares remaining %d, want 1", pos.SharesRemaining)
	}
	if pos.StopPrice != 10.00 {
		t.Errorf("stop %.2f, want breakeven 10.00", pos.StopPrice)
	}
}

func TestOpenRiskAggregation(t *testing.T) {
	m := openTestPosition(t, &recordingExec{}, &captureSink{})

	// 1000 shares with an 0.80 stop distance.
	if risk := m.OpenRiskDollars(); risk < 799.99 || risk > 800.01 {
		t.Errorf("open risk %.2f, want 800", risk)
	}

	if _, err := m.OnTick(context.Background(), tick(2, 9.10)); err != nil {
		t.Fatalf("stop tick: %v", err)
	}
	if risk := m.OpenRiskDollars(); risk != 0 {
		t.Errorf("open risk %.2f after close, want 0", risk)
	}
}
