package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketpulse/convictionrun/internal/config"
	"github.com/marketpulse/convictionrun/internal/domain"
	"github.com/marketpulse/convictionrun/internal/lifecycle"
	"github.com/marketpulse/convictionrun/internal/metrics"
	"github.com/marketpulse/convictionrun/internal/score"
	"github.com/marketpulse/convictionrun/internal/signals"
	"github.com/marketpulse/convictionrun/internal/sizing"
)

// MarketData supplies the raw per-ticker snapshot frame (current price,
// volume baseline, tick sequence) from an external collaborator.
type MarketData interface {
	Frame(ctx context.Context, ticker string) (price, volumeBaseline float64, sequence uint64, err error)
}

// SnapshotCache stores the last-known-good snapshot per ticker so a flaky
// market-data collaborator degrades to slightly stale data instead of
// dropping the ticker from the pass.
type SnapshotCache interface {
	Get(ctx context.Context, ticker string) (domain.Snapshot, bool)
	Put(ctx context.Context, snap domain.Snapshot)
}

// WeightSource yields the immutable weight snapshot one scoring pass reads.
type WeightSource interface {
	Weights() domain.WeightSet
}

// Pipeline runs one full scoring pass: fetch indicators across a bounded
// worker pool, normalize, score against the current weight snapshot, gate,
// size and open positions for actionable tickers.
type Pipeline struct {
	cfg      config.Config
	fetchers []*guardedFetcher
	scorer   *score.Scorer
	sizer    *sizing.Sizer
	manager  *lifecycle.Manager
	weights  WeightSource
	market   MarketData
	cache    SnapshotCache

	// latest observed sequence per ticker; a scoring pass started on an
	// older sequence abandons its result (last-tick-wins).
	seqMu     sync.Mutex
	latestSeq map[string]uint64
}

// New assembles a pipeline. cache may be nil; everything else is required.
func New(cfg config.Config, fetchers []SourceFetcher, scorer *score.Scorer, sizer *sizing.Sizer,
	manager *lifecycle.Manager, weights WeightSource, market MarketData, cache SnapshotCache) (*Pipeline, error) {
	if scorer == nil || sizer == nil || manager == nil || weights == nil || market == nil {
		return nil, fmt.Errorf("%w: pipeline missing a required collaborator", domain.ErrInvalidConfiguration)
	}
	guarded := make([]*guardedFetcher, 0, len(fetchers))
	for _, f := range fetchers {
		guarded = append(guarded, newGuardedFetcher(f, cfg.Fetch))
	}
	return &Pipeline{
		cfg:       cfg,
		fetchers:  guarded,
		scorer:    scorer,
		sizer:     sizer,
		manager:   manager,
		weights:   weights,
		market:    market,
		cache:     cache,
		latestSeq: make(map[string]uint64),
	}, nil
}

// NoteTick records a fresher sequence for a ticker. An in-flight scoring
// pass for that ticker started on an older sequence will drop its result.
func (p *Pipeline) NoteTick(ticker string, sequence uint64) {
	p.seqMu.Lock()
	if sequence > p.latestSeq[ticker] {
		p.latestSeq[ticker] = sequence
	}
	p.seqMu.Unlock()
}

func (p *Pipeline) superseded(ticker string, sequence uint64) bool {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	return p.latestSeq[ticker] > sequence
}

// Scan scores every ticker in the universe across a bounded worker pool.
// One ticker's failures never block or fail the others.
func (p *Pipeline) Scan(ctx context.Context, tickers []string) []domain.ConvergenceResult {
	runID := uuid.NewString()
	started := time.Now()
	metrics.ScansTotal.Inc()
	log.Info().Str("run_id", runID).Int("universe", len(tickers)).Msg("scan started")

	sem := make(chan struct{}, p.cfg.Fetch.Workers)
	results := make([]domain.ConvergenceResult, len(tickers))
	ok := make([]bool, len(tickers))

	var wg sync.WaitGroup
	for i, ticker := range tickers {
		wg.Add(1)
		go func(i int, ticker string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := p.ScanTicker(ctx, ticker)
			if err != nil {
				log.Warn().Err(err).Str("ticker", ticker).Msg("ticker dropped from pass")
				return
			}
			results[i] = res
			ok[i] = true
		}(i, ticker)
	}
	wg.Wait()

	out := make([]domain.ConvergenceResult, 0, len(tickers))
	for i := range results {
		if ok[i] {
			out = append(out, results[i])
		}
	}

	metrics.ScanDuration.Observe(time.Since(started).Seconds())
	log.Info().Str("run_id", runID).
		Int("scored", len(out)).
		Dur("took", time.Since(started)).
		Msg("scan finished")
	return out
}

// ScanTicker runs the full decision path for one ticker: snapshot, signal
// normalization, convergence scoring, entry gates, sizing, position open.
func (p *Pipeline) ScanTicker(ctx context.Context, ticker string) (domain.ConvergenceResult, error) {
	snap, err := p.snapshot(ctx, ticker)
	if err != nil {
		return domain.ConvergenceResult{}, err
	}

	sigs := signals.NormalizeAll(snap.Indicators)
	result := p.scorer.Score(ticker, sigs, p.weights.Weights())
	metrics.TierResults.WithLabelValues(result.Tier.String()).Inc()

	if p.superseded(ticker, snap.Sequence) {
		return domain.ConvergenceResult{}, fmt.Errorf("%s: pass superseded by fresher tick", ticker)
	}

	if !result.Actionable {
		log.Info().Str("ticker", ticker).
			Float64("score", result.TotalScore).
			Str("tier", result.Tier.String()).
			Msg("insufficient signal")
		return result, nil
	}

	if err := p.maybeOpen(ctx, result, snap); err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("entry skipped")
	}
	return result, nil
}

// snapshot assembles the raw frame and all indicators for one ticker,
// falling back to the cached last-known-good snapshot when the market-data
// collaborator fails.
func (p *Pipeline) snapshot(ctx context.Context, ticker string) (domain.Snapshot, error) {
	price, volumeBaseline, seq, err := p.market.Frame(ctx, ticker)
	if err != nil {
		if p.cache != nil {
			if snap, hit := p.cache.Get(ctx, ticker); hit {
				log.Warn().Err(err).Str("ticker", ticker).Msg("market data failed, serving cached snapshot")
				return snap, nil
			}
		}
		return domain.Snapshot{}, fmt.Errorf("%s frame: %w: %v", ticker, domain.ErrDataUnavailable, err)
	}

	indicators := make([]domain.Indicator, len(p.fetchers))
	var wg sync.WaitGroup
	for i, g := range p.fetchers {
		wg.Add(1)
		go func(i int, g *guardedFetcher) {
			defer wg.Done()
			indicators[i] = g.fetch(ctx, ticker)
		}(i, g)
	}
	wg.Wait()

	snap := domain.Snapshot{
		Ticker:         ticker,
		Price:          price,
		VolumeBaseline: volumeBaseline,
		Sequence:       seq,
		Indicators:     indicators,
		FetchedAt:      time.Now().UTC(),
	}
	if p.cache != nil {
		p.cache.Put(ctx, snap)
	}
	return snap, nil
}

// maybeOpen applies the entry gates, portfolio heat cap and sizing, then
// opens the position through the lifecycle manager.
func (p *Pipeline) maybeOpen(ctx context.Context, result domain.ConvergenceResult, snap domain.Snapshot) error {
	if _, exists := p.manager.Position(snap.Ticker); exists {
		return nil
	}
	if snap.Price < p.cfg.Gates.MinPrice {
		return fmt.Errorf("price %.2f below gate %.2f", snap.Price, p.cfg.Gates.MinPrice)
	}
	if snap.VolumeBaseline < p.cfg.Gates.MinVolumeBaseline {
		return fmt.Errorf("volume baseline %.0f below gate %.0f", snap.VolumeBaseline, p.cfg.Gates.MinVolumeBaseline)
	}

	posCfg := domain.PositionConfig{
		Ticker:           snap.Ticker,
		StrategyID:       dominantSource(result),
		Conviction:       result.Conviction(),
		EntryPrice:       snap.Price,
		StopLossPct:      p.cfg.Position.StopLossPct,
		Target1Pct:       p.cfg.Position.Target1Pct,
		Target2Pct:       p.cfg.Position.Target2Pct,
		TrailingStopPct:  p.cfg.Position.TrailingStopPct,
		ScaleOutFraction: p.cfg.Position.ScaleOutFraction,
	}
	stopPrice := posCfg.EntryPrice * (1 - posCfg.StopLossPct)

	shares, err := p.sizer.Shares(p.cfg.Equity, posCfg.EntryPrice, stopPrice, posCfg.Conviction)
	if err != nil {
		return err
	}
	if shares == 0 {
		return fmt.Errorf("sized to zero shares")
	}

	risk := sizing.RiskDollars(shares, posCfg.EntryPrice, stopPrice)
	if !p.sizer.HeatAllows(p.cfg.Equity, p.manager.OpenRiskDollars(), risk) {
		return fmt.Errorf("portfolio heat cap reached, open risk %.0f + %.0f", p.manager.OpenRiskDollars(), risk)
	}

	_, err = p.manager.Open(ctx, posCfg, shares, snap.Sequence)
	return err
}

// dominantSource attributes a trade to the source that contributed the most
// weighted score, so realized outcomes adapt the weight of the signal that
// led the entry. Ties resolve to canonical source order.
func dominantSource(result domain.ConvergenceResult) string {
	best := "convergence"
	bestScore := 0.0
	for _, s := range result.Signals {
		if s.Available && s.Score > bestScore {
			bestScore = s.Score
			best = string(s.Source)
		}
	}
	return best
}
