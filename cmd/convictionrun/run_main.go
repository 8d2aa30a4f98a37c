package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketpulse/convictionrun/internal/adapt"
	"github.com/marketpulse/convictionrun/internal/broker"
	"github.com/marketpulse/convictionrun/internal/cache"
	"github.com/marketpulse/convictionrun/internal/domain"
	httpiface "github.com/marketpulse/convictionrun/internal/interfaces/http"
	"github.com/marketpulse/convictionrun/internal/lifecycle"
	"github.com/marketpulse/convictionrun/internal/persistence/postgres"
	"github.com/marketpulse/convictionrun/internal/pipeline"
	"github.com/marketpulse/convictionrun/internal/score"
	"github.com/marketpulse/convictionrun/internal/sizing"
	"github.com/marketpulse/convictionrun/internal/stream"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live engine: scan, tick feed, lifecycle, adaptation, HTTP interface",
		Long: `Runs an initial scoring pass over the snapshot file, then manages the
opened positions against the live tick feed: exits, outcome recording and
periodic weight recomputation. Postgres and redis are optional; without
them the engine runs in-memory.`,
		RunE: runEngine,
	}
	cmd.Flags().String("snapshots", "snapshots.json", "JSON file with an array of raw ticker snapshots")
	return cmd
}

func runEngine(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Stream.URL == "" {
		return fmt.Errorf("%w: stream.url required for run", domain.ErrInvalidConfiguration)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := adapt.NewEngine(cfg.Adaptation, sourceStrategies())
	if err != nil {
		return err
	}
	scorer, err := score.NewScorer(cfg.Tiers, domain.Tier(cfg.MinActionableTier))
	if err != nil {
		return err
	}
	sizer, err := sizing.NewSizer(cfg.Sizing)
	if err != nil {
		return err
	}

	outcomeSink := adapt.SinkFor(engine)
	var weightsRepo *postgres.WeightsRepo
	if cfg.Postgres.DSN != "" {
		db, err := sqlx.Connect("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer db.Close()

		outcomesRepo := postgres.NewOutcomesRepo(db, cfg.Postgres.Timeout)
		weightsRepo = postgres.NewWeightsRepo(db, cfg.Postgres.Timeout)
		outcomeSink = adapt.FanOut(outcomeSink, outcomesRepo)

		if saved, err := weightsRepo.LoadAll(ctx); err != nil {
			log.Warn().Err(err).Msg("weight warm-start failed, starting neutral")
		} else if len(saved) > 0 {
			engine.Restore(saved)
			log.Info().Int("strategies", len(saved)).Msg("weights restored from postgres")
		}
	}

	var snapCache pipeline.SnapshotCache
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, snapshot cache disabled")
		} else {
			defer redisCache.Close()
			snapCache = redisCache
		}
	}

	manager, err := lifecycle.NewManager(cfg.Lifecycle, broker.NewPaperExecutor(), outcomeSink)
	if err != nil {
		return err
	}

	// Initial scoring pass over the snapshot file opens the starting book.
	path, _ := cmd.Flags().GetString("snapshots")
	snaps, err := loadSnapshots(path)
	if err != nil {
		return err
	}
	market := newFileMarket(snaps)
	pipe, err := pipeline.New(cfg, market.Fetchers(), scorer, sizer, manager, engine, market, snapCache)
	if err != nil {
		return err
	}
	tickers := make([]string, 0, len(snaps))
	for _, s := range snaps {
		tickers = append(tickers, s.Ticker)
	}
	pipe.Scan(ctx, tickers)

	server := httpiface.NewServer(cfg.Server.Addr, manager, engine)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http interface failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go recomputeLoop(ctx, cfg.Adaptation.RecomputeInterval, engine, weightsRepo)

	feed := stream.NewTickFeed(cfg.Stream.URL)
	err = feed.Run(ctx, func(ctx context.Context, tick domain.Tick) {
		pipe.NoteTick(tick.Ticker, tick.Sequence)
		if _, err := manager.OnTick(ctx, tick); err != nil {
			log.Warn().Err(err).Str("ticker", tick.Ticker).Msg("tick processing degraded")
		}
	})
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("engine stopped")
		return nil
	}
	return err
}

// recomputeLoop runs the batch adaptation step on a fixed cadence and
// persists the refreshed records when postgres is configured.
func recomputeLoop(ctx context.Context, interval time.Duration, engine *adapt.Engine, repo *postgres.WeightsRepo) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			weights := engine.RecomputeWeights()
			log.Info().Int("strategies", len(weights)).Msg("weights recomputed")
			if repo == nil {
				continue
			}
			for _, w := range weights {
				if err := repo.Upsert(ctx, w); err != nil {
					log.Warn().Err(err).Str("strategy", w.StrategyID).Msg("weight persist failed")
				}
			}
		}
	}
}
