package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/marketpulse/convictionrun/internal/domain"
	"github.com/marketpulse/convictionrun/internal/persistence/postgres"
)

func newWeightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weights",
		Short: "Print persisted strategy weights",
		RunE:  runWeights,
	}
}

func runWeights(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("%w: postgres.dsn required for weights", domain.ErrInvalidConfiguration)
	}

	db, err := sqlx.Connect("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer db.Close()

	weights, err := postgres.NewWeightsRepo(db, cfg.Postgres.Timeout).LoadAll(context.Background())
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("%-16s %8s %7s %8s %11s %s\n", "STRATEGY", "WEIGHT", "TRADES", "WINRATE", "EXPECTANCY", "UPDATED")
	for _, id := range ids {
		w := weights[id]
		fmt.Printf("%-16s %8.3f %7d %7.1f%% %10.2f%% %s\n",
			w.StrategyID, w.WeightMultiplier, w.SampleSize, w.WinRate*100, w.Expectancy,
			w.LastUpdated.Format("2006-01-02 15:04"))
	}
	return nil
}
