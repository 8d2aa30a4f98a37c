package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marketpulse/convictionrun/internal/adapt"
	"github.com/marketpulse/convictionrun/internal/broker"
	"github.com/marketpulse/convictionrun/internal/config"
	"github.com/marketpulse/convictionrun/internal/domain"
	"github.com/marketpulse/convictionrun/internal/lifecycle"
	"github.com/marketpulse/convictionrun/internal/pipeline"
	"github.com/marketpulse/convictionrun/internal/score"
	"github.com/marketpulse/convictionrun/internal/sizing"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one offline scoring pass over a snapshot file",
		Long: `Scores every ticker in a JSON snapshot file against the canonical
70-point schema and prints the convergence results. Positions are sized and
opened against a paper broker; nothing leaves the process.`,
		RunE: runScan,
	}
	cmd.Flags().String("snapshots", "snapshots.json", "JSON file with an array of raw ticker snapshots")
	cmd.Flags().Bool("json", false, "Emit results as JSON instead of text")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("snapshots")
	snaps, err := loadSnapshots(path)
	if err != nil {
		return err
	}

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
	manager, err := lifecycle.NewManager(cfg.Lifecycle, broker.NewPaperExecutor(), adapt.SinkFor(engine))
	if err != nil {
		return err
	}

	market := newFileMarket(snaps)
	pipe, err := pipeline.New(cfg, market.Fetchers(), scorer, sizer, manager, engine, market, nil)
	if err != nil {
		return err
	}

	tickers := make([]string, 0, len(snaps))
	for _, s := range snaps {
		tickers = append(tickers, s.Ticker)
	}
	results := pipe.Scan(context.Background(), tickers)

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		fmt.Println(score.Explain(r))
		for _, s := range r.Signals {
			fmt.Printf("  %-10s %5.1f/%-4.0f %s\n", s.Source, s.Score, s.MaxSource, s.Reason)
		}
	}
	return nil
}

// sourceStrategies lists the adaptive strategy ids: one per canonical signal
// source, so realized outcomes tune the weight of the source that led the
// entry.
func sourceStrategies() []string {
	out := make([]string, len(domain.AllSources))
	for i, src := range domain.AllSources {
		out[i] = string(src)
	}
	return out
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func loadSnapshots(path string) ([]domain.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	var snaps []domain.Snapshot
	if err := json.Unmarshal(b, &snaps); err != nil {
		return nil, fmt.Errorf("parse snapshots: %w", err)
	}
	return snaps, nil
}

// fileMarket serves frames and indicators from a preloaded snapshot file,
// standing in for the live market-data collaborators during offline scans.
type fileMarket struct {
	byTicker map[string]domain.Snapshot
}

func newFileMarket(snaps []domain.Snapshot) *fileMarket {
	m := &fileMarket{byTicker: make(map[string]domain.Snapshot, len(snaps))}
	for _, s := range snaps {
		m.byTicker[s.Ticker] = s
	}
	return m
}

func (m *fileMarket) Frame(_ context.Context, ticker string) (float64, float64, uint64, error) {
	s, ok := m.byTicker[ticker]
	if !ok {
		return 0, 0, 0, fmt.Errorf("%s: %w", ticker, domain.ErrDataUnavailable)
	}
	return s.Price, s.VolumeBaseline, s.Sequence, nil
}

// Fetchers exposes one file-backed fetcher per canonical source.
func (m *fileMarket) Fetchers() []pipeline.SourceFetcher {
	out := make([]pipeline.SourceFetcher, 0, len(domain.AllSources))
	for _, src := range domain.AllSources {
		out = append(out, &fileFetcher{market: m, source: src})
	}
	return out
}

type fileFetcher struct {
	market *fileMarket
	source domain.SourceID
}

func (f *fileFetcher) Source() domain.SourceID { return f.source }

func (f *fileFetcher) Fetch(_ context.Context, ticker string) (domain.Indicator, error) {
	s, ok := f.market.byTicker[ticker]
	if !ok {
		return domain.Indicator{}, fmt.Errorf("%s: %w", ticker, domain.ErrDataUnavailable)
	}
	for _, ind := range s.Indicators {
		if ind.Source == f.source {
			return ind, nil
		}
	}
	return domain.UnavailableIndicator(f.source, "not in snapshot file"), nil
}
