package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "convictionrun"
	version = "v0.4.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Rule-based conviction scoring and position lifecycle engine",
		Version: version,
		Long: `ConvictionRun converts independent signal sources into a bounded
conviction score, sizes positions under explicit risk constraints, manages
multi-stage exits and adapts per-strategy weights from realized outcomes.`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config (defaults used when empty)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(newScanCmd(), newRunCmd(), newWeightsCmd())

	cobra.OnInitialize(func() { applyLogLevel(rootCmd.PersistentFlags()) })

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func applyLogLevel(fs *pflag.FlagSet) {
	levelStr, _ := fs.GetString("log-level")
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		log.Warn().Str("log_level", levelStr).Msg("unknown log level, keeping info")
		return
	}
	zerolog.SetGlobalLevel(level)
}
