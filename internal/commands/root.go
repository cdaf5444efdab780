package commands

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/logger"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imo",
	Short: "Institutional order-flow engine for CME gold futures",
	Long: `Reads the gold futures tape, builds time bars, detects absorption and
liquidity sweeps, remembers institutional zones and turns each closed bar
into a filtered BUY/SELL/WAIT decision.

The same pipeline drives the live HTTP server and historical replays.`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// setup loads .env and the environment configuration and builds a logger
func setup(level string) (*config.Config, *logrus.Logger, error) {
	envFile, envErr := config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	if envErr != nil {
		log.WithError(envErr).WithField("file", envFile).Warn(".env file not loaded")
	} else if envFile != "" {
		log.WithField("file", envFile).Debug("Loaded .env file")
	}
	return cfg, log, nil
}

// parseTimeframe accepts durations such as 1m, 5m or 1h
func parseTimeframe(s string) (int64, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d < time.Second || d%time.Second != 0 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	return int64(d / time.Second), nil
}

// parseRange parses an RFC3339 window; empty bounds default to the last day
func parseRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	end := now.UTC()
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t.UTC()
	}
	start := end.Add(-24 * time.Hour)
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t.UTC()
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("empty range %s..%s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}
