package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/app"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/database"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/replay"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/tickstore"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

var (
	replayCSV        string
	replayInflux     bool
	replayFrom       string
	replayTo         string
	replaySymbol     string
	replayTimeframe  string
	replayTickSource string
	replayNews       string
	replayOut        string
)

// replayCmd runs historical bars through the decision pipeline
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay historical bars through the decision pipeline",
	Long: `Replay historical OHLCV bars bar-by-bar through the same pipeline the
live server uses and write the timeline, chart packets, signals, heatmaps
and summary.

Bars come from a CSV file (time,open,high,low,close,volume) or from the
InfluxDB bar sink. Ticks inside each bar are either synthesized from the
bar's OHLC path or read back from the tick store.

Examples:
  imo replay --csv gc_1m.csv --out ./replay-out
  imo replay --influx --from 2024-03-12T00:00:00Z --to 2024-03-13T00:00:00Z
  imo replay --csv gc_1m.csv --ticks store --news calendar.yaml`,
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayCSV, "csv", "", "Bar CSV file")
	replayCmd.Flags().BoolVar(&replayInflux, "influx", false, "Read bars from InfluxDB")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Influx range start, RFC3339")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "Influx range end, RFC3339")
	replayCmd.Flags().StringVarP(&replaySymbol, "symbol", "s", "", "Symbol (default from SERVER_SYMBOL)")
	replayCmd.Flags().StringVarP(&replayTimeframe, "timeframe", "t", "1m", "Bar timeframe")
	replayCmd.Flags().StringVar(&replayTickSource, "ticks", "synthetic", "Tick source (synthetic, store)")
	replayCmd.Flags().StringVar(&replayNews, "news", "", "News calendar YAML (default from NEWS_CALENDAR_PATH)")
	replayCmd.Flags().StringVarP(&replayOut, "out", "o", "", "Output directory (default: print summary only)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	if (replayCSV == "") == !replayInflux {
		return fmt.Errorf("exactly one of --csv or --influx is required")
	}

	cfg, log, err := setup("")
	if err != nil {
		return err
	}
	symbol := replaySymbol
	if symbol == "" {
		symbol = cfg.Server.Symbol
	}
	if replayNews != "" {
		cfg.News.CalendarPath = replayNews
	}
	tf, err := parseTimeframe(replayTimeframe)
	if err != nil {
		return err
	}

	ctx := context.Background()

	bars, err := loadReplayBars(ctx, cfg, log, symbol, tf)
	if err != nil {
		return err
	}

	opts := replay.Options{}
	switch replayTickSource {
	case "synthetic":
	case "store":
		db, err := app.OpenSQL(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Ticks = replay.StoreTicks{Store: tickstore.New(db, app.TickStoreOptions(cfg), log)}
	default:
		return fmt.Errorf("unknown tick source %q", replayTickSource)
	}

	engine, err := replay.NewEngine(cfg, symbol, opts, log)
	if err != nil {
		return err
	}
	result, err := engine.Run(ctx, bars)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"symbol":    symbol,
		"bars":      result.Summary.Bars,
		"processed": result.Summary.Processed,
		"gaps":      result.Summary.Gaps,
		"signals":   len(result.Signals),
	}).Info("Replay complete")

	if replayOut != "" {
		if err := replay.WriteDir(replayOut, result); err != nil {
			return err
		}
		log.WithField("dir", replayOut).Info("Replay outputs written")
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result.Summary)
}

func loadReplayBars(ctx context.Context, cfg *config.Config, log *logrus.Logger, symbol string, tf int64) ([]models.Bar, error) {
	if replayCSV != "" {
		f, err := os.Open(replayCSV)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return replay.LoadBarsCSV(f, symbol, tf)
	}

	start, end, err := parseRange(replayFrom, replayTo, time.Now())
	if err != nil {
		return nil, err
	}
	influx := database.NewInfluxClient(&cfg.InfluxDB, log)
	defer influx.Close()
	return replay.LoadBarsInflux(ctx, influx, symbol, start, end, tf)
}
