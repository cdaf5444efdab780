package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/database"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/exchange"
)

var (
	backfillFrom      string
	backfillTo        string
	backfillTimeframe string
	backfillURL       string
)

// backfillCmd loads historical candles into the InfluxDB bar sink
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Load historical Binance candles into InfluxDB for replay",
	Long: `Download historical candles of the Binance gold proxy (EXCHANGE_BINANCE_SYMBOL,
PAXGUSDT by default), relabel them as SERVER_SYMBOL bars and write them to
InfluxDB, where 'imo replay --influx' reads them back.

Examples:
  imo backfill --from 2024-03-01T00:00:00Z --to 2024-03-08T00:00:00Z
  imo backfill --timeframe 5m`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Range start, RFC3339 (default: 24h before --to)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Range end, RFC3339 (default: now)")
	backfillCmd.Flags().StringVarP(&backfillTimeframe, "timeframe", "t", "1m", "Candle timeframe")
	backfillCmd.Flags().StringVar(&backfillURL, "base-url", exchange.DefaultKlineURL, "Binance REST base URL")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup("")
	if err != nil {
		return err
	}
	tf, err := parseTimeframe(backfillTimeframe)
	if err != nil {
		return err
	}
	start, end, err := parseRange(backfillFrom, backfillTo, time.Now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	influx := database.NewInfluxClient(&cfg.InfluxDB, log)
	defer influx.Close()
	if err := influx.Health(ctx); err != nil {
		return fmt.Errorf("influxdb unavailable: %w", err)
	}

	klines := exchange.NewKlineClient(backfillURL, cfg.Exchange.Binance, cfg.Server.Symbol, log)
	bars, err := klines.Bars(ctx, tf, start, end)
	if err != nil {
		return err
	}
	if err := influx.WriteBars(ctx, bars); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"symbol": cfg.Server.Symbol,
		"source": cfg.Exchange.Binance.Symbol,
		"bars":   len(bars),
		"from":   start.Format(time.RFC3339),
		"to":     end.Format(time.RFC3339),
	}).Info("Backfill complete")
	return nil
}
