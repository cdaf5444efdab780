package database

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// InfluxClient handles InfluxDB time-series operations
type InfluxClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	logger   *logrus.Entry
	org      string
	bucket   string
}

// NewInfluxClient creates a new InfluxDB client
func NewInfluxClient(cfg *config.InfluxConfig, logger *logrus.Logger) *InfluxClient {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds())).
			SetLogLevel(0),
	)

	return &InfluxClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		logger:   logger.WithField("component", "influxdb"),
		org:      cfg.Org,
		bucket:   cfg.Bucket,
	}
}

// Close closes the InfluxDB client
func (ic *InfluxClient) Close() {
	ic.client.Close()
}

// Health checks InfluxDB health
func (ic *InfluxClient) Health(ctx context.Context) error {
	health, err := ic.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb health check failed: %s", msg)
	}

	return nil
}

// Measurement returns "ohlcv" for 1m bars and "ohlcv_<tf>" otherwise
func Measurement(tfSeconds int64) string {
	if tfSeconds == models.TF1m || tfSeconds == 0 {
		return "ohlcv"
	}
	return fmt.Sprintf("ohlcv_%s", models.TimeframeLabel(tfSeconds))
}

// Bar data operations

func barPoint(bar models.Bar) *write.Point {
	return influxdb2.NewPoint(
		Measurement(bar.TFSeconds),
		map[string]string{
			"symbol": bar.Symbol,
		},
		map[string]interface{}{
			"open":        bar.Open,
			"high":        bar.High,
			"low":         bar.Low,
			"close":       bar.Close,
			"volume":      bar.Volume,
			"trade_count": bar.TradeCount,
		},
		bar.TimeOpen,
	)
}

// WriteBar writes a closed OHLCV bar
func (ic *InfluxClient) WriteBar(ctx context.Context, bar models.Bar) error {
	if err := ic.writeAPI.WritePoint(ctx, barPoint(bar)); err != nil {
		return fmt.Errorf("%w: failed to write bar: %v", models.ErrStorageIO, err)
	}
	return nil
}

// WriteBars writes multiple bars in one batch
func (ic *InfluxClient) WriteBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	// Write all points in a single batch operation
	points := make([]*write.Point, 0, len(bars))
	for _, bar := range bars {
		points = append(points, barPoint(bar))
	}

	if err := ic.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("%w: failed to write bars batch (%d points): %v", models.ErrStorageIO, len(points), err)
	}
	return nil
}

// GetBars retrieves bars for a symbol and timeframe ordered by open time
func (ic *InfluxClient) GetBars(ctx context.Context, symbol string, from, to time.Time, tfSeconds int64) ([]models.Bar, error) {
	measurement := Measurement(tfSeconds)
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: %s, stop: %s)
			|> filter(fn: (r) => r._measurement == "%s")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"])
	`, ic.bucket, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), measurement, symbol)

	// Log the query for debugging
	ic.logger.WithFields(logrus.Fields{
		"measurement": measurement,
		"symbol":      symbol,
		"from":        from.Format(time.RFC3339),
		"to":          to.Format(time.RFC3339),
	}).Debug("Querying bars")

	result, err := ic.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query bars: %v", models.ErrStorageIO, err)
	}
	defer result.Close()

	tf := time.Duration(tfSeconds) * time.Second
	bars := make([]models.Bar, 0)
	for result.Next() {
		record := result.Record()
		values := record.Values()

		bar := models.Bar{
			Symbol:    symbol,
			TimeOpen:  record.Time().UTC(),
			TimeClose: record.Time().UTC().Add(tf),
			TFSeconds: tfSeconds,
		}
		// Extract values
		if v, ok := values["open"].(float64); ok {
			bar.Open = v
		}
		if v, ok := values["high"].(float64); ok {
			bar.High = v
		}
		if v, ok := values["low"].(float64); ok {
			bar.Low = v
		}
		if v, ok := values["close"].(float64); ok {
			bar.Close = v
		}
		if v, ok := values["volume"].(float64); ok {
			bar.Volume = v
		}
		if v, ok := values["trade_count"].(int64); ok {
			bar.TradeCount = v
		}
		bars = append(bars, bar)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("%w: query error: %v", models.ErrStorageIO, result.Err())
	}
	return bars, nil
}
