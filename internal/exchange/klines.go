package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

const (
	// DefaultKlineURL is the Binance spot REST endpoint
	DefaultKlineURL = "https://api.binance.com"
	maxKlines       = 1000
)

var klineIntervals = map[int64]string{
	60:    "1m",
	180:   "3m",
	300:   "5m",
	900:   "15m",
	1800:  "30m",
	3600:  "1h",
	7200:  "2h",
	14400: "4h",
	86400: "1d",
}

// KlineInterval maps a timeframe to a Binance interval name
func KlineInterval(tfSeconds int64) (string, error) {
	iv, ok := klineIntervals[tfSeconds]
	if !ok {
		return "", fmt.Errorf("%w: no kline interval for %ds", models.ErrInvalidInput, tfSeconds)
	}
	return iv, nil
}

// KlineClient downloads historical candles of the gold-backed token and
// relabels them as bars of the traded symbol
type KlineClient struct {
	client    *http.Client
	baseURL   string
	cfg       config.BinanceConfig
	symbol    string
	rateLimit time.Duration
	logger    *logrus.Entry
}

// NewKlineClient creates a REST client; an empty baseURL uses DefaultKlineURL
func NewKlineClient(baseURL string, cfg config.BinanceConfig, symbol string, logger *logrus.Logger) *KlineClient {
	if baseURL == "" {
		baseURL = DefaultKlineURL
	}
	if cfg.SizeMultiplier <= 0 {
		cfg.SizeMultiplier = 1
	}
	return &KlineClient{
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   baseURL,
		cfg:       cfg,
		symbol:    symbol,
		rateLimit: 100 * time.Millisecond,
		logger:    logger.WithField("component", "binance-klines"),
	}
}

// Bars fetches every closed bar opening in [start, end), paging 1000 at a time
func (k *KlineClient) Bars(ctx context.Context, tfSeconds int64, start, end time.Time) ([]models.Bar, error) {
	interval, err := KlineInterval(tfSeconds)
	if err != nil {
		return nil, err
	}

	var out []models.Bar
	cursor := start.UTC()
	for cursor.Before(end) {
		page, err := k.page(ctx, interval, tfSeconds, cursor, end)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, b := range page {
			if b.TimeOpen.Before(end) {
				out = append(out, b)
			}
		}
		cursor = page[len(page)-1].TimeClose

		k.logger.WithFields(logrus.Fields{
			"fetched": len(out),
			"cursor":  cursor.Format(time.RFC3339),
		}).Debug("Loading historical klines")

		if len(page) < maxKlines {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(k.rateLimit):
		}
	}
	return out, nil
}

func (k *KlineClient) page(ctx context.Context, interval string, tfSeconds int64, start, end time.Time) ([]models.Bar, error) {
	params := url.Values{}
	params.Set("symbol", k.cfg.Symbol)
	params.Set("interval", interval)
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	params.Set("limit", strconv.Itoa(maxKlines))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/api/v3/klines?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("kline API error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode klines: %w", err)
	}

	bars := make([]models.Bar, 0, len(raw))
	for i, row := range raw {
		b, err := k.bar(row, tfSeconds)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// bar decodes [openTime, open, high, low, close, volume, closeTime, _, trades, ...]
func (k *KlineClient) bar(row []json.RawMessage, tfSeconds int64) (models.Bar, error) {
	if len(row) < 9 {
		return models.Bar{}, fmt.Errorf("short row of %d fields", len(row))
	}
	var (
		openMs, trades int64
		fields         [5]string
	)
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return models.Bar{}, err
	}
	for i := range fields {
		if err := json.Unmarshal(row[i+1], &fields[i]); err != nil {
			return models.Bar{}, err
		}
	}
	if err := json.Unmarshal(row[8], &trades); err != nil {
		return models.Bar{}, err
	}

	var vals [5]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return models.Bar{}, err
		}
		vals[i] = v
	}

	open := time.UnixMilli(openMs).UTC()
	return models.Bar{
		Symbol:     k.symbol,
		TimeOpen:   open,
		TimeClose:  open.Add(time.Duration(tfSeconds) * time.Second),
		Open:       vals[0],
		High:       vals[1],
		Low:        vals[2],
		Close:      vals[3],
		Volume:     vals[4] * k.cfg.SizeMultiplier,
		TFSeconds:  tfSeconds,
		TradeCount: trades,
	}, nil
}
