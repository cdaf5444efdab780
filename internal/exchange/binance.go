package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	binance "github.com/binance/binance-connector-go"
	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// BinanceFeed streams individual trades of a gold-backed token as ticks
type BinanceFeed struct {
	cfg    config.BinanceConfig
	symbol string
	logger *logrus.Entry
}

// NewBinanceFeed creates a trade feed for cfg.Symbol, labelling ticks with symbol
func NewBinanceFeed(cfg config.BinanceConfig, symbol string, logger *logrus.Logger) *BinanceFeed {
	if cfg.SizeMultiplier <= 0 {
		cfg.SizeMultiplier = 1
	}
	return &BinanceFeed{
		cfg:    cfg,
		symbol: symbol,
		logger: logger.WithFields(logrus.Fields{"component": "binance", "stream": strings.ToLower(cfg.Symbol) + "@trade"}),
	}
}

// Name implements Feed
func (bf *BinanceFeed) Name() string { return "binance" }

// Stream implements Feed
func (bf *BinanceFeed) Stream(ctx context.Context, emit Emit) error {
	client := binance.NewWebsocketStreamClient(true)
	errCh := make(chan error, 1)

	tradeHandler := func(event *binance.WsCombinedTradeEvent) {
		t, err := binanceTick(bf.symbol, event.Data.Price, event.Data.Quantity, event.Data.Time, event.Data.IsBuyerMaker, bf.cfg.SizeMultiplier)
		if err != nil {
			bf.logger.WithError(err).WithField("trade_id", event.Data.TradeID).Debug("Skipping trade")
			return
		}
		emit(t)
	}
	errHandler := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	doneCh, stopCh, err := client.WsCombinedTradeServe([]string{bf.cfg.Symbol}, tradeHandler, errHandler)
	if err != nil {
		return fmt.Errorf("failed to start trade stream: %w", err)
	}
	bf.logger.Info("Connected to Binance trade stream")

	select {
	case <-ctx.Done():
		close(stopCh)
		<-doneCh
		return nil
	case err := <-errCh:
		close(stopCh)
		return fmt.Errorf("trade stream error: %w", err)
	case <-doneCh:
		return fmt.Errorf("trade stream closed")
	}
}

// binanceTick converts one trade. A buyer-maker trade was hit by a seller,
// so the aggressor side is SELL.
func binanceTick(symbol, price, quantity string, ms int64, buyerMaker bool, multiplier float64) (models.Tick, error) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return models.Tick{}, fmt.Errorf("%w: price %q", models.ErrInvalidInput, price)
	}
	q, err := strconv.ParseFloat(quantity, 64)
	if err != nil || q <= 0 {
		return models.Tick{}, fmt.Errorf("%w: quantity %q", models.ErrInvalidInput, quantity)
	}
	size := int64(math.Round(q * multiplier))
	if size < 1 {
		size = 1
	}
	side := models.SideBuy
	if buyerMaker {
		side = models.SideSell
	}
	return models.Tick{
		Timestamp: time.UnixMilli(ms).UTC(),
		Price:     p,
		Size:      size,
		Side:      side,
		Symbol:    symbol,
	}, nil
}
