package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Emit receives raw ticks from a feed
type Emit func(models.Tick)

// Feed is one external tick source. Stream blocks until the connection
// ends or ctx is done and returns nil only on cancellation.
type Feed interface {
	Name() string
	Stream(ctx context.Context, emit Emit) error
}

// NewFeed builds the feed selected by configuration; nil when the feed is "none"
func NewFeed(cfg *config.Config, logger *logrus.Logger) (Feed, error) {
	ex := cfg.Exchange
	switch ex.Feed {
	case "", "none":
		return nil, nil
	case "binance":
		return NewBinanceFeed(ex.Binance, cfg.Server.Symbol, logger), nil
	case "oanda":
		if ex.OANDA.APIKey == "" || ex.OANDA.AccountID == "" {
			return nil, fmt.Errorf("%w: oanda feed needs EXCHANGE_OANDA_API_KEY and EXCHANGE_OANDA_ACCOUNT_ID", models.ErrConfigInvalid)
		}
		return NewOANDAFeed(ex.OANDA, cfg.Server.Symbol, logger), nil
	case "websocket":
		if ex.WebSocket.URL == "" {
			return nil, fmt.Errorf("%w: websocket feed needs EXCHANGE_WS_URL", models.ErrConfigInvalid)
		}
		return NewWSFeed(ex.WebSocket, ex.ConnectionTimeout, cfg.Server.Symbol, logger), nil
	}
	return nil, fmt.Errorf("%w: unknown feed %q", models.ErrConfigInvalid, ex.Feed)
}

// Runner keeps a feed connected and pushes its normalized ticks into the bridge
type Runner struct {
	feed       Feed
	normalizer *Normalizer
	bridge     *Bridge
	delay      time.Duration
	maxDelay   time.Duration

	received atomic.Int64
	rejected atomic.Int64

	logger *logrus.Entry
}

// NewRunner creates a runner with exponential reconnect backoff starting at delay
func NewRunner(feed Feed, normalizer *Normalizer, bridge *Bridge, delay time.Duration, logger *logrus.Logger) *Runner {
	if delay <= 0 {
		delay = time.Second
	}
	return &Runner{
		feed:       feed,
		normalizer: normalizer,
		bridge:     bridge,
		delay:      delay,
		maxDelay:   30 * time.Second,
		logger:     logger.WithFields(logrus.Fields{"component": "feed", "feed": feed.Name()}),
	}
}

func (r *Runner) emit(t models.Tick) {
	r.received.Add(1)
	norm, err := r.normalizer.Normalize(t)
	if err != nil {
		r.rejected.Add(1)
		metrics.ObserveError(err)
		return
	}
	r.bridge.Offer(norm)
}

// Run streams until ctx is done, reconnecting after failures
func (r *Runner) Run(ctx context.Context) {
	delay := r.delay
	for {
		started := time.Now()
		err := r.feed.Stream(ctx, r.emit)
		if ctx.Err() != nil {
			r.logger.Info("Feed stopped")
			return
		}
		if err == nil {
			err = errors.New("stream ended")
		}
		// a connection that stayed up for a while resets the backoff
		if time.Since(started) > r.maxDelay {
			delay = r.delay
		}
		r.logger.WithError(err).WithField("retry_in", delay).Warn("Feed disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
}

// Stats reports feed counters
func (r *Runner) Stats() map[string]interface{} {
	return map[string]interface{}{
		"feed":     r.feed.Name(),
		"received": r.received.Load(),
		"rejected": r.rejected.Load(),
	}
}
