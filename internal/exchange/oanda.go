package exchange

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// heartbeatTimeout bounds the silence tolerated on the pricing stream
const heartbeatTimeout = 90 * time.Second

// OANDAStreamMessage is one line of the v3 pricing stream
type OANDAStreamMessage struct {
	Type       string       `json:"type"`
	Time       time.Time    `json:"time"`
	Bids       []OANDAQuote `json:"bids"`
	Asks       []OANDAQuote `json:"asks"`
	Status     string       `json:"status"`
	Instrument string       `json:"instrument"`
	Tradeable  bool         `json:"tradeable"`
}

// OANDAQuote is one price level
type OANDAQuote struct {
	Price     string `json:"price"`
	Liquidity int64  `json:"liquidity"`
}

// OANDAFeed turns the delayed XAU_USD quote stream into ticks. Quotes carry
// no traded volume, so each quote is a unit tick whose side follows the
// tick rule on the mid price.
type OANDAFeed struct {
	cfg    config.OANDAConfig
	symbol string
	client *http.Client
	logger *logrus.Entry

	lastMid  float64
	lastSide models.Side
}

// NewOANDAFeed creates a pricing stream feed
func NewOANDAFeed(cfg config.OANDAConfig, symbol string, logger *logrus.Logger) *OANDAFeed {
	transport := &http.Transport{
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		DisableCompression:  true,
	}
	return &OANDAFeed{
		cfg:      cfg,
		symbol:   symbol,
		client:   &http.Client{Transport: transport},
		logger:   logger.WithFields(logrus.Fields{"component": "oanda", "instrument": cfg.Instrument}),
		lastSide: models.SideBuy,
	}
}

// Name implements Feed
func (of *OANDAFeed) Name() string { return "oanda" }

func (of *OANDAFeed) streamURL() string {
	return fmt.Sprintf("%s/v3/accounts/%s/pricing/stream?instruments=%s",
		strings.TrimRight(of.cfg.StreamURL, "/"), url.PathEscape(of.cfg.AccountID), url.QueryEscape(of.cfg.Instrument))
}

// Stream implements Feed
func (of *OANDAFeed) Stream(parent context.Context, emit Emit) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, of.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+of.cfg.APIKey)
	req.Header.Set("Accept", "application/stream+json")

	resp, err := of.client.Do(req)
	if err != nil {
		if parent.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to OANDA stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OANDA stream returned status %d", resp.StatusCode)
	}
	of.logger.Info("Connected to OANDA pricing stream")

	// a silent stream is cancelled so the runner reconnects
	alive := make(chan struct{}, 1)
	go func() {
		timer := time.NewTimer(heartbeatTimeout)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-alive:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(heartbeatTimeout)
			case <-timer.C:
				of.logger.Warn("No heartbeat from OANDA, dropping connection")
				cancel()
				return
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case alive <- struct{}{}:
		default:
		}

		var msg OANDAStreamMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			of.logger.WithError(err).Debug("Failed to parse stream message")
			continue
		}
		if msg.Type != "PRICE" {
			continue
		}
		if t, ok := of.tick(&msg); ok {
			emit(t)
		}
	}
	if parent.Err() != nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("OANDA stream heartbeat timeout")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("OANDA stream read failed: %w", err)
	}
	return fmt.Errorf("OANDA stream closed by server")
}

// tick applies the tick rule to the quote's mid price
func (of *OANDAFeed) tick(msg *OANDAStreamMessage) (models.Tick, bool) {
	if !msg.Tradeable || len(msg.Bids) == 0 || len(msg.Asks) == 0 {
		return models.Tick{}, false
	}
	bid, err := strconv.ParseFloat(msg.Bids[0].Price, 64)
	if err != nil || bid <= 0 {
		return models.Tick{}, false
	}
	ask, err := strconv.ParseFloat(msg.Asks[0].Price, 64)
	if err != nil || ask <= 0 {
		return models.Tick{}, false
	}
	mid := (bid + ask) / 2

	switch {
	case of.lastMid == 0:
	case mid > of.lastMid:
		of.lastSide = models.SideBuy
	case mid < of.lastMid:
		of.lastSide = models.SideSell
	}
	of.lastMid = mid

	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return models.Tick{
		Timestamp: ts.UTC(),
		Price:     mid,
		Size:      1,
		Side:      of.lastSide,
		Symbol:    of.symbol,
	}, true
}
