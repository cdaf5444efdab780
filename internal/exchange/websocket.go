package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// WSFeed reads JSON ticks from a websocket. A message is either one tick
// object or an array of them, in the tick schema of /ingest.
type WSFeed struct {
	cfg     config.WebSocketConfig
	timeout time.Duration
	symbol  string
	logger  *logrus.Entry
}

// NewWSFeed creates a websocket tick feed
func NewWSFeed(cfg config.WebSocketConfig, timeout time.Duration, symbol string, logger *logrus.Logger) *WSFeed {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WSFeed{
		cfg:     cfg,
		timeout: timeout,
		symbol:  symbol,
		logger:  logger.WithFields(logrus.Fields{"component": "ws-feed", "url": cfg.URL}),
	}
}

// Name implements Feed
func (wf *WSFeed) Name() string { return "websocket" }

// Stream implements Feed
func (wf *WSFeed) Stream(ctx context.Context, emit Emit) error {
	dialer := websocket.Dialer{HandshakeTimeout: wf.timeout}
	conn, _, err := dialer.DialContext(ctx, wf.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to dial tick websocket: %w", err)
	}
	defer conn.Close()
	wf.logger.Info("Connected to tick websocket")

	readWait := 2 * wf.cfg.PingInterval
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wf.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					wf.logger.WithError(err).Debug("Ping failed")
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tick websocket read failed: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		ticks, err := decodeTicks(data)
		if err != nil {
			wf.logger.WithError(err).Debug("Skipping malformed message")
			continue
		}
		for _, t := range ticks {
			if t.Symbol == "" {
				t.Symbol = wf.symbol
			}
			emit(t)
		}
	}
}

func decodeTicks(data []byte) ([]models.Tick, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty message", models.ErrInvalidInput)
	}
	if data[0] == '[' {
		var ticks []models.Tick
		if err := json.Unmarshal(data, &ticks); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
		}
		return ticks, nil
	}
	var t models.Tick
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return []models.Tick{t}, nil
}
