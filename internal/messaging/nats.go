package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

const publishTimeout = 2 * time.Second

// streams published by the backend
var streams = []nats.StreamConfig{
	{Name: "TICKS", Subjects: []string{"ticks.>"}, Storage: nats.MemoryStorage, MaxAge: time.Hour, MaxMsgs: 1000000, Replicas: 1},
	{Name: "BARS", Subjects: []string{"bars.>"}, Storage: nats.FileStorage, MaxAge: 7 * 24 * time.Hour, MaxMsgs: 500000, Replicas: 1},
	{Name: "DECISIONS", Subjects: []string{"decisions.>"}, Storage: nats.FileStorage, MaxAge: 7 * 24 * time.Hour, MaxMsgs: 100000, Replicas: 1},
	{Name: "SIGNALS", Subjects: []string{"signals.>"}, Storage: nats.FileStorage, MaxAge: 30 * 24 * time.Hour, MaxMsgs: 100000, Replicas: 1},
}

// NATSClient publishes ticks, bars, decisions and signal transitions to JetStream
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	cfg    *config.NATSConfig

	subs   map[string]*nats.Subscription
	subsMu sync.RWMutex
}

// NewNATSClient creates a new NATS client
func NewNATSClient(cfg *config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	log := logger.WithField("component", "nats")
	opts := []nats.Option{
		nats.Name("imo"),
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	nc := &NATSClient{
		conn:   conn,
		js:     js,
		logger: log,
		cfg:    cfg,
		subs:   make(map[string]*nats.Subscription),
	}

	if err := nc.initializeStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}
	return nc, nil
}

// Close drains subscriptions and closes the connection
func (nc *NATSClient) Close() error {
	nc.subsMu.Lock()
	for _, sub := range nc.subs {
		sub.Unsubscribe()
	}
	nc.subs = make(map[string]*nats.Subscription)
	nc.subsMu.Unlock()

	if err := nc.conn.Drain(); err != nil {
		nc.conn.Close()
		return err
	}
	return nil
}

// IsConnected checks if NATS is connected
func (nc *NATSClient) IsConnected() bool {
	return nc.conn.IsConnected()
}

// Health reports a disconnected client as an error
func (nc *NATSClient) Health(context.Context) error {
	if !nc.conn.IsConnected() {
		return fmt.Errorf("nats not connected: %s", nc.conn.Status())
	}
	return nil
}

func (nc *NATSClient) initializeStreams() error {
	for i := range streams {
		sc := streams[i]
		if _, err := nc.js.AddStream(&sc); err != nil && err != nats.ErrStreamNameAlreadyInUse {
			return fmt.Errorf("failed to create %s stream: %w", sc.Name, err)
		}
	}
	return nil
}

// token makes a symbol safe as a single subject token
func token(s string) string {
	s = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}

// TickSubject is the subject of a symbol's ticks
func TickSubject(symbol string) string { return "ticks." + token(symbol) }

// BarSubject is the subject of a symbol's closed bars of one timeframe
func BarSubject(symbol string, tfSeconds int64) string {
	return fmt.Sprintf("bars.%s.%s", token(symbol), models.TimeframeLabel(tfSeconds))
}

// DecisionSubject is the subject of a symbol's decisions
func DecisionSubject(symbol string) string { return "decisions." + token(symbol) }

// SignalSubject is the subject of a symbol's signal transitions
func SignalSubject(symbol string) string { return "signals." + token(symbol) }

// publish sends v as JSON and waits for the JetStream ack
func (nc *NATSClient) publish(ctx context.Context, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", subject, err)
	}

	future, err := nc.js.PublishAsync(subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-future.Ok():
		return nil
	case err := <-future.Err():
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish timeout for subject %s", subject)
	}
}

// PublishTicks publishes a batch of recorded ticks, one message per batch and symbol
func (nc *NATSClient) PublishTicks(ctx context.Context, recs []models.TickRecord) error {
	bySymbol := make(map[string][]models.TickRecord)
	var order []string
	for _, r := range recs {
		if _, ok := bySymbol[r.Symbol]; !ok {
			order = append(order, r.Symbol)
		}
		bySymbol[r.Symbol] = append(bySymbol[r.Symbol], r)
	}
	for _, symbol := range order {
		if err := nc.publish(ctx, TickSubject(symbol), bySymbol[symbol]); err != nil {
			return err
		}
	}
	return nil
}

// PublishBar publishes a closed bar
func (nc *NATSClient) PublishBar(ctx context.Context, bar models.Bar) error {
	return nc.publish(ctx, BarSubject(bar.Symbol, bar.TFSeconds), bar)
}

// PublishDecision publishes the outcome of a closed bar
func (nc *NATSClient) PublishDecision(ctx context.Context, ev models.DecisionEvent) error {
	return nc.publish(ctx, DecisionSubject(ev.Symbol), ev)
}

// PublishSignal publishes a lifecycle transition
func (nc *NATSClient) PublishSignal(ctx context.Context, symbol string, rec models.SignalRecord) error {
	return nc.publish(ctx, SignalSubject(symbol), rec)
}

// SubscribeDecisions delivers decision events of the given symbols, or all symbols
func (nc *NATSClient) SubscribeDecisions(handler func(models.DecisionEvent), symbols ...string) error {
	subjects := []string{"decisions.>"}
	if len(symbols) > 0 {
		subjects = subjects[:0]
		for _, s := range symbols {
			subjects = append(subjects, DecisionSubject(s))
		}
	}

	for _, subj := range subjects {
		sub, err := nc.conn.Subscribe(subj, func(msg *nats.Msg) {
			var ev models.DecisionEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				nc.logger.WithError(err).WithField("subject", msg.Subject).Warn("Dropping malformed decision")
				return
			}
			handler(ev)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subj, err)
		}
		nc.subsMu.Lock()
		nc.subs[subj] = sub
		nc.subsMu.Unlock()
	}
	return nil
}
