package exchange

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/logger"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Sink receives batches of normalized ticks, oldest first
type Sink func(ctx context.Context, ticks []models.Tick) error

type sampleKey struct {
	symbol string
	side   models.Side
}

// Bridge is the bounded hand-off between feed adapters and the tick store.
// When the queue is full it switches to sampled mode: ticks are folded per
// symbol and side, keeping the latest price and time and summing sizes,
// until the queue has drained. Nothing is buffered beyond the queue.
type Bridge struct {
	queue         chan models.Tick
	sink          Sink
	batchSize     int
	flushInterval time.Duration

	sampled atomic.Bool
	mu      sync.Mutex
	pending map[sampleKey]*models.Tick
	order   []sampleKey

	dropped atomic.Int64
	folded  atomic.Int64

	logger  *logrus.Entry
	limiter *logger.Limiter
}

// NewBridge creates a bridge feeding sink
func NewBridge(cfg *config.ExchangeConfig, sink Sink, log *logrus.Logger) *Bridge {
	size := cfg.QueueSize
	if size <= 0 {
		size = 4096
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = 100 * time.Millisecond
	}
	return &Bridge{
		queue:         make(chan models.Tick, size),
		sink:          sink,
		batchSize:     batch,
		flushInterval: flush,
		pending:       make(map[sampleKey]*models.Tick),
		logger:        log.WithField("component", "bridge"),
		limiter:       logger.NewLimiter(10 * time.Second),
	}
}

// Offer hands a tick to the bridge without blocking
func (b *Bridge) Offer(t models.Tick) {
	for {
		if !b.sampled.Load() {
			select {
			case b.queue <- t:
				return
			default:
				b.enterSampled()
			}
		}
		if b.fold(t) {
			return
		}
	}
}

func (b *Bridge) enterSampled() {
	if b.sampled.CompareAndSwap(false, true) {
		metrics.SetFlag(metrics.SampledMode, true)
		b.logger.WithField("queue", cap(b.queue)).Warn("Tick queue saturated, switching to sampled mode")
	}
}

// fold reports false when sampled mode ended before the lock was taken
func (b *Bridge) fold(t models.Tick) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.sampled.Load() {
		return false
	}

	key := sampleKey{symbol: t.Symbol, side: t.Side}
	agg, ok := b.pending[key]
	if !ok {
		cp := t
		b.pending[key] = &cp
		b.order = append(b.order, key)
		return true
	}
	b.folded.Add(1)
	agg.Size += t.Size
	if !t.Timestamp.Before(agg.Timestamp) {
		agg.Price = t.Price
		agg.Timestamp = t.Timestamp
	}
	return true
}

// Sampled reports whether the bridge is aggregating ticks
func (b *Bridge) Sampled() bool {
	return b.sampled.Load()
}

// Stats reports queue depth and sampling counters
func (b *Bridge) Stats() map[string]interface{} {
	return map[string]interface{}{
		"queued":  len(b.queue),
		"sampled": b.sampled.Load(),
		"folded":  b.folded.Load(),
		"dropped": b.dropped.Load(),
	}
}

// Run delivers batches to the sink until ctx is done. Whatever is already
// queued at cancellation is still delivered.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]models.Tick, 0, b.batchSize)
	for {
		select {
		case <-ctx.Done():
			batch = b.drain(batch)
			b.deliver(context.Background(), batch)
			return
		case t := <-b.queue:
			batch = append(batch, t)
			if len(batch) >= b.batchSize {
				b.deliver(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.deliver(ctx, batch)
				batch = batch[:0]
			}
			if b.sampled.Load() && len(b.queue) == 0 {
				b.deliver(ctx, b.leaveSampled())
			}
		}
	}
}

func (b *Bridge) drain(batch []models.Tick) []models.Tick {
	for {
		select {
		case t := <-b.queue:
			batch = append(batch, t)
		default:
			if b.sampled.Load() {
				batch = append(batch, b.leaveSampled()...)
			}
			return batch
		}
	}
}

// leaveSampled returns the folded ticks in time order and resumes queueing
func (b *Bridge) leaveSampled() []models.Tick {
	b.mu.Lock()
	out := make([]models.Tick, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, *b.pending[key])
	}
	b.pending = make(map[sampleKey]*models.Tick)
	b.order = b.order[:0]
	b.sampled.Store(false)
	b.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	metrics.SetFlag(metrics.SampledMode, false)
	b.logger.WithField("folded_ticks", len(out)).Info("Tick queue drained, leaving sampled mode")
	return out
}

func (b *Bridge) deliver(ctx context.Context, batch []models.Tick) {
	if len(batch) == 0 {
		return
	}
	if err := b.sink(ctx, batch); err != nil {
		b.dropped.Add(int64(len(batch)))
		metrics.ObserveError(err)
		b.limiter.Error(b.logger.WithField("batch", len(batch)), "sink", err, "Failed to deliver tick batch")
	}
}
