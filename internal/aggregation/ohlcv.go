package aggregation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Timeframes lists every timeframe produced, lowest first
var Timeframes = []int64{models.TF1m, models.TF5m, models.TF15m, models.TF1h, models.TF4h}

// cascade maps a closed bar's timeframe to the timeframes it feeds
var cascade = map[int64][]int64{
	models.TF1m: {models.TF5m, models.TF15m, models.TF1h},
	models.TF1h: {models.TF4h},
}

type barKey struct {
	symbol string
	tf     int64
}

// barBuilder accumulates one open bar
type barBuilder struct {
	bar    models.Bar
	seeded bool
}

func newBuilder(symbol string, tf int64, open time.Time) *barBuilder {
	return &barBuilder{bar: models.Bar{
		Symbol:    symbol,
		TimeOpen:  open,
		TimeClose: open.Add(time.Duration(tf) * time.Second),
		TFSeconds: tf,
	}}
}

func (b *barBuilder) addTrade(price float64, size int64) {
	if !b.seeded {
		b.bar.Open, b.bar.High, b.bar.Low = price, price, price
		b.seeded = true
	}
	if price > b.bar.High {
		b.bar.High = price
	}
	if price < b.bar.Low {
		b.bar.Low = price
	}
	b.bar.Close = price
	b.bar.Volume += float64(size)
	b.bar.TradeCount++
}

func (b *barBuilder) addBar(bar models.Bar) {
	if !b.seeded {
		b.bar.Open, b.bar.High, b.bar.Low = bar.Open, bar.High, bar.Low
		b.seeded = true
	}
	if bar.High > b.bar.High {
		b.bar.High = bar.High
	}
	if bar.Low < b.bar.Low {
		b.bar.Low = bar.Low
	}
	b.bar.Close = bar.Close
	b.bar.Volume += bar.Volume
	b.bar.TradeCount += bar.TradeCount
}

// Aggregator builds 1m bars from ticks and derives the higher timeframes
// from closed lower bars. It performs no I/O; closed bars are handed to
// subscribers registered with OnClose.
type Aggregator struct {
	mu           sync.Mutex
	active       map[barKey]*barBuilder
	closedUpTo   map[barKey]time.Time
	history      map[barKey][]models.Bar
	historyLimit int
	subscribers  []func(models.Bar)

	logger *logrus.Entry
}

// NewAggregator creates an aggregator keeping up to historyLimit closed bars per symbol and timeframe
func NewAggregator(historyLimit int, logger *logrus.Logger) *Aggregator {
	if historyLimit <= 0 {
		historyLimit = 500
	}
	return &Aggregator{
		active:       make(map[barKey]*barBuilder),
		closedUpTo:   make(map[barKey]time.Time),
		history:      make(map[barKey][]models.Bar),
		historyLimit: historyLimit,
		logger:       logger.WithField("component", "bar-builder"),
	}
}

// OnClose registers a subscriber for every closed bar of every timeframe.
// Subscribers run synchronously, outside the aggregator lock.
func (a *Aggregator) OnClose(fn func(models.Bar)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

// Update advances the current bar of (symbol, tf) with one trade. When ts
// crosses the bar boundary the previous bar is returned as closed and a new
// one opened; a jump across several windows closes only the previous bar.
func (a *Aggregator) Update(symbol string, price float64, size int64, ts time.Time, tf int64) (models.Bar, *models.Bar, error) {
	a.mu.Lock()
	current, closed, err := a.updateLocked(symbol, price, size, ts, tf)
	if closed != nil {
		a.remember(*closed)
	}
	subs := a.subscribers
	a.mu.Unlock()

	if closed != nil {
		notify(subs, []models.Bar{*closed})
	}
	return current, closed, err
}

func (a *Aggregator) updateLocked(symbol string, price float64, size int64, ts time.Time, tf int64) (models.Bar, *models.Bar, error) {
	if tf <= 0 {
		return models.Bar{}, nil, fmt.Errorf("%w: timeframe must be positive", models.ErrInvalidInput)
	}
	if price <= 0 || size <= 0 {
		return models.Bar{}, nil, fmt.Errorf("%w: price %v size %d", models.ErrInvalidInput, price, size)
	}

	key := barKey{symbol: symbol, tf: tf}
	open := ts.UTC().Truncate(time.Duration(tf) * time.Second)

	var closed *models.Bar
	b, ok := a.active[key]
	switch {
	case !ok:
		if last, seen := a.closedUpTo[key]; seen && !open.After(last) {
			return models.Bar{}, nil, fmt.Errorf("%w: tick at %s falls in closed bar %s", models.ErrInvalidInput, ts.UTC().Format(time.RFC3339Nano), last.Format(time.RFC3339))
		}
		b = newBuilder(symbol, tf, open)
		a.active[key] = b
	case open.Before(b.bar.TimeOpen):
		return b.bar, nil, fmt.Errorf("%w: tick at %s precedes open bar %s", models.ErrInvalidInput, ts.UTC().Format(time.RFC3339Nano), b.bar.TimeOpen.Format(time.RFC3339))
	case open.After(b.bar.TimeOpen):
		done := b.bar
		closed = &done
		a.closedUpTo[key] = done.TimeOpen
		b = newBuilder(symbol, tf, open)
		a.active[key] = b
	}

	b.addTrade(price, size)
	return b.bar, closed, nil
}

// Ingest feeds a tick into the 1m bar and cascades any closed bar upward.
// It returns every bar closed as a result, lowest timeframe first.
func (a *Aggregator) Ingest(t models.Tick) ([]models.Bar, error) {
	a.mu.Lock()
	_, closed, err := a.updateLocked(t.Symbol, t.Price, t.Size, t.Timestamp, models.TF1m)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}

	var out []models.Bar
	if closed != nil {
		out = append(out, *closed)
		out = append(out, a.cascadeLocked(*closed)...)
	}
	for _, bar := range out {
		a.remember(bar)
	}
	subs := a.subscribers
	a.mu.Unlock()

	notify(subs, out)
	return out, nil
}

// CloseExpired closes every open bar whose window ended at or before now.
// It drives bar completion from a wall clock when the feed goes quiet.
func (a *Aggregator) CloseExpired(now time.Time) []models.Bar {
	a.mu.Lock()

	var out []models.Bar
	for _, tf := range Timeframes {
		for _, key := range a.sortedKeys(tf) {
			b := a.active[key]
			if b.bar.TimeClose.After(now) {
				continue
			}
			delete(a.active, key)
			a.closedUpTo[key] = b.bar.TimeOpen
			out = append(out, b.bar)
			out = append(out, a.cascadeLocked(b.bar)...)
		}
	}
	for _, bar := range out {
		a.remember(bar)
	}
	subs := a.subscribers
	a.mu.Unlock()

	if len(out) > 0 {
		a.logger.WithField("closed", len(out)).Debug("Closed expired bars")
	}
	notify(subs, out)
	return out
}

// Flush closes every open bar regardless of time (shutdown, end of replay)
func (a *Aggregator) Flush() []models.Bar {
	return a.CloseExpired(time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
}

func (a *Aggregator) cascadeLocked(bar models.Bar) []models.Bar {
	var out []models.Bar
	for _, tf := range cascade[bar.TFSeconds] {
		if closed := a.foldLocked(bar, tf); closed != nil {
			out = append(out, *closed)
			out = append(out, a.cascadeLocked(*closed)...)
		}
	}
	return out
}

func (a *Aggregator) foldLocked(bar models.Bar, tf int64) *models.Bar {
	key := barKey{symbol: bar.Symbol, tf: tf}
	open := bar.TimeOpen.UTC().Truncate(time.Duration(tf) * time.Second)

	var closed *models.Bar
	b, ok := a.active[key]
	if !ok {
		// a window already closed by the wall clock is not reopened
		if last, seen := a.closedUpTo[key]; seen && !open.After(last) {
			return nil
		}
	}
	if ok && open.After(b.bar.TimeOpen) {
		done := b.bar
		closed = &done
		a.closedUpTo[key] = done.TimeOpen
		ok = false
	}
	if !ok {
		b = newBuilder(bar.Symbol, tf, open)
		a.active[key] = b
	}
	b.addBar(bar)
	return closed
}

func (a *Aggregator) sortedKeys(tf int64) []barKey {
	keys := make([]barKey, 0)
	for key := range a.active {
		if key.tf == tf {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].symbol < keys[j].symbol })
	return keys
}

func (a *Aggregator) remember(bar models.Bar) {
	key := barKey{symbol: bar.Symbol, tf: bar.TFSeconds}
	h := append(a.history[key], bar)
	if len(h) > a.historyLimit {
		h = h[len(h)-a.historyLimit:]
	}
	a.history[key] = h
}

func notify(subs []func(models.Bar), bars []models.Bar) {
	for _, bar := range bars {
		for _, fn := range subs {
			fn(bar)
		}
	}
}

// Current returns the open bar for (symbol, tf)
func (a *Aggregator) Current(symbol string, tf int64) (models.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.active[barKey{symbol: symbol, tf: tf}]
	if !ok {
		return models.Bar{}, false
	}
	return b.bar, true
}

// Bars returns up to limit of the most recent closed bars, oldest first
func (a *Aggregator) Bars(symbol string, tf int64, limit int) []models.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.history[barKey{symbol: symbol, tf: tf}]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]models.Bar, len(h))
	copy(out, h)
	return out
}

// ActiveBarCount returns the number of bars being built
func (a *Aggregator) ActiveBarCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}
