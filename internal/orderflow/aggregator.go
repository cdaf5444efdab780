package orderflow

import (
	"sync"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

const (
	DefaultMaxTicks = 500
	DefaultWindow   = 60 * time.Second
	DefaultDeadband = 50
)

// Aggregator keeps rolling buy and sell volume over the last MaxTicks ticks
// or the last Window of tick time, whichever holds fewer ticks.
type Aggregator struct {
	mu       sync.Mutex
	maxTicks int
	window   time.Duration
	deadband int64

	ticks []models.Tick
	buy   int64
	sell  int64
}

// NewAggregator creates an aggregator; non-positive arguments fall back to defaults
func NewAggregator(maxTicks int, window time.Duration, deadband int64) *Aggregator {
	if maxTicks <= 0 {
		maxTicks = DefaultMaxTicks
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if deadband < 0 {
		deadband = DefaultDeadband
	}
	return &Aggregator{
		maxTicks: maxTicks,
		window:   window,
		deadband: deadband,
		ticks:    make([]models.Tick, 0, maxTicks),
	}
}

// Update adds a tick and evicts what fell out of the window
func (a *Aggregator) Update(t models.Tick) {
	if t.Size <= 0 || !t.Side.Valid() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.ticks = append(a.ticks, t)
	a.add(t, 1)

	cutoff := t.Timestamp.Add(-a.window)
	drop := 0
	for drop < len(a.ticks) && (len(a.ticks)-drop > a.maxTicks || a.ticks[drop].Timestamp.Before(cutoff)) {
		a.add(a.ticks[drop], -1)
		drop++
	}
	if drop > 0 {
		a.ticks = append(a.ticks[:0], a.ticks[drop:]...)
	}
}

func (a *Aggregator) add(t models.Tick, sign int64) {
	switch t.Side {
	case models.SideBuy:
		a.buy += sign * t.Size
	case models.SideSell:
		a.sell += sign * t.Size
	}
}

// Snapshot returns the rolling totals and bias
func (a *Aggregator) Snapshot() models.OrderFlowSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	delta := a.buy - a.sell
	bias := models.DirectionNeutral
	switch {
	case delta > a.deadband:
		bias = models.DirectionBuy
	case delta < -a.deadband:
		bias = models.DirectionSell
	}

	span := 0.0
	if n := len(a.ticks); n > 1 {
		span = a.ticks[n-1].Timestamp.Sub(a.ticks[0].Timestamp).Seconds()
	}

	return models.OrderFlowSnapshot{
		BuyVolume:     a.buy,
		SellVolume:    a.sell,
		Delta:         delta,
		Bias:          bias,
		WindowSeconds: span,
		TickCount:     len(a.ticks),
	}
}

// Reset clears the window
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ticks = a.ticks[:0]
	a.buy, a.sell = 0, 0
}
