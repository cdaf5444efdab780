package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Normalizer turns raw feed trades into ticks the store accepts: prices on
// the tick grid, a known side, a symbol, and timestamps that never go
// backwards per symbol.
type Normalizer struct {
	tickSize float64
	symbol   string

	mu   sync.Mutex
	last map[string]time.Time
}

// NewNormalizer creates a normalizer. symbol replaces empty tick symbols.
func NewNormalizer(tickSize float64, symbol string) *Normalizer {
	return &Normalizer{
		tickSize: tickSize,
		symbol:   symbol,
		last:     make(map[string]time.Time),
	}
}

// Normalize aligns and validates t. A timestamp older than the last one
// seen for the symbol is clamped to it.
func (n *Normalizer) Normalize(t models.Tick) (models.Tick, error) {
	if t.Symbol == "" {
		t.Symbol = n.symbol
	}
	if !t.Side.Valid() {
		side, err := models.ParseSide(string(t.Side))
		if err != nil {
			return t, err
		}
		t.Side = side
	}
	if t.Price <= 0 {
		return t, fmt.Errorf("%w: price must be positive, got %v", models.ErrInvalidInput, t.Price)
	}
	t.Price = models.AlignToTick(t.Price, n.tickSize)
	t.Timestamp = t.Timestamp.UTC()

	n.mu.Lock()
	if last, ok := n.last[t.Symbol]; ok && t.Timestamp.Before(last) {
		t.Timestamp = last
	}
	if err := t.Validate(); err != nil {
		n.mu.Unlock()
		return t, err
	}
	n.last[t.Symbol] = t.Timestamp
	n.mu.Unlock()
	return t, nil
}
