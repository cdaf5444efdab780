package models

import (
	"fmt"
	"strings"
	"time"
)

// Side is the aggressor side of an executed trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes feed-specific side spellings
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B", "BID", "LONG":
		return SideBuy, nil
	case "SELL", "S", "ASK", "SHORT":
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrInvalidInput, s)
}

// Valid reports whether the side is one of the two known values
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Tick is a single normalized trade produced by a feed adapter
type Tick struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	Side      Side      `json:"side"`
	Symbol    string    `json:"contract_symbol"`
}

// Validate rejects malformed ticks
func (t Tick) Validate() error {
	if t.Price <= 0 {
		return fmt.Errorf("%w: price must be positive, got %v", ErrInvalidInput, t.Price)
	}
	if t.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidInput, t.Size)
	}
	if !t.Side.Valid() {
		return fmt.Errorf("%w: invalid side %q", ErrInvalidInput, t.Side)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidInput)
	}
	return nil
}

// TickRecord is a tick as persisted by the tick store
type TickRecord struct {
	ID int64 `json:"id"`
	Tick
}

// PriceVolume summarizes executed volume around a price
type PriceVolume struct {
	Price      float64 `json:"price"`
	BuyVolume  int64   `json:"buy_volume"`
	SellVolume int64   `json:"sell_volume"`
	NetVolume  int64   `json:"net_volume"`
}

// ProfileLevel is one bucket of a tick-store volume profile
type ProfileLevel struct {
	Buy   int64 `json:"buy"`
	Sell  int64 `json:"sell"`
	Net   int64 `json:"net"`
	Count int64 `json:"count"`
}

// TicksOf strips store ids
func TicksOf(recs []TickRecord) []Tick {
	out := make([]Tick, len(recs))
	for i, r := range recs {
		out[i] = r.Tick
	}
	return out
}
