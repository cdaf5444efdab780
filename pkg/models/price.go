package models

import (
	"github.com/shopspring/decimal"
)

// AlignToTick snaps a price onto the nearest multiple of tickSize
func AlignToTick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	tick := decimal.NewFromFloat(tickSize)
	steps := decimal.NewFromFloat(price).Div(tick).Round(0)
	aligned, _ := steps.Mul(tick).Float64()
	return aligned
}

// RoundPrice rounds a price to the given number of decimals, half away from zero
func RoundPrice(price float64, decimals int) float64 {
	rounded, _ := decimal.NewFromFloat(price).Round(int32(decimals)).Float64()
	return rounded
}

// BucketSize returns the price granularity implied by a decimal count
func BucketSize(decimals int) float64 {
	size, _ := decimal.New(1, int32(-decimals)).Float64()
	return size
}

// Direction is a directional thesis or dominance
type Direction string

const (
	DirectionBuy     Direction = "BUY"
	DirectionSell    Direction = "SELL"
	DirectionNeutral Direction = "NEUTRAL"
)

// Compatible reports whether two directions may describe the same defended level
func (d Direction) Compatible(other Direction) bool {
	return d == other || d == DirectionNeutral || other == DirectionNeutral
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v to [0, 1]
func Clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}
