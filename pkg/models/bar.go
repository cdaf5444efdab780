package models

import (
	"fmt"
	"time"
)

// Bar represents OHLCV candlestick data
type Bar struct {
	Symbol    string    `json:"symbol,omitempty"`
	TimeOpen  time.Time `json:"time_open"`
	TimeClose time.Time `json:"time_close"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	TFSeconds int64     `json:"tf_seconds"`

	TradeCount int64 `json:"trade_count,omitempty"`
}

// Timeframe returns the bar duration
func (b Bar) Timeframe() time.Duration {
	return time.Duration(b.TFSeconds) * time.Second
}

// Range returns high minus low
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Validate checks the OHLC ordering and window invariants
func (b Bar) Validate() error {
	if b.TFSeconds <= 0 {
		return fmt.Errorf("%w: bar timeframe must be positive", ErrInvalidInput)
	}
	if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close || b.Low > b.High {
		return fmt.Errorf("%w: inconsistent OHLC o=%v h=%v l=%v c=%v", ErrInvalidInput, b.Open, b.High, b.Low, b.Close)
	}
	if b.Low <= 0 {
		return fmt.Errorf("%w: non-positive price in bar", ErrInvalidInput)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: negative volume", ErrInvalidInput)
	}
	if !b.TimeClose.IsZero() && b.TimeClose.Sub(b.TimeOpen) != b.Timeframe() {
		return fmt.Errorf("%w: bar window %s does not match timeframe %s", ErrInvalidInput, b.TimeClose.Sub(b.TimeOpen), b.Timeframe())
	}
	return nil
}

// Standard timeframes in seconds
const (
	TF1m  int64 = 60
	TF5m  int64 = 300
	TF15m int64 = 900
	TF1h  int64 = 3600
	TF4h  int64 = 14400
)

var tfLabels = map[int64]string{
	TF1m:  "1m",
	TF5m:  "5m",
	TF15m: "15m",
	TF1h:  "1h",
	TF4h:  "4h",
}

// TimeframeLabel renders a timeframe as 1m, 5m, 15m, 1h, 4h or a plain second count
func TimeframeLabel(tfSeconds int64) string {
	if label, ok := tfLabels[tfSeconds]; ok {
		return label
	}
	return fmt.Sprintf("%ds", tfSeconds)
}

// ParseTimeframe accepts labels such as 1m, 15m, 4h and bare minute counts such as 5 or 60
func ParseTimeframe(s string) (int64, error) {
	for tf, label := range tfLabels {
		if label == s {
			return tf, nil
		}
	}
	var minutes int64
	if _, err := fmt.Sscanf(s, "%d", &minutes); err == nil && minutes > 0 && fmt.Sprint(minutes) == s {
		return minutes * 60, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d >= time.Second && d%time.Second == 0 {
		return int64(d / time.Second), nil
	}
	return 0, fmt.Errorf("%w: unknown timeframe %q", ErrInvalidInput, s)
}
