package aggregation

import (
	"fmt"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Resample folds bars into a coarser timeframe aligned to UTC boundaries.
// Input must be ordered by open time; buckets without input produce no bar.
func Resample(bars []models.Bar, tf int64) ([]models.Bar, error) {
	if tf <= 0 {
		return nil, fmt.Errorf("%w: timeframe must be positive", models.ErrInvalidInput)
	}
	out := make([]models.Bar, 0, len(bars))
	var b *barBuilder
	for _, bar := range bars {
		if bar.TFSeconds > tf {
			return nil, fmt.Errorf("%w: cannot resample %s bars into %s", models.ErrInvalidInput,
				models.TimeframeLabel(bar.TFSeconds), models.TimeframeLabel(tf))
		}
		open := bar.TimeOpen.UTC().Truncate(time.Duration(tf) * time.Second)
		if b != nil && open.Before(b.bar.TimeOpen) {
			return nil, fmt.Errorf("%w: bars out of order at %s", models.ErrInvalidInput, bar.TimeOpen.Format(time.RFC3339))
		}
		if b == nil || open.After(b.bar.TimeOpen) {
			if b != nil {
				out = append(out, b.bar)
			}
			b = newBuilder(bar.Symbol, tf, open)
		}
		b.addBar(bar)
	}
	if b != nil {
		out = append(out, b.bar)
	}
	return out, nil
}
