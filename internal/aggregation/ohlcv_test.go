package aggregation

import (
	"errors"
	"testing"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/logger"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

var base = time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)

func trade(offset time.Duration, price float64, size int64) models.Tick {
	return models.Tick{Timestamp: base.Add(offset), Price: price, Size: size, Side: models.SideBuy, Symbol: "GC"}
}

func TestUpdateBuildsAndClosesBar(t *testing.T) {
	a := NewAggregator(10, logger.Discard())

	prices := []float64{2400.0, 2401.5, 2399.2, 2400.7}
	var vol int64
	for i, p := range prices {
		size := int64(i + 1)
		vol += size
		cur, closed, err := a.Update("GC", p, size, base.Add(time.Duration(i)*10*time.Second), models.TF1m)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if closed != nil {
			t.Fatalf("bar closed early")
		}
		if cur.Close != p {
			t.Fatalf("close = %v, want %v", cur.Close, p)
		}
	}

	_, closed, err := a.Update("GC", 2402, 1, base.Add(time.Minute), models.TF1m)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if closed == nil {
		t.Fatalf("expected closed bar")
	}
	if closed.Open != 2400.0 || closed.High != 2401.5 || closed.Low != 2399.2 || closed.Close != 2400.7 {
		t.Fatalf("ohlc = %+v", closed)
	}
	if closed.Volume != float64(vol) || closed.TradeCount != 4 {
		t.Fatalf("volume = %v trades = %d", closed.Volume, closed.TradeCount)
	}
	if err := closed.Validate(); err != nil {
		t.Fatalf("closed bar invalid: %v", err)
	}
}

func TestUpdateRejectsLateTick(t *testing.T) {
	a := NewAggregator(10, logger.Discard())
	if _, _, err := a.Update("GC", 2400, 1, base.Add(2*time.Minute), models.TF1m); err != nil {
		t.Fatalf("update: %v", err)
	}
	_, _, err := a.Update("GC", 2400, 1, base, models.TF1m)
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGapEmitsNoPlaceholder(t *testing.T) {
	a := NewAggregator(10, logger.Discard())
	if _, err := a.Ingest(trade(0, 2400, 1)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	closed, err := a.Ingest(trade(10*time.Minute, 2405, 1))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var oneMinute []models.Bar
	for _, b := range closed {
		if b.TFSeconds == models.TF1m {
			oneMinute = append(oneMinute, b)
		}
	}
	if len(oneMinute) != 1 || !oneMinute[0].TimeOpen.Equal(base) {
		t.Fatalf("expected only the 13:00 bar, got %+v", oneMinute)
	}
}

func TestCascadeProducesHigherTimeframes(t *testing.T) {
	a := NewAggregator(100, logger.Discard())
	var seen []models.Bar
	a.OnClose(func(b models.Bar) { seen = append(seen, b) })

	// One trade per minute for 61 minutes: closes 60 1m bars, then 5m/15m and the 13:00 hour
	for i := 0; i <= 60; i++ {
		if _, err := a.Ingest(trade(time.Duration(i)*time.Minute, 2400+float64(i%7), 10)); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	a.CloseExpired(base.Add(2 * time.Hour))

	counts := map[int64]int{}
	for _, b := range seen {
		counts[b.TFSeconds]++
		if err := b.Validate(); err != nil {
			t.Fatalf("invalid %s bar: %v", models.TimeframeLabel(b.TFSeconds), err)
		}
	}
	if counts[models.TF1m] != 61 || counts[models.TF5m] != 13 || counts[models.TF15m] != 5 || counts[models.TF1h] != 2 {
		t.Fatalf("counts = %v", counts)
	}

	hours := a.Bars("GC", models.TF1h, 0)
	if len(hours) != 2 || hours[0].Volume != 600 || hours[0].TradeCount != 60 {
		t.Fatalf("hour bars = %+v", hours)
	}

	four, ok := a.Current("GC", models.TF4h)
	if !ok || !four.TimeOpen.Equal(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("4h bar = %+v ok=%v", four, ok)
	}
}

func TestBarVolumeEqualsTickSum(t *testing.T) {
	a := NewAggregator(10, logger.Discard())
	sizes := []int64{3, 7, 11, 13}
	for i, s := range sizes {
		if _, err := a.Ingest(trade(time.Duration(i)*time.Second, 2400, s)); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	closed := a.Flush()
	if len(closed) == 0 || closed[0].TFSeconds != models.TF1m || closed[0].Volume != 34 {
		t.Fatalf("flushed = %+v", closed)
	}
	if a.ActiveBarCount() != 0 {
		t.Fatalf("active bars left after flush")
	}
}

func TestResampleAlignsToUTC(t *testing.T) {
	var bars []models.Bar
	start := time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		open := start.Add(time.Duration(i) * time.Hour)
		bars = append(bars, models.Bar{
			Symbol: "GC", TimeOpen: open, TimeClose: open.Add(time.Hour), TFSeconds: models.TF1h,
			Open: 100, High: 110 + float64(i), Low: 90 - float64(i), Close: 105, Volume: 10,
		})
	}

	out, err := Resample(bars, models.TF4h)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(out))
	}
	if !out[0].TimeOpen.Equal(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)) || out[0].Volume != 10 {
		t.Fatalf("first = %+v", out[0])
	}
	if !out[1].TimeOpen.Equal(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)) || out[1].Volume != 40 || out[1].High != 114 || out[1].Low != 86 {
		t.Fatalf("second = %+v", out[1])
	}

	if _, err := Resample(out, models.TF1h); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("downsampling should fail, got %v", err)
	}
}

func TestLateTickAfterWallClockCloseIsRejected(t *testing.T) {
	a := NewAggregator(10, logger.Discard())

	if _, err := a.Ingest(trade(10*time.Second, 2400, 100)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	closed := a.CloseExpired(base.Add(time.Minute + 100*time.Millisecond))
	if len(closed) == 0 || closed[0].TFSeconds != models.TF1m || closed[0].Volume != 100 {
		t.Fatalf("closed = %+v", closed)
	}

	_, err := a.Ingest(trade(59*time.Second, 2400.5, 7))
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("late tick err = %v, want ErrInvalidInput", err)
	}
	if _, ok := a.Current("GC", models.TF1m); ok {
		t.Fatal("late tick reopened the closed window")
	}

	if _, err := a.Ingest(trade(65*time.Second, 2401, 3)); err != nil {
		t.Fatalf("next window: %v", err)
	}
	if got := a.Bars("GC", models.TF1m, 0); len(got) != 1 {
		t.Fatalf("1m history = %d bars, want 1", len(got))
	}
	a.Flush()
	h := a.Bars("GC", models.TF1m, 0)
	if len(h) != 2 || !h[1].TimeOpen.Equal(base.Add(time.Minute)) || h[1].Volume != 3 {
		t.Fatalf("history = %+v", h)
	}
}
