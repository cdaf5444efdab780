package profile

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

func tk(price float64, size int64, side models.Side) models.Tick {
	return models.Tick{Timestamp: time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC), Price: price, Size: size, Side: side, Symbol: "GC"}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestComputePOCAndValueArea(t *testing.T) {
	ticks := []models.Tick{
		tk(2500.0, 10, models.SideBuy),
		tk(2500.1, 20, models.SideSell),
		tk(2500.2, 50, models.SideBuy),
		tk(2500.3, 15, models.SideSell),
		tk(2500.4, 5, models.SideBuy),
	}
	p, err := Compute(ticks, 0.1, 0.70)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !near(p.POC, 2500.2) {
		t.Fatalf("poc = %v", p.POC)
	}
	// 50 at the poc, the heavier neighbour below brings it to 70
	if !near(p.VAL, 2500.1) || !near(p.VAH, 2500.2) {
		t.Fatalf("value area = [%v, %v]", p.VAL, p.VAH)
	}
	if p.TotalVolume != 100 || p.TotalBuyVolume != 65 || p.TotalSellVolume != 35 {
		t.Fatalf("totals = %v/%v/%v", p.TotalVolume, p.TotalBuyVolume, p.TotalSellVolume)
	}
	if len(p.Histogram) != 5 || p.Histogram[0].Price > p.Histogram[4].Price {
		t.Fatalf("histogram not sorted ascending: %+v", p.Histogram)
	}
	want := (2500.0*10 + 2500.1*20 + 2500.2*50 + 2500.3*15 + 2500.4*5) / 100
	if !near(p.VWAP, want) {
		t.Fatalf("vwap = %v, want %v", p.VWAP, want)
	}
}

func TestValueAreaHoldsRequestedShare(t *testing.T) {
	var ticks []models.Tick
	for i := 0; i < 40; i++ {
		ticks = append(ticks, tk(2400+float64(i%13)*0.1, int64(1+(i*7)%11), models.SideBuy))
	}
	for _, pct := range []float64{0.5, 0.7, 0.9, 1.0} {
		p, err := Compute(ticks, 0.1, pct)
		if err != nil {
			t.Fatalf("Compute: %v", err)
		}
		var inside float64
		for _, lvl := range p.Histogram {
			if lvl.Price >= p.VAL-1e-9 && lvl.Price <= p.VAH+1e-9 {
				inside += lvl.Volume
			}
		}
		if inside < pct*p.TotalVolume-1e-9 {
			t.Fatalf("pct %v: value area holds %v of %v", pct, inside, p.TotalVolume)
		}
		if p.POC < p.VAL || p.POC > p.VAH {
			t.Fatalf("poc %v outside [%v, %v]", p.POC, p.VAL, p.VAH)
		}
	}
}

func TestBucketsAlignToTickSize(t *testing.T) {
	p, err := Compute([]models.Tick{
		tk(2500.04, 3, models.SideBuy),
		tk(2500.06, 4, models.SideSell),
		tk(2499.96, 2, models.SideBuy),
	}, 0.1, 0.7)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(p.Histogram) != 2 {
		t.Fatalf("levels = %+v", p.Histogram)
	}
	if !near(p.Histogram[0].Price, 2500.0) || p.Histogram[0].Volume != 5 {
		t.Fatalf("level 0 = %+v", p.Histogram[0])
	}
}

func TestComputeEmptyAndInvalid(t *testing.T) {
	p, err := Compute(nil, 0.1, 0.7)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if p.TotalVolume != 0 || len(p.Histogram) != 0 || p.Histogram == nil {
		t.Fatalf("empty profile = %+v", p)
	}
	if _, err := Compute(nil, 0, 0.7); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestFromBarsSpreadsVolume(t *testing.T) {
	bars := []models.Bar{
		{Open: 2500.0, High: 2500.4, Low: 2500.0, Close: 2500.3, Volume: 50, TFSeconds: 60},
		{Open: 2500.2, High: 2500.2, Low: 2500.2, Close: 2500.2, Volume: 30, TFSeconds: 60},
	}
	p, err := FromBars(bars, 0.1, 0.7)
	if err != nil {
		t.Fatalf("FromBars: %v", err)
	}
	if len(p.Histogram) != 5 {
		t.Fatalf("levels = %d", len(p.Histogram))
	}
	if !near(p.TotalVolume, 80) || !near(p.TotalBuyVolume, 65) {
		t.Fatalf("totals = %v buy %v", p.TotalVolume, p.TotalBuyVolume)
	}
	if !near(p.POC, 2500.2) {
		t.Fatalf("poc = %v", p.POC)
	}
}

func TestFromBarsRejectsExplodingLevelCount(t *testing.T) {
	bars := []models.Bar{{Open: 2500, High: 2510, Low: 2500, Close: 2505, Volume: 100, TFSeconds: 60}}

	start := time.Now()
	_, err := FromBars(bars, 0.00001, 0.7)
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("rejection took %v", elapsed)
	}

	if _, err := FromBars(bars, 0.1, 0.7); err != nil {
		t.Fatalf("normal tick size: %v", err)
	}
}
