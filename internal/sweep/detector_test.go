package sweep

import (
	"math/rand"
	"testing"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

var open = time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c, v float64) models.Bar {
	t := open.Add(time.Duration(i) * time.Minute)
	return models.Bar{TimeOpen: t, TimeClose: t.Add(time.Minute), TFSeconds: 60, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestBuySideSweep(t *testing.T) {
	d := NewDetector(0.1)
	prev := bar(0, 2505, 2510, 2500, 2508, 1000)
	curr := bar(1, 2510, 2515, 2505, 2507, 1500)

	sweeps := d.Detect([]models.Bar{prev, curr})
	if len(sweeps) != 1 {
		t.Fatalf("expected 1 sweep, got %+v", sweeps)
	}
	s := sweeps[0]
	if s.Type != models.BuySideSweep {
		t.Fatalf("type = %s", s.Type)
	}
	if s.BreachedLevel != 2510 || s.BreakExtreme != 2515 || s.RejectionClose != 2507 {
		t.Fatalf("levels = %+v", s)
	}
	if s.Strength <= 0.3 {
		t.Fatalf("strength = %v", s.Strength)
	}
	if s.Strength != 0.72 {
		t.Fatalf("strength = %v, want 0.72", s.Strength)
	}
	if s.OvershootPips != 50 {
		t.Fatalf("overshoot = %v pips", s.OvershootPips)
	}
	if s.Type.Thesis() != models.DirectionSell {
		t.Fatalf("thesis = %s", s.Type.Thesis())
	}
}

func TestSellSideSweep(t *testing.T) {
	d := NewDetector(0.1)
	prev := bar(0, 2505, 2510, 2500, 2502, 400)
	curr := bar(1, 2501, 2504, 2496, 2503, 200)

	sweeps := d.DetectPair(prev, curr)
	if len(sweeps) != 1 || sweeps[0].Type != models.SellSideSweep {
		t.Fatalf("sweeps = %+v", sweeps)
	}
	if sweeps[0].BreachedLevel != 2500 || sweeps[0].BreakExtreme != 2496 {
		t.Fatalf("levels = %+v", sweeps[0])
	}
}

func TestOutsideBarSweepsBothSides(t *testing.T) {
	d := NewDetector(0.1)
	prev := bar(0, 2505, 2510, 2500, 2505, 100)
	curr := bar(1, 2505, 2512, 2498, 2504, 100)
	if got := d.DetectPair(prev, curr); len(got) != 2 {
		t.Fatalf("expected two sweeps, got %+v", got)
	}
}

func TestBreakoutWithoutRejectionIsNotASweep(t *testing.T) {
	d := NewDetector(0.1)
	prev := bar(0, 2505, 2510, 2500, 2508, 100)
	curr := bar(1, 2509, 2515, 2506, 2514, 100)
	if got := d.DetectPair(prev, curr); len(got) != 0 {
		t.Fatalf("expected none, got %+v", got)
	}
}

func TestFewerThanTwoBars(t *testing.T) {
	d := NewDetector(0.1)
	if got := d.Detect(nil); len(got) != 0 {
		t.Fatalf("expected none")
	}
	if got := d.Detect([]models.Bar{bar(0, 1, 2, 1, 2, 1)}); len(got) != 0 {
		t.Fatalf("expected none")
	}
}

func TestInvalidBarsSkipped(t *testing.T) {
	d := NewDetector(0.1)
	prev := bar(0, 2505, 2510, 2500, 2508, 100)
	broken := bar(1, 2510, 2505, 2515, 2507, 100)
	if got := d.DetectPair(prev, broken); len(got) != 0 {
		t.Fatalf("expected none for inconsistent bar, got %+v", got)
	}
}

func TestTranslationInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	d := NewDetector(0.1)

	bars := make([]models.Bar, 60)
	price := 2400.0
	for i := range bars {
		o := price
		c := o + float64(rng.Intn(41)-20)
		h := max(o, c) + float64(rng.Intn(10))
		l := min(o, c) - float64(rng.Intn(10))
		bars[i] = bar(i, o, h, l, c, float64(100+rng.Intn(1500)))
		price = c
	}
	const shift = 128.0
	shifted := make([]models.Bar, len(bars))
	for i, b := range bars {
		b.Open += shift
		b.High += shift
		b.Low += shift
		b.Close += shift
		shifted[i] = b
	}

	a := d.Detect(bars)
	b := d.Detect(shifted)
	if len(a) == 0 {
		t.Fatalf("fixture produced no sweeps")
	}
	if len(a) != len(b) {
		t.Fatalf("sweep count changed: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Type != b[i].Type || !a[i].Time.Equal(b[i].Time) ||
			a[i].BreachedLevel+shift != b[i].BreachedLevel || a[i].Strength != b[i].Strength {
			t.Fatalf("sweep %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
