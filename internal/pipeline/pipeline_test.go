package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/memory"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/session"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/signals"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/logger"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

var open0 = time.Date(2024, 3, 12, 17, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Analysis = config.AnalysisConfig{
		TickSize:                 0.1,
		AbsorptionThreshold:      400,
		AbsorptionBucketDecimals: 1,
		SweepToleranceBars:       1,
		ExecuteThreshold:         0.70,
		WaitThreshold:            0.50,
		VolumeReference:          2000,
		OrderFlowTicks:           500,
		OrderFlowWindow:          time.Minute,
		OrderFlowDeadband:        50,
		SignalHorizonBars:        20,
	}
	cfg.Filters = config.FiltersConfig{Preset: "normal"}
	return cfg
}

func newPipeline(t *testing.T, cal *session.Calendar) *Pipeline {
	t.Helper()
	log := logger.Discard()
	mem, err := memory.Open(memory.DefaultOptions(), log)
	if err != nil {
		t.Fatalf("memory.Open: %v", err)
	}
	var news session.Calendars
	if cal != nil {
		news = session.Static{Cal: cal}
	}
	p, err := Build(testConfig(), "GC", mem, session.NewManager(nil, news), log)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return p
}

func bar(i int, o, h, l, c, v float64) models.Bar {
	start := open0.Add(time.Duration(i) * time.Minute)
	return models.Bar{
		Symbol: "GC", TimeOpen: start, TimeClose: start.Add(time.Minute),
		Open: o, High: h, Low: l, Close: c, Volume: v, TFSeconds: models.TF1m,
	}
}

func absorptionTicks(at time.Time) []models.Tick {
	sizes := []int64{150, 160, 140, 200, 180, 170}
	out := make([]models.Tick, len(sizes))
	for i, s := range sizes {
		side := models.SideBuy
		if i%2 == 1 {
			side = models.SideSell
		}
		out[i] = models.Tick{Timestamp: at.Add(time.Duration(i) * time.Second), Price: 2500.0, Size: s, Side: side, Symbol: "GC"}
	}
	return out
}

func TestProcessStoresDetectedLevels(t *testing.T) {
	p := newPipeline(t, nil)

	prev := bar(0, 2505, 2510, 2500, 2508, 1000)
	if _, err := p.Process(prev, absorptionTicks(prev.TimeOpen), false); err != nil {
		t.Fatalf("Process: %v", err)
	}
	curr := bar(1, 2510, 2515, 2505, 2507, 1500)
	res, err := p.Process(curr, nil, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Context.Sweeps) != 1 || res.Context.Sweeps[0].Type != models.BuySideSweep {
		t.Fatalf("sweeps = %+v", res.Context.Sweeps)
	}

	var absorbed, trapped bool
	for _, z := range p.Memory().Zones() {
		switch {
		case z.Kind == models.ZoneKindAbsorption && z.Price == 2500:
			absorbed = true
		case z.Kind == models.ZoneKindTrapped && z.Price == 2510 && z.Direction == models.DirectionSell:
			trapped = true
		}
	}
	if !absorbed || !trapped {
		t.Fatalf("memory = %+v", p.Memory().Zones())
	}
	if res.Context.Session != models.SessionNewYork || res.Context.Symbol != "GC" {
		t.Fatalf("context = %+v", res.Context)
	}
	if res.Context.OrderFlow == nil || res.Context.OrderFlow.TickCount != 6 {
		t.Fatalf("order flow = %+v", res.Context.OrderFlow)
	}
}

func TestProcessBlocksHighNews(t *testing.T) {
	cal := session.NewCalendar([]session.Event{{Time: open0.Add(2 * time.Minute), Name: "CPI"}}, 10)
	p := newPipeline(t, cal)

	res, err := p.Process(bar(0, 2505, 2510, 2500, 2508, 1500), absorptionTicks(open0), false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	found := false
	for _, r := range res.FilterReasons {
		if r == signals.ReasonNewsBlocked {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons = %v", res.FilterReasons)
	}
	if res.Decision != nil || res.Scored != nil {
		t.Fatalf("decision = %+v", res.Decision)
	}
	if res.Signal != nil {
		t.Fatalf("signal = %+v", res.Signal)
	}
}

func TestProcessFeedStaleBlocks(t *testing.T) {
	p := newPipeline(t, nil)
	res, err := p.Process(bar(0, 2505, 2510, 2500, 2508, 1500), nil, true)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Context.FeedStale || res.Decision != nil {
		t.Fatalf("result = %+v", res)
	}
}

func TestProcessRejectsBadBars(t *testing.T) {
	p := newPipeline(t, nil)
	if _, err := p.Process(bar(0, 2505, 2500, 2510, 2508, 10), nil, false); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	if _, err := p.Process(bar(1, 2505, 2510, 2500, 2508, 10), nil, false); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := p.Process(bar(1, 2505, 2510, 2500, 2508, 10), nil, false); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("repeated bar err = %v", err)
	}
	if got, ok := p.Previous(); !ok || !got.TimeOpen.Equal(open0.Add(time.Minute)) {
		t.Fatalf("previous = %+v", got)
	}
}

func TestRetestOnEntry(t *testing.T) {
	p := newPipeline(t, nil)
	mem := p.Memory()
	if _, err := mem.Store(memory.Observation{Price: 2520, Volume: 800, Direction: models.DirectionBuy,
		Kind: models.ZoneKindAbsorption, Session: models.SessionNewYork, Time: open0}); err != nil {
		t.Fatal(err)
	}

	p.Process(bar(0, 2500, 2502, 2499, 2501, 100), nil, false)
	p.Process(bar(1, 2501, 2521, 2500, 2519.5, 100), nil, false)
	p.Process(bar(2, 2519.5, 2521, 2518, 2520, 100), nil, false)

	zones := mem.ActiveZones(2520, 1, "", time.Time{})
	if len(zones) != 1 || zones[0].HitCount != 2 {
		t.Fatalf("zones = %+v", zones)
	}
}
