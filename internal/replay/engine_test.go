package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/database"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/memory"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/tickstore"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/logger"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

var start = time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

// syntheticBars is a deterministic oscillating series with occasional
// wide bars that run the prior extreme.
func syntheticBars(n int) []models.Bar {
	bars := make([]models.Bar, n)
	price := 2500.0
	for i := 0; i < n; i++ {
		open := price
		drift := math.Sin(float64(i)/5) * 3
		closeP := math.Round((open+drift)*10) / 10
		high := math.Max(open, closeP) + 1.5
		low := math.Min(open, closeP) - 1.5
		if i%7 == 3 {
			high += 4
		}
		if i%11 == 5 {
			low -= 4
		}
		t := start.Add(time.Duration(i) * time.Minute)
		bars[i] = models.Bar{
			Symbol: "GC", TimeOpen: t, TimeClose: t.Add(time.Minute),
			Open: open, High: math.Round(high*10) / 10, Low: math.Round(low*10) / 10, Close: closeP,
			Volume: float64(800 + (i*137)%1400), TFSeconds: models.TF1m,
		}
		price = closeP
	}
	return bars
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(config.Defaults(), "GC", opts, logger.Discard())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestReplayDeterministic(t *testing.T) {
	bars := syntheticBars(100)

	run := func() ([]byte, []byte, []byte) {
		res, err := newEngine(t, Options{}).Run(context.Background(), bars)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		timeline, err := res.Timeline.Export()
		if err != nil {
			t.Fatal(err)
		}
		packets, err := json.Marshal(res.ChartPackets)
		if err != nil {
			t.Fatal(err)
		}
		csv, err := res.Timeline.ExportCSV()
		if err != nil {
			t.Fatal(err)
		}
		return timeline, packets, csv
	}

	t1, p1, c1 := run()
	t2, p2, c2 := run()
	if !bytes.Equal(t1, t2) {
		t.Fatal("timeline exports differ")
	}
	if !bytes.Equal(p1, p2) {
		t.Fatal("chart packets differ")
	}
	if !bytes.Equal(c1, c2) {
		t.Fatal("timeline csv differs")
	}
}

func TestReplayCountsAndPackets(t *testing.T) {
	bars := syntheticBars(100)
	res, err := newEngine(t, Options{}).Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.Processed != 100 || res.Timeline.Len() != 100 || len(res.ChartPackets) != 100 {
		t.Fatalf("summary = %+v, timeline = %d, packets = %d", res.Summary, res.Timeline.Len(), len(res.ChartPackets))
	}
	for name, cells := range res.Heatmaps {
		if len(cells) != 100 {
			t.Fatalf("heatmap %s has %d cells", name, len(cells))
		}
	}
	if len(res.Heatmaps) != 6 {
		t.Fatalf("heatmaps = %d", len(res.Heatmaps))
	}
	if !res.Summary.From.Equal(start) || !res.Summary.To.Equal(start.Add(100*time.Minute)) {
		t.Fatalf("span = %s..%s", res.Summary.From, res.Summary.To)
	}
	for i, p := range res.ChartPackets {
		if p.Close != bars[i].Close || p.Tooltip == "" {
			t.Fatalf("packet %d = %+v", i, p)
		}
		if p.Signal != nil && *p.Signal != models.ActionExecute {
			t.Fatalf("packet %d signal = %s", i, *p.Signal)
		}
	}
	for _, e := range res.Timeline.Entries() {
		if e.Decision != nil && e.Decision.Confidence < 0.70 {
			t.Fatalf("decision below floor: %+v", e.Decision)
		}
	}
}

func TestReplayRunsOnce(t *testing.T) {
	e := newEngine(t, Options{})
	if _, err := e.Run(context.Background(), syntheticBars(3)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background(), syntheticBars(3)); err == nil {
		t.Fatal("expected error on second run")
	}
}

func TestReplayGapMarker(t *testing.T) {
	bars := syntheticBars(20)
	gappy := append(append([]models.Bar{}, bars[:5]...), bars[9:]...)

	res, err := newEngine(t, Options{}).Run(context.Background(), gappy)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.Gaps != 1 || res.Summary.MissingBars != 4 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	entries := res.Timeline.Entries()
	if len(entries) != 17 {
		t.Fatalf("entries = %d", len(entries))
	}
	gap := entries[5]
	if gap.Kind != models.TimelineGap || gap.MissingBars != 4 || gap.Decision != nil {
		t.Fatalf("gap = %+v", gap)
	}
	if !strings.Contains(gap.Explanation.Summary, "4 bar(s) missing") {
		t.Fatalf("gap explanation = %q", gap.Explanation.Summary)
	}
	if len(res.ChartPackets) != 16 {
		t.Fatalf("packets = %d", len(res.ChartPackets))
	}
}

func TestReplaySkipsInvalidBars(t *testing.T) {
	bars := syntheticBars(5)
	bars[2].Low = bars[2].High + 1
	bars = append(bars, bars[1])

	res, err := newEngine(t, Options{}).Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.InvalidBars != 2 || res.Summary.Processed != 4 {
		t.Fatalf("summary = %+v", res.Summary)
	}
}

func TestExplainerFallback(t *testing.T) {
	broken := ExplainerFunc(func(models.TimelineEntry) (models.Explanation, error) {
		return models.Explanation{}, errors.New("template exploded")
	})
	res, err := newEngine(t, Options{Explainer: broken}).Run(context.Background(), syntheticBars(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.ExplanationFallbacks != 10 {
		t.Fatalf("fallbacks = %d", res.Summary.ExplanationFallbacks)
	}
	for _, e := range res.Timeline.Entries() {
		if e.Explanation.Summary != FallbackExplanation {
			t.Fatalf("explanation = %q", e.Explanation.Summary)
		}
	}
}

// burstTicks prints a sell-dominated iceberg at 2507 inside the sweep bar
type burstTicks struct {
	at time.Time
}

func (b burstTicks) Ticks(_ context.Context, bar models.Bar) []models.Tick {
	if !bar.TimeOpen.Equal(b.at) {
		return nil
	}
	sizes := []int64{200, 100, 200, 300, 200, 200}
	sides := []models.Side{models.SideSell, models.SideBuy, models.SideSell, models.SideSell, models.SideBuy, models.SideSell}
	out := make([]models.Tick, len(sizes))
	for i := range sizes {
		out[i] = models.Tick{Timestamp: bar.TimeOpen.Add(time.Duration(i) * time.Second), Price: 2507, Size: sizes[i], Side: sides[i], Symbol: "GC"}
	}
	return out
}

func TestReplayOpensSignal(t *testing.T) {
	t0 := time.Date(2024, 3, 12, 17, 0, 0, 0, time.UTC)
	e := newEngine(t, Options{Ticks: burstTicks{at: t0.Add(time.Minute)}})
	for d := 3; d >= 1; d-- {
		if _, err := e.Memory().Store(memory.Observation{
			Price: 2507, Volume: 900, Direction: models.DirectionSell, Kind: models.ZoneKindAbsorption,
			Session: models.SessionNewYork, Time: t0.AddDate(0, 0, -d),
		}); err != nil {
			t.Fatal(err)
		}
	}

	mk := func(i int, o, h, l, c, v float64) models.Bar {
		ts := t0.Add(time.Duration(i) * time.Minute)
		return models.Bar{Symbol: "GC", TimeOpen: ts, TimeClose: ts.Add(time.Minute), Open: o, High: h, Low: l, Close: c, Volume: v, TFSeconds: models.TF1m}
	}
	bars := []models.Bar{
		mk(0, 2505, 2510, 2500, 2508, 1000),
		mk(1, 2510, 2515, 2505, 2507, 1500),
		mk(2, 2507, 2508, 2504, 2505, 600),
	}
	res, err := e.Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	entry := res.Timeline.Entries()[1]
	if entry.Decision == nil || entry.Decision.Action != models.ActionExecute {
		t.Fatalf("entry = %+v reasons %v scored %+v", entry.Decision, entry.FilterReasons, entry.Scored)
	}
	if entry.Decision.Confidence != 0.7225 {
		t.Fatalf("confidence = %v (%+v)", entry.Decision.Confidence, entry.Decision.ScoreBreakdown)
	}
	if entry.Signal == nil || entry.Signal.State != models.SignalConfirmed {
		t.Fatalf("signal = %+v", entry.Signal)
	}
	if s := res.Timeline.Entries()[2].Signal; s == nil || s.State != models.SignalActive {
		t.Fatalf("next signal = %+v", s)
	}
	if len(res.Signals) != 1 || res.Signals[0].State != models.SignalCompleted {
		t.Fatalf("history = %+v", res.Signals)
	}
	if p := res.ChartPackets[1]; p.Signal == nil || *p.Signal != models.ActionExecute || p.Edge != "SELL" {
		t.Fatalf("packet = %+v", p)
	}
}

func TestSyntheticTicksConserveVolume(t *testing.T) {
	src := SyntheticTicks{TickSize: 0.1}
	for _, b := range syntheticBars(30) {
		var sum int64
		ticks := src.Ticks(context.Background(), b)
		for _, tk := range ticks {
			if tk.Timestamp.Before(b.TimeOpen) || !tk.Timestamp.Before(b.TimeClose) {
				t.Fatalf("tick outside bar: %s", tk.Timestamp)
			}
			if tk.Price < b.Low || tk.Price > b.High {
				t.Fatalf("tick price %v outside [%v, %v]", tk.Price, b.Low, b.High)
			}
			sum += tk.Size
		}
		if sum != int64(b.Volume) {
			t.Fatalf("volume %d != %v", sum, b.Volume)
		}
	}
}

func TestStoreTicksWindow(t *testing.T) {
	log := logger.Discard()
	db, err := database.NewSQLiteClient(filepath.Join(t.TempDir(), "ticks.db"), log)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	store := tickstore.New(db, tickstore.DefaultOptions(), log)
	ticks := []models.Tick{
		{Timestamp: start, Price: 2500, Size: 1, Side: models.SideBuy, Symbol: "GC"},
		{Timestamp: start.Add(30 * time.Second), Price: 2501, Size: 2, Side: models.SideSell, Symbol: "GC"},
		{Timestamp: start.Add(time.Minute), Price: 2502, Size: 3, Side: models.SideBuy, Symbol: "GC"},
	}
	if _, err := store.RecordBatch(context.Background(), ticks); err != nil {
		t.Fatal(err)
	}

	bar := syntheticBars(1)[0]
	got := StoreTicks{Store: store}.Ticks(context.Background(), bar)
	if len(got) != 2 {
		t.Fatalf("ticks = %+v", got)
	}
}

func TestLoadBarsCSV(t *testing.T) {
	doc := "time,open,high,low,close,volume\n" +
		"2024-03-12T12:01:00Z,2501,2503,2500,2502,120\n" +
		"1710244800,2500,2502,2499,2501,100\n"
	bars, err := LoadBarsCSV(strings.NewReader(doc), "GC", models.TF1m)
	if err != nil {
		t.Fatalf("LoadBarsCSV: %v", err)
	}
	if len(bars) != 2 || !bars[0].TimeOpen.Equal(start) || bars[1].Close != 2502 {
		t.Fatalf("bars = %+v", bars)
	}
	if !bars[0].TimeClose.Equal(start.Add(time.Minute)) {
		t.Fatalf("close = %s", bars[0].TimeClose)
	}

	if _, err := LoadBarsCSV(strings.NewReader("time,open\n"), "GC", 60); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestWriteDir(t *testing.T) {
	res, err := newEngine(t, Options{}).Run(context.Background(), syntheticBars(10))
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "out")
	if err := WriteDir(dir, res); err != nil {
		t.Fatalf("WriteDir: %v", err)
	}
	for _, name := range []string{TimelineJSON, TimelineCSV, PacketsJSON, HeatmapsJSON, SignalsJSON, SummaryJSON} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, TimelineCSV))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "time,price,session,killzone,news_active,iceberg_score,confidence,decision,explanation" {
		t.Fatalf("header = %q", lines[0])
	}
	if len(lines) != 11 {
		t.Fatalf("rows = %d", len(lines))
	}
}
