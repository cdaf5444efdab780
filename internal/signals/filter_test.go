package signals

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/imo"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

func scenarioContext() models.ScoringContext {
	return models.ScoringContext{
		Time:         time.Date(2024, 3, 12, 17, 0, 0, 0, time.UTC),
		CurrentPrice: 2505.0,
		AbsorptionZones: []models.AbsorptionZone{
			{Price: 2506.0, TotalVolume: 1200, Dominance: models.DirectionSell, Strength: 0.8},
		},
		Sweeps: []models.Sweep{
			{Type: models.BuySideSweep, BreachedLevel: 2510, BreakExtreme: 2515, RejectionClose: 2507, Strength: 0.7},
		},
		MemoryZones: []models.MemoryZone{
			{ID: 1, Price: 2504.0, HitCount: 2},
			{ID: 2, Price: 2507.5, HitCount: 2},
		},
		Session:                 models.SessionNewYork,
		IcebergPersistenceScore: 0.6,
		Volume:                  1500,
	}
}

func normal(t *testing.T) *Filter {
	t.Helper()
	f, err := NewFilterFromConfig(config.FiltersConfig{Preset: "normal"})
	if err != nil {
		t.Fatalf("NewFilterFromConfig: %v", err)
	}
	return f
}

func contains(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func TestFilterPassesExecute(t *testing.T) {
	f := normal(t)
	ctx := scenarioContext()
	if r := f.PreCheck(ctx); len(r) != 0 {
		t.Fatalf("pre = %v", r)
	}
	d := imo.NewScorer(imo.DefaultOptions()).Evaluate(ctx)
	if r := f.PostCheck(ctx, d); len(r) != 0 {
		t.Fatalf("post = %v", r)
	}
}

func TestFilterBlocksHighNews(t *testing.T) {
	f := normal(t)
	ctx := scenarioContext()
	ctx.News = models.NewsWindow{Active: true, Impact: models.ImpactHigh, Event: "CPI"}

	reasons := f.PreCheck(ctx)
	if !contains(reasons, ReasonNewsBlocked) {
		t.Fatalf("reasons = %v", reasons)
	}

	lc := NewLifecycle("GC", 0)
	if rec, changed := lc.Step(ctx, nil); rec != nil || changed {
		t.Fatalf("blocked decision opened a signal: %+v", rec)
	}
}

func TestFilterMediumNews(t *testing.T) {
	f := normal(t)
	ctx := scenarioContext()
	ctx.News = models.NewsWindow{Active: true, Impact: models.ImpactMedium}
	if r := f.PreCheck(ctx); len(r) != 0 {
		t.Fatalf("medium news should pass pre-check: %v", r)
	}
	d := models.Decision{Action: models.ActionExecute, Confidence: 0.75}
	if r := f.PostCheck(ctx, d); !contains(r, ReasonNewsMediumLowConf) {
		t.Fatalf("reasons = %v", r)
	}
	d.Confidence = 0.85
	if r := f.PostCheck(ctx, d); len(r) != 0 {
		t.Fatalf("reasons = %v", r)
	}
}

func TestFilterPreChecks(t *testing.T) {
	f := normal(t)
	cases := []struct {
		name   string
		mutate func(*models.ScoringContext)
		reason string
	}{
		{"off session", func(c *models.ScoringContext) { c.Session = models.SessionOff }, ReasonOffSession},
		{"kill zone", func(c *models.ScoringContext) { c.KillZone = true }, ReasonKillZone},
		{"iceberg", func(c *models.ScoringContext) { c.IcebergPersistenceScore = 0.4 }, ReasonLowIceberg},
		{"stale", func(c *models.ScoringContext) { c.FeedStale = true }, ReasonFeedStale},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := scenarioContext()
			tc.mutate(&ctx)
			if r := f.PreCheck(ctx); !contains(r, tc.reason) {
				t.Fatalf("reasons = %v, want %s", r, tc.reason)
			}
		})
	}

	allow := NewFilter(BuiltinPresets()["normal"], true, true)
	ctx := scenarioContext()
	ctx.Session = models.SessionOff
	ctx.KillZone = true
	if r := allow.PreCheck(ctx); len(r) != 0 {
		t.Fatalf("allowed filter rejected: %v", r)
	}
}

func TestNoLowConfidenceExecute(t *testing.T) {
	for name, p := range BuiltinPresets() {
		f := NewFilter(p, true, true)
		for c := 0; c <= 100; c++ {
			conf := float64(c) / 100
			d := models.Decision{Action: models.ActionExecute, Confidence: conf}
			for _, s := range []models.Session{models.SessionAsia, models.SessionLondon, models.SessionNewYork, models.SessionOff} {
				ctx := models.ScoringContext{Session: s}
				passed := len(f.PostCheck(ctx, d)) == 0
				if passed && conf < FloorConfidence {
					t.Fatalf("preset %s let confidence %.2f through in %s", name, conf, s)
				}
			}
		}
	}
}

func TestPostCheckRejectsWait(t *testing.T) {
	f := normal(t)
	d := models.Decision{Action: models.ActionWait, Confidence: 0.72}
	if r := f.PostCheck(scenarioContext(), d); !contains(r, ReasonNotActionable) {
		t.Fatalf("reasons = %v", r)
	}
}

func TestPresetSessions(t *testing.T) {
	p := BuiltinPresets()["strict"]
	if got := p.For(models.SessionAsia).MinConfidence; got != 0.85 {
		t.Fatalf("asia = %v", got)
	}
	if got := p.For(models.SessionLondon).MinConfidence; got != 0.80 {
		t.Fatalf("london = %v", got)
	}
}

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	doc := `
presets:
  Desk:
    min_confidence: 0.9
    min_iceberg: 0.7
    sessions:
      LONDON:
        min_confidence: 0.75
        min_iceberg: 0.5
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	presets, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}
	desk, ok := presets["desk"]
	if !ok {
		t.Fatalf("desk preset missing: %v", presets)
	}
	if desk.Default.MinConfidence != 0.9 || desk.For(models.SessionLondon).MinIceberg != 0.5 {
		t.Fatalf("desk = %+v", desk)
	}
	if _, ok := presets["normal"]; !ok {
		t.Fatal("builtins dropped")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("presets:\n  loose:\n    min_confidence: 0.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPresets(bad); !errors.Is(err, models.ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid", err)
	}
}

func TestUnknownPreset(t *testing.T) {
	if _, err := NewFilterFromConfig(config.FiltersConfig{Preset: "yolo"}); !errors.Is(err, models.ErrConfigInvalid) {
		t.Fatalf("err = %v", err)
	}
}
