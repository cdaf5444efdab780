package signals

import (
	"testing"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

var base = time.Date(2024, 3, 12, 17, 0, 0, 0, time.UTC)

func barCtx(i int, price float64) models.ScoringContext {
	return models.ScoringContext{
		Time:         base.Add(time.Duration(i) * time.Minute),
		CurrentPrice: price,
		Session:      models.SessionNewYork,
	}
}

func execute(conf float64) *models.Decision {
	return &models.Decision{Action: models.ActionExecute, Confidence: conf, Direction: models.DirectionSell}
}

func TestLifecycleOpensAndActivates(t *testing.T) {
	lc := NewLifecycle("GC", 20)
	if lc.State() != models.SignalDormant {
		t.Fatalf("state = %s", lc.State())
	}

	rec, changed := lc.Step(barCtx(0, 2505), execute(0.72))
	if !changed || rec == nil || rec.State != models.SignalConfirmed {
		t.Fatalf("open = %+v %v", rec, changed)
	}
	if rec.EntryPrice != 2505 || rec.Session != models.SessionNewYork || rec.Edge != models.DirectionSell {
		t.Fatalf("record = %+v", rec)
	}

	rec, changed = lc.Step(barCtx(1, 2503), nil)
	if !changed || rec.State != models.SignalActive || rec.BarsAlive != 1 {
		t.Fatalf("after one bar = %+v %v", rec, changed)
	}

	rec, changed = lc.Step(barCtx(2, 2501), nil)
	if changed || rec.State != models.SignalActive || rec.CurrentPrice != 2501 {
		t.Fatalf("steady = %+v %v", rec, changed)
	}
}

func TestLifecycleIgnoresDecisionsWhileLive(t *testing.T) {
	lc := NewLifecycle("GC", 20)
	first, _ := lc.Step(barCtx(0, 2505), execute(0.72))
	for i := 1; i < 5; i++ {
		rec, _ := lc.Step(barCtx(i, 2505), execute(0.9))
		if rec.ID != first.ID {
			t.Fatalf("second signal opened at bar %d", i)
		}
	}
	if len(lc.History()) != 0 {
		t.Fatalf("history = %d", len(lc.History()))
	}
}

func TestLifecycleInvalidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.ScoringContext)
	}{
		{"kill zone", func(c *models.ScoringContext) { c.KillZone = true }},
		{"high news", func(c *models.ScoringContext) {
			c.News = models.NewsWindow{Active: true, Impact: models.ImpactHigh, Event: "NFP"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lc := NewLifecycle("GC", 20)
			lc.Step(barCtx(0, 2505), execute(0.72))
			ctx := barCtx(1, 2512)
			tc.mutate(&ctx)
			rec, changed := lc.Step(ctx, nil)
			if !changed || rec.State != models.SignalInvalidated || rec.InvalidatedAt == nil {
				t.Fatalf("record = %+v", rec)
			}
			if rec.ExitPrice == nil || *rec.ExitPrice != 2512 {
				t.Fatalf("exit = %v", rec.ExitPrice)
			}
			if lc.Active() != nil || lc.State() != models.SignalDormant {
				t.Fatal("slot not cleared")
			}
			if h := lc.History(); len(h) != 1 || h[0].State != models.SignalInvalidated {
				t.Fatalf("history = %+v", h)
			}
		})
	}
}

func TestLifecycleCompletesAfterHorizon(t *testing.T) {
	lc := NewLifecycle("GC", 20)
	lc.Step(barCtx(0, 2505), execute(0.72))
	var rec *models.SignalRecord
	for i := 1; i <= 20; i++ {
		rec, _ = lc.Step(barCtx(i, 2505), nil)
		if rec.State.Terminal() {
			t.Fatalf("terminated early at bar %d", i)
		}
	}
	rec, changed := lc.Step(barCtx(21, 2499), nil)
	if !changed || rec.State != models.SignalCompleted || rec.CompletedAt == nil {
		t.Fatalf("record = %+v", rec)
	}
	if rec.BarsAlive != 21 {
		t.Fatalf("bars alive = %d", rec.BarsAlive)
	}

	// the terminating bar does not reopen, the next one can
	if rec, _ := lc.Step(barCtx(22, 2499), execute(0.8)); rec == nil || rec.State != models.SignalConfirmed {
		t.Fatalf("reopen = %+v", rec)
	}
}

func TestLifecycleAtMostOneLive(t *testing.T) {
	lc := NewLifecycle("GC", 3)
	for i := 0; i < 200; i++ {
		ctx := barCtx(i, 2500+float64(i%7))
		ctx.KillZone = i%17 == 0
		var d *models.Decision
		if i%3 == 0 {
			d = execute(0.75)
		}
		lc.Step(ctx, d)
		live := 0
		if a := lc.Active(); a != nil && a.State.Live() {
			live++
		}
		if live > 1 {
			t.Fatalf("live = %d", live)
		}
	}
	lc.Finish(base.Add(300*time.Minute), 2500)
	for _, h := range lc.History() {
		if !h.State.Terminal() {
			t.Fatalf("non-terminal history record %+v", h)
		}
	}
	if lc.Active() != nil {
		t.Fatal("finish left a live signal")
	}
}

func TestSignalIDsDeterministic(t *testing.T) {
	a := NewLifecycle("GC", 20)
	b := NewLifecycle("GC", 20)
	ra, _ := a.Step(barCtx(0, 2505), execute(0.72))
	rb, _ := b.Step(barCtx(0, 2505), execute(0.72))
	if ra.ID != rb.ID {
		t.Fatalf("ids differ: %s %s", ra.ID, rb.ID)
	}
	c := NewLifecycle("SI", 20)
	rc, _ := c.Step(barCtx(0, 2505), execute(0.72))
	if rc.ID == ra.ID {
		t.Fatal("symbol not part of id")
	}
}

func TestArmedStateIsNotLive(t *testing.T) {
	if models.SignalArmed.Live() || models.SignalArmed.Terminal() {
		t.Fatalf("ARMED should be neither live nor terminal")
	}
	lc := NewLifecycle("GC", 20)
	rec, _ := lc.Step(barCtx(0, 2505), execute(0.72))
	if rec.State == models.SignalArmed {
		t.Fatal("a filtered decision opens CONFIRMED, not ARMED")
	}
}
