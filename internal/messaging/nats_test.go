package messaging

import (
	"testing"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

func TestSubjects(t *testing.T) {
	cases := map[string]string{
		TickSubject("GC"):             "ticks.GC",
		TickSubject("XAU.USD"):        "ticks.XAU_USD",
		BarSubject("GC", models.TF1m): "bars.GC.1m",
		BarSubject("GC", models.TF4h): "bars.GC.4h",
		DecisionSubject("GC"):         "decisions.GC",
		SignalSubject("PAXG USDT"):    "signals.PAXG_USDT",
		TickSubject(""):               "ticks._",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("subject = %s, want %s", got, want)
		}
	}
}

func TestStreamsCoverSubjects(t *testing.T) {
	names := map[string]bool{}
	for _, s := range streams {
		names[s.Name] = true
	}
	for _, want := range []string{"TICKS", "BARS", "DECISIONS", "SIGNALS"} {
		if !names[want] {
			t.Fatalf("missing stream %s", want)
		}
	}
}
