package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

type failing struct{ recorder }

var errBus = errors.New("bus down")

func (f *failing) PublishBar(context.Context, models.Bar) error { return errBus }

func TestFanoutDeliversPastFailures(t *testing.T) {
	bad, good := &failing{}, &recorder{}
	f := Fanout{bad, good}

	err := f.PublishBar(context.Background(), models.Bar{Symbol: "GC"})
	if !errors.Is(err, errBus) {
		t.Fatalf("err = %v, want the failing publisher's error", err)
	}
	if len(good.bars) != 1 {
		t.Fatalf("healthy publisher got %d bars", len(good.bars))
	}

	if err := f.PublishTicks(context.Background(), []models.TickRecord{{}, {}}); err != nil {
		t.Fatal(err)
	}
	if good.ticks != 2 || bad.ticks != 2 {
		t.Fatalf("ticks = %d/%d", good.ticks, bad.ticks)
	}
}
