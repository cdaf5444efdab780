package engine

import (
	"context"
	"errors"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Fanout delivers to every publisher and joins their errors
type Fanout []Publisher

func (f Fanout) each(fn func(Publisher) error) error {
	var errs []error
	for _, p := range f {
		if err := fn(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishTicks implements Publisher
func (f Fanout) PublishTicks(ctx context.Context, recs []models.TickRecord) error {
	return f.each(func(p Publisher) error { return p.PublishTicks(ctx, recs) })
}

// PublishBar implements Publisher
func (f Fanout) PublishBar(ctx context.Context, bar models.Bar) error {
	return f.each(func(p Publisher) error { return p.PublishBar(ctx, bar) })
}

// PublishDecision implements Publisher
func (f Fanout) PublishDecision(ctx context.Context, ev models.DecisionEvent) error {
	return f.each(func(p Publisher) error { return p.PublishDecision(ctx, ev) })
}

// PublishSignal implements Publisher
func (f Fanout) PublishSignal(ctx context.Context, symbol string, rec models.SignalRecord) error {
	return f.each(func(p Publisher) error { return p.PublishSignal(ctx, symbol, rec) })
}
