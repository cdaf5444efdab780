package signals

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// DefaultHorizonBars completes a signal after this many bars alive
const DefaultHorizonBars = 20

var signalNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("imo.signals"))

// Lifecycle holds at most one live signal and the history of finished ones.
// It is not safe for concurrent use; callers serialize steps.
type Lifecycle struct {
	symbol  string
	horizon int
	seq     int
	active  *models.SignalRecord
	history []models.SignalRecord
}

// NewLifecycle creates a lifecycle for one symbol
func NewLifecycle(symbol string, horizon int) *Lifecycle {
	if horizon <= 0 {
		horizon = DefaultHorizonBars
	}
	return &Lifecycle{symbol: symbol, horizon: horizon}
}

// State returns the live signal state or DORMANT
func (l *Lifecycle) State() models.SignalState {
	if l.active == nil {
		return models.SignalDormant
	}
	return l.active.State
}

// Active returns a copy of the live signal
func (l *Lifecycle) Active() *models.SignalRecord {
	if l.active == nil {
		return nil
	}
	rec := *l.active
	return &rec
}

// History returns finished signals, oldest first
func (l *Lifecycle) History() []models.SignalRecord {
	out := make([]models.SignalRecord, len(l.history))
	copy(out, l.history)
	return out
}

// Step advances the lifecycle by one bar. decision is the filtered decision
// or nil. It returns the record touched this bar and whether its state
// changed. A bar that ends a signal does not open another one.
func (l *Lifecycle) Step(ctx models.ScoringContext, decision *models.Decision) (*models.SignalRecord, bool) {
	if l.active != nil {
		return l.advance(ctx, decision)
	}
	if decision == nil {
		return nil, false
	}

	l.seq++
	name := fmt.Sprintf("%s|%s|%d", l.symbol, ctx.Time.UTC().Format(time.RFC3339Nano), l.seq)
	l.active = &models.SignalRecord{
		ID:                uuid.NewSHA1(signalNamespace, []byte(name)).String(),
		State:             models.SignalConfirmed,
		Action:            decision.Action,
		Edge:              decision.Direction,
		EntryPrice:        ctx.CurrentPrice,
		EntryTime:         ctx.Time,
		Session:           ctx.Session,
		CurrentPrice:      ctx.CurrentPrice,
		CurrentConfidence: decision.Confidence,
	}
	return l.Active(), true
}

func (l *Lifecycle) advance(ctx models.ScoringContext, decision *models.Decision) (*models.SignalRecord, bool) {
	sig := l.active
	sig.CurrentPrice = ctx.CurrentPrice
	if decision != nil {
		sig.CurrentConfidence = decision.Confidence
	}

	switch {
	case ctx.KillZone:
		return l.terminate(models.SignalInvalidated, ctx.Time, ctx.CurrentPrice, "kill zone opened"), true
	case ctx.News.Active && ctx.News.Impact == models.ImpactHigh:
		return l.terminate(models.SignalInvalidated, ctx.Time, ctx.CurrentPrice, "high impact news: "+ctx.News.Event), true
	}

	sig.BarsAlive++
	if sig.BarsAlive > l.horizon {
		return l.terminate(models.SignalCompleted, ctx.Time, ctx.CurrentPrice,
			fmt.Sprintf("horizon of %d bars reached", l.horizon)), true
	}
	if sig.State == models.SignalConfirmed && sig.BarsAlive >= 1 {
		sig.State = models.SignalActive
		return l.Active(), true
	}
	return l.Active(), false
}

// Finish completes any live signal at the end of a run
func (l *Lifecycle) Finish(at time.Time, price float64) *models.SignalRecord {
	if l.active == nil {
		return nil
	}
	return l.terminate(models.SignalCompleted, at, price, "run finished")
}

func (l *Lifecycle) terminate(state models.SignalState, at time.Time, price float64, reason string) *models.SignalRecord {
	rec := *l.active
	rec.State = state
	rec.Reason = reason
	ts := at
	exit := price
	rec.ExitPrice = &exit
	if state == models.SignalInvalidated {
		rec.InvalidatedAt = &ts
	} else {
		rec.CompletedAt = &ts
	}
	l.history = append(l.history, rec)
	l.active = nil
	return &rec
}
