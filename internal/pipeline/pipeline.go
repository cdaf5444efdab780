package pipeline

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/absorption"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/imo"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/memory"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/orderflow"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/session"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/signals"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/sweep"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Components are the collaborators of one pipeline
type Components struct {
	Absorption *absorption.Detector
	Sweeps     *sweep.Detector
	OrderFlow  *orderflow.Aggregator
	Memory     *memory.Store
	Sessions   *session.Manager
	Scorer     *imo.Scorer
	Filter     *signals.Filter
	Lifecycle  *signals.Lifecycle
}

// Result is everything one bar produced
type Result struct {
	Context models.ScoringContext
	// Scored is the raw scorer output; nil when the pre-check rejected the bar
	Scored *models.Decision
	// Decision is the filtered decision; nil when any filter rejected it
	Decision      *models.Decision
	FilterReasons []string
	Signal        *models.SignalRecord
	SignalChanged bool
}

// Pipeline runs the per-bar chain: detectors, memory, context, filters,
// scorer and lifecycle. Live and replay share it so both see the same
// decisions for the same bars. Steps must be serialized by the caller.
type Pipeline struct {
	symbol    string
	c         Components
	tolerance float64
	prev      *models.Bar
	barIndex  int64
	logger    *logrus.Entry
}

// New creates a pipeline for symbol. tolerance bounds the memory zones
// queried around each close.
func New(symbol string, c Components, tolerance float64, log *logrus.Logger) *Pipeline {
	if tolerance <= 0 {
		tolerance = imo.DefaultMemoryTolerance
	}
	return &Pipeline{
		symbol:    symbol,
		c:         c,
		tolerance: tolerance,
		logger:    log.WithFields(logrus.Fields{"component": "pipeline", "symbol": symbol}),
	}
}

// Build wires a pipeline from configuration around an existing memory store
// and session manager
func Build(cfg *config.Config, symbol string, mem *memory.Store, sessions *session.Manager, log *logrus.Logger) (*Pipeline, error) {
	filter, err := signals.NewFilterFromConfig(cfg.Filters)
	if err != nil {
		return nil, err
	}
	a := cfg.Analysis
	scorer := imo.NewScorer(imo.OptionsFromConfig(a))
	c := Components{
		Absorption: absorption.NewDetector(a.AbsorptionThreshold, a.AbsorptionBucketDecimals),
		Sweeps:     sweep.NewDetector(a.TickSize),
		OrderFlow:  orderflow.NewAggregator(a.OrderFlowTicks, a.OrderFlowWindow, a.OrderFlowDeadband),
		Memory:     mem,
		Sessions:   sessions,
		Scorer:     scorer,
		Filter:     filter,
		Lifecycle:  signals.NewLifecycle(symbol, a.SignalHorizonBars),
	}
	return New(symbol, c, scorer.Options().MemoryTolerance, log), nil
}

// Symbol returns the instrument of the pipeline
func (p *Pipeline) Symbol() string { return p.symbol }

// Lifecycle exposes the signal state machine
func (p *Pipeline) Lifecycle() *signals.Lifecycle { return p.c.Lifecycle }

// OrderFlow exposes the rolling order-flow aggregator
func (p *Pipeline) OrderFlow() *orderflow.Aggregator { return p.c.OrderFlow }

// Memory exposes zone memory
func (p *Pipeline) Memory() *memory.Store { return p.c.Memory }

// Scorer exposes the scorer
func (p *Pipeline) Scorer() *imo.Scorer { return p.c.Scorer }

// Previous returns the last processed bar
func (p *Pipeline) Previous() (models.Bar, bool) {
	if p.prev == nil {
		return models.Bar{}, false
	}
	return *p.prev, true
}

// Process runs one closed bar with the ticks that traded inside it.
// feedStale flags the context so the filter blocks it.
func (p *Pipeline) Process(bar models.Bar, ticks []models.Tick, feedStale bool) (Result, error) {
	if bar.TimeClose.IsZero() {
		bar.TimeClose = bar.TimeOpen.Add(bar.Timeframe())
	}
	if err := bar.Validate(); err != nil {
		metrics.ObserveError(err)
		return Result{}, err
	}
	if p.prev != nil && !bar.TimeOpen.After(p.prev.TimeOpen) {
		err := fmt.Errorf("%w: bar %s not after %s", models.ErrInvalidInput,
			bar.TimeOpen.Format("2006-01-02T15:04:05Z"), p.prev.TimeOpen.Format("2006-01-02T15:04:05Z"))
		metrics.ObserveError(err)
		return Result{}, err
	}

	at := bar.TimeClose
	ann := p.c.Sessions.Annotate(at)

	zones := p.c.Absorption.Detect(ticks)
	var sweeps []models.Sweep
	if p.prev != nil {
		sweeps = p.c.Sweeps.DetectPair(*p.prev, bar)
	}
	if sweeps == nil {
		sweeps = []models.Sweep{}
	}
	for _, t := range ticks {
		p.c.OrderFlow.Update(t)
	}

	p.remember(bar, ann.Session, zones, sweeps)

	mem := p.c.Memory.ActiveZones(bar.Close, p.tolerance, "", at)
	flow := p.c.OrderFlow.Snapshot()
	ctx := models.ScoringContext{
		Time:                    at,
		Symbol:                  p.symbol,
		CurrentPrice:            bar.Close,
		AbsorptionZones:         zones,
		Sweeps:                  sweeps,
		MemoryZones:             mem,
		Session:                 ann.Session,
		KillZone:                ann.KillZone,
		News:                    ann.News,
		IcebergPersistenceScore: p.c.Memory.PersistenceScore(bar.Close, p.tolerance),
		Volume:                  bar.Volume,
		OrderFlow:               &flow,
		FeedStale:               feedStale,
	}

	res := Result{Context: ctx}
	res.FilterReasons = p.c.Filter.PreCheck(ctx)
	if len(res.FilterReasons) == 0 {
		d := p.c.Scorer.Evaluate(ctx)
		res.Scored = &d
		metrics.Decisions.WithLabelValues(string(d.Action)).Inc()
		res.FilterReasons = p.c.Filter.PostCheck(ctx, d)
		if len(res.FilterReasons) == 0 {
			res.Decision = &d
		}
	}
	for _, r := range res.FilterReasons {
		metrics.FilterBlocks.WithLabelValues(r).Inc()
	}

	res.Signal, res.SignalChanged = p.c.Lifecycle.Step(ctx, res.Decision)
	if res.SignalChanged && res.Signal != nil {
		metrics.Signals.WithLabelValues(string(res.Signal.State)).Inc()
		p.logger.WithFields(logrus.Fields{
			"signal": res.Signal.ID,
			"state":  res.Signal.State,
			"price":  bar.Close,
		}).Info("Signal transition")
	}

	b := bar
	p.prev = &b
	p.barIndex++
	return res, nil
}

// remember retests bands price entered this bar and stores new levels.
// Memory logs and counts its own write failures; the bar still scores.
func (p *Pipeline) remember(bar models.Bar, s models.Session, zones []models.AbsorptionZone, sweeps []models.Sweep) {
	mem := p.c.Memory
	tol := mem.Tolerance()

	if p.prev != nil && entered(mem.ActiveZones(p.prev.Close, tol, "", bar.TimeClose), mem.ActiveZones(bar.Close, tol, "", bar.TimeClose)) {
		_, _ = mem.Retest(bar.Close, tol, bar.TimeClose)
	}
	for _, z := range zones {
		_, _ = mem.Store(memory.FromAbsorption(z, s, p.barIndex))
	}
	for _, sw := range sweeps {
		_, _ = mem.Store(memory.FromSweep(sw, s, p.barIndex))
	}
}

// entered reports whether now holds a zone that before did not
func entered(before, now []models.MemoryZone) bool {
	seen := make(map[uint64]bool, len(before))
	for _, z := range before {
		seen[z.ID] = true
	}
	for _, z := range now {
		if !seen[z.ID] {
			return true
		}
	}
	return false
}

// Finish completes any live signal at the last processed bar
func (p *Pipeline) Finish() *models.SignalRecord {
	if p.prev == nil {
		return nil
	}
	rec := p.c.Lifecycle.Finish(p.prev.TimeClose, p.prev.Close)
	if rec != nil {
		metrics.Signals.WithLabelValues(string(rec.State)).Inc()
	}
	return rec
}
