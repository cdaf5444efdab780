package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/absorption"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/aggregation"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/memory"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/orderflow"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/pipeline"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/profile"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/session"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/tickstore"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/logger"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Publisher fans engine output out to an event bus
type Publisher interface {
	PublishTicks(ctx context.Context, recs []models.TickRecord) error
	PublishBar(ctx context.Context, bar models.Bar) error
	PublishDecision(ctx context.Context, ev models.DecisionEvent) error
	PublishSignal(ctx context.Context, symbol string, rec models.SignalRecord) error
}

// SnapshotCache keeps the latest decision and status for other readers
type SnapshotCache interface {
	SetDecision(ctx context.Context, ev models.DecisionEvent) error
	SetStatus(ctx context.Context, st models.Status) error
}

// BarSink stores closed bars
type BarSink interface {
	WriteBars(ctx context.Context, bars []models.Bar) error
}

// Deps are the collaborators of the live engine. Publisher, Cache and Sink
// are optional.
type Deps struct {
	Store     *tickstore.Store
	Memory    *memory.Store
	Sessions  *session.Manager
	Publisher Publisher
	Cache     SnapshotCache
	Sink      BarSink
	// Sampled reports whether the adapter bridge is aggregating ticks
	Sampled func() bool
	Clock   func() time.Time
}

// IngestResult is the response of one ingested batch
type IngestResult struct {
	TradesProcessed      int     `json:"trades_processed"`
	CurrentPrice         float64 `json:"current_price"`
	IcebergZonesDetected int     `json:"iceberg_zones_detected"`
	TicksRejected        int     `json:"ticks_rejected,omitempty"`
}

// Engine runs the decision pipeline over live ticks. Ingest and the bar
// clock are serialized so that decisions leave in bar-close order.
type Engine struct {
	cfg  *config.Config
	deps Deps

	bars     *aggregation.Aggregator
	detector *absorption.Detector

	procMu    sync.Mutex
	pipelines map[string]*pipeline.Pipeline

	mu       sync.RWMutex
	flows    map[string]*orderflow.Aggregator
	counts   map[string]*sideCounts
	prices   map[string]float64
	latest   map[string]models.DecisionEvent
	lastTick time.Time
	stale    bool

	logger  *logrus.Entry
	limiter *logger.Limiter
	log     *logrus.Logger
}

type sideCounts struct {
	buy, sell int
}

// New creates a live engine
func New(cfg *config.Config, deps Deps, log *logrus.Logger) (*Engine, error) {
	if deps.Store == nil || deps.Memory == nil {
		return nil, fmt.Errorf("%w: engine needs a tick store and zone memory", models.ErrConfigInvalid)
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(nil, nil)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	e := &Engine{
		cfg:       cfg,
		deps:      deps,
		bars:      aggregation.NewAggregator(0, log),
		detector:  absorption.NewDetector(cfg.Analysis.AbsorptionThreshold, cfg.Analysis.AbsorptionBucketDecimals),
		pipelines: make(map[string]*pipeline.Pipeline),
		flows:     make(map[string]*orderflow.Aggregator),
		counts:    make(map[string]*sideCounts),
		prices:    make(map[string]float64),
		latest:    make(map[string]models.DecisionEvent),
		logger:    log.WithField("component", "engine"),
		limiter:   logger.NewLimiter(10 * time.Second),
		log:       log,
	}
	// fail at startup on a bad preset file rather than on the first bar
	if _, err := e.pipelineFor(cfg.Server.Symbol); err != nil {
		return nil, err
	}
	return e, nil
}

// Bars exposes the bar builder
func (e *Engine) Bars() *aggregation.Aggregator {
	return e.bars
}

func (e *Engine) pipelineFor(symbol string) (*pipeline.Pipeline, error) {
	if p, ok := e.pipelines[symbol]; ok {
		return p, nil
	}
	p, err := pipeline.Build(e.cfg, symbol, e.deps.Memory, e.deps.Sessions, e.log)
	if err != nil {
		return nil, err
	}
	e.pipelines[symbol] = p
	return p, nil
}

// Ingest records a batch of ticks and runs every bar they close.
// Malformed ticks are dropped and counted; the rest are persisted together.
func (e *Engine) Ingest(ctx context.Context, ticks []models.Tick) (IngestResult, error) {
	var res IngestResult
	valid := make([]models.Tick, 0, len(ticks))
	for _, t := range ticks {
		if t.Symbol == "" {
			t.Symbol = e.cfg.Server.Symbol
		}
		if err := t.Validate(); err != nil {
			metrics.ObserveError(err)
			res.TicksRejected++
			continue
		}
		// zone memory is a single per-instrument store
		if t.Symbol != e.cfg.Server.Symbol {
			metrics.ObserveError(fmt.Errorf("%w: symbol %q is not served", models.ErrInvalidInput, t.Symbol))
			res.TicksRejected++
			continue
		}
		valid = append(valid, t)
	}
	if len(valid) == 0 {
		return res, fmt.Errorf("%w: no valid ticks in batch", models.ErrInvalidInput)
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Timestamp.Before(valid[j].Timestamp) })

	e.procMu.Lock()
	defer e.procMu.Unlock()

	recs, err := e.deps.Store.RecordBatch(ctx, valid)
	if err != nil {
		return res, err
	}
	e.observe(recs)

	var closed []models.Bar
	for _, rec := range recs {
		bars, err := e.bars.Ingest(rec.Tick)
		if err != nil {
			metrics.ObserveError(err)
			e.limiter.Error(e.logger, "late-tick", err, "Tick rejected by bar builder")
			continue
		}
		closed = append(closed, bars...)
	}
	e.handleClosed(ctx, closed)

	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.PublishTicks(ctx, recs); err != nil {
			e.limiter.Error(e.logger, "publish-ticks", err, "Failed to publish ticks")
		}
	}

	last := recs[len(recs)-1]
	res.TradesProcessed = len(recs)
	res.CurrentPrice = last.Price
	res.IcebergZonesDetected = e.zonesInOpenBar(last.Symbol)
	return res, nil
}

// observe updates the live status state from persisted ticks
func (e *Engine) observe(recs []models.TickRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a := e.cfg.Analysis
	for _, rec := range recs {
		flow, ok := e.flows[rec.Symbol]
		if !ok {
			flow = orderflow.NewAggregator(a.OrderFlowTicks, a.OrderFlowWindow, a.OrderFlowDeadband)
			e.flows[rec.Symbol] = flow
			e.counts[rec.Symbol] = &sideCounts{}
		}
		flow.Update(rec.Tick)
		if rec.Side == models.SideBuy {
			e.counts[rec.Symbol].buy++
		} else {
			e.counts[rec.Symbol].sell++
		}
		e.prices[rec.Symbol] = rec.Price
	}
	e.lastTick = e.deps.Clock()
	if e.stale {
		e.stale = false
		metrics.SetFlag(metrics.FeedStale, false)
		e.logger.Info("Feed fresh again")
	}
}

// zonesInOpenBar counts absorption zones among the ticks of the open 1m bar
func (e *Engine) zonesInOpenBar(symbol string) int {
	cur, ok := e.bars.Current(symbol, models.TF1m)
	if !ok {
		return 0
	}
	var ticks []models.Tick
	for _, rec := range e.deps.Store.Ring().Range(cur.TimeOpen, cur.TimeClose) {
		if rec.Symbol == symbol && rec.Timestamp.Before(cur.TimeClose) {
			ticks = append(ticks, rec.Tick)
		}
	}
	return len(e.detector.Detect(ticks))
}

// handleClosed sinks and publishes closed bars and scores the 1m ones in
// close-time order, symbols breaking ties. Callers hold procMu.
func (e *Engine) handleClosed(ctx context.Context, closed []models.Bar) {
	if len(closed) == 0 {
		return
	}
	if e.deps.Sink != nil {
		if err := e.deps.Sink.WriteBars(ctx, closed); err != nil {
			e.limiter.Error(e.logger, "sink", err, "Failed to write bars")
		}
	}
	if e.deps.Publisher != nil {
		for _, bar := range closed {
			if err := e.deps.Publisher.PublishBar(ctx, bar); err != nil {
				e.limiter.Error(e.logger, "publish-bar", err, "Failed to publish bar")
			}
		}
	}

	var minute []models.Bar
	for _, bar := range closed {
		if bar.TFSeconds == models.TF1m {
			minute = append(minute, bar)
		}
	}
	sort.SliceStable(minute, func(i, j int) bool {
		if !minute[i].TimeClose.Equal(minute[j].TimeClose) {
			return minute[i].TimeClose.Before(minute[j].TimeClose)
		}
		return minute[i].Symbol < minute[j].Symbol
	})
	for _, bar := range minute {
		e.score(ctx, bar)
	}
}

func (e *Engine) score(ctx context.Context, bar models.Bar) {
	p, err := e.pipelineFor(bar.Symbol)
	if err != nil {
		e.limiter.Error(e.logger, "pipeline", err, "Failed to build pipeline")
		return
	}

	var ticks []models.Tick
	for _, rec := range e.deps.Store.Range(ctx, bar.TimeOpen, bar.TimeClose) {
		if rec.Symbol == bar.Symbol && rec.Timestamp.Before(bar.TimeClose) {
			ticks = append(ticks, rec.Tick)
		}
	}

	res, err := p.Process(bar, ticks, e.FeedStale())
	if err != nil {
		e.limiter.Error(e.logger, "process", err, "Bar rejected by pipeline")
		return
	}

	ev := models.DecisionEvent{
		Symbol:        bar.Symbol,
		Time:          bar.TimeClose,
		Bar:           bar,
		Context:       res.Context,
		Scored:        res.Scored,
		Decision:      res.Decision,
		FilterReasons: res.FilterReasons,
		Signal:        res.Signal,
	}
	if ev.FilterReasons == nil {
		ev.FilterReasons = []string{}
	}
	e.mu.Lock()
	e.latest[bar.Symbol] = ev
	e.mu.Unlock()

	entry := e.logger.WithFields(logrus.Fields{"symbol": bar.Symbol, "close": bar.Close})
	if res.Scored != nil {
		entry = entry.WithFields(logrus.Fields{"action": res.Scored.Action, "confidence": res.Scored.Confidence})
	}
	entry.WithField("blocked", res.FilterReasons).Debug("Bar scored")

	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.PublishDecision(ctx, ev); err != nil {
			e.limiter.Error(e.logger, "publish-decision", err, "Failed to publish decision")
		}
		if res.SignalChanged && res.Signal != nil {
			if err := e.deps.Publisher.PublishSignal(ctx, bar.Symbol, *res.Signal); err != nil {
				e.limiter.Error(e.logger, "publish-signal", err, "Failed to publish signal")
			}
		}
	}
	if e.deps.Cache != nil {
		if err := e.deps.Cache.SetDecision(ctx, ev); err != nil {
			e.limiter.Error(e.logger, "cache-decision", err, "Failed to cache decision")
		}
	}
}

// Tick closes expired bars and refreshes the staleness flag at now.
// Run calls it once a second.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	e.procMu.Lock()
	e.handleClosed(ctx, e.bars.CloseExpired(now))
	e.procMu.Unlock()

	e.checkStale(now)

	if e.deps.Cache != nil {
		for _, symbol := range e.Symbols() {
			if err := e.deps.Cache.SetStatus(ctx, e.Status(symbol)); err != nil {
				e.limiter.Error(e.logger, "cache-status", err, "Failed to cache status")
			}
		}
	}
}

func (e *Engine) checkStale(now time.Time) {
	timeout := e.cfg.Exchange.StaleTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastTick.IsZero() || e.stale || now.Sub(e.lastTick) <= timeout {
		return
	}
	e.stale = true
	metrics.SetFlag(metrics.FeedStale, true)
	metrics.ObserveError(models.ErrFeedStale)
	e.logger.WithField("last_tick", e.lastTick).Warn("Feed stale, blocking execution")
}

// Run drives the bar clock and the staleness monitor until ctx is done
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	e.logger.Info("Live engine started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Live engine stopped")
			return
		case <-ticker.C:
			e.Tick(ctx, e.deps.Clock())
		}
	}
}

// FeedStale reports whether the feed has gone quiet past the stale timeout
func (e *Engine) FeedStale() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stale
}

// Symbols lists the symbols that have traded, sorted
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.prices))
	for s := range e.prices {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) symbolOrDefault(symbol string) string {
	if symbol == "" {
		return e.cfg.Server.Symbol
	}
	return symbol
}

// Status summarizes the live feed for symbol
func (e *Engine) Status(symbol string) models.Status {
	symbol = e.symbolOrDefault(symbol)
	now := e.deps.Clock()
	ann := e.deps.Sessions.Annotate(now)

	e.mu.RLock()
	defer e.mu.RUnlock()

	st := models.Status{
		Status:    models.StatusLive,
		Symbol:    symbol,
		Session:   ann.Session,
		KillZone:  ann.KillZone,
		Bias:      models.DirectionNeutral,
		FeedStale: e.stale,
		LastTick:  e.lastTick,
		Timestamp: now,
	}
	if e.deps.Sampled != nil {
		st.SampledMode = e.deps.Sampled()
	}
	price, traded := e.prices[symbol]
	if !traded || e.stale {
		st.Status = models.StatusWaiting
	}
	st.CurrentPrice = price
	if flow, ok := e.flows[symbol]; ok {
		snap := flow.Snapshot()
		st.BuyVolume = snap.BuyVolume
		st.SellVolume = snap.SellVolume
		st.Delta = snap.Delta
		st.Bias = snap.Bias
	}
	if c, ok := e.counts[symbol]; ok {
		st.BuyCount = c.buy
		st.SellCount = c.sell
	}
	return st
}

// Mentor returns the latest scored bar of symbol
func (e *Engine) Mentor(symbol string) (models.DecisionEvent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ev, ok := e.latest[e.symbolOrDefault(symbol)]
	return ev, ok
}

// Chart returns up to limit closed bars of symbol followed by the open bar
func (e *Engine) Chart(symbol string, tf int64, limit int) ([]models.Bar, error) {
	symbol = e.symbolOrDefault(symbol)
	if tf == 0 {
		tf = models.TF1m
	}
	known := false
	for _, t := range aggregation.Timeframes {
		known = known || t == tf
	}
	if !known {
		// any multiple of a minute can still be projected from 1m history
		if tf%models.TF1m != 0 {
			return nil, fmt.Errorf("%w: unsupported chart timeframe %ds", models.ErrInvalidInput, tf)
		}
		minutes := e.bars.Bars(symbol, models.TF1m, 0)
		if cur, ok := e.bars.Current(symbol, models.TF1m); ok {
			minutes = append(minutes, cur)
		}
		out, err := aggregation.Resample(minutes, tf)
		if err != nil {
			return nil, err
		}
		return tail(out, limit), nil
	}

	out := e.bars.Bars(symbol, tf, 0)
	if cur, ok := e.bars.Current(symbol, tf); ok {
		out = append(out, cur)
	}
	return tail(out, limit), nil
}

func tail(bars []models.Bar, limit int) []models.Bar {
	if bars == nil {
		bars = []models.Bar{}
	}
	if limit > 0 && len(bars) > limit {
		return bars[len(bars)-limit:]
	}
	return bars
}

// MaxProfileBars bounds the window of a volume profile request
const MaxProfileBars = 1440

// ProfileRequest selects the window of a volume profile
type ProfileRequest struct {
	Symbol       string  `json:"symbol"`
	Interval     string  `json:"interval"`
	Bars         int     `json:"bars"`
	TickSize     float64 `json:"tick_size"`
	ValueAreaPct float64 `json:"value_area_pct"`
}

// VolumeProfile profiles the ticks of the last Bars bars of Interval.
// Without stored ticks it falls back to the bar history.
func (e *Engine) VolumeProfile(ctx context.Context, req ProfileRequest) (profile.Profile, error) {
	symbol := e.symbolOrDefault(req.Symbol)
	tf := models.TF1m
	if req.Interval != "" {
		var err error
		if tf, err = models.ParseTimeframe(req.Interval); err != nil {
			return profile.Profile{}, err
		}
	}
	n := req.Bars
	if n <= 0 {
		n = 30
	}
	if n > MaxProfileBars {
		return profile.Profile{}, fmt.Errorf("%w: bars must be at most %d, got %d", models.ErrInvalidInput, MaxProfileBars, n)
	}
	tickSize := req.TickSize
	if tickSize <= 0 {
		tickSize = e.cfg.Analysis.TickSize
	}
	if floor := e.cfg.Analysis.TickSize / 100; tickSize < floor {
		return profile.Profile{}, fmt.Errorf("%w: tick_size must be at least %v, got %v", models.ErrInvalidInput, floor, tickSize)
	}
	pct := req.ValueAreaPct
	if pct <= 0 {
		pct = profile.DefaultValueAreaPct
	}
	if pct > 1 {
		return profile.Profile{}, fmt.Errorf("%w: value_area_pct must be in (0, 1], got %v", models.ErrInvalidInput, pct)
	}

	now := e.deps.Clock().UTC()
	step := time.Duration(tf) * time.Second
	from := now.Truncate(step).Add(-time.Duration(n-1) * step)

	var ticks []models.Tick
	for _, rec := range e.deps.Store.Range(ctx, from, now) {
		if rec.Symbol == symbol {
			ticks = append(ticks, rec.Tick)
		}
	}
	if len(ticks) > 0 {
		return profile.Compute(ticks, tickSize, pct)
	}

	bars, err := e.Chart(symbol, tf, n)
	if err != nil {
		return profile.Profile{}, err
	}
	return profile.FromBars(bars, tickSize, pct)
}

// Zones returns zone memory in chart form
func (e *Engine) Zones() []models.ChartZone {
	return e.deps.Memory.ZonesForChart()
}

// Signals returns the live signal and finished history of symbol
func (e *Engine) Signals(symbol string) (*models.SignalRecord, []models.SignalRecord) {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	p, ok := e.pipelines[e.symbolOrDefault(symbol)]
	if !ok {
		return nil, []models.SignalRecord{}
	}
	return p.Lifecycle().Active(), p.Lifecycle().History()
}

// Shutdown completes live signals at their last bar
func (e *Engine) Shutdown() {
	e.procMu.Lock()
	defer e.procMu.Unlock()
	for symbol, p := range e.pipelines {
		if rec := p.Finish(); rec != nil {
			e.logger.WithFields(logrus.Fields{"symbol": symbol, "signal": rec.ID}).Info("Signal completed at shutdown")
		}
	}
}
