package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/memory"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/pipeline"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/session"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Options customize an engine
type Options struct {
	// Ticks defaults to synthetic ticks derived from each bar
	Ticks TickSource
	// Explainer defaults to TextExplainer
	Explainer Explainer
	// News overrides the configured news calendar
	News session.Calendars
}

// Summary counts what a run saw
type Summary struct {
	Symbol               string                     `json:"symbol"`
	From                 time.Time                  `json:"from"`
	To                   time.Time                  `json:"to"`
	Bars                 int                        `json:"bars"`
	Processed            int                        `json:"processed"`
	InvalidBars          int                        `json:"invalid_bars"`
	Gaps                 int                        `json:"gaps"`
	MissingBars          int                        `json:"missing_bars"`
	Decisions            map[models.Action]int      `json:"decisions"`
	FilterBlocks         map[string]int             `json:"filter_blocks"`
	Signals              map[models.SignalState]int `json:"signals"`
	ExplanationFallbacks int                        `json:"explanation_fallbacks"`
	HeatmapFallbacks     int                        `json:"heatmap_fallbacks"`
}

// Result holds every output of a run
type Result struct {
	Timeline     *Timeline                    `json:"-"`
	ChartPackets []models.ChartPacket         `json:"chart_packets"`
	Signals      []models.SignalRecord        `json:"signals"`
	Heatmaps     map[string][]models.HeatCell `json:"heatmaps"`
	Summary      Summary                      `json:"summary"`
}

// Engine replays historical bars through the same pipeline as live
// trading, with its own in-process zone memory. An engine runs once.
type Engine struct {
	symbol    string
	pipeline  *pipeline.Pipeline
	ticks     TickSource
	explainer Explainer
	ran       bool
	logger    *logrus.Entry
}

// NewEngine builds an engine from configuration
func NewEngine(cfg *config.Config, symbol string, opts Options, logger *logrus.Logger) (*Engine, error) {
	mem, err := memory.Open(memory.Options{
		MergeTolerance: cfg.Memory.MergeTolerance,
		MaxRecords:     cfg.Memory.MaxRecords,
		RetentionDays:  cfg.Memory.RetentionDays,
	}, logger)
	if err != nil {
		return nil, err
	}

	clock, err := session.NewClock(cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfigInvalid, err)
	}
	news := opts.News
	if news == nil {
		cal := session.NewCalendar(nil, cfg.News.WindowMinutes)
		if cfg.News.CalendarPath != "" {
			if cal, err = session.LoadCalendar(cfg.News.CalendarPath, cfg.News.WindowMinutes); err != nil {
				return nil, err
			}
		}
		news = session.Static{Cal: cal}
	}

	p, err := pipeline.Build(cfg, symbol, mem, session.NewManager(clock, news), logger)
	if err != nil {
		return nil, err
	}

	if opts.Ticks == nil {
		opts.Ticks = SyntheticTicks{TickSize: cfg.Analysis.TickSize}
	}
	if opts.Explainer == nil {
		opts.Explainer = TextExplainer{}
	}
	return &Engine{
		symbol:    symbol,
		pipeline:  p,
		ticks:     opts.Ticks,
		explainer: opts.Explainer,
		logger:    logger.WithFields(logrus.Fields{"component": "replay", "symbol": symbol}),
	}, nil
}

// Memory exposes the engine's zone memory
func (e *Engine) Memory() *memory.Store { return e.pipeline.Memory() }

// Run replays bars in order. Missing bars become gap markers; malformed or
// out-of-order bars are skipped and counted. ctx only scopes tick lookups,
// a run always completes.
func (e *Engine) Run(ctx context.Context, bars []models.Bar) (*Result, error) {
	if e.ran {
		return nil, errors.New("replay engine already ran")
	}
	e.ran = true

	sum := Summary{
		Symbol:       e.symbol,
		Bars:         len(bars),
		Decisions:    map[models.Action]int{},
		FilterBlocks: map[string]int{},
		Signals:      map[models.SignalState]int{},
	}
	timeline := &Timeline{}
	packets := make([]models.ChartPacket, 0, len(bars))

	var prev *models.Bar
	for i := range bars {
		bar := bars[i]
		if bar.Symbol == "" {
			bar.Symbol = e.symbol
		}
		if bar.TimeClose.IsZero() {
			bar.TimeClose = bar.TimeOpen.Add(bar.Timeframe())
		}
		if err := bar.Validate(); err != nil {
			sum.InvalidBars++
			metrics.ObserveError(err)
			continue
		}

		if prev != nil {
			step := bar.Timeframe()
			if !bar.TimeOpen.After(prev.TimeOpen) {
				sum.InvalidBars++
				metrics.ObserveError(fmt.Errorf("%w: out of order bar", models.ErrInvalidInput))
				continue
			}
			if missing := int(bar.TimeOpen.Sub(prev.TimeOpen)/step) - 1; missing > 0 {
				sum.Gaps++
				sum.MissingBars += missing
				metrics.ObserveError(fmt.Errorf("%w: %d bars before %s", models.ErrReplayInputGap, missing, bar.TimeOpen))
				gap := models.TimelineEntry{
					Kind:        models.TimelineGap,
					Time:        prev.TimeClose,
					MissingBars: missing,
				}
				gap.Explanation = e.explain(gap, &sum)
				timeline.Append(gap)
			}
		}

		res, err := e.pipeline.Process(bar, e.ticks.Ticks(ctx, bar), false)
		if err != nil {
			sum.InvalidBars++
			continue
		}
		if sum.Processed == 0 {
			sum.From = bar.TimeOpen
		}
		sum.To = bar.TimeClose
		sum.Processed++

		if res.Scored != nil {
			sum.Decisions[res.Scored.Action]++
		}
		for _, r := range res.FilterReasons {
			sum.FilterBlocks[r]++
		}
		if res.SignalChanged && res.Signal != nil {
			sum.Signals[res.Signal.State]++
		}

		b := bar
		c := res.Context
		entry := models.TimelineEntry{
			Kind:          models.TimelineBar,
			Time:          bar.TimeClose,
			Bar:           &b,
			Context:       &c,
			Scored:        res.Scored,
			Decision:      res.Decision,
			FilterReasons: res.FilterReasons,
			Signal:        res.Signal,
		}
		entry.Explanation = e.explain(entry, &sum)
		timeline.Append(entry)
		packets = append(packets, chartPacket(entry))
		prev = &b
	}

	if rec := e.pipeline.Finish(); rec != nil {
		sum.Signals[rec.State]++
	}

	heat, failures := Heatmaps(timeline.Entries())
	sum.HeatmapFallbacks = failures
	if failures > 0 {
		metrics.Errors.WithLabelValues(string(models.KindConsumer)).Add(float64(failures))
	}

	e.logger.WithFields(logrus.Fields{
		"bars":         sum.Bars,
		"processed":    sum.Processed,
		"gaps":         sum.Gaps,
		"missing_bars": sum.MissingBars,
		"invalid":      sum.InvalidBars,
	}).Info("Replay completed")

	signals := e.pipeline.Lifecycle().History()
	if signals == nil {
		signals = []models.SignalRecord{}
	}
	return &Result{
		Timeline:     timeline,
		ChartPackets: packets,
		Signals:      signals,
		Heatmaps:     heat,
		Summary:      sum,
	}, nil
}

func (e *Engine) explain(entry models.TimelineEntry, sum *Summary) models.Explanation {
	exp, err := e.explainer.Explain(entry)
	if err != nil {
		sum.ExplanationFallbacks++
		if !errors.Is(err, models.ErrConsumer) {
			err = fmt.Errorf("%w: %v", models.ErrConsumer, err)
		}
		metrics.ObserveError(err)
		return models.Explanation{Summary: FallbackExplanation, Details: []string{}}
	}
	if exp.Details == nil {
		exp.Details = []string{}
	}
	return exp
}
