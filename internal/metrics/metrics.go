package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

var (
	TicksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imo_ticks_ingested_total", Help: "Ticks accepted into the tick store"},
		[]string{"symbol"},
	)
	Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imo_errors_total", Help: "Recovered errors by kind"},
		[]string{"kind"},
	)
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imo_decisions_total", Help: "Scorer decisions by action"},
		[]string{"action"},
	)
	FilterBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imo_filter_blocks_total", Help: "Decisions rejected by the filter layer"},
		[]string{"reason"},
	)
	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imo_signals_total", Help: "Signal lifecycle transitions by state"},
		[]string{"state"},
	)
	FeedStale = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "imo_feed_stale", Help: "1 while no tick arrived within the stale timeout"},
	)
	SampledMode = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "imo_adapter_sampled_mode", Help: "1 while the adapter bridge aggregates ticks"},
	)
	MemoryRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "imo_zone_memory_records", Help: "Records held by zone memory"},
	)
)

func init() {
	prometheus.MustRegister(TicksIngested, Errors, Decisions, FilterBlocks, Signals, FeedStale, SampledMode, MemoryRecords)
}

// ObserveError counts err under its kind. Nil errors are ignored.
func ObserveError(err error) {
	if err == nil {
		return
	}
	Errors.WithLabelValues(string(models.KindOf(err))).Inc()
}

// SetFlag sets a 0/1 gauge
func SetFlag(g prometheus.Gauge, on bool) {
	if on {
		g.Set(1)
		return
	}
	g.Set(0)
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
