package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

func TestObserveErrorLabelsByKind(t *testing.T) {
	before := testutil.ToFloat64(Errors.WithLabelValues(string(models.KindStorageIO)))
	ObserveError(fmt.Errorf("insert tick: %w", models.ErrStorageIO))
	ObserveError(nil)
	after := testutil.ToFloat64(Errors.WithLabelValues(string(models.KindStorageIO)))
	if after-before != 1 {
		t.Fatalf("expected STORAGE_IO to increase by 1, got %v", after-before)
	}
}

func TestMetricsRegistered(t *testing.T) {
	TicksIngested.WithLabelValues("GC").Inc()
	SetFlag(FeedStale, true)

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	want := map[string]bool{"imo_ticks_ingested_total": false, "imo_feed_stale": false}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("%s metric not found", name)
		}
	}
	if testutil.ToFloat64(FeedStale) != 1 {
		t.Fatalf("feed stale gauge not set")
	}
}
