package tickstore

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/database"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/logger"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

var t0 = time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts Options) (*Store, *database.SQLClient) {
	t.Helper()
	db, err := database.NewSQLiteClient(filepath.Join(t.TempDir(), "ticks.db"), logger.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db, opts, logger.Discard()), db
}

func seed(t *testing.T, s *Store, ticks ...models.Tick) []models.TickRecord {
	t.Helper()
	recs, err := s.RecordBatch(context.Background(), ticks)
	if err != nil {
		t.Fatalf("record batch: %v", err)
	}
	return recs
}

func tick(offset time.Duration, price float64, size int64, side models.Side) models.Tick {
	return models.Tick{Timestamp: t0.Add(offset), Price: price, Size: size, Side: side, Symbol: "GCJ4"}
}

func TestRecordRejectsMalformedTicks(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	cases := []struct {
		name  string
		price float64
		size  int64
		side  models.Side
	}{
		{"zero size", 2400, 0, models.SideBuy},
		{"negative price", -1, 5, models.SideBuy},
		{"bad side", 2400, 5, models.Side("HOLD")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Record(ctx, tc.price, tc.size, tc.side, t0, "GCJ4")
			if !errors.Is(err, models.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if n := s.Count(ctx); n != 0 {
		t.Fatalf("expected empty store, got %d rows", n)
	}
}

func TestRecentContainsLatestTick(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	seed(t, s, tick(0, 2400.0, 3, models.SideBuy), tick(time.Second, 2400.1, 4, models.SideSell))
	rec, err := s.Record(ctx, 2400.2, 7, models.SideBuy, t0.Add(2*time.Second), "GCJ4")
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	recent := s.Recent(ctx, 1)
	if len(recent) != 1 || recent[0].ID != rec.ID || recent[0].Price != 2400.2 {
		t.Fatalf("recent(1) = %+v, want id %d", recent, rec.ID)
	}

	all := s.Recent(ctx, 10)
	if len(all) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("recent not chronological: %+v", all)
		}
	}

	mem := s.RecentFromMemory(1)
	if len(mem) != 1 || mem[0].ID != rec.ID {
		t.Fatalf("ring tail = %+v", mem)
	}
	if !mem[0].Timestamp.Equal(t0.Add(2 * time.Second)) {
		t.Fatalf("timestamp not preserved: %s", mem[0].Timestamp)
	}
}

func TestRecordBatchIsAtomic(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	_, err := s.RecordBatch(ctx, []models.Tick{
		tick(0, 2400, 1, models.SideBuy),
		tick(time.Second, 2400, 0, models.SideBuy),
	})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if n := s.Count(ctx); n != 0 {
		t.Fatalf("partial batch persisted: %d rows", n)
	}
	if s.Ring().Size() != 0 {
		t.Fatalf("partial batch in memory")
	}
}

func TestStorageFailureLeavesRingUntouched(t *testing.T) {
	s, db := newTestStore(t, Options{})
	ctx := context.Background()
	seed(t, s, tick(0, 2400, 1, models.SideBuy))

	db.Close()
	_, err := s.Record(ctx, 2401, 1, models.SideSell, t0.Add(time.Second), "GCJ4")
	if !errors.Is(err, models.ErrStorageIO) {
		t.Fatalf("expected ErrStorageIO, got %v", err)
	}
	if s.Ring().Size() != 1 {
		t.Fatalf("ring size = %d after failed write", s.Ring().Size())
	}
	if got := s.Recent(ctx, 5); len(got) != 0 {
		t.Fatalf("read on closed db should be empty, got %d", len(got))
	}
}

func TestRangeIsInclusive(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	seed(t, s,
		tick(0, 2400, 1, models.SideBuy),
		tick(time.Minute, 2401, 1, models.SideBuy),
		tick(2*time.Minute, 2402, 1, models.SideBuy),
		tick(3*time.Minute, 2403, 1, models.SideBuy),
	)

	got := s.Range(ctx, t0.Add(time.Minute), t0.Add(2*time.Minute))
	if len(got) != 2 || got[0].Price != 2401 || got[1].Price != 2402 {
		t.Fatalf("range = %+v", got)
	}
}

func TestPriceAndSideQueries(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	seed(t, s,
		tick(0, 2400.0, 10, models.SideBuy),
		tick(time.Second, 2400.5, 20, models.SideSell),
		tick(2*time.Second, 2401.0, 30, models.SideBuy),
		tick(3*time.Second, 2405.0, 40, models.SideSell),
	)

	byPrice := s.ByPriceRange(ctx, 2400, 2401, 2)
	if len(byPrice) != 2 || byPrice[0].Price != 2400.5 || byPrice[1].Price != 2401.0 {
		t.Fatalf("by price = %+v", byPrice)
	}

	sells := s.BySide(ctx, models.SideSell, 10)
	if len(sells) != 2 || sells[0].Size != 20 || sells[1].Size != 40 {
		t.Fatalf("by side = %+v", sells)
	}

	pv := s.VolumeAtPrice(ctx, 2400.5, 0.5)
	if pv.BuyVolume != 40 || pv.SellVolume != 20 || pv.NetVolume != 20 {
		t.Fatalf("volume at price = %+v", pv)
	}
}

func TestVolumeProfileBuckets(t *testing.T) {
	s, _ := newTestStore(t, Options{TickSize: 0.1})
	ctx := context.Background()
	seed(t, s,
		tick(0, 2400.0, 10, models.SideBuy),
		tick(time.Second, 2400.0, 4, models.SideSell),
		tick(2*time.Second, 2400.1, 6, models.SideSell),
	)

	profile := s.VolumeProfile(ctx, 100)
	if len(profile) != 2 {
		t.Fatalf("expected 2 buckets, got %v", profile)
	}
	lvl := profile[2400.0]
	if lvl.Buy != 10 || lvl.Sell != 4 || lvl.Net != 6 || lvl.Count != 2 {
		t.Fatalf("bucket 2400.0 = %+v", lvl)
	}
	if profile[2400.1].Sell != 6 {
		t.Fatalf("bucket 2400.1 = %+v", profile[2400.1])
	}
}

func TestCSVRoundTrip(t *testing.T) {
	src, _ := newTestStore(t, Options{})
	ctx := context.Background()
	seed(t, src,
		tick(0, 2400.3, 2, models.SideBuy),
		tick(1500*time.Millisecond, 2400.4, 5, models.SideSell),
		tick(time.Minute+time.Nanosecond, 2399.9, 1, models.SideBuy),
		tick(10*time.Minute, 2390, 9, models.SideSell),
	)
	start, end := t0, t0.Add(2*time.Minute)

	data, err := src.ExportCSV(ctx, start, end)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, _ := newTestStore(t, Options{})
	n, err := dst.ImportCSV(ctx, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 3 {
		t.Fatalf("imported %d ticks", n)
	}

	want := ticksOf(src.Range(ctx, start, end))
	got := ticksOf(dst.Range(ctx, start, end))
	if len(want) != len(got) {
		t.Fatalf("range sizes differ: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if !want[i].Timestamp.Equal(got[i].Timestamp) || want[i].Price != got[i].Price ||
			want[i].Size != got[i].Size || want[i].Side != got[i].Side || want[i].Symbol != got[i].Symbol {
			t.Fatalf("tick %d differs: %+v vs %+v", i, want[i], got[i])
		}
	}
}

func ticksOf(recs []models.TickRecord) []models.Tick {
	out := make([]models.Tick, len(recs))
	for i, r := range recs {
		out[i] = r.Tick
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func TestPurgeDeletesExpiredTicks(t *testing.T) {
	s, _ := newTestStore(t, Options{RetentionDays: 15})
	ctx := context.Background()

	now := t0
	seed(t, s,
		models.Tick{Timestamp: now.AddDate(0, 0, -20), Price: 2300, Size: 1, Side: models.SideBuy, Symbol: "GCJ4"},
		models.Tick{Timestamp: now.AddDate(0, 0, -16), Price: 2310, Size: 1, Side: models.SideBuy, Symbol: "GCJ4"},
		models.Tick{Timestamp: now.AddDate(0, 0, -1), Price: 2400, Size: 1, Side: models.SideBuy, Symbol: "GCJ4"},
	)

	deleted, err := s.Purge(ctx, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted %d rows, want 2", deleted)
	}
	if s.Count(ctx) != 1 || s.Ring().Size() != 1 {
		t.Fatalf("remaining db=%d ring=%d", s.Count(ctx), s.Ring().Size())
	}
}

func TestHydrateFromDurableTail(t *testing.T) {
	s, db := newTestStore(t, Options{RingCapacity: 2})
	seed(t, s,
		tick(0, 2400, 1, models.SideBuy),
		tick(time.Second, 2401, 1, models.SideBuy),
		tick(2*time.Second, 2402, 1, models.SideBuy),
	)

	fresh := New(db, Options{RingCapacity: 2}, logger.Discard())
	if n := fresh.Hydrate(context.Background()); n != 2 {
		t.Fatalf("hydrated %d", n)
	}
	got := fresh.RecentFromMemory(5)
	if len(got) != 2 || got[0].Price != 2401 || got[1].Price != 2402 {
		t.Fatalf("ring after hydrate = %+v", got)
	}
}
