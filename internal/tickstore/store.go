package tickstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/database"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/logger"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Fixed-width UTC layout so that lexical order of the stored text equals time order
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

const selectColumns = `SELECT id, timestamp, price, size, side, contract FROM orders`

// Options configures a Store
type Options struct {
	RingCapacity  int
	RetentionDays int
	SweepInterval time.Duration
	TickSize      float64
	Clock         func() time.Time
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		RingCapacity:  10000,
		RetentionDays: 15,
		SweepInterval: 24 * time.Hour,
		TickSize:      0.1,
		Clock:         time.Now,
	}
}

// Store is the two-tier tick log: a durable SQL table plus an in-memory ring
// of the most recent ticks. Writers are serialized; readers of the ring take
// only its read lock.
type Store struct {
	db   *database.SQLClient
	ring *Ring
	opts Options

	writeMu sync.Mutex

	logger  *logrus.Entry
	limiter *logger.Limiter
}

// New creates a store over an already migrated SQL client
func New(db *database.SQLClient, opts Options, log *logrus.Logger) *Store {
	def := DefaultOptions()
	if opts.RingCapacity <= 0 {
		opts.RingCapacity = def.RingCapacity
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = def.RetentionDays
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.TickSize <= 0 {
		opts.TickSize = def.TickSize
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}

	return &Store{
		db:      db,
		ring:    NewRing(opts.RingCapacity),
		opts:    opts,
		logger:  log.WithField("component", "tickstore"),
		limiter: logger.NewLimiter(10 * time.Second),
	}
}

// Ring exposes the in-memory tier
func (s *Store) Ring() *Ring {
	return s.ring
}

// Record validates and appends a single tick
func (s *Store) Record(ctx context.Context, price float64, size int64, side models.Side, ts time.Time, symbol string) (models.TickRecord, error) {
	recs, err := s.RecordBatch(ctx, []models.Tick{{
		Timestamp: ts,
		Price:     price,
		Size:      size,
		Side:      side,
		Symbol:    symbol,
	}})
	if err != nil {
		return models.TickRecord{}, err
	}
	return recs[0], nil
}

// RecordBatch appends ticks atomically: either every tick is persisted and
// visible in memory, or none is.
func (s *Store) RecordBatch(ctx context.Context, ticks []models.Tick) ([]models.TickRecord, error) {
	if len(ticks) == 0 {
		return []models.TickRecord{}, nil
	}
	for i, t := range ticks {
		if err := t.Validate(); err != nil {
			metrics.ObserveError(err)
			return nil, fmt.Errorf("tick %d: %w", i, err)
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	recs := make([]models.TickRecord, 0, len(ticks))
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO orders (timestamp, price, size, side, contract) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range ticks {
			t.Timestamp = t.Timestamp.UTC()
			res, err := stmt.ExecContext(ctx, formatTimestamp(t.Timestamp), t.Price, t.Size, string(t.Side), t.Symbol)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			recs = append(recs, models.TickRecord{ID: id, Tick: t})
		}
		return nil
	})
	if err != nil {
		// The ring is only touched after commit, so nothing to undo in memory
		err = fmt.Errorf("%w: insert ticks: %v", models.ErrStorageIO, err)
		metrics.ObserveError(err)
		s.limiter.Error(s.logger, "write", err, "Failed to persist ticks")
		return nil, err
	}

	s.ring.Add(recs...)
	for _, rec := range recs {
		metrics.TicksIngested.WithLabelValues(rec.Symbol).Inc()
	}
	return recs, nil
}

// Recent returns the last n ticks from durable storage in chronological order
func (s *Store) Recent(ctx context.Context, n int) []models.TickRecord {
	if n <= 0 {
		return []models.TickRecord{}
	}
	recs := s.query(ctx, "recent", selectColumns+` ORDER BY id DESC LIMIT ?`, n)
	reverse(recs)
	return recs
}

// RecentFromMemory returns the last n ticks held by the ring
func (s *Store) RecentFromMemory(n int) []models.TickRecord {
	return s.ring.Recent(n)
}

// Range returns ticks with start <= timestamp <= end ordered by time
func (s *Store) Range(ctx context.Context, start, end time.Time) []models.TickRecord {
	return s.query(ctx, "range",
		selectColumns+` WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC, id ASC`,
		formatTimestamp(start), formatTimestamp(end))
}

// ByPriceRange returns up to limit of the newest ticks priced within [minPrice, maxPrice], oldest first
func (s *Store) ByPriceRange(ctx context.Context, minPrice, maxPrice float64, limit int) []models.TickRecord {
	if limit <= 0 || minPrice > maxPrice {
		return []models.TickRecord{}
	}
	recs := s.query(ctx, "by_price_range",
		selectColumns+` WHERE price >= ? AND price <= ? ORDER BY id DESC LIMIT ?`, minPrice, maxPrice, limit)
	reverse(recs)
	return recs
}

// BySide returns up to limit of the newest ticks on one side, oldest first
func (s *Store) BySide(ctx context.Context, side models.Side, limit int) []models.TickRecord {
	if limit <= 0 || !side.Valid() {
		return []models.TickRecord{}
	}
	recs := s.query(ctx, "by_side",
		selectColumns+` WHERE side = ? ORDER BY id DESC LIMIT ?`, string(side), limit)
	reverse(recs)
	return recs
}

// VolumeAtPrice sums executed volume per side within price ± tolerance
func (s *Store) VolumeAtPrice(ctx context.Context, price, tolerance float64) models.PriceVolume {
	pv := models.PriceVolume{Price: price}
	tolerance = math.Abs(tolerance)

	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT side, COALESCE(SUM(size), 0) FROM orders WHERE price >= ? AND price <= ? GROUP BY side`,
		price-tolerance, price+tolerance)
	if err != nil {
		s.readFailed("volume_at_price", err)
		return pv
	}
	defer rows.Close()

	for rows.Next() {
		var side string
		var volume int64
		if err := rows.Scan(&side, &volume); err != nil {
			s.readFailed("volume_at_price", err)
			return models.PriceVolume{Price: price}
		}
		switch models.Side(side) {
		case models.SideBuy:
			pv.BuyVolume = volume
		case models.SideSell:
			pv.SellVolume = volume
		}
	}
	if err := rows.Err(); err != nil {
		s.readFailed("volume_at_price", err)
		return models.PriceVolume{Price: price}
	}

	pv.NetVolume = pv.BuyVolume - pv.SellVolume
	return pv
}

// VolumeProfile buckets the newest limit ticks by price rounded to half the tick size
func (s *Store) VolumeProfile(ctx context.Context, limit int) map[float64]models.ProfileLevel {
	profile := make(map[float64]models.ProfileLevel)
	if limit <= 0 {
		return profile
	}

	bucket, _ := decimal.NewFromFloat(s.opts.TickSize).Mul(decimal.NewFromFloat(0.5)).Float64()
	recs := s.query(ctx, "volume_profile", selectColumns+` ORDER BY id DESC LIMIT ?`, limit)
	for _, rec := range recs {
		key := models.AlignToTick(rec.Price, bucket)
		level := profile[key]
		switch rec.Side {
		case models.SideBuy:
			level.Buy += rec.Size
		case models.SideSell:
			level.Sell += rec.Size
		}
		level.Net = level.Buy - level.Sell
		level.Count++
		profile[key] = level
	}
	return profile
}

// Count returns the number of persisted ticks
func (s *Store) Count(ctx context.Context) int64 {
	var n int64
	if err := s.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		s.readFailed("count", err)
		return 0
	}
	return n
}

// Hydrate refills the ring from the tail of durable storage
func (s *Store) Hydrate(ctx context.Context) int {
	recs := s.Recent(ctx, s.opts.RingCapacity)

	s.writeMu.Lock()
	s.ring.Reset(recs)
	s.writeMu.Unlock()

	s.logger.WithField("ticks", len(recs)).Info("Tick ring hydrated")
	return len(recs)
}

// Purge hard-deletes ticks older than the retention horizon relative to now
func (s *Store) Purge(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UTC().AddDate(0, 0, -s.opts.RetentionDays)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.DB().ExecContext(ctx, `DELETE FROM orders WHERE timestamp < ?`, formatTimestamp(cutoff))
	if err != nil {
		err = fmt.Errorf("%w: purge ticks: %v", models.ErrStorageIO, err)
		metrics.ObserveError(err)
		return 0, err
	}
	deleted, _ := res.RowsAffected()
	s.ring.DropBefore(cutoff)

	s.logger.WithFields(logrus.Fields{
		"cutoff":  cutoff.Format(time.RFC3339),
		"deleted": deleted,
	}).Info("Tick retention sweep complete")
	return deleted, nil
}

// StartRetention runs Purge immediately and then every sweep interval until ctx is done
func (s *Store) StartRetention(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.opts.SweepInterval)
		defer ticker.Stop()

		for {
			if _, err := s.Purge(ctx, s.opts.Clock()); err != nil {
				s.logger.WithError(err).Error("Tick retention sweep failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *Store) query(ctx context.Context, op, q string, args ...interface{}) []models.TickRecord {
	rows, err := s.db.DB().QueryContext(ctx, q, args...)
	if err != nil {
		s.readFailed(op, err)
		return []models.TickRecord{}
	}
	defer rows.Close()

	recs := make([]models.TickRecord, 0)
	for rows.Next() {
		var (
			rec  models.TickRecord
			ts   string
			side string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Price, &rec.Size, &side, &rec.Symbol); err != nil {
			s.readFailed(op, err)
			return []models.TickRecord{}
		}
		parsed, err := parseTimestamp(ts)
		if err != nil {
			s.readFailed(op, err)
			return []models.TickRecord{}
		}
		rec.Timestamp = parsed
		rec.Side = models.Side(side)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		s.readFailed(op, err)
		return []models.TickRecord{}
	}
	return recs
}

func (s *Store) readFailed(op string, err error) {
	err = fmt.Errorf("%w: %s: %v", models.ErrStorageIO, op, err)
	metrics.ObserveError(err)
	s.limiter.Error(s.logger.WithField("op", op), "read:"+op, err, "Tick store read failed")
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func reverse(recs []models.TickRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}
