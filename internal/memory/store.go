package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Options configures zone memory
type Options struct {
	// Path of the JSON file; empty keeps memory in process only
	Path string
	// LedgerPath receives a summary line per pruned record; defaults to Path + ".ledger.jsonl"
	LedgerPath     string
	MergeTolerance float64
	MaxRecords     int
	RetentionDays  int
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		MergeTolerance: 2,
		MaxRecords:     100,
		RetentionDays:  10,
	}
}

// Observation is a detected level offered to memory
type Observation struct {
	Price     float64
	Volume    float64
	Direction models.Direction
	Kind      models.ZoneKind
	Session   models.Session
	Time      time.Time
	Bar       int64
}

// FromAbsorption converts a detector zone into an observation
func FromAbsorption(z models.AbsorptionZone, session models.Session, bar int64) Observation {
	at := z.LastSeen
	if at.IsZero() {
		at = z.FirstSeen
	}
	return Observation{
		Price:     z.Price,
		Volume:    float64(z.TotalVolume),
		Direction: z.Dominance,
		Kind:      models.ZoneKindAbsorption,
		Session:   session,
		Time:      at,
		Bar:       bar,
	}
}

// FromSweep converts a sweep into a trapped-level observation
func FromSweep(s models.Sweep, session models.Session, bar int64) Observation {
	return Observation{
		Price:     s.BreachedLevel,
		Volume:    s.Volume,
		Direction: s.Type.Thesis(),
		Kind:      models.ZoneKindTrapped,
		Session:   session,
		Time:      s.Time,
		Bar:       bar,
	}
}

// Store is the cross-session zone memory. All mutations are persisted
// before the lock is released; a failed write restores the previous state.
type Store struct {
	mu     sync.Mutex
	opts   Options
	zones  []models.MemoryZone // sorted by price, then id
	nextID uint64
	logger *logrus.Entry
}

// Open loads memory from opts.Path, creating an empty store if the file does not exist
func Open(opts Options, logger *logrus.Logger) (*Store, error) {
	def := DefaultOptions()
	if opts.MergeTolerance <= 0 {
		opts.MergeTolerance = def.MergeTolerance
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = def.MaxRecords
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = def.RetentionDays
	}
	if opts.LedgerPath == "" && opts.Path != "" {
		opts.LedgerPath = opts.Path + ".ledger.jsonl"
	}

	s := &Store{
		opts:   opts,
		nextID: 1,
		logger: logger.WithField("component", "zone-memory"),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.gauge()
	return s, nil
}

func (s *Store) load() error {
	if s.opts.Path == "" {
		return nil
	}
	data, err := os.ReadFile(s.opts.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read zone memory: %v", models.ErrStorageIO, err)
	}
	if len(data) == 0 {
		return nil
	}

	var zones []models.MemoryZone
	if err := json.Unmarshal(data, &zones); err != nil {
		return fmt.Errorf("%w: decode zone memory %s: %v", models.ErrStorageIO, s.opts.Path, err)
	}
	for _, z := range zones {
		if z.ID >= s.nextID {
			s.nextID = z.ID + 1
		}
	}
	s.zones = zones
	s.sortLocked()

	s.logger.WithFields(logrus.Fields{
		"path":  s.opts.Path,
		"zones": len(zones),
	}).Info("Zone memory loaded")
	return nil
}

// Tolerance returns the merge tolerance
func (s *Store) Tolerance() float64 {
	return s.opts.MergeTolerance
}

// Store records an observation. A record within tolerance with a compatible
// direction absorbs it; the hit count grows once per (session, date) visit,
// so repeating the same observation in one session is a no-op on hit_count.
func (s *Store) Store(obs Observation) (models.MemoryZone, error) {
	if obs.Price <= 0 {
		return models.MemoryZone{}, fmt.Errorf("%w: zone price must be positive", models.ErrInvalidInput)
	}
	if obs.Direction == "" {
		obs.Direction = models.DirectionNeutral
	}
	obs.Time = obs.Time.UTC()
	key := visitKey(obs.Session, obs.Time)

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.cloneLocked()

	var result models.MemoryZone
	if idx := s.matchLocked(obs.Price, obs.Direction); idx >= 0 {
		z := &s.zones[idx]
		if !contains(z.Visits, key) {
			z.HitCount++
			z.Visits = append(z.Visits, key)
			z.Volume += obs.Volume
		} else if obs.Volume > z.Volume {
			z.Volume = obs.Volume
		}
		if obs.Time.After(z.LastSeen) {
			z.LastSeen = obs.Time
		}
		if z.Direction == models.DirectionNeutral && obs.Direction != models.DirectionNeutral {
			z.Direction = obs.Direction
		}
		z.PersistenceType = models.ClassifyPersistence(z.Score())
		result = *z
	} else {
		z := models.MemoryZone{
			ID:           s.nextID,
			Price:        obs.Price,
			Volume:       obs.Volume,
			Direction:    obs.Direction,
			Kind:         obs.Kind,
			Session:      obs.Session,
			FirstSeen:    obs.Time,
			LastSeen:     obs.Time,
			FirstSeenBar: obs.Bar,
			HitCount:     1,
			Visits:       []string{key},
		}
		z.PersistenceType = models.ClassifyPersistence(z.Score())
		s.nextID++
		s.zones = append(s.zones, z)
		s.sortLocked()
		s.evictLocked(z.ID)
		result = z
	}

	if err := s.commitLocked(snapshot); err != nil {
		return models.MemoryZone{}, err
	}
	return cloneZone(result), nil
}

// Retest bumps the hit count of every record within tolerance of price and
// returns how many were touched.
func (s *Store) Retest(price, tolerance float64, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := s.bandLocked(price, tolerance)
	if lo == hi {
		return 0, nil
	}

	snapshot := s.cloneLocked()
	at = at.UTC()
	for i := lo; i < hi; i++ {
		z := &s.zones[i]
		z.HitCount++
		if at.After(z.LastSeen) {
			z.LastSeen = at
		}
		z.PersistenceType = models.ClassifyPersistence(z.Score())
	}
	if err := s.commitLocked(snapshot); err != nil {
		return 0, err
	}
	return hi - lo, nil
}

// ActiveZones returns records within ±tolerance of price, ordered by
// distance. A non-empty session restricts to records first seen in it; a
// non-zero at drops records not seen within the retention horizon.
func (s *Store) ActiveZones(price, tolerance float64, session models.Session, at time.Time) []models.MemoryZone {
	s.mu.Lock()
	defer s.mu.Unlock()

	var horizon time.Time
	if !at.IsZero() {
		horizon = at.UTC().AddDate(0, 0, -s.opts.RetentionDays)
	}

	lo, hi := s.bandLocked(price, tolerance)
	out := make([]models.MemoryZone, 0, hi-lo)
	for i := lo; i < hi; i++ {
		z := s.zones[i]
		if session != "" && z.Session != session {
			continue
		}
		if !horizon.IsZero() && z.LastSeen.Before(horizon) {
			continue
		}
		out = append(out, cloneZone(z))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Price-price) < math.Abs(out[j].Price-price)
	})
	return out
}

// PersistenceScore returns the strongest persistence score within tolerance of price
func (s *Store) PersistenceScore(price, tolerance float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := 0
	lo, hi := s.bandLocked(price, tolerance)
	for i := lo; i < hi; i++ {
		if s.zones[i].HitCount > best {
			best = s.zones[i].HitCount
		}
	}
	return models.PersistenceScore(best)
}

// PersistenceType classifies the persistence score at price
func (s *Store) PersistenceType(price, tolerance float64) models.PersistenceType {
	return models.ClassifyPersistence(s.PersistenceScore(price, tolerance))
}

// ZonesForChart flattens every record into an overlay band
func (s *Store) ZonesForChart() []models.ChartZone {
	s.mu.Lock()
	defer s.mu.Unlock()

	half := s.opts.MergeTolerance / 2
	out := make([]models.ChartZone, 0, len(s.zones))
	for _, z := range s.zones {
		out = append(out, models.ChartZone{
			ID:              z.ID,
			Price:           z.Price,
			Top:             models.RoundPrice(z.Price+half, 4),
			Bottom:          models.RoundPrice(z.Price-half, 4),
			Direction:       z.Direction,
			Kind:            z.Kind,
			HitCount:        z.HitCount,
			Score:           z.Score(),
			PersistenceType: z.PersistenceType,
			Label:           fmt.Sprintf("%s %s x%d", z.PersistenceType, z.Direction, z.HitCount),
		})
	}
	return out
}

// Zones returns a copy of every record ordered by price
func (s *Store) Zones() []models.MemoryZone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneLocked()
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.zones)
}

// ClearOldZones prunes records last seen more than days before now. Each
// pruned record is summarized in the ledger before it is deleted.
func (s *Store) ClearOldZones(days int, now time.Time) (int, error) {
	if days <= 0 {
		days = s.opts.RetentionDays
	}
	cutoff := now.UTC().AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()

	var keep, pruned []models.MemoryZone
	for _, z := range s.zones {
		if z.LastSeen.Before(cutoff) {
			pruned = append(pruned, z)
		} else {
			keep = append(keep, z)
		}
	}
	if len(pruned) == 0 {
		return 0, nil
	}

	if err := s.appendLedgerLocked(pruned, now.UTC()); err != nil {
		return 0, err
	}

	snapshot := s.cloneLocked()
	s.zones = keep
	if err := s.commitLocked(snapshot); err != nil {
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"pruned": len(pruned),
		"cutoff": cutoff.Format(time.RFC3339),
	}).Info("Zone memory pruned")
	return len(pruned), nil
}

// matchLocked finds the closest compatible record within merge tolerance
func (s *Store) matchLocked(price float64, dir models.Direction) int {
	lo, hi := s.bandLocked(price, s.opts.MergeTolerance)
	best, bestDist := -1, math.MaxFloat64
	for i := lo; i < hi; i++ {
		if !s.zones[i].Direction.Compatible(dir) {
			continue
		}
		if d := math.Abs(s.zones[i].Price - price); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// bandLocked returns the index range of records priced within [price-tol, price+tol]
func (s *Store) bandLocked(price, tolerance float64) (int, int) {
	tolerance = math.Abs(tolerance)
	// Tiny slack so float noise on the band edges does not drop an equal-distance record
	const eps = 1e-9
	lo := sort.Search(len(s.zones), func(i int) bool { return s.zones[i].Price >= price-tolerance-eps })
	hi := sort.Search(len(s.zones), func(i int) bool { return s.zones[i].Price > price+tolerance+eps })
	return lo, hi
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.zones, func(i, j int) bool {
		if s.zones[i].Price != s.zones[j].Price {
			return s.zones[i].Price < s.zones[j].Price
		}
		return s.zones[i].ID < s.zones[j].ID
	})
}

// evictLocked drops the weakest, then oldest, records beyond capacity.
// The record with id keep was just stored and is never the victim.
func (s *Store) evictLocked(keep uint64) {
	for len(s.zones) > s.opts.MaxRecords {
		victim := -1
		for i := range s.zones {
			a := s.zones[i]
			if a.ID == keep {
				continue
			}
			if victim < 0 {
				victim = i
				continue
			}
			b := s.zones[victim]
			if a.HitCount < b.HitCount || (a.HitCount == b.HitCount && a.LastSeen.Before(b.LastSeen)) {
				victim = i
			}
		}
		if victim < 0 {
			return
		}
		s.logger.WithFields(logrus.Fields{
			"id":    s.zones[victim].ID,
			"price": s.zones[victim].Price,
		}).Debug("Evicting zone at capacity")
		s.zones = append(s.zones[:victim], s.zones[victim+1:]...)
	}
}

// commitLocked persists the current state or restores snapshot on failure
func (s *Store) commitLocked(snapshot []models.MemoryZone) error {
	if err := s.saveLocked(); err != nil {
		s.zones = snapshot
		metrics.ObserveError(err)
		s.logger.WithError(err).Error("Failed to persist zone memory")
		return err
	}
	s.gauge()
	return nil
}

// gauge reports the record count of the durable store only
func (s *Store) gauge() {
	if s.opts.Path != "" {
		metrics.MemoryRecords.Set(float64(len(s.zones)))
	}
}

// saveLocked rewrites the whole file through a temp file and rename
func (s *Store) saveLocked() error {
	if s.opts.Path == "" {
		return nil
	}

	zones := s.zones
	if zones == nil {
		zones = []models.MemoryZone{}
	}
	data, err := json.MarshalIndent(zones, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode zone memory: %v", models.ErrStorageIO, err)
	}

	dir := filepath.Dir(s.opts.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create memory directory: %v", models.ErrStorageIO, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.opts.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", models.ErrStorageIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write zone memory: %v", models.ErrStorageIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync zone memory: %v", models.ErrStorageIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close zone memory: %v", models.ErrStorageIO, err)
	}
	if err := os.Rename(tmpName, s.opts.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace zone memory: %v", models.ErrStorageIO, err)
	}
	return nil
}

type ledgerLine struct {
	PrunedAt        time.Time              `json:"pruned_at"`
	ID              uint64                 `json:"id"`
	Price           float64                `json:"price"`
	Direction       models.Direction       `json:"direction"`
	Kind            models.ZoneKind        `json:"kind"`
	HitCount        int                    `json:"hit_count"`
	PersistenceType models.PersistenceType `json:"persistence_type"`
	FirstSeen       time.Time              `json:"first_seen"`
	LastSeen        time.Time              `json:"last_seen"`
	Visits          []string               `json:"visits,omitempty"`
}

func (s *Store) appendLedgerLocked(pruned []models.MemoryZone, now time.Time) error {
	if s.opts.LedgerPath == "" {
		return nil
	}
	f, err := os.OpenFile(s.opts.LedgerPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open ledger: %v", models.ErrStorageIO, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, z := range pruned {
		line := ledgerLine{
			PrunedAt:        now,
			ID:              z.ID,
			Price:           z.Price,
			Direction:       z.Direction,
			Kind:            z.Kind,
			HitCount:        z.HitCount,
			PersistenceType: z.PersistenceType,
			FirstSeen:       z.FirstSeen,
			LastSeen:        z.LastSeen,
			Visits:          z.Visits,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("%w: write ledger: %v", models.ErrStorageIO, err)
		}
	}
	return nil
}

func (s *Store) cloneLocked() []models.MemoryZone {
	out := make([]models.MemoryZone, len(s.zones))
	for i, z := range s.zones {
		out[i] = cloneZone(z)
	}
	return out
}

func cloneZone(z models.MemoryZone) models.MemoryZone {
	if z.Visits != nil {
		z.Visits = append([]string(nil), z.Visits...)
	}
	return z
}

func visitKey(session models.Session, at time.Time) string {
	return string(session) + "|" + at.Format("2006-01-02")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
