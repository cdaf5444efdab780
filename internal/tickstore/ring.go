package tickstore

import (
	"sync"
	"time"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Ring is a fixed-capacity circular buffer of the most recent ticks
type Ring struct {
	data     []models.TickRecord
	head     int
	tail     int
	size     int
	capacity int
	total    uint64

	mu sync.RWMutex
}

// RingStats contains buffer statistics
type RingStats struct {
	Size       int       `json:"size"`
	Capacity   int       `json:"capacity"`
	TotalTicks uint64    `json:"total_ticks"`
	OldestTime time.Time `json:"oldest_time"`
	NewestTime time.Time `json:"newest_time"`
}

// NewRing creates a ring holding at most capacity ticks
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		data:     make([]models.TickRecord, capacity),
		capacity: capacity,
	}
}

// Add appends records, overwriting the oldest when full
func (r *Ring) Add(recs ...models.TickRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range recs {
		r.push(rec)
	}
}

func (r *Ring) push(rec models.TickRecord) {
	if r.size == r.capacity {
		r.tail = (r.tail + 1) % r.capacity
	} else {
		r.size++
	}
	r.data[r.head] = rec
	r.head = (r.head + 1) % r.capacity
	r.total++
}

// Recent returns the last n ticks in chronological order
func (r *Ring) Recent(n int) []models.TickRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return []models.TickRecord{}
	}

	result := make([]models.TickRecord, n)
	idx := (r.head - n + r.capacity) % r.capacity
	for i := 0; i < n; i++ {
		result[i] = r.data[idx]
		idx = (idx + 1) % r.capacity
	}
	return result
}

// Latest returns the newest tick
func (r *Ring) Latest() (models.TickRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return models.TickRecord{}, false
	}
	return r.data[(r.head-1+r.capacity)%r.capacity], true
}

// Range returns ticks with from <= timestamp <= to, oldest first
func (r *Ring) Range(from, to time.Time) []models.TickRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]models.TickRecord, 0)
	idx := r.tail
	for i := 0; i < r.size; i++ {
		rec := r.data[idx]
		if !rec.Timestamp.Before(from) && !rec.Timestamp.After(to) {
			result = append(result, rec)
		}
		idx = (idx + 1) % r.capacity
	}
	return result
}

// DropBefore removes the leading ticks older than cutoff
func (r *Ring) DropBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for r.size > 0 && r.data[r.tail].Timestamp.Before(cutoff) {
		r.data[r.tail] = models.TickRecord{}
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		dropped++
	}
	return dropped
}

// Reset replaces the contents with recs, keeping only the newest capacity entries
func (r *Ring) Reset(recs []models.TickRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data = make([]models.TickRecord, r.capacity)
	r.head, r.tail, r.size = 0, 0, 0
	for _, rec := range recs {
		r.push(rec)
	}
}

// Stats returns buffer statistics
func (r *Ring) Stats() RingStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RingStats{
		Size:       r.size,
		Capacity:   r.capacity,
		TotalTicks: r.total,
	}
	if r.size > 0 {
		stats.OldestTime = r.data[r.tail].Timestamp
		stats.NewestTime = r.data[(r.head-1+r.capacity)%r.capacity].Timestamp
	}
	return stats
}

// Size returns the current number of ticks held
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}
