package models

import "time"

// PersistenceType categorizes how often a memorized level has been revisited
type PersistenceType string

const (
	PersistenceRandom     PersistenceType = "RANDOM"
	PersistenceInterest   PersistenceType = "INTEREST"
	PersistenceDefense    PersistenceType = "DEFENSE"
	PersistenceAbsorption PersistenceType = "ABSORPTION"
)

// PersistenceScore normalizes a hit count onto [0, 1]
func PersistenceScore(hitCount int) float64 {
	return Clamp01(float64(hitCount) / 5.0)
}

// ClassifyPersistence maps a persistence score onto its category
func ClassifyPersistence(score float64) PersistenceType {
	switch {
	case score < 0.3:
		return PersistenceRandom
	case score < 0.6:
		return PersistenceInterest
	case score < 0.85:
		return PersistenceDefense
	default:
		return PersistenceAbsorption
	}
}

// ZoneKind records where a memorized level came from
type ZoneKind string

const (
	ZoneKindAbsorption ZoneKind = "ABSORPTION_ZONE"
	ZoneKindTrapped    ZoneKind = "TRAPPED_LEVEL"
)

// MemoryZone is a persistence-scored record held by zone memory
type MemoryZone struct {
	ID              uint64          `json:"id"`
	Price           float64         `json:"price"`
	Volume          float64         `json:"volume"`
	Direction       Direction       `json:"direction"`
	Kind            ZoneKind        `json:"kind"`
	Session         Session         `json:"session"`
	FirstSeen       time.Time       `json:"first_seen"`
	LastSeen        time.Time       `json:"last_seen"`
	FirstSeenBar    int64           `json:"first_seen_bar"`
	HitCount        int             `json:"hit_count"`
	Visits          []string        `json:"visits,omitempty"`
	PersistenceType PersistenceType `json:"persistence_type"`
}

// Score returns the persistence score of the record
func (z MemoryZone) Score() float64 {
	return PersistenceScore(z.HitCount)
}

// ChartZone is the flattened overlay projection of a memory record
type ChartZone struct {
	ID              uint64          `json:"id"`
	Price           float64         `json:"price"`
	Top             float64         `json:"top"`
	Bottom          float64         `json:"bottom"`
	Direction       Direction       `json:"direction"`
	Kind            ZoneKind        `json:"kind"`
	HitCount        int             `json:"hit_count"`
	Score           float64         `json:"persistence_score"`
	PersistenceType PersistenceType `json:"persistence_type"`
	Label           string          `json:"label"`
}
