package models

import "time"

// TimelineKind distinguishes audit entries
type TimelineKind string

const (
	TimelineBar TimelineKind = "bar"
	TimelineGap TimelineKind = "gap"
)

// Explanation is the human-readable account of one replay step
type Explanation struct {
	Summary string   `json:"summary"`
	Details []string `json:"details"`
}

// TimelineEntry is one append-only audit record of the replay
type TimelineEntry struct {
	Kind          TimelineKind    `json:"kind"`
	Time          time.Time       `json:"time"`
	Bar           *Bar            `json:"bar,omitempty"`
	Context       *ScoringContext `json:"context,omitempty"`
	Scored        *Decision       `json:"scored,omitempty"`
	Decision      *Decision       `json:"decision"`
	FilterReasons []string        `json:"filter_reasons,omitempty"`
	Signal        *SignalRecord   `json:"signal,omitempty"`
	Explanation   Explanation     `json:"explanation"`
	MissingBars   int             `json:"missing_bars,omitempty"`
}

// ChartPacket is the flat per-bar visualization record
type ChartPacket struct {
	Time         time.Time `json:"time"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	Session      Session   `json:"session"`
	KillZone     bool      `json:"kill_zone"`
	NewsActive   bool      `json:"news_active"`
	IcebergScore float64   `json:"iceberg_score"`
	Signal       *Action   `json:"signal"`
	Edge         string    `json:"edge"`
	Confidence   float64   `json:"confidence"`
	Tooltip      string    `json:"tooltip"`
}

// HeatCell is a single heatmap value derived from a timeline entry
type HeatCell struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
	Label string    `json:"label,omitempty"`
}
