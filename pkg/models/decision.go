package models

import "time"

// Action is the governed outcome of a scoring call
type Action string

const (
	ActionExecute Action = "EXECUTE"
	ActionWait    Action = "WAIT"
	ActionSkip    Action = "SKIP"
)

// ScoreBreakdown holds each weighted component contribution
type ScoreBreakdown struct {
	Absorption float64 `json:"absorption"`
	Sweeps     float64 `json:"sweeps"`
	Memory     float64 `json:"memory"`
	Volume     float64 `json:"volume"`
	Structure  float64 `json:"structure"`
}

// Total sums every component
func (b ScoreBreakdown) Total() float64 {
	return b.Absorption + b.Sweeps + b.Memory + b.Volume + b.Structure
}

// DecisionCounts reports how many signals fed the decision
type DecisionCounts struct {
	AbsorptionZones int `json:"absorption_zones"`
	Sweeps          int `json:"sweeps"`
}

// Decision is emitted once per scoring call and never mutated
type Decision struct {
	Time           time.Time      `json:"time"`
	Price          float64        `json:"price"`
	Action         Action         `json:"action"`
	Confidence     float64        `json:"confidence"`
	Direction      Direction      `json:"direction"`
	ScoreBreakdown ScoreBreakdown `json:"score_breakdown"`
	Reasons        []string       `json:"reasons"`
	PrimaryReason  string         `json:"primary_reason"`
	Counts         DecisionCounts `json:"counts"`
}
