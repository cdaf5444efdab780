package models

import "time"

// SignalState is a lifecycle state
type SignalState string

const (
	SignalDormant     SignalState = "DORMANT"
	SignalArmed       SignalState = "ARMED"
	SignalConfirmed   SignalState = "CONFIRMED"
	SignalActive      SignalState = "ACTIVE"
	SignalCompleted   SignalState = "COMPLETED"
	SignalInvalidated SignalState = "INVALIDATED"
)

// Terminal reports whether the state ends a signal
func (s SignalState) Terminal() bool {
	return s == SignalCompleted || s == SignalInvalidated
}

// Live reports whether the state occupies the single active slot
func (s SignalState) Live() bool {
	return s == SignalConfirmed || s == SignalActive
}

// SignalRecord tracks one filtered decision from creation to termination
type SignalRecord struct {
	ID                string      `json:"id"`
	State             SignalState `json:"state"`
	Action            Action      `json:"action"`
	Edge              Direction   `json:"edge"`
	EntryPrice        float64     `json:"entry_price"`
	EntryTime         time.Time   `json:"entry_time"`
	Session           Session     `json:"session"`
	BarsAlive         int         `json:"bars_alive"`
	CurrentPrice      float64     `json:"current_price"`
	CurrentConfidence float64     `json:"current_confidence"`
	InvalidatedAt     *time.Time  `json:"invalidated_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	ExitPrice         *float64    `json:"exit_price,omitempty"`
	Reason            string      `json:"reason,omitempty"`
}
