package ranges

import (
	"time"

	"github.com/google/uuid"
)

// Severity tiers in decreasing order of restriction. Feasible bounds are
// hard (blocking), critical bounds are firm (confirmable), normal bounds
// are soft (warn only).
const (
	SeverityHard = "hard"
	SeverityFirm = "firm"
	SeveritySoft = "soft"
)

const (
	StatusValid     = "valid"
	StatusViolation = "violation"
)

// Threshold slot names as they appear in stored range specs, check
// results, and audit events.
const (
	ThresholdFeasibleLow  = "Feasible_Low"
	ThresholdCriticalLow  = "Critical_Low"
	ThresholdNormalLow    = "Normal_Low"
	ThresholdNormalHigh   = "Normal_High"
	ThresholdCriticalHigh = "Critical_High"
	ThresholdFeasibleHigh = "Feasible_High"
)

// User actions recorded on validation events.
const (
	ActionAccepted  = "accepted"
	ActionReverted  = "reverted"
	ActionConfirmed = "confirmed"
	ActionContinued = "continued"
)

// ReferenceRange is the stored threshold spec for one canonical parameter
// key. Every slot is optional; a key with no slots set never violates.
type ReferenceRange struct {
	ID           uuid.UUID `json:"id"`
	Key          string    `json:"key"`
	FeasibleLow  *float64  `json:"feasible_low,omitempty"`
	CriticalLow  *float64  `json:"critical_low,omitempty"`
	NormalLow    *float64  `json:"normal_low,omitempty"`
	NormalHigh   *float64  `json:"normal_high,omitempty"`
	CriticalHigh *float64  `json:"critical_high,omitempty"`
	FeasibleHigh *float64  `json:"feasible_high,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CheckResult classifies a single value against a Checker. Severity,
// Threshold, and Message are empty when Status is valid.
type CheckResult struct {
	Status    string `json:"status"`
	Severity  string `json:"severity,omitempty"`
	Threshold string `json:"threshold,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Valid reports whether no threshold was violated.
func (r CheckResult) Valid() bool { return r.Status == StatusValid }

// ValidationEvent is the append-only audit record written for every
// non-valid classification of a value change.
type ValidationEvent struct {
	ID            uuid.UUID `json:"id"`
	SessionID     string    `json:"session_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Key           string    `json:"key"`
	OldValue      float64   `json:"old_value"`
	EnteredValue  float64   `json:"entered_value"`
	AcceptedValue float64   `json:"accepted_value"`
	Severity      string    `json:"severity"`
	Threshold     string    `json:"threshold"`
	Message       string    `json:"message"`
	UserAction    string    `json:"user_action"`
	UserID        string    `json:"user_id,omitempty"`
}
