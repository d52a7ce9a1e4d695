package ranges

import (
	"time"

	"github.com/google/uuid"
)

// ConfirmFunc answers a firm violation. Returning true accepts the
// entered value; false keeps the previous one. The presentation layer
// supplies it synchronously.
type ConfirmFunc func(CheckResult) bool

// Decision is the outcome of routing one value change through a Checker.
// Accepted is the value the store should hold afterwards, Warning the
// warning flag the key should carry, and Event the audit record to
// append (nil when the change was valid).
type Decision struct {
	Result   CheckResult
	Accepted float64
	Reverted bool
	Warning  bool
	Action   string
	Event    *ValidationEvent
}

// ApplyChange runs the interactive state machine for a value change on
// key. warned is the key's current warning flag; c may be nil when the
// key has no configured range. Severity handling:
//
//	hard: revert to old and clear the warning flag.
//	firm: consult decide; confirmed accepts entered and sets the warning
//	      flag, declined (or a nil decide) reverts and leaves it as is.
//	soft: accept entered and set the warning flag.
//	valid: accept entered and clear the warning flag.
func ApplyChange(key string, old, entered float64, warned bool, c *Checker, decide ConfirmFunc) Decision {
	return applyChange(key, old, entered, warned, c, decide, false)
}

// ApplyUnattended is the batch path used when no presentation layer is
// available, such as loading a named test case. It behaves like
// ApplyChange except that a firm violation accepts the entered value
// with user action "continued".
func ApplyUnattended(key string, old, entered float64, warned bool, c *Checker) Decision {
	return applyChange(key, old, entered, warned, c, nil, true)
}

func applyChange(key string, old, entered float64, warned bool, c *Checker, decide ConfirmFunc, unattended bool) Decision {
	result := CheckResult{Status: StatusValid}
	if c != nil {
		result = c.Check(entered)
	}
	d := Decision{Result: result, Accepted: entered}

	switch result.Severity {
	case SeverityHard:
		d.Accepted = old
		d.Reverted = true
		d.Action = ActionReverted
	case SeverityFirm:
		if unattended {
			d.Warning = true
			d.Action = ActionContinued
		} else if decide != nil && decide(result) {
			d.Warning = true
			d.Action = ActionConfirmed
		} else {
			d.Accepted = old
			d.Reverted = true
			d.Warning = warned
			d.Action = ActionReverted
		}
	case SeveritySoft:
		d.Warning = true
		d.Action = ActionAccepted
	default:
		return d
	}

	d.Event = &ValidationEvent{
		ID:            uuid.New(),
		Timestamp:     time.Now().UTC(),
		Key:           key,
		OldValue:      old,
		EnteredValue:  entered,
		AcceptedValue: d.Accepted,
		Severity:      result.Severity,
		Threshold:     result.Threshold,
		Message:       result.Message,
		UserAction:    d.Action,
	}
	return d
}
