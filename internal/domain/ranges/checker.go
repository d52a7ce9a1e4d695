// Package ranges classifies entered parameter values against three-tier
// clinical reference ranges and drives the accept/confirm/revert state
// machine for value changes. Range specs are immutable configuration once
// a worksheet session has snapshotted them; the audit trail of violations
// is append-only.
package ranges

import (
	"fmt"
	"sort"

	"github.com/ehr/tpn/pkg/numfmt"
)

const messagePrecision = 2

var tierLabels = map[string]string{
	SeverityHard: "feasible",
	SeverityFirm: "critical",
	SeveritySoft: "normal",
}

type bound struct {
	name     string
	severity string
	limit    float64
	high     bool
}

func (b bound) violated(value float64) bool {
	if b.high {
		return value > b.limit
	}
	return value < b.limit
}

func (b bound) message(key string, value float64) string {
	direction := "below"
	if b.high {
		direction = "above"
	}
	return fmt.Sprintf("%s %s is %s the %s limit of %s",
		key, numfmt.Format(value, messagePrecision), direction,
		tierLabels[b.severity], numfmt.Format(b.limit, messagePrecision))
}

// Checker evaluates values against the thresholds of one parameter key.
// Bounds are checked in fixed order, feasible first, then critical, then
// normal, with the low bound before the high bound inside each tier. The
// first violated bound decides the result.
type Checker struct {
	key    string
	bounds []bound
}

// NewChecker builds a Checker from whatever subset of thresholds the spec
// fills in. A nil or empty spec yields a Checker that never violates.
func NewChecker(spec *ReferenceRange) *Checker {
	c := &Checker{}
	if spec == nil {
		return c
	}
	c.key = spec.Key
	c.add(spec.FeasibleLow, ThresholdFeasibleLow, SeverityHard, false)
	c.add(spec.FeasibleHigh, ThresholdFeasibleHigh, SeverityHard, true)
	c.add(spec.CriticalLow, ThresholdCriticalLow, SeverityFirm, false)
	c.add(spec.CriticalHigh, ThresholdCriticalHigh, SeverityFirm, true)
	c.add(spec.NormalLow, ThresholdNormalLow, SeveritySoft, false)
	c.add(spec.NormalHigh, ThresholdNormalHigh, SeveritySoft, true)
	return c
}

func (c *Checker) add(limit *float64, name, severity string, high bool) {
	if limit == nil {
		return
	}
	c.bounds = append(c.bounds, bound{name: name, severity: severity, limit: *limit, high: high})
}

// Key returns the canonical parameter key the Checker was built for.
func (c *Checker) Key() string { return c.key }

// Check classifies value. Values exactly on a bound do not violate it.
func (c *Checker) Check(value float64) CheckResult {
	for _, b := range c.bounds {
		if b.violated(value) {
			return CheckResult{
				Status:    StatusViolation,
				Severity:  b.severity,
				Threshold: b.name,
				Message:   b.message(c.key, value),
			}
		}
	}
	return CheckResult{Status: StatusValid}
}

// Set is an immutable snapshot of checkers keyed by canonical parameter
// key. Worksheet sessions take one at open time so later range edits do
// not change the rules of a session already in progress.
type Set struct {
	checkers map[string]*Checker
}

// NewSet builds a Set from stored range specs. Keys are used verbatim;
// callers canonicalize before lookup.
func NewSet(specs []*ReferenceRange) *Set {
	s := &Set{checkers: make(map[string]*Checker, len(specs))}
	for _, spec := range specs {
		if spec == nil || spec.Key == "" {
			continue
		}
		s.checkers[spec.Key] = NewChecker(spec)
	}
	return s
}

// Checker returns the checker for key, or nil when no spec exists.
func (s *Set) Checker(key string) *Checker {
	if s == nil {
		return nil
	}
	return s.checkers[key]
}

// Check classifies value against the key's checker. Unknown keys are
// always valid.
func (s *Set) Check(key string, value float64) CheckResult {
	c := s.Checker(key)
	if c == nil {
		return CheckResult{Status: StatusValid}
	}
	return c.Check(value)
}

// Keys lists the keys with a configured range, sorted.
func (s *Set) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.checkers))
	for k := range s.checkers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
