package ranges

import (
	"reflect"
	"testing"
)

func fp(v float64) *float64 { return &v }

// fullSpec has every slot filled, ordered low to high.
func fullSpec() *ReferenceRange {
	return &ReferenceRange{
		Key:          "Carbohydrates",
		FeasibleLow:  fp(2),
		CriticalLow:  fp(5),
		NormalLow:    fp(10),
		NormalHigh:   fp(30),
		CriticalHigh: fp(50),
		FeasibleHigh: fp(100),
	}
}

func TestChecker_DocumentedThresholds(t *testing.T) {
	c := NewChecker(&ReferenceRange{
		Key:          "TotalVolume",
		CriticalHigh: fp(800),
		FeasibleHigh: fp(1200),
	})

	tests := []struct {
		value     float64
		status    string
		severity  string
		threshold string
	}{
		{1500, StatusViolation, SeverityHard, ThresholdFeasibleHigh},
		{900, StatusViolation, SeverityFirm, ThresholdCriticalHigh},
		{700, StatusValid, "", ""},
	}
	for _, tt := range tests {
		got := c.Check(tt.value)
		if got.Status != tt.status || got.Severity != tt.severity || got.Threshold != tt.threshold {
			t.Errorf("Check(%v) = %+v, want status=%s severity=%s threshold=%s",
				tt.value, got, tt.status, tt.severity, tt.threshold)
		}
	}
}

func TestChecker_TierWalk(t *testing.T) {
	c := NewChecker(fullSpec())

	tests := []struct {
		value     float64
		severity  string
		threshold string
	}{
		{1, SeverityHard, ThresholdFeasibleLow},
		{3, SeverityFirm, ThresholdCriticalLow},
		{7, SeveritySoft, ThresholdNormalLow},
		{20, "", ""},
		{40, SeveritySoft, ThresholdNormalHigh},
		{60, SeverityFirm, ThresholdCriticalHigh},
		{150, SeverityHard, ThresholdFeasibleHigh},
	}
	for _, tt := range tests {
		got := c.Check(tt.value)
		if got.Severity != tt.severity || got.Threshold != tt.threshold {
			t.Errorf("Check(%v) = severity %q threshold %q, want %q %q",
				tt.value, got.Severity, got.Threshold, tt.severity, tt.threshold)
		}
	}
}

// A value beyond several bounds at once must report the most restrictive
// tier, because feasible bounds are evaluated before critical and normal.
func TestChecker_FirstViolationWins(t *testing.T) {
	c := NewChecker(fullSpec())

	if got := c.Check(150); got.Threshold != ThresholdFeasibleHigh {
		t.Fatalf("Check(150) threshold = %q, want %s", got.Threshold, ThresholdFeasibleHigh)
	}
	if got := c.Check(1); got.Threshold != ThresholdFeasibleLow {
		t.Fatalf("Check(1) threshold = %q, want %s", got.Threshold, ThresholdFeasibleLow)
	}
}

func TestChecker_BoundaryValuesDoNotViolate(t *testing.T) {
	c := NewChecker(fullSpec())

	if got := c.Check(30); !got.Valid() {
		t.Fatalf("Check(30) on the normal bound = %+v, want valid", got)
	}
	// Exactly on the feasible bound clears the hard tier but still
	// violates the critical bound below it.
	if got := c.Check(100); got.Severity != SeverityFirm {
		t.Fatalf("Check(100) severity = %q, want %s", got.Severity, SeverityFirm)
	}
}

func TestChecker_EmptySpecNeverViolates(t *testing.T) {
	for _, c := range []*Checker{NewChecker(nil), NewChecker(&ReferenceRange{Key: "DoseWeightKG"})} {
		for _, v := range []float64{-1e9, -1, 0, 1, 1e9} {
			if got := c.Check(v); !got.Valid() {
				t.Fatalf("Check(%v) = %+v, want valid", v, got)
			}
		}
	}
}

func severityRank(severity string) int {
	switch severity {
	case SeverityHard:
		return 3
	case SeverityFirm:
		return 2
	case SeveritySoft:
		return 1
	}
	return 0
}

// Moving further from the in-range region in either direction must never
// lower the reported severity.
func TestChecker_MonotonicSeverity(t *testing.T) {
	c := NewChecker(fullSpec())

	ascending := []float64{20, 31, 35, 51, 75, 101, 500}
	prev := 0
	for _, v := range ascending {
		rank := severityRank(c.Check(v).Severity)
		if rank < prev {
			t.Fatalf("severity rank dropped to %d at value %v", rank, v)
		}
		prev = rank
	}

	descending := []float64{20, 9, 6, 4, 3, 1.5, -10}
	prev = 0
	for _, v := range descending {
		rank := severityRank(c.Check(v).Severity)
		if rank < prev {
			t.Fatalf("severity rank dropped to %d at value %v", rank, v)
		}
		prev = rank
	}
}

func TestChecker_Messages(t *testing.T) {
	c := NewChecker(&ReferenceRange{
		Key:          "TotalVolume",
		CriticalHigh: fp(800),
		FeasibleHigh: fp(1200),
	})

	if got := c.Check(1500).Message; got != "TotalVolume 1500 is above the feasible limit of 1200" {
		t.Errorf("hard message = %q", got)
	}
	if got := c.Check(900).Message; got != "TotalVolume 900 is above the critical limit of 800" {
		t.Errorf("firm message = %q", got)
	}

	low := NewChecker(&ReferenceRange{Key: "DoseWeightKG", NormalLow: fp(0.5)})
	if got := low.Check(0.25).Message; got != "DoseWeightKG 0.25 is below the normal limit of 0.5" {
		t.Errorf("low message = %q", got)
	}
}

func TestSet_LookupAndKeys(t *testing.T) {
	s := NewSet([]*ReferenceRange{
		{Key: "TotalVolume", CriticalHigh: fp(800)},
		{Key: "DoseWeightKG", NormalLow: fp(0.5)},
		nil,
		{Key: ""},
	})

	if got := s.Check("TotalVolume", 900); got.Severity != SeverityFirm {
		t.Fatalf("Check(TotalVolume, 900) severity = %q, want firm", got.Severity)
	}
	if got := s.Check("Osmolarity", 1e6); !got.Valid() {
		t.Fatalf("unknown key should always be valid, got %+v", got)
	}
	if s.Checker("Osmolarity") != nil {
		t.Fatal("Checker for unknown key should be nil")
	}
	if want := []string{"DoseWeightKG", "TotalVolume"}; !reflect.DeepEqual(s.Keys(), want) {
		t.Fatalf("Keys() = %v, want %v", s.Keys(), want)
	}
}

func TestSet_NilIsValid(t *testing.T) {
	var s *Set
	if got := s.Check("TotalVolume", 1e9); !got.Valid() {
		t.Fatalf("nil set Check = %+v, want valid", got)
	}
	if s.Keys() != nil {
		t.Fatal("nil set Keys should be nil")
	}
}
