package ranges

import (
	"context"
	"fmt"

	"github.com/ehr/tpn/internal/domain/params"
	"github.com/ehr/tpn/pkg/numfmt"
)

// Service owns reference-range administration and the validation audit
// trail. Range specs are keyed by canonical parameter key; every inbound
// key is canonicalized against the catalog before use.
type Service struct {
	catalog *params.Catalog
	repo    RangeRepository
	events  EventRepository
}

func NewService(catalog *params.Catalog, repo RangeRepository, events EventRepository) *Service {
	if catalog == nil {
		catalog = params.DefaultCatalog()
	}
	return &Service{catalog: catalog, repo: repo, events: events}
}

func (s *Service) UpsertRange(ctx context.Context, rr *ReferenceRange) error {
	key := s.catalog.Canonicalize(rr.Key)
	if key == "" {
		return fmt.Errorf("range key is required")
	}
	if _, ok := s.catalog.Definition(key); !ok {
		return fmt.Errorf("unknown parameter key %q", rr.Key)
	}
	rr.Key = key
	if err := validateOrdering(rr); err != nil {
		return err
	}
	return s.repo.Upsert(ctx, rr)
}

func (s *Service) GetRange(ctx context.Context, key string) (*ReferenceRange, error) {
	return s.repo.GetByKey(ctx, s.catalog.Canonicalize(key))
}

func (s *Service) ListRanges(ctx context.Context) ([]*ReferenceRange, error) {
	return s.repo.List(ctx)
}

func (s *Service) DeleteRange(ctx context.Context, key string) error {
	return s.repo.Delete(ctx, s.catalog.Canonicalize(key))
}

// Snapshot loads every stored range into an immutable checker Set. A
// worksheet session calls this once at open time.
func (s *Service) Snapshot(ctx context.Context) (*Set, error) {
	specs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return NewSet(specs), nil
}

// Check classifies value against the stored range for key. Keys without
// a stored range are always valid.
func (s *Service) Check(ctx context.Context, key string, value float64) (CheckResult, error) {
	rr, err := s.repo.GetByKey(ctx, s.catalog.Canonicalize(key))
	if err == ErrRangeNotFound {
		return CheckResult{Status: StatusValid}, nil
	}
	if err != nil {
		return CheckResult{}, err
	}
	return NewChecker(rr).Check(value), nil
}

// RecordEvent persists one audit event.
func (s *Service) RecordEvent(ctx context.Context, ev *ValidationEvent) error {
	return s.events.Create(ctx, ev)
}

func (s *Service) SearchEvents(ctx context.Context, p map[string]string, limit, offset int) ([]*ValidationEvent, int, error) {
	return s.events.Search(ctx, p, limit, offset)
}

// validateOrdering rejects specs whose thresholds are out of order. The
// slots must be non-decreasing in the sequence Feasible_Low, Critical_Low,
// Normal_Low, Normal_High, Critical_High, Feasible_High; absent slots are
// skipped. A misordered spec would break the tier ordering guarantee, so
// it is refused at write time rather than surfacing mid-session.
func validateOrdering(rr *ReferenceRange) error {
	slots := []struct {
		name  string
		limit *float64
	}{
		{ThresholdFeasibleLow, rr.FeasibleLow},
		{ThresholdCriticalLow, rr.CriticalLow},
		{ThresholdNormalLow, rr.NormalLow},
		{ThresholdNormalHigh, rr.NormalHigh},
		{ThresholdCriticalHigh, rr.CriticalHigh},
		{ThresholdFeasibleHigh, rr.FeasibleHigh},
	}
	prevName := ""
	var prev *float64
	for _, s := range slots {
		if s.limit == nil {
			continue
		}
		if prev != nil && *prev > *s.limit {
			return fmt.Errorf("threshold %s (%s) exceeds %s (%s)",
				prevName, numfmt.Format(*prev, messagePrecision),
				s.name, numfmt.Format(*s.limit, messagePrecision))
		}
		prevName = s.name
		prev = s.limit
	}
	return nil
}
