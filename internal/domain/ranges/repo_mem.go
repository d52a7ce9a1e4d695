package ranges

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =========== In-memory Range Repository ===========

type rangeRepoMem struct {
	mu     sync.RWMutex
	ranges map[string]*ReferenceRange
}

func NewRangeRepoMem() RangeRepository {
	return &rangeRepoMem{ranges: make(map[string]*ReferenceRange)}
}

func copyRange(rr *ReferenceRange) *ReferenceRange {
	cp := *rr
	cp.FeasibleLow = copyBound(rr.FeasibleLow)
	cp.CriticalLow = copyBound(rr.CriticalLow)
	cp.NormalLow = copyBound(rr.NormalLow)
	cp.NormalHigh = copyBound(rr.NormalHigh)
	cp.CriticalHigh = copyBound(rr.CriticalHigh)
	cp.FeasibleHigh = copyBound(rr.FeasibleHigh)
	return &cp
}

func copyBound(v *float64) *float64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func (r *rangeRepoMem) Upsert(ctx context.Context, rr *ReferenceRange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.ranges[rr.Key]; ok {
		rr.ID = existing.ID
		rr.CreatedAt = existing.CreatedAt
	} else {
		rr.ID = uuid.New()
		rr.CreatedAt = now
	}
	rr.UpdatedAt = now
	r.ranges[rr.Key] = copyRange(rr)
	return nil
}

func (r *rangeRepoMem) GetByKey(ctx context.Context, key string) (*ReferenceRange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rr, ok := r.ranges[key]
	if !ok {
		return nil, ErrRangeNotFound
	}
	return copyRange(rr), nil
}

func (r *rangeRepoMem) List(ctx context.Context) ([]*ReferenceRange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ReferenceRange, 0, len(r.ranges))
	for _, rr := range r.ranges {
		out = append(out, copyRange(rr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *rangeRepoMem) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ranges[key]; !ok {
		return ErrRangeNotFound
	}
	delete(r.ranges, key)
	return nil
}

// =========== In-memory Event Repository ===========

type eventRepoMem struct {
	mu     sync.RWMutex
	events []ValidationEvent
}

func NewEventRepoMem() EventRepository {
	return &eventRepoMem{}
}

func (r *eventRepoMem) Create(ctx context.Context, ev *ValidationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	r.events = append(r.events, *ev)
	return nil
}

func (r *eventRepoMem) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*ValidationEvent, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*ValidationEvent
	for i := range r.events {
		ev := r.events[i]
		if !eventMatches(&ev, params) {
			continue
		}
		matched = append(matched, &ev)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func eventMatches(ev *ValidationEvent, params map[string]string) bool {
	for name, value := range params {
		switch name {
		case "session_id":
			if ev.SessionID != value {
				return false
			}
		case "key":
			if ev.Key != value {
				return false
			}
		case "severity":
			if ev.Severity != value {
				return false
			}
		case "user_action":
			if ev.UserAction != value {
				return false
			}
		case "user_id":
			if ev.UserID != value {
				return false
			}
		}
	}
	return true
}
