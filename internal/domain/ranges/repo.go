package ranges

import (
	"context"
	"errors"
)

var ErrRangeNotFound = errors.New("reference range not found")

// RangeRepository stores the per-key threshold specs. Keys are canonical;
// the service canonicalizes before every call.
type RangeRepository interface {
	Upsert(ctx context.Context, rr *ReferenceRange) error
	GetByKey(ctx context.Context, key string) (*ReferenceRange, error)
	List(ctx context.Context) ([]*ReferenceRange, error)
	Delete(ctx context.Context, key string) error
}

// EventRepository is the durable audit trail of validation events.
type EventRepository interface {
	Create(ctx context.Context, ev *ValidationEvent) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*ValidationEvent, int, error)
}
