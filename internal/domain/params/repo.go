package params

import (
	"context"
	"errors"
)

// ErrPreferenceNotFound is returned when a user has no saved preference
// under the requested key.
var ErrPreferenceNotFound = errors.New("preference not found")

// PreferenceRepository persists per-user preferences.
type PreferenceRepository interface {
	Upsert(ctx context.Context, pref *Preference) error
	GetByUser(ctx context.Context, userID string) ([]*Preference, error)
	Get(ctx context.Context, userID, key string) (*Preference, error)
	Delete(ctx context.Context, userID, key string) error
}
