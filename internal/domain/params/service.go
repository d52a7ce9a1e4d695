package params

import (
	"context"
	"fmt"
	"strings"
)

// Service exposes the shared catalog and per-user preferences.
type Service struct {
	catalog *Catalog
	prefs   PreferenceRepository
}

func NewService(catalog *Catalog, prefs PreferenceRepository) *Service {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Service{catalog: catalog, prefs: prefs}
}

// Catalog returns the shared read-only catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

func (s *Service) Definitions() []Definition { return s.catalog.Definitions() }

func (s *Service) DerivedSpecs() []DerivedSpec { return s.catalog.DerivedSpecs() }

func (s *Service) Aliases() map[string]string { return s.catalog.Aliases() }

// Expand returns the dependency closure of the given keys.
func (s *Service) Expand(keys []string) []string { return s.catalog.Expand(keys) }

func (s *Service) Preferences(ctx context.Context, userID string) ([]*Preference, error) {
	return s.prefs.GetByUser(ctx, userID)
}

// PreferenceMap flattens a user's saved preferences for the evaluator
// host.
func (s *Service) PreferenceMap(ctx context.Context, userID string) (map[string]string, error) {
	list, err := s.prefs.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for _, p := range list {
		out[p.Key] = p.Value
	}
	return out, nil
}

func (s *Service) SetPreference(ctx context.Context, userID, key, value string) (*Preference, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("preference key is required")
	}
	pref := &Preference{UserID: userID, Key: key, Value: value}
	if err := s.prefs.Upsert(ctx, pref); err != nil {
		return nil, err
	}
	return pref, nil
}

func (s *Service) DeletePreference(ctx context.Context, userID, key string) error {
	return s.prefs.Delete(ctx, userID, key)
}
