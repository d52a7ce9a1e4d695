package params

import (
	"sort"
	"strconv"
	"strings"
)

// Store holds the entered parameter values of one editing session. Derived
// values are never stored; every read recomputes them from the current
// entries. A Store belongs to a single session and is not safe for
// concurrent use.
type Store struct {
	catalog *Catalog
	values  map[string]interface{}
}

// NewStore creates an empty store bound to a catalog. A nil catalog uses
// the built-in default.
func NewStore(catalog *Catalog) *Store {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Store{catalog: catalog, values: make(map[string]interface{})}
}

// Catalog returns the catalog this store canonicalizes against.
func (s *Store) Catalog() *Catalog { return s.catalog }

// SetValues merges canonicalized entries into the store. Entries naming
// derived keys are never stored; their canonical names come back in the
// rejected list. A nil value clears the entry.
func (s *Store) SetValues(values map[string]interface{}) []string {
	var rejected []string
	for key, v := range values {
		canon := s.catalog.Canonicalize(key)
		if canon == "" {
			continue
		}
		if s.catalog.IsDerived(canon) {
			rejected = append(rejected, canon)
			continue
		}
		if v == nil {
			delete(s.values, canon)
			continue
		}
		nv, ok := normalizeValue(v)
		if !ok {
			continue
		}
		s.values[canon] = nv
	}
	sort.Strings(rejected)
	return rejected
}

// Set stores a single value. It reports false when the key is derived and
// the value was dropped.
func (s *Store) Set(key string, value interface{}) bool {
	return len(s.SetValues(map[string]interface{}{key: value})) == 0
}

// GetValue canonicalizes the key, returns the stored value if present,
// computes it if a formula exists, and falls back to 0.
func (s *Store) GetValue(key string) interface{} {
	canon := s.catalog.Canonicalize(key)
	if v, ok := s.values[canon]; ok {
		return v
	}
	if f, ok := formulas[canon]; ok {
		return f(s)
	}
	return float64(0)
}

// GetNumber returns the value as a float64, parsing numeric strings and
// treating everything else as 0.
func (s *Store) GetNumber(key string) float64 {
	switch v := s.GetValue(key).(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// GetString returns string-typed values such as AdmixtureMode; any other
// type yields "".
func (s *Store) GetString(key string) string {
	if v, ok := s.GetValue(key).(string); ok {
		return v
	}
	return ""
}

// Has reports whether a value was explicitly entered for key. Derived
// keys are computed, never entered, so Has is always false for them.
func (s *Store) Has(key string) bool {
	_, ok := s.values[s.catalog.Canonicalize(key)]
	return ok
}

// Delete removes an entered value.
func (s *Store) Delete(key string) {
	delete(s.values, s.catalog.Canonicalize(key))
}

// Clear removes all entered values.
func (s *Store) Clear() {
	s.values = make(map[string]interface{})
}

// Values returns a copy of the entered values keyed by canonical key.
func (s *Store) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Normalize coerces a JSON-decoded or caller-supplied value to the two
// stored representations, float64 and string. It reports false for
// unsupported types. Callers that route numeric changes through range
// validation use this before deciding which path a value takes.
func Normalize(v interface{}) (interface{}, bool) {
	return normalizeValue(v)
}

// normalizeValue coerces JSON-decoded and caller-supplied values to the
// two stored representations, float64 and string.
func normalizeValue(v interface{}) (interface{}, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		return n, true
	case bool:
		if n {
			return float64(1), true
		}
		return float64(0), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	}
	return nil, false
}
