package params

import (
	"strings"

	"github.com/ehr/tpn/internal/platform/script"
	"github.com/ehr/tpn/pkg/numfmt"
)

// Host adapts one session's Store and preference map to the script
// engine's host interface. Every lookup dynamic code performs resolves
// against the store; nothing reaches outside it.
type Host struct {
	store *Store
	prefs map[string]string
}

// NewHost binds a store and a flattened preference map. Either may be
// nil; a nil store gets a fresh one on the default catalog.
func NewHost(store *Store, prefs map[string]string) *Host {
	if store == nil {
		store = NewStore(nil)
	}
	return &Host{store: store, prefs: prefs}
}

// Store returns the underlying session store.
func (h *Host) Store() *Store { return h.store }

// Value implements script.Host.
func (h *Host) Value(key string) interface{} {
	return h.store.GetValue(key)
}

// Preference implements script.Host.
func (h *Host) Preference(key, def string) string {
	if v, ok := h.prefs[key]; ok {
		return v
	}
	return def
}

// Object implements script.Host.
func (h *Host) Object(selector string) script.Accessor {
	return objectFor(h.store, selector)
}

// objectFor resolves a selector to an accessor. Selectors that look like
// UI-element references (leading marker characters such as '#' or '.')
// resolve to the empty accessor; there is no rendering surface here.
func objectFor(store *Store, selector string) script.Accessor {
	key := strings.TrimSpace(selector)
	if key == "" || !keyLeadByte(key[0]) {
		return script.EmptyObject()
	}
	return &accessor{store: store, key: store.catalog.Canonicalize(key)}
}

func keyLeadByte(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b == '_'
}

// accessor is the element accessor handed to dynamic code for one
// canonical key. Reads are live: each call sees the store's current
// state, so a value entered between two calls changes the result.
type accessor struct {
	store *Store
	key   string
}

// textPrecision bounds the decimals in Text output; trailing zeros are
// stripped, so whole numbers render without a decimal point.
const textPrecision = 2

func (a *accessor) Val() interface{} {
	return a.store.GetValue(a.key)
}

func (a *accessor) Text() string {
	switch v := a.store.GetValue(a.key).(type) {
	case string:
		return v
	case float64:
		return numfmt.Format(v, textPrecision)
	}
	return ""
}

// Data exposes catalog metadata under the attribute names legacy
// templates read.
func (a *accessor) Data(key string) interface{} {
	def, ok := a.store.catalog.Definition(a.key)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "key":
		return a.key
	case "unit":
		if ok {
			return def.Unit
		}
	case "label":
		if ok {
			return def.Label
		}
	case "category":
		if ok {
			return def.Category
		}
	case "type":
		if ok {
			return def.Type
		}
	case "derived":
		return a.store.catalog.IsDerived(a.key)
	}
	return nil
}

// Prop mirrors the form-control properties legacy templates read.
// Derived keys report disabled because they are never directly editable.
func (a *accessor) Prop(key string) interface{} {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "value":
		return a.store.GetValue(a.key)
	case "disabled":
		return a.store.catalog.IsDerived(a.key)
	case "name", "id":
		return a.key
	}
	return nil
}

// Is answers the pseudo-selector states templates test for. A leading
// ':' is accepted so both "empty" and ":empty" work.
func (a *accessor) Is(state string) bool {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(state), ":")) {
	case "empty":
		return !a.store.Has(a.key) && !hasFormula(a.key)
	case "derived", "disabled":
		return a.store.catalog.IsDerived(a.key)
	case "stored", "entered":
		return a.store.Has(a.key)
	}
	return false
}

func (a *accessor) Find(selector string) script.Accessor {
	return objectFor(a.store, selector)
}
