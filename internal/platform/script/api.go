package script

import (
	"fmt"
	"sort"
)

// ============================================================================
// Host surface
// ============================================================================

// Host resolves parameter values, preferences and element accessors for
// executing code. It is the only bridge between a program and the rest of
// the process.
type Host interface {
	// Value returns the stored or computed value for a canonical key,
	// or 0 when the key is unknown. Values are float64 or string.
	Value(key string) interface{}
	// Preference returns a named user preference, or def when unset.
	Preference(key, def string) string
	// Object returns an accessor for a selector string. Implementations
	// should return EmptyObject() rather than nil for unknown selectors.
	Object(selector string) Accessor
}

// Accessor is the element handle returned by getObject. All methods operate
// over the in-memory parameter store; there is no UI behind them.
type Accessor interface {
	Val() interface{}
	Text() string
	Data(key string) interface{}
	Prop(key string) interface{}
	Is(state string) bool
	Find(selector string) Accessor
}

type emptyAccessor struct{}

func (emptyAccessor) Val() interface{} { return float64(0) }

func (emptyAccessor) Text() string { return "" }

func (emptyAccessor) Data(string) interface{} { return nil }

func (emptyAccessor) Prop(string) interface{} { return nil }

func (emptyAccessor) Is(state string) bool { return state == "empty" }

func (emptyAccessor) Find(string) Accessor { return emptyAccessor{} }

// EmptyObject returns an accessor that resolves to nothing. Hosts return it
// for selectors that do not name a parameter, so chained calls stay safe.
func EmptyObject() Accessor { return emptyAccessor{} }

type nopHost struct{}

func (nopHost) Value(string) interface{} { return float64(0) }

func (nopHost) Preference(_, def string) string { return def }

func (nopHost) Object(string) Accessor { return EmptyObject() }

// ============================================================================
// API object
// ============================================================================

// builtinNames are the methods every API carries before any extensions are
// merged in. They share one namespace with extensions so that merge conflict
// rules apply uniformly.
var builtinNames = map[string]bool{
	"getValue":      true,
	"formatNumber":  true,
	"getPreference": true,
	"getObject":     true,
}

// API is the single object injected into dynamic code under the name "api".
// It carries the host bridge plus any merged extension functions.
type API struct {
	host Host
	fns  map[string]Extension
}

// NewAPI builds an API over a host with no extensions merged.
func NewAPI(host Host) *API {
	if host == nil {
		host = nopHost{}
	}
	return &API{host: host, fns: map[string]Extension{}}
}

// Extensions returns the names of merged extension functions in sorted order.
func (a *API) Extensions() []string {
	names := make([]string, 0, len(a.fns))
	for name := range a.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *API) clone() *API {
	fns := make(map[string]Extension, len(a.fns))
	for k, v := range a.fns {
		fns[k] = v
	}
	return &API{host: a.host, fns: fns}
}

// ============================================================================
// Extensions
// ============================================================================

// Extension is a named function callable from dynamic code, either bare or
// through the api object.
type Extension struct {
	Name   string
	Params []string
	Source string
	prog   *Program
}

// MergeOptions controls collision handling when extensions are merged into
// an API.
type MergeOptions struct {
	// AllowOverride lets a custom function replace an existing entry,
	// including the builtin methods. Default keeps the existing entry.
	AllowOverride bool
	// OnConflict is invoked once per name collision regardless of which
	// side wins.
	OnConflict func(name string)
}

// MergeExtensions returns a new API with the custom functions added under
// their declared names. On a name collision the existing entry is kept
// unless opts.AllowOverride is set; opts.OnConflict fires either way. The
// base API is never mutated. Custom names are processed in sorted order so
// conflict callbacks are deterministic.
func MergeExtensions(base *API, custom map[string]Extension, opts MergeOptions) *API {
	merged := base.clone()
	names := make([]string, 0, len(custom))
	for name := range custom {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ext := custom[name]
		_, taken := merged.fns[name]
		if taken || builtinNames[name] {
			if opts.OnConflict != nil {
				opts.OnConflict(name)
			}
			if !opts.AllowOverride {
				continue
			}
		}
		merged.fns[name] = ext
	}
	return merged
}

// CompileExtension parses a function body into a callable extension. The
// body follows the same grammar as dynamic segments; its value is the last
// statement or an explicit return.
func CompileExtension(name string, params []string, body string) (Extension, error) {
	if err := validateSignature(name, params); err != nil {
		return Extension{}, err
	}
	prog, err := compile(body)
	if err != nil {
		return Extension{}, fmt.Errorf("compile function %q: %w", name, err)
	}
	return Extension{Name: name, Params: params, Source: body, prog: prog}, nil
}

func validateSignature(name string, params []string) error {
	if !validIdent(name) {
		return fmt.Errorf("invalid function name %q", name)
	}
	for _, p := range params {
		if !validIdent(p) {
			return fmt.Errorf("invalid parameter name %q in function %q", p, name)
		}
	}
	return nil
}

func validIdent(s string) bool {
	if s == "" || reservedWords[s] {
		return false
	}
	toks, err := tokenize(s)
	if err != nil {
		return false
	}
	return len(toks) == 2 && toks[0].kind == tkIdent && toks[1].kind == tkEOF
}

func mustExtension(name string, params []string, body string) Extension {
	ext, err := CompileExtension(name, params, body)
	if err != nil {
		panic(err)
	}
	return ext
}

// BaseExtensions returns the stock helper functions merged into every
// session API before any user-defined functions.
func BaseExtensions() map[string]Extension {
	return map[string]Extension{
		"abs":   mustExtension("abs", []string{"v"}, "v < 0 ? -v : v"),
		"min":   mustExtension("min", []string{"a", "b"}, "a < b ? a : b"),
		"max":   mustExtension("max", []string{"a", "b"}, "a > b ? a : b"),
		"clamp": mustExtension("clamp", []string{"v", "lo", "hi"}, "v < lo ? lo : (v > hi ? hi : v)"),
	}
}
