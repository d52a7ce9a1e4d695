// Package params implements the clinical parameter model behind TPN
// worksheets: the catalog of definitions, legacy aliases and derived-value
// dependencies, per-session value stores with formula evaluation, and
// per-user preferences.
package params

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Catalog holds the immutable parameter model. It is loaded once at
// startup and shared read-only across sessions; all mutation happens in
// per-session Stores.
type Catalog struct {
	defs    map[string]Definition
	lower   map[string]string   // lowercase key -> canonical key
	aliases map[string]string   // lowercase alias -> canonical key
	derived map[string][]string // derived key -> prerequisite keys
	order   []string
}

// NewCatalog validates definitions, aliases and the derived dependency
// table. A cyclic dependency table is a configuration error and fails
// here, never at evaluation time.
func NewCatalog(defs []Definition, aliases map[string]string, derived []DerivedSpec) (*Catalog, error) {
	c := &Catalog{
		defs:    make(map[string]Definition, len(defs)),
		lower:   make(map[string]string, len(defs)),
		aliases: make(map[string]string, len(aliases)),
		derived: make(map[string][]string, len(derived)),
	}

	for _, d := range defs {
		key := strings.TrimSpace(d.Key)
		if key == "" {
			return nil, fmt.Errorf("catalog: definition with empty key")
		}
		if _, dup := c.defs[key]; dup {
			return nil, fmt.Errorf("catalog: duplicate definition %q", key)
		}
		if d.Type != TypeNumber && d.Type != TypeString {
			return nil, fmt.Errorf("catalog: definition %q has invalid type %q", key, d.Type)
		}
		d.Key = key
		c.defs[key] = d
		c.lower[strings.ToLower(key)] = key
		c.order = append(c.order, key)
	}

	for alias, target := range aliases {
		a := strings.ToLower(strings.TrimSpace(alias))
		if a == "" {
			return nil, fmt.Errorf("catalog: empty alias for %q", target)
		}
		if _, ok := c.defs[target]; !ok {
			return nil, fmt.Errorf("catalog: alias %q targets unknown key %q", alias, target)
		}
		c.aliases[a] = target
	}

	for _, spec := range derived {
		if _, ok := c.defs[spec.Key]; !ok {
			return nil, fmt.Errorf("catalog: derived key %q has no definition", spec.Key)
		}
		if _, dup := c.derived[spec.Key]; dup {
			return nil, fmt.Errorf("catalog: duplicate derived entry %q", spec.Key)
		}
		for _, req := range spec.Requires {
			if _, ok := c.defs[req]; !ok {
				return nil, fmt.Errorf("catalog: derived key %q requires unknown key %q", spec.Key, req)
			}
		}
		c.derived[spec.Key] = append([]string(nil), spec.Requires...)
	}

	if err := c.checkAcyclic(); err != nil {
		return nil, err
	}
	return c, nil
}

// checkAcyclic rejects dependency cycles. Runtime expansion and formula
// evaluation both assume an acyclic table and never re-check.
func (c *Catalog) checkAcyclic() error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(c.derived))

	var visit func(key string, trail []string) error
	visit = func(key string, trail []string) error {
		switch state[key] {
		case visiting:
			return fmt.Errorf("catalog: dependency cycle through %q (%s)",
				key, strings.Join(append(trail, key), " -> "))
		case done:
			return nil
		}
		state[key] = visiting
		for _, req := range c.derived[key] {
			if err := visit(req, append(trail, key)); err != nil {
				return err
			}
		}
		state[key] = done
		return nil
	}

	keys := make([]string, 0, len(c.derived))
	for key := range c.derived {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := visit(key, nil); err != nil {
			return err
		}
	}
	return nil
}

// Canonicalize maps legacy aliases and case variants to the canonical
// spelling. Unknown keys pass through trimmed, so the store can still
// hold ad-hoc keys a site adds without catalog changes.
func (c *Catalog) Canonicalize(key string) string {
	k := strings.TrimSpace(key)
	if k == "" {
		return ""
	}
	lower := strings.ToLower(k)
	if canon, ok := c.aliases[lower]; ok {
		return canon
	}
	if canon, ok := c.lower[lower]; ok {
		return canon
	}
	return k
}

// IsDerived reports whether key (after canonicalization) names a computed
// value.
func (c *Catalog) IsDerived(key string) bool {
	_, ok := c.derived[c.Canonicalize(key)]
	return ok
}

// Definition returns the definition for key after canonicalization.
func (c *Catalog) Definition(key string) (Definition, bool) {
	d, ok := c.defs[c.Canonicalize(key)]
	return d, ok
}

// Definitions returns all definitions in declaration order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.defs[key])
	}
	return out
}

// DerivedSpecs returns the dependency table in declaration order.
func (c *Catalog) DerivedSpecs() []DerivedSpec {
	out := make([]DerivedSpec, 0, len(c.derived))
	for _, key := range c.order {
		if reqs, ok := c.derived[key]; ok {
			out = append(out, DerivedSpec{Key: key, Requires: append([]string(nil), reqs...)})
		}
	}
	return out
}

// Requires returns the direct prerequisites of a derived key, or nil.
func (c *Catalog) Requires(key string) []string {
	reqs, ok := c.derived[c.Canonicalize(key)]
	if !ok {
		return nil
	}
	return append([]string(nil), reqs...)
}

// Aliases returns the alias table keyed by lowercase alias.
func (c *Catalog) Aliases() map[string]string {
	out := make(map[string]string, len(c.aliases))
	for a, t := range c.aliases {
		out[a] = t
	}
	return out
}

// Expand unions the prerequisites of every derived key in the set until
// fixpoint, returning the sorted dependency closure. The table is acyclic,
// so at most len(derived) passes are needed; there is no runtime cycle
// check.
func (c *Catalog) Expand(keys []string) []string {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		if canon := c.Canonicalize(k); canon != "" {
			set[canon] = true
		}
	}

	for pass := 0; pass <= len(c.derived); pass++ {
		added := false
		for key := range set {
			for _, req := range c.derived[key] {
				if !set[req] {
					set[req] = true
					added = true
				}
			}
		}
		if !added {
			break
		}
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultCatalog returns the built-in TPN parameter model used when no
// catalog file is configured.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultDefinitions, defaultAliases, defaultDerived)
	if err != nil {
		panic(err)
	}
	return c
}

type catalogFile struct {
	Definitions []Definition      `json:"definitions"`
	Aliases     map[string]string `json:"aliases"`
	Derived     []DerivedSpec     `json:"derived"`
}

// LoadCatalog reads a catalog definition file. An empty path returns the
// built-in default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return NewCatalog(f.Definitions, f.Aliases, f.Derived)
}

var defaultDefinitions = []Definition{
	{Key: "DoseWeightKG", Label: "Dosing weight", Unit: "kg", Category: "patient", Type: TypeNumber},
	{Key: "VolumePerKG", Label: "Fluid volume", Unit: "mL/kg/day", Category: "fluids", Type: TypeNumber},
	{Key: "InfusionHours", Label: "Infusion duration", Unit: "h", Category: "prescription", Type: TypeNumber},
	{Key: "AdmixtureMode", Label: "Admixture mode", Category: "prescription", Type: TypeString},
	{Key: "FatGPerKgPerDay", Label: "Fat dose", Unit: "g/kg/day", Category: "macronutrient", Type: TypeNumber},
	{Key: "FatConcentration", Label: "Lipid emulsion concentration", Unit: "g/mL", Category: "macronutrient", Type: TypeNumber},
	{Key: "Carbohydrates", Label: "Carbohydrate dose", Unit: "g/kg/day", Category: "macronutrient", Type: TypeNumber},
	{Key: "ProteinGPerKgPerDay", Label: "Protein dose", Unit: "g/kg/day", Category: "macronutrient", Type: TypeNumber},
	{Key: "TotalVolume", Label: "Total daily volume", Unit: "mL/day", Category: "derived", Type: TypeNumber},
	{Key: "LipidVolTotal", Label: "Lipid volume", Unit: "mL/day", Category: "derived", Type: TypeNumber},
	{Key: "NonLipidVolTotal", Label: "Non-lipid volume", Unit: "mL/day", Category: "derived", Type: TypeNumber},
	{Key: "DexPercent", Label: "Dextrose concentration", Unit: "%", Category: "derived", Type: TypeNumber},
	{Key: "AminoAcidPercent", Label: "Amino acid concentration", Unit: "%", Category: "derived", Type: TypeNumber},
	{Key: "Osmolarity", Label: "Estimated osmolarity", Unit: "mOsm/L", Category: "derived", Type: TypeNumber},
}

// Legacy spellings still found in saved templates and older notes.
var defaultAliases = map[string]string{
	"Fat":        "FatGPerKgPerDay",
	"Carbs":      "Carbohydrates",
	"Protein":    "ProteinGPerKgPerDay",
	"DoseWeight": "DoseWeightKG",
	"DoseWtKG":   "DoseWeightKG",
}

var defaultDerived = []DerivedSpec{
	{Key: "TotalVolume", Requires: []string{"VolumePerKG", "DoseWeightKG"}},
	{Key: "LipidVolTotal", Requires: []string{"FatGPerKgPerDay", "DoseWeightKG", "FatConcentration"}},
	{Key: "NonLipidVolTotal", Requires: []string{"TotalVolume", "LipidVolTotal"}},
	{Key: "DexPercent", Requires: []string{"Carbohydrates", "DoseWeightKG", "TotalVolume", "NonLipidVolTotal", "AdmixtureMode"}},
	{Key: "AminoAcidPercent", Requires: []string{"ProteinGPerKgPerDay", "DoseWeightKG", "TotalVolume"}},
	{Key: "Osmolarity", Requires: []string{"DexPercent", "AminoAcidPercent"}},
}
