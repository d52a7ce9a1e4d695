package params

// formulaFunc computes one derived value from the current store contents.
// Formulas read their inputs through GetNumber/GetString, so nested
// derived lookups recompute recursively; the dependency table is acyclic,
// so recursion terminates.
type formulaFunc func(s *Store) float64

// Division guards return 0 rather than propagating infinities into
// downstream formulas and rendered notes.
//
// Assigned in init rather than in the declaration: the closures reach
// formulas again through Store.GetValue, which the compiler rejects as an
// initialization cycle if the map literal initializes the variable.
var formulas map[string]formulaFunc

func init() {
	formulas = map[string]formulaFunc{
		"TotalVolume": func(s *Store) float64 {
			return s.GetNumber("VolumePerKG") * s.GetNumber("DoseWeightKG")
		},

		"LipidVolTotal": func(s *Store) float64 {
			conc := s.GetNumber("FatConcentration")
			if conc == 0 {
				return 0
			}
			return s.GetNumber("FatGPerKgPerDay") * s.GetNumber("DoseWeightKG") / conc
		},

		"NonLipidVolTotal": func(s *Store) float64 {
			return s.GetNumber("TotalVolume") - s.GetNumber("LipidVolTotal")
		},

		// In 2-in-1 mode the dextrose dissolves in the non-lipid volume only.
		"DexPercent": func(s *Store) float64 {
			numerator := 100 * s.GetNumber("Carbohydrates") * s.GetNumber("DoseWeightKG")
			denom := s.GetNumber("TotalVolume")
			if s.GetString("AdmixtureMode") == ModeTwoInOne {
				denom = s.GetNumber("NonLipidVolTotal")
			}
			if denom == 0 {
				return 0
			}
			return numerator / denom
		},

		"AminoAcidPercent": func(s *Store) float64 {
			total := s.GetNumber("TotalVolume")
			if total == 0 {
				return 0
			}
			return 100 * s.GetNumber("ProteinGPerKgPerDay") * s.GetNumber("DoseWeightKG") / total
		},

		// Simplified estimate from the dextrose and amino acid terms. Not a
		// clinically validated osmolarity calculation.
		"Osmolarity": func(s *Store) float64 {
			return s.GetNumber("DexPercent")*50 + s.GetNumber("AminoAcidPercent")*100
		},
	}
}

// hasFormula reports whether the canonical key names a computed value.
func hasFormula(key string) bool {
	_, ok := formulas[key]
	return ok
}
