package script

import (
	"sort"
	"strings"
)

// ExtractDirect returns the canonical parameter keys a piece of dynamic code
// references explicitly: getValue and getObject calls with a literal string
// argument, legacy $('Key') lookups, and bare occurrences of derived-value
// identifiers. Selector arguments that begin with a non-alphanumeric marker
// target UI elements rather than parameters and are excluded. Code that does
// not tokenize yields no keys.
//
// isDerived reports whether a canonical key names a derived value; canon maps
// aliases and case variants to the canonical spelling. Results are sorted and
// deduplicated.
func ExtractDirect(code string, isDerived func(string) bool, canon func(string) string) []string {
	toks, err := tokenize(code)
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var keys []string
	add := func(raw string, selector bool) {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return
		}
		if selector && !isAlnum(trimmed[0]) {
			return
		}
		key := canon(trimmed)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		keys = append(keys, key)
	}

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.kind == tkDollar:
			if i+3 < len(toks) && toks[i+1].kind == tkLParen && toks[i+2].kind == tkString && toks[i+3].kind == tkRParen {
				add(toks[i+2].value, true)
				i += 3
			}
		case t.kind == tkIdent && (t.value == "getValue" || t.value == "getObject"):
			if i+3 < len(toks) && toks[i+1].kind == tkLParen && toks[i+2].kind == tkString && toks[i+3].kind == tkRParen {
				add(toks[i+2].value, t.value == "getObject")
				i += 3
			}
		case t.kind == tkIdent && !reservedWords[t.value]:
			// A bare identifier counts only when it names a derived value
			// and is neither a call nor a member access.
			if i+1 < len(toks) && toks[i+1].kind == tkLParen {
				continue
			}
			if i > 0 && toks[i-1].kind == tkDot {
				continue
			}
			key := canon(t.value)
			if isDerived(key) && !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}

	sort.Strings(keys)
	return keys
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
