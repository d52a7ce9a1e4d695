package script

import (
	"fmt"
	"strings"
	"unicode"
)

// ============================================================================
// Tokens
// ============================================================================

type tokenKind int

const (
	tkIdent tokenKind = iota
	tkNumber
	tkString
	tkDollar // legacy element-accessor shorthand: $('Key')
	tkPlus
	tkMinus
	tkStar
	tkSlash
	tkPercent
	tkEq // ==
	tkNe // !=
	tkLt
	tkGt
	tkLe
	tkGe
	tkAnd // &&
	tkOr  // ||
	tkNot // !
	tkQuestion
	tkColon
	tkAssign // =
	tkLParen
	tkRParen
	tkLBrace
	tkRBrace
	tkComma
	tkSemi
	tkDot
	tkEOF
)

var tokenNames = map[tokenKind]string{
	tkIdent:    "identifier",
	tkNumber:   "number",
	tkString:   "string",
	tkDollar:   "'$'",
	tkPlus:     "'+'",
	tkMinus:    "'-'",
	tkStar:     "'*'",
	tkSlash:    "'/'",
	tkPercent:  "'%'",
	tkEq:       "'=='",
	tkNe:       "'!='",
	tkLt:       "'<'",
	tkGt:       "'>'",
	tkLe:       "'<='",
	tkGe:       "'>='",
	tkAnd:      "'&&'",
	tkOr:       "'||'",
	tkNot:      "'!'",
	tkQuestion: "'?'",
	tkColon:    "':'",
	tkAssign:   "'='",
	tkLParen:   "'('",
	tkRParen:   "')'",
	tkLBrace:   "'{'",
	tkRBrace:   "'}'",
	tkComma:    "','",
	tkSemi:     "';'",
	tkDot:      "'.'",
	tkEOF:      "end of input",
}

func (k tokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(k))
}

type token struct {
	kind  tokenKind
	value string
	pos   int
}

// ============================================================================
// Lexer
// ============================================================================

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(input)

	for i < n {
		ch := input[i]
		start := i

		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '/' && i+1 < n && input[i+1] == '/':
			// Line comment runs to end of line.
			for i < n && input[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < n && input[i+1] == '*':
			j := i + 2
			for j+1 < n && !(input[j] == '*' && input[j+1] == '/') {
				j++
			}
			if j+1 >= n {
				return nil, fmt.Errorf("unterminated comment at position %d", start)
			}
			i = j + 2
		case ch == '$':
			tokens = append(tokens, token{tkDollar, "$", start})
			i++
		case ch == '+':
			tokens = append(tokens, token{tkPlus, "+", start})
			i++
		case ch == '-':
			tokens = append(tokens, token{tkMinus, "-", start})
			i++
		case ch == '*':
			tokens = append(tokens, token{tkStar, "*", start})
			i++
		case ch == '/':
			tokens = append(tokens, token{tkSlash, "/", start})
			i++
		case ch == '%':
			tokens = append(tokens, token{tkPercent, "%", start})
			i++
		case ch == '=':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tkEq, "==", start})
				i += 2
			} else {
				tokens = append(tokens, token{tkAssign, "=", start})
				i++
			}
		case ch == '!':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tkNe, "!=", start})
				i += 2
			} else {
				tokens = append(tokens, token{tkNot, "!", start})
				i++
			}
		case ch == '<':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tkLe, "<=", start})
				i += 2
			} else {
				tokens = append(tokens, token{tkLt, "<", start})
				i++
			}
		case ch == '>':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tkGe, ">=", start})
				i += 2
			} else {
				tokens = append(tokens, token{tkGt, ">", start})
				i++
			}
		case ch == '&':
			if i+1 < n && input[i+1] == '&' {
				tokens = append(tokens, token{tkAnd, "&&", start})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), start)
			}
		case ch == '|':
			if i+1 < n && input[i+1] == '|' {
				tokens = append(tokens, token{tkOr, "||", start})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), start)
			}
		case ch == '?':
			tokens = append(tokens, token{tkQuestion, "?", start})
			i++
		case ch == ':':
			tokens = append(tokens, token{tkColon, ":", start})
			i++
		case ch == '(':
			tokens = append(tokens, token{tkLParen, "(", start})
			i++
		case ch == ')':
			tokens = append(tokens, token{tkRParen, ")", start})
			i++
		case ch == '{':
			tokens = append(tokens, token{tkLBrace, "{", start})
			i++
		case ch == '}':
			tokens = append(tokens, token{tkRBrace, "}", start})
			i++
		case ch == ',':
			tokens = append(tokens, token{tkComma, ",", start})
			i++
		case ch == ';':
			tokens = append(tokens, token{tkSemi, ";", start})
			i++
		case ch == '\'' || ch == '"':
			quote := ch
			j := i + 1
			var sb strings.Builder
			closed := false
			for j < n {
				if input[j] == '\\' && j+1 < n {
					switch input[j+1] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					case 'r':
						sb.WriteByte('\r')
					default:
						sb.WriteByte(input[j+1])
					}
					j += 2
					continue
				}
				if input[j] == quote {
					closed = true
					break
				}
				sb.WriteByte(input[j])
				j++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at position %d", start)
			}
			tokens = append(tokens, token{tkString, sb.String(), start})
			i = j + 1
		case ch >= '0' && ch <= '9':
			j := i
			for j < n && input[j] >= '0' && input[j] <= '9' {
				j++
			}
			if j < n && input[j] == '.' && j+1 < n && input[j+1] >= '0' && input[j+1] <= '9' {
				j++
				for j < n && input[j] >= '0' && input[j] <= '9' {
					j++
				}
			}
			tokens = append(tokens, token{tkNumber, input[i:j], start})
			i = j
		case ch == '.':
			tokens = append(tokens, token{tkDot, ".", start})
			i++
		case ch == '_' || unicode.IsLetter(rune(ch)):
			j := i
			for j < n && (input[j] == '_' || unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j]))) {
				j++
			}
			tokens = append(tokens, token{tkIdent, input[i:j], start})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), start)
		}
	}

	tokens = append(tokens, token{tkEOF, "", n})
	return tokens, nil
}
