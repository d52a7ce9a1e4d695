package script

import (
	"fmt"
	"strconv"
)

// ============================================================================
// AST node types
// ============================================================================

type nodeKind int

const (
	ndNumber  nodeKind = iota // literal number
	ndString                  // literal string
	ndBool                    // true / false
	ndNull                    // null
	ndIdent                   // variable reference
	ndUnary                   // value: "-" or "!"
	ndBinary                  // value: operator string
	ndTernary                 // children: cond, then, else
	ndCall                    // children[0]: callee, rest: arguments
	ndMember                  // children[0]: object, value: member name
	ndVar                     // value: name, children: optional initializer
	ndAssign                  // value: name, children: expression
	ndIf                      // children: cond, then, optional else
	ndBlock                   // children: statements
	ndReturn                  // children: optional expression
)

type astNode struct {
	kind     nodeKind
	value    interface{} // literal value, identifier name, or operator string
	children []*astNode
}

var reservedWords = map[string]bool{
	"var":    true,
	"if":     true,
	"else":   true,
	"return": true,
	"true":   true,
	"false":  true,
	"null":   true,
}

// ============================================================================
// Parser — recursive descent with precedence climbing
// ============================================================================

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return token{kind: tkEOF, pos: -1}
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset]
	}
	return token{kind: tkEOF, pos: -1}
}

func (p *parser) advance() token {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.advance()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s, got %q at position %d", kind, t.value, t.pos)
	}
	return t, nil
}

func (p *parser) parseProgram() ([]*astNode, error) {
	var stmts []*astNode
	for p.peek().kind != tkEOF {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// Statements end at an optional semicolon. Newlines are not significant,
// so a binary operator at the start of a line continues the previous
// expression, matching how the source templates were written.
func (p *parser) parseStatement() (*astNode, error) {
	tok := p.peek()

	switch {
	case tok.kind == tkIdent && tok.value == "var":
		return p.parseVar()
	case tok.kind == tkIdent && tok.value == "if":
		return p.parseIf()
	case tok.kind == tkIdent && tok.value == "return":
		return p.parseReturn()
	case tok.kind == tkLBrace:
		return p.parseBlock()
	case tok.kind == tkIdent && !reservedWords[tok.value] && p.peekAt(1).kind == tkAssign:
		p.advance()
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		p.eatSemi()
		return &astNode{kind: ndAssign, value: tok.value, children: []*astNode{expr}}, nil
	default:
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		p.eatSemi()
		return expr, nil
	}
}

func (p *parser) eatSemi() {
	for p.peek().kind == tkSemi {
		p.advance()
	}
}

func (p *parser) parseVar() (*astNode, error) {
	p.advance() // consume 'var'
	name, err := p.expect(tkIdent)
	if err != nil {
		return nil, err
	}
	if reservedWords[name.value] {
		return nil, fmt.Errorf("cannot declare reserved word %q at position %d", name.value, name.pos)
	}
	node := &astNode{kind: ndVar, value: name.value}
	if p.peek().kind == tkAssign {
		p.advance()
		init, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, init)
	}
	p.eatSemi()
	return node, nil
}

func (p *parser) parseIf() (*astNode, error) {
	p.advance() // consume 'if'
	if _, err := p.expect(tkLParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tkRParen); err != nil {
		return nil, err
	}
	then, err := p.parseBranch()
	if err != nil {
		return nil, err
	}
	node := &astNode{kind: ndIf, children: []*astNode{cond, then}}
	if p.peek().kind == tkIdent && p.peek().value == "else" {
		p.advance()
		var els *astNode
		if p.peek().kind == tkIdent && p.peek().value == "if" {
			els, err = p.parseIf()
		} else {
			els, err = p.parseBranch()
		}
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, els)
	}
	return node, nil
}

// parseBranch accepts either a braced block or a single statement.
func (p *parser) parseBranch() (*astNode, error) {
	if p.peek().kind == tkLBrace {
		return p.parseBlock()
	}
	return p.parseStatement()
}

func (p *parser) parseBlock() (*astNode, error) {
	if _, err := p.expect(tkLBrace); err != nil {
		return nil, err
	}
	node := &astNode{kind: ndBlock}
	for p.peek().kind != tkRBrace {
		if p.peek().kind == tkEOF {
			return nil, fmt.Errorf("unclosed block at end of input")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, stmt)
	}
	p.advance() // consume '}'
	return node, nil
}

func (p *parser) parseReturn() (*astNode, error) {
	p.advance() // consume 'return'
	node := &astNode{kind: ndReturn}
	next := p.peek()
	if next.kind != tkSemi && next.kind != tkRBrace && next.kind != tkEOF {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, expr)
	}
	p.eatSemi()
	return node, nil
}

// ============================================================================
// Expressions
// ============================================================================

// Operator precedence (lowest to highest):
//   ?:             (ternary, right associative)
//   ||             (1)
//   &&             (2)
//   == !=          (3)
//   < > <= >=      (4)
//   + -            (5)
//   * / %          (6)
//   unary ! -      (7)
//   . ()           (postfix)

func (p *parser) parseExpression() (*astNode, error) {
	cond, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tkQuestion {
		return cond, nil
	}
	p.advance()
	then, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tkColon); err != nil {
		return nil, err
	}
	els, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &astNode{kind: ndTernary, children: []*astNode{cond, then, els}}, nil
}

func (p *parser) parseBinary(minPrec int) (*astNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		prec, op := infixInfo(tok)
		if prec < minPrec {
			break
		}
		p.advance()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &astNode{kind: ndBinary, value: op, children: []*astNode{left, right}}
	}
	return left, nil
}

func infixInfo(tok token) (int, string) {
	switch tok.kind {
	case tkOr:
		return 1, "||"
	case tkAnd:
		return 2, "&&"
	case tkEq:
		return 3, "=="
	case tkNe:
		return 3, "!="
	case tkLt:
		return 4, "<"
	case tkGt:
		return 4, ">"
	case tkLe:
		return 4, "<="
	case tkGe:
		return 4, ">="
	case tkPlus:
		return 5, "+"
	case tkMinus:
		return 5, "-"
	case tkStar:
		return 6, "*"
	case tkSlash:
		return 6, "/"
	case tkPercent:
		return 6, "%"
	}
	return -1, ""
}

func (p *parser) parseUnary() (*astNode, error) {
	tok := p.peek()
	if tok.kind == tkNot || tok.kind == tkMinus {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := "!"
		if tok.kind == tkMinus {
			op = "-"
		}
		return &astNode{kind: ndUnary, value: op, children: []*astNode{operand}}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (*astNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.kind == tkDot {
			p.advance() // consume '.'
			next := p.peek()
			if next.kind != tkIdent {
				return nil, fmt.Errorf("expected identifier after '.' at position %d", next.pos)
			}
			ident := p.advance()
			member := &astNode{kind: ndMember, value: ident.value, children: []*astNode{node}}
			if p.peek().kind == tkLParen {
				p.advance() // consume '('
				args, err := p.parseArgList()
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(tkRParen); err != nil {
					return nil, err
				}
				node = &astNode{kind: ndCall, children: append([]*astNode{member}, args...)}
			} else {
				node = member
			}
		} else if tok.kind == tkLParen {
			p.advance() // consume '('
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tkRParen); err != nil {
				return nil, err
			}
			node = &astNode{kind: ndCall, children: append([]*astNode{node}, args...)}
		} else {
			break
		}
	}
	return node, nil
}

func (p *parser) parseArgList() ([]*astNode, error) {
	var args []*astNode
	if p.peek().kind == tkRParen {
		return args, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind != tkComma {
			break
		}
		p.advance()
	}
	return args, nil
}

func (p *parser) parsePrimary() (*astNode, error) {
	tok := p.peek()

	switch tok.kind {
	case tkNumber:
		p.advance()
		f, err := strconv.ParseFloat(tok.value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.value, tok.pos)
		}
		return &astNode{kind: ndNumber, value: f}, nil
	case tkString:
		p.advance()
		return &astNode{kind: ndString, value: tok.value}, nil
	case tkIdent:
		p.advance()
		switch tok.value {
		case "true":
			return &astNode{kind: ndBool, value: true}, nil
		case "false":
			return &astNode{kind: ndBool, value: false}, nil
		case "null":
			return &astNode{kind: ndNull}, nil
		}
		if reservedWords[tok.value] {
			return nil, fmt.Errorf("unexpected %q at position %d", tok.value, tok.pos)
		}
		return &astNode{kind: ndIdent, value: tok.value}, nil
	case tkDollar:
		// $('Key') is shorthand for api.getObject('Key').
		p.advance()
		if _, err := p.expect(tkLParen); err != nil {
			return nil, err
		}
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen); err != nil {
			return nil, err
		}
		member := &astNode{
			kind:     ndMember,
			value:    "getObject",
			children: []*astNode{{kind: ndIdent, value: "api"}},
		}
		return &astNode{kind: ndCall, children: []*astNode{member, arg}}, nil
	case tkLParen:
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return nil, fmt.Errorf("unexpected %s at position %d", tok.kind, tok.pos)
}
