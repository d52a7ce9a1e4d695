package script

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ehr/tpn/pkg/numfmt"
)

// ============================================================================
// Scopes
// ============================================================================

type scope struct {
	vars   map[string]interface{}
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: map[string]interface{}{}, parent: parent}
}

func (s *scope) lookup(name string) (interface{}, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// assign writes to the scope that declared name. Undeclared names are
// created in the current scope because legacy code assigns without var.
func (s *scope) assign(name string, v interface{}) {
	for sc := s; sc != nil; sc = sc.parent {
		if _, ok := sc.vars[name]; ok {
			sc.vars[name] = v
			return
		}
	}
	s.vars[name] = v
}

// ============================================================================
// Execution state
// ============================================================================

type execState struct {
	ctx       context.Context
	api       *API
	globals   *scope
	maxSteps  int
	precision int
	steps     int
	depth     int
}

// step enforces the budget and periodically polls the deadline. Every node
// evaluation counts one step.
func (st *execState) step() error {
	st.steps++
	if st.steps > st.maxSteps {
		return fmt.Errorf("execution exceeded %d steps", st.maxSteps)
	}
	if st.steps%checkInterval == 0 {
		if err := st.ctx.Err(); err != nil {
			return fmt.Errorf("execution cancelled: %w", err)
		}
	}
	return nil
}

// errReturn carries a return value up to the nearest function or program
// boundary. It is control flow, never surfaced to callers.
type errReturn struct{ val interface{} }

func (errReturn) Error() string { return "return outside function" }

// ============================================================================
// Evaluation
// ============================================================================

func evalNode(st *execState, sc *scope, n *astNode) (interface{}, error) {
	if err := st.step(); err != nil {
		return nil, err
	}

	switch n.kind {
	case ndNumber, ndString, ndBool:
		return n.value, nil
	case ndNull:
		return nil, nil
	case ndIdent:
		name := n.value.(string)
		if v, ok := sc.lookup(name); ok {
			return v, nil
		}
		return nil, fmt.Errorf("undefined identifier %q", name)
	case ndUnary:
		v, err := evalNode(st, sc, n.children[0])
		if err != nil {
			return nil, err
		}
		if n.value == "!" {
			return !truthy(v), nil
		}
		f, err := toNumber(v)
		if err != nil {
			return nil, err
		}
		return -f, nil
	case ndBinary:
		return evalBinary(st, sc, n)
	case ndTernary:
		cond, err := evalNode(st, sc, n.children[0])
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return evalNode(st, sc, n.children[1])
		}
		return evalNode(st, sc, n.children[2])
	case ndCall:
		return evalCall(st, sc, n)
	case ndMember:
		return nil, fmt.Errorf("member %q must be called", n.value)
	case ndVar:
		var v interface{}
		if len(n.children) > 0 {
			var err error
			v, err = evalNode(st, sc, n.children[0])
			if err != nil {
				return nil, err
			}
		}
		sc.vars[n.value.(string)] = v
		return nil, nil
	case ndAssign:
		v, err := evalNode(st, sc, n.children[0])
		if err != nil {
			return nil, err
		}
		sc.assign(n.value.(string), v)
		return v, nil
	case ndIf:
		cond, err := evalNode(st, sc, n.children[0])
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return evalNode(st, sc, n.children[1])
		}
		if len(n.children) > 2 {
			return evalNode(st, sc, n.children[2])
		}
		return nil, nil
	case ndBlock:
		inner := newScope(sc)
		var last interface{}
		for _, stmt := range n.children {
			v, err := evalNode(st, inner, stmt)
			if err != nil {
				return nil, err
			}
			last = v
		}
		return last, nil
	case ndReturn:
		var v interface{}
		if len(n.children) > 0 {
			var err error
			v, err = evalNode(st, sc, n.children[0])
			if err != nil {
				return nil, err
			}
		}
		return nil, errReturn{val: v}
	}
	return nil, fmt.Errorf("unsupported node kind %d", n.kind)
}

func evalBinary(st *execState, sc *scope, n *astNode) (interface{}, error) {
	op := n.value.(string)

	// Logical operators short-circuit.
	if op == "&&" || op == "||" {
		left, err := evalNode(st, sc, n.children[0])
		if err != nil {
			return nil, err
		}
		lt := truthy(left)
		if op == "&&" && !lt {
			return false, nil
		}
		if op == "||" && lt {
			return true, nil
		}
		right, err := evalNode(st, sc, n.children[1])
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := evalNode(st, sc, n.children[0])
	if err != nil {
		return nil, err
	}
	right, err := evalNode(st, sc, n.children[1])
	if err != nil {
		return nil, err
	}

	switch op {
	case "+":
		if ls, ok := left.(string); ok {
			return ls + formatValue(right, st.precision), nil
		}
		if rs, ok := right.(string); ok {
			return formatValue(left, st.precision) + rs, nil
		}
		lf, err := toNumber(left)
		if err != nil {
			return nil, err
		}
		rf, err := toNumber(right)
		if err != nil {
			return nil, err
		}
		return lf + rf, nil
	case "-", "*", "/", "%":
		lf, err := toNumber(left)
		if err != nil {
			return nil, err
		}
		rf, err := toNumber(right)
		if err != nil {
			return nil, err
		}
		switch op {
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return lf / rf, nil
		default:
			if rf == 0 {
				return nil, fmt.Errorf("modulo by zero")
			}
			return math.Mod(lf, rf), nil
		}
	case "==":
		return equalValues(left, right), nil
	case "!=":
		return !equalValues(left, right), nil
	case "<", ">", "<=", ">=":
		return compareValues(op, left, right)
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}

func evalCall(st *execState, sc *scope, n *astNode) (interface{}, error) {
	callee := n.children[0]
	args := make([]interface{}, 0, len(n.children)-1)
	for _, a := range n.children[1:] {
		v, err := evalNode(st, sc, a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	switch callee.kind {
	case ndMember:
		name := callee.value.(string)
		obj, err := evalNode(st, sc, callee.children[0])
		if err != nil {
			return nil, err
		}
		switch target := obj.(type) {
		case *API:
			return callAPI(st, target, name, args)
		case Accessor:
			return callAccessor(target, name, args)
		}
		return nil, fmt.Errorf("cannot call %q on %s", name, typeName(obj))
	case ndIdent:
		name := callee.value.(string)
		if name == "api" {
			return nil, fmt.Errorf("api is not a function")
		}
		// Bare calls resolve through the api, so code written without
		// the api prefix keeps working.
		if _, shadowed := sc.lookup(name); shadowed {
			return nil, fmt.Errorf("%q is not a function", name)
		}
		return callAPI(st, st.api, name, args)
	}
	return nil, fmt.Errorf("expression is not callable")
}

func callAPI(st *execState, api *API, name string, args []interface{}) (interface{}, error) {
	if ext, ok := api.fns[name]; ok {
		return callExtension(st, ext, args)
	}

	switch name {
	case "getValue":
		if len(args) != 1 {
			return nil, fmt.Errorf("getValue expects 1 argument, got %d", len(args))
		}
		key, err := stringArg("getValue", args[0])
		if err != nil {
			return nil, err
		}
		return api.host.Value(key), nil
	case "formatNumber":
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("formatNumber expects 1 or 2 arguments, got %d", len(args))
		}
		v, err := toNumber(args[0])
		if err != nil {
			return nil, err
		}
		prec := st.precision
		if len(args) == 2 {
			pf, err := toNumber(args[1])
			if err != nil {
				return nil, err
			}
			prec = int(pf)
		}
		return numfmt.Format(v, prec), nil
	case "getPreference":
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("getPreference expects 1 or 2 arguments, got %d", len(args))
		}
		key, err := stringArg("getPreference", args[0])
		if err != nil {
			return nil, err
		}
		def := ""
		if len(args) == 2 {
			def = formatValue(args[1], st.precision)
		}
		return api.host.Preference(key, def), nil
	case "getObject":
		if len(args) != 1 {
			return nil, fmt.Errorf("getObject expects 1 argument, got %d", len(args))
		}
		sel, err := stringArg("getObject", args[0])
		if err != nil {
			return nil, err
		}
		obj := api.host.Object(sel)
		if obj == nil {
			obj = EmptyObject()
		}
		return obj, nil
	}
	return nil, fmt.Errorf("unknown function %q", name)
}

func callAccessor(acc Accessor, name string, args []interface{}) (interface{}, error) {
	switch name {
	case "val", "text":
		if len(args) != 0 {
			return nil, fmt.Errorf("%s expects no arguments, got %d", name, len(args))
		}
		if name == "val" {
			return acc.Val(), nil
		}
		return acc.Text(), nil
	case "data", "prop", "is", "find", "closest":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		key, err := stringArg(name, args[0])
		if err != nil {
			return nil, err
		}
		switch name {
		case "data":
			return acc.Data(key), nil
		case "prop":
			return acc.Prop(key), nil
		case "is":
			return acc.Is(key), nil
		default:
			// closest is a legacy alias for find: the parameter namespace
			// is flat, so upward and downward traversal land on the same key.
			found := acc.Find(key)
			if found == nil {
				found = EmptyObject()
			}
			return found, nil
		}
	}
	return nil, fmt.Errorf("unknown accessor method %q", name)
}

func callExtension(st *execState, ext Extension, args []interface{}) (interface{}, error) {
	if ext.prog == nil {
		return nil, fmt.Errorf("function %q is not compiled", ext.Name)
	}
	if len(args) != len(ext.Params) {
		return nil, fmt.Errorf("function %q expects %d arguments, got %d", ext.Name, len(ext.Params), len(args))
	}

	st.depth++
	defer func() { st.depth-- }()
	if st.depth > maxCallDepth {
		return nil, fmt.Errorf("call depth exceeded in function %q", ext.Name)
	}
	if err := st.ctx.Err(); err != nil {
		return nil, fmt.Errorf("execution cancelled: %w", err)
	}

	// Extensions see their parameters and the globals, never the caller's
	// locals.
	sc := newScope(st.globals)
	for i, p := range ext.Params {
		sc.vars[p] = args[i]
	}
	var last interface{}
	for _, stmt := range ext.prog.stmts {
		v, err := evalNode(st, sc, stmt)
		if err != nil {
			if ret, ok := err.(errReturn); ok {
				return ret.val, nil
			}
			return nil, err
		}
		last = v
	}
	return last, nil
}

// ============================================================================
// Value helpers
// ============================================================================

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	}
	return true
}

func toNumber(v interface{}) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to a number", t)
		}
		return f, nil
	case Accessor:
		return 0, fmt.Errorf("cannot use an element accessor as a number, call val()")
	}
	return 0, fmt.Errorf("cannot use %s as a number", typeName(v))
}

func equalValues(left, right interface{}) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	switch l := left.(type) {
	case float64:
		if r, err := toNumber(right); err == nil {
			return l == r
		}
		return false
	case string:
		if r, ok := right.(string); ok {
			return l == r
		}
		if lf, err := strconv.ParseFloat(strings.TrimSpace(l), 64); err == nil {
			if r, ok := right.(float64); ok {
				return lf == r
			}
		}
		return false
	case bool:
		if r, ok := right.(bool); ok {
			return l == r
		}
		if r, ok := right.(float64); ok {
			lf, _ := toNumber(l)
			return lf == r
		}
		return false
	}
	return left == right
}

func compareValues(op string, left, right interface{}) (interface{}, error) {
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return applyOrder(op, strings.Compare(ls, rs)), nil
	}
	lf, err := toNumber(left)
	if err != nil {
		return nil, fmt.Errorf("cannot compare %s and %s", typeName(left), typeName(right))
	}
	rf, err := toNumber(right)
	if err != nil {
		return nil, fmt.Errorf("cannot compare %s and %s", typeName(left), typeName(right))
	}
	switch {
	case lf < rf:
		return applyOrder(op, -1), nil
	case lf > rf:
		return applyOrder(op, 1), nil
	default:
		return applyOrder(op, 0), nil
	}
}

func applyOrder(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case ">":
		return cmp > 0
	case "<=":
		return cmp <= 0
	default:
		return cmp >= 0
	}
}

func stringArg(fn string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s expects a string argument, got %s", fn, typeName(v))
	}
	return s, nil
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "a boolean"
	case float64:
		return "a number"
	case string:
		return "a string"
	case Accessor:
		return "an element accessor"
	case *API:
		return "the api object"
	}
	return fmt.Sprintf("%T", v)
}

// formatValue renders a program value as output text. Numbers go through
// the shared precision formatting so rendered output matches formatNumber.
func formatValue(v interface{}, precision int) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return numfmt.Format(t, precision)
	case bool:
		return strconv.FormatBool(t)
	case Accessor:
		return t.Text()
	}
	return fmt.Sprintf("%v", v)
}
