// Package script compiles and executes the expression language embedded in
// dynamic documentation segments. Programs run in an isolated scope that
// exposes exactly one injected object, api, backed by a Host, plus any
// extension functions merged into that api. Execution is bounded by a
// wall-clock deadline and a step budget, and every failure is returned as
// an error rather than a panic so one bad segment never takes down a
// render.
package script

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single program execution.
	DefaultTimeout = 5 * time.Second
	// DefaultMaxSteps bounds the number of evaluated nodes per execution.
	DefaultMaxSteps = 100000

	defaultPrecision = 2
	maxCallDepth     = 200
	checkInterval    = 64
)

// Engine compiles and runs programs under fixed execution limits. An Engine
// is safe for concurrent use; all per-run state lives on the call stack.
type Engine struct {
	timeout   time.Duration
	maxSteps  int
	precision int
	cache     *Cache
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout sets the per-execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxSteps sets the per-execution step budget.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithPrecision sets the decimal precision used for rendered output and as
// the formatNumber default.
func WithPrecision(p int) Option {
	return func(e *Engine) {
		if p >= 0 {
			e.precision = p
		}
	}
}

// WithCache attaches a compiled-program cache.
func WithCache(c *Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// New builds an Engine with the given options applied over the defaults.
func New(opts ...Option) *Engine {
	e := &Engine{
		timeout:   DefaultTimeout,
		maxSteps:  DefaultMaxSteps,
		precision: defaultPrecision,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Program is a compiled unit of dynamic code. Programs are immutable and
// may be shared across executions.
type Program struct {
	hash  string
	stmts []*astNode
}

// Hash returns the content hash of the source the program was compiled from.
func (p *Program) Hash() string { return p.hash }

func compile(src string) (*Program, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	pr := &parser{tokens: toks}
	stmts, err := pr.parseProgram()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return &Program{hash: hashSource(src), stmts: stmts}, nil
}

// Compile parses src into a runnable program, consulting the content-hash
// cache when one is attached.
func (e *Engine) Compile(src string) (*Program, error) {
	if e.cache == nil {
		return compile(src)
	}
	key := hashSource(src)
	if p, ok := e.cache.Get(key); ok {
		return p, nil
	}
	p, err := compile(src)
	if err != nil {
		return nil, err
	}
	e.cache.Put(key, p)
	return p, nil
}

// CompileExtension compiles a custom function through the cache. The cache
// key is a content hash of the parameter list and body, so the same function
// merged across many sessions is compiled once.
func (e *Engine) CompileExtension(name string, params []string, body string) (Extension, error) {
	if e.cache == nil {
		return CompileExtension(name, params, body)
	}
	if err := validateSignature(name, params); err != nil {
		return Extension{}, err
	}
	key := hashSource("fn\x00" + strings.Join(params, ",") + "\x00" + body)
	if prog, ok := e.cache.Get(key); ok {
		return Extension{Name: name, Params: params, Source: body, prog: prog}, nil
	}
	prog, err := compile(body)
	if err != nil {
		return Extension{}, fmt.Errorf("compile function %q: %w", name, err)
	}
	e.cache.Put(key, prog)
	return Extension{Name: name, Params: params, Source: body, prog: prog}, nil
}

// Result captures one program execution.
type Result struct {
	Value    interface{}
	Output   string
	Steps    int
	Duration time.Duration
}

// Execute runs a compiled program against an API. The run is bounded by the
// engine timeout and step budget. The program value is the value of the
// last executed statement, or of an explicit return.
func (e *Engine) Execute(ctx context.Context, prog *Program, api *API) (*Result, error) {
	if prog == nil {
		return nil, fmt.Errorf("nil program")
	}
	if api == nil {
		api = NewAPI(nil)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execution cancelled: %w", err)
	}

	globals := newScope(nil)
	globals.vars["api"] = api
	st := &execState{
		ctx:       ctx,
		api:       api,
		globals:   globals,
		maxSteps:  e.maxSteps,
		precision: e.precision,
	}

	start := time.Now()
	sc := newScope(globals)
	var last interface{}
	for _, stmt := range prog.stmts {
		v, err := evalNode(st, sc, stmt)
		if err != nil {
			if ret, ok := err.(errReturn); ok {
				last = ret.val
				break
			}
			return nil, err
		}
		last = v
	}

	return &Result{
		Value:    last,
		Output:   formatValue(last, e.precision),
		Steps:    st.steps,
		Duration: time.Since(start),
	}, nil
}

// Render compiles and executes src in one call and returns the output text.
func (e *Engine) Render(ctx context.Context, src string, api *API) (string, error) {
	prog, err := e.Compile(src)
	if err != nil {
		return "", err
	}
	res, err := e.Execute(ctx, prog, api)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}
