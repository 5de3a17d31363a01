package behavior

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator resolves property expressions against a blackboard.
type Evaluator interface {
	// Eval runs src against scopes layered left to right, later scopes
	// shadowing earlier ones.
	Eval(src string, scopes ...*Blackboard) (any, error)
}

// DefaultProgramCacheSize bounds the number of compiled programs an
// evaluator keeps.
const DefaultProgramCacheSize = 256

// programCache is a thread-safe LRU cache of compiled programs keyed by
// source text.
type programCache[P any] struct {
	mu        sync.Mutex
	cache     map[string]*list.Element
	lru       *list.List
	maxSize   int
	hitCount  int64
	missCount int64
}

type cacheEntry[P any] struct {
	src     string
	program P
}

func newProgramCache[P any](maxSize int) *programCache[P] {
	if maxSize < 1 {
		maxSize = DefaultProgramCacheSize
	}
	return &programCache[P]{
		cache:   make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

func (c *programCache[P]) get(src string) (P, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.cache[src]
	if !ok {
		c.missCount++
		var zero P
		return zero, false
	}
	c.hitCount++
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry[P]).program, true
}

func (c *programCache[P]) put(src string, program P) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[src]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry[P]).program = program
		return
	}
	c.cache[src] = c.lru.PushFront(&cacheEntry[P]{src: src, program: program})
	for c.lru.Len() > c.maxSize {
		back := c.lru.Back()
		delete(c.cache, back.Value.(*cacheEntry[P]).src)
		c.lru.Remove(back)
	}
}

func (c *programCache[P]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// stats returns size, hits and misses.
func (c *programCache[P]) stats() (int, int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len(), c.hitCount, c.missCount
}

// ExprEvaluator evaluates expr-lang expressions. Blackboard keys are exposed
// as variables; unknown identifiers evaluate to nil.
type ExprEvaluator struct {
	cache *programCache[*vm.Program]
}

// NewExprEvaluator returns an evaluator caching up to cacheSize compiled
// programs. cacheSize < 1 selects DefaultProgramCacheSize.
func NewExprEvaluator(cacheSize int) *ExprEvaluator {
	return &ExprEvaluator{cache: newProgramCache[*vm.Program](cacheSize)}
}

// Eval implements Evaluator.
func (e *ExprEvaluator) Eval(src string, scopes ...*Blackboard) (any, error) {
	program, ok := e.cache.get(src)
	if !ok {
		var err error
		program, err = expr.Compile(src, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", src, err)
		}
		e.cache.put(src, program)
	}
	out, err := expr.Run(program, merge(scopes...))
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", src, err)
	}
	return out, nil
}

// String returns cache statistics.
func (e *ExprEvaluator) String() string {
	size, hits, misses := e.cache.stats()
	return fmt.Sprintf("ExprEvaluator{size=%d, hits=%d, misses=%d}", size, hits, misses)
}

// JSEvaluator evaluates JavaScript expressions with goja. Blackboard keys are
// exposed as globals, and the innermost scope as the global "blackboard".
// A single runtime is shared, so calls are serialized.
type JSEvaluator struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	cache   *programCache[*goja.Program]
	globals map[string]struct{}
}

// NewJSEvaluator returns an evaluator caching up to cacheSize compiled
// programs.
func NewJSEvaluator(cacheSize int) *JSEvaluator {
	return &JSEvaluator{
		vm:      goja.New(),
		cache:   newProgramCache[*goja.Program](cacheSize),
		globals: make(map[string]struct{}),
	}
}

// Eval implements Evaluator.
func (e *JSEvaluator) Eval(src string, scopes ...*Blackboard) (any, error) {
	program, ok := e.cache.get(src)
	if !ok {
		var err error
		program, err = goja.Compile("prop", src, true)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", src, err)
		}
		e.cache.put(src, program)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vars := merge(scopes...)
	global := e.vm.GlobalObject()
	for k := range e.globals {
		if _, ok := vars[k]; !ok {
			_ = global.Delete(k)
			delete(e.globals, k)
		}
	}
	for k, v := range vars {
		if err := e.vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("bind %q: %w", k, err)
		}
		e.globals[k] = struct{}{}
	}
	env := innermost(scopes)
	if err := e.vm.Set("blackboard", env.ExposeToJS(e.vm)); err != nil {
		return nil, err
	}

	v, err := e.vm.RunProgram(program)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", src, err)
	}
	return v.Export(), nil
}

// NewEvaluator returns the evaluator for mode: "js" selects JavaScript,
// anything else expr-lang.
func NewEvaluator(mode string) Evaluator {
	if mode == "js" {
		return NewJSEvaluator(0)
	}
	return NewExprEvaluator(0)
}

func innermost(scopes []*Blackboard) *Blackboard {
	for i := len(scopes) - 1; i >= 0; i-- {
		if scopes[i] != nil {
			return scopes[i]
		}
	}
	return new(Blackboard)
}
