package gc

import (
	"errors"
	"math"

	"github.com/andypeng2015/esgc/internal/gclayout"
	"github.com/andypeng2015/esgc/internal/ilist"
)

// Runtime is a script runtime attached to a heap. It keeps its global
// object alive; its caches refer to objects weakly.
type Runtime struct {
	name   string
	heap   *Heap
	node   *ilist.Node[*Runtime]
	global Ref

	formatCache map[string]*Weak
	evalCache   map[string]*Weak
}

// NewRuntime attaches a new runtime to h.
func (h *Heap) NewRuntime(name string) *Runtime {
	rt := &Runtime{
		name:        name,
		heap:        h,
		formatCache: make(map[string]*Weak),
		evalCache:   make(map[string]*Weak),
	}
	rt.node = h.runtimes.Push(rt)
	return rt
}

// Runtimes returns the number of attached runtimes.
func (h *Heap) Runtimes() int { return h.runtimes.Len() }

func (rt *Runtime) Name() string { return rt.name }

// Heap returns the heap the runtime is attached to, or nil after Detach.
func (rt *Runtime) Heap() *Heap { return rt.heap }

// Global returns the global object, or 0 before NewGlobal.
func (rt *Runtime) Global() Ref { return rt.global }

// Prototype returns well-known prototype i of the global object.
func (rt *Runtime) Prototype(i int) Ref {
	if rt.global == 0 {
		return 0
	}
	return rt.heap.ValueAt(rt.global, gclayout.WordPrototypes+i).Ref()
}

// GCTrace marks the global object. The caches are not traced.
func (rt *Runtime) GCTrace(t *Tracer) {
	t.Mark(rt.global)
}

// Detach removes the runtime from its heap. The global object is no longer
// a root afterwards.
func (rt *Runtime) Detach() {
	h := rt.heap
	if h == nil {
		return
	}
	h.runtimes.Remove(rt.node)
	for _, cache := range []map[string]*Weak{rt.formatCache, rt.evalCache} {
		for key, w := range cache {
			w.Release()
			delete(cache, key)
		}
	}
	rt.heap = nil
	rt.global = 0
	h.checkEligible()
}

func (rt *Runtime) cachePut(cache map[string]*Weak, key string, r Ref) {
	if old := cache[key]; old != nil {
		old.Release()
	}
	cache[key] = rt.heap.NewWeak(r)
}

func (rt *Runtime) cacheGet(cache map[string]*Weak, key string) Ref {
	w := cache[key]
	if w == nil {
		return 0
	}
	r := w.Get()
	if r == 0 {
		w.Release()
		delete(cache, key)
	}
	return r
}

// CacheFormat remembers a compiled format string without keeping it
// alive.
func (rt *Runtime) CacheFormat(key string, r Ref) { rt.cachePut(rt.formatCache, key, r) }

// Format returns a cached format string, or 0 if it was never cached or has
// been collected.
func (rt *Runtime) Format(key string) Ref { return rt.cacheGet(rt.formatCache, key) }

// CacheEval remembers the code compiled for an eval source.
func (rt *Runtime) CacheEval(source string, code Ref) { rt.cachePut(rt.evalCache, source, code) }

// Eval returns the cached code for an eval source, or 0.
func (rt *Runtime) Eval(source string) Ref { return rt.cacheGet(rt.evalCache, source) }

// Context is an execution context: the requester of allocations. Its
// register stack is a root while the context is open.
//
// Allocation failures abort the current operation: the Context methods that
// allocate panic with an *AbortError, which Run recovers.
type Context struct {
	heap *Heap
	rt   *Runtime
	node *ilist.Node[*Context]
	root *RootHandle

	regs   []Value
	scopes []int

	allocated uint64
}

// NewContext opens a context on h for rt, which may be nil.
func (h *Heap) NewContext(rt *Runtime) *Context {
	if h.destroyed {
		gcPanic("context on a destroyed heap")
	}
	c := &Context{heap: h, rt: rt}
	c.node = h.contexts.Push(c)
	c.root = h.roots.Add(c)
	h.touch()
	if h.mgr != nil && h.contexts.Len() == 1 {
		h.mgr.MoveHeapToActiveList(h)
	}
	return c
}

// Heap returns the heap the context allocates from.
func (c *Context) Heap() *Heap { return c.heap }

// Runtime returns the runtime the context runs for.
func (c *Context) Runtime() *Runtime { return c.rt }

// Allocated returns the bytes allocated through this context.
func (c *Context) Allocated() uint64 { return c.allocated }

// Close closes the context. When the last context of a heap closes the
// heap becomes inactive.
func (c *Context) Close() {
	h := c.heap
	if h == nil {
		return
	}
	c.root.Remove()
	h.contexts.Remove(c.node)
	c.heap = nil
	c.regs, c.scopes = nil, nil
	h.touch()
	if h.mgr != nil && h.contexts.Empty() {
		h.mgr.MoveHeapToInactiveList(h)
		h.mgr.StartMaintenanceGC()
	}
	h.checkEligible()
}

// GCTrace marks the register stack.
func (c *Context) GCTrace(t *Tracer) {
	for _, v := range c.regs {
		t.PushValue(v)
	}
}

// Push appends v to the register stack and returns its index.
func (c *Context) Push(v Value) int {
	c.regs = append(c.regs, v)
	return len(c.regs) - 1
}

// Register returns register i.
func (c *Context) Register(i int) Value { return c.regs[i] }

// SetRegister overwrites register i.
func (c *Context) SetRegister(i int, v Value) { c.regs[i] = v }

// Registers returns the depth of the register stack.
func (c *Context) Registers() int { return len(c.regs) }

// OpenScope starts a handle scope. CloseScope drops every register pushed
// since.
func (c *Context) OpenScope() {
	c.scopes = append(c.scopes, len(c.regs))
}

// CloseScope ends the innermost handle scope.
func (c *Context) CloseScope() {
	n := len(c.scopes)
	if n == 0 {
		gcPanic("closing a handle scope that is not open")
	}
	c.drop(c.scopes[n-1])
	c.scopes = c.scopes[:n-1]
}

// hold pushes values that must survive the allocations of the caller and
// returns the depth to drop back to.
func (c *Context) hold(vs ...Value) int {
	n := len(c.regs)
	c.regs = append(c.regs, vs...)
	return n
}

func (c *Context) drop(n int) {
	clear(c.regs[n:])
	c.regs = c.regs[:n]
}

// Abort unwinds the current operation with err. It must be called from
// inside Run.
func (c *Context) Abort(err error) {
	panic(&AbortError{Err: err})
}

// Run calls fn and returns the error it aborted with, if any. Registers and
// scopes opened by fn are dropped when it aborts.
func (c *Context) Run(fn func(c *Context)) (err error) {
	regs, scopes := len(c.regs), len(c.scopes)
	defer func() {
		if r := recover(); r != nil {
			abort, ok := r.(*AbortError)
			if !ok {
				panic(r)
			}
			if len(c.regs) > regs {
				c.drop(regs)
			}
			if len(c.scopes) > scopes {
				c.scopes = c.scopes[:scopes]
			}
			err = abort.Err
		}
	}()
	fn(c)
	return nil
}

// Retry runs fn, and if it aborted because memory ran out, forces a
// collection and runs it once more.
func (c *Context) Retry(fn func(c *Context)) error {
	err := c.Run(fn)
	if errors.Is(err, ErrOutOfMemory) {
		c.heap.ForceCollect(ReasonOOM)
		err = c.Run(fn)
	}
	return err
}

// maxObjectWords is the largest payload whose size fits the header.
const maxObjectWords = (math.MaxUint32&^(gclayout.Align-1) - gclayout.HeaderSize) / gclayout.WordSize

// alloc allocates an object with the given payload words or aborts.
func (c *Context) alloc(tag gclayout.Tag, words int) Ref {
	if c.heap == nil {
		gcPanic("allocation through a closed context")
	}
	if words < 0 || words > maxObjectWords {
		c.Abort(ErrOutOfMemory)
	}
	r := c.heap.Allocate(c, tag, uint32(gclayout.Size(words)))
	if r == 0 {
		c.Abort(ErrOutOfMemory)
	}
	return r
}
