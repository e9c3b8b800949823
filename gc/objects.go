package gc

import (
	"strings"

	"github.com/andypeng2015/esgc/internal/gclayout"
)

// Object constructors. Every constructor that allocates more than once
// keeps its arguments and intermediate objects on the register stack, so a
// collection triggered by a later allocation cannot reclaim them. The
// returned reference is not held: callers push it to a register, store it
// in a reachable object or pin it.

func stringWords(n int) int { return 1 + (n+gclayout.WordSize-1)/gclayout.WordSize }

// NewString allocates a flat string.
func (c *Context) NewString(s string) Ref {
	r := c.alloc(gclayout.TagString, stringWords(len(s)))
	h := c.heap
	h.SetWord(r, gclayout.WordLength, uint64(len(s)))
	copy(h.Bytes(r, gclayout.WordChars), s)
	return r
}

// NewCompoundString allocates the concatenation of two strings without
// copying them.
func (c *Context) NewCompoundString(left, right Ref) Ref {
	defer c.drop(c.hold(StringValue(left), StringValue(right)))
	h := c.heap
	n := h.StringLength(left) + h.StringLength(right)
	r := c.alloc(gclayout.TagCompoundString, 3)
	h.SetWord(r, gclayout.WordLength, uint64(n))
	h.SetValue(r, gclayout.WordLeft, StringValue(left))
	h.SetValue(r, gclayout.WordRight, StringValue(right))
	return r
}

// StringLength returns the length in bytes of a string or compound string.
func (h *Heap) StringLength(r Ref) int {
	switch tag := h.Tag(r); tag {
	case gclayout.TagString, gclayout.TagCompoundString:
		return int(h.Word(r, gclayout.WordLength))
	default:
		gcPanic("not a string: " + tag.String())
		return 0
	}
}

// StringContent returns the characters of a string or compound string.
func (h *Heap) StringContent(r Ref) string {
	var sb strings.Builder
	sb.Grow(h.StringLength(r))
	h.appendString(&sb, r)
	return sb.String()
}

func (h *Heap) appendString(sb *strings.Builder, r Ref) {
	if h.Tag(r) == gclayout.TagCompoundString {
		h.appendString(sb, h.ValueAt(r, gclayout.WordLeft).Ref())
		h.appendString(sb, h.ValueAt(r, gclayout.WordRight).Ref())
		return
	}
	n := h.StringLength(r)
	sb.Write(h.Bytes(r, gclayout.WordChars)[:n])
}

func (c *Context) newArray(tag gclayout.Tag, capacity int, vals []Value) Ref {
	capacity = max(capacity, len(vals), 1)
	defer c.drop(c.hold(vals...))
	r := c.alloc(tag, gclayout.WordElements+capacity)
	h := c.heap
	h.SetWord(r, gclayout.WordCount, uint64(len(vals)))
	for i, v := range vals {
		h.SetValue(r, gclayout.WordElements+i, v)
	}
	return r
}

// NewArray allocates a boxed array with room for capacity values, holding
// vals.
func (c *Context) NewArray(capacity int, vals ...Value) Ref {
	return c.newArray(gclayout.TagBoxedArray, capacity, vals)
}

// NewWeakArray allocates an array whose elements do not keep their
// targets alive. Elements whose target is collected read as Undefined.
func (c *Context) NewWeakArray(capacity int, vals ...Value) Ref {
	return c.newArray(gclayout.TagWeakArray, capacity, vals)
}

// Count returns the used element count of an array.
func (h *Heap) Count(r Ref) int { return usedCount(h, r, 1) }

// Capacity returns how many elements an array can hold.
func (h *Heap) Capacity(r Ref) int { return h.Words(r) - gclayout.WordElements }

// Element returns element i of an array.
func (h *Heap) Element(r Ref, i int) Value {
	if i < 0 || i >= h.Count(r) {
		gcPanic("array index out of range")
	}
	return h.ValueAt(r, gclayout.WordElements+i)
}

// SetElement overwrites element i of an array.
func (h *Heap) SetElement(r Ref, i int, v Value) {
	if i < 0 || i >= h.Count(r) {
		gcPanic("array index out of range")
	}
	h.SetValue(r, gclayout.WordElements+i, v)
}

// Append adds v to an array. It reports false if the array is full.
func (h *Heap) Append(r Ref, v Value) bool {
	n := h.Count(r)
	if n == h.Capacity(r) {
		return false
	}
	h.SetValue(r, gclayout.WordElements+n, v)
	h.SetWord(r, gclayout.WordCount, uint64(n+1))
	return true
}

// appendTo appends v to the array in word i of holder, creating or growing
// the array as needed. Weak arrays drop their cleared elements before they
// grow.
func (c *Context) appendTo(holder Ref, word int, tag gclayout.Tag, v Value) {
	defer c.drop(c.hold(ObjectValue(holder), v))
	h := c.heap
	arr := h.ValueAt(holder, word).Ref()
	if arr == 0 {
		arr = c.newArray(tag, 4, nil)
		h.SetValue(holder, word, ObjectValue(arr))
	}
	if tag == gclayout.TagWeakArray && h.Count(arr) == h.Capacity(arr) {
		h.compact(arr)
	}
	if h.Append(arr, v) {
		return
	}
	n := h.Count(arr)
	vals := make([]Value, n, 2*n)
	for i := range vals {
		vals[i] = h.Element(arr, i)
	}
	grown := c.newArray(tag, 2*n, append(vals, v))
	h.SetValue(holder, word, ObjectValue(grown))
}

// compact removes Undefined elements of an array.
func (h *Heap) compact(r Ref) {
	n := h.Count(r)
	j := 0
	for i := 0; i < n; i++ {
		if v := h.Element(r, i); v != Undefined {
			h.SetValue(r, gclayout.WordElements+j, v)
			j++
		}
	}
	h.SetWord(r, gclayout.WordCount, uint64(j))
}

// NewHashTable allocates a table for capacity key/value pairs.
func (c *Context) NewHashTable(capacity int) Ref {
	capacity = max(capacity, 1)
	return c.alloc(gclayout.TagHashTable, gclayout.WordElements+2*capacity)
}

func (h *Heap) tableCapacity(t Ref) int {
	return (h.Words(t) - gclayout.WordElements) / 2
}

func (h *Heap) tableFind(t Ref, key string) int {
	n := usedCount(h, t, 2)
	for i := 0; i < n; i++ {
		k := h.ValueAt(t, gclayout.WordElements+2*i)
		if k.IsString() && h.StringContent(k.Ref()) == key {
			return i
		}
	}
	return -1
}

// HashGet looks up key in a hash table.
func (h *Heap) HashGet(t Ref, key string) (Value, bool) {
	if i := h.tableFind(t, key); i >= 0 {
		return h.ValueAt(t, gclayout.WordElements+2*i+1), true
	}
	return Undefined, false
}

// HashPut stores key = v. It returns the table, which is a new one if t
// had to grow.
func (c *Context) HashPut(t Ref, key string, v Value) Ref {
	h := c.heap
	if i := h.tableFind(t, key); i >= 0 {
		h.SetValue(t, gclayout.WordElements+2*i+1, v)
		return t
	}
	defer c.drop(c.hold(ObjectValue(t), v))
	n := usedCount(h, t, 2)
	if n == h.tableCapacity(t) {
		grown := c.NewHashTable(2 * n)
		for i := 0; i < 2*n; i++ {
			h.SetValue(grown, gclayout.WordElements+i, h.ValueAt(t, gclayout.WordElements+i))
		}
		h.SetWord(grown, gclayout.WordCount, uint64(n))
		t = grown
		c.Push(ObjectValue(t))
	}
	k := c.NewString(key)
	h.SetValue(t, gclayout.WordElements+2*n, StringValue(k))
	h.SetValue(t, gclayout.WordElements+2*n+1, v)
	h.SetWord(t, gclayout.WordCount, uint64(n+1))
	return t
}

// SetProperty sets a named property of an object.
func (c *Context) SetProperty(obj Ref, name string, v Value) {
	defer c.drop(c.hold(ObjectValue(obj), v))
	h := c.heap
	props := h.ValueAt(obj, gclayout.WordProperties).Ref()
	if props == 0 {
		props = c.NewHashTable(4)
		h.SetValue(obj, gclayout.WordProperties, ObjectValue(props))
	}
	if t := c.HashPut(props, name, v); t != props {
		h.SetValue(obj, gclayout.WordProperties, ObjectValue(t))
	}
}

// GetProperty reads a named property of an object.
func (h *Heap) GetProperty(obj Ref, name string) (Value, bool) {
	props := h.ValueAt(obj, gclayout.WordProperties).Ref()
	if props == 0 {
		return Undefined, false
	}
	return h.HashGet(props, name)
}

// NewClass allocates a class node.
func (c *Context) NewClass(parent, prototype Ref, name string) Ref {
	defer c.drop(c.hold(ObjectValue(parent), ObjectValue(prototype)))
	n := c.NewString(name)
	c.Push(StringValue(n))
	h := c.heap
	r := c.alloc(gclayout.TagClass, gclayout.ClassWords)
	h.SetValue(r, gclayout.WordParent, ObjectValue(parent))
	h.SetValue(r, gclayout.WordPrototype, ObjectValue(prototype))
	h.SetValue(r, gclayout.WordPropName, StringValue(n))
	h.SetValue(r, gclayout.WordInstances, Null)
	return r
}

// AddInstance records obj in the instance table of class. The table does
// not keep obj alive.
func (c *Context) AddInstance(class, obj Ref) {
	c.appendTo(class, gclayout.WordInstances, gclayout.TagWeakArray, ObjectValue(obj))
}

// Instances returns the live instances recorded for class.
func (h *Heap) Instances(class Ref) []Ref {
	arr := h.ValueAt(class, gclayout.WordInstances).Ref()
	if arr == 0 {
		return nil
	}
	var out []Ref
	for i, n := 0, h.Count(arr); i < n; i++ {
		if v := h.Element(arr, i); v.IsRef() {
			out = append(out, v.Ref())
		}
	}
	return out
}

// NewCode allocates a code object with its name, source and constant pool.
func (c *Context) NewCode(name, source string, constants ...Value) Ref {
	defer c.drop(c.hold(constants...))
	h := c.heap
	n := c.NewString(name)
	c.Push(StringValue(n))
	s := c.NewString(source)
	c.Push(StringValue(s))
	k := c.NewArray(len(constants), constants...)
	c.Push(ObjectValue(k))
	r := c.alloc(gclayout.TagCode, gclayout.CodeWords)
	h.SetValue(r, gclayout.WordCodeName, StringValue(n))
	h.SetValue(r, gclayout.WordConstants, ObjectValue(k))
	h.SetValue(r, gclayout.WordNested, Null)
	h.SetValue(r, gclayout.WordSource, StringValue(s))
	h.SetValue(r, gclayout.WordEvalCache, Undefined)
	return r
}

// AddNested records a nested function's code in its enclosing code.
func (c *Context) AddNested(code, nested Ref) {
	c.appendTo(code, gclayout.WordNested, gclayout.TagBoxedArray, ObjectValue(nested))
}

// SetEvalCache stores code compiled by eval in the weak cache slot of code.
func (h *Heap) SetEvalCache(code, cached Ref) {
	h.SetValue(code, gclayout.WordEvalCache, ObjectValue(cached))
}

// EvalCache returns the cached eval code of code, or 0.
func (h *Heap) EvalCache(code Ref) Ref {
	return h.ValueAt(code, gclayout.WordEvalCache).Ref()
}

// newObject allocates an object of the given tag and registers it with its
// class.
func (c *Context) newObject(tag gclayout.Tag, words int, class Ref) Ref {
	r := c.alloc(tag, words)
	h := c.heap
	h.SetValue(r, gclayout.WordClass, ObjectValue(class))
	h.SetValue(r, gclayout.WordProperties, Null)
	h.SetValue(r, gclayout.WordIndexed, Null)
	if class != 0 {
		c.AddInstance(class, r)
	}
	return r
}

// NewObject allocates a plain object of class, which may be 0.
func (c *Context) NewObject(class Ref) Ref {
	defer c.drop(c.hold(ObjectValue(class)))
	return c.newObject(gclayout.TagObject, gclayout.ObjectWords, class)
}

// NewFunction allocates a function object. native, if not nil, is its host
// implementation.
func (c *Context) NewFunction(code, scope Ref, native NativeFunc) Ref {
	defer c.drop(c.hold(ObjectValue(code), ObjectValue(scope)))
	r := c.newObject(gclayout.TagFunction, gclayout.FunctionWords, 0)
	h := c.heap
	h.SetValue(r, gclayout.WordCode, ObjectValue(code))
	h.SetValue(r, gclayout.WordScope, ObjectValue(scope))
	h.SetValue(r, gclayout.WordBoundThis, Undefined)
	if native != nil {
		h.natives[r] = native
	}
	return r
}

// NewArguments allocates an arguments object for a call of callee.
func (c *Context) NewArguments(callee Ref, vals ...Value) Ref {
	defer c.drop(c.hold(ObjectValue(callee)))
	arr := c.NewArray(len(vals), vals...)
	c.Push(ObjectValue(arr))
	r := c.newObject(gclayout.TagArguments, gclayout.ArgumentsWords, 0)
	h := c.heap
	h.SetValue(r, gclayout.WordCallee, ObjectValue(callee))
	h.SetValue(r, gclayout.WordValues, ObjectValue(arr))
	return r
}

// NewStringObject wraps a string primitive.
func (c *Context) NewStringObject(str Ref) Ref {
	defer c.drop(c.hold(StringValue(str)))
	r := c.newObject(gclayout.TagStringObject, gclayout.StringObjectWords, 0)
	c.heap.SetValue(r, gclayout.WordPrimitive, StringValue(str))
	return r
}

// NewRegExp allocates a regular expression object.
func (c *Context) NewRegExp(pattern string, flags uint64) Ref {
	p := c.NewString(pattern)
	defer c.drop(c.hold(StringValue(p)))
	r := c.newObject(gclayout.TagRegExp, gclayout.RegExpWords, 0)
	h := c.heap
	h.SetValue(r, gclayout.WordPattern, StringValue(p))
	h.SetWord(r, gclayout.WordFlags, flags)
	h.SetValue(r, gclayout.WordLastInput, Undefined)
	return r
}

// SetLastMatch records the input of the last successful match of re. The
// slot does not keep the input alive.
func (h *Heap) SetLastMatch(re, input Ref) {
	h.SetValue(re, gclayout.WordLastInput, StringValue(input))
}

// LastMatch returns the last match input of re, or 0 if there is none or
// it was collected.
func (h *Heap) LastMatch(re Ref) Ref {
	return h.ValueAt(re, gclayout.WordLastInput).Ref()
}

// NewError allocates an error object.
func (c *Context) NewError(message, stack string) Ref {
	mark := len(c.regs)
	defer c.drop(mark)
	m := c.NewString(message)
	c.Push(StringValue(m))
	s := c.NewString(stack)
	c.Push(StringValue(s))
	r := c.newObject(gclayout.TagError, gclayout.ErrorWords, 0)
	h := c.heap
	h.SetValue(r, gclayout.WordMessage, StringValue(m))
	h.SetValue(r, gclayout.WordStack, StringValue(s))
	return r
}

// NewArrayBuffer allocates an array buffer with an n byte backing store.
// The backing store is accounted as external memory.
func (c *Context) NewArrayBuffer(n int) Ref {
	if n < 0 {
		c.Abort(ErrInvalidLength)
	}
	r := c.newObject(gclayout.TagArrayBuffer, gclayout.ArrayBufferWords, 0)
	h := c.heap
	h.SetWord(r, gclayout.WordByteLength, uint64(n))
	h.buffers[r] = make([]byte, n)
	h.AddExternal(int64(n))
	return r
}

// NewTypedArray allocates a view of count elements into buf.
func (c *Context) NewTypedArray(buf Ref, offset, count int) Ref {
	defer c.drop(c.hold(ObjectValue(buf)))
	r := c.newObject(gclayout.TagTypedArray, gclayout.TypedArrayWords, 0)
	h := c.heap
	h.SetValue(r, gclayout.WordBuffer, ObjectValue(buf))
	h.SetWord(r, gclayout.WordByteOffset, uint64(offset))
	h.SetWord(r, gclayout.WordElemCount, uint64(count))
	return r
}

// NewHostObject wraps ho. The heap calls ho.GCTrace while the wrapper is
// reachable and ho.Destroy when it is reclaimed.
func (c *Context) NewHostObject(ho HostObject) Ref {
	r := c.newObject(gclayout.TagHostObject, gclayout.HostObjectWords, 0)
	h := c.heap
	id := h.pages.newHostID()
	h.SetWord(r, gclayout.WordHostID, id)
	h.hosts[id] = ho
	return r
}

// NewGlobal allocates the global object of rt.
func (c *Context) NewGlobal(rt *Runtime) Ref {
	r := c.newObject(gclayout.TagGlobalObject, gclayout.GlobalObjectWords, 0)
	for i := 0; i < gclayout.NumPrototypes; i++ {
		c.heap.SetValue(r, gclayout.WordPrototypes+i, Null)
	}
	rt.global = r
	return r
}

// SetPrototype stores well-known prototype i of a global object.
func (h *Heap) SetPrototype(global Ref, i int, proto Ref) {
	if i < 0 || i >= gclayout.NumPrototypes {
		gcPanic("prototype index out of range")
	}
	h.SetValue(global, gclayout.WordPrototypes+i, ObjectValue(proto))
}
