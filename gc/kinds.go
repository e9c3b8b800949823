package gc

import "github.com/andypeng2015/esgc/internal/gclayout"

// kindInfo is the collector's view of one object kind.
type kindInfo struct {
	// trace reports the kind specific references. The object base words
	// of tags >= gclayout.TagObject are traced before it is called.
	trace func(t *Tracer, r Ref)

	// destroy runs kind specific teardown for an unreachable object. The
	// sweeper reformats the storage afterwards.
	destroy func(h *Heap, r Ref)
}

var kinds [gclayout.NumTags]kindInfo

func init() {
	kinds = [gclayout.NumTags]kindInfo{
		gclayout.TagFree:           {traceFree, destroyFree},
		gclayout.TagString:         {traceNone, destroyNone},
		gclayout.TagCompoundString: {traceCompoundString, destroyNone},
		gclayout.TagBoxedArray:     {traceBoxedArray, destroyNone},
		gclayout.TagWeakArray:      {traceWeakArray, destroyNone},
		gclayout.TagHashTable:      {traceHashTable, destroyNone},
		gclayout.TagClass:          {traceClass, destroyNone},
		gclayout.TagCode:           {traceCode, destroyCode},
		gclayout.TagObject:         {traceNone, destroyNone},
		gclayout.TagFunction:       {traceFunction, destroyFunction},
		gclayout.TagArguments:      {traceArguments, destroyNone},
		gclayout.TagStringObject:   {traceStringObject, destroyNone},
		gclayout.TagRegExp:         {traceRegExp, destroyNone},
		gclayout.TagError:          {traceError, destroyNone},
		gclayout.TagArrayBuffer:    {traceNone, destroyArrayBuffer},
		gclayout.TagTypedArray:     {traceTypedArray, destroyNone},
		gclayout.TagHostObject:     {traceHostObject, destroyHostObject},
		gclayout.TagGlobalObject:   {traceGlobalObject, destroyNone},
	}
	if err := checkKinds(); err != nil {
		panic(err)
	}
}

// checkKinds verifies that every tag has a trace and a destroy function.
func checkKinds() error {
	for tag := gclayout.Tag(0); tag < gclayout.NumTags; tag++ {
		k := kinds[tag]
		if k.trace == nil || k.destroy == nil {
			return &AssertionError{Msg: "no trace or destroy function for tag " + tag.String()}
		}
	}
	return nil
}

func destroyObject(h *Heap, r Ref, tag gclayout.Tag) {
	kinds[tag].destroy(h, r)
}

func traceNone(t *Tracer, r Ref)  {}
func destroyNone(h *Heap, r Ref) {}

func traceFree(t *Tracer, r Ref) {
	gcPanic("tracing free storage at " + r.String())
}

func destroyFree(h *Heap, r Ref) {
	gcPanic("destroying free storage at " + r.String())
}

// usedCount reads a used element count and checks it against the capacity.
func usedCount(h *Heap, r Ref, per int) int {
	n := int(h.Word(r, gclayout.WordCount))
	if gclayout.WordElements+n*per > h.Words(r) {
		gcPanic("element count exceeds capacity of " + h.Tag(r).String() + " at " + r.String())
	}
	return n
}

func traceCompoundString(t *Tracer, r Ref) {
	t.pushWord(r, gclayout.WordLeft)
	t.pushWord(r, gclayout.WordRight)
}

func traceBoxedArray(t *Tracer, r Ref) {
	n := usedCount(t.h, r, 1)
	t.pushWords(r, gclayout.WordElements, gclayout.WordElements+n)
}

// Weak array elements are cleared after marking, never traced.
func traceWeakArray(t *Tracer, r Ref) {
	t.weakArray(r)
}

func traceHashTable(t *Tracer, r Ref) {
	n := usedCount(t.h, r, 2)
	t.pushWords(r, gclayout.WordElements, gclayout.WordElements+2*n)
}

// The instance table of a class is a weak array: the table itself is kept
// while the class lives, its instances are not.
func traceClass(t *Tracer, r Ref) {
	t.pushWord(r, gclayout.WordParent)
	t.pushWord(r, gclayout.WordPrototype)
	t.pushWord(r, gclayout.WordPropName)
	t.pushWord(r, gclayout.WordInstances)
}

func traceCode(t *Tracer, r Ref) {
	t.pushWord(r, gclayout.WordCodeName)
	t.pushWord(r, gclayout.WordConstants)
	t.pushWord(r, gclayout.WordNested)
	t.pushWord(r, gclayout.WordSource)
	t.weakSlot(r, gclayout.WordEvalCache)
}

func destroyCode(h *Heap, r Ref) {
	if h.listener != nil {
		h.listener.CodeDestroyed(h, r)
	}
}

func traceObjectBase(t *Tracer, r Ref) {
	t.pushWord(r, gclayout.WordClass)
	t.pushWord(r, gclayout.WordProperties)
	t.pushWord(r, gclayout.WordIndexed)
}

func traceFunction(t *Tracer, r Ref) {
	t.pushWord(r, gclayout.WordCode)
	t.pushWord(r, gclayout.WordScope)
	t.pushWord(r, gclayout.WordBoundThis)
}

func destroyFunction(h *Heap, r Ref) {
	delete(h.natives, r)
}

func traceArguments(t *Tracer, r Ref) {
	t.pushWord(r, gclayout.WordCallee)
	t.pushWord(r, gclayout.WordValues)
}

func traceStringObject(t *Tracer, r Ref) {
	t.pushWord(r, gclayout.WordPrimitive)
}

func traceRegExp(t *Tracer, r Ref) {
	t.pushWord(r, gclayout.WordPattern)
	t.weakSlot(r, gclayout.WordLastInput)
}

func traceError(t *Tracer, r Ref) {
	t.pushWord(r, gclayout.WordMessage)
	t.pushWord(r, gclayout.WordStack)
}

func destroyArrayBuffer(h *Heap, r Ref) {
	h.AddExternal(-int64(h.Word(r, gclayout.WordByteLength)))
	delete(h.buffers, r)
}

func traceTypedArray(t *Tracer, r Ref) {
	t.pushWord(r, gclayout.WordBuffer)
}

func traceHostObject(t *Tracer, r Ref) {
	if ho := t.h.hosts[t.h.Word(r, gclayout.WordHostID)]; ho != nil {
		ho.GCTrace(t)
	}
}

func destroyHostObject(h *Heap, r Ref) {
	id := h.Word(r, gclayout.WordHostID)
	if ho := h.hosts[id]; ho != nil {
		delete(h.hosts, id)
		ho.Destroy()
	}
}

func traceGlobalObject(t *Tracer, r Ref) {
	t.pushWords(r, gclayout.WordPrototypes, gclayout.WordPrototypes+gclayout.NumPrototypes)
}
