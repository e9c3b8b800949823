package gc

import "github.com/andypeng2015/esgc/internal/gclayout"

// Tracer is handed to RootData.GCTrace and HostObject.GCTrace to report
// the references they hold. It is also used outside collections to
// enumerate references, in which case Mark only reports the edge.
type Tracer struct {
	h *Heap

	// visit, if set, receives every reported reference and nothing is
	// marked.
	visit func(r Ref)
}

// Heap returns the heap being traced.
func (t *Tracer) Heap() *Heap { return t.h }

// Mark marks r and queues it for tracing. It returns true if r needs no
// further work: it was already marked, is null or is owned by another
// heap. Outside the drain loop the queued objects are traced before Mark
// returns.
func (t *Tracer) Mark(r Ref) bool {
	if r == 0 {
		return true
	}
	if t.visit != nil {
		t.visit(r)
		return true
	}
	h := t.h
	c := h.pages.lookup(r)
	if c == nil || c.owner != h {
		return true
	}
	mem, off := c.mem, r.offset()
	hdr := readHeader(mem, off)
	if hdr.tag == gclayout.TagFree {
		gcPanic("marking free storage at " + r.String())
	}
	if hdr.marked() {
		return true
	}
	setFlag(mem, off, gclayout.FlagMarked)
	h.stats.markedLast++
	h.marks.Push(r)
	if !h.insideMarker {
		h.traceFromMarkStack()
	}
	return false
}

// PushValue marks the object v refers to. Values that are not heap
// references are ignored.
func (t *Tracer) PushValue(v Value) {
	if v.IsRef() {
		t.Mark(v.Ref())
	}
}

// pushWord marks the value in payload word i of r.
func (t *Tracer) pushWord(r Ref, i int) {
	t.PushValue(t.h.ValueAt(r, i))
}

// pushWords marks the values in payload words [from, to) of r.
func (t *Tracer) pushWords(r Ref, from, to int) {
	for i := from; i < to; i++ {
		t.pushWord(r, i)
	}
}

// weakSlot records that payload word i of holder refers weakly to its
// target. The slot is cleared after marking if the target is unmarked.
func (t *Tracer) weakSlot(holder Ref, i int) {
	if t.visit != nil {
		return
	}
	if t.h.ValueAt(holder, i).IsRef() {
		t.h.weakSlots = append(t.h.weakSlots, weakSlot{holder: holder, word: i})
	}
}

// weakArray records a reachable weak array for post-mark clearing.
func (t *Tracer) weakArray(r Ref) {
	if t.visit != nil {
		return
	}
	t.h.weakArrays = append(t.h.weakArrays, r)
}

// traceObject reports the outgoing references of r.
func (t *Tracer) traceObject(r Ref) {
	tag := t.h.Tag(r)
	if tag >= gclayout.NumTags {
		gcPanic("unknown tag at " + r.String())
	}
	if tag.IsObject() {
		traceObjectBase(t, r)
	}
	kinds[tag].trace(t, r)
}

// traceFromMarkStack is the drain loop: it traces queued objects until the
// mark stack is empty.
func (h *Heap) traceFromMarkStack() {
	h.insideMarker = true
	for {
		r := h.marks.Pop()
		if r == 0 {
			break
		}
		// No cursor to save around the dispatch: tracing cannot allocate,
		// since Allocate panics while inCollector is set.
		h.tracer.traceObject(r)
	}
	h.insideMarker = false
}

// References calls fn for every strong reference held by the object at r.
// Weak references are not reported.
func (h *Heap) References(r Ref, fn func(to Ref)) {
	t := Tracer{h: h, visit: fn}
	t.traceObject(r)
}

// ForEachRoot calls fn for every reference held by the root set: the
// global objects of attached runtimes, the static roots and the pinned
// objects. A reference held by several roots is reported each time.
func (h *Heap) ForEachRoot(fn func(r Ref)) {
	t := &Tracer{h: h, visit: fn}
	h.traceFromRootObjects(t)
	h.traceFromDynamicRoots(t)
}
