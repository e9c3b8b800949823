package gc

import (
	"fmt"
	"time"

	"github.com/andypeng2015/esgc/internal/ilist"
)

// Set gcDebug to true to print debug information.
const (
	gcDebug   = false // print debug info
	gcAsserts = false // perform sanity checks
)

// DestroyListener is notified when a code object is reclaimed. Debuggers
// use it to drop breakpoints and source maps for dead code.
type DestroyListener interface {
	CodeDestroyed(h *Heap, code Ref)
}

// Heap is the allocation and collection arena of one or more runtimes.
//
// A Heap is not safe for concurrent use. Related heaps, which share a page
// allocator and mark stack, must be used from the same goroutine.
type Heap struct {
	mgr   *HeapManager
	mnode *ilist.Node[*Heap]
	cfg   Config

	pages *PageAllocator
	marks *MarkStack
	roots *RootCollection

	// Chunks owned by this heap, small and large.
	chunks      []*chunk
	bytesInHeap uint64

	// Bump region over the active chunk. Outside a collection the bytes in
	// [currentTop, currentLimit) of current are not formatted.
	current      *chunk
	currentTop   uint32
	currentLimit uint32

	// Free storage: exact-size quick lists and the general list, sorted by
	// length. Rebuilt by every sweep.
	quick      [quickLists]Ref
	freeRanges Ref

	bytesLive         uint64
	bytesLiveExternal uint64
	bytesLimit        uint64
	bytesOfflineLimit uint64

	locked          int
	scavenge        bool
	needsGC         bool
	externalNeedsGC bool
	inCollector     bool
	insideMarker    bool
	destroyed       bool

	lastActivity time.Time
	lastGC       time.Time

	runtimes ilist.List[*Runtime]
	contexts ilist.List[*Context]

	hosts   map[uint64]HostObject
	natives map[Ref]NativeFunc
	buffers map[Ref][]byte
	weaks   ilist.List[*Weak]

	// Weak slots and weak arrays seen by the tracer during the current
	// mark phase.
	weakSlots  []weakSlot
	weakArrays []Ref

	tracer   Tracer
	runs     []freeRun
	listener DestroyListener

	stats heapCounters
	trace TraceRecord
}

// heapCounters are the cumulative counters of a heap.
type heapCounters struct {
	numGC        uint32
	mallocs      uint64
	frees        uint64
	totalAlloc   uint64
	totalFreed   uint64
	liveObjects  uint64
	weakCleared  uint64
	pauseTotal   time.Duration
	pauses       [pauseHistory]time.Duration
	pauseEnds    [pauseHistory]time.Time
	lastReason   Reason
	forced       uint32
	markedLast   uint64
	exhaustLast  int
	rescansTotal uint64
}

const pauseHistory = 256

// NewHeap creates a heap and registers it with mgr. If parent is not nil
// the new heap is related to it: both use the same page allocator and mark
// stack, so they can later be merged.
func NewHeap(mgr *HeapManager, parent *Heap, cfg Config) *Heap {
	cfg = cfg.withDefaults()
	h := &Heap{
		mgr:     mgr,
		cfg:     cfg,
		hosts:   make(map[uint64]HostObject),
		natives: make(map[Ref]NativeFunc),
		buffers: make(map[Ref][]byte),
	}
	h.mnode = &ilist.Node[*Heap]{Value: h}
	if parent != nil {
		if parent.destroyed {
			gcPanic("parent heap is destroyed")
		}
		h.pages = parent.pages.Retain()
		h.marks = parent.marks.Retain()
	} else {
		h.pages = NewPageAllocator(cfg.UseMmap)
		h.marks = NewMarkStack(cfg.MaxMarkStackSegments)
	}
	h.roots = NewRootCollection(cfg.MaxDynamicRoots)
	h.roots.owner = h
	h.tracer.h = h
	h.computeLimits()
	h.lastActivity = cfg.Now()
	if mgr != nil {
		mgr.AddHeap(h)
	}
	return h
}

// Config returns the effective configuration.
func (h *Heap) Config() Config { return h.cfg }

// Manager returns the heap manager the heap is registered with.
func (h *Heap) Manager() *HeapManager { return h.mgr }

// Roots returns the heap's root collection.
func (h *Heap) Roots() *RootCollection { return h.roots }

// MarkStack returns the heap's mark stack.
func (h *Heap) MarkStack() *MarkStack { return h.marks }

// Pages returns the page allocator the heap takes chunks from.
func (h *Heap) Pages() *PageAllocator { return h.pages }

// Related reports whether h and other can be merged.
func (h *Heap) Related(other *Heap) bool {
	return h.pages == other.pages && !h.destroyed && !other.destroyed
}

// SetDestroyListener installs the listener told about reclaimed code.
func (h *Heap) SetDestroyListener(l DestroyListener) { h.listener = l }

// Pin adds r to the dynamic roots.
func (h *Heap) Pin(r Ref) error {
	if err := h.roots.dynamic.Push(r); err != nil {
		return fmt.Errorf("pin %v: %w", r, err)
	}
	return nil
}

// Unpin drops one pin of r. Unpinning an object that is not pinned does
// nothing.
func (h *Heap) Unpin(r Ref) { h.roots.dynamic.Remove(r) }

// Live returns the bytes held by live objects, as of the last allocation
// or collection.
func (h *Heap) Live() uint64 { return h.bytesLive }

// External returns the externally allocated bytes accounted to the heap.
func (h *Heap) External() uint64 { return h.bytesLiveExternal }

// InHeap returns the bytes of chunk memory the heap owns.
func (h *Heap) InHeap() uint64 { return h.bytesInHeap }

// Chunks returns the number of chunks the heap owns.
func (h *Heap) Chunks() int { return len(h.chunks) }

// Limit returns the live byte count that triggers the next collection.
func (h *Heap) Limit() uint64 { return h.bytesLimit }

// OfflineLimit is the threshold used while the heap is inactive.
func (h *Heap) OfflineLimit() uint64 { return h.bytesOfflineLimit }

// NeedsGC reports whether a collection is pending.
func (h *Heap) NeedsGC() bool { return h.needsGC }

// Locked returns the collector lock depth.
func (h *Heap) Locked() int { return h.locked }

// Contexts returns the number of open contexts.
func (h *Heap) Contexts() int { return h.contexts.Len() }

// Destroyed reports whether the heap was destroyed or merged away.
func (h *Heap) Destroyed() bool { return h.destroyed }

// LastActivity returns when a context last opened or closed.
func (h *Heap) LastActivity() time.Time { return h.lastActivity }

// LastGC returns when the last collection finished.
func (h *Heap) LastGC() time.Time { return h.lastGC }

// SetMaxHeapBytes changes the cap on chunk memory and returns the previous
// one. 0 removes the cap. Memory already held is not released.
func (h *Heap) SetMaxHeapBytes(n uint64) uint64 {
	prev := h.cfg.MaxHeapBytes
	h.cfg.MaxHeapBytes = n
	return prev
}

// AddExternal accounts n bytes allocated outside the heap (n may be
// negative). Crossing the limit schedules a collection.
func (h *Heap) AddExternal(n int64) {
	if n < 0 && uint64(-n) > h.bytesLiveExternal {
		gcPanic("external byte count underflow")
	}
	h.bytesLiveExternal = uint64(int64(h.bytesLiveExternal) + n)
	if n > 0 && h.bytesLive+h.bytesLiveExternal > h.bytesLimit {
		h.needsGC = true
		h.externalNeedsGC = true
	}
}

func (h *Heap) computeLimits() {
	total := float64(h.bytesLive + h.bytesLiveExternal)
	h.bytesLimit = max(h.cfg.MinLimit, uint64(h.cfg.LoadFactor*total))
	h.bytesOfflineLimit = max(h.cfg.MinLimit, uint64(h.cfg.OfflineLoadFactor*total))
}

func (h *Heap) touch() { h.lastActivity = h.cfg.Now() }

// eligible reports whether nothing keeps the heap alive.
func (h *Heap) eligible() bool {
	return h.contexts.Empty() && h.locked == 0 && h.runtimes.Empty() &&
		h.roots.Empty() && !h.inCollector
}

// rootsEmptied is called by the root collection when its last root goes.
func (h *Heap) rootsEmptied() { h.checkEligible() }

func (h *Heap) checkEligible() {
	if h.mgr != nil && !h.destroyed && h.eligible() {
		h.mgr.MoveHeapToDestroyList(h)
	}
}

// Destroy collects everything the heap holds and releases its memory. The
// heap must not be locked or have open contexts. Attached runtimes are
// detached. If the root collection is not shared its roots are dropped
// first; whatever survives the final collections is a leak and panics.
func (h *Heap) Destroy() {
	if h.destroyed {
		return
	}
	if h.locked != 0 {
		gcPanic("destroying a locked heap")
	}
	if !h.contexts.Empty() {
		gcPanic("destroying a heap with open contexts")
	}
	if h.inCollector {
		gcPanic("destroying a heap during collection")
	}
	for n := h.runtimes.Front(); n != nil; n = h.runtimes.Front() {
		n.Value.Detach()
	}
	if !h.roots.shared() {
		h.roots.clear()
	}

	// Host object destructors may drop more references, so collect until
	// the live set stops shrinking.
	prev := ^uint64(0)
	for h.bytesLive != 0 && h.bytesLive < prev {
		prev = h.bytesLive
		h.collect(ReasonDestroy)
	}
	if h.bytesLive != 0 {
		gcPanic(fmt.Sprintf("heap destroy: %d bytes unreclaimable", h.bytesLive))
	}
	h.release()
}

// release returns every chunk and reference the heap holds.
func (h *Heap) release() {
	h.current = nil
	for _, c := range h.chunks {
		h.pages.free(c)
	}
	h.chunks = nil
	h.bytesInHeap = 0
	h.quick = [quickLists]Ref{}
	h.freeRanges = 0
	h.destroyed = true
	if h.mgr != nil {
		h.mgr.RemoveHeap(h)
	}
	h.roots.owner = nil
	h.roots.Release()
	h.marks.Release()
	h.pages.Release()
}

// Merge moves everything other holds into h and dissolves other. The heaps
// must be related. Open contexts, runtimes, roots and weak handles of other
// keep working and now belong to h.
func (h *Heap) Merge(other *Heap) error {
	if h.destroyed || other.destroyed {
		return ErrHeapDestroyed
	}
	if h == other || h.pages != other.pages {
		return ErrNotRelated
	}
	if h.inCollector || other.inCollector || h.locked != 0 || other.locked != 0 {
		return ErrHeapBusy
	}

	// Free storage of other is picked up by h's next sweep.
	other.retireCurrent(false)
	for _, c := range other.chunks {
		c.owner = h
	}
	h.chunks = append(h.chunks, other.chunks...)
	h.bytesInHeap += other.bytesInHeap
	h.bytesLive += other.bytesLive
	h.bytesLiveExternal += other.bytesLiveExternal
	h.stats.mallocs += other.stats.mallocs
	h.stats.frees += other.stats.frees
	h.stats.totalAlloc += other.stats.totalAlloc
	h.stats.totalFreed += other.stats.totalFreed
	h.stats.liveObjects += other.stats.liveObjects

	for n := other.runtimes.Front(); n != nil; n = n.Next() {
		n.Value.heap = h
	}
	h.runtimes.Append(&other.runtimes)
	for n := other.contexts.Front(); n != nil; n = n.Next() {
		n.Value.heap = h
	}
	h.contexts.Append(&other.contexts)
	for n := other.weaks.Front(); n != nil; n = n.Next() {
		n.Value.h = h
	}
	h.weaks.Append(&other.weaks)
	for id, ho := range other.hosts {
		h.hosts[id] = ho
	}
	for r, fn := range other.natives {
		h.natives[r] = fn
	}
	for r, b := range other.buffers {
		h.buffers[r] = b
	}
	rootErr := h.roots.absorb(other.roots)

	other.chunks = nil
	other.bytesInHeap, other.bytesLive, other.bytesLiveExternal = 0, 0, 0
	other.hosts, other.natives, other.buffers = nil, nil, nil
	other.release()

	h.computeLimits()
	if h.bytesLive+h.bytesLiveExternal > h.bytesLimit {
		h.needsGC = true
	}
	if h.mgr != nil && !h.contexts.Empty() {
		h.mgr.MoveHeapToActiveList(h)
	}
	if rootErr != nil {
		return fmt.Errorf("merge: %w", rootErr)
	}
	return nil
}
