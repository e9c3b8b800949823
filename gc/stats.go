package gc

import "time"

// MemStats records statistics about a heap.
type MemStats struct {
	// Bytes held by live objects, as accounted by the allocator.
	Alloc uint64

	// Externally allocated bytes attributed to the heap.
	External uint64

	// Cumulative bytes allocated and freed by the heap.
	TotalAlloc uint64
	TotalFreed uint64

	// Chunk memory owned by the heap, and the part of it that is not live.
	HeapSys  uint64
	HeapIdle uint64

	// Bytes on the free lists and in the bump region.
	HeapFree uint64

	// Bytes obtained from the system by the page allocator, shared by all
	// related heaps.
	Sys uint64

	Chunks int

	Mallocs     uint64
	Frees       uint64
	HeapObjects uint64

	// Collection threshold.
	NextGC uint64

	NumGC         uint32
	NumForcedGC   uint32
	PauseTotal    time.Duration
	LastGC        time.Time
	LastGCReason  Reason
	WeakCleared   uint64
	MarkRescans   uint64
	MarkStackSegs int

	DynamicRoots int
	StaticRoots  int
	WeakHandles  int
	HostObjects  int
	Contexts     int
	Runtimes     int
}

// ReadMemStats populates m with statistics about the heap. It does not
// collect.
func (h *Heap) ReadMemStats(m *MemStats) {
	m.Alloc = h.bytesLive
	m.External = h.bytesLiveExternal
	m.TotalAlloc = h.stats.totalAlloc
	m.TotalFreed = h.stats.totalFreed
	m.HeapSys = h.bytesInHeap
	m.HeapIdle = 0
	if h.bytesInHeap > h.bytesLive {
		m.HeapIdle = h.bytesInHeap - h.bytesLive
	}
	m.HeapFree = 0
	if !h.destroyed {
		m.HeapFree = h.freeBytes()
	}
	m.Sys = h.pages.Sys()
	m.Chunks = len(h.chunks)

	m.Mallocs = h.stats.mallocs
	m.Frees = h.stats.frees
	m.HeapObjects = h.stats.mallocs - h.stats.frees

	m.NextGC = h.bytesLimit
	m.NumGC = h.stats.numGC
	m.NumForcedGC = h.stats.forced
	m.PauseTotal = h.stats.pauseTotal
	m.LastGC = h.lastGC
	m.LastGCReason = h.stats.lastReason
	m.WeakCleared = h.stats.weakCleared
	m.MarkRescans = h.stats.rescansTotal
	m.MarkStackSegs = h.marks.Stats().Segments

	m.DynamicRoots = h.roots.dynamic.Len()
	m.StaticRoots = h.roots.static.Len()
	m.WeakHandles = h.weaks.Len()
	m.HostObjects = len(h.hosts)
	m.Contexts = h.contexts.Len()
	m.Runtimes = h.runtimes.Len()
}

// NumGC returns the number of completed collections.
func (h *Heap) NumGC() uint32 { return h.stats.numGC }

// PauseTotal returns the summed duration of all collections.
func (h *Heap) PauseTotal() time.Duration { return h.stats.pauseTotal }

// Pauses returns the durations and end times of the most recent
// collections, most recent first. At most 256 are kept.
func (h *Heap) Pauses() ([]time.Duration, []time.Time) {
	n := min(int(h.stats.numGC), pauseHistory)
	pauses := make([]time.Duration, n)
	ends := make([]time.Time, n)
	for i := 0; i < n; i++ {
		j := (int(h.stats.numGC) - 1 - i) % pauseHistory
		pauses[i] = h.stats.pauses[j]
		ends[i] = h.stats.pauseEnds[j]
	}
	return pauses, ends
}
