package gc

import (
	"time"

	"github.com/andypeng2015/esgc/internal/gclayout"
)

// Reason says why a collection ran.
type Reason uint8

const (
	ReasonForced      Reason = iota // explicit request
	ReasonLimit                     // live bytes crossed the limit
	ReasonMaintenance               // idle heap collected by the heap manager
	ReasonDestroy                   // heap teardown
	ReasonUnlock                    // pending collection run on unlock
	ReasonOOM                       // allocation failed
	ReasonExternal                  // external bytes crossed the limit
)

var reasonNames = [...]string{
	ReasonForced:      "forced",
	ReasonLimit:       "limit",
	ReasonMaintenance: "maintenance",
	ReasonDestroy:     "destroy",
	ReasonUnlock:      "unlock",
	ReasonOOM:         "oom",
	ReasonExternal:    "external",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "!err"
}

// CollectIfNeeded runs a collection if one is pending and the heap is not
// locked. It reports whether a collection ran.
func (h *Heap) CollectIfNeeded() bool {
	if !h.needsGC || h.locked != 0 || h.inCollector {
		return false
	}
	reason := ReasonLimit
	if h.externalNeedsGC {
		reason = ReasonExternal
	}
	h.collect(reason)
	return true
}

// ForceCollect runs a collection now. On a locked heap it only marks a
// collection as pending; Unlock(true) on the outermost lock runs it. It
// does nothing during a collection.
func (h *Heap) ForceCollect(reason Reason) {
	if h.destroyed {
		gcPanic("collecting a destroyed heap")
	}
	if h.locked != 0 {
		h.needsGC = true
		return
	}
	h.collect(reason)
}

// FreeOSMemory collects and returns every empty chunk to the system,
// including the spare chunk a collection normally keeps. On a locked heap
// it behaves like ForceCollect.
func (h *Heap) FreeOSMemory() {
	if h.destroyed {
		gcPanic("collecting a destroyed heap")
	}
	if h.locked != 0 {
		h.needsGC = true
		return
	}
	h.scavenge = true
	h.collect(ReasonForced)
	h.scavenge = false
}

// collect runs one full cycle: mark, clear weak references, sweep.
func (h *Heap) collect(reason Reason) {
	if h.inCollector {
		return
	}
	h.inCollector = true
	if gcDebug {
		println("gc: collecting, reason", reason.String())
	}

	rec := TraceRecord{
		Seq:            h.stats.numGC + 1,
		Reason:         reason,
		LiveBefore:     h.bytesLive,
		ExternalBefore: h.bytesLiveExternal,
		HeapBefore:     h.bytesInHeap,
		ChunksBefore:   len(h.chunks),
	}
	start := time.Now()

	// The free lists are rebuilt from scratch by the sweep.
	h.retireCurrent(false)
	h.quick = [quickLists]Ref{}
	h.freeRanges = 0

	exhaustions := h.marks.Stats().Exhaustions
	rec.Rescans = h.mark()
	rec.Marked = h.stats.markedLast
	rec.Exhaustions = h.marks.Stats().Exhaustions - exhaustions
	markEnd := time.Now()

	rec.WeakCleared = h.processWeak()
	weakEnd := time.Now()

	sw := h.sweep()
	end := time.Now()

	h.bytesLive = sw.live
	h.stats.liveObjects = sw.liveObjects
	h.stats.frees += sw.freedObjects
	h.stats.totalFreed += sw.freed
	h.stats.weakCleared += uint64(rec.WeakCleared)
	h.stats.rescansTotal += uint64(rec.Rescans)
	h.computeLimits()
	h.needsGC = false
	h.externalNeedsGC = false

	pause := end.Sub(start)
	h.stats.pauses[h.stats.numGC%pauseHistory] = pause
	h.stats.pauseEnds[h.stats.numGC%pauseHistory] = end
	h.stats.numGC++
	h.stats.pauseTotal += pause
	h.stats.lastReason = reason
	if reason == ReasonForced {
		h.stats.forced++
	}
	h.lastGC = h.cfg.Now()
	h.inCollector = false

	rec.Mark = markEnd.Sub(start)
	rec.Weak = weakEnd.Sub(markEnd)
	rec.Sweep = end.Sub(weakEnd)
	rec.LiveAfter = h.bytesLive
	rec.ExternalAfter = h.bytesLiveExternal
	rec.HeapAfter = h.bytesInHeap
	rec.ChunksAfter = len(h.chunks)
	rec.Freed = sw.freed
	rec.ObjectsFreed = sw.freedObjects
	rec.ObjectsLive = sw.liveObjects
	rec.Limit = h.bytesLimit
	rec.PeakSegments = h.marks.Stats().PeakSegments
	rec.Collections = h.stats.numGC
	rec.TotalFreed = h.stats.totalFreed
	rec.PauseTotal = h.stats.pauseTotal
	h.trace = rec
	if h.cfg.Trace && h.cfg.TraceWriter != nil {
		rec.WriteTo(h.cfg.TraceWriter)
	}
}

// mark marks everything reachable from the roots. It returns how many
// times the heap had to be rescanned because the mark stack dropped
// entries.
func (h *Heap) mark() int {
	h.stats.markedLast = 0
	t := &h.tracer
	h.traceFromRootObjects(t)
	h.traceFromDynamicRoots(t)
	h.traceFromMarkStack()

	rescans := 0
	for h.marks.Exhausted() {
		// Entries were dropped. Every dropped object is marked, so tracing
		// all marked objects again finds their unmarked children.
		h.marks.ClearExhausted()
		rescans++
		h.insideMarker = true
		h.forEachMarked(t.traceObject)
		h.traceFromMarkStack()
	}
	return rescans
}

// traceFromRootObjects traces the attached runtimes and the static roots
// in list order.
func (h *Heap) traceFromRootObjects(t *Tracer) {
	h.runtimes.Each(func(rt *Runtime) {
		rt.GCTrace(t)
	})
	h.roots.static.Each(func(hd *RootHandle) {
		hd.data.GCTrace(t)
	})
}

// traceFromDynamicRoots marks every pinned object in table order.
func (h *Heap) traceFromDynamicRoots(t *Tracer) {
	h.roots.dynamic.ForEach(func(r Ref) {
		t.Mark(r)
	})
}

func (h *Heap) forEachMarked(fn func(r Ref)) {
	for _, c := range h.chunks {
		h.walkChunk(c, func(off uint32, hdr header) {
			if hdr.tag != gclayout.TagFree && hdr.marked() {
				fn(makeRef(c.id, off))
			}
		})
	}
}

// walkChunk calls fn for every block in c, skipping the unformatted bump
// region.
func (h *Heap) walkChunk(c *chunk, fn func(off uint32, hdr header)) {
	for off := uint32(0); off < c.top; {
		if c == h.current && off == h.currentTop {
			off = h.currentLimit
			continue
		}
		hdr := readHeader(c.mem, off)
		if hdr.size < gclayout.Align || hdr.size%gclayout.Align != 0 || off+hdr.size > c.top {
			gcPanic("corrupt header at " + makeRef(c.id, off).String())
		}
		fn(off, hdr)
		off += hdr.size
	}
}

type sweepResult struct {
	live         uint64
	liveObjects  uint64
	freed        uint64
	freedObjects uint64
}

// sweep destroys unmarked objects, unmarks the survivors and rebuilds the
// free lists. Wholly free small chunks beyond one spare and unmarked large
// objects give their chunk back to the page allocator.
func (h *Heap) sweep() sweepResult {
	var sw sweepResult
	spare := false
	kept := h.chunks[:0]
	for _, c := range h.chunks {
		var keep bool
		if c.large {
			keep = h.sweepLarge(c, &sw)
		} else {
			keep = h.sweepSmall(c, &sw, &spare)
		}
		if keep {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(h.chunks); i++ {
		h.chunks[i] = nil
	}
	h.chunks = kept
	return sw
}

func (h *Heap) sweepLarge(c *chunk, sw *sweepResult) bool {
	hdr := readHeader(c.mem, 0)
	if hdr.marked() {
		clearFlag(c.mem, 0, gclayout.FlagMarked)
		sw.live += uint64(hdr.size)
		sw.liveObjects++
		return true
	}
	destroyObject(h, c.base(), hdr.tag)
	sw.freed += uint64(hdr.size)
	sw.freedObjects++
	h.releaseChunk(c)
	return false
}

func (h *Heap) sweepSmall(c *chunk, sw *sweepResult, spare *bool) bool {
	runs := h.runs[:0]
	inRun := false
	var start uint32
	h.walkChunk(c, func(off uint32, hdr header) {
		switch {
		case hdr.tag == gclayout.TagFree:
			h.checkPoison(makeRef(c.id, off), c.mem, off)
		case hdr.marked():
			clearFlag(c.mem, off, gclayout.FlagMarked)
			sw.live += uint64(hdr.size)
			sw.liveObjects++
			if inRun {
				runs = append(runs, freeRun{start, off - start})
				inRun = false
			}
			return
		default:
			destroyObject(h, makeRef(c.id, off), hdr.tag)
			sw.freed += uint64(hdr.size)
			sw.freedObjects++
		}
		if !inRun {
			start, inRun = off, true
		}
	})
	if inRun {
		runs = append(runs, freeRun{start, c.top - start})
	}
	h.runs = runs[:0]

	if len(runs) == 1 && runs[0].size == c.top {
		if *spare || h.scavenge {
			h.releaseChunk(c)
			return false
		}
		*spare = true
	}
	for _, run := range runs {
		h.makeFree(c.mem, run.off, run.size)
		h.insertFree(makeRef(c.id, run.off), run.size)
	}
	return true
}
