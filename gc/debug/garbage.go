// Package debug exposes collector statistics and heap dumps for tools and
// tests.
package debug

import (
	"encoding/json"
	"io"
	"slices"
	"time"

	"github.com/andypeng2015/esgc/gc"
)

// GCStats collect information about recent collections of a heap.
type GCStats struct {
	LastGC         time.Time       // time of last collection
	NumGC          int64           // number of collections
	PauseTotal     time.Duration   // total pause for all collections
	Pause          []time.Duration // pause history, most recent first
	PauseEnd       []time.Time     // pause end times history, most recent first
	PauseQuantiles []time.Duration
}

// ReadGCStats reads statistics about the collections of h into stats.
// If stats.PauseQuantiles is non-empty it is filled with quantiles of the
// pause history: for a slice of length n, the minimum, n-2 evenly spaced
// quantiles and the maximum.
func ReadGCStats(h *gc.Heap, stats *GCStats) {
	stats.LastGC = h.LastGC()
	stats.NumGC = int64(h.NumGC())
	stats.PauseTotal = h.PauseTotal()
	stats.Pause, stats.PauseEnd = h.Pauses()

	if n := len(stats.PauseQuantiles); n > 0 {
		sorted := slices.Clone(stats.Pause)
		slices.Sort(sorted)
		if len(sorted) == 0 {
			clear(stats.PauseQuantiles)
			return
		}
		for i := range stats.PauseQuantiles {
			j := 0
			if n > 1 {
				j = i * (len(sorted) - 1) / (n - 1)
			}
			stats.PauseQuantiles[i] = sorted[j]
		}
	}
}

// FreeOSMemory forces a collection of h and returns as much memory to the
// system as possible.
func FreeOSMemory(h *gc.Heap) {
	h.FreeOSMemory()
}

// SetMemoryLimit caps the chunk memory of h at limit bytes and returns the
// previous cap. A negative limit only reports the current cap; 0 removes
// it.
func SetMemoryLimit(h *gc.Heap, limit int64) int64 {
	prev := h.Config().MaxHeapBytes
	if limit < 0 {
		return int64(prev)
	}
	h.SetMaxHeapBytes(uint64(limit))
	return int64(prev)
}

// HeapDump is the document written by WriteHeapDump: every allocated
// object with its outgoing strong references, and the objects referenced
// by the root set.
type HeapDump struct {
	Objects []DumpObject `json:"objects"`
	Roots   []uint64     `json:"roots"`
}

// DumpObject is one object of a HeapDump. IDs are object references.
type DumpObject struct {
	ID   uint64   `json:"id"`
	Type string   `json:"type"`
	Size uint64   `json:"size"`
	Ptrs []uint64 `json:"ptrs"`
}

// WriteHeapDump writes a JSON description of h to w.
func WriteHeapDump(h *gc.Heap, w io.Writer) error {
	dump := HeapDump{
		Objects: []DumpObject{},
		Roots:   []uint64{},
	}
	h.ForEachObject(func(o gc.ObjectInfo) bool {
		obj := DumpObject{
			ID:   uint64(o.Ref),
			Type: o.Tag.String(),
			Size: uint64(o.Size),
			Ptrs: []uint64{},
		}
		h.References(o.Ref, func(to gc.Ref) {
			obj.Ptrs = append(obj.Ptrs, uint64(to))
		})
		dump.Objects = append(dump.Objects, obj)
		return true
	})
	seen := make(map[gc.Ref]bool)
	h.ForEachRoot(func(r gc.Ref) {
		if !seen[r] {
			seen[r] = true
			dump.Roots = append(dump.Roots, uint64(r))
		}
	})
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
