package gc

import (
	"fmt"
	"io"
	"time"

	"github.com/inhies/go-bytesize"
)

// TraceRecord describes one collection.
type TraceRecord struct {
	Seq    uint32
	Reason Reason

	Mark, Weak, Sweep time.Duration

	LiveBefore, LiveAfter         uint64
	ExternalBefore, ExternalAfter uint64
	HeapBefore, HeapAfter         uint64
	ChunksBefore, ChunksAfter     int

	Marked       uint64
	Freed        uint64
	ObjectsFreed uint64
	ObjectsLive  uint64
	WeakCleared  int
	Limit        uint64

	// Mark stack degradation during this collection.
	Exhaustions  int
	Rescans      int
	PeakSegments int

	// Cumulative.
	Collections uint32
	TotalFreed  uint64
	PauseTotal  time.Duration
}

func fmtBytes(n uint64) string {
	return bytesize.New(float64(n)).String()
}

// String formats the record on one line.
func (r TraceRecord) String() string {
	s := fmt.Sprintf("gc #%d (%s): live %s -> %s, heap %s -> %s, chunks %d -> %d, freed %s in %d objects, mark %v weak %v sweep %v, limit %s",
		r.Seq, r.Reason,
		fmtBytes(r.LiveBefore), fmtBytes(r.LiveAfter),
		fmtBytes(r.HeapBefore), fmtBytes(r.HeapAfter),
		r.ChunksBefore, r.ChunksAfter,
		fmtBytes(r.Freed), r.ObjectsFreed,
		r.Mark, r.Weak, r.Sweep,
		fmtBytes(r.Limit))
	if r.ExternalBefore != 0 || r.ExternalAfter != 0 {
		s += fmt.Sprintf(", external %s -> %s", fmtBytes(r.ExternalBefore), fmtBytes(r.ExternalAfter))
	}
	if r.WeakCleared != 0 {
		s += fmt.Sprintf(", %d weak cleared", r.WeakCleared)
	}
	if r.Exhaustions != 0 {
		s += fmt.Sprintf(", mark stack exhausted %d times (%d rescans)", r.Exhaustions, r.Rescans)
	}
	return s
}

// WriteTo writes the record followed by a newline.
func (r TraceRecord) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, r.String()+"\n")
	return int64(n), err
}

// LastTrace returns the record of the most recent collection.
func (h *Heap) LastTrace() TraceRecord { return h.trace }
