// Package metrics provides a stable interface to read collector metrics of
// a heap by name.
package metrics

import (
	"math"

	"github.com/andypeng2015/esgc/gc"
)

// Description describes a supported metric.
type Description struct {
	Name        string
	Description string
	Kind        ValueKind
	Cumulative  bool
}

var descriptions = []Description{
	{Name: "/gc/cycles/forced:gc-cycles", Description: "Count of completed collections forced by the embedder.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/cycles/total:gc-cycles", Description: "Count of all completed collections.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/allocs:bytes", Description: "Cumulative sum of bytes allocated to objects.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/allocs:objects", Description: "Cumulative count of object allocations.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/external:bytes", Description: "Externally allocated bytes attributed to the heap.", Kind: KindUint64},
	{Name: "/gc/heap/frees:bytes", Description: "Cumulative sum of bytes freed by the sweeper.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/frees:objects", Description: "Cumulative count of objects freed by the sweeper.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/goal:bytes", Description: "Live bytes at which the next collection is triggered.", Kind: KindUint64},
	{Name: "/gc/heap/live:bytes", Description: "Bytes held by allocated objects.", Kind: KindUint64},
	{Name: "/gc/heap/objects:objects", Description: "Number of allocated objects.", Kind: KindUint64},
	{Name: "/gc/heap/occupancy:ratio", Description: "Fraction of chunk memory held by allocated objects.", Kind: KindFloat64},
	{Name: "/gc/pauses:seconds", Description: "Distribution of recent collection pause latencies.", Kind: KindFloat64Histogram, Cumulative: true},
	{Name: "/gc/roots/dynamic:objects", Description: "Number of distinct pinned objects.", Kind: KindUint64},
	{Name: "/gc/roots/static:roots", Description: "Number of registered static roots.", Kind: KindUint64},
	{Name: "/gc/weak/cleared:references", Description: "Cumulative count of weak references cleared by collections.", Kind: KindUint64, Cumulative: true},
	{Name: "/memory/classes/heap/chunks:bytes", Description: "Chunk memory owned by the heap.", Kind: KindUint64},
	{Name: "/memory/classes/heap/free:bytes", Description: "Chunk memory on the free lists or in the bump region.", Kind: KindUint64},
	{Name: "/memory/sys:bytes", Description: "Memory obtained from the system by the page allocator.", Kind: KindUint64},
	{Name: "/sched/contexts:contexts", Description: "Number of open contexts.", Kind: KindUint64},
}

// All returns descriptions of every supported metric, sorted by name.
func All() []Description {
	return append([]Description(nil), descriptions...)
}

// Float64Histogram represents a distribution of float64 values. Bucket i
// counts values in [Buckets[i], Buckets[i+1]).
type Float64Histogram struct {
	Counts  []uint64
	Buckets []float64
}

// Sample captures a single metric sample.
type Sample struct {
	Name  string
	Value Value
}

// pauseBuckets are the boundaries of the pause histogram, in seconds: one
// bucket per power of two from 1µs to about 1s.
var pauseBuckets = func() []float64 {
	b := []float64{math.Inf(-1)}
	for d := 1e-6; d < 2; d *= 2 {
		b = append(b, d)
	}
	return append(b, math.Inf(1))
}()

// Read populates each Value field of samples with the current value of the
// named metric of h. Unknown names get a value of kind KindBad.
func Read(h *gc.Heap, samples []Sample) {
	var ms gc.MemStats
	h.ReadMemStats(&ms)
	for i := range samples {
		s := &samples[i]
		switch s.Name {
		case "/gc/cycles/forced:gc-cycles":
			s.Value = uint64Value(uint64(ms.NumForcedGC))
		case "/gc/cycles/total:gc-cycles":
			s.Value = uint64Value(uint64(ms.NumGC))
		case "/gc/heap/allocs:bytes":
			s.Value = uint64Value(ms.TotalAlloc)
		case "/gc/heap/allocs:objects":
			s.Value = uint64Value(ms.Mallocs)
		case "/gc/heap/external:bytes":
			s.Value = uint64Value(ms.External)
		case "/gc/heap/frees:bytes":
			s.Value = uint64Value(ms.TotalFreed)
		case "/gc/heap/frees:objects":
			s.Value = uint64Value(ms.Frees)
		case "/gc/heap/goal:bytes":
			s.Value = uint64Value(ms.NextGC)
		case "/gc/heap/live:bytes":
			s.Value = uint64Value(ms.Alloc)
		case "/gc/heap/objects:objects":
			s.Value = uint64Value(ms.HeapObjects)
		case "/gc/heap/occupancy:ratio":
			occ := 0.0
			if ms.HeapSys != 0 {
				occ = float64(ms.Alloc) / float64(ms.HeapSys)
			}
			s.Value = Value{kind: KindFloat64, scalar: math.Float64bits(occ)}
		case "/gc/pauses:seconds":
			s.Value = Value{kind: KindFloat64Histogram, hist: pauseHistogram(h)}
		case "/gc/roots/dynamic:objects":
			s.Value = uint64Value(uint64(ms.DynamicRoots))
		case "/gc/roots/static:roots":
			s.Value = uint64Value(uint64(ms.StaticRoots))
		case "/gc/weak/cleared:references":
			s.Value = uint64Value(ms.WeakCleared)
		case "/memory/classes/heap/free:bytes":
			s.Value = uint64Value(ms.HeapFree)
		case "/memory/classes/heap/chunks:bytes":
			s.Value = uint64Value(ms.HeapSys)
		case "/memory/sys:bytes":
			s.Value = uint64Value(ms.Sys)
		case "/sched/contexts:contexts":
			s.Value = uint64Value(uint64(ms.Contexts))
		default:
			s.Value = Value{}
		}
	}
}

func pauseHistogram(h *gc.Heap) *Float64Histogram {
	hist := &Float64Histogram{
		Counts:  make([]uint64, len(pauseBuckets)-1),
		Buckets: pauseBuckets,
	}
	pauses, _ := h.Pauses()
	for _, p := range pauses {
		sec := p.Seconds()
		i := 0
		for i+1 < len(hist.Counts) && sec >= pauseBuckets[i+1] {
			i++
		}
		hist.Counts[i]++
	}
	return hist
}

func uint64Value(n uint64) Value {
	return Value{kind: KindUint64, scalar: n}
}

// Value represents a metric value returned by Read.
type Value struct {
	kind   ValueKind
	scalar uint64
	hist   *Float64Histogram
}

// Float64 returns the value as a float64. It panics if the kind is not
// KindFloat64.
func (v Value) Float64() float64 {
	if v.kind != KindFloat64 {
		panic("called Float64 on non-float64 metric value")
	}
	return math.Float64frombits(v.scalar)
}

// Float64Histogram returns the value as a histogram. It panics if the kind
// is not KindFloat64Histogram.
func (v Value) Float64Histogram() *Float64Histogram {
	if v.kind != KindFloat64Histogram {
		panic("called Float64Histogram on non-histogram metric value")
	}
	return v.hist
}

// Kind returns a tag representing the kind of value this is.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Uint64 returns the value as a uint64. It panics if the kind is not
// KindUint64.
func (v Value) Uint64() uint64 {
	if v.kind != KindUint64 {
		panic("called Uint64 on non-uint64 metric value")
	}
	return v.scalar
}

// ValueKind is a tag for a metric Value which indicates its type.
type ValueKind int

const (
	KindBad ValueKind = iota
	KindUint64
	KindFloat64
	KindFloat64Histogram
)
