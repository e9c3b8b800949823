package debug

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/andypeng2015/esgc/gc"
)

func TestReadGCStats(t *testing.T) {
	h := gc.NewHeap(nil, nil, gc.Config{})
	for i := 0; i < 5; i++ {
		h.ForceCollect(gc.ReasonForced)
	}
	stats := GCStats{PauseQuantiles: make([]time.Duration, 3)}
	ReadGCStats(h, &stats)
	if stats.NumGC != 5 {
		t.Errorf("NumGC: got %d, want 5", stats.NumGC)
	}
	if len(stats.Pause) != 5 || len(stats.PauseEnd) != 5 {
		t.Errorf("pause history: %d pauses, %d ends", len(stats.Pause), len(stats.PauseEnd))
	}
	if !stats.LastGC.Equal(h.LastGC()) {
		t.Errorf("LastGC: got %v, want %v", stats.LastGC, h.LastGC())
	}
	q := stats.PauseQuantiles
	if q[0] > q[1] || q[1] > q[2] {
		t.Errorf("quantiles not ordered: %v", q)
	}
	var sum time.Duration
	for _, p := range stats.Pause {
		sum += p
		if p < q[0] || p > q[2] {
			t.Errorf("pause %v outside [%v, %v]", p, q[0], q[2])
		}
	}
	if sum != stats.PauseTotal {
		t.Errorf("pause total: got %v, want %v", stats.PauseTotal, sum)
	}
}

func TestReadGCStatsNoCollections(t *testing.T) {
	h := gc.NewHeap(nil, nil, gc.Config{})
	stats := GCStats{PauseQuantiles: []time.Duration{1, 2}}
	ReadGCStats(h, &stats)
	if stats.NumGC != 0 || len(stats.Pause) != 0 {
		t.Errorf("fresh heap: %+v", stats)
	}
	if stats.PauseQuantiles[0] != 0 || stats.PauseQuantiles[1] != 0 {
		t.Errorf("quantiles of no pauses: %v", stats.PauseQuantiles)
	}
}

func TestFreeOSMemory(t *testing.T) {
	h := gc.NewHeap(nil, nil, gc.Config{})
	c := h.NewContext(nil)
	defer c.Close()
	for i := 0; i < 200; i++ {
		c.NewString(strings.Repeat("f", 1000))
	}
	h.ForceCollect(gc.ReasonForced)
	if h.Chunks() != 1 {
		t.Fatalf("chunks after collection: got %d, want 1", h.Chunks())
	}
	FreeOSMemory(h)
	if h.Chunks() != 0 || h.Pages().Sys() != 0 {
		t.Errorf("after FreeOSMemory: %d chunks, %d bytes from the system", h.Chunks(), h.Pages().Sys())
	}
	if s := c.NewString("again"); h.StringContent(s) != "again" {
		t.Error("allocation after FreeOSMemory")
	}
}

func TestSetMemoryLimit(t *testing.T) {
	h := gc.NewHeap(nil, nil, gc.Config{MaxHeapBytes: 1 << 20})
	if got := SetMemoryLimit(h, -1); got != 1<<20 {
		t.Errorf("query: got %d, want %d", got, 1<<20)
	}
	if got := SetMemoryLimit(h, 1<<16); got != 1<<20 {
		t.Errorf("set: previous limit %d, want %d", got, 1<<20)
	}
	if got := h.Config().MaxHeapBytes; got != 1<<16 {
		t.Errorf("new limit: got %d, want %d", got, 1<<16)
	}

	c := h.NewContext(nil)
	defer c.Close()
	err := c.Run(func(c *gc.Context) {
		for {
			c.Push(gc.StringValue(c.NewString(strings.Repeat("x", 1000))))
		}
	})
	if err == nil {
		t.Error("allocation past the memory limit succeeded")
	}
}

func TestWriteHeapDump(t *testing.T) {
	h := gc.NewHeap(nil, nil, gc.Config{})
	c := h.NewContext(nil)
	defer c.Close()

	a := c.NewString("a")
	arr := c.NewArray(2, gc.StringValue(a), gc.Int(1))
	if err := h.Pin(arr); err != nil {
		t.Fatal(err)
	}
	h.Pin(arr)

	var buf bytes.Buffer
	if err := WriteHeapDump(h, &buf); err != nil {
		t.Fatal(err)
	}
	var dump HeapDump
	if err := json.Unmarshal(buf.Bytes(), &dump); err != nil {
		t.Fatalf("dump is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(dump.Objects) != 2 {
		t.Fatalf("objects: got %d, want 2", len(dump.Objects))
	}
	if len(dump.Roots) != 1 || dump.Roots[0] != uint64(arr) {
		t.Errorf("roots: got %v, want [%d]", dump.Roots, arr)
	}
	for _, o := range dump.Objects {
		switch gc.Ref(o.ID) {
		case a:
			if o.Type != "string" || len(o.Ptrs) != 0 {
				t.Errorf("string entry: %+v", o)
			}
		case arr:
			if o.Type != "boxed-array" || len(o.Ptrs) != 1 || o.Ptrs[0] != uint64(a) {
				t.Errorf("array entry: %+v", o)
			}
			if o.Size != uint64(h.Size(arr)) {
				t.Errorf("array size: got %d, want %d", o.Size, h.Size(arr))
			}
		default:
			t.Errorf("unexpected object %+v", o)
		}
	}
}
