package gc

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/andypeng2015/esgc/internal/gclayout"
)

func TestPinCollectUnpin(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	s := c.NewString("hi")
	if err := h.Pin(s); err != nil {
		t.Fatal(err)
	}
	h.ForceCollect(ReasonForced)
	if !h.Contains(s) {
		t.Fatal("pinned string was collected")
	}
	if got := h.StringContent(s); got != "hi" {
		t.Errorf("pinned string content: got %q, want %q", got, "hi")
	}
	if got, want := h.Live(), uint64(gclayout.Size(2)); got != want {
		t.Errorf("live bytes: got %d, want %d", got, want)
	}

	h.Unpin(s)
	h.Unpin(s) // unpinning twice is harmless
	h.ForceCollect(ReasonForced)
	if h.Contains(s) {
		t.Error("unpinned string survived a collection")
	}
	if h.Live() != 0 {
		t.Errorf("live bytes after collecting everything: got %d, want 0", h.Live())
	}
	if err := h.Verify(); err != nil {
		t.Error(err)
	}
}

func TestCollectSoundness(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	// Keep every third string reachable through an array held in a
	// register, drop the rest.
	arr := c.NewArray(100)
	c.Push(ObjectValue(arr))
	var kept, dropped []Ref
	for i := 0; i < 100; i++ {
		s := c.NewString(strings.Repeat("x", i))
		if i%3 == 0 {
			h.Append(arr, StringValue(s))
			kept = append(kept, s)
		} else {
			dropped = append(dropped, s)
		}
	}
	h.ForceCollect(ReasonForced)
	for i, s := range kept {
		if !h.Contains(s) {
			t.Fatalf("reachable string %v was collected", s)
		}
		if got := h.StringLength(s); got != 3*i {
			t.Errorf("string %v: length %d, want %d", s, got, 3*i)
		}
	}
	for _, s := range dropped {
		if h.Contains(s) {
			t.Errorf("unreachable string %v survived", s)
		}
	}
	if err := h.Verify(); err != nil {
		t.Error(err)
	}
	tr := h.LastTrace()
	if tr.ObjectsFreed != uint64(len(dropped)) {
		t.Errorf("objects freed: got %d, want %d", tr.ObjectsFreed, len(dropped))
	}
	if tr.ObjectsLive != uint64(len(kept)+1) {
		t.Errorf("objects live: got %d, want %d", tr.ObjectsLive, len(kept)+1)
	}
}

func TestAllocationAlignmentAndAccounting(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	var total uint64
	var refs []Ref
	for n := 0; n < 300; n++ {
		s := c.NewString(strings.Repeat("a", n))
		if s.offset()%gclayout.Align != 0 {
			t.Fatalf("string of %d bytes at unaligned %v", n, s)
		}
		if err := h.Pin(s); err != nil {
			t.Fatal(err)
		}
		refs = append(refs, s)
		total += uint64(h.Size(s))
	}
	if h.Live() != total {
		t.Errorf("live bytes: got %d, want %d", h.Live(), total)
	}
	if err := h.Verify(); err != nil {
		t.Fatal(err)
	}
	h.ForceCollect(ReasonForced)
	if h.Live() != total {
		t.Errorf("live bytes after collection: got %d, want %d", h.Live(), total)
	}
	for _, r := range refs {
		h.Unpin(r)
	}
	h.ForceCollect(ReasonForced)
	if h.Live() != 0 {
		t.Errorf("live bytes after freeing all: got %d, want 0", h.Live())
	}

	var m MemStats
	h.ReadMemStats(&m)
	if m.TotalAlloc != m.TotalFreed || m.TotalAlloc != total {
		t.Errorf("byte totals: alloc %d, freed %d, want both %d", m.TotalAlloc, m.TotalFreed, total)
	}
	if m.Mallocs != m.Frees || m.HeapObjects != 0 {
		t.Errorf("object counts: mallocs %d, frees %d, objects %d", m.Mallocs, m.Frees, m.HeapObjects)
	}
}

func TestFreeStorageReuse(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	for i := 0; i < 1000; i++ {
		c.NewString("garbage")
	}
	h.ForceCollect(ReasonForced)
	chunks := h.Chunks()
	for round := 0; round < 5; round++ {
		for i := 0; i < 1000; i++ {
			c.NewString("garbage")
		}
		h.ForceCollect(ReasonForced)
	}
	if h.Chunks() != chunks {
		t.Errorf("heap grew from %d to %d chunks while reusing free storage", chunks, h.Chunks())
	}
}

func TestSpareChunk(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	big := strings.Repeat("z", 1000)
	for i := 0; i < 200; i++ {
		c.NewString(big)
	}
	if h.Chunks() < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", h.Chunks())
	}
	h.ForceCollect(ReasonForced)
	if h.Chunks() != 1 {
		t.Errorf("empty chunks after collection: got %d, want 1 spare", h.Chunks())
	}
	if h.InHeap() != gclayout.ChunkSize {
		t.Errorf("heap bytes: got %d, want %d", h.InHeap(), gclayout.ChunkSize)
	}
}

func TestLargeObjects(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	small := c.NewString("small")
	c.Push(StringValue(small))
	before := h.Chunks()
	large := c.NewString(strings.Repeat("L", 20000))
	if h.Chunks() != before+1 {
		t.Fatalf("large string did not get its own chunk")
	}
	if large.offset() != 0 {
		t.Errorf("large object at offset %d, want 0", large.offset())
	}
	if got := h.StringLength(large); got != 20000 {
		t.Errorf("large string length: got %d, want 20000", got)
	}
	h.ForceCollect(ReasonForced)
	if h.Chunks() != before {
		t.Errorf("chunks after collecting the large string: got %d, want %d", h.Chunks(), before)
	}
	if !h.Contains(small) {
		t.Error("small string in a register was collected")
	}
}

func TestMarkStackExhaustionRecovery(t *testing.T) {
	h := newTestHeap(t, Config{MaxMarkStackSegments: 1})
	c := h.NewContext(nil)
	defer c.Close()

	const n = 3000
	outer := c.NewArray(n)
	if err := h.Pin(outer); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		s := c.NewString("leaf")
		inner := c.NewArray(1, StringValue(s))
		h.Append(outer, ObjectValue(inner))
	}
	h.ForceCollect(ReasonForced)

	tr := h.LastTrace()
	if tr.Exhaustions == 0 || tr.Rescans == 0 {
		t.Errorf("mark stack capped at one segment did not degrade: %d exhaustions, %d rescans", tr.Exhaustions, tr.Rescans)
	}
	if tr.ObjectsFreed != 0 {
		t.Errorf("reachable objects freed after exhaustion: %d", tr.ObjectsFreed)
	}
	for i := 0; i < n; i++ {
		inner := h.Element(outer, i).Ref()
		if got := h.StringContent(h.Element(inner, 0).Ref()); got != "leaf" {
			t.Fatalf("leaf %d: got %q", i, got)
		}
	}
	if err := h.Verify(); err != nil {
		t.Error(err)
	}
}

func TestMarkStackGrowth(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	const n = 5000
	arr := c.NewArray(n)
	c.Push(ObjectValue(arr))
	for i := 0; i < n; i++ {
		h.Append(arr, StringValue(c.NewString("x")))
	}
	h.ForceCollect(ReasonForced)
	tr := h.LastTrace()
	if tr.PeakSegments < 4 {
		t.Errorf("peak mark stack segments: got %d, want at least 4", tr.PeakSegments)
	}
	if tr.Exhaustions != 0 {
		t.Errorf("unbounded mark stack exhausted %d times", tr.Exhaustions)
	}
	if tr.ObjectsLive != n+1 {
		t.Errorf("objects live: got %d, want %d", tr.ObjectsLive, n+1)
	}
}

// A chain deeper than a mark stack segment: each link is an array holding
// the next one.
func TestMarkDeepChain(t *testing.T) {
	for _, segments := range []int{0, 1} {
		h := newTestHeap(t, Config{MaxMarkStackSegments: segments})
		c := h.NewContext(nil)

		const n = SegmentSize + 500
		head := c.NewArray(1)
		c.Push(ObjectValue(head))
		links := []Ref{head}
		for i := 1; i < n; i++ {
			next := c.NewArray(1)
			h.Append(links[i-1], ObjectValue(next))
			links = append(links, next)
		}
		h.ForceCollect(ReasonForced)

		if tr := h.LastTrace(); tr.ObjectsLive != n || tr.ObjectsFreed != 0 {
			t.Errorf("segments %d: %d objects live, %d freed, want %d and 0", segments, tr.ObjectsLive, tr.ObjectsFreed, n)
		}
		for i, r := range links {
			if !h.Contains(r) {
				t.Fatalf("segments %d: link %d reclaimed", segments, i)
			}
		}
		if err := h.Verify(); err != nil {
			t.Errorf("segments %d: %v", segments, err)
		}
		c.Close()
	}
}

func TestLiveStableAcrossCollections(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	arr := c.NewArray(100)
	c.Push(ObjectValue(arr))
	for i := 0; i < 100; i++ {
		h.Append(arr, StringValue(c.NewString("kept")))
		c.NewString("dropped")
	}
	h.ForceCollect(ReasonForced)
	first := h.Live()
	h.ForceCollect(ReasonForced)
	if got := h.Live(); got != first {
		t.Errorf("live bytes: got %d after the second collection, want %d", got, first)
	}
	if first == 0 {
		t.Error("no live bytes after collection")
	}
}

func TestHardenedPoison(t *testing.T) {
	h := newTestHeap(t, Config{Hardened: true})
	c := h.NewContext(nil)
	defer c.Close()

	s := c.NewString("doomed")
	h.ForceCollect(ReasonForced)
	if err := h.Verify(); err != nil {
		t.Fatalf("fresh free storage fails verification: %v", err)
	}

	// Scribble over the freed string past the free list links.
	mem, off := h.pages.lookup(s).mem, s.offset()
	mem[off+gclayout.HeaderSize+linkWords*gclayout.WordSize+3] = 0x42

	err := h.Verify()
	var verr VerifyErrors
	if !errors.As(err, &verr) || !strings.Contains(err.Error(), "free storage was written to") {
		t.Errorf("Verify after scribbling: got %v", err)
	}
	mustPanic(t, "allocation from poisoned storage", func() { c.NewString("next") })
}

func TestTraceRecordOutput(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHeap(t, Config{Trace: true, TraceWriter: &buf})
	c := h.NewContext(nil)
	defer c.Close()

	c.NewString("x")
	h.ForceCollect(ReasonForced)
	h.ForceCollect(ReasonMaintenance)
	out := buf.String()
	if !strings.Contains(out, "gc #1 (forced)") || !strings.Contains(out, "gc #2 (maintenance)") {
		t.Errorf("trace output:\n%s", out)
	}
	if lines := strings.Count(out, "\n"); lines != 2 {
		t.Errorf("trace lines: got %d, want 2", lines)
	}
	pauses, ends := h.Pauses()
	if len(pauses) != 2 || len(ends) != 2 || ends[0].Before(ends[1]) {
		t.Errorf("pause history: %v %v", pauses, ends)
	}
	if h.NumGC() != 2 {
		t.Errorf("NumGC: got %d, want 2", h.NumGC())
	}
}

func TestLimitTriggersCollection(t *testing.T) {
	h := newTestHeap(t, Config{MinLimit: 4096})
	c := h.NewContext(nil)
	defer c.Close()

	for i := 0; i < 500; i++ {
		c.NewString("some garbage that adds up")
	}
	if h.NumGC() == 0 {
		t.Fatal("no collection after exceeding the limit")
	}
	if got := h.LastTrace().Reason; got != ReasonLimit {
		t.Errorf("reason: got %v, want %v", got, ReasonLimit)
	}
	if h.Live() > 4096+64 {
		t.Errorf("live bytes %d well above the limit", h.Live())
	}
}

func TestExternalMemory(t *testing.T) {
	h := newTestHeap(t, Config{MinLimit: 1 << 16})
	c := h.NewContext(nil)
	defer c.Close()

	buf := c.NewArrayBuffer(1 << 17)
	if h.External() != 1<<17 {
		t.Errorf("external bytes: got %d, want %d", h.External(), 1<<17)
	}
	if len(h.Buffer(buf)) != 1<<17 {
		t.Errorf("backing store: got %d bytes", len(h.Buffer(buf)))
	}
	if !h.NeedsGC() {
		t.Error("external bytes past the limit did not schedule a collection")
	}
	if !h.CollectIfNeeded() {
		t.Fatal("CollectIfNeeded did not collect")
	}
	if got := h.LastTrace().Reason; got != ReasonExternal {
		t.Errorf("reason: got %v, want %v", got, ReasonExternal)
	}
	if h.External() != 0 || h.Buffer(buf) != nil {
		t.Errorf("unreachable buffer not released: external %d", h.External())
	}
	if h.CollectIfNeeded() {
		t.Error("CollectIfNeeded collected with nothing pending")
	}
}

func TestOutOfMemoryAbort(t *testing.T) {
	h := newTestHeap(t, Config{MaxHeapBytes: gclayout.ChunkSize})
	c := h.NewContext(nil)
	defer c.Close()

	big := strings.Repeat("m", 1000)
	err := c.Run(func(c *Context) {
		for {
			c.Push(StringValue(c.NewString(big)))
		}
	})
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Run: got %v, want ErrOutOfMemory", err)
	}
	if c.Registers() != 0 {
		t.Errorf("registers left after abort: %d", c.Registers())
	}
	if got := h.LastTrace().Reason; got != ReasonOOM {
		t.Errorf("last collection reason: got %v, want %v", got, ReasonOOM)
	}
	if err := h.Verify(); err != nil {
		t.Fatal(err)
	}
	h.ForceCollect(ReasonForced)
	if h.Live() != 0 {
		t.Errorf("live bytes after abort and collection: %d", h.Live())
	}
	if err := c.Run(func(c *Context) { c.NewString(big) }); err != nil {
		t.Errorf("allocation after recovery: %v", err)
	}
}

func TestRetryAfterOutOfMemory(t *testing.T) {
	h := newTestHeap(t, Config{MaxHeapBytes: gclayout.ChunkSize})
	c := h.NewContext(nil)
	defer c.Close()

	l := h.Lock()
	err := c.Run(func(c *Context) {
		for {
			c.NewString(strings.Repeat("g", 1000))
		}
	})
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("filling a locked heap: got %v, want ErrOutOfMemory", err)
	}
	if h.NumGC() != 0 {
		t.Fatalf("locked heap collected %d times", h.NumGC())
	}

	// The lock also holds off the collection Retry asks for.
	calls := 0
	retry := func(c *Context) {
		calls++
		c.NewString(strings.Repeat("r", 2000))
	}
	if err := c.Retry(retry); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Retry on a locked heap: got %v, want ErrOutOfMemory", err)
	}
	if calls != 2 || h.NumGC() != 0 {
		t.Errorf("Retry on a locked heap: %d calls, %d collections, want 2 and 0", calls, h.NumGC())
	}
	l.Unlock(false)
	if !h.NeedsGC() {
		t.Fatal("deferred collection not pending after unlock")
	}

	// The first allocation runs the pending collection.
	calls = 0
	if err := c.Retry(retry); err != nil {
		t.Errorf("Retry: %v", err)
	}
	if calls != 1 || h.NumGC() != 1 {
		t.Errorf("Retry after unlock: %d calls, %d collections, want 1 and 1", calls, h.NumGC())
	}
}

func TestForceCollectWhileLocked(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	l := h.Lock()
	s := c.NewString("held by native code")
	h.ForceCollect(ReasonForced)
	h.FreeOSMemory()
	if h.NumGC() != 0 || !h.Contains(s) {
		t.Fatalf("locked heap: %d collections, contains %v", h.NumGC(), h.Contains(s))
	}
	if !h.NeedsGC() {
		t.Error("forced collection on a locked heap not left pending")
	}
	l.Unlock(true)
	if h.NumGC() != 1 || h.LastTrace().Reason != ReasonUnlock {
		t.Errorf("unlock: %d collections, last reason %v", h.NumGC(), h.LastTrace().Reason)
	}
	if h.Contains(s) {
		t.Error("unreferenced string survived the pending collection")
	}
}

func TestRunPropagatesOtherPanics(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	mustPanic(t, "assertion inside Run", func() {
		c.Run(func(c *Context) { gcPanic("boom") })
	})
	err := c.Run(func(c *Context) {
		c.OpenScope()
		c.Push(Int(1))
		c.Abort(ErrHeapBusy)
	})
	if !errors.Is(err, ErrHeapBusy) {
		t.Errorf("Abort: got %v, want ErrHeapBusy", err)
	}
	if c.Registers() != 0 {
		t.Errorf("registers after abort: got %d, want 0", c.Registers())
	}
	mustPanic(t, "CloseScope without a scope", c.CloseScope)
}

func TestScopes(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	c.Push(Int(1))
	c.OpenScope()
	s := c.NewString("scoped")
	c.Push(StringValue(s))
	h.ForceCollect(ReasonForced)
	if !h.Contains(s) {
		t.Fatal("string in an open scope was collected")
	}
	c.CloseScope()
	if c.Registers() != 1 {
		t.Errorf("registers after CloseScope: got %d, want 1", c.Registers())
	}
	h.ForceCollect(ReasonForced)
	if h.Contains(s) {
		t.Error("string survived after its scope closed")
	}
}

func TestClosedContext(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	s := c.NewString("held")
	c.Push(StringValue(s))
	c.Close()
	c.Close()
	if h.Contexts() != 0 {
		t.Errorf("contexts: got %d, want 0", h.Contexts())
	}
	h.ForceCollect(ReasonForced)
	if h.Contains(s) {
		t.Error("register of a closed context is still a root")
	}
	mustPanic(t, "allocation through a closed context", func() { c.NewString("x") })
}

func TestAllocateChecks(t *testing.T) {
	h := newTestHeap(t, Config{})
	mustPanic(t, "unaligned size", func() { h.Allocate(nil, gclayout.TagString, 20) })
	mustPanic(t, "free tag", func() { h.Allocate(nil, gclayout.TagFree, 16) })
	mustPanic(t, "unknown tag", func() { h.Allocate(nil, gclayout.NumTags, 16) })

	r := h.Allocate(nil, gclayout.TagString, 16)
	if r == 0 || h.Tag(r) != gclayout.TagString || h.Size(r) != 16 {
		t.Errorf("Allocate: ref %v", r)
	}
	if h.Word(r, 0) != 0 {
		t.Error("payload not zeroed")
	}
	mustPanic(t, "word out of range", func() { h.Word(r, 1) })
}

func TestForEachObject(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.NewString("s")
	}
	n := 0
	h.ForEachObject(func(o ObjectInfo) bool {
		if o.Tag != gclayout.TagString {
			t.Errorf("object %v has tag %v", o.Ref, o.Tag)
		}
		n++
		return true
	})
	if n != 10 {
		t.Errorf("objects visited: got %d, want 10", n)
	}
	n = 0
	h.ForEachObject(func(o ObjectInfo) bool {
		n++
		return n < 3
	})
	if n != 3 {
		t.Errorf("early stop visited %d objects, want 3", n)
	}
}

func TestVerifyDetectsDanglingReference(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	arr := c.NewArray(1, ObjectValue(makeRef(4000, 64)))
	c.Push(ObjectValue(arr))
	err := h.Verify()
	if err == nil || !strings.Contains(err.Error(), "not an object") {
		t.Errorf("Verify: got %v, want a dangling reference error", err)
	}
}

func TestDump(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	defer c.Close()

	c.Push(StringValue(c.NewString(strings.Repeat("d", 200))))
	c.Push(StringValue(c.NewString(strings.Repeat("D", 20000))))

	var buf bytes.Buffer
	if err := h.Dump(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"chunk 1 (small", "(large", "*-"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump does not contain %q:\n%s", want, out)
		}
	}
}

func TestDestroy(t *testing.T) {
	h := newTestHeap(t, Config{})
	rt := h.NewRuntime("main")
	c := h.NewContext(rt)
	g := c.NewGlobal(rt)
	if err := h.Pin(c.NewString("pinned")); err != nil {
		t.Fatal(err)
	}
	ho := &testHost{}
	c.SetProperty(g, "host", ObjectValue(c.NewHostObject(ho)))

	mustPanic(t, "destroy with an open context", h.Destroy)
	c.Close()
	l := h.Lock()
	mustPanic(t, "destroy while locked", h.Destroy)
	l.Unlock(false)

	sys := h.Pages().Sys()
	h.Destroy()
	if !h.Destroyed() {
		t.Fatal("heap not destroyed")
	}
	if ho.destroyed != 1 {
		t.Errorf("host object destroyed %d times, want 1", ho.destroyed)
	}
	if rt.Heap() != nil {
		t.Error("runtime still attached after Destroy")
	}
	if sys == 0 || h.Pages().Sys() != 0 {
		t.Errorf("page memory: %d before, %d after", sys, h.Pages().Sys())
	}
	h.Destroy() // idempotent
	mustPanic(t, "collect a destroyed heap", func() { h.ForceCollect(ReasonForced) })
}

func TestDestroyLeakPanics(t *testing.T) {
	h := newTestHeap(t, Config{})
	c := h.NewContext(nil)
	s := c.NewString("leak")
	h.Pin(s)
	c.Close()

	// A shared root collection keeps its pins through Destroy.
	h.Roots().Retain()
	mustPanic(t, "destroy with unreclaimable objects", h.Destroy)
}

func TestCollectorLock(t *testing.T) {
	h := newTestHeap(t, Config{MinLimit: 1024})
	c := h.NewContext(nil)
	defer c.Close()

	l1 := h.Lock()
	l2 := h.Lock()
	if h.Locked() != 2 {
		t.Errorf("lock depth: got %d, want 2", h.Locked())
	}
	for i := 0; i < 100; i++ {
		c.NewString("while locked")
	}
	if !h.NeedsGC() || h.NumGC() != 0 {
		t.Fatalf("locked heap: needsGC %v, collections %d", h.NeedsGC(), h.NumGC())
	}
	l2.Unlock(true)
	if h.NumGC() != 0 {
		t.Error("inner unlock collected")
	}
	mustPanic(t, "double unlock", func() { l2.Unlock(true) })
	l1.Unlock(true)
	if h.NumGC() != 1 || h.LastTrace().Reason != ReasonUnlock {
		t.Errorf("outer unlock: %d collections, last reason %v", h.NumGC(), h.LastTrace().Reason)
	}
	if h.Locked() != 0 {
		t.Errorf("lock depth: got %d, want 0", h.Locked())
	}
}

func TestMerge(t *testing.T) {
	h1 := newTestHeap(t, Config{})
	h2 := NewHeap(nil, h1, Config{})
	if !h1.Related(h2) {
		t.Fatal("child heap is not related to its parent")
	}

	c2 := h2.NewContext(nil)
	rt2 := h2.NewRuntime("child")
	s := c2.NewString("merged")
	if err := h2.Pin(s); err != nil {
		t.Fatal(err)
	}
	w := h2.NewWeak(s)
	live := h2.Live()

	c1 := h1.NewContext(nil)
	c1.Push(StringValue(c1.NewString("parent")))
	before := h1.Live()

	if err := h1.Merge(h2); err != nil {
		t.Fatal(err)
	}
	if !h2.Destroyed() {
		t.Error("merged heap not dissolved")
	}
	if c2.Heap() != h1 || rt2.Heap() != h1 {
		t.Error("context or runtime not moved to the surviving heap")
	}
	if h1.Live() != before+live {
		t.Errorf("live bytes: got %d, want %d", h1.Live(), before+live)
	}
	if !h1.Roots().Dynamic().Contains(s) {
		t.Error("pin not moved")
	}
	h1.ForceCollect(ReasonForced)
	if got := h1.StringContent(s); got != "merged" {
		t.Errorf("merged string: got %q", got)
	}
	if w.Get() != s {
		t.Error("weak handle of merged heap cleared")
	}
	if err := h1.Verify(); err != nil {
		t.Error(err)
	}
	c2.Push(StringValue(c2.NewString("after merge")))
	if h1.Contexts() != 2 {
		t.Errorf("contexts: got %d, want 2", h1.Contexts())
	}

	if err := h1.Merge(h2); !errors.Is(err, ErrHeapDestroyed) {
		t.Errorf("merge of a destroyed heap: got %v", err)
	}
	h3 := newTestHeap(t, Config{})
	if err := h1.Merge(h3); !errors.Is(err, ErrNotRelated) {
		t.Errorf("merge of an unrelated heap: got %v", err)
	}
	h4 := NewHeap(nil, h1, Config{})
	l := h4.Lock()
	if err := h1.Merge(h4); !errors.Is(err, ErrHeapBusy) {
		t.Errorf("merge of a locked heap: got %v", err)
	}
	l.Unlock(false)
}
