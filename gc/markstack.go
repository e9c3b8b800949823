package gc

// SegmentSize is the number of references one mark stack segment holds.
const SegmentSize = 1024

// markSegment is one link of the mark stack chain. prev points at the
// segment that was current before this one was pushed.
type markSegment struct {
	refs [SegmentSize]Ref
	prev *markSegment
}

// MarkStack is the worklist of marked objects whose outgoing references
// have not been traced yet. It grows by chaining fixed size segments and
// keeps emptied segments on a freelist.
//
// When no segment can be obtained the stack does not fail: it flags itself
// exhausted and drops the entries of the current segment. The objects those
// entries referred to are already marked, so the collector recovers them by
// rescanning the heap for marked objects once the stack runs empty.
//
// A MarkStack may be shared by related heaps. The reference count is not
// atomic; only one heap collects at a time.
type MarkStack struct {
	refs int

	cur  *markSegment
	top  int // next free slot in cur
	free *markSegment

	inUse       int // segments on the chain, cur included
	allocated   int // segments ever allocated and not dropped
	peak        int
	maxSegments int

	exhausted   bool
	exhaustions int
}

// MarkStackStats reports the mark stack's diagnostics counters.
type MarkStackStats struct {
	Segments     int
	PeakSegments int
	Allocated    int
	Exhaustions  int
}

// NewMarkStack creates a mark stack with one reference and one segment.
// maxSegments caps the segments the stack may allocate; 0 means no cap.
func NewMarkStack(maxSegments int) *MarkStack {
	return &MarkStack{
		refs:        1,
		cur:         &markSegment{},
		inUse:       1,
		allocated:   1,
		peak:        1,
		maxSegments: maxSegments,
	}
}

// Retain adds a reference.
func (s *MarkStack) Retain() *MarkStack {
	s.refs++
	return s
}

// Release drops a reference. The last release drops all segments.
func (s *MarkStack) Release() {
	if s.refs <= 0 {
		gcPanic("mark stack released too often")
	}
	s.refs--
	if s.refs == 0 {
		s.cur, s.free = nil, nil
		s.top, s.inUse, s.allocated = 0, 0, 0
	}
}

// Push adds r to the stack.
func (s *MarkStack) Push(r Ref) {
	s.cur.refs[s.top] = r
	s.top++
	if s.top == SegmentSize {
		s.overflow()
	}
}

// Pop removes the most recently pushed reference. It returns 0 when the
// stack is empty.
func (s *MarkStack) Pop() Ref {
	if s.top == 0 {
		if s.cur.prev == nil {
			return 0
		}
		s.underflow()
	}
	s.top--
	return s.cur.refs[s.top]
}

// Empty reports whether nothing is left to pop.
func (s *MarkStack) Empty() bool {
	return s.top == 0 && s.cur.prev == nil
}

// Exhausted reports whether entries were dropped since the last
// ClearExhausted.
func (s *MarkStack) Exhausted() bool { return s.exhausted }

// ClearExhausted resets the exhaustion flag before a rescan.
func (s *MarkStack) ClearExhausted() { s.exhausted = false }

// Stats returns the diagnostics counters.
func (s *MarkStack) Stats() MarkStackStats {
	return MarkStackStats{
		Segments:     s.inUse,
		PeakSegments: s.peak,
		Allocated:    s.allocated,
		Exhaustions:  s.exhaustions,
	}
}

// overflow makes room after the current segment filled up.
func (s *MarkStack) overflow() {
	seg := s.free
	if seg != nil {
		s.free = seg.prev
	} else if s.maxSegments == 0 || s.allocated < s.maxSegments {
		seg = &markSegment{}
		s.allocated++
	}
	if seg == nil {
		// Out of segments. Drop this segment's entries; the collector
		// finds them again by rescanning.
		s.exhausted = true
		s.exhaustions++
		s.top = 0
		if gcDebug {
			println("gc: mark stack exhausted at", s.inUse, "segments")
		}
		return
	}
	seg.prev = s.cur
	s.cur = seg
	s.top = 0
	s.inUse++
	if s.inUse > s.peak {
		s.peak = s.inUse
	}
}

// underflow moves the emptied current segment to the freelist and resumes
// the previous one, which is always full.
func (s *MarkStack) underflow() {
	seg := s.cur
	s.cur = seg.prev
	s.top = SegmentSize
	seg.prev = s.free
	s.free = seg
	s.inUse--
}
