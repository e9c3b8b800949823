package gc

import "testing"

func TestMarkStackLIFO(t *testing.T) {
	s := NewMarkStack(0)
	const n = 3*SegmentSize + 17
	for i := 1; i <= n; i++ {
		s.Push(Ref(i))
	}
	if got := s.Stats().Segments; got != 4 {
		t.Errorf("segments after %d pushes: got %d, want 4", n, got)
	}
	for i := n; i >= 1; i-- {
		if got := s.Pop(); got != Ref(i) {
			t.Fatalf("pop: got %v, want %v", got, Ref(i))
		}
	}
	if got := s.Pop(); got != 0 {
		t.Errorf("pop on empty stack: got %v, want 0", got)
	}
	if !s.Empty() {
		t.Error("stack not empty after popping everything")
	}
	st := s.Stats()
	if st.Segments != 1 || st.PeakSegments != 4 || st.Allocated != 4 {
		t.Errorf("stats after drain: got %+v, want 1 segment, peak 4, 4 allocated", st)
	}
}

func TestMarkStackReusesSegments(t *testing.T) {
	s := NewMarkStack(0)
	for round := 0; round < 3; round++ {
		for i := 1; i <= 2*SegmentSize; i++ {
			s.Push(Ref(i))
		}
		for !s.Empty() {
			s.Pop()
		}
	}
	if got := s.Stats().Allocated; got != 3 {
		t.Errorf("allocated segments: got %d, want 3", got)
	}
}

// The segment boundary must not lose or duplicate the entry that filled
// the previous segment.
func TestMarkStackBoundary(t *testing.T) {
	s := NewMarkStack(0)
	for i := 1; i <= SegmentSize; i++ {
		s.Push(Ref(i))
	}
	if got := s.Pop(); got != SegmentSize {
		t.Errorf("pop across boundary: got %v, want %v", got, Ref(SegmentSize))
	}
	s.Push(99)
	if got := s.Pop(); got != 99 {
		t.Errorf("pop after refill: got %v, want 99", got)
	}
}

func TestMarkStackExhaustion(t *testing.T) {
	s := NewMarkStack(2)
	for i := 1; i <= 2*SegmentSize; i++ {
		s.Push(Ref(i))
	}
	if !s.Exhausted() {
		t.Fatal("stack with a 2 segment cap did not exhaust")
	}
	st := s.Stats()
	if st.Exhaustions != 1 || st.Allocated != 2 {
		t.Errorf("stats: got %+v, want 1 exhaustion and 2 allocated", st)
	}
	// The second segment was dropped; the first is intact.
	if got := s.Pop(); got != SegmentSize {
		t.Errorf("pop after exhaustion: got %v, want %v", got, Ref(SegmentSize))
	}
	s.ClearExhausted()
	if s.Exhausted() {
		t.Error("ClearExhausted did not reset the flag")
	}
}

func TestMarkStackSharing(t *testing.T) {
	s := NewMarkStack(0)
	s.Retain()
	s.Release()
	s.Push(1)
	if got := s.Pop(); got != 1 {
		t.Errorf("pop on retained stack: got %v, want 1", got)
	}
	s.Release()
	mustPanic(t, "release past zero", s.Release)
}
