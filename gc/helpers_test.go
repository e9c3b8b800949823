package gc

import (
	"errors"
	"testing"
	"time"
)

func newTestHeap(t *testing.T, cfg Config) *Heap {
	t.Helper()
	return NewHeap(nil, nil, cfg)
}

// mustPanic runs fn and checks that it panics with an *AssertionError.
func mustPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Errorf("%s: did not panic", what)
			return
		}
		err, ok := r.(error)
		var ae *AssertionError
		if !ok || !errors.As(err, &ae) {
			t.Errorf("%s: panicked with %v, want an *AssertionError", what, r)
		}
	}()
	fn()
}

// fakeClock is a settable Config.Now.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// testHost is a host object holding one reference.
type testHost struct {
	held      Ref
	destroyed int
}

func (ho *testHost) GCTrace(t *Tracer) { t.Mark(ho.held) }
func (ho *testHost) Destroy()          { ho.destroyed++ }

// codeListener records destroyed code objects.
type codeListener struct {
	destroyed []Ref
}

func (l *codeListener) CodeDestroyed(h *Heap, code Ref) {
	l.destroyed = append(l.destroyed, code)
}
