package gc

import (
	"errors"
	"strings"
)

var (
	// ErrOutOfMemory is reported when neither a collection nor the page
	// allocator can satisfy an allocation.
	ErrOutOfMemory = errors.New("gc: out of memory")

	// ErrRootTableFull is returned when pinning an object would exceed the
	// configured dynamic root limit. Callers must not ignore it: the object
	// is not protected from collection.
	ErrRootTableFull = errors.New("gc: dynamic root table full")

	// ErrNotRelated is returned by Merge for heaps with different page
	// allocators.
	ErrNotRelated = errors.New("gc: heaps are not related")

	// ErrHeapBusy is returned for operations that cannot run while a heap is
	// collecting or locked.
	ErrHeapBusy = errors.New("gc: heap is busy")

	// ErrInvalidLength is reported for a negative buffer length.
	ErrInvalidLength = errors.New("gc: invalid length")

	// ErrHeapDestroyed is returned when using a heap after Destroy or Merge.
	ErrHeapDestroyed = errors.New("gc: heap destroyed")
)

// AssertionError is the panic value for broken collector invariants. These
// are programming errors in the collector or the embedder, not runtime
// conditions.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string {
	return "gc: " + e.Msg
}

// gcPanic reports a broken invariant.
func gcPanic(msg string) {
	panic(&AssertionError{Msg: msg})
}

// AbortError is the panic value a Context uses to unwind the current
// operation. Context.Run recovers it and returns Err.
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string {
	return "gc: aborted: " + e.Err.Error()
}

func (e *AbortError) Unwrap() error { return e.Err }

// VerifyError describes one inconsistency found by Heap.Verify.
type VerifyError struct {
	Ref Ref
	Tag string
	Msg string
}

func (e VerifyError) Error() string {
	return e.Ref.String() + " " + e.Tag + ": " + e.Msg
}

// VerifyErrors is the list of inconsistencies found in one heap walk.
type VerifyErrors []VerifyError

func (errs VerifyErrors) Error() string {
	var sb strings.Builder
	for i, err := range errs {
		if i != 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}
