package gc

import "github.com/andypeng2015/esgc/internal/gclayout"

// HostObject is a native structure wrapped by a heap object. The heap calls
// GCTrace while the wrapper is reachable and Destroy once when it is
// reclaimed.
type HostObject interface {
	GCTrace(t *Tracer)
	Destroy()
}

// NativeFunc is the host implementation of a function object.
type NativeFunc func(ctx *Context, this Value, args []Value) (Value, error)

// Host returns the host object wrapped by r, or nil.
func (h *Heap) Host(r Ref) HostObject {
	return h.hosts[h.Word(r, gclayout.WordHostID)]
}

// Native returns the native implementation of function r, or nil.
func (h *Heap) Native(r Ref) NativeFunc {
	return h.natives[r]
}

// Buffer returns the backing store of array buffer r.
func (h *Heap) Buffer(r Ref) []byte {
	return h.buffers[r]
}

// HostObjects returns the number of registered host objects.
func (h *Heap) HostObjects() int { return len(h.hosts) }
