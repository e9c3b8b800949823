package gc

import (
	"github.com/andypeng2015/esgc/internal/gclayout"
	"github.com/andypeng2015/esgc/internal/ilist"
)

// weakSlot is a payload word that refers to its target without keeping it
// alive.
type weakSlot struct {
	holder Ref
	word   int
}

// Weak is a reference from Go code to a heap object that does not keep the
// object alive. Caches use it for entries that must not outlive their
// last strong reference.
type Weak struct {
	h    *Heap
	ref  Ref
	node *ilist.Node[*Weak]
}

// NewWeak creates a weak handle for r.
func (h *Heap) NewWeak(r Ref) *Weak {
	w := &Weak{h: h, ref: r}
	w.node = h.weaks.Push(w)
	return w
}

// Get returns the referenced object, or 0 once it was collected or the
// handle was released.
func (w *Weak) Get() Ref { return w.ref }

// Release unregisters the handle. Get returns 0 afterwards.
func (w *Weak) Release() {
	if w.h != nil {
		w.h.weaks.Remove(w.node)
		w.h = nil
	}
	w.ref = 0
}

// WeakHandles returns the number of registered weak handles.
func (h *Heap) WeakHandles() int { return h.weaks.Len() }

// processWeak clears every weak reference whose target was not marked. It
// runs between marking and sweeping, so no cleared target is reachable.
func (h *Heap) processWeak() int {
	cleared := 0
	for _, s := range h.weakSlots {
		if v := h.ValueAt(s.holder, s.word); v.IsRef() && !h.isMarked(v.Ref()) {
			h.SetValue(s.holder, s.word, Undefined)
			cleared++
		}
	}
	for _, r := range h.weakArrays {
		n := usedCount(h, r, 1)
		for i := gclayout.WordElements; i < gclayout.WordElements+n; i++ {
			if v := h.ValueAt(r, i); v.IsRef() && !h.isMarked(v.Ref()) {
				h.SetValue(r, i, Undefined)
				cleared++
			}
		}
	}
	for n := h.weaks.Front(); n != nil; n = n.Next() {
		if w := n.Value; w.ref != 0 && !h.isMarked(w.ref) {
			w.ref = 0
			cleared++
		}
	}
	h.weakSlots = h.weakSlots[:0]
	h.weakArrays = h.weakArrays[:0]
	return cleared
}
