package gc

import (
	"time"

	"github.com/andypeng2015/esgc/internal/ilist"
)

// HeapManager owns every heap of an embedding. Heaps with open contexts
// are on the active list, idle heaps on the inactive list, and heaps that
// nothing keeps alive wait on the destroy list for the next maintenance
// pass.
//
// All methods are idempotent with respect to list membership.
type HeapManager struct {
	active   ilist.List[*Heap]
	inactive ilist.List[*Heap]
	destroy  ilist.List[*Heap]

	maintenance bool
}

// NewHeapManager creates an empty manager.
func NewHeapManager() *HeapManager {
	return &HeapManager{}
}

// AddHeap registers h on the active list.
func (m *HeapManager) AddHeap(h *Heap) {
	if h.mnode.List() == nil {
		m.active.PushNode(h.mnode)
	}
}

// RemoveHeap unregisters h.
func (m *HeapManager) RemoveHeap(h *Heap) {
	if l := h.mnode.List(); l != nil {
		l.Remove(h.mnode)
	}
}

func (m *HeapManager) move(to *ilist.List[*Heap], h *Heap) {
	if h.mnode.List() == nil || h.destroyed {
		return
	}
	to.MoveTo(h.mnode)
}

// MoveHeapToActiveList marks h as in use.
func (m *HeapManager) MoveHeapToActiveList(h *Heap) { m.move(&m.active, h) }

// MoveHeapToInactiveList marks h as idle.
func (m *HeapManager) MoveHeapToInactiveList(h *Heap) { m.move(&m.inactive, h) }

// MoveHeapToDestroyList schedules h for destruction.
func (m *HeapManager) MoveHeapToDestroyList(h *Heap) { m.move(&m.destroy, h) }

// StartMaintenanceGC requests a maintenance pass.
func (m *HeapManager) StartMaintenanceGC() { m.maintenance = true }

// MaintenancePending reports whether a maintenance pass was requested and
// has not run yet.
func (m *HeapManager) MaintenancePending() bool { return m.maintenance }

// Maintain runs a maintenance pass: heaps on the destroy list that are
// still unused are destroyed, and inactive heaps are collected if they
// have been idle for their MaintenanceIdle since their last collection, or
// grew past their offline limit.
func (m *HeapManager) Maintain(now time.Time) (collected, destroyed int) {
	m.maintenance = false
	for n := m.destroy.Front(); n != nil; {
		next := n.Next()
		h := n.Value
		if h.eligible() {
			h.Destroy()
			destroyed++
		} else if !h.contexts.Empty() {
			m.active.MoveTo(n)
		} else {
			m.inactive.MoveTo(n)
		}
		n = next
	}
	for n := m.inactive.Front(); n != nil; n = n.Next() {
		h := n.Value
		idle := now.Sub(h.lastActivity) >= h.cfg.MaintenanceIdle && h.lastGC.Before(h.lastActivity)
		if idle || h.bytesLive+h.bytesLiveExternal > h.bytesOfflineLimit {
			if h.locked == 0 {
				h.collect(ReasonMaintenance)
				collected++
			}
		}
	}
	return collected, destroyed
}

// Heaps returns every registered heap: active, then inactive, then those
// waiting for destruction.
func (m *HeapManager) Heaps() []*Heap {
	heaps := make([]*Heap, 0, m.active.Len()+m.inactive.Len()+m.destroy.Len())
	for _, l := range []*ilist.List[*Heap]{&m.active, &m.inactive, &m.destroy} {
		l.Each(func(h *Heap) { heaps = append(heaps, h) })
	}
	return heaps
}

// Counts returns the lengths of the active, inactive and destroy lists.
func (m *HeapManager) Counts() (active, inactive, destroy int) {
	return m.active.Len(), m.inactive.Len(), m.destroy.Len()
}
