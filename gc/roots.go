package gc

import "github.com/andypeng2015/esgc/internal/ilist"

// RootData is implemented by anything outside the heap that holds object
// references: interpreter frames, native bindings. GCTrace is called once
// per collection and must mark exactly the references it currently holds.
type RootData interface {
	GCTrace(t *Tracer)
}

// RootHandle is the registration of one RootData in a RootCollection.
type RootHandle struct {
	rc   *RootCollection
	node *ilist.Node[*RootHandle]
	data RootData
}

// Remove unregisters the root. Removing twice does nothing.
func (hd *RootHandle) Remove() {
	rc := hd.rc
	if rc == nil {
		return
	}
	rc.static.Remove(hd.node)
	hd.rc = nil
	rc.checkEmpty()
}

// RootCollection is the set of objects the collector never reclaims: the
// static roots in registration order and the pinned dynamic roots.
//
// The reference count is not atomic.
type RootCollection struct {
	refs    int
	static  ilist.List[*RootHandle]
	dynamic *DynamicRoots

	// owner is told when the collection becomes empty.
	owner *Heap
}

// NewRootCollection creates a collection with one reference. maxDynamic
// caps the pinned objects; 0 means no cap.
func NewRootCollection(maxDynamic int) *RootCollection {
	rc := &RootCollection{refs: 1, dynamic: newDynamicRoots(maxDynamic)}
	rc.dynamic.onEmpty = rc.checkEmpty
	return rc
}

// Retain adds a reference.
func (rc *RootCollection) Retain() *RootCollection {
	rc.refs++
	return rc
}

// Release drops a reference. The last release unregisters every root.
func (rc *RootCollection) Release() {
	if rc.refs <= 0 {
		gcPanic("root collection released too often")
	}
	rc.refs--
	if rc.refs == 0 {
		rc.clear()
		rc.owner = nil
	}
}

func (rc *RootCollection) shared() bool { return rc.refs > 1 }

// Add registers a static root. Roots are traced in registration order.
func (rc *RootCollection) Add(data RootData) *RootHandle {
	hd := &RootHandle{rc: rc, data: data}
	hd.node = rc.static.Push(hd)
	return hd
}

// Remove unregisters a static root.
func (rc *RootCollection) Remove(hd *RootHandle) {
	if hd.rc == rc {
		hd.Remove()
	}
}

// Dynamic returns the pinned-object table.
func (rc *RootCollection) Dynamic() *DynamicRoots { return rc.dynamic }

// Static returns the number of static roots.
func (rc *RootCollection) Static() int { return rc.static.Len() }

// Empty reports whether no root of either kind is registered.
func (rc *RootCollection) Empty() bool {
	return rc.static.Empty() && rc.dynamic.Len() == 0
}

func (rc *RootCollection) checkEmpty() {
	if rc.owner != nil && rc.Empty() {
		rc.owner.rootsEmptied()
	}
}

// absorb moves every root of o into rc. Handles registered with o stay
// valid and now refer to rc.
func (rc *RootCollection) absorb(o *RootCollection) error {
	for n := o.static.Front(); n != nil; n = n.Next() {
		n.Value.rc = rc
	}
	rc.static.Append(&o.static)
	return rc.dynamic.absorb(o.dynamic)
}

func (rc *RootCollection) clear() {
	for n := rc.static.Pop(); n != nil; n = rc.static.Pop() {
		n.Value.rc = nil
	}
	rc.dynamic.clear()
}
