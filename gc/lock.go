package gc

// MaxLockDepth bounds the collector lock nesting. Deeper nesting is taken
// as a leaked lock.
const MaxLockDepth = 1 << 20

// CollectorLock keeps the heap from collecting until it is unlocked.
// Locks nest.
type CollectorLock struct {
	h        *Heap
	unlocked bool
}

// Lock suppresses collections until the returned lock is released.
// Allocations still succeed; a collection that becomes due is deferred.
func (h *Heap) Lock() *CollectorLock {
	if h.locked >= MaxLockDepth {
		gcPanic("collector lock nested too deeply")
	}
	h.locked++
	return &CollectorLock{h: h}
}

// Unlock releases the lock. When the outermost lock is released and
// forceIfPending is set, a deferred collection runs immediately.
func (l *CollectorLock) Unlock(forceIfPending bool) {
	if l.unlocked {
		gcPanic("collector lock released twice")
	}
	l.unlocked = true
	h := l.h
	h.locked--
	if h.locked != 0 {
		return
	}
	if forceIfPending && h.needsGC {
		h.collect(ReasonUnlock)
	}
	h.checkEligible()
}
