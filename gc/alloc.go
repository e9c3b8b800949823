package gc

import (
	"github.com/andypeng2015/esgc/internal/gclayout"
)

// Free storage is formatted as an object with tag TagFree. Its first
// payload words link it into a free list:
//
//   - quick list blocks (up to quickMax bytes): word 0 is the next block of
//     the same size.
//   - general list heads: word 0 is the head of the next longer length,
//     word 1 the next block of this length. Blocks chained behind a head
//     use word 0 as their next link.
//
// A free block of exactly Align bytes is a filler: a bare header that is on
// no list and only waits to be coalesced by the next sweep.

const (
	quickMax   = 256
	quickLists = quickMax/gclayout.Align + 1

	// A general list block at least this much larger than the request
	// becomes the bump region instead of being split.
	bumpRefill = 4 << 10

	linkWords = 2
)

type freeRun struct {
	off, size uint32
}

// Allocate returns storage for an object of nbytes bytes (header included)
// with the given tag and a zeroed payload. nbytes must be a multiple of
// gclayout.Align. ctx is the requesting context and may be nil.
//
// Allocate returns 0 when the memory cannot be obtained even after a
// collection. Contexts turn that into an out of memory abort.
func (h *Heap) Allocate(ctx *Context, tag gclayout.Tag, nbytes uint32) Ref {
	if nbytes%gclayout.Align != 0 || nbytes < gclayout.MinObjectSize {
		gcPanic("unaligned allocation size")
	}
	if tag == gclayout.TagFree || tag >= gclayout.NumTags {
		gcPanic("allocating an object with tag " + tag.String())
	}
	if h.inCollector {
		gcPanic("allocation during collection")
	}
	if h.destroyed {
		gcPanic("allocation in a destroyed heap")
	}
	if h.needsGC && h.locked == 0 {
		h.collect(ReasonLimit)
	}

	// The object is accounted before its storage exists. A collection
	// below recomputes the live bytes without it, and a failed allocation
	// takes it back.
	gcs := h.stats.numGC
	h.bytesLive += uint64(nbytes)

	large := nbytes >= h.cfg.LargeObjectThreshold
	r := h.allocStorage(nbytes, large)
	if r == 0 && h.locked == 0 {
		h.collect(ReasonOOM)
		r = h.allocStorage(nbytes, large)
	}
	if r == 0 {
		if h.stats.numGC == gcs {
			h.bytesLive -= uint64(nbytes)
		}
		if gcDebug {
			println("gc: out of memory allocating", nbytes, "bytes")
		}
		return 0
	}
	if h.stats.numGC != gcs {
		h.bytesLive += uint64(nbytes)
	}

	c := h.pages.lookup(r)
	mem, off := c.mem, r.offset()
	hdr := header{tag: tag, size: nbytes}
	if large {
		hdr.flags = gclayout.FlagLarge
	}
	writeHeader(mem, off, hdr)
	clear(mem[off+gclayout.HeaderSize : off+nbytes])

	h.stats.mallocs++
	h.stats.totalAlloc += uint64(nbytes)
	if ctx != nil {
		ctx.allocated += uint64(nbytes)
	}
	if h.bytesLive+h.bytesLiveExternal > h.bytesLimit {
		h.needsGC = true
	}
	return r
}

func (h *Heap) allocStorage(nbytes uint32, large bool) Ref {
	if large {
		return h.allocLarge(nbytes)
	}
	return h.allocSmall(nbytes)
}

func (h *Heap) allocSmall(n uint32) Ref {
	if n <= quickMax {
		if r := h.popQuick(n); r != 0 {
			return r
		}
	}
	if r := h.bump(n); r != 0 {
		return r
	}
	if r, size := h.popFreeRange(n); r != 0 {
		if size-n >= bumpRefill {
			h.retireCurrent(true)
			h.current = h.pages.lookup(r)
			h.currentTop = r.offset()
			h.currentLimit = r.offset() + size
			return h.bump(n)
		}
		if size > n {
			mem, off := h.object(r)
			h.makeFree(mem, off+n, size-n)
			h.insertFree(r+Ref(n), size-n)
		}
		return r
	}
	c := h.newChunk(chunkPayload, false)
	if c == nil {
		return 0
	}
	h.retireCurrent(true)
	h.current = c
	h.currentTop = 0
	h.currentLimit = chunkPayload
	return h.bump(n)
}

func (h *Heap) allocLarge(n uint32) Ref {
	c := h.newChunk(int(n), true)
	if c == nil {
		return 0
	}
	c.top = n
	return c.base()
}

func (h *Heap) bump(n uint32) Ref {
	if h.current == nil || h.currentLimit-h.currentTop < n {
		return 0
	}
	r := makeRef(h.current.id, h.currentTop)
	h.currentTop += n
	return r
}

// newChunk obtains a chunk for this heap, honoring MaxHeapBytes.
func (h *Heap) newChunk(size int, large bool) *chunk {
	sz := chunkPayload
	if large {
		sz = roundUpPage(size)
	}
	if h.cfg.MaxHeapBytes != 0 && h.bytesInHeap+uint64(sz) > h.cfg.MaxHeapBytes {
		return nil
	}
	c := h.pages.alloc(size, h, large)
	if c == nil {
		return nil
	}
	if !large {
		c.top = chunkPayload
	}
	h.chunks = append(h.chunks, c)
	h.bytesInHeap += uint64(len(c.mem))
	return c
}

func (h *Heap) releaseChunk(c *chunk) {
	if c == h.current {
		h.current = nil
	}
	h.bytesInHeap -= uint64(len(c.mem))
	h.pages.free(c)
}

// retireCurrent formats the unused part of the bump region as free
// storage. With insert set the block also goes on a free list; during a
// collection the sweep picks it up instead.
func (h *Heap) retireCurrent(insert bool) {
	c := h.current
	if c == nil {
		return
	}
	if n := h.currentLimit - h.currentTop; n > 0 {
		h.makeFree(c.mem, h.currentTop, n)
		if insert {
			h.insertFree(makeRef(c.id, h.currentTop), n)
		}
	}
	h.current = nil
	h.currentTop, h.currentLimit = 0, 0
}

// makeFree formats [off, off+size) as one free block. In hardened mode the
// payload is poisoned and its checksum kept in the header.
func (h *Heap) makeFree(mem []byte, off, size uint32) {
	hdr := header{tag: gclayout.TagFree, size: size}
	if h.cfg.Hardened && size > gclayout.HeaderSize {
		payload := mem[off+gclayout.HeaderSize : off+size]
		for i := range payload {
			payload[i] = gclayout.PoisonByte
		}
		hdr.flags = gclayout.FlagPoisoned
		hdr.check = poisonChecksum(mem, off, size)
	}
	writeHeader(mem, off, hdr)
}

// insertFree puts a formatted free block on the matching list.
func (h *Heap) insertFree(r Ref, size uint32) {
	if size < gclayout.MinObjectSize {
		return
	}
	mem, off := h.object(r)
	if size <= quickMax {
		i := size / gclayout.Align
		writeWord(mem, off, 0, uint64(h.quick[i]))
		h.quick[i] = r
		return
	}
	h.insertFreeRange(r, size)
}

func (h *Heap) popQuick(n uint32) Ref {
	i := n / gclayout.Align
	r := h.quick[i]
	if r == 0 {
		return 0
	}
	mem, off := h.object(r)
	h.checkPoison(r, mem, off)
	h.quick[i] = Ref(readWord(mem, off, 0))
	return r
}

func (h *Heap) rangeLen(r Ref) uint32 {
	mem, off := h.object(r)
	return readHeader(mem, off).size
}

// link reads a link word of a free block.
func (h *Heap) link(r Ref, i int) Ref {
	mem, off := h.object(r)
	return Ref(readWord(mem, off, i))
}

func (h *Heap) setLink(r Ref, i int, next Ref) {
	mem, off := h.object(r)
	writeWord(mem, off, i, uint64(next))
}

// insertFreeRange adds a block to the general list. The outer list has one
// head per distinct length, in ascending order.
func (h *Heap) insertFreeRange(r Ref, size uint32) {
	var prev Ref
	next := h.freeRanges
	for next != 0 && h.rangeLen(next) < size {
		prev, next = next, h.link(next, 0)
	}
	if next != 0 && h.rangeLen(next) == size {
		// Chain behind the head of this length.
		h.setLink(r, 0, h.link(next, 1))
		h.setLink(next, 1, r)
		return
	}
	h.setLink(r, 0, next)
	h.setLink(r, 1, 0)
	if prev == 0 {
		h.freeRanges = r
	} else {
		h.setLink(prev, 0, r)
	}
}

// popFreeRange removes the shortest block of at least n bytes from the
// general list. It returns the block and its length, or 0.
func (h *Heap) popFreeRange(n uint32) (Ref, uint32) {
	var prev Ref
	head := h.freeRanges
	for head != 0 && h.rangeLen(head) < n {
		prev, head = head, h.link(head, 0)
	}
	if head == 0 {
		return 0, 0
	}
	size := h.rangeLen(head)
	var r Ref
	if more := h.link(head, 1); more != 0 {
		h.setLink(head, 1, h.link(more, 0))
		r = more
	} else {
		next := h.link(head, 0)
		if prev == 0 {
			h.freeRanges = next
		} else {
			h.setLink(prev, 0, next)
		}
		r = head
	}
	mem, off := h.object(r)
	h.checkPoison(r, mem, off)
	return r, size
}

// freeBytes returns the bytes on the free lists and in the bump region.
func (h *Heap) freeBytes() uint64 {
	var n uint64
	for i, r := range h.quick {
		for ; r != 0; r = h.link(r, 0) {
			n += uint64(i * gclayout.Align)
		}
	}
	for head := h.freeRanges; head != 0; head = h.link(head, 0) {
		size := uint64(h.rangeLen(head))
		n += size
		for more := h.link(head, 1); more != 0; more = h.link(more, 0) {
			n += size
		}
	}
	if h.current != nil {
		n += uint64(h.currentLimit - h.currentTop)
	}
	return n
}
