package gc

import (
	"encoding/binary"

	"github.com/andypeng2015/esgc/internal/gclayout"
)

// This file is the only place that reads or writes object bytes. The tracer,
// the sweeper and the object constructors go through these accessors.

// header is a decoded object header.
type header struct {
	tag   gclayout.Tag
	flags gclayout.Flag
	check uint16 // poison checksum of free storage, hardened mode only
	size  uint32
}

func (h header) marked() bool { return h.flags&gclayout.FlagMarked != 0 }

func readHeader(mem []byte, off uint32) header {
	return header{
		tag:   gclayout.Tag(mem[off]),
		flags: gclayout.Flag(mem[off+1]),
		check: binary.LittleEndian.Uint16(mem[off+2:]),
		size:  binary.LittleEndian.Uint32(mem[off+4:]),
	}
}

func writeHeader(mem []byte, off uint32, hdr header) {
	mem[off] = byte(hdr.tag)
	mem[off+1] = byte(hdr.flags)
	binary.LittleEndian.PutUint16(mem[off+2:], hdr.check)
	binary.LittleEndian.PutUint32(mem[off+4:], hdr.size)
}

func setFlag(mem []byte, off uint32, f gclayout.Flag)   { mem[off+1] |= byte(f) }
func clearFlag(mem []byte, off uint32, f gclayout.Flag) { mem[off+1] &^= byte(f) }

func wordOffset(off uint32, i int) uint32 {
	return off + gclayout.HeaderSize + uint32(i)*gclayout.WordSize
}

func readWord(mem []byte, off uint32, i int) uint64 {
	return binary.LittleEndian.Uint64(mem[wordOffset(off, i):])
}

func writeWord(mem []byte, off uint32, i int, w uint64) {
	binary.LittleEndian.PutUint64(mem[wordOffset(off, i):], w)
}

// object resolves a reference to its chunk memory and offset. It panics for
// references that do not point into an allocated chunk.
func (h *Heap) object(r Ref) ([]byte, uint32) {
	c := h.pages.lookup(r)
	if c == nil {
		gcPanic("invalid reference " + r.String())
	}
	return c.mem, r.offset()
}

func (h *Heap) header(r Ref) header {
	mem, off := h.object(r)
	return readHeader(mem, off)
}

// Tag returns the kind of the object at r.
func (h *Heap) Tag(r Ref) gclayout.Tag {
	return h.header(r).tag
}

// Size returns the size in bytes, header included, of the object at r.
func (h *Heap) Size(r Ref) uint32 {
	return h.header(r).size
}

// Words returns the number of payload words of the object at r.
func (h *Heap) Words(r Ref) int {
	return int(h.Size(r)-gclayout.HeaderSize) / gclayout.WordSize
}

// Word reads payload word i of r.
func (h *Heap) Word(r Ref, i int) uint64 {
	mem, off := h.object(r)
	h.checkWord(r, mem, off, i)
	return readWord(mem, off, i)
}

// SetWord writes payload word i of r.
func (h *Heap) SetWord(r Ref, i int, w uint64) {
	mem, off := h.object(r)
	h.checkWord(r, mem, off, i)
	writeWord(mem, off, i, w)
}

// ValueAt reads payload word i of r as a Value.
func (h *Heap) ValueAt(r Ref, i int) Value { return Value(h.Word(r, i)) }

// SetValue writes v into payload word i of r.
func (h *Heap) SetValue(r Ref, i int, v Value) { h.SetWord(r, i, uint64(v)) }

// Bytes returns the payload bytes of r starting at word i. The slice aliases
// heap memory and is only valid until the next allocation or collection.
func (h *Heap) Bytes(r Ref, i int) []byte {
	mem, off := h.object(r)
	hdr := readHeader(mem, off)
	return mem[wordOffset(off, i) : off+hdr.size]
}

func (h *Heap) checkWord(r Ref, mem []byte, off uint32, i int) {
	hdr := readHeader(mem, off)
	if i < 0 || wordOffset(off, i)+gclayout.WordSize > off+hdr.size {
		gcPanic("word index out of range for " + hdr.tag.String())
	}
	if hdr.tag == gclayout.TagFree {
		gcPanic("access to free storage at " + r.String())
	}
}

// isMarked reports whether r is marked. References the heap does not own are
// treated as marked: this heap has no say over their lifetime.
func (h *Heap) isMarked(r Ref) bool {
	c := h.pages.lookup(r)
	if c == nil || c.owner != h {
		return true
	}
	return readHeader(c.mem, r.offset()).marked()
}
