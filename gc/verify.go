package gc

import (
	"fmt"
	"io"

	"github.com/andypeng2015/esgc/internal/gclayout"
	"github.com/sigurn/crc16"
)

var poisonTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// poisonChecksum covers the payload of a free block past its link words.
func poisonChecksum(mem []byte, off, size uint32) uint16 {
	from := wordOffset(off, linkWords)
	end := off + size
	if from >= end {
		return crc16.Checksum(nil, poisonTable)
	}
	return crc16.Checksum(mem[from:end], poisonTable)
}

// checkPoison panics if poisoned free storage was written to.
func (h *Heap) checkPoison(r Ref, mem []byte, off uint32) {
	hdr := readHeader(mem, off)
	if hdr.flags&gclayout.FlagPoisoned == 0 {
		return
	}
	if poisonChecksum(mem, off, hdr.size) != hdr.check {
		gcPanic("write to free storage at " + r.String())
	}
}

// ObjectInfo describes one object found by ForEachObject.
type ObjectInfo struct {
	Ref  Ref
	Tag  gclayout.Tag
	Size uint32
}

// ForEachObject calls fn for every allocated object of the heap in chunk
// order. It stops early when fn returns false.
func (h *Heap) ForEachObject(fn func(ObjectInfo) bool) {
	if h.inCollector {
		gcPanic("heap walk during collection")
	}
	for _, c := range h.chunks {
		stop := false
		h.walkChunk(c, func(off uint32, hdr header) {
			if stop || hdr.tag == gclayout.TagFree {
				return
			}
			if !fn(ObjectInfo{Ref: makeRef(c.id, off), Tag: hdr.tag, Size: hdr.size}) {
				stop = true
			}
		})
		if stop {
			return
		}
	}
}

// Contains reports whether r is the address of an allocated object of this
// heap.
func (h *Heap) Contains(r Ref) bool {
	c := h.pages.lookup(r)
	if c == nil || c.owner != h {
		return false
	}
	found := false
	h.walkChunk(c, func(off uint32, hdr header) {
		if off == r.offset() && hdr.tag != gclayout.TagFree {
			found = true
		}
	})
	return found
}

// Verify walks the heap and checks its consistency: headers, outgoing
// references, poison and the live byte count. It returns nil or a
// VerifyErrors.
func (h *Heap) Verify() error {
	if h.inCollector {
		gcPanic("verify during collection")
	}
	var errs VerifyErrors
	add := func(r Ref, tag gclayout.Tag, format string, args ...any) {
		errs = append(errs, VerifyError{Ref: r, Tag: tag.String(), Msg: fmt.Sprintf(format, args...)})
	}

	objects := make(map[Ref]bool)
	var live uint64
	for _, c := range h.chunks {
		if c.owner != h {
			add(c.base(), gclayout.TagFree, "chunk %d owned by another heap", c.id)
			continue
		}
		h.walkChunk(c, func(off uint32, hdr header) {
			r := makeRef(c.id, off)
			switch {
			case hdr.tag >= gclayout.NumTags:
				add(r, hdr.tag, "unknown tag %d", hdr.tag)
			case hdr.tag == gclayout.TagFree:
				if hdr.flags&gclayout.FlagPoisoned != 0 && poisonChecksum(c.mem, off, hdr.size) != hdr.check {
					add(r, hdr.tag, "free storage was written to")
				}
			default:
				if hdr.marked() {
					add(r, hdr.tag, "marked outside a collection")
				}
				if c.large != (hdr.flags&gclayout.FlagLarge != 0) {
					add(r, hdr.tag, "large flag does not match chunk")
				}
				objects[r] = true
				live += uint64(hdr.size)
			}
		})
	}

	for r := range objects {
		tag := h.Tag(r)
		h.References(r, func(to Ref) {
			if objects[to] {
				return
			}
			if c := h.pages.lookup(to); c != nil && c.owner != h {
				return // object of a related heap
			}
			add(r, tag, "reference to %v which is not an object", to)
		})
	}
	if live != h.bytesLive {
		add(0, gclayout.TagFree, "objects hold %d bytes, live count is %d", live, h.bytesLive)
	}
	if h.bytesLive > h.bytesInHeap {
		add(0, gclayout.TagFree, "live count %d exceeds heap size %d", h.bytesLive, h.bytesInHeap)
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Dump writes a map of the heap: one line per chunk row, one character per
// 64 bytes. '*' is the start of an object, '-' its continuation, '·' free
// storage and ' ' the unused bump region.
func (h *Heap) Dump(w io.Writer) error {
	const granule = 64
	for _, c := range h.chunks {
		kind := "small"
		if c.large {
			kind = "large"
		}
		if _, err := fmt.Fprintf(w, "chunk %d (%s, %d bytes):\n", c.id, kind, len(c.mem)); err != nil {
			return err
		}
		cells := make([]rune, (c.top+granule-1)/granule)
		for i := range cells {
			cells[i] = '·'
		}
		if c == h.current {
			for g := h.currentTop / granule; g < h.currentLimit/granule; g++ {
				cells[g] = ' '
			}
		}
		h.walkChunk(c, func(off uint32, hdr header) {
			if hdr.tag == gclayout.TagFree {
				return
			}
			first := off / granule
			cells[first] = '*'
			for g := first + 1; g < (off+hdr.size+granule-1)/granule; g++ {
				if cells[g] == '·' {
					cells[g] = '-'
				}
			}
		})
		for len(cells) > 0 {
			n := min(len(cells), 64)
			if _, err := fmt.Fprintln(w, string(cells[:n])); err != nil {
				return err
			}
			cells = cells[n:]
		}
	}
	return nil
}
