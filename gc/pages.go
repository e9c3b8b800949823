package gc

import (
	"github.com/andypeng2015/esgc/internal/gclayout"
)

// chunkPayload is the number of bytes a small-object chunk holds.
const chunkPayload = gclayout.ChunkSize

// chunk is one allocation unit of the page allocator. Small-object chunks
// are exactly ChunkSize bytes and hold many objects laid out back to back
// from offset 0 up to top. A large chunk holds a single object at offset 0.
type chunk struct {
	id    uint32
	mem   []byte
	owner *Heap
	large bool
	mmap  bool

	// top is the end of the initialized storage; the sweeper walks
	// [0, top).
	top uint32
}

func (c *chunk) base() Ref { return makeRef(c.id, 0) }

// PageAllocator hands out chunks and owns the chunk address space. Heaps
// that are likely to merge share one allocator, so their references stay
// valid after a merge.
//
// The reference count is not atomic: like the rest of the collector a
// PageAllocator belongs to a single thread.
type PageAllocator struct {
	refs    int
	useMmap bool

	chunks  []*chunk // indexed by chunk id, nil for unused ids
	freeIDs []uint32

	sys        uint64 // bytes currently obtained from the system
	nextHostID uint64

	// fail, if set, is consulted before every chunk allocation. Tests use
	// it to simulate exhaustion.
	fail func(size int) bool
}

// NewPageAllocator creates an allocator with one reference.
func NewPageAllocator(useMmap bool) *PageAllocator {
	return &PageAllocator{
		refs:    1,
		useMmap: useMmap,
		chunks:  make([]*chunk, 1, 16), // id 0 is the null chunk
	}
}

// Retain adds a reference.
func (p *PageAllocator) Retain() *PageAllocator {
	p.refs++
	return p
}

// Release drops a reference, returning every chunk to the system when the
// last one goes away.
func (p *PageAllocator) Release() {
	if p.refs <= 0 {
		gcPanic("page allocator released too often")
	}
	p.refs--
	if p.refs > 0 {
		return
	}
	for _, c := range p.chunks {
		if c != nil {
			p.free(c)
		}
	}
	p.chunks = p.chunks[:1]
	p.freeIDs = nil
}

// Sys returns the bytes currently obtained from the system.
func (p *PageAllocator) Sys() uint64 { return p.sys }

// alloc obtains a chunk of at least size bytes. It returns nil when the
// address space or the system is exhausted.
func (p *PageAllocator) alloc(size int, owner *Heap, large bool) *chunk {
	if large {
		size = roundUpPage(size)
	} else {
		size = chunkPayload
	}
	if p.fail != nil && p.fail(size) {
		return nil
	}

	var id uint32
	if n := len(p.freeIDs); n > 0 {
		id = p.freeIDs[n-1]
		p.freeIDs = p.freeIDs[:n-1]
	} else {
		if len(p.chunks) >= gclayout.MaxChunks {
			return nil
		}
		id = uint32(len(p.chunks))
		p.chunks = append(p.chunks, nil)
	}

	mem, mapped, err := sysAlloc(size, p.useMmap)
	if err != nil {
		p.freeIDs = append(p.freeIDs, id)
		if gcDebug {
			println("gc: chunk allocation failed:", err.Error())
		}
		return nil
	}
	c := &chunk{
		id:    id,
		mem:   mem,
		owner: owner,
		large: large,
		mmap:  mapped,
	}
	p.chunks[id] = c
	p.sys += uint64(len(mem))
	return c
}

// free returns a chunk to the system and recycles its id.
func (p *PageAllocator) free(c *chunk) {
	if p.chunks[c.id] != c {
		gcPanic("freeing a chunk that is not allocated")
	}
	p.chunks[c.id] = nil
	p.freeIDs = append(p.freeIDs, c.id)
	p.sys -= uint64(len(c.mem))
	sysFree(c.mem, c.mmap)
	c.mem = nil
	c.owner = nil
}

// lookup returns the chunk a reference points into, or nil.
func (p *PageAllocator) lookup(r Ref) *chunk {
	id := r.chunkID()
	if id == 0 || int(id) >= len(p.chunks) {
		return nil
	}
	c := p.chunks[id]
	if c == nil || r.offset() >= c.top {
		return nil
	}
	return c
}

func (p *PageAllocator) newHostID() uint64 {
	p.nextHostID++
	return p.nextHostID
}

func roundUpPage(n int) int {
	ps := osPageSize()
	return (n + ps - 1) / ps * ps
}
