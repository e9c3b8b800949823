package gc

// rootTableSizes are the bucket counts the dynamic root table steps
// through. Past the last entry the table doubles (keeping the size odd).
var rootTableSizes = [...]int{
	17, 37, 79, 163, 331, 673, 1361, 2729, 5471, 10949,
	21911, 43853, 87719, 175447, 350899, 701819,
}

const (
	rootLoadFactor  = 0.75
	rootSegmentSize = 64 // nodes per pool segment
	noNode          = -1
)

// rootNode is one pinned object. Nodes live in pool segments and are
// linked by index, both in bucket chains and on the free-node list.
type rootNode struct {
	ref  Ref
	pins int32
	next int32
}

// DynamicRoots is the table of pinned objects: references held outside the
// traced object graph, for example by native code. Pinning the same object
// twice needs two removals.
type DynamicRoots struct {
	buckets  []int32
	sizeIdx  int
	segments [][rootSegmentSize]rootNode
	freeNode int32

	count int // distinct objects
	pins  int
	max   int

	// onEmpty is called when the last pin is removed.
	onEmpty func()
}

func newDynamicRoots(max int) *DynamicRoots {
	d := &DynamicRoots{max: max, freeNode: noNode}
	d.buckets = newBuckets(rootTableSizes[0])
	return d
}

func newBuckets(n int) []int32 {
	b := make([]int32, n)
	for i := range b {
		b[i] = noNode
	}
	return b
}

// Addresses are 8 byte aligned; the low bits carry no information.
func (d *DynamicRoots) hash(r Ref) int {
	return int((uint32(r) >> 4) % uint32(len(d.buckets)))
}

func (d *DynamicRoots) node(i int32) *rootNode {
	return &d.segments[i/rootSegmentSize][i%rootSegmentSize]
}

func (d *DynamicRoots) find(r Ref) int32 {
	for i := d.buckets[d.hash(r)]; i != noNode; {
		n := d.node(i)
		if n.ref == r {
			return i
		}
		i = n.next
	}
	return noNode
}

func (d *DynamicRoots) allocNode() int32 {
	if d.freeNode == noNode {
		base := int32(len(d.segments) * rootSegmentSize)
		d.segments = append(d.segments, [rootSegmentSize]rootNode{})
		seg := &d.segments[len(d.segments)-1]
		for i := range seg {
			seg[i].next = base + int32(i) + 1
		}
		seg[rootSegmentSize-1].next = noNode
		d.freeNode = base
	}
	i := d.freeNode
	d.freeNode = d.node(i).next
	return i
}

func (d *DynamicRoots) freeNodeAt(i int32) {
	n := d.node(i)
	*n = rootNode{next: d.freeNode}
	d.freeNode = i
}

// Push pins r. The null reference is ignored. It fails with
// ErrRootTableFull when r is not pinned yet and the table is at its
// configured limit; r is then not protected.
func (d *DynamicRoots) Push(r Ref) error {
	return d.pushN(r, 1)
}

func (d *DynamicRoots) pushN(r Ref, pins int32) error {
	if r == 0 {
		return nil
	}
	if i := d.find(r); i != noNode {
		d.node(i).pins += pins
		d.pins += int(pins)
		return nil
	}
	if d.max > 0 && d.count >= d.max {
		return ErrRootTableFull
	}
	if float64(d.count+1) > rootLoadFactor*float64(len(d.buckets)) {
		d.grow()
	}
	i := d.allocNode()
	b := d.hash(r)
	*d.node(i) = rootNode{ref: r, pins: pins, next: d.buckets[b]}
	d.buckets[b] = i
	d.count++
	d.pins += int(pins)
	return nil
}

// Remove drops one pin of r. Removing an object that is not pinned does
// nothing.
func (d *DynamicRoots) Remove(r Ref) {
	b := d.hash(r)
	link := &d.buckets[b]
	for *link != noNode {
		i := *link
		n := d.node(i)
		if n.ref != r {
			link = &n.next
			continue
		}
		d.pins--
		n.pins--
		if n.pins > 0 {
			return
		}
		*link = n.next
		d.freeNodeAt(i)
		d.count--
		if d.count == 0 && d.onEmpty != nil {
			d.onEmpty()
		}
		return
	}
}

// grow moves every entry into the next larger table.
func (d *DynamicRoots) grow() {
	var size int
	if d.sizeIdx+1 < len(rootTableSizes) {
		d.sizeIdx++
		size = rootTableSizes[d.sizeIdx]
	} else {
		size = len(d.buckets)*2 + 1
	}
	old := d.buckets
	d.buckets = newBuckets(size)
	for _, head := range old {
		for i := head; i != noNode; {
			n := d.node(i)
			next := n.next
			b := d.hash(n.ref)
			n.next = d.buckets[b]
			d.buckets[b] = i
			i = next
		}
	}
	if gcDebug {
		println("gc: dynamic roots rehashed to", size, "buckets")
	}
}

// Contains reports whether r is pinned.
func (d *DynamicRoots) Contains(r Ref) bool {
	return r != 0 && d.find(r) != noNode
}

// Pins returns how often r is pinned.
func (d *DynamicRoots) Pins(r Ref) int {
	if r == 0 {
		return 0
	}
	if i := d.find(r); i != noNode {
		return int(d.node(i).pins)
	}
	return 0
}

// Len returns the number of distinct pinned objects.
func (d *DynamicRoots) Len() int { return d.count }

// Buckets returns the current table size.
func (d *DynamicRoots) Buckets() int { return len(d.buckets) }

// ForEach calls fn for every pinned object in table order. The order
// changes when the table grows.
func (d *DynamicRoots) ForEach(fn func(r Ref)) {
	for _, head := range d.buckets {
		for i := head; i != noNode; {
			n := d.node(i)
			next := n.next
			fn(n.ref)
			i = next
		}
	}
}

// absorb moves every pin of o into d.
func (d *DynamicRoots) absorb(o *DynamicRoots) error {
	var err error
	o.ForEach(func(r Ref) {
		if e := d.pushN(r, o.node(o.find(r)).pins); e != nil && err == nil {
			err = e
		}
	})
	o.clear()
	return err
}

// clear drops every pin without calling onEmpty.
func (d *DynamicRoots) clear() {
	d.buckets = newBuckets(rootTableSizes[0])
	d.sizeIdx = 0
	d.segments = nil
	d.freeNode = noNode
	d.count, d.pins = 0, 0
}
