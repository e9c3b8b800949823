// Package ilist provides the linked lists the collector uses for its root
// list, the runtimes attached to a heap and the heap manager's heap lists.
//
// The list owns its nodes; the values stored in them are borrowed. A node
// can be on at most one list at a time, and moving a node between lists of
// the same type does not allocate.
package ilist

const asserts = false

// Node is an element of a List.
type Node[T any] struct {
	prev, next *Node[T]
	list       *List[T]

	Value T
}

// List returns the list the node is on, or nil.
func (n *Node[T]) List() *List[T] { return n.list }

// Next returns the next node, or nil at the end of the list.
func (n *Node[T]) Next() *Node[T] { return n.next }

// List is a doubly linked FIFO container.
// The zero value is an empty list.
type List[T any] struct {
	head, tail *Node[T]
	len        int
}

// Push appends a new node holding v and returns it.
func (l *List[T]) Push(v T) *Node[T] {
	n := &Node[T]{Value: v}
	l.PushNode(n)
	return n
}

// PushNode appends n, which must not be on a list.
func (l *List[T]) PushNode(n *Node[T]) {
	if asserts && n.list != nil {
		panic("ilist: pushing a node that is already on a list")
	}
	n.list = l
	n.prev = l.tail
	n.next = nil
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.len++
}

// Pop removes and returns the first node, or nil if the list is empty.
func (l *List[T]) Pop() *Node[T] {
	n := l.head
	if n == nil {
		return nil
	}
	l.Remove(n)
	return n
}

// Remove unlinks n. It is a no-op if n is not on l.
func (l *List[T]) Remove(n *Node[T]) {
	if n == nil || n.list != l {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next, n.list = nil, nil, nil
	l.len--
}

// MoveTo unlinks n from whatever list it is on and appends it to l.
func (l *List[T]) MoveTo(n *Node[T]) {
	if n.list == l {
		return
	}
	if n.list != nil {
		n.list.Remove(n)
	}
	l.PushNode(n)
}

// Append moves the contents of other to the end of this list.
func (l *List[T]) Append(other *List[T]) {
	for n := other.head; n != nil; n = n.next {
		n.list = l
	}
	if l.head == nil {
		l.head = other.head
	} else if other.head != nil {
		l.tail.next = other.head
		other.head.prev = l.tail
	}
	if other.tail != nil {
		l.tail = other.tail
	}
	l.len += other.len
	other.head, other.tail, other.len = nil, nil, 0
}

// Front returns the first node, or nil.
func (l *List[T]) Front() *Node[T] { return l.head }

// Empty checks if the list is empty.
func (l *List[T]) Empty() bool { return l.head == nil }

// Len returns the number of nodes on the list.
func (l *List[T]) Len() int { return l.len }

// Each calls fn for every value in list order. fn may remove the node it is
// called for.
func (l *List[T]) Each(fn func(T)) {
	for n := l.head; n != nil; {
		next := n.next
		fn(n.Value)
		n = next
	}
}
