// Package list is a generic doubly linked list built around a sentinel
// node. Nodes are owned by the caller so they can be recycled (see lru).
package list

// Node is a list element.
type Node[V any] struct {
	prev, next *Node[V]
	owner      *List[V]

	Value V
}

// Next returns the following node or nil at the end of the list.
func (n *Node[V]) Next() *Node[V] {
	if n.owner == nil || n.next == &n.owner.root {
		return nil
	}
	return n.next
}

// Prev returns the preceding node or nil at the start of the list.
func (n *Node[V]) Prev() *Node[V] {
	if n.owner == nil || n.prev == &n.owner.root {
		return nil
	}
	return n.prev
}

// List is a circular list; root.next is the front, root.prev the back.
// The zero value is not usable, call New.
type List[V any] struct {
	root Node[V]
	n    int
}

func New[V any]() *List[V] {
	l := new(List[V])
	l.root.next = &l.root
	l.root.prev = &l.root
	return l
}

func (l *List[V]) Len() int { return l.n }

func (l *List[V]) Front() *Node[V] {
	if l.n == 0 {
		return nil
	}
	return l.root.next
}

func (l *List[V]) Back() *Node[V] {
	if l.n == 0 {
		return nil
	}
	return l.root.prev
}

// link places a detached node after at.
func (l *List[V]) link(n, at *Node[V]) *Node[V] {
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
	n.owner = l
	l.n++
	return n
}

func (l *List[V]) unlink(n *Node[V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next, n.owner = nil, nil, nil
	l.n--
}

func (l *List[V]) mustOwn(n *Node[V]) {
	if n.owner != l {
		panic("list: node is not in this list")
	}
}

// PushFront inserts a detached node at the front. It panics if n is
// still linked into a list.
func (l *List[V]) PushFront(n *Node[V]) *Node[V] {
	if n.owner != nil {
		panic("list: node is already linked")
	}
	return l.link(n, &l.root)
}

// PushBack inserts a detached node at the back.
func (l *List[V]) PushBack(n *Node[V]) *Node[V] {
	if n.owner != nil {
		panic("list: node is already linked")
	}
	return l.link(n, l.root.prev)
}

// MoveToBack makes n the last node.
func (l *List[V]) MoveToBack(n *Node[V]) {
	l.mustOwn(n)
	if l.root.prev == n {
		return
	}
	l.unlink(n)
	l.link(n, l.root.prev)
}

// Remove detaches n and returns it for reuse.
func (l *List[V]) Remove(n *Node[V]) *Node[V] {
	l.mustOwn(n)
	l.unlink(n)
	return n
}
