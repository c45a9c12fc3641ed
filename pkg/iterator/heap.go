package iterator

import (
	"container/heap"

	"lsmengine/pkg/types"
)

// Heap merges child iterators into one stream ordered by internal key.
//
// Children that expose equal keys come out in the order they were added, so
// callers add the newest source first.
type Heap[T Iterator] struct {
	children []T
	h        entries[T]
	err      error
}

type entry[T Iterator] struct {
	it    T
	order int
}

type entries[T Iterator] []entry[T]

func (e entries[T]) Len() int { return len(e) }

func (e entries[T]) Less(i, j int) bool {
	if c := types.CompareInternal(e[i].it.Key(), e[j].it.Key()); c != 0 {
		return c < 0
	}
	return e[i].order < e[j].order
}

func (e entries[T]) Swap(i, j int) { e[i], e[j] = e[j], e[i] }

func (e *entries[T]) Push(x any) { *e = append(*e, x.(entry[T])) }

func (e *entries[T]) Pop() any {
	old := *e
	n := len(old)
	x := old[n-1]
	*e = old[:n-1]
	return x
}

// NewHeap registers children in priority order without positioning them.
func NewHeap[T Iterator](children ...T) *Heap[T] {
	return &Heap[T]{children: children}
}

// Push registers a child and inserts it if it is currently valid.
func (m *Heap[T]) Push(it T) {
	m.children = append(m.children, it)
	m.insert(len(m.children)-1)
}

func (m *Heap[T]) insert(order int) {
	it := m.children[order]
	if !it.Valid() {
		m.noteErr(it)
		return
	}
	heap.Push(&m.h, entry[T]{it: it, order: order})
}

func (m *Heap[T]) reseed() {
	m.h = m.h[:0]
	for i := range m.children {
		m.insert(i)
	}
}

func (m *Heap[T]) SeekToFirst() {
	m.err = nil
	for _, c := range m.children {
		c.SeekToFirst()
	}
	m.reseed()
}

// Seek positions every child at (userKey, seq) and keeps only those still valid.
func (m *Heap[T]) Seek(userKey types.Key, seq types.SeqN) {
	m.err = nil
	for _, c := range m.children {
		c.Seek(userKey, seq)
	}
	m.reseed()
}

func (m *Heap[T]) Valid() bool {
	return m.err == nil && len(m.h) > 0 && m.h[0].it.Valid()
}

func (m *Heap[T]) Key() []byte {
	if !m.Valid() {
		return nil
	}
	return m.h[0].it.Key()
}

func (m *Heap[T]) Value() []byte {
	if !m.Valid() {
		return nil
	}
	return m.h[0].it.Value()
}

// Next advances the current minimum and reinserts it if it is still valid.
func (m *Heap[T]) Next() {
	if !m.Valid() {
		return
	}
	top := m.h[0].it
	top.Next()
	if top.Valid() {
		heap.Fix(&m.h, 0)
		return
	}
	heap.Pop(&m.h)
	m.noteErr(top)
}

func (m *Heap[T]) Error() error {
	return m.err
}

// Len is the number of children currently in the heap.
func (m *Heap[T]) Len() int {
	return len(m.h)
}

func (m *Heap[T]) noteErr(it T) {
	if m.err == nil {
		m.err = it.Error()
	}
}
