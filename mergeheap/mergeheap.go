// Package mergeheap is the k-way merge heap: a binary min-heap over sorted
// record streams, keyed by each stream's current head, with a ScanTo
// fast-forward that exploits the heap's shape to skip ahead with fewer
// comparisons than repeated Next calls. Each node carries an explicit
// origin index so callers can tell which input stream produced a record.
package mergeheap

import (
	"container/heap"
	"fmt"
)

// Source is a sorted stream of fixed-width records. Read returns nil at
// EOF, matching recbuf.Reader's contract.
type Source interface {
	Read() ([]byte, error)
}

// Less orders two raw records by payload, ignoring any subframe bits.
type Less func(a, b []byte) bool

type node struct {
	key    []byte
	origin int
	src    Source
}

type innerHeap struct {
	nodes []*node
	less  Less
}

func (h innerHeap) Len() int { return len(h.nodes) }
func (h innerHeap) Less(i, j int) bool {
	return h.less(h.nodes[i].key, h.nodes[j].key)
}
func (h innerHeap) Swap(i, j int) { h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i] }
func (h *innerHeap) Push(x any)   { h.nodes = append(h.nodes, x.(*node)) }
func (h *innerHeap) Pop() any {
	old := h.nodes
	n := len(old)
	x := old[n-1]
	h.nodes = old[:n-1]
	return x
}

// Heap is the k-way merge heap over a fixed set of sources, each identified
// by its origin index in the slice passed to New.
type Heap struct {
	h *innerHeap
}

// New consumes sources[0..k), reading the first record of each, and
// heapifies. Sources already at EOF are dropped from the heap (spec's open
// question: a stream that is not open contributes nothing to setup or
// iteration).
func New(sources []Source, less Less) (*Heap, error) {
	h := &innerHeap{less: less}
	for i, s := range sources {
		if s == nil {
			continue
		}
		rec, err := s.Read()
		if err != nil {
			return nil, fmt.Errorf("mergeheap: priming source %d: %w", i, err)
		}
		if rec == nil {
			continue
		}
		buf := make([]byte, len(rec))
		copy(buf, rec)
		h.nodes = append(h.nodes, &node{key: buf, origin: i, src: s})
	}
	heap.Init(h)
	return &Heap{h: h}, nil
}

// Len reports how many sources are still open.
func (m *Heap) Len() int { return m.h.Len() }

// Head returns the smallest current record and the origin index of the
// stream it came from. ok is false once every source is exhausted.
func (m *Heap) Head() (rec []byte, origin int, ok bool) {
	if m.h.Len() == 0 {
		return nil, -1, false
	}
	top := m.h.nodes[0]
	return top.key, top.origin, true
}

// Next advances the owning stream of the current head, replacing its head
// with the next record or, on EOF, removing it from the heap.
func (m *Heap) Next() error {
	if m.h.Len() == 0 {
		return nil
	}
	top := m.h.nodes[0]
	rec, err := top.src.Read()
	if err != nil {
		return fmt.Errorf("mergeheap: advancing origin %d: %w", top.origin, err)
	}
	if rec == nil {
		heap.Pop(m.h)
		return nil
	}
	top.key = append(top.key[:0], rec...)
	heap.Fix(m.h, 0)
	return nil
}

// secondSmallestKey returns the smaller of the root's two children, which
// in a binary min-heap is guaranteed to be the overall second-smallest key.
// ok is false if there is no second element.
func (m *Heap) secondSmallestKey() (key []byte, ok bool) {
	n := m.h.Len()
	if n < 2 {
		return nil, false
	}
	if n == 2 {
		return m.h.nodes[1].key, true
	}
	left, right := m.h.nodes[1], m.h.nodes[2]
	if m.h.less.less(left, right) {
		return left.key, true
	}
	return right.key, true
}

func (l Less) less(a, b *node) bool { return l(a.key, b.key) }

// AsSource flattens the heap into a single sorted Source, merging its
// underlying streams as records are pulled. Used to fold several disjoint
// closed-group streams into one side of a two-stream merge (the "all"
// aggregate path).
func (m *Heap) AsSource() Source { return (*heapSource)(m) }

type heapSource Heap

func (h *heapSource) Read() ([]byte, error) {
	m := (*Heap)(h)
	rec, _, ok := m.Head()
	if !ok {
		return nil, nil
	}
	out := append([]byte(nil), rec...)
	if err := m.Next(); err != nil {
		return nil, err
	}
	return out, nil
}

// ScanTo advances the heap until Head() >= target (per less) or the heap is
// exhausted. It exploits the heap's shape: while the current root is safely
// below both the target and the second-smallest key, it can be advanced by
// repeated Read calls on the *same* source without restoring heap order,
// since no other source could become smaller than the new head while it
// stays below the second-smallest bound. Only when the head crosses that
// bound (or hits EOF) does the heap get fixed.
func (m *Heap) ScanTo(target []byte, less Less) error {
	for m.h.Len() > 0 {
		top := m.h.nodes[0]
		if !less(top.key, target) {
			return nil // head already >= target
		}
		bound := target
		if second, ok := m.secondSmallestKey(); ok && less(second, bound) {
			bound = second
		}
		for {
			rec, err := top.src.Read()
			if err != nil {
				return fmt.Errorf("mergeheap: scanTo advancing origin %d: %w", top.origin, err)
			}
			if rec == nil {
				heap.Pop(m.h)
				break
			}
			top.key = append(top.key[:0], rec...)
			if !less(top.key, bound) {
				heap.Fix(m.h, 0)
				break
			}
		}
	}
	return nil
}
