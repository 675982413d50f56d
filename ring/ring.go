// Package ring provides a fixed-capacity ring buffer addressed by index.
//
// Callers keep their own cursors (indices) into the buffer; the buffer only
// knows how to wrap them.
package ring

import "fmt"

type Buffer[E any] struct {
	elems []E
}

// New returns a Buffer of capacity n, every slot set to fill.
func New[E any](n int, fill E) *Buffer[E] {
	if n < 2 {
		panic(fmt.Sprintf("ring capacity %d too small", n))
	}
	b := &Buffer[E]{elems: make([]E, n)}
	b.Fill(fill)
	return b
}

func (b *Buffer[E]) Cap() int { return len(b.elems) }

func (b *Buffer[E]) Fill(e E) {
	for i := range b.elems {
		b.elems[i] = e
	}
}

// Next returns the index after i, wrapping.
func (b *Buffer[E]) Next(i int) int {
	i++
	if i == len(b.elems) {
		return 0
	}
	return i
}

// Prev returns the index before i, wrapping.
func (b *Buffer[E]) Prev(i int) int {
	if i == 0 {
		return len(b.elems) - 1
	}
	return i - 1
}

// Distance returns how many Next steps it takes to get from from to to.
func (b *Buffer[E]) Distance(from, to int) int {
	d := to - from
	if d < 0 {
		d += len(b.elems)
	}
	return d
}

// WouldOverflow reports whether writing at head and advancing it would make head catch up with tail.
func (b *Buffer[E]) WouldOverflow(head, tail int) bool {
	return b.Next(head) == tail
}

func (b *Buffer[E]) At(i int) E {
	b.check(i)
	return b.elems[i]
}

func (b *Buffer[E]) Set(i int, e E) {
	b.check(i)
	b.elems[i] = e
}

// Slice returns a copy of the underlying slots in index order.
func (b *Buffer[E]) Slice() []E {
	elems := make([]E, len(b.elems))
	copy(elems, b.elems)
	return elems
}

func (b *Buffer[E]) check(i int) {
	if i < 0 || i >= len(b.elems) {
		panic(fmt.Sprintf("ring index %d out of range [0, %d)", i, len(b.elems)))
	}
}
