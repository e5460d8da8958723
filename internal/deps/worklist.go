package deps

import (
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
)

// Worklist is a FIFO queue that holds each item at most once
type Worklist[T comparable] struct {
	queue  []T
	queued map[T]bool
}

// NewWorklist returns a worklist seeded with items
func NewWorklist[T comparable](items ...T) *Worklist[T] {
	w := &Worklist[T]{queued: make(map[T]bool)}
	for _, it := range items {
		w.Push(it)
	}
	return w
}

// Push enqueues an item unless it is already waiting
func (w *Worklist[T]) Push(it T) {
	if w.queued[it] {
		return
	}
	w.queued[it] = true
	w.queue = append(w.queue, it)
}

// Pop dequeues the oldest item
func (w *Worklist[T]) Pop() (T, bool) {
	var zero T
	if len(w.queue) == 0 {
		return zero, false
	}
	it := w.queue[0]
	w.queue = w.queue[1:]
	delete(w.queued, it)
	return it, true
}

// Len returns the number of waiting items
func (w *Worklist[T]) Len() int { return len(w.queue) }

// Stats reports how much work a fixpoint took
type Stats struct {
	Updates int `json:"updates"`
	Grew    int `json:"grew"`
}

// Converge runs update on every item, then on the dependents of every item
// whose update reported growth, until the queue drains. limit bounds the
// number of updates; exceeding it means some update is not monotone.
func Converge[T comparable](items []T, limit int, update func(T) (grew bool, dependents []T)) Stats {
	var st Stats
	w := NewWorklist(items...)
	for {
		it, ok := w.Pop()
		if !ok {
			return st
		}
		st.Updates++
		if st.Updates > limit {
			diag.Internalf("dependency fixpoint did not converge after %d updates", limit)
		}
		grew, next := update(it)
		if !grew {
			continue
		}
		st.Grew++
		for _, d := range next {
			w.Push(d)
		}
	}
}
