package optimistic

import (
	"encoding/json"
	"sync"
)

// List is a reference-stable collection of cached entities. The cache merges
// new results into the same *List, so a held reference always shows the
// latest data. Reads are safe for concurrent use with cache updates.
type List[T any] struct {
	mu    *sync.RWMutex
	items []*T
}

func newList[T any](mu *sync.RWMutex, items []*T) *List[T] {
	return &List[T]{mu: mu, items: append([]*T(nil), items...)}
}

func (l *List[T]) rlock() func() {
	if l.mu == nil {
		return func() {}
	}
	l.mu.RLock()
	return l.mu.RUnlock
}

// Len returns the number of elements.
func (l *List[T]) Len() int {
	if l == nil {
		return 0
	}
	defer l.rlock()()
	return len(l.items)
}

// At returns the element at index i, or nil when out of range.
func (l *List[T]) At(i int) *T {
	if l == nil {
		return nil
	}
	defer l.rlock()()
	if i < 0 || i >= len(l.items) {
		return nil
	}
	return l.items[i]
}

// Items returns a copy of the element references.
func (l *List[T]) Items() []*T {
	if l == nil {
		return nil
	}
	defer l.rlock()()
	return append([]*T(nil), l.items...)
}

// MarshalJSON encodes the list as a JSON array.
func (l *List[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Items())
}

func (l *List[T]) rawItems() []any {
	items := l.Items()
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// mergeFrom replaces the elements of l by reference with those of src and
// adjusts the length. The caller holds the write lock.
func (l *List[T]) mergeFrom(src any) {
	s, ok := src.(*List[T])
	if !ok || s == nil || s == l {
		return
	}
	n := len(s.items)
	if cap(l.items) < n {
		l.items = make([]*T, n)
	} else {
		old := l.items
		l.items = l.items[:n]
		if len(old) > n {
			clear(old[n:])
		}
	}
	copy(l.items, s.items)
}

func (l *List[T]) appendItem(item *T) {
	l.items = append(l.items, item)
}

// indexOf returns the position of the first element whose identity matches id.
func (l *List[T]) indexOf(idField string, id any) int {
	for i, item := range l.items {
		if v, ok := fieldValue(item, idField); ok && sameID(v, id) {
			return i
		}
	}
	return -1
}

// removeID drops every element whose identity matches id and reports whether any matched.
func (l *List[T]) removeID(idField string, id any) bool {
	kept := l.items[:0]
	removed := false
	for _, item := range l.items {
		if v, ok := fieldValue(item, idField); ok && sameID(v, id) {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	clear(l.items[len(kept):])
	l.items = kept
	return removed
}

// filtered returns a new list holding the elements of l for which keep is true.
func (l *List[T]) filtered(keep func(*T) bool) *List[T] {
	out := &List[T]{mu: l.mu}
	for _, item := range l.items {
		if keep(item) {
			out.items = append(out.items, item)
		}
	}
	return out
}
