package pdfrenderer

import "sync"

// handleTable hands out small integer tokens for native references so that
// callers never hold the native value itself. Token zero is never issued.
type handleTable[T any] struct {
	mu      sync.Mutex
	next    uint64
	entries map[uint64]T
}

func (t *handleTable[T]) add(value T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries == nil {
		t.entries = make(map[uint64]T)
	}
	t.next++
	t.entries[t.next] = value
	return t.next
}

func (t *handleTable[T]) get(id uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.entries[id]
	return value, ok
}

func (t *handleTable[T]) remove(id uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return value, ok
}

func (t *handleTable[T]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// each calls fn for every live entry. fn must not touch the table.
func (t *handleTable[T]) each(fn func(id uint64, value T)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, value := range t.entries {
		fn(id, value)
	}
}
