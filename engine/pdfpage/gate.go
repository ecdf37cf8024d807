package pdfpage

import "sync"

// gate serializes every call into the native engine, across all documents and
// pages. A per-handle lock would not do: two calls on different handles still
// race on the engine's global state.
var gate sync.Mutex

// locked runs fn with the gate held and releases it on every exit path.
func locked[T any](fn func() (T, error)) (T, error) {
	gate.Lock()
	defer gate.Unlock()
	return fn()
}

// lockedErr is locked for calls that only report an error.
func lockedErr(fn func() error) error {
	gate.Lock()
	defer gate.Unlock()
	return fn()
}
