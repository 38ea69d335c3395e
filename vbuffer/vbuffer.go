// Package vbuffer tracks the most recent writer of every virtual
// buffer (spec.md §4.6): either a specific kernel launch, or a host
// broadcast (an H→D copy). The mekong package updates it on every H→D
// copy, after every kernel submission, and on every free, and consults
// it to find each launch's master writers before building the
// dependency-resolution plans.
package vbuffer

import (
	"sync"

	"github.com/mekong-rt/runtime/driver"
)

// Writer identifies whatever last wrote a virtual buffer. The launch
// package's *Launch implements it directly so this package never needs
// to import launch; Host is the other implementation, standing for a
// host-side broadcast copy.
type Writer interface {
	IsWriter()
}

type hostWriter struct{}

func (hostWriter) IsWriter() {}

// Host is the Writer recorded for a host-to-device broadcast copy.
var Host Writer = hostWriter{}

// IsHost reports whether w is the host-broadcast writer.
func IsHost(w Writer) bool {
	_, ok := w.(hostWriter)
	return ok
}

// Buffer tracks the last writer of every virtual buffer, keyed by the
// buffer's primary device pointer.
type Buffer struct {
	mu      sync.Mutex
	writers map[driver.DevPtr]Writer
}

// New creates an empty Buffer tracker.
func New() *Buffer {
	return &Buffer{writers: make(map[driver.DevPtr]Writer)}
}

// MarkWritten records w as the most recent writer of ptr.
func (b *Buffer) MarkWritten(ptr driver.DevPtr, w Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writers[ptr] = w
}

// LastWriter returns ptr's most recent writer, if any.
func (b *Buffer) LastWriter(ptr driver.DevPtr) (Writer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.writers[ptr]
	return w, ok
}

// Free discards ptr's tracked writer, e.g. because the buffer was
// freed.
func (b *Buffer) Free(ptr driver.DevPtr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.writers, ptr)
}
