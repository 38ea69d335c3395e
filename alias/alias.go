// Package alias implements the process-wide directory translating a
// user-visible "primary" driver handle into the N per-device handles it
// stands for (spec.md §4.5). It is the sole mutable broker of
// multi-device identity: every other component that needs to go from
// "the pointer/context/module/function/device the application thinks it
// has" to "the concrete handle on device i" goes through this map.
package alias

import (
	"sync"

	"github.com/mekong-rt/runtime/internal/runtimeerr"
)

// Handle is a process-wide primary-to-per-device-list directory for one
// kind of driver handle (Device, Context, Module, Function, or
// DevPtr — see the driver package). By spec.md §4.5 "register" installs
// a list whose first entry is always the primary itself, so that index
// i in any list names the same physical device across every Handle in
// the process.
type Handle[T comparable] struct {
	mu sync.Mutex
	m  map[T][]T
}

// New creates an empty Handle directory.
func New[T comparable]() *Handle[T] {
	return &Handle[T]{m: make(map[T][]T)}
}

// Register installs the list [primary, secondaries...] atomically under
// primary. A second Register for the same primary replaces its list.
func (h *Handle[T]) Register(primary T, secondaries ...T) {
	list := make([]T, 0, len(secondaries)+1)
	list = append(list, primary)
	list = append(list, secondaries...)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[primary] = list
}

// Lookup returns the per-device list registered under primary. It
// panics if primary is not registered: spec.md §4.5 specifies lookup on
// an absent primary as a programming-error panic, not a recoverable
// failure, since every primary the runtime hands the caller is always
// registered before it is returned.
func (h *Handle[T]) Lookup(primary T) []T {
	h.mu.Lock()
	defer h.mu.Unlock()
	list, ok := h.m[primary]
	if !ok {
		panic("alias: lookup of unregistered primary handle")
	}
	out := make([]T, len(list))
	copy(out, list)
	return out
}

// At returns the handle for device i belonging to primary's list.
func (h *Handle[T]) At(primary T, device int) T {
	list := h.Lookup(primary)
	return list[device]
}

// Erase removes primary's entry. Erasing an absent primary is a no-op,
// matching the teacher's idempotent-close convention elsewhere in the
// driver layer.
func (h *Handle[T]) Erase(primary T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.m, primary)
}

// Registered reports how many distinct primaries are currently
// registered.
func (h *Handle[T]) Registered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.m)
}

// SoleList returns the one registered list, failing if none or more
// than one primary is registered. This backs spec.md §4.5's
// context_list(): the runtime supports exactly one live context, so the
// Context alias Handle must have registered exactly one primary by the
// time any wrapper needs "the" per-device context list.
func (h *Handle[T]) SoleList() ([]T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch len(h.m) {
	case 0:
		return nil, runtimeerr.New(runtimeerr.Invariant, "alias.SoleList", "no primary has been registered yet")
	case 1:
		for _, list := range h.m {
			out := make([]T, len(list))
			copy(out, list)
			return out, nil
		}
	}
	return nil, runtimeerr.New(runtimeerr.Invariant, "alias.SoleList",
		"%d distinct primaries are registered, expected exactly one", len(h.m))
}
