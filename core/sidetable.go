package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/swarm-simulator/kb"
)

// SideTable holds typed per-particle state owned by a solution. The engine
// never reads it. Once bound to a World the table drops entries for removed
// particles.
type SideTable[T any] struct {
	name string

	mu      sync.RWMutex
	entries map[int]T
	unbind  func()
}

// NewSideTable creates an empty table. name appears in error messages.
func NewSideTable[T any](name string) *SideTable[T] {
	return &SideTable[T]{name: name, entries: make(map[int]T)}
}

// Bind subscribes the table to removals in w. Calling Bind again replaces the
// previous subscription.
func (t *SideTable[T]) Bind(w *World) {
	unsubscribe := w.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventEntityRemoved {
			t.Delete(ev.Entity.ID)
		}
	})
	t.mu.Lock()
	prev := t.unbind
	t.unbind = unsubscribe
	t.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Unbind stops tracking removals.
func (t *SideTable[T]) Unbind() {
	t.mu.Lock()
	prev := t.unbind
	t.unbind = nil
	t.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (t *SideTable[T]) Set(id int, v T) {
	t.mu.Lock()
	t.entries[id] = v
	t.mu.Unlock()
}

func (t *SideTable[T]) Get(id int) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[id]
	return v, ok
}

// MustGet returns the entry or an error wrapping ErrMissingConfiguration.
func (t *SideTable[T]) MustGet(id int) (T, error) {
	v, ok := t.Get(id)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s for particle %d: %w", t.name, id, ErrMissingConfiguration)
	}
	return v, nil
}

func (t *SideTable[T]) Delete(id int) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

func (t *SideTable[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// IDs returns the particle ids with entries, ascending.
func (t *SideTable[T]) IDs() []int {
	t.mu.RLock()
	ids := make([]int, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Ints(ids)
	return ids
}
