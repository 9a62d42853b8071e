package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Registry.Get for unknown item ids.
var ErrNotFound = errors.New("content item not found")

// Registry is a concurrency-safe in-memory Store for hosts that push
// item metadata directly instead of wiring an external catalog.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Item
}

func NewRegistry() *Registry {
	return &Registry{items: map[string]Item{}}
}

// Put inserts or replaces an item. Items with an empty id are ignored.
func (r *Registry) Put(it Item) {
	if it.ID == "" {
		return
	}
	r.mu.Lock()
	r.items[it.ID] = it
	r.mu.Unlock()
}

func (r *Registry) Get(_ context.Context, id string) (Item, error) {
	r.mu.RLock()
	it, ok := r.items[id]
	r.mu.RUnlock()
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return it, nil
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
