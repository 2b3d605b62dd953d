package domain

import (
	"slices"
	"sync"
)

// Keyed is implemented by anything stored in a Collection
type Keyed interface {
	Key() string
}

// ChangeKind describes an effective collection mutation
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeCleared ChangeKind = "cleared"
	ChangeSorted  ChangeKind = "sorted"
)

// Change is delivered to collection observers
type Change[T Keyed] struct {
	Kind ChangeKind
	Item T // zero for cleared/sorted
}

// Collection is an ordered set of items addressed by key.
// There is deliberately no positional insert or delete.
type Collection[T Keyed] struct {
	mu        sync.RWMutex
	items     []T
	keys      map[string]struct{}
	observers []func(Change[T])
}

// NewCollection creates an empty collection
func NewCollection[T Keyed]() *Collection[T] {
	return &Collection[T]{keys: make(map[string]struct{})}
}

// Observe registers fn to be called after every effective change
func (c *Collection[T]) Observe(fn func(Change[T])) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Add appends item unless an item with the same key is present
func (c *Collection[T]) Add(item T) bool {
	c.mu.Lock()
	key := item.Key()
	if _, ok := c.keys[key]; ok {
		c.mu.Unlock()
		return false
	}
	c.keys[key] = struct{}{}
	c.items = append(c.items, item)
	c.mu.Unlock()

	c.notify(Change[T]{Kind: ChangeAdded, Item: item})
	return true
}

// Remove deletes the item with the given key, if present
func (c *Collection[T]) Remove(key string) (T, bool) {
	var removed T
	c.mu.Lock()
	if _, ok := c.keys[key]; !ok {
		c.mu.Unlock()
		return removed, false
	}
	delete(c.keys, key)
	c.items = slices.DeleteFunc(c.items, func(it T) bool {
		if it.Key() == key {
			removed = it
			return true
		}
		return false
	})
	c.mu.Unlock()

	c.notify(Change[T]{Kind: ChangeRemoved, Item: removed})
	return removed, true
}

// Contains reports whether an item with the key is present
func (c *Collection[T]) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keys[key]
	return ok
}

// Get returns the item with the key
func (c *Collection[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, it := range c.items {
		if it.Key() == key {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// Items returns a snapshot of the items in order
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

// Len returns the number of items
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes every item
func (c *Collection[T]) Clear() {
	c.mu.Lock()
	if len(c.items) == 0 {
		c.mu.Unlock()
		return
	}
	c.items = nil
	c.keys = make(map[string]struct{})
	c.mu.Unlock()

	c.notify(Change[T]{Kind: ChangeCleared})
}

// SortFunc reorders the items with a stable sort
func (c *Collection[T]) SortFunc(cmp func(a, b T) int) {
	c.mu.Lock()
	slices.SortStableFunc(c.items, cmp)
	c.mu.Unlock()

	c.notify(Change[T]{Kind: ChangeSorted})
}

func (c *Collection[T]) notify(change Change[T]) {
	c.mu.RLock()
	observers := slices.Clone(c.observers)
	c.mu.RUnlock()

	for _, fn := range observers {
		fn(change)
	}
}
