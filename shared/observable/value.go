// Package observable provides a value holder that notifies watchers on replacement.
package observable

import (
	"sync"

	"github.com/linluma/gavel/auction/bus"
)

// Value holds the latest T and notifies watchers whenever it is replaced
type Value[T any] struct {
	mu      sync.RWMutex
	current T
	topic   *bus.Topic[T]
}

// New creates a value holding initial
func New[T any](initial T) *Value[T] {
	return &Value[T]{
		current: initial,
		topic:   bus.NewTopic[T](),
	}
}

// Get returns the current value
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set replaces the value and notifies watchers
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	v.current = next
	v.mu.Unlock()

	v.topic.Publish(next)
}

// Update replaces the value with fn(current) atomically, then notifies
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	next := fn(v.current)
	v.current = next
	v.mu.Unlock()

	v.topic.Publish(next)
	return next
}

// Watch registers fn for every future replacement
func (v *Value[T]) Watch(fn func(T)) bus.Subscription {
	return v.topic.Subscribe(fn)
}
