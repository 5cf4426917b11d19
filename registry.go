package systray

import (
	"fmt"
	"slices"
	"sync"
)

// Registry is the ordered table of items registered in a [Watcher]. Items
// are kept in registration order.
//
// Registry is safe for concurrent use. If a mutation panics, the registry is
// poisoned and every later call returns [ErrRegistryPoisoned].
type Registry struct {
	mu       sync.Mutex
	poisoned bool
	items    []RegisteredItem
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends item to the registry. It reports false if an item with the
// same registration string is already registered, in which case the registry
// is not modified: services that address the same object, such as "app1" and
// "/app1" or two bus names of one sender, are the same item.
//
// Items with an invalid sender or service are rejected with
// [ErrInvalidRegistration].
func (r *Registry) Add(item RegisteredItem) (added bool, err error) {
	registration, err := EncodeRegistration(item.Sender, item.Service)
	if err != nil {
		return false, fmt.Errorf("add: %w", err)
	}

	err = r.mutate(func() {
		if slices.ContainsFunc(r.items, func(existing RegisteredItem) bool {
			return existing.Registration() == registration
		}) {
			return
		}

		r.items = append(r.items, item)
		added = true
	})

	return added, err
}

// RemoveSender removes all items registered by sender and returns them.
func (r *Registry) RemoveSender(sender string) (removed []RegisteredItem, err error) {
	err = r.mutate(func() {
		r.items = slices.DeleteFunc(r.items, func(item RegisteredItem) bool {
			if item.Sender == sender {
				removed = append(removed, item)
				return true
			}
			return false
		})
	})

	return removed, err
}

// Items returns a copy of the registered items.
func (r *Registry) Items() ([]RegisteredItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poisoned {
		return nil, ErrRegistryPoisoned
	}

	return slices.Clone(r.items), nil
}

// Registrations returns registration strings of the registered items, in
// registration order. The result is never nil.
func (r *Registry) Registrations() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poisoned {
		return nil, ErrRegistryPoisoned
	}

	registrations := make([]string, len(r.items))
	for idx, item := range r.items {
		registrations[idx] = item.Registration()
	}

	return registrations, nil
}

// Len returns the number of registered items.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.items)
}

// Poisoned reports whether a mutation of the registry has failed.
func (r *Registry) Poisoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.poisoned
}

// mutate runs fn with the lock held. A panic in fn poisons the registry.
func (r *Registry) mutate(fn func()) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poisoned {
		return ErrRegistryPoisoned
	}

	defer func() {
		if v := recover(); v != nil {
			r.poisoned = true
			err = fmt.Errorf("%w: %v", ErrRegistryPoisoned, v)
		}
	}()

	fn()

	return nil
}
