// Package waiter implements a keyed registry of one-shot continuations.
// It decouples "a value became available" from "someone is waiting for it":
// callers register a callback under a key and later events are fanned out
// either to the earliest pending waiter (NotifyFirst) or to every pending
// waiter at once (NotifyAll). Each registered callback fires at most once.
package waiter

import "sync"

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Registry holds ordered waiter lists per key. The zero value is not usable;
// construct with New.
type Registry[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	waiters map[string][]entry[T]
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{waiters: make(map[string][]entry[T])}
}

// Register appends fn to the waiter list for key and returns a cancel
// function. Cancel removes exactly that registration and reports whether it
// was still pending; calling it again (or after the waiter fired) is a no-op
// returning false.
func (r *Registry[T]) Register(key string, fn func(T)) (cancel func() bool) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.waiters[key] = append(r.waiters[key], entry[T]{id: id, fn: fn})
	r.mu.Unlock()

	return func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.waiters[key]
		for i, e := range list {
			if e.id == id {
				r.waiters[key] = append(list[:i], list[i+1:]...)
				if len(r.waiters[key]) == 0 {
					delete(r.waiters, key)
				}
				return true
			}
		}
		return false
	}
}

// NotifyFirst invokes and removes the earliest still-pending waiter for key
// with v. It reports whether a waiter consumed the value. Waiters fire in
// FIFO registration order, so N blocked callers on one key each receive a
// distinct event as N events arrive.
//
// The callback runs while the registry lock is held, which makes "the entry
// is gone" equivalent to "its callback has already returned". Callbacks must
// therefore be cheap and must not re-enter the registry; delivering into a
// buffered channel is the intended shape.
func (r *Registry[T]) NotifyFirst(key string, v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.waiters[key]
	if len(list) == 0 {
		return false
	}
	e := list[0]
	if len(list) == 1 {
		delete(r.waiters, key)
	} else {
		r.waiters[key] = list[1:]
	}
	e.fn(v)
	return true
}

// NotifyAll invokes and removes every pending waiter for key with the same
// value, in registration order, and returns how many fired. Used when one
// event must reach all current waiters, e.g. cancellation. The re-entrancy
// rule of NotifyFirst applies.
func (r *Registry[T]) NotifyAll(key string, v T) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.waiters[key]
	delete(r.waiters, key)
	for _, e := range list {
		e.fn(v)
	}
	return len(list)
}

// Has reports whether at least one waiter is pending for key.
func (r *Registry[T]) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters[key]) > 0
}

// Count returns the number of pending waiters for key.
func (r *Registry[T]) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters[key])
}

// Clear drops all waiters for key without invoking them. It returns the
// number of waiters dropped. Intended for teardown paths where pending
// callers are expected to unblock via their own timeouts.
func (r *Registry[T]) Clear(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.waiters[key])
	delete(r.waiters, key)
	return n
}
