// Package feed provides a small multi-subscriber signal. Listeners are
// notified synchronously in registration order; a panicking listener is
// logged and never propagated to the notifier or its peers.
package feed

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type Feed[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []sub[T]
}

type sub[T any] struct {
	id int
	fn func(T)
}

func New[T any]() *Feed[T] {
	return &Feed[T]{}
}

// Subscribe registers fn and returns its unsubscribe handle. Unsubscribing
// twice is a no-op.
func (f *Feed[T]) Subscribe(fn func(T)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, sub[T]{id: id, fn: fn})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s.id == id {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				return
			}
		}
	}
}

func (f *Feed[T]) Notify(v T) {
	f.mu.Lock()
	subs := make([]sub[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, s := range subs {
		deliver(s.fn, v)
	}
}

func deliver[T any](fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("feed listener panic")
		}
	}()
	fn(v)
}
