// Package keylock serializes work per key. Arena is an in-process implementation; RedisLocker coordinates
// several engine processes sharing one database.
package keylock

import (
	"context"
	"errors"
	"sync"
)

// ErrTimeout is returned when a lock could not be acquired before the context ended.
var ErrTimeout = errors.New("keylock: timed out waiting for lock")

// Locker acquires an exclusive lock on key. The returned unlock func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type slot struct {
	ch   chan struct{}
	refs int
}

// Arena is a Locker backed by per-key channels. Entries are reference counted and removed when idle,
// so the map only holds keys that are currently locked or awaited.
type Arena struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewArena returns an empty in-process lock arena.
func NewArena() *Arena {
	return &Arena{slots: make(map[string]*slot)}
}

// Lock blocks until key is free or ctx is done.
func (a *Arena) Lock(ctx context.Context, key string) (func(), error) {
	a.mu.Lock()
	sl, ok := a.slots[key]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		a.slots[key] = sl
	}
	sl.refs++
	a.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
	case <-ctx.Done():
		a.release(key, sl)
		return nil, ErrTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sl.ch
			a.release(key, sl)
		})
	}, nil
}

func (a *Arena) release(key string, sl *slot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(a.slots, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}
