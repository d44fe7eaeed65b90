// Package keylock provides advisory per-key mutual exclusion with a bounded
// acquisition timeout. It serializes write paths on a single session while
// leaving distinct sessions fully parallel.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when the lock could not be acquired in time.
var ErrTimeout = errors.New("lock acquisition timed out")

type entry struct {
	sem  chan struct{}
	refs int
}

// KeyLock is a set of advisory locks keyed by string. The zero value is not
// usable; construct with New.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New returns an empty KeyLock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Acquire takes the lock for key, waiting up to timeout. On success it
// returns a release function that must be called exactly once. Acquisition
// also fails if ctx is cancelled first.
func (k *KeyLock) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				k.put(key, e)
			})
		}, nil
	case <-timer.C:
		k.put(key, e)
		return nil, ErrTimeout
	case <-ctx.Done():
		k.put(key, e)
		return nil, ctx.Err()
	}
}

// put drops one reference and removes the entry once unused, so the lock
// table does not grow with the number of sessions ever seen.
func (k *KeyLock) put(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Len reports the number of keys currently tracked.
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
