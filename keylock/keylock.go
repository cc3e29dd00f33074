// Package keylock serializes work per customer. Different keys never block each other.
package keylock

import (
	"context"
	"sync"
)

// Locker hands out one exclusion token per key. Tokens are created lazily and never removed.
type Locker struct {
	slots sync.Map // map[string]chan struct{}
}

func New() *Locker {
	return &Locker{}
}

// Key builds the lock key for a customer on a platform.
func Key(platform, customerID string) string {
	return platform + ":" + customerID
}

// Lock blocks until the token for key is free or ctx is done, and returns the unlock function.
// Calling unlock more than once is safe.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	v, _ := l.slots.LoadOrStore(key, make(chan struct{}, 1))
	slot := v.(chan struct{})
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}
