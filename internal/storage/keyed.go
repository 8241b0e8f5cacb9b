package storage

import (
	"context"
	"sync"
)

// KeyedMutex serializes work per key. Each key is a one-slot channel so
// waiting can be abandoned when ctx is done.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// Lock acquires key, returning a release func.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.slots == nil {
		k.slots = map[string]chan struct{}{}
	}
	ch, ok := k.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[key] = ch
	}
	k.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
