package cachestore

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Keyed is a map of independently expiring entries.
type Keyed[V any] struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry[V]

	group singleflight.Group
}

func NewKeyed[V any](ttl time.Duration) *Keyed[V] {
	return &Keyed[V]{TTL: ttl, Now: time.Now, entries: map[string]Entry[V]{}}
}

func (k *Keyed[V]) now() time.Time {
	if k.Now == nil {
		return time.Now()
	}
	return k.Now()
}

// Lookup returns the entry for key if present and not expired.
func (k *Keyed[V]) Lookup(key string) (V, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	entry, exists := k.entries[key]
	if !exists || entry.Age(k.now()) >= k.TTL {
		var empty V
		return empty, false
	}

	return entry.Value, true
}

func (k *Keyed[V]) Set(key string, value V) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.entries == nil {
		k.entries = map[string]Entry[V]{}
	}
	k.entries[key] = Entry[V]{Value: value, FetchedAt: k.now()}
}

func (k *Keyed[V]) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.entries = map[string]Entry[V]{}
}

// Get returns the cached value for key or loads it, sharing in-flight loads per key.
// Failed loads are not cached.
func (k *Keyed[V]) Get(ctx context.Context, key string, load Loader[V]) (V, error) {
	if value, ok := k.Lookup(key); ok {
		return value, nil
	}

	result := k.group.DoChan(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}

		k.Set(key, value)
		return value, nil
	})

	var empty V
	select {
	case <-ctx.Done():
		return empty, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return empty, res.Err
		}
		return res.Val.(V), nil
	}
}
