// Package cache memoizes compiled artifacts, such as rule programs, by the
// hash of their source text.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// InMemory holds at most max entries. Once full it keeps serving hits and
// computes misses without storing them.
type InMemory[V any] struct {
	mu    sync.RWMutex
	max   int
	items map[string]V
	group singleflight.Group
}

func NewInMemory[V any](max int) *InMemory[V] {
	if max < 0 {
		max = 0
	}
	return &InMemory[V]{
		max:   max,
		items: make(map[string]V, max),
	}
}

// GetOrCompute returns the cached value for source, or runs fn once for all
// concurrent callers asking for the same source. Errors and panics are not
// cached.
func (c *InMemory[V]) GetOrCompute(source string, fn func() (V, error)) (V, error) {
	key := hash(source)

	c.mu.RLock()
	if v, ok := c.items[key]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	out, err, _ := c.group.Do(key, func() (result any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("cache: compute panicked: %v", p)
			}
		}()

		c.mu.RLock()
		v, ok := c.items[key]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}

		v, err = fn()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if len(c.items) < c.max {
			c.items[key] = v
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return out.(V), nil
}

func (c *InMemory[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
