// Package cache provides an in-memory artifact cache keyed by fingerprint.
// It guarantees at most one concurrent computation per key: concurrent
// callers for the same fingerprint await the in-flight computation instead of
// recomputing. Settled results are held in a size- and age-bounded LRU.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the artifact for a fingerprint.
type ComputeFunc func(ctx context.Context) (any, error)

// flight tracks the waiters of one in-flight computation. Its context is
// cancelled when the last waiter departs, so abandoned work stops instead of
// running to completion against a rate-limited backend.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Cache maps fingerprints to computed artifacts.
//
// In-flight computations live in the singleflight table, not the LRU, so
// eviction can never drop a result before its waiters receive it. Failed
// computations are not cached; a later call retries.
type Cache struct {
	group singleflight.Group
	lru   *expirable.LRU[string, any]

	mu      sync.Mutex
	flights map[string]*flight
}

// New creates a cache holding at most maxEntries artifacts, each for at most
// ttl. maxEntries <= 0 means unbounded; ttl <= 0 means entries never age out.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &Cache{
		lru:     expirable.NewLRU[string, any](maxEntries, nil, ttl),
		flights: make(map[string]*flight),
	}
}

// GetOrCompute returns the cached artifact for key, or invokes compute exactly
// once among all concurrent callers sharing key and returns the result to all
// of them. A caller whose context ends while waiting gets its context error;
// the shared computation keeps running as long as any waiter remains, and on
// success still populates the cache. When the last waiter departs, the
// computation's context is cancelled and the key is released for a fresh
// attempt.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (any, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	f := c.join(key)
	defer c.leave(key, f)

	ch := c.group.DoChan(key, func() (any, error) {
		// Recheck under the flight: another caller may have settled and
		// cached between our LRU miss and joining the group.
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := compute(f.ctx)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	}
}

func (c *Cache) join(key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		f = &flight{ctx: ctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

func (c *Cache) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	delete(c.flights, key)
	// Forget so a later caller starts a fresh computation instead of joining
	// the cancelled one.
	c.group.Forget(key)
}

// Get returns a cached artifact without computing.
func (c *Cache) Get(key string) (any, bool) {
	return c.lru.Get(key)
}

// Invalidate removes a settled entry. An in-flight computation for the key is
// not cancelled and will still be delivered to its waiters.
func (c *Cache) Invalidate(key string) {
	c.lru.Remove(key)
}

// Len reports the number of settled entries currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}
