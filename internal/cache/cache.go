// Package cache is an invalidation-driven store of derived query results.
// There is no TTL: a value stays good until a local write or a remote change
// notification marks its key stale, and recompute happens lazily on the next
// read. Concurrent reads of a stale key share one in-flight recompute.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Result is what a consumer sees for a key. IsStale is set when the returned
// value predates the latest invalidation (recompute failed, stale value served).
type Result struct {
	Value     any
	IsLoading bool
	IsStale   bool
}

// ComputeFunc produces the fresh value for a key.
type ComputeFunc func(ctx context.Context) (any, error)

type entry struct {
	value   any
	has     bool
	stale   bool
	loading bool
	gen     uint64 // bumped on every invalidation
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group
	subs    map[string]map[chan struct{}]struct{}
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		subs:    make(map[string]map[chan struct{}]struct{}),
	}
}

// Read returns the cached value for key, computing it first if the key is
// missing or stale. Concurrent readers of the same stale key share one
// in-flight compute. Each invalidation bumps the entry's generation; a
// compute only stores its result as fresh if the generation it started under
// is still current, otherwise the reader recomputes, so an invalidation that
// lands mid-compute is never lost. When a recompute fails and an earlier
// value exists, that value is returned marked stale along with the error.
func (c *Cache) Read(ctx context.Context, key string, compute ComputeFunc) (Result, error) {
	for {
		c.mu.Lock()
		e := c.entries[key]
		if e != nil && e.has && !e.stale {
			res := Result{Value: e.value}
			c.mu.Unlock()
			return res, nil
		}
		if e == nil {
			e = &entry{}
			c.entries[key] = e
		}
		gen := e.gen
		e.loading = true
		c.mu.Unlock()

		// Keyed by generation: readers arriving after a newer invalidation
		// never join a flight started before it.
		value, err, _ := c.group.Do(flightKey(key, gen), func() (any, error) {
			return compute(ctx)
		})

		c.mu.Lock()
		e.loading = false
		if err != nil {
			if e.has {
				res := Result{Value: e.value, IsStale: true}
				c.mu.Unlock()
				return res, err
			}
			c.mu.Unlock()
			return Result{}, err
		}
		if e.gen != gen {
			// Invalidated while computing; the result predates the change.
			c.mu.Unlock()
			continue
		}
		e.value = value
		e.has = true
		e.stale = false
		res := Result{Value: value}
		c.mu.Unlock()
		return res, nil
	}
}

func flightKey(key string, gen uint64) string {
	return key + "#" + strconv.FormatUint(gen, 10)
}

// Peek returns the current state of a key without triggering a recompute.
func (c *Cache) Peek(key string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[key]
	if e == nil {
		return Result{IsLoading: false, IsStale: true}
	}
	return Result{Value: e.value, IsLoading: e.loading, IsStale: e.stale || !e.has}
}

// Invalidate marks one key stale and notifies its subscribers. The cached
// value is kept so readers can fall back to it if the recompute fails.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(key)
}

// InvalidatePrefix marks every key with the given prefix stale.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.invalidateLocked(key)
		}
	}
	// Subscribers may watch keys that have never been computed.
	for key := range c.subs {
		if _, ok := c.entries[key]; !ok && strings.HasPrefix(key, prefix) {
			c.notifyLocked(key)
		}
	}
}

func (c *Cache) invalidateLocked(key string) {
	if e, ok := c.entries[key]; ok {
		e.stale = true
		e.gen++
	}
	c.notifyLocked(key)
}

func (c *Cache) notifyLocked(key string) {
	for ch := range c.subs[key] {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has a pending notification.
		}
	}
}

// Subscribe returns a channel that receives a signal whenever key goes stale.
// Signals coalesce; the channel never blocks an invalidation.
func (c *Cache) Subscribe(key string) chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[key] == nil {
		c.subs[key] = make(map[chan struct{}]struct{})
	}
	c.subs[key][ch] = struct{}{}
	return ch
}

// Unsubscribe detaches a channel obtained from Subscribe.
func (c *Cache) Unsubscribe(key string, ch chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.subs[key]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(c.subs, key)
		}
	}
}
