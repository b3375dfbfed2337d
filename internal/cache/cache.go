// Package cache is the agent's single shared mutable resource: a keyed,
// TTL-based cache of backend responses with prefix invalidation,
// optimistic overwrite, and centralized pollers. All reads and writes
// for a given key are serialized; a late fetch result never overwrites
// data written by a newer request (last-write-wins by issue time).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"
)

var (
	// ErrMiss means the key has never been stored or was fully evicted.
	ErrMiss = errors.New("cache: miss")
	// ErrStale means the returned value is older than its freshness
	// window. A background refresh has been scheduled when possible.
	ErrStale = errors.New("cache: stale")
	// ErrClosed means the cache has been shut down.
	ErrClosed = errors.New("cache: closed")
)

// Observer receives cache events for metrics. All methods must be safe
// for concurrent use; implementations must not block.
type Observer interface {
	Hit(key string)
	Miss(key string)
	Refresh(key string, ok bool)
}

// Options configures a Cache.
type Options struct {
	// AutoRefresh makes a stale read refetch synchronously instead of
	// serving the stale value while refreshing in the background.
	AutoRefresh bool
	// FailureThreshold is how many consecutive background refresh or
	// poll failures stay silent before one is surfaced. Default 3.
	FailureThreshold int
	// OnBackgroundFailure is called once when a key or poller reaches
	// FailureThreshold consecutive failures. May be nil.
	OnBackgroundFailure func(name string, err error)
	// Tier is an optional shared remote tier (e.g. Redis) consulted on
	// local miss and written through on store. May be nil.
	Tier Tier
	// Observer receives hit/miss/refresh events. May be nil.
	Observer Observer
}

// fetchFunc loads a fresh value for a key.
type fetchFunc func(ctx context.Context) (any, error)

// decodeFunc turns tier bytes back into a typed value.
type decodeFunc func([]byte) (any, error)

type entry struct {
	value      any
	fetchedAt  time.Time
	staleAfter time.Duration
	// writeSeq is the issue sequence of the request that produced the
	// value; invalidateSeq is bumped by Invalidate so older in-flight
	// fetches are discarded on arrival.
	writeSeq      uint64
	invalidateSeq uint64
	refreshing    bool
	failures      int
	refresher     fetchFunc
	decoder       decodeFunc
}

func (e *entry) fresh(now time.Time) bool {
	return !e.fetchedAt.IsZero() && now.Sub(e.fetchedAt) < e.staleAfter
}

// Cache is created once at application start and closed at shutdown,
// which cancels every poller and pending background refresh.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	pollers map[string]*Poller
	closed  bool

	opts Options
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
	now  func() time.Time
}

// New returns an empty Cache with the given options.
func New(opts Options) *Cache {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		entries: make(map[string]*entry),
		pollers: make(map[string]*Poller),
		opts:    opts,
		ctx:     ctx,
		stop:    cancel,
		now:     time.Now,
	}
}

// Close cancels all pollers and in-flight background refreshes and
// waits for them to finish. The cache rejects further use.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.stop()
	c.wg.Wait()
}

// nextSeq must be called with c.mu held.
func (c *Cache) nextSeq() uint64 {
	c.seq++
	return c.seq
}

// Get returns the cached value for key. A fresh value returns err ==
// nil. A stale value is returned together with ErrStale and a
// background refresh is scheduled (or, with AutoRefresh, refetched
// synchronously when a refresher is known). A missing key returns
// (nil, ErrMiss).
func (c *Cache) Get(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.observeMiss(key)
		return nil, ErrMiss
	}
	if e.fresh(c.now()) {
		v := e.value
		c.mu.Unlock()
		c.observeHit(key)
		return v, nil
	}
	refresher := e.refresher
	stale := e.value
	// An invalidated entry is gone for readers, not merely stale.
	hasValue := e.writeSeq > 0 && e.writeSeq > e.invalidateSeq
	c.mu.Unlock()
	c.observeMiss(key)

	if refresher == nil {
		if hasValue {
			return stale, ErrStale
		}
		return nil, ErrMiss
	}
	if c.opts.AutoRefresh {
		seq := c.issue()
		v, err := refresher(ctx)
		if err != nil {
			if hasValue {
				return stale, err
			}
			return nil, err
		}
		c.storeResult(key, v, seq)
		return v, nil
	}
	c.scheduleRefresh(key)
	if !hasValue {
		return nil, ErrMiss
	}
	return stale, ErrStale
}

// Put stores value under key with the given freshness window.
func (c *Cache) Put(key string, value any, staleAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	seq := c.nextSeq()
	e := c.ensureEntry(key)
	e.value = value
	e.fetchedAt = c.now()
	e.staleAfter = staleAfter
	e.writeSeq = seq
	e.failures = 0
	c.tierSet(key, value, staleAfter)
}

// SetQueryData overwrites the cached value without a round trip, used
// after a mutation whose response is already known. The write counts as
// the newest for the key, so any older in-flight fetch is discarded.
func (c *Cache) SetQueryData(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	seq := c.nextSeq()
	e := c.ensureEntry(key)
	if e.staleAfter <= 0 {
		e.staleAfter = time.Minute
	}
	e.value = value
	e.fetchedAt = c.now()
	e.writeSeq = seq
	c.tierSet(key, value, e.staleAfter)
}

// Invalidate marks every entry whose key starts with prefix as stale,
// forcing the next read to refetch. In-flight fetches issued before the
// invalidation are discarded when they arrive.
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	seq := c.nextSeq()
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			e.fetchedAt = time.Time{}
			e.invalidateSeq = seq
		}
	}
	tier := c.opts.Tier
	if tier != nil {
		c.wg.Add(1)
	}
	c.mu.Unlock()
	if tier != nil {
		go func() {
			defer c.wg.Done()
			ctx, cancel := context.WithTimeout(c.ctx, tierTimeout)
			defer cancel()
			if err := tier.DeletePrefix(ctx, prefix); err != nil {
				log.Printf("cache: tier invalidate %q: %v", prefix, err)
			}
		}()
	}
}

// ensureEntry must be called with c.mu held.
func (c *Cache) ensureEntry(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

// issue allocates an issue sequence for a request starting now.
func (c *Cache) issue() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSeq()
}

// storeResult applies a fetch result issued at seq. The result is
// dropped when a newer write or an invalidation happened after the
// request was issued.
func (c *Cache) storeResult(key string, value any, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	e := c.ensureEntry(key)
	if seq <= e.writeSeq || seq <= e.invalidateSeq {
		return false // superseded
	}
	e.value = value
	e.fetchedAt = c.now()
	e.writeSeq = seq
	e.failures = 0
	c.tierSet(key, value, e.staleAfter)
	return true
}

// getOrFetch is the untyped core behind GetOrFetch.
func (c *Cache) getOrFetch(ctx context.Context, key string, staleAfter time.Duration, fetch fetchFunc, decode decodeFunc) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e := c.ensureEntry(key)
	e.refresher = fetch
	e.decoder = decode
	if e.staleAfter <= 0 {
		e.staleAfter = staleAfter
	}
	if e.fresh(c.now()) {
		v := e.value
		c.mu.Unlock()
		c.observeHit(key)
		return v, nil
	}
	stale := e.value
	hasStale := e.writeSeq > 0 && e.invalidateSeq < e.writeSeq
	seq := c.nextSeq()
	c.mu.Unlock()
	c.observeMiss(key)

	// Remote tier is only consulted when there is no local value at all,
	// so an invalidation is never papered over by a shared stale copy.
	if !hasStale && c.opts.Tier != nil && decode != nil {
		if v, fetchedAt, ok := c.tierGet(ctx, key, decode); ok && c.now().Sub(fetchedAt) < staleAfter {
			c.mu.Lock()
			e := c.ensureEntry(key)
			if seq > e.writeSeq && seq > e.invalidateSeq {
				e.value = v
				e.fetchedAt = fetchedAt
				e.staleAfter = staleAfter
				e.writeSeq = seq
			}
			v = e.value
			c.mu.Unlock()
			c.observeHit(key)
			return v, nil
		}
	}

	v, err := fetch(ctx)
	if err != nil {
		// Read path: surface the error but keep stale data available.
		if hasStale {
			return stale, err
		}
		return nil, err
	}
	if !c.storeResult(key, v, seq) {
		c.mu.Lock()
		cur := c.entries[key]
		newerWrite := cur != nil && cur.writeSeq > seq && cur.writeSeq > cur.invalidateSeq
		if newerWrite {
			v = cur.value
		}
		c.mu.Unlock()
		if !newerWrite {
			// Superseded by an invalidation, not a newer write: the
			// result and the old cached value both predate it, so fetch
			// once more rather than serve pre-invalidation data.
			seq = c.issue()
			v, err = fetch(ctx)
			if err != nil {
				return nil, err
			}
			c.storeResult(key, v, seq)
		}
	}
	return v, nil
}

// GetOrFetch returns the fresh cached value for key, or fetches one.
// On fetch failure a stale value, if any, is returned together with the
// error so callers can render stale-but-available data.
func GetOrFetch[T any](ctx context.Context, c *Cache, key string, staleAfter time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.getOrFetch(ctx, key, staleAfter,
		func(ctx context.Context) (any, error) { return fetch(ctx) },
		func(data []byte) (any, error) {
			var out T
			if err := json.Unmarshal(data, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	)
	if v == nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, err
	}
	return typed, err
}

// scheduleRefresh starts a background refresh for key unless one is
// already running. The result is applied with last-write-wins.
func (c *Cache) scheduleRefresh(key string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	e, ok := c.entries[key]
	if !ok || e.refresher == nil || e.refreshing {
		c.mu.Unlock()
		return
	}
	e.refreshing = true
	fetch := e.refresher
	seq := c.nextSeq()
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, refreshTimeout)
		defer cancel()
		v, err := fetch(ctx)

		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			e.refreshing = false
		}
		c.mu.Unlock()

		if err != nil {
			c.recordFailure(key, err)
			c.observeRefresh(key, false)
			return
		}
		c.storeResult(key, v, seq)
		c.observeRefresh(key, true)
	}()
}

// refreshTimeout bounds one background refresh.
const refreshTimeout = 30 * time.Second

// recordFailure counts consecutive background failures for name and
// surfaces one notification at the threshold. Success resets the count
// via storeResult.
func (c *Cache) recordFailure(name string, err error) {
	c.mu.Lock()
	e := c.ensureEntry(name)
	e.failures++
	hit := e.failures == c.opts.FailureThreshold
	cb := c.opts.OnBackgroundFailure
	c.mu.Unlock()
	if hit && cb != nil {
		cb(name, err)
	} else if !hit {
		log.Printf("cache: background refresh %q failed: %v", name, err)
	}
}

func (c *Cache) observeHit(key string) {
	if c.opts.Observer != nil {
		c.opts.Observer.Hit(key)
	}
}

func (c *Cache) observeMiss(key string) {
	if c.opts.Observer != nil {
		c.opts.Observer.Miss(key)
	}
}

func (c *Cache) observeRefresh(key string, ok bool) {
	if c.opts.Observer != nil {
		c.opts.Observer.Refresh(key, ok)
	}
}
