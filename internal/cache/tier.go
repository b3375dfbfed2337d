package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// tierTimeout bounds one remote tier operation; the tier is best-effort
// and must never stall a read for long.
const tierTimeout = 2 * time.Second

// Tier is a shared remote cache tier. Several agents on the same
// workstation pool (e.g. clinic kiosks) can warm each other's caches
// through it. Implementations must be safe for concurrent use.
type Tier interface {
	// Get returns the stored envelope bytes and fetch time for key.
	// ok is false when the key is absent.
	Get(ctx context.Context, key string) (data []byte, fetchedAt time.Time, ok bool, err error)
	// Set stores the envelope with the given TTL.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// tierGet reads and decodes a value from the remote tier. Best-effort:
// failures are logged and reported as a miss.
func (c *Cache) tierGet(ctx context.Context, key string, decode decodeFunc) (any, time.Time, bool) {
	tctx, cancel := context.WithTimeout(ctx, tierTimeout)
	defer cancel()
	data, fetchedAt, ok, err := c.opts.Tier.Get(tctx, key)
	if err != nil {
		log.Printf("cache: tier get %q: %v", key, err)
		return nil, time.Time{}, false
	}
	if !ok {
		return nil, time.Time{}, false
	}
	v, err := decode(data)
	if err != nil {
		log.Printf("cache: tier decode %q: %v", key, err)
		return nil, time.Time{}, false
	}
	return v, fetchedAt, true
}

// tierSet writes through to the remote tier asynchronously.
// Must be called with c.mu held; it snapshots what it needs first.
func (c *Cache) tierSet(key string, value any, ttl time.Duration) {
	tier := c.opts.Tier
	if tier == nil || ttl <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("cache: tier encode %q: %v", key, err)
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, tierTimeout)
		defer cancel()
		if err := tier.Set(ctx, key, data, ttl); err != nil {
			log.Printf("cache: tier set %q: %v", key, err)
		}
	}()
}
