package cache

import (
	"context"
	"log"
	"sync"
	"time"
)

// Poller is one schedulable background task owned by the cache, e.g.
// "refresh the sessions list every 30s". Consumers register pollers
// here instead of starting their own timers, so shutdown is one call.
type Poller struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error

	cancel   context.CancelFunc
	stopOnce sync.Once
}

// Name returns the poller's registered name.
func (p *Poller) Name() string { return p.name }

// Stop cancels the poller. Safe to call more than once; a tick already
// in flight finishes or is canceled through its context.
func (p *Poller) Stop() {
	p.stopOnce.Do(p.cancel)
}

// StartPoller registers and starts a named poller running task every
// interval. The first run happens immediately. Consecutive failures
// are silent until the cache's FailureThreshold, matching background
// refresh behavior. Returns nil when the cache is closed or a poller
// with the same name already runs.
func (c *Cache) StartPoller(name string, interval time.Duration, task func(ctx context.Context) error) *Poller {
	if interval <= 0 || task == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if _, exists := c.pollers[name]; exists {
		c.mu.Unlock()
		log.Printf("cache: poller %q already running", name)
		return nil
	}
	ctx, cancel := context.WithCancel(c.ctx)
	p := &Poller{name: name, interval: interval, task: task, cancel: cancel}
	c.pollers[name] = p
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.pollers, name)
			c.mu.Unlock()
		}()
		c.runPollerTick(ctx, p)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runPollerTick(ctx, p)
			}
		}
	}()
	return p
}

// StopPoller stops the named poller if it is running.
func (c *Cache) StopPoller(name string) {
	c.mu.Lock()
	p := c.pollers[name]
	c.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

func (c *Cache) runPollerTick(ctx context.Context, p *Poller) {
	tickCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	err := p.task(tickCtx)
	if ctx.Err() != nil {
		return // torn down mid-tick; do not count or report
	}
	if err != nil {
		c.recordFailure("poller:"+p.name, err)
		return
	}
	c.mu.Lock()
	if e, ok := c.entries["poller:"+p.name]; ok {
		e.failures = 0
	}
	c.mu.Unlock()
}
