// Package coordinator presents one consistent view of the user's
// sessions (list, current-session pointer, selection) and serializes
// every mutating operation to the Remote Session Store through the
// cache. Mutations invalidate before anything refetches, never the
// other way around.
package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"sessionguard/agent/internal/api"
	"sessionguard/agent/internal/audit"
	"sessionguard/agent/internal/cache"
	"sessionguard/agent/internal/notify"
	"sessionguard/agent/internal/session/domain"
)

// Cache key prefixes. The "sessions" prefix covers every list page;
// the current-session pointer and settings are keyed apart so a list
// invalidation does not evict them.
const (
	keySessionsPrefix = "sessions"
	keyCurrent        = "current-session"
	keySettings       = "settings"
	keyStats          = "stats"
)

// Store is the backend surface the coordinator needs. *api.Client
// implements it; tests provide in-memory fakes.
type Store interface {
	ListSessions(ctx context.Context, f domain.Filters, page, limit int) (*domain.Page, error)
	CurrentSession(ctx context.Context) (*domain.Session, error)
	GetSettings(ctx context.Context) (*domain.Settings, error)
	UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (*domain.Settings, error)
	GetStats(ctx context.Context) (*domain.Stats, error)
	TerminateSession(ctx context.Context, id, reason string) error
	TerminateOthers(ctx context.Context) (int, error)
	TrustDevice(ctx context.Context, id string) error
	UntrustDevice(ctx context.Context, id string) error
	ReportSuspicious(ctx context.Context, id, reason string) error
}

// TTLs are the freshness windows per resource.
type TTLs struct {
	Sessions time.Duration
	Current  time.Duration
	Settings time.Duration
	Stats    time.Duration
}

// DefaultTTLs mirror the polling cadence: session data goes stale
// faster than settings.
func DefaultTTLs() TTLs {
	return TTLs{
		Sessions: 30 * time.Second,
		Current:  30 * time.Second,
		Settings: 5 * time.Minute,
		Stats:    time.Minute,
	}
}

// Coordinator is safe for concurrent use. Mutations against the same
// session id are serialized in issue order by a per-id lock.
type Coordinator struct {
	store    Store
	cache    *cache.Cache
	notifier notify.Notifier
	auditor  audit.AuditLogger
	ttl      TTLs

	mu        sync.Mutex
	selected  map[string]struct{}
	known     map[string]*domain.Session // server-confirmed copies from the last fetches
	lastList  []string                   // ids of the most recent list result, for SelectAll
	currentID string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New returns a Coordinator over the given store and cache. notifier
// and auditor may be nil for embedders that do not surface them.
func New(store Store, c *cache.Cache, notifier notify.Notifier, auditor audit.AuditLogger, ttl TTLs) *Coordinator {
	if ttl == (TTLs{}) {
		ttl = DefaultTTLs()
	}
	return &Coordinator{
		store:    store,
		cache:    c,
		notifier: notifier,
		auditor:  auditor,
		ttl:      ttl,
		selected: make(map[string]struct{}),
		known:    make(map[string]*domain.Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutation lock for a session id.
func (c *Coordinator) lockFor(id string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

func listKey(f domain.Filters, page, limit int) string {
	return keySessionsPrefix + ":list:p" + strconv.Itoa(page) + ":l" + strconv.Itoa(limit) +
		":u" + f.UserID + ":s" + string(f.Status) + ":r" + string(f.RiskLevel) + ":o" + f.SortBy
}

// ListSessions returns one page of sessions, cached until stale.
// Ordering is last-activity descending unless the filters ask
// otherwise; the backend guarantees it and the coordinator relies on
// the cache key carrying the sort. pageSize must be positive.
func (c *Coordinator) ListSessions(ctx context.Context, f domain.Filters, page, pageSize int) (*domain.Page, error) {
	if pageSize <= 0 {
		return nil, &api.ValidationError{Message: "page size must be positive"}
	}
	if page <= 0 {
		page = 1
	}
	result, err := cache.GetOrFetch(ctx, c.cache, listKey(f, page, pageSize), c.ttl.Sessions,
		func(ctx context.Context) (*domain.Page, error) {
			return c.store.ListSessions(ctx, f, page, pageSize)
		})
	if result != nil {
		c.remember(result.Items...)
		c.mu.Lock()
		c.lastList = c.lastList[:0]
		for _, s := range result.Items {
			c.lastList = append(c.lastList, s.ID)
		}
		c.mu.Unlock()
	}
	return result, err
}

// CurrentSession returns the caller's own session, cached until stale.
func (c *Coordinator) CurrentSession(ctx context.Context) (*domain.Session, error) {
	s, err := cache.GetOrFetch(ctx, c.cache, keyCurrent, c.ttl.Current, c.store.CurrentSession)
	if s != nil {
		c.remember(s)
		c.mu.Lock()
		c.currentID = s.ID
		c.mu.Unlock()
	}
	return s, err
}

// GetSettings returns the per-user session settings, cached until stale.
func (c *Coordinator) GetSettings(ctx context.Context) (*domain.Settings, error) {
	return cache.GetOrFetch(ctx, c.cache, keySettings, c.ttl.Settings, c.store.GetSettings)
}

// Stats returns aggregate session statistics, cached until stale.
func (c *Coordinator) Stats(ctx context.Context) (*domain.Stats, error) {
	return cache.GetOrFetch(ctx, c.cache, keyStats, c.ttl.Stats, c.store.GetStats)
}

// UpdateSettings merges the patch server-side. The response is written
// into the cache directly, so no refetch is needed.
func (c *Coordinator) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (*domain.Settings, error) {
	updated, err := c.store.UpdateSettings(ctx, patch)
	if err != nil {
		c.report(ctx, "update settings", "settings", "", err, "")
		return nil, err
	}
	c.cache.SetQueryData(keySettings, updated)
	c.report(ctx, "update settings", "settings", "", nil, "")
	return updated, nil
}

// Terminate terminates one session. Returns NotFoundError when the
// backend no longer knows the id. The sessions prefix is invalidated;
// the current-session entry too when the terminated id is the current
// one.
func (c *Coordinator) Terminate(ctx context.Context, id, reason string) error {
	l := c.lockFor(id)
	l.Lock()
	defer l.Unlock()
	if err := c.store.TerminateSession(ctx, id, reason); err != nil {
		c.report(ctx, "terminate session", "session", id, err, reason)
		return err
	}
	c.afterTerminate(id)
	c.report(ctx, "terminate session", "session", id, nil, reason)
	return nil
}

// afterTerminate applies the cache effects of a confirmed termination.
func (c *Coordinator) afterTerminate(id string) {
	c.cache.Invalidate(keySessionsPrefix)
	c.mu.Lock()
	if s, ok := c.known[id]; ok {
		s.Status = domain.StatusTerminated
	}
	isCurrent := id == c.currentID && c.currentID != ""
	delete(c.selected, id)
	c.mu.Unlock()
	if isCurrent {
		c.cache.Invalidate(keyCurrent)
	}
}

// TerminateAllOthers terminates every active session except the
// caller's current one and returns the count. Idempotent: a second
// call finds no other sessions and terminates zero.
func (c *Coordinator) TerminateAllOthers(ctx context.Context) (int, error) {
	count, err := c.store.TerminateOthers(ctx)
	if err != nil {
		c.report(ctx, "terminate other sessions", "session", "", err, "")
		return 0, err
	}
	c.cache.Invalidate(keySessionsPrefix)
	c.mu.Lock()
	for id, s := range c.known {
		if id != c.currentID && s.Status == domain.StatusActive {
			s.Status = domain.StatusTerminated
		}
		if id != c.currentID {
			delete(c.selected, id)
		}
	}
	c.mu.Unlock()
	c.report(ctx, "terminate other sessions", "session", "", nil, fmt.Sprintf("terminated %d", count))
	return count, nil
}

// TrustDevice marks the session's device as trusted. Blocked sessions
// refuse trust without a round trip.
func (c *Coordinator) TrustDevice(ctx context.Context, id string) error {
	c.mu.Lock()
	if s, ok := c.known[id]; ok && !s.CanTrustDevice() {
		c.mu.Unlock()
		err := &api.ValidationError{Message: "session is blocked; its device cannot be trusted"}
		c.report(ctx, "trust device", "session", id, err, "")
		return err
	}
	c.mu.Unlock()

	l := c.lockFor(id)
	l.Lock()
	defer l.Unlock()
	if err := c.store.TrustDevice(ctx, id); err != nil {
		c.report(ctx, "trust device", "session", id, err, "")
		return err
	}
	c.cache.Invalidate(keySessionsPrefix)
	c.mu.Lock()
	if s, ok := c.known[id]; ok {
		s.Device.Trusted = true
	}
	c.mu.Unlock()
	c.report(ctx, "trust device", "session", id, nil, "")
	return nil
}

// UntrustDevice clears the session's device-trust flag.
func (c *Coordinator) UntrustDevice(ctx context.Context, id string) error {
	l := c.lockFor(id)
	l.Lock()
	defer l.Unlock()
	if err := c.store.UntrustDevice(ctx, id); err != nil {
		c.report(ctx, "untrust device", "session", id, err, "")
		return err
	}
	c.cache.Invalidate(keySessionsPrefix)
	c.mu.Lock()
	if s, ok := c.known[id]; ok {
		s.Device.Trusted = false
	}
	c.mu.Unlock()
	c.report(ctx, "untrust device", "session", id, nil, "")
	return nil
}

// ReportSuspicious files a security alert for the session. It never
// terminates the session; that stays a separate, explicit action. The
// resulting alert reaches the merger through polling or push, so no
// cache entry needs touching here.
func (c *Coordinator) ReportSuspicious(ctx context.Context, id, reason string) error {
	if err := c.store.ReportSuspicious(ctx, id, reason); err != nil {
		c.report(ctx, "report suspicious session", "session", id, err, reason)
		return err
	}
	c.report(ctx, "report suspicious session", "session", id, nil, reason)
	return nil
}

// remember stores server-confirmed session copies for local checks
// (trust refusal on blocked, current-session comparison).
func (c *Coordinator) remember(sessions ...*domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range sessions {
		if s == nil || s.ID == "" {
			continue
		}
		cp := *s
		c.known[s.ID] = &cp
		if s.Current {
			c.currentID = s.ID
		}
	}
}

// ApplySessionUpdate merges a pushed session record into the local
// view and invalidates the list cache so the next read refetches. The
// push channel and polling may deliver the same change in either
// order; both paths converge on the backend's copy.
func (c *Coordinator) ApplySessionUpdate(s *domain.Session) {
	if s == nil || s.ID == "" {
		return
	}
	c.remember(s)
	c.cache.Invalidate(keySessionsPrefix)
	c.mu.Lock()
	isCurrent := s.ID == c.currentID
	c.mu.Unlock()
	if isCurrent && s.Status != domain.StatusActive {
		c.cache.Invalidate(keyCurrent)
	}
}

// report audits the mutation and notifies the user of its outcome.
func (c *Coordinator) report(ctx context.Context, action, resource, id string, err error, detail string) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if detail == "" {
			detail = err.Error()
		} else {
			detail += ": " + err.Error()
		}
	}
	if c.auditor != nil {
		c.auditor.LogEvent(ctx, action, resource, id, outcome, detail)
	}
	if err != nil {
		notify.Failure(ctx, c.notifier, action, err)
		return
	}
	msg := "done"
	if id != "" {
		msg = resource + " " + id
	}
	notify.Success(ctx, c.notifier, action, msg)
}
