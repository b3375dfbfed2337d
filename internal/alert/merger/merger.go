// Package merger combines security alerts arriving from polling and
// from the realtime push channel into one de-duplicated, time-ordered
// view, and tracks read state against the backend.
package merger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sessionguard/agent/internal/alert/domain"
)

// Store is the backend surface the merger needs for read-state and
// dismissal writes.
type Store interface {
	MarkAlertRead(ctx context.Context, id string) error
	MarkAllAlertsRead(ctx context.Context) error
	DismissAlert(ctx context.Context, id string) error
}

// Merger holds the merged alert set. Upserts from any source are
// commutative and idempotent: the last copy of an id wins wholesale,
// regardless of whether poll or push delivered it first.
type Merger struct {
	store Store

	mu     sync.Mutex
	byID   map[string]*domain.Alert
	sorted []*domain.Alert // lazily rebuilt snapshot
	dirty  bool
}

// New returns an empty Merger writing read-state changes to store.
func New(store Store) *Merger {
	return &Merger{
		store: store,
		byID:  make(map[string]*domain.Alert),
	}
}

// Upsert inserts or replaces alerts by id. Used for both poll results
// and push events; a push copy arriving before the confirming poll (or
// after it) converges to the same state.
func (m *Merger) Upsert(alerts ...*domain.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range alerts {
		if a == nil || a.ID == "" {
			continue
		}
		cp := *a
		m.byID[a.ID] = &cp
		m.dirty = true
	}
}

// Snapshot returns the merged alerts sorted by creation time
// descending, ties broken by id for determinism. The returned slice is
// shared; callers must not mutate it.
func (m *Merger) Snapshot() []*domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirty || m.sorted == nil {
		m.sorted = make([]*domain.Alert, 0, len(m.byID))
		for _, a := range m.byID {
			m.sorted = append(m.sorted, a)
		}
		sort.Slice(m.sorted, func(i, j int) bool {
			ti, tj := m.sorted[i].CreatedAt, m.sorted[j].CreatedAt
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
			return m.sorted[i].ID < m.sorted[j].ID
		})
		m.dirty = false
	}
	return m.sorted
}

// UnreadCount returns how many merged alerts are unread. It always
// equals len(alerts) minus the read ones; no alert is counted twice.
func (m *Merger) UnreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.byID {
		if !a.Read {
			n++
		}
	}
	return n
}

// Len returns the number of merged alerts.
func (m *Merger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Unacknowledged returns how many unread alerts have the given
// severity. Feeds the security score.
func (m *Merger) Unacknowledged(severity domain.Severity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.byID {
		if !a.Read && a.Severity == severity {
			n++
		}
	}
	return n
}

// MarkAsRead flips one alert's read flag. The backend is written first;
// the local flag only changes on success, so a failure leaves the prior
// state intact (no optimistic flip). Idempotent.
func (m *Merger) MarkAsRead(ctx context.Context, id string) error {
	if err := m.store.MarkAlertRead(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok && !a.Read {
		a.Read = true
		m.dirty = true
	}
	return nil
}

// MarkAllAsRead flips every alert's read flag. The backend's read-all
// endpoint is atomic; when it fails the merger falls back to marking
// each unread alert individually, continues past per-item failures, and
// reports them aggregated. Idempotent: a second call finds nothing
// unread and is a no-op against local state.
func (m *Merger) MarkAllAsRead(ctx context.Context) error {
	if err := m.store.MarkAllAlertsRead(ctx); err == nil {
		m.mu.Lock()
		for _, a := range m.byID {
			if !a.Read {
				a.Read = true
				m.dirty = true
			}
		}
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	var unread []string
	for id, a := range m.byID {
		if !a.Read {
			unread = append(unread, id)
		}
	}
	m.mu.Unlock()

	var failed []string
	for _, id := range unread {
		if err := m.MarkAsRead(ctx, id); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("merger: mark all read: %d of %d alerts failed: %v", len(failed), len(unread), failed)
	}
	return nil
}

// Dismiss deletes one alert on the backend and drops it locally.
func (m *Merger) Dismiss(ctx context.Context, id string) error {
	if err := m.store.DismissAlert(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; ok {
		delete(m.byID, id)
		m.dirty = true
	}
	return nil
}
