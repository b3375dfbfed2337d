package coordinator

import (
	"context"
	"fmt"
	"sort"

	"sessionguard/agent/internal/notify"
)

// Selection is pure local state: toggling never touches the network.

// ToggleSelection adds the id to the selection, or removes it when
// already selected.
func (c *Coordinator) ToggleSelection(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.selected[id]; ok {
		delete(c.selected, id)
		return
	}
	c.selected[id] = struct{}{}
}

// SelectAll selects every session from the most recent list result.
func (c *Coordinator) SelectAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.lastList {
		c.selected[id] = struct{}{}
	}
}

// ClearSelection empties the selection.
func (c *Coordinator) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = make(map[string]struct{})
}

// SelectedSessions returns the selected ids, sorted for determinism.
func (c *Coordinator) SelectedSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.selected))
	for id := range c.selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BulkResult is the aggregate outcome of TerminateSelected.
type BulkResult struct {
	Terminated []string
	Failed     map[string]error
}

// Err returns nil when every termination succeeded, otherwise one
// error summarizing the failures.
func (r *BulkResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return fmt.Errorf("coordinator: %d of %d terminations failed", len(r.Failed), len(r.Failed)+len(r.Terminated))
}

// TerminateSelected terminates every selected session. Each terminate
// is attempted independently: one failure does not stop the rest and
// nothing is rolled back. Failures are collected and reported in the
// aggregate, not retried.
func (c *Coordinator) TerminateSelected(ctx context.Context, reason string) *BulkResult {
	ids := c.SelectedSessions()
	res := &BulkResult{Failed: make(map[string]error)}
	for _, id := range ids {
		l := c.lockFor(id)
		l.Lock()
		err := c.store.TerminateSession(ctx, id, reason)
		l.Unlock()
		if err != nil {
			res.Failed[id] = err
			continue
		}
		res.Terminated = append(res.Terminated, id)
		c.afterTerminate(id)
	}
	detail := fmt.Sprintf("terminated %d of %d", len(res.Terminated), len(ids))
	if c.auditor != nil {
		outcome := "ok"
		if len(res.Failed) > 0 {
			outcome = "error"
		}
		c.auditor.LogEvent(ctx, "terminate selected sessions", "session", "", outcome, detail)
	}
	if err := res.Err(); err != nil {
		notify.Failure(ctx, c.notifier, "terminate selected sessions", err)
	} else if len(ids) > 0 {
		notify.Success(ctx, c.notifier, "terminate selected sessions", detail)
	}
	return res
}
