package coordinator

import (
	"context"
	"reflect"
	"testing"

	"sessionguard/agent/internal/api"
	"sessionguard/agent/internal/session/domain"
)

func TestSelection_ToggleRoundTrip(t *testing.T) {
	store := newFakeStore(activeSession("a", true), activeSession("b", false), activeSession("c", false))
	coord, _ := newTestCoordinator(t, store)

	coord.ToggleSelection("b")
	coord.ToggleSelection("c")
	if got := coord.SelectedSessions(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("selected = %v, want [b c]", got)
	}

	coord.ToggleSelection("b")
	if got := coord.SelectedSessions(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("selected = %v, want [c]", got)
	}

	coord.ToggleSelection("")
	if got := coord.SelectedSessions(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("selected = %v, want [c]: empty id is ignored", got)
	}
}

func TestSelection_SelectAllFromLastList(t *testing.T) {
	store := newFakeStore(activeSession("a", true), activeSession("b", false))
	coord, _ := newTestCoordinator(t, store)

	coord.SelectAll()
	if got := coord.SelectedSessions(); len(got) != 0 {
		t.Errorf("selected = %v, want none before any listing", got)
	}

	if _, err := coord.ListSessions(context.Background(), domain.Filters{}, 1, 20); err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	coord.SelectAll()
	if got := coord.SelectedSessions(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("selected = %v, want [a b]", got)
	}

	coord.ClearSelection()
	if got := coord.SelectedSessions(); len(got) != 0 {
		t.Errorf("selected = %v, want none after clear", got)
	}
}

func TestTerminateSelected_AllSucceed(t *testing.T) {
	store := newFakeStore(activeSession("a", true), activeSession("b", false), activeSession("c", false))
	coord, _ := newTestCoordinator(t, store)

	coord.ToggleSelection("b")
	coord.ToggleSelection("c")
	res := coord.TerminateSelected(context.Background(), "cleanup")
	if err := res.Err(); err != nil {
		t.Fatalf("TerminateSelected: %v", err)
	}
	if !reflect.DeepEqual(res.Terminated, []string{"b", "c"}) {
		t.Errorf("terminated = %v, want [b c]", res.Terminated)
	}
	if store.sessions["b"].Status != domain.StatusTerminated {
		t.Error("b should be terminated on the backend")
	}
	if got := coord.SelectedSessions(); len(got) != 0 {
		t.Errorf("selected = %v, want none after bulk terminate", got)
	}
}

func TestTerminateSelected_PartialFailureNoRollback(t *testing.T) {
	store := newFakeStore(activeSession("a", true), activeSession("b", false))
	store.terminateErr["ghost"] = &api.NotFoundError{Resource: "session", ID: "ghost"}
	coord, c := newTestCoordinator(t, store)

	if _, err := coord.ListSessions(context.Background(), domain.Filters{}, 1, 20); err != nil {
		t.Fatalf("ListSessions: %v", err)
	}

	coord.ToggleSelection("b")
	coord.ToggleSelection("ghost")
	res := coord.TerminateSelected(context.Background(), "")

	if err := res.Err(); err == nil {
		t.Fatal("TerminateSelected should report the failed id")
	}
	if !reflect.DeepEqual(res.Terminated, []string{"b"}) {
		t.Errorf("terminated = %v, want [b]: one failure must not stop the rest", res.Terminated)
	}
	if !api.IsNotFound(res.Failed["ghost"]) {
		t.Errorf("failed[ghost] = %v, want NotFoundError", res.Failed["ghost"])
	}
	if store.sessions["b"].Status != domain.StatusTerminated {
		t.Error("b must stay terminated: failures roll nothing back")
	}
	// The successful terminations still invalidate the list.
	if _, err := c.Get(context.Background(), listKey(domain.Filters{}, 1, 20)); err == nil {
		t.Error("list entry should not read fresh after a bulk terminate")
	}
	// The failed id stays selected for a retry; the succeeded one does not.
	if got := coord.SelectedSessions(); !reflect.DeepEqual(got, []string{"ghost"}) {
		t.Errorf("selected = %v, want [ghost]", got)
	}
}
