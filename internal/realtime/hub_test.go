package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// pushServer is a websocket endpoint tests push events through.
type pushServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	dials    int
	lastAuth string
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{}
	upgrader := websocket.Upgrader{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conns = append(ps.conns, conn)
		ps.dials++
		ps.lastAuth = r.Header.Get("Authorization")
		ps.mu.Unlock()
		// Keep the connection open; the hub is the reader.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) dialCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.dials
}

func (ps *pushServer) waitForConn(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for ps.dialCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("dials = %d, want %d", ps.dialCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (ps *pushServer) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	ps.mu.Lock()
	conn := ps.conns[len(ps.conns)-1]
	ps.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("push event: %v", err)
	}
}

type pushedEvent struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

func TestHub_SubscribeDialsOnce(t *testing.T) {
	ps := newPushServer(t)
	hub := NewHub(ps.url(), "push-token")
	defer hub.Close()

	sub1, err := hub.Subscribe(func(Event) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub1.Close()
	ps.waitForConn(t, 1)

	sub2, err := hub.Subscribe(func(Event) {})
	if err != nil {
		t.Fatalf("second Subscribe: %v", err)
	}
	defer sub2.Close()

	time.Sleep(50 * time.Millisecond)
	if ps.dialCount() != 1 {
		t.Errorf("dials = %d, want 1: subscribers share one connection", ps.dialCount())
	}
	ps.mu.Lock()
	auth := ps.lastAuth
	ps.mu.Unlock()
	if auth != "Bearer push-token" {
		t.Errorf("auth = %q, want bearer token", auth)
	}
}

func TestHub_NilHandlerRejected(t *testing.T) {
	hub := NewHub("ws://unused.example", "")
	defer hub.Close()

	if _, err := hub.Subscribe(nil); err == nil {
		t.Fatal("Subscribe(nil) should fail")
	}
}

func TestHub_DeliversToAllSubscribers(t *testing.T) {
	ps := newPushServer(t)
	hub := NewHub(ps.url(), "")
	defer hub.Close()

	type delivery struct {
		sub int
		ev  Event
	}
	got := make(chan delivery, 4)
	sub1, err := hub.Subscribe(func(ev Event) { got <- delivery{1, ev} })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub1.Close()
	sub2, err := hub.Subscribe(func(ev Event) { got <- delivery{2, ev} })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub2.Close()
	ps.waitForConn(t, 1)

	ps.push(t, pushedEvent{Event: KindAlert, Payload: map[string]string{"id": "a-1"}})

	seen := map[int]bool{}
	for len(seen) < 2 {
		select {
		case d := <-got:
			if d.ev.Kind != KindAlert {
				t.Errorf("kind = %q, want %q", d.ev.Kind, KindAlert)
			}
			var payload struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(d.ev.Payload, &payload); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if payload.ID != "a-1" {
				t.Errorf("payload id = %q, want a-1", payload.ID)
			}
			seen[d.sub] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 2 subscribers saw the event", len(seen))
		}
	}
}

func TestHub_ClosedSubscriptionGetsNothing(t *testing.T) {
	ps := newPushServer(t)
	hub := NewHub(ps.url(), "")
	defer hub.Close()

	var mu sync.Mutex
	delivered := 0
	keep := make(chan Event, 1)
	sub1, err := hub.Subscribe(func(Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub2, err := hub.Subscribe(func(ev Event) { keep <- ev })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub2.Close()
	ps.waitForConn(t, 1)

	sub1.Close()
	sub1.Close() // safe to close twice
	ps.push(t, pushedEvent{Event: KindSession, Payload: map[string]string{"id": "sess-1"}})

	select {
	case <-keep:
	case <-time.After(2 * time.Second):
		t.Fatal("remaining subscriber never saw the event")
	}
	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Errorf("closed subscription got %d events, want 0", delivered)
	}
}

func TestHub_LastUnsubscribeDisconnects(t *testing.T) {
	ps := newPushServer(t)
	hub := NewHub(ps.url(), "")
	defer hub.Close()

	sub, err := hub.Subscribe(func(Event) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	ps.waitForConn(t, 1)
	sub.Close()

	// A new subscriber dials a fresh connection.
	sub2, err := hub.Subscribe(func(Event) {})
	if err != nil {
		t.Fatalf("Subscribe after teardown: %v", err)
	}
	defer sub2.Close()
	ps.waitForConn(t, 2)
}

func TestHub_IgnoresMalformedMessages(t *testing.T) {
	ps := newPushServer(t)
	hub := NewHub(ps.url(), "")
	defer hub.Close()

	got := make(chan Event, 1)
	sub, err := hub.Subscribe(func(ev Event) { got <- ev })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	ps.waitForConn(t, 1)

	ps.mu.Lock()
	conn := ps.conns[len(ps.conns)-1]
	ps.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ps.push(t, pushedEvent{Event: KindAlert, Payload: map[string]string{"id": "a-2"}})

	select {
	case ev := <-got:
		if ev.Kind != KindAlert {
			t.Errorf("kind = %q, want %q", ev.Kind, KindAlert)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid event after a malformed one was never delivered")
	}
}
