// Package realtime maintains the push channel from the backend: one
// shared websocket connection fanned out to any number of subscribers.
// The connection is dialed when the first subscriber arrives and closed
// when the last one leaves.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event kinds pushed by the backend.
const (
	KindAlert   = "alert"
	KindSession = "session"
)

// Event is one pushed message: {"event": "...", "payload": {...}}.
type Event struct {
	Kind    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Handler receives pushed events. Handlers run on the hub's reader
// goroutine and must return quickly.
type Handler func(Event)

// Subscription is a disposable handle for one registration. Close
// unregisters it; no new deliveries start after Close returns.
type Subscription struct {
	hub  *Hub
	id   uint64
	once sync.Once
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s.id) })
}

const (
	dialTimeout   = 10 * time.Second
	redialBackoff = 5 * time.Second
)

// Hub owns the shared connection. Safe for concurrent use.
type Hub struct {
	url   string
	token string

	mu     sync.Mutex
	subs   map[uint64]Handler
	nextID uint64
	cancel context.CancelFunc // stops the reader; nil when disconnected
	gen    int                // connection generation, guards late readers
	wg     sync.WaitGroup
}

// NewHub returns a Hub for the given websocket URL (ws:// or wss://)
// authenticated with the bearer token.
func NewHub(url, token string) *Hub {
	return &Hub{url: url, token: token, subs: make(map[uint64]Handler)}
}

// Subscribe registers handler and dials the shared connection if this
// is the first subscriber.
func (h *Hub) Subscribe(handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errNilHandler
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.subs[id] = handler
	if h.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		h.gen++
		gen := h.gen
		h.wg.Add(1)
		go h.run(ctx, gen)
	}
	return &Subscription{hub: h, id: id}, nil
}

var errNilHandler = errors.New("realtime: nil handler")

// unsubscribe removes the registration and tears the connection down
// when no subscribers remain.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	var cancel context.CancelFunc
	if len(h.subs) == 0 && h.cancel != nil {
		cancel = h.cancel
		h.cancel = nil
	}
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close tears down the connection regardless of remaining subscribers
// and waits for the reader to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.subs = make(map[uint64]Handler)
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// run dials and reads until ctx is canceled, redialing with a fixed
// backoff while subscribers remain.
func (h *Hub) run(ctx context.Context, gen int) {
	defer h.wg.Done()
	for {
		conn, err := h.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("realtime: dial %s: %v", h.url, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialBackoff):
				continue
			}
		}
		h.read(ctx, conn, gen)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(redialBackoff):
		}
	}
}

func (h *Hub) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	if h.token != "" {
		header.Set("Authorization", "Bearer "+h.token)
	}
	conn, _, err := dialer.DialContext(ctx, h.url, header)
	return conn, err
}

// read pumps messages until the connection breaks or ctx is canceled.
func (h *Hub) read(ctx context.Context, conn *websocket.Conn, gen int) {
	// Unblock ReadMessage when ctx is canceled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("realtime: read: %v", err)
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("realtime: bad event: %v", err)
			continue
		}
		h.dispatch(ev, gen)
	}
}

// dispatch delivers the event to current subscribers. Membership is
// re-checked under the lock so a closed subscription gets nothing, and
// a reader from a torn-down generation delivers nothing at all.
func (h *Hub) dispatch(ev Event, gen int) {
	h.mu.Lock()
	if gen != h.gen || h.cancel == nil {
		h.mu.Unlock()
		return
	}
	handlers := make([]Handler, 0, len(h.subs))
	for _, fn := range h.subs {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}
