package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ScripturePalpi/palpi/internal/service"
)

const (
	eventBuffer  = 16
	writeTimeout = 5 * time.Second
)

// Hub fans supervisor transitions out to websocket clients. Slow clients
// lose events rather than block the supervisor.
type Hub struct {
	upgrader websocket.Upgrader

	mx     sync.Mutex
	subs   map[chan service.Transition]struct{}
	done   chan struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// the control API is meant for the local network
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[chan service.Transition]struct{}),
		done: make(chan struct{}),
	}
}

// Publish is meant to be registered with Supervisor.OnTransition.
func (h *Hub) Publish(t service.Transition) {
	h.mx.Lock()
	defer h.mx.Unlock()
	for ch := range h.subs {
		select {
		case ch <- t:
		default:
			slog.Debug("dropping transition for slow client", "to", t.To)
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

func (h *Hub) subscribe() (chan service.Transition, bool) {
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan service.Transition, eventBuffer)
	h.subs[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unsubscribe(ch chan service.Transition) {
	h.mx.Lock()
	defer h.mx.Unlock()
	delete(h.subs, ch)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.DebugContext(ctx, "websocket upgrade failed", "error", err)
		return
	}

	ch, ok := h.subscribe()
	if !ok {
		_ = conn.Close()
		return
	}
	defer h.unsubscribe(ch)

	// clients never send anything; reading detects that they went away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = conn.Close()
		<-gone
	}()

	slog.DebugContext(ctx, "event stream client connected")
	for {
		select {
		case t := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(t); err != nil {
				slog.DebugContext(ctx, "writing event", "error", err)
				return
			}
		case <-gone:
			return
		case <-h.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
			return
		}
	}
}
