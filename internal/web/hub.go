package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/valve-panel/internal/logger"
	"github.com/sweeney/valve-panel/internal/valve"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans the status payload out to websocket clients after every valve
// event. It implements valve.Notifier.
type Hub struct {
	snapshot func(context.Context) any

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	closed  bool
}

// NewHub creates a hub that renders payloads with snapshot.
func NewHub(snapshot func(context.Context) any) *Hub {
	return &Hub{
		snapshot: snapshot,
		clients:  make(map[chan []byte]struct{}),
	}
}

// Notify broadcasts the current status. Clients that are too slow to keep up
// miss the update and catch up on the next one.
func (h *Hub) Notify(ctx context.Context, _ valve.Event) {
	data, err := json.Marshal(h.snapshot(ctx))
	if err != nil {
		logger.ErrorKV(ctx, "Marshal status failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for send := range h.clients {
		select {
		case send <- data:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for send := range h.clients {
		close(send)
		delete(h.clients, send)
	}
}

func (h *Hub) register() (chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	send := make(chan []byte, sendBuffer)
	h.clients[send] = struct{}{}
	return send, true
}

func (h *Hub) unregister(send chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[send]; ok {
		close(send)
		delete(h.clients, send)
	}
}

// ServeHTTP upgrades the connection, sends the current status and then one
// status per event until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnKV(ctx, "Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send, ok := h.register()
	if !ok {
		return
	}
	defer h.unregister(send)

	// Incoming messages are ignored; reading detects the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeJSONMessage(conn, h.snapshot(ctx)); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case data, ok := <-send:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func writeJSONMessage(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
