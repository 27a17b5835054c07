package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/candy-cartel/internal/engine"
)

const (
	maxStreamConns = 8
	clientBuffer   = 256
	writeWait      = 5 * time.Second
	pingEvery      = 30 * time.Second
)

// Hub fans simulation events out to websocket clients. It is registered as
// a World subscriber; a slow client loses events rather than stalling the
// tick loop.
type Hub struct {
	mu      sync.Mutex
	clients map[uint64]chan []byte
	nextID  uint64
	dropped uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[uint64]chan []byte)}
}

// Sink returns the subscriber to register with the World.
func (h *Hub) Sink() engine.Subscriber {
	return func(e engine.Event) {
		data, err := json.Marshal(e)
		if err != nil {
			slog.Warn("stream encode failed", "seq", e.Seq, "error", err)
			return
		}
		h.broadcast(data)
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- data:
		default:
			h.dropped++
		}
	}
}

// join registers a client. ok is false when the hub is full.
func (h *Hub) join() (id uint64, ch chan []byte, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= maxStreamConns {
		return 0, nil, false
	}
	h.nextID++
	ch = make(chan []byte, clientBuffer)
	h.clients[h.nextID] = ch
	return h.nextID, ch, true
}

func (h *Hub) leave(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many client deliveries were skipped on full buffers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// serve pumps events to conn until the client goes away. Catch-up events
// are written before live ones.
func (h *Hub) serve(conn *websocket.Conn, catchUp []engine.Event, id uint64, ch chan []byte) {
	defer conn.Close()
	defer h.leave(id)

	// Reader: only control frames are expected; a read error means the
	// client closed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	var last uint64
	for _, e := range catchUp {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := write(data); err != nil {
			return
		}
		last = e.Seq
	}

	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			// Skip live events already sent as catch-up.
			if last > 0 {
				var head struct {
					Seq uint64 `json:"seq"`
				}
				if json.Unmarshal(data, &head) == nil && head.Seq <= last {
					continue
				}
				last = 0
			}
			if err := write(data); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			slog.Info("stream client disconnected", "client", id)
			return
		}
	}
}
