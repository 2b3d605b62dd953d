// Package hub fans view updates out to browsers over server-sent events.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"monview/internal/logger"
)

// Message is one update pushed to clients. An empty Machine reaches every client.
type Message struct {
	Type    string `json:"type"`
	Machine string `json:"machine,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Client represents a connected SSE client
type Client struct {
	id      string
	machine string
	events  chan []byte
}

// ID returns the client's identifier
func (c *Client) ID() string {
	return c.id
}

func (c *Client) wants(m Message) bool {
	return m.Machine == "" || c.machine == "" || c.machine == m.Machine
}

// Hub manages SSE client connections
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}
	log        logger.Logger
	keepAlive  time.Duration
}

// New creates a new Hub
func New(log logger.Logger) *Hub {
	if log == nil {
		log = logger.Noop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
		log:        log,
		keepAlive:  30 * time.Second,
	}
}

// Run starts the hub's event loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("SSE client connected: %s (total: %d)", client.id, n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.events)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("SSE client disconnected: %s (total: %d)", client.id, n)

		case msg := <-h.broadcast:
			frame, err := encode(msg)
			if err != nil {
				h.log.Error("marshal event %s: %v", msg.Type, err)
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(msg) {
					continue
				}
				select {
				case client.events <- frame:
				default:
					// Client is slow, skip this message
					h.log.Warn("SSE client %s is slow, skipping message", client.id)
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.events)
			}
			h.mu.Unlock()
			return
		}
	}
}

func encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", msg.Type, data)), nil
}

// Publish sends a message to the clients watching machine, or to all when
// machine is empty
func (h *Hub) Publish(machine, typ string, data any) {
	h.Broadcast(Message{Type: typ, Machine: machine, Data: data})
}

// Broadcast queues a message for delivery
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast channel full, dropping %s event", msg.Type)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles SSE connections. ?machine=<id> narrows the stream to one machine.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &Client{
		id:      uuid.NewString(),
		machine: r.URL.Query().Get("machine"),
		events:  make(chan []byte, 64),
	}

	select {
	case h.register <- client:
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	hello, _ := encode(Message{Type: "connected", Machine: client.machine, Data: map[string]string{"client": client.id}})
	w.Write(hello)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.events:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
