// Package realtime pushes asynchronous pipeline events to connected UI
// clients over websockets. Completions arrive in no particular order
// relative to request responses; listeners apply them by photo id.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"photo-rater/internal/logging"
	"photo-rater/internal/metrics"
)

// Event types pushed to clients.
const (
	EventThumbnailsReady  = "thumbnailsReady"
	EventRatingsRefreshed = "ratingsRefreshed"
)

// Event is one message sent to websocket clients.
type Event struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	BaseURL   string         `json:"baseUrl,omitempty"`
	RetinaURL string         `json:"retinaUrl,omitempty"`
	Ratings   map[string]int `json:"ratings,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to all connected clients.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	mu         sync.RWMutex
}

// NewHub creates an idle hub; call Run on its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run services registrations and broadcasts until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			metrics.EventClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			metrics.EventClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow clients get dropped rather than blocking the
					// pipeline.
					close(c.send)
					delete(h.clients, c)
				}
			}
			metrics.EventClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

// Broadcast pushes an event to every connected client. Never blocks: if
// the hub's buffer is full the event is dropped with a log line.
func (h *Hub) Broadcast(event Event) {
	event.Timestamp = time.Now().UnixMilli()

	encoded, err := json.Marshal(event)
	if err != nil {
		logging.Error("realtime: failed to marshal event: %v", err)
		return
	}

	metrics.EventsPublished.WithLabelValues(event.Type).Inc()

	select {
	case h.broadcast <- encoded:
	default:
		logging.Warn("realtime: dropping %s event, broadcast channel full", event.Type)
	}
}

// ThumbnailsReady notifies listeners that renditions for a photo are in
// the cache. Implements the pipeline's Notifier.
func (h *Hub) ThumbnailsReady(id, baseURL, retinaURL string) {
	h.Broadcast(Event{
		Type:      EventThumbnailsReady,
		ID:        id,
		BaseURL:   baseURL,
		RetinaURL: retinaURL,
	})
}

// RatingsRefreshed notifies listeners that metadata reconciliation changed
// one or more cached ratings.
func (h *Hub) RatingsRefreshed(ratings map[string]int) {
	if len(ratings) == 0 {
		return
	}
	h.Broadcast(Event{
		Type:    EventRatingsRefreshed,
		Ratings: ratings,
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection and registers a client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("realtime: websocket upgrade error: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 256)}
	h.register <- c

	// writer
	go func() {
		for msg := range c.send {
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
		if err := c.conn.Close(); err != nil {
			logging.Debug("realtime: close error: %v", err)
		}
	}()

	// reader: just consume pings and detect close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister <- c
}
