// Package events fans job and webcam lifecycle events out to websocket
// subscribers on /api/events.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/detect-gateway/internal/logger"
	"github.com/dj-oyu/detect-gateway/pkg/types"
)

const (
	broadcastBuffer = 64
	writeWait       = 5 * time.Second
)

// Upgrader upgrades /api/events requests; any origin may subscribe.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks websocket subscribers and broadcasts events to all of them.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	closeOnce  sync.Once
	mutex      sync.RWMutex
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run serves register, unregister and broadcast requests until Close.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mutex.Unlock()
			logger.Info("Events", "Subscriber connected. Total: %d", n)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mutex.Unlock()
			logger.Info("Events", "Subscriber disconnected. Total: %d", n)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					logger.Warn("Events", "Dropping subscriber: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()

		case <-h.done:
			h.mutex.Lock()
			for client := range h.clients {
				_ = client.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return
		}
	}
}

// Close stops Run and disconnects every subscriber.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

// Register adds a subscriber.
func (h *Hub) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes a subscriber.
func (h *Hub) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Publish queues ev for every subscriber. It never blocks: when the queue
// is full the event is dropped.
func (h *Hub) Publish(ev types.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Events", "Failed to encode %s event: %v", ev.Type, err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		logger.Warn("Events", "Broadcast queue full, dropping %s event", ev.Type)
	}
}

// JobStarted implements detector.JobHook.
func (h *Hub) JobStarted(rec types.JobRecord) {
	ev := types.NewEvent(types.EventJobStarted)
	ev.JobID = rec.ID
	ev.Status = rec.Status
	h.Publish(ev)
}

// JobFinished implements detector.JobHook.
func (h *Hub) JobFinished(rec types.JobRecord) {
	ev := types.NewEvent(types.EventJobCompleted)
	if rec.Status == types.JobFailed {
		ev.Type = types.EventJobFailed
		ev.Error = rec.Error
	}
	ev.JobID = rec.ID
	ev.Status = rec.Status
	for _, img := range rec.Images {
		ev.Images = append(ev.Images, img.URL)
	}
	h.Publish(ev)
}

// ServeWS upgrades the request and keeps the subscriber registered until it
// disconnects. Incoming messages are ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Events", "WebSocket upgrade error: %v", err)
		return
	}

	h.Register(conn)
	defer h.Unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Events", "Subscriber closed normally")
			} else {
				logger.Debug("Events", "Subscriber read error: %v", err)
			}
			return
		}
	}
}
