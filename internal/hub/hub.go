// Package hub fans moderation events out to connected admin sockets.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	Address string
	Writer  Writer
}

// Event is one queue or decision notification pushed to subscribers.
type Event struct {
	Type    string         `json:"type"`
	At      int64          `json:"at"`
	QueueID int64          `json:"queue_id,omitempty"`
	Actor   string         `json:"actor,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.Address] == nil {
		h.connections[conn.Address] = make(map[*Connection]struct{})
	}
	h.connections[conn.Address][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.Address]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.Address)
	}
}

// Publish serializes the event and delivers it to every subscriber.
// Connections that fail to write are closed and dropped.
func (h *Hub) Publish(event Event) {
	if event.At == 0 {
		event.At = time.Now().UnixMilli()
	}
	message, err := json.Marshal(event)
	if err != nil {
		log.Printf("hub: marshal event %q failed: %v", event.Type, err)
		return
	}
	h.broadcast(message)
}

func (h *Hub) broadcast(message []byte) {
	h.mu.RLock()
	conns := make([]*Connection, 0)
	for _, set := range h.connections {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}
