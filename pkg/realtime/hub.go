// Package realtime carries the websocket surface: connections, rooms and the
// request/reply frame protocol.
package realtime

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/metrics"
)

// GlobalRoom is joined automatically by every connection and cannot be left.
const GlobalRoom = "global"

// Hub is the room membership table. All mutations happen under one lock, so
// join, leave and remove are atomic with respect to broadcasts.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{} // room -> members
	conns map[*Conn]map[string]struct{} // conn -> rooms

	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewHub(log zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Conn]struct{}),
		conns:   make(map[*Conn]map[string]struct{}),
		log:     log.With().Str("component", "hub").Logger(),
		metrics: m,
	}
}

// Register adds c to the hub and to the global room.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.conns[c] = make(map[string]struct{})
		h.metrics.ConnOpened()
	}
	h.join(c, GlobalRoom)
	h.mu.Unlock()
	h.log.Debug().Str("conn", c.ID).Msg("connection registered")
}

func (h *Hub) Join(c *Conn, room string) error {
	if room == "" {
		return apperr.BadRequest("room is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return apperr.BadRequest("connection is closed")
	}
	h.join(c, room)
	return nil
}

func (h *Hub) join(c *Conn, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Conn]struct{})
	}
	h.rooms[room][c] = struct{}{}
	h.conns[c][room] = struct{}{}
}

// Leave drops c from room. Leaving a room it never joined is a no-op.
func (h *Hub) Leave(c *Conn, room string) error {
	if room == "" {
		return apperr.BadRequest("room is required")
	}
	if room == GlobalRoom {
		return apperr.BadRequest("the global room cannot be left")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c, room)
	return nil
}

func (h *Hub) leave(c *Conn, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.conns[c]; ok {
		delete(rooms, room)
	}
}

// Remove forgets every membership of c. Safe to call more than once.
func (h *Hub) Remove(c *Conn) {
	h.mu.Lock()
	rooms, ok := h.conns[c]
	if ok {
		for room := range rooms {
			h.leave(c, room)
		}
		delete(h.conns, c)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.ConnClosed()
		h.log.Debug().Str("conn", c.ID).Msg("connection removed")
	}
}

// CloseAll removes and closes every registered connection. It returns how
// many were closed.
func (h *Hub) CloseAll() int {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.Remove(c)
		c.Close()
	}
	return len(conns)
}

// Rooms lists the rooms c belongs to in sorted order.
func (h *Hub) Rooms(c *Conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.conns[c]))
	for room := range h.conns[c] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Connections reports the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast pushes event to every member of room and returns how many
// connections accepted it. Members whose send buffer is full are dropped.
func (h *Hub) Broadcast(room, event string, data any) int {
	payload, err := json.Marshal(Push{Event: event, Data: data})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode push")
		return 0
	}

	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if c.enqueue(payload) {
			delivered++
			continue
		}
		h.log.Warn().Str("conn", c.ID).Str("room", room).Msg("dropping slow connection")
		h.Remove(c)
		c.Close()
	}
	return delivered
}
