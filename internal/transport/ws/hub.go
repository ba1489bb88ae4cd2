package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Envelope is the wire frame for every outbound event.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub tracks room membership and fans events out to room members. It is the
// process-local half of the broadcast layer: services emit through the
// app.Broadcaster interface and the hub delivers to whichever clients this
// node holds.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	log   zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		log:   log.With().Str("component", "ws-hub").Logger(),
	}
}

// Broadcast delivers one event to every member of room. Slow clients get the
// oldest queued frame dropped rather than blocking the emitter.
func (h *Hub) Broadcast(room, event string, payload any) {
	frame, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("broadcast marshal failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[room] {
		client.enqueue(frame)
	}
}

// JoinRoom adds a client to a room.
func (h *Hub) JoinRoom(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.trackRoom(room)
}

// LeaveRoom removes a client from a room, dropping the room when empty.
func (h *Hub) LeaveRoom(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, c)
}

func (h *Hub) leaveLocked(room string, c *Client) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Detach removes a client from every room it joined and closes its queue.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	for _, room := range c.joinedRooms() {
		h.leaveLocked(room, c)
	}
	h.mu.Unlock()
	c.closeQueue()
}

// RoomSize reports current membership, for tests and diagnostics.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Client is one websocket connection. All writes go through the send queue
// and a single writer goroutine, so no two goroutines ever write the
// connection concurrently.
type Client struct {
	UserID string

	conn *websocket.Conn
	log  zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	rooms  map[string]struct{}
}

func NewClient(conn *websocket.Conn, userID string, log zerolog.Logger) *Client {
	return &Client{
		UserID: userID,
		conn:   conn,
		log:    log,
		send:   make(chan []byte, 32),
		rooms:  make(map[string]struct{}),
	}
}

// WritePump drains the send queue onto the connection. Run it on its own
// goroutine; it returns when the queue closes or a write fails.
func (c *Client) WritePump() {
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.log.Debug().Err(err).Str("userId", c.UserID).Msg("ws write failed")
			return
		}
	}
}

// Send marshals and queues one envelope for this client only.
func (c *Client) Send(event string, payload any) {
	frame, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("send marshal failed")
		return
	}
	c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		// Queue full: drop the oldest frame so the emitter never blocks.
		select {
		case <-c.send:
		default:
		}
		c.send <- frame
	}
}

func (c *Client) closeQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) trackRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

func (c *Client) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}
