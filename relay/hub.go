// Package relay groups websocket participants into rooms and forwards named
// events between them. Payloads are never inspected.
package relay

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminRoom is the single room every connected counselor joins
const AdminRoom = "admin"

// ErrUnknownParticipant is returned when forwarding to a handle that is not connected
var ErrUnknownParticipant = errors.New("relay: unknown participant")

// SessionRoom returns the room name for a session id
func SessionRoom(sessionID string) string {
	return "session:" + sessionID
}

// Envelope is the frame format in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub owns the connection registry: room name -> set of participants.
// Membership changes only through Join, Leave and Unregister.
type Hub struct {
	mu           sync.RWMutex
	participants map[string]*Participant
	rooms        map[string]map[string]*Participant
	bufferSize   int
}

// NewHub creates a Hub whose participants buffer up to bufferSize outbound frames
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		participants: make(map[string]*Participant),
		rooms:        make(map[string]map[string]*Participant),
		bufferSize:   bufferSize,
	}
}

// Register creates and tracks a new participant handle
func (h *Hub) Register() *Participant {
	p := &Participant{
		ID:    uuid.New().String(),
		send:  make(chan []byte, h.bufferSize),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.participants[p.ID] = p
	h.mu.Unlock()
	return p
}

// Unregister removes the participant from every room and closes its send
// channel. Frames still queued are dropped.
func (h *Hub) Unregister(p *Participant) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.participants[p.ID]; !ok {
		return
	}
	for room := range p.rooms {
		h.removeLocked(p, room)
	}
	delete(h.participants, p.ID)
	close(p.send)
}

// Join adds p to room. Joining a room twice is a no-op.
func (h *Hub) Join(p *Participant, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.participants[p.ID]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Participant)
		h.rooms[room] = members
	}
	members[p.ID] = p
	p.rooms[room] = struct{}{}
}

// Leave removes p from room; an emptied room ceases to exist
func (h *Hub) Leave(p *Participant, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(p, room)
}

func (h *Hub) removeLocked(p *Participant, room string) {
	delete(p.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, p.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// ForwardToRoom delivers the event to every member of room except exclude
// (which may be nil). It returns how many members were handed the frame.
func (h *Hub) ForwardToRoom(room, event string, payload interface{}, exclude *Participant) (int, error) {
	frame, err := encode(event, payload)
	if err != nil {
		return 0, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for id, p := range h.rooms[room] {
		if exclude != nil && id == exclude.ID {
			continue
		}
		if p.enqueue(frame) {
			delivered++
		}
	}
	return delivered, nil
}

// ForwardToParticipant delivers the event to a single connection
func (h *Hub) ForwardToParticipant(id, event string, payload interface{}) error {
	frame, err := encode(event, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.participants[id]
	if !ok {
		return ErrUnknownParticipant
	}
	p.enqueue(frame)
	return nil
}

// Members returns the participant ids currently in room
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

// InRoom reports whether participant id is a member of room
func (h *Hub) InRoom(id, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][id]
	return ok
}

// Stats returns the number of connected participants and live rooms
func (h *Hub) Stats() (participants, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.participants), len(h.rooms)
}

func encode(event string, payload interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			b, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			raw = b
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Participant is one connected websocket
type Participant struct {
	ID string

	send  chan []byte
	rooms map[string]struct{} // guarded by Hub.mu

	mu      sync.Mutex
	adminID string
}

// MarkAdmin records that this connection authenticated as a counselor
func (p *Participant) MarkAdmin(adminID string) {
	p.mu.Lock()
	p.adminID = adminID
	p.mu.Unlock()
}

// AdminID returns the counselor id, empty for end users
func (p *Participant) AdminID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adminID
}

// IsAdmin reports whether the participant authenticated as a counselor
func (p *Participant) IsAdmin() bool {
	return p.AdminID() != ""
}

// enqueue must be called with Hub.mu held (read or write) so the channel is
// not closed underneath it. A full buffer drops the frame.
func (p *Participant) enqueue(frame []byte) bool {
	select {
	case p.send <- frame:
		return true
	default:
		zap.S().Warnw("relay buffer full, dropping frame", "participantId", p.ID)
		return false
	}
}
