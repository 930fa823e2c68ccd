package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// EventError is the outbound event sent when an inbound frame cannot be handled
const EventError = "error"

// ErrUnknownEvent is reported to the sender for events with no registered handler
var ErrUnknownEvent = errors.New("unknown event")

// HandlerFunc handles one inbound event from p
type HandlerFunc func(ctx context.Context, p *Participant, data json.RawMessage) error

// ErrorPayload is the body of an error event
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// Router maps inbound event names to handlers
type Router struct {
	hub *Hub

	mu           sync.RWMutex
	handlers     map[string]HandlerFunc
	onDisconnect []func(p *Participant)
}

// NewRouter creates a Router that reports failures through hub
func NewRouter(hub *Hub) *Router {
	return &Router{hub: hub, handlers: make(map[string]HandlerFunc)}
}

// On registers fn for event, replacing any earlier registration
func (r *Router) On(event string, fn HandlerFunc) {
	r.mu.Lock()
	r.handlers[event] = fn
	r.mu.Unlock()
}

// OnDisconnect registers a hook that runs after a participant's socket closes
// and before it is removed from its rooms.
func (r *Router) OnDisconnect(fn func(p *Participant)) {
	r.mu.Lock()
	r.onDisconnect = append(r.onDisconnect, fn)
	r.mu.Unlock()
}

// Dispatch runs the handler for env. Failures are sent back to p as an error
// event and never close the connection.
func (r *Router) Dispatch(ctx context.Context, p *Participant, env Envelope) {
	r.mu.RLock()
	fn, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		r.reply(p, env.Event, ErrUnknownEvent)
		return
	}
	if err := fn(ctx, p, env.Data); err != nil {
		zap.S().Debugw("relay handler failed", "event", env.Event, "participantId", p.ID, "error", err)
		r.reply(p, env.Event, err)
	}
}

func (r *Router) disconnected(p *Participant) {
	r.mu.RLock()
	hooks := append([]func(*Participant){}, r.onDisconnect...)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(p)
	}
}

func (r *Router) reply(p *Participant, event string, err error) {
	if ferr := r.hub.ForwardToParticipant(p.ID, EventError, ErrorPayload{Event: event, Message: err.Error()}); ferr != nil {
		zap.S().Debugw("could not report relay error", "participantId", p.ID, "error", ferr)
	}
}

var errMalformed = errors.New("malformed frame")
