// Package signaling runs the two-party call handshake and the session room
// events on top of the relay, driving lifecycle transitions as side effects.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/linesmerrill/haven-api/lifecycle"
	"github.com/linesmerrill/haven-api/models"
	"github.com/linesmerrill/haven-api/relay"
)

// Inbound events
const (
	EventJoinAdmin          = "join-admin"
	EventJoinMessageRoom    = "join-message-room"
	EventLeaveMessageRoom   = "leave-message-room"
	EventSendChatMessage    = "send-chat-message"
	EventInitiateCall       = "initiate-call"
	EventAcceptCall         = "accept-call"
	EventRejectCall         = "reject-call"
	EventEndCall            = "end-call"
	EventUpdateMeetingLinks = "update-meeting-links"
)

// Outbound events
const (
	EventJoined              = "joined"
	EventNewMessage          = "newMessage"
	EventMessageStatusUpdate = "messageStatusUpdate"
	EventNewChatMessage      = "newChatMessage"
	EventIncomingCall        = "incoming-call"
	EventCallAccepted        = "call-accepted"
	EventCallRejected        = "call-rejected"
	EventCallEnded           = "call-ended"
	EventMeetingLinksUpdate  = "meetingLinksUpdate"
)

// Reasons carried by call-rejected and call-ended
const (
	ReasonRejected     = "rejected"
	ReasonBusy         = "busy"
	ReasonTimeout      = "timeout"
	ReasonDisconnected = "disconnected"
)

var (
	errUnauthorized  = errors.New("unauthorized")
	errBadSessionID  = errors.New("invalid sessionId")
	errNoRingingCall = errors.New("no ringing call for this session")
	errWrongCaller   = errors.New("accept must be addressed to the caller")
	errAdminSender   = errors.New("only counselors may send as admin")
	errNotInRoom     = errors.New("join the session room first")
)

// Lifecycle is the part of the lifecycle manager the coordinator drives
type Lifecycle interface {
	Transition(ctx context.Context, id primitive.ObjectID, to models.SessionStatus, trigger lifecycle.Trigger) (*models.Session, error)
	Advance(ctx context.Context, id primitive.ObjectID, to models.SessionStatus, trigger lifecycle.Trigger) (*models.Session, bool, error)
}

// Chat is the transcript and meeting link writer
type Chat interface {
	Send(ctx context.Context, id primitive.ObjectID, req models.ChatMessageRequest) (*models.ChatMessage, error)
	UpdateMeetingLinks(ctx context.Context, id primitive.ObjectID, req models.MeetingLinksRequest) (*models.Session, error)
}

type callState int

const (
	idle callState = iota
	ringing
	connected
)

func (c callState) String() string {
	switch c {
	case ringing:
		return "ringing"
	case connected:
		return "connected"
	}
	return "idle"
}

// call is the ephemeral per-session handshake state. Absent means idle.
type call struct {
	state  callState
	caller string
	callee string
	timer  *time.Timer
}

// Coordinator owns call state for every session with a live handshake
type Coordinator struct {
	hub         *relay.Hub
	lifecycle   Lifecycle
	chat        Chat
	verifier    relay.TokenVerifier
	ringTimeout time.Duration

	mu    sync.Mutex
	calls map[string]*call
}

// NewCoordinator creates a Coordinator. A zero ringTimeout leaves ringing
// calls open until a party answers, rejects or ends them.
func NewCoordinator(hub *relay.Hub, lc Lifecycle, chat Chat, verifier relay.TokenVerifier, ringTimeout time.Duration) *Coordinator {
	return &Coordinator{
		hub:         hub,
		lifecycle:   lc,
		chat:        chat,
		verifier:    verifier,
		ringTimeout: ringTimeout,
		calls:       make(map[string]*call),
	}
}

// SetLifecycle wires the lifecycle manager after construction, since the
// manager also notifies the coordinator.
func (c *Coordinator) SetLifecycle(lc Lifecycle) {
	c.lifecycle = lc
}

// SetChat wires the chat service after construction
func (c *Coordinator) SetChat(chat Chat) {
	c.chat = chat
}

// Register attaches every inbound event handler to router
func (c *Coordinator) Register(router *relay.Router) {
	router.On(EventJoinAdmin, c.joinAdmin)
	router.On(EventJoinMessageRoom, c.joinMessageRoom)
	router.On(EventLeaveMessageRoom, c.leaveMessageRoom)
	router.On(EventSendChatMessage, c.sendChatMessage)
	router.On(EventInitiateCall, c.initiateCall)
	router.On(EventAcceptCall, c.acceptCall)
	router.On(EventRejectCall, c.rejectCall)
	router.On(EventEndCall, c.endCall)
	router.On(EventUpdateMeetingLinks, c.updateMeetingLinks)
	router.OnDisconnect(c.disconnected)
}

type joinAdminRequest struct {
	Token string `json:"token"`
}

type joinRoomRequest struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
}

type joinedResponse struct {
	Room          string `json:"room"`
	ParticipantID string `json:"participantId"`
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Kind      string `json:"kind"`
}

type chatBroadcast struct {
	SessionID string `json:"sessionId"`
	models.ChatMessage
}

type initiateRequest struct {
	SessionID  string          `json:"sessionId"`
	Signal     json.RawMessage `json:"signal"`
	CallerRole string          `json:"callerRole"`
}

type incomingCall struct {
	SessionID  string          `json:"sessionId"`
	Signal     json.RawMessage `json:"signal"`
	CallerRole string          `json:"callerRole"`
	From       string          `json:"from"`
}

type acceptRequest struct {
	SessionID string          `json:"sessionId"`
	Signal    json.RawMessage `json:"signal"`
	To        string          `json:"to"`
}

type callAccepted struct {
	SessionID string          `json:"sessionId"`
	Signal    json.RawMessage `json:"signal"`
	From      string          `json:"from"`
}

type rejectRequest struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
}

type callRejected struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
	From      string `json:"from"`
}

type endRequest struct {
	SessionID string `json:"sessionId"`
}

type callEnded struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	Reason    string `json:"reason,omitempty"`
}

type meetingLinksRequest struct {
	SessionID  string  `json:"sessionId"`
	GoogleMeet *string `json:"googleMeet"`
	Zoom       *string `json:"zoom"`
}

type meetingLinksUpdate struct {
	ID         string `json:"id"`
	GoogleMeet string `json:"googleMeet"`
	Zoom       string `json:"zoom"`
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed data: %w", err)
	}
	return nil
}

func parseSessionID(raw string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, errBadSessionID
	}
	return id, nil
}

// memberSession parses the session id and checks that p has joined its room
func (c *Coordinator) memberSession(p *relay.Participant, raw string) (primitive.ObjectID, error) {
	id, err := parseSessionID(raw)
	if err != nil {
		return primitive.NilObjectID, err
	}
	if !c.hub.InRoom(p.ID, relay.SessionRoom(raw)) {
		return primitive.NilObjectID, errNotInRoom
	}
	return id, nil
}

func (c *Coordinator) joinAdmin(_ context.Context, p *relay.Participant, data json.RawMessage) error {
	if !p.IsAdmin() {
		var req joinAdminRequest
		if len(data) > 0 {
			if err := decode(data, &req); err != nil {
				return err
			}
		}
		if req.Token == "" || c.verifier == nil {
			return errUnauthorized
		}
		adminID, err := c.verifier.VerifyToken(req.Token)
		if err != nil {
			return errUnauthorized
		}
		p.MarkAdmin(adminID)
	}
	c.hub.Join(p, relay.AdminRoom)
	zap.S().Infow("counselor joined admin room", "participantId", p.ID, "adminId", p.AdminID())
	return c.hub.ForwardToParticipant(p.ID, EventJoined, joinedResponse{Room: relay.AdminRoom, ParticipantID: p.ID})
}

func (c *Coordinator) joinMessageRoom(_ context.Context, p *relay.Participant, data json.RawMessage) error {
	var req joinRoomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if _, err := parseSessionID(req.SessionID); err != nil {
		return err
	}
	room := relay.SessionRoom(req.SessionID)
	c.hub.Join(p, room)
	zap.S().Infow("participant joined session room", "participantId", p.ID, "sessionId", req.SessionID, "role", req.Role)
	return c.hub.ForwardToParticipant(p.ID, EventJoined, joinedResponse{Room: room, ParticipantID: p.ID})
}

func (c *Coordinator) leaveMessageRoom(_ context.Context, p *relay.Participant, data json.RawMessage) error {
	var req joinRoomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	c.hub.Leave(p, relay.SessionRoom(req.SessionID))
	zap.S().Infow("participant left session room", "participantId", p.ID, "sessionId", req.SessionID)
	return nil
}

func (c *Coordinator) sendChatMessage(ctx context.Context, p *relay.Participant, data json.RawMessage) error {
	var req chatRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	id, err := c.memberSession(p, req.SessionID)
	if err != nil {
		return err
	}
	if models.Sender(req.Sender) == models.SenderAdmin && !p.IsAdmin() {
		return errAdminSender
	}
	_, err = c.chat.Send(ctx, id, models.ChatMessageRequest{Body: req.Message, Kind: req.Kind, Sender: req.Sender})
	return err
}

func (c *Coordinator) initiateCall(_ context.Context, p *relay.Participant, data json.RawMessage) error {
	var req initiateRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if _, err := c.memberSession(p, req.SessionID); err != nil {
		return err
	}

	c.mu.Lock()
	cl, ok := c.calls[req.SessionID]
	switch {
	case !ok:
		cl = &call{state: ringing, caller: p.ID}
		c.calls[req.SessionID] = cl
		if c.ringTimeout > 0 {
			sessionID, caller := req.SessionID, p.ID
			cl.timer = time.AfterFunc(c.ringTimeout, func() { c.ringExpired(sessionID, caller) })
		}
		zap.S().Infow("call ringing", "sessionId", req.SessionID, "caller", p.ID, "callerRole", req.CallerRole)
	case cl.caller == p.ID || cl.callee == p.ID:
		// further signals from a party already on this call pass through
	default:
		c.mu.Unlock()
		return c.hub.ForwardToParticipant(p.ID, EventCallRejected, callRejected{SessionID: req.SessionID, Reason: ReasonBusy})
	}
	c.mu.Unlock()

	// with nobody else in the room this is silently dropped
	_, err := c.hub.ForwardToRoom(relay.SessionRoom(req.SessionID), EventIncomingCall, incomingCall{
		SessionID:  req.SessionID,
		Signal:     req.Signal,
		CallerRole: req.CallerRole,
		From:       p.ID,
	}, p)
	return err
}

func (c *Coordinator) ringExpired(sessionID, caller string) {
	c.mu.Lock()
	cl, ok := c.calls[sessionID]
	if !ok || cl.state != ringing || cl.caller != caller {
		c.mu.Unlock()
		return
	}
	delete(c.calls, sessionID)
	c.mu.Unlock()

	zap.S().Infow("call unanswered, releasing", "sessionId", sessionID, "caller", caller)
	if err := c.hub.ForwardToParticipant(caller, EventCallRejected, callRejected{SessionID: sessionID, Reason: ReasonTimeout}); err != nil {
		zap.S().Debugw("caller gone before ring timeout", "sessionId", sessionID, "error", err)
	}
}

func (c *Coordinator) acceptCall(ctx context.Context, p *relay.Participant, data json.RawMessage) error {
	var req acceptRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	id, err := c.memberSession(p, req.SessionID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	cl, ok := c.calls[req.SessionID]
	if !ok {
		c.mu.Unlock()
		return errNoRingingCall
	}
	if req.To != cl.caller {
		c.mu.Unlock()
		return errWrongCaller
	}
	first := cl.state == ringing
	if first {
		cl.state = connected
		cl.callee = p.ID
		if cl.timer != nil {
			cl.timer.Stop()
		}
	} else if cl.callee != p.ID {
		c.mu.Unlock()
		return errNoRingingCall
	}
	c.mu.Unlock()

	if err := c.hub.ForwardToParticipant(req.To, EventCallAccepted, callAccepted{
		SessionID: req.SessionID,
		Signal:    req.Signal,
		From:      p.ID,
	}); err != nil {
		return err
	}
	if !first {
		return nil
	}

	zap.S().Infow("call connected", "sessionId", req.SessionID, "caller", req.To, "callee", p.ID)
	if _, _, err := c.lifecycle.Advance(ctx, id, models.StatusInCall, lifecycle.TriggerCall); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) rejectCall(_ context.Context, p *relay.Participant, data json.RawMessage) error {
	var req rejectRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if _, err := c.memberSession(p, req.SessionID); err != nil {
		return err
	}

	to := req.To
	c.mu.Lock()
	if cl, ok := c.calls[req.SessionID]; ok && cl.state == ringing {
		// the caller rejecting its own ring cancels it for the room
		if cl.timer != nil {
			cl.timer.Stop()
		}
		delete(c.calls, req.SessionID)
		if to == "" && cl.caller != p.ID {
			to = cl.caller
		}
	}
	c.mu.Unlock()

	zap.S().Infow("call rejected", "sessionId", req.SessionID, "by", p.ID)
	msg := callRejected{SessionID: req.SessionID, Reason: ReasonRejected, From: p.ID}
	if to == "" {
		_, err := c.hub.ForwardToRoom(relay.SessionRoom(req.SessionID), EventCallRejected, msg, p)
		return err
	}
	return c.hub.ForwardToParticipant(to, EventCallRejected, msg)
}

func (c *Coordinator) endCall(ctx context.Context, p *relay.Participant, data json.RawMessage) error {
	var req endRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	id, err := c.memberSession(p, req.SessionID)
	if err != nil {
		return err
	}

	c.release(req.SessionID)
	if _, err := c.hub.ForwardToRoom(relay.SessionRoom(req.SessionID), EventCallEnded, callEnded{SessionID: req.SessionID, From: p.ID}, p); err != nil {
		return err
	}

	zap.S().Infow("call ended", "sessionId", req.SessionID, "by", p.ID)
	if _, err := c.lifecycle.Transition(ctx, id, models.StatusCompleted, lifecycle.TriggerEndCall); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			// already completed by the other party
			return nil
		}
		return err
	}
	return nil
}

func (c *Coordinator) updateMeetingLinks(ctx context.Context, p *relay.Participant, data json.RawMessage) error {
	var req meetingLinksRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	id, err := c.memberSession(p, req.SessionID)
	if err != nil {
		return err
	}
	_, err = c.chat.UpdateMeetingLinks(ctx, id, models.MeetingLinksRequest{GoogleMeet: req.GoogleMeet, Zoom: req.Zoom})
	return err
}

// release drops any call state for the session
func (c *Coordinator) release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.calls[sessionID]; ok {
		if cl.timer != nil {
			cl.timer.Stop()
		}
		delete(c.calls, sessionID)
	}
}

// disconnected frees any call the participant was part of. The session
// status is left alone; the remaining party is told the call ended.
func (c *Coordinator) disconnected(p *relay.Participant) {
	var ended []string
	c.mu.Lock()
	for sessionID, cl := range c.calls {
		if cl.caller == p.ID || cl.callee == p.ID {
			if cl.timer != nil {
				cl.timer.Stop()
			}
			delete(c.calls, sessionID)
			ended = append(ended, sessionID)
		}
	}
	c.mu.Unlock()

	for _, sessionID := range ended {
		zap.S().Infow("call dropped on disconnect", "sessionId", sessionID, "participantId", p.ID)
		if _, err := c.hub.ForwardToRoom(relay.SessionRoom(sessionID), EventCallEnded,
			callEnded{SessionID: sessionID, From: p.ID, Reason: ReasonDisconnected}, p); err != nil {
			zap.S().Warnw("could not announce dropped call", "sessionId", sessionID, "error", err)
		}
	}
}

// CallState reports the handshake state of a session, for diagnostics
func (c *Coordinator) CallState(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.calls[sessionID]; ok {
		return cl.state.String()
	}
	return idle.String()
}

// StatusChanged broadcasts a lifecycle transition to the admin room and the
// session room.
func (c *Coordinator) StatusChanged(s *models.Session) {
	update := models.StatusUpdate{ID: s.ID.Hex(), Status: s.Status}
	c.broadcast(relay.AdminRoom, EventMessageStatusUpdate, update)
	c.broadcast(relay.SessionRoom(update.ID), EventMessageStatusUpdate, update)
	if s.Status.Terminal() {
		c.release(update.ID)
	}
}

// SessionCreated tells every connected counselor about a new session
func (c *Coordinator) SessionCreated(s *models.Session) {
	c.broadcast(relay.AdminRoom, EventNewMessage, s)
}

// ChatMessage broadcasts a stored transcript entry to the session room
func (c *Coordinator) ChatMessage(sessionID string, msg models.ChatMessage) {
	c.broadcast(relay.SessionRoom(sessionID), EventNewChatMessage, chatBroadcast{SessionID: sessionID, ChatMessage: msg})
}

// MeetingLinks broadcasts the merged meeting links to the session room
func (c *Coordinator) MeetingLinks(s *models.Session) {
	update := meetingLinksUpdate{ID: s.ID.Hex()}
	if s.MeetingLinks != nil {
		update.GoogleMeet = s.MeetingLinks.GoogleMeet
		update.Zoom = s.MeetingLinks.Zoom
	}
	c.broadcast(relay.SessionRoom(update.ID), EventMeetingLinksUpdate, update)
}

func (c *Coordinator) broadcast(room, event string, payload interface{}) {
	if _, err := c.hub.ForwardToRoom(room, event, payload, nil); err != nil {
		zap.S().Errorw("broadcast failed", "room", room, "event", event, "error", err)
	}
}
