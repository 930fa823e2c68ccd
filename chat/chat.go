// Package chat appends messages to a Session transcript and merges its
// meeting links.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/linesmerrill/haven-api/databases"
	"github.com/linesmerrill/haven-api/lifecycle"
	"github.com/linesmerrill/haven-api/models"
)

// ErrInvalidMessage is returned for an empty body or unknown sender/kind
var ErrInvalidMessage = errors.New("invalid chat message")

// Advancer performs the implicit status transition on chat activity
type Advancer interface {
	Advance(ctx context.Context, id primitive.ObjectID, to models.SessionStatus, trigger lifecycle.Trigger) (*models.Session, bool, error)
}

// Broadcaster pushes transcript and meeting link changes to connected clients
type Broadcaster interface {
	ChatMessage(sessionID string, msg models.ChatMessage)
	MeetingLinks(s *models.Session)
}

// Service serializes writes per session so sentAt is strictly increasing
// within a transcript.
type Service struct {
	DB        databases.SessionDatabase
	Lifecycle Advancer
	Notify    Broadcaster

	now   func() time.Time
	mu    sync.Mutex
	locks map[primitive.ObjectID]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

// NewService creates a chat Service. notify may be nil.
func NewService(db databases.SessionDatabase, lc Advancer, notify Broadcaster) *Service {
	return &Service{
		DB:        db,
		Lifecycle: lc,
		Notify:    notify,
		now:       time.Now,
		locks:     make(map[primitive.ObjectID]*sessionLock),
	}
}

// Send validates and appends one message, advances a pending or in-call
// session to in-chat, and broadcasts the message to the session room.
// Messages on a completed session are kept without any transition.
func (s *Service) Send(ctx context.Context, id primitive.ObjectID, req models.ChatMessageRequest) (*models.ChatMessage, error) {
	msg, err := parseMessage(req)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(id)
	defer unlock()

	current, err := s.DB.FindOne(ctx, bson.M{"_id": id})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", lifecycle.ErrNotFound, id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find session: %v", lifecycle.ErrUpstream, err)
	}

	msg.SentAt = s.nextSentAt(current)
	update := bson.M{
		"$push": bson.M{"chatTranscript": bson.M{
			"$each": []models.ChatMessage{msg},
			"$sort": bson.M{"sentAt": 1},
		}},
		"$set": bson.M{"updatedAt": msg.SentAt},
	}
	if _, err := s.DB.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", lifecycle.ErrNotFound, id.Hex())
		}
		return nil, fmt.Errorf("%w: append message: %v", lifecycle.ErrUpstream, err)
	}

	if lifecycle.Allowed(current.Status, models.StatusInChat, lifecycle.TriggerChat) {
		if _, _, err := s.Lifecycle.Advance(ctx, id, models.StatusInChat, lifecycle.TriggerChat); err != nil {
			// the message is stored; the status catches up on the next send
			zap.S().Warnw("could not move session to in-chat", "sessionId", id.Hex(), "error", err)
		}
	}

	if s.Notify != nil {
		s.Notify.ChatMessage(id.Hex(), msg)
	}
	return &msg, nil
}

// nextSentAt never returns a time at or before the newest stored message
func (s *Service) nextSentAt(current *models.Session) time.Time {
	t := s.now().UTC().Truncate(time.Millisecond)
	for _, m := range current.ChatTranscript {
		if !t.After(m.SentAt) {
			t = m.SentAt.Add(time.Millisecond)
		}
	}
	return t
}

// lock returns the per-session mutex, creating it on first use and dropping
// it once no sender holds a reference.
func (s *Service) lock(id primitive.ObjectID) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// UpdateMeetingLinks merges the non-nil fields into the session's links.
// Either party may call it; the last write wins.
func (s *Service) UpdateMeetingLinks(ctx context.Context, id primitive.ObjectID, req models.MeetingLinksRequest) (*models.Session, error) {
	set := bson.M{"updatedAt": s.now().UTC()}
	if req.GoogleMeet != nil {
		set["meetingLinks.googleMeet"] = strings.TrimSpace(*req.GoogleMeet)
	}
	if req.Zoom != nil {
		set["meetingLinks.zoom"] = strings.TrimSpace(*req.Zoom)
	}

	updated, err := s.DB.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", lifecycle.ErrNotFound, id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update meeting links: %v", lifecycle.ErrUpstream, err)
	}

	zap.S().Infow("meeting links updated", "sessionId", id.Hex())
	if s.Notify != nil {
		s.Notify.MeetingLinks(updated)
	}
	return updated, nil
}

func parseMessage(req models.ChatMessageRequest) (models.ChatMessage, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return models.ChatMessage{}, fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	sender := models.Sender(req.Sender)
	if sender != models.SenderUser && sender != models.SenderAdmin {
		return models.ChatMessage{}, fmt.Errorf("%w: unknown sender %q", ErrInvalidMessage, req.Sender)
	}
	kind := models.MessageKind(req.Kind)
	switch kind {
	case "":
		kind = models.KindText
	case models.KindText, models.KindImage, models.KindVideo:
	default:
		return models.ChatMessage{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, req.Kind)
	}
	return models.ChatMessage{Sender: sender, Body: body, Kind: kind}, nil
}
