// Package lifecycle owns the status state machine of a Session.
//
// Transitions only move forward: pending -> in-call/in-chat -> completed.
// pending may jump straight to completed only when an admin forces it, a
// party ends a call, or external call infrastructure reports a terminal call
// status.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/linesmerrill/haven-api/databases"
	"github.com/linesmerrill/haven-api/models"
)

var (
	// ErrNotFound is returned when the session id is unknown
	ErrNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when the requested edge is not in the table
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUpstream wraps storage failures
	ErrUpstream = errors.New("session store failure")
)

// Trigger names what caused a transition request
type Trigger string

// Triggers
const (
	TriggerAdmin    Trigger = "admin"
	TriggerUser     Trigger = "user"
	TriggerChat     Trigger = "chat"
	TriggerCall     Trigger = "call"
	TriggerExternal Trigger = "external"
	// TriggerEndCall completes a session even if the call was never accepted
	TriggerEndCall Trigger = "end-call"
)

var edges = map[models.SessionStatus][]models.SessionStatus{
	models.StatusPending: {models.StatusInCall, models.StatusInChat},
	models.StatusInCall:  {models.StatusInChat, models.StatusCompleted},
	models.StatusInChat:  {models.StatusCompleted},
}

// Allowed reports whether trigger may move a session from one status to another
func Allowed(from, to models.SessionStatus, trigger Trigger) bool {
	if from.Terminal() {
		return false
	}
	if from == models.StatusPending && to == models.StatusInCall && !startsCall(trigger) {
		return false
	}
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return from == models.StatusPending && to == models.StatusCompleted && forces(trigger)
}

// startsCall reports whether t may open a call on a pending session. Users
// never do this directly; the counselor rings them.
func startsCall(t Trigger) bool {
	return t == TriggerAdmin || t == TriggerCall || t == TriggerExternal
}

func forces(t Trigger) bool {
	return t == TriggerAdmin || t == TriggerExternal || t == TriggerEndCall
}

// sources lists every status from which trigger may reach to
func sources(to models.SessionStatus, trigger Trigger) []models.SessionStatus {
	var from []models.SessionStatus
	for _, s := range []models.SessionStatus{models.StatusPending, models.StatusInCall, models.StatusInChat} {
		if Allowed(s, to, trigger) {
			from = append(from, s)
		}
	}
	return from
}

// Notifier is told about every applied transition
type Notifier interface {
	StatusChanged(s *models.Session)
}

// Manager applies transitions against the session store
type Manager struct {
	DB       databases.SessionDatabase
	Notifier Notifier
	now      func() time.Time
}

// NewManager creates a Manager. notifier may be nil.
func NewManager(db databases.SessionDatabase, notifier Notifier) *Manager {
	return &Manager{DB: db, Notifier: notifier, now: time.Now}
}

// Transition moves the session to the target status. Requesting the status the
// session already has is a no-op. Any edge outside the table, including every
// edge out of completed, returns ErrInvalidTransition.
func (m *Manager) Transition(ctx context.Context, id primitive.ObjectID, to models.SessionStatus, trigger Trigger) (*models.Session, error) {
	s, _, err := m.apply(ctx, id, to, trigger, true)
	return s, err
}

// Advance is the lenient form used for implicit transitions (first chat
// message, call connected). When the edge is not allowed the current session
// is returned unchanged with changed=false and no error.
func (m *Manager) Advance(ctx context.Context, id primitive.ObjectID, to models.SessionStatus, trigger Trigger) (*models.Session, bool, error) {
	return m.apply(ctx, id, to, trigger, false)
}

func (m *Manager) apply(ctx context.Context, id primitive.ObjectID, to models.SessionStatus, trigger Trigger, strict bool) (*models.Session, bool, error) {
	current, err := m.find(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.Status == to {
		return current, false, nil
	}
	if !Allowed(current.Status, to, trigger) {
		if !strict {
			return current, false, nil
		}
		zap.S().Warnw("rejected status transition",
			"sessionId", id.Hex(),
			"from", current.Status,
			"to", to,
			"trigger", trigger)
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	// The filter only admits documents still sitting on a valid source status.
	// Two concurrent valid requests (in-call vs in-chat) resolve last-write-wins.
	filter := bson.M{"_id": id, "status": bson.M{"$in": sources(to, trigger)}}
	update := bson.M{"$set": bson.M{"status": to, "updatedAt": m.now()}}
	updated, err := m.DB.UpdateOne(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// lost a race; report against whatever won
		latest, ferr := m.find(ctx, id)
		if ferr != nil {
			return nil, false, ferr
		}
		if latest.Status == to || !strict {
			return latest, false, nil
		}
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, latest.Status, to)
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: update status: %v", ErrUpstream, err)
	}

	zap.S().Infow("session status changed",
		"sessionId", id.Hex(),
		"from", current.Status,
		"to", updated.Status,
		"trigger", trigger)
	if m.Notifier != nil {
		m.Notifier.StatusChanged(updated)
	}
	return updated, true, nil
}

func (m *Manager) find(ctx context.Context, id primitive.ObjectID) (*models.Session, error) {
	s, err := m.DB.FindOne(ctx, bson.M{"_id": id})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find session: %v", ErrUpstream, err)
	}
	return s, nil
}
