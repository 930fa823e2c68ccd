package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/linesmerrill/haven-api/api"
	"github.com/linesmerrill/haven-api/config"
	"github.com/linesmerrill/haven-api/databases"
	"github.com/linesmerrill/haven-api/lifecycle"
	"github.com/linesmerrill/haven-api/models"
)

const (
	maxTextLength     = 5000
	maxFeedbackLength = 2000
)

var (
	errEmptyText   = errors.New("text is required")
	errTextTooLong = fmt.Errorf("text must be at most %d characters", maxTextLength)
	errStars       = errors.New("stars must be between 1 and 5")
	errRated       = errors.New("session is not completed or was already rated")
	errNoLinks     = errors.New("googleMeet or zoom is required")
)

// StatusChanger applies lifecycle transitions
type StatusChanger interface {
	Transition(ctx context.Context, id primitive.ObjectID, to models.SessionStatus, trigger lifecycle.Trigger) (*models.Session, error)
}

// ChatService appends transcript messages and merges meeting links
type ChatService interface {
	Send(ctx context.Context, id primitive.ObjectID, req models.ChatMessageRequest) (*models.ChatMessage, error)
	UpdateMeetingLinks(ctx context.Context, id primitive.ObjectID, req models.MeetingLinksRequest) (*models.Session, error)
}

// PhoneBridge places phone calls for a session
type PhoneBridge interface {
	PlaceCall(ctx context.Context, sessionID primitive.ObjectID, to, counselor string) (string, error)
}

// SessionAnnouncer is told about every newly created session
type SessionAnnouncer interface {
	SessionCreated(s *models.Session)
}

// Session exists for dependency injection purposes
type Session struct {
	DB         databases.SessionDatabase
	Lifecycle  StatusChanger
	Chat       ChatService
	Phone      PhoneBridge
	Announcers []SessionAnnouncer

	now func() time.Time
}

func (s Session) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// CreateSessionHandler opens a new pending session
func (s Session) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		config.ErrorStatus("invalid session", http.StatusBadRequest, w, errEmptyText)
		return
	}
	if utf8.RuneCountInString(text) > maxTextLength {
		config.ErrorStatus("invalid session", http.StatusBadRequest, w, errTextTooLong)
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if req.Anonymous || name == "" {
		name = models.AnonymousName
	}

	now := s.clock().UTC()
	session := &models.Session{
		ID:             primitive.NewObjectID(),
		Text:           text,
		DisplayName:    name,
		Anonymous:      req.Anonymous,
		Status:         models.StatusPending,
		ChatTranscript: []models.ChatMessage{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	if _, err := s.DB.InsertOne(ctx, session); err != nil {
		config.ErrorStatus("failed to create session", http.StatusInternalServerError, w, err)
		return
	}
	zap.S().Infow("session created", "sessionId", session.ID.Hex(), "anonymous", session.Anonymous)

	for _, a := range s.Announcers {
		a.SessionCreated(session)
	}
	writeJSON(w, http.StatusCreated, models.CreateSessionResponse{ID: session.ID.Hex()})
}

// ListSessionsHandler returns sessions newest first. Supports ?status=,
// ?limit= and ?page=; the unpaginated total is sent in X-Total-Count.
func (s Session) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := bson.M{}
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseSessionStatus(raw)
		if err != nil {
			config.ErrorStatus("invalid status filter", http.StatusBadRequest, w, err)
			return
		}
		filter["status"] = status
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		config.ErrorStatus("invalid limit", http.StatusBadRequest, w, err)
		return
	}
	page, err := intParam(q.Get("page"))
	if err != nil {
		config.ErrorStatus("invalid page", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	sessions, err := s.DB.Find(ctx, filter, databases.NewestFirst(limit, page))
	if err != nil {
		config.ErrorStatus("failed to get sessions", http.StatusInternalServerError, w, err)
		return
	}
	total, err := s.DB.CountDocuments(ctx, filter)
	if err != nil {
		config.ErrorStatus("failed to count sessions", http.StatusInternalServerError, w, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	for i := range sessions {
		sessions[i].SortTranscript()
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	writeJSON(w, http.StatusOK, sessions)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// SessionHandler returns one session with its transcript in sentAt order
func (s Session) SessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, mux.Vars(r)["session_id"])
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	session, err := s.DB.FindOne(ctx, bson.M{"_id": id})
	if err != nil {
		writeError("failed to get session by ID", w, err)
		return
	}
	if session.ChatTranscript == nil {
		session.ChatTranscript = []models.ChatMessage{}
	}
	session.SortTranscript()
	writeJSON(w, http.StatusOK, session)
}

// UpdateStatusHandler applies a lifecycle transition. Authenticated
// counselors transition with the admin trigger, everyone else as the user.
func (s Session) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, mux.Vars(r)["session_id"])
	if !ok {
		return
	}
	var req models.StatusUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}
	to, err := models.ParseSessionStatus(req.Status)
	if err != nil {
		config.ErrorStatus("invalid status", http.StatusBadRequest, w, err)
		return
	}
	trigger := lifecycle.TriggerUser
	if _, isAdmin := api.AdminFromContext(r.Context()); isAdmin {
		trigger = lifecycle.TriggerAdmin
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	session, err := s.Lifecycle.Transition(ctx, id, to, trigger)
	if err != nil {
		writeError("failed to update status", w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// UpdateMeetingLinksHandler merges meeting links into the session
func (s Session) UpdateMeetingLinksHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, mux.Vars(r)["session_id"])
	if !ok {
		return
	}
	var req models.MeetingLinksRequest
	if err := decodeBody(w, r, &req); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}
	if req.GoogleMeet == nil && req.Zoom == nil {
		config.ErrorStatus("invalid meeting links", http.StatusBadRequest, w, errNoLinks)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	session, err := s.Chat.UpdateMeetingLinks(ctx, id, req)
	if err != nil {
		writeError("failed to update meeting links", w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// SendMessageHandler appends a transcript message. Only counselors may send
// as admin.
func (s Session) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, mux.Vars(r)["session_id"])
	if !ok {
		return
	}
	var req models.ChatMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}
	if models.Sender(req.Sender) == models.SenderAdmin {
		if _, isAdmin := api.AdminFromContext(r.Context()); !isAdmin {
			config.ErrorStatus("failed to send message", http.StatusForbidden, w, errAdminOnly)
			return
		}
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	msg, err := s.Chat.Send(ctx, id, req)
	if err != nil {
		writeError("failed to send message", w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// RateSessionHandler stores the post-session rating. A session is rated at
// most once and only after it completed.
func (s Session) RateSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, mux.Vars(r)["session_id"])
	if !ok {
		return
	}
	var req models.RatingRequest
	if err := decodeBody(w, r, &req); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}
	if req.Stars < 1 || req.Stars > 5 {
		config.ErrorStatus("invalid rating", http.StatusBadRequest, w, errStars)
		return
	}
	feedback := strings.TrimSpace(req.Feedback)
	if utf8.RuneCountInString(feedback) > maxFeedbackLength {
		feedback = string([]rune(feedback)[:maxFeedbackLength])
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	now := s.clock().UTC()
	filter := bson.M{
		"_id":    id,
		"status": models.StatusCompleted,
		"rating": bson.M{"$exists": false},
	}
	update := bson.M{"$set": bson.M{
		"rating":    models.Rating{Stars: req.Stars, Feedback: feedback, RatedAt: now},
		"updatedAt": now,
	}}
	session, err := s.DB.UpdateOne(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// tell an unknown session apart from one that cannot be rated
		if _, findErr := s.DB.FindOne(ctx, bson.M{"_id": id}); findErr != nil {
			writeError("failed to rate session", w, findErr)
			return
		}
		config.ErrorStatus("failed to rate session", http.StatusConflict, w, errRated)
		return
	}
	if err != nil {
		config.ErrorStatus("failed to rate session", http.StatusInternalServerError, w, err)
		return
	}
	zap.S().Infow("session rated", "sessionId", id.Hex(), "stars", req.Stars)
	writeJSON(w, http.StatusOK, session)
}

// PhoneCallHandler bridges the user's phone to a counselor through Twilio
func (s Session) PhoneCallHandler(w http.ResponseWriter, r *http.Request) {
	if s.Phone == nil {
		config.ErrorStatus("phone bridge unavailable", http.StatusServiceUnavailable, w, errNotConfigured)
		return
	}
	id, ok := objectID(w, mux.Vars(r)["session_id"])
	if !ok {
		return
	}
	var req models.PhoneCallRequest
	if err := decodeBody(w, r, &req); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	if _, err := s.DB.FindOne(ctx, bson.M{"_id": id}); err != nil {
		writeError("failed to get session by ID", w, err)
		return
	}
	sid, err := s.Phone.PlaceCall(ctx, id, strings.TrimSpace(req.To), strings.TrimSpace(req.Counselor))
	if err != nil {
		writeError("failed to place call", w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.PhoneCallResponse{CallSID: sid})
}
