package models

import (
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AnonymousName is stored as the display name when a user asks to stay anonymous
const AnonymousName = "Anonymous"

// SessionStatus is the lifecycle state of a Session
type SessionStatus string

// Session statuses. completed is terminal.
const (
	StatusPending   SessionStatus = "pending"
	StatusInCall    SessionStatus = "in-call"
	StatusInChat    SessionStatus = "in-chat"
	StatusCompleted SessionStatus = "completed"
)

// ParseSessionStatus converts a raw string into a known SessionStatus
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch st := SessionStatus(s); st {
	case StatusPending, StatusInCall, StatusInChat, StatusCompleted:
		return st, nil
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// Terminal reports whether no further transitions are possible
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted
}

// Sender identifies who wrote a chat message
type Sender string

// Chat senders
const (
	SenderUser  Sender = "user"
	SenderAdmin Sender = "admin"
)

// MessageKind is the media type of a chat message
type MessageKind string

// Chat message kinds. image and video bodies hold an uploaded media URL.
const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
)

// Session holds the structure for the sessions collection in mongo. One
// Session is created per support request.
type Session struct {
	ID             primitive.ObjectID `json:"id" bson:"_id"`
	Text           string             `json:"text" bson:"text"`
	DisplayName    string             `json:"displayName" bson:"displayName"`
	Anonymous      bool               `json:"anonymous" bson:"anonymous"`
	Status         SessionStatus      `json:"status" bson:"status"`
	ChatTranscript []ChatMessage      `json:"chatTranscript" bson:"chatTranscript"`
	MeetingLinks   *MeetingLinks      `json:"meetingLinks,omitempty" bson:"meetingLinks,omitempty"`
	Rating         *Rating            `json:"rating,omitempty" bson:"rating,omitempty"`
	CreatedAt      time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// SortTranscript orders the transcript by sentAt. Messages from different
// senders may be persisted out of order, so readers sort before display.
func (s *Session) SortTranscript() {
	sort.SliceStable(s.ChatTranscript, func(i, j int) bool {
		return s.ChatTranscript[i].SentAt.Before(s.ChatTranscript[j].SentAt)
	})
}

// ChatMessage is a single transcript entry
type ChatMessage struct {
	Sender Sender      `json:"sender" bson:"sender"`
	Body   string      `json:"body" bson:"body"`
	Kind   MessageKind `json:"kind" bson:"kind"`
	SentAt time.Time   `json:"sentAt" bson:"sentAt"`
}

// MeetingLinks holds optional external meeting URLs. Last write wins.
type MeetingLinks struct {
	GoogleMeet string `json:"googleMeet,omitempty" bson:"googleMeet,omitempty"`
	Zoom       string `json:"zoom,omitempty" bson:"zoom,omitempty"`
}

// Rating is the post-session feedback, set at most once
type Rating struct {
	Stars    int       `json:"stars" bson:"stars"`
	Feedback string    `json:"feedback" bson:"feedback"`
	RatedAt  time.Time `json:"ratedAt" bson:"ratedAt"`
}

// CreateSessionRequest is the body of POST /sessions
type CreateSessionRequest struct {
	Text        string `json:"text"`
	DisplayName string `json:"displayName"`
	Anonymous   bool   `json:"anonymous"`
}

// StatusUpdateRequest is the body of PATCH /sessions/{id}/status
type StatusUpdateRequest struct {
	Status string `json:"status"`
}

// MeetingLinksRequest is the body of PATCH /sessions/{id}/meeting-links.
// Nil fields are left untouched.
type MeetingLinksRequest struct {
	GoogleMeet *string `json:"googleMeet"`
	Zoom       *string `json:"zoom"`
}

// ChatMessageRequest is the body of POST /sessions/{id}/messages
type ChatMessageRequest struct {
	Body   string `json:"body"`
	Kind   string `json:"kind"`
	Sender string `json:"sender"`
}

// RatingRequest is the body of POST /sessions/{id}/rating
type RatingRequest struct {
	Stars    int    `json:"stars"`
	Feedback string `json:"feedback"`
}

// StatusUpdate is broadcast to the relay whenever a Session changes status
type StatusUpdate struct {
	ID     string        `json:"id"`
	Status SessionStatus `json:"status"`
}

// CreateSessionResponse is returned by POST /sessions
type CreateSessionResponse struct {
	ID string `json:"id"`
}

// PhoneCallRequest is the body of POST /sessions/{id}/phone-call. To is the
// user's number, Counselor the number the call is bridged to. Both are E.164.
type PhoneCallRequest struct {
	To        string `json:"to"`
	Counselor string `json:"counselor"`
}

// PhoneCallResponse carries the provider call id
type PhoneCallResponse struct {
	CallSID string `json:"callSid"`
}
