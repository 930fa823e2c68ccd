package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/haven-api/databases/mocks"
	"github.com/linesmerrill/haven-api/lifecycle"
	"github.com/linesmerrill/haven-api/models"
)

type fakeAdvancer struct {
	calls []models.SessionStatus
	err   error
}

func (f *fakeAdvancer) Advance(_ context.Context, _ primitive.ObjectID, to models.SessionStatus, _ lifecycle.Trigger) (*models.Session, bool, error) {
	f.calls = append(f.calls, to)
	return nil, f.err == nil, f.err
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []models.ChatMessage
	links    []*models.Session
}

func (f *fakeBroadcaster) ChatMessage(_ string, msg models.ChatMessage) {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
}

func (f *fakeBroadcaster) MeetingLinks(s *models.Session) {
	f.links = append(f.links, s)
}

// transcriptStore backs the mock with a single in-memory session so appends
// are visible to the next read.
type transcriptStore struct {
	mu      sync.Mutex
	session models.Session
}

func (s *transcriptStore) wire(db *mocks.SessionDatabase) {
	db.On("FindOne", mock.Anything, mock.Anything).Return(
		func(context.Context, interface{}, ...*options.FindOneOptions) (*models.Session, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			cp := s.session
			cp.ChatTranscript = append([]models.ChatMessage(nil), s.session.ChatTranscript...)
			return &cp, nil
		})
	db.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(
		func(_ context.Context, _ interface{}, update interface{}, _ ...*options.FindOneAndUpdateOptions) (*models.Session, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			push := update.(bson.M)["$push"].(bson.M)["chatTranscript"].(bson.M)
			s.session.ChatTranscript = append(s.session.ChatTranscript, push["$each"].([]models.ChatMessage)...)
			s.session.SortTranscript()
			cp := s.session
			return &cp, nil
		})
}

func TestSend_BackToBackMessagesStrictlyIncrease(t *testing.T) {
	db := mocks.NewSessionDatabase(t)
	id := primitive.NewObjectID()
	store := &transcriptStore{session: models.Session{ID: id, Status: models.StatusInChat}}
	store.wire(db)
	bc := &fakeBroadcaster{}
	svc := NewService(db, &fakeAdvancer{}, bc)
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	_, err := svc.Send(context.Background(), id, models.ChatMessageRequest{Body: "hello", Sender: "user"})
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), id, models.ChatMessageRequest{Body: "hi there", Sender: "admin"})
	require.NoError(t, err)

	got := store.session.ChatTranscript
	require.Len(t, got, 2)
	assert.Equal(t, models.SenderUser, got[0].Sender)
	assert.Equal(t, models.SenderAdmin, got[1].Sender)
	assert.True(t, got[1].SentAt.After(got[0].SentAt))
	assert.Len(t, bc.messages, 2)
}

func TestSend_ConcurrentSendsEachAppendOnce(t *testing.T) {
	db := mocks.NewSessionDatabase(t)
	id := primitive.NewObjectID()
	store := &transcriptStore{session: models.Session{ID: id, Status: models.StatusInChat}}
	store.wire(db)
	svc := NewService(db, &fakeAdvancer{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "user"
			if i%2 == 0 {
				sender = "admin"
			}
			_, err := svc.Send(context.Background(), id, models.ChatMessageRequest{Body: "m", Sender: sender})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got := store.session.ChatTranscript
	require.Len(t, got, 20)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].SentAt.After(got[i-1].SentAt))
	}
	assert.Empty(t, svc.locks)
}

func TestSend_AdvancesPendingToInChat(t *testing.T) {
	db := mocks.NewSessionDatabase(t)
	id := primitive.NewObjectID()
	store := &transcriptStore{session: models.Session{ID: id, Status: models.StatusPending}}
	store.wire(db)
	adv := &fakeAdvancer{}
	svc := NewService(db, adv, nil)

	_, err := svc.Send(context.Background(), id, models.ChatMessageRequest{Body: "hey", Sender: "user", Kind: "text"})

	require.NoError(t, err)
	assert.Equal(t, []models.SessionStatus{models.StatusInChat}, adv.calls)
}

func TestSend_CompletedSessionAppendsWithoutTransition(t *testing.T) {
	db := mocks.NewSessionDatabase(t)
	id := primitive.NewObjectID()
	store := &transcriptStore{session: models.Session{ID: id, Status: models.StatusCompleted}}
	store.wire(db)
	adv := &fakeAdvancer{}
	svc := NewService(db, adv, nil)

	msg, err := svc.Send(context.Background(), id, models.ChatMessageRequest{Body: "thanks", Sender: "user"})

	require.NoError(t, err)
	assert.Equal(t, models.KindText, msg.Kind)
	assert.Empty(t, adv.calls)
	assert.Len(t, store.session.ChatTranscript, 1)
}

func TestSend_AdvanceFailureStillStoresMessage(t *testing.T) {
	db := mocks.NewSessionDatabase(t)
	id := primitive.NewObjectID()
	store := &transcriptStore{session: models.Session{ID: id, Status: models.StatusInCall}}
	store.wire(db)
	svc := NewService(db, &fakeAdvancer{err: errors.New("boom")}, nil)

	_, err := svc.Send(context.Background(), id, models.ChatMessageRequest{Body: "x", Sender: "admin"})

	require.NoError(t, err)
	assert.Len(t, store.session.ChatTranscript, 1)
}

func TestSend_SentAtAfterExistingMessages(t *testing.T) {
	db := mocks.NewSessionDatabase(t)
	id := primitive.NewObjectID()
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &transcriptStore{session: models.Session{
		ID:             id,
		Status:         models.StatusInChat,
		ChatTranscript: []models.ChatMessage{{Sender: models.SenderUser, Body: "a", Kind: models.KindText, SentAt: future}},
	}}
	store.wire(db)
	svc := NewService(db, &fakeAdvancer{}, nil)

	msg, err := svc.Send(context.Background(), id, models.ChatMessageRequest{Body: "b", Sender: "admin"})

	require.NoError(t, err)
	assert.Equal(t, future.Add(time.Millisecond), msg.SentAt)
}

func TestSend_Validation(t *testing.T) {
	svc := NewService(mocks.NewSessionDatabase(t), &fakeAdvancer{}, nil)
	id := primitive.NewObjectID()

	cases := []models.ChatMessageRequest{
		{Body: "  ", Sender: "user"},
		{Body: "x", Sender: "bot"},
		{Body: "x", Sender: "user", Kind: "gif"},
	}
	for _, req := range cases {
		_, err := svc.Send(context.Background(), id, req)
		assert.ErrorIs(t, err, ErrInvalidMessage)
	}
}

func TestSend_NotFound(t *testing.T) {
	db := mocks.NewSessionDatabase(t)
	db.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)
	svc := NewService(db, &fakeAdvancer{}, nil)

	_, err := svc.Send(context.Background(), primitive.NewObjectID(), models.ChatMessageRequest{Body: "x", Sender: "user"})

	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}

func TestSend_UpstreamFailure(t *testing.T) {
	db := mocks.NewSessionDatabase(t)
	db.On("FindOne", mock.Anything, mock.Anything).Return(&models.Session{Status: models.StatusInChat}, nil)
	db.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	svc := NewService(db, &fakeAdvancer{}, nil)

	_, err := svc.Send(context.Background(), primitive.NewObjectID(), models.ChatMessageRequest{Body: "x", Sender: "user"})

	assert.ErrorIs(t, err, lifecycle.ErrUpstream)
}

func TestUpdateMeetingLinks_MergesGivenFields(t *testing.T) {
	db := mocks.NewSessionDatabase(t)
	id := primitive.NewObjectID()
	zoom := " https://zoom.us/j/1 "
	updated := &models.Session{ID: id, MeetingLinks: &models.MeetingLinks{GoogleMeet: "https://meet.google.com/a", Zoom: "https://zoom.us/j/1"}}
	db.On("UpdateOne", mock.Anything, bson.M{"_id": id}, mock.MatchedBy(func(u bson.M) bool {
		set := u["$set"].(bson.M)
		_, hasMeet := set["meetingLinks.googleMeet"]
		return set["meetingLinks.zoom"] == "https://zoom.us/j/1" && !hasMeet
	})).Return(updated, nil)
	bc := &fakeBroadcaster{}
	svc := NewService(db, &fakeAdvancer{}, bc)

	s, err := svc.UpdateMeetingLinks(context.Background(), id, models.MeetingLinksRequest{Zoom: &zoom})

	require.NoError(t, err)
	assert.Equal(t, updated, s)
	assert.Equal(t, []*models.Session{updated}, bc.links)
}

func TestUpdateMeetingLinks_NotFound(t *testing.T) {
	db := mocks.NewSessionDatabase(t)
	db.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)
	svc := NewService(db, &fakeAdvancer{}, nil)

	_, err := svc.UpdateMeetingLinks(context.Background(), primitive.NewObjectID(), models.MeetingLinksRequest{})

	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}
