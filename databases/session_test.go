package databases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/haven-api/databases"
	"github.com/linesmerrill/haven-api/databases/mocks"
	"github.com/linesmerrill/haven-api/models"
)

func TestSessionDatabase_FindOne(t *testing.T) {
	db := mocks.NewDatabaseHelper(t)
	conn := mocks.NewCollectionHelper(t)
	sr := mocks.NewSingleResultHelper(t)

	id := primitive.NewObjectID()
	sr.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Session)
		(*arg).ID = id
		(*arg).Status = models.StatusPending
	})
	conn.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(sr)
	db.On("Collection", "sessions").Return(conn)

	s, err := databases.NewSessionDatabase(db).FindOne(context.Background(), bson.M{"_id": id})

	require.NoError(t, err)
	assert.Equal(t, id, s.ID)
	assert.Equal(t, models.StatusPending, s.Status)
}

func TestSessionDatabase_InsertOne(t *testing.T) {
	db := mocks.NewDatabaseHelper(t)
	conn := mocks.NewCollectionHelper(t)
	ior := mocks.NewInsertOneResultHelper(t)

	id := primitive.NewObjectID()
	session := &models.Session{ID: id, Status: models.StatusPending}
	ior.On("Decode").Return(id)
	conn.On("InsertOne", mock.Anything, session).Return(ior, nil)
	db.On("Collection", "sessions").Return(conn)

	res, err := databases.NewSessionDatabase(db).InsertOne(context.Background(), session)

	require.NoError(t, err)
	assert.Equal(t, id, res.Decode())
}

func TestSessionDatabase_FindOneNoDocuments(t *testing.T) {
	db := mocks.NewDatabaseHelper(t)
	conn := mocks.NewCollectionHelper(t)
	sr := mocks.NewSingleResultHelper(t)

	sr.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	conn.On("FindOne", mock.Anything, mock.Anything).Return(sr)
	db.On("Collection", "sessions").Return(conn)

	s, err := databases.NewSessionDatabase(db).FindOne(context.Background(), bson.M{})

	assert.Nil(t, s)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestSessionDatabase_UpdateOneReturnsDocumentAfter(t *testing.T) {
	db := mocks.NewDatabaseHelper(t)
	conn := mocks.NewCollectionHelper(t)
	sr := mocks.NewSingleResultHelper(t)

	sr.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		(*args.Get(0).(**models.Session)).Status = models.StatusInCall
	})
	conn.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.MatchedBy(func(o *options.FindOneAndUpdateOptions) bool {
		return o.ReturnDocument != nil && *o.ReturnDocument == options.After
	})).Return(sr)
	db.On("Collection", "sessions").Return(conn)

	s, err := databases.NewSessionDatabase(db).UpdateOne(context.Background(), bson.M{}, bson.M{"$set": bson.M{"status": "in-call"}})

	require.NoError(t, err)
	assert.Equal(t, models.StatusInCall, s.Status)
}

func TestSessionDatabase_FindCursorError(t *testing.T) {
	db := mocks.NewDatabaseHelper(t)
	conn := mocks.NewCollectionHelper(t)

	conn.On("Find", mock.Anything, mock.Anything).Return(nil, errors.New("mocked-error"))
	db.On("Collection", "sessions").Return(conn)

	s, err := databases.NewSessionDatabase(db).Find(context.Background(), bson.M{})

	assert.Nil(t, s)
	assert.EqualError(t, err, "mocked-error")
}

func TestSessionDatabase_FindDecodesAll(t *testing.T) {
	db := mocks.NewDatabaseHelper(t)
	conn := mocks.NewCollectionHelper(t)
	cr := mocks.NewCursorHelper(t)

	cr.On("All", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		out := args.Get(1).(*[]models.Session)
		*out = []models.Session{{Text: "a"}, {Text: "b"}}
	})
	cr.On("Close", mock.Anything).Return(nil)
	conn.On("Find", mock.Anything, mock.Anything, mock.Anything).Return(cr, nil)
	db.On("Collection", "sessions").Return(conn)

	s, err := databases.NewSessionDatabase(db).Find(context.Background(), bson.M{}, databases.NewestFirst(10, 1))

	require.NoError(t, err)
	assert.Len(t, s, 2)
}
