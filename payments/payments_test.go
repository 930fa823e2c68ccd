package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linesmerrill/haven-api/databases/mocks"
	"github.com/linesmerrill/haven-api/models"
)

type fakeGateway struct {
	createCalls int
	verifyCalls int
	createErr   error
	verifyErr   error
}

func (f *fakeGateway) Method() models.PaymentMethod { return "fake" }

func (f *fakeGateway) CreateOrder(_ context.Context, order *models.PaymentOrder) (*GatewayOrder, error) {
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &GatewayOrder{ID: "gw_" + order.Receipt, Launch: map[string]string{"url": "https://pay.example/" + order.Receipt}}, nil
}

func (f *fakeGateway) TransactionID(req models.VerifyPaymentRequest) string {
	return req.UPITransactionRef
}

func (f *fakeGateway) Verify(_ context.Context, _ *models.PaymentOrder, req models.VerifyPaymentRequest) (string, error) {
	f.verifyCalls++
	if f.verifyErr != nil {
		return "", f.verifyErr
	}
	return req.UPITransactionRef, nil
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(t *testing.T, gw Gateway) (*Orchestrator, *mocks.PaymentOrderDatabase, *mocks.SessionDatabase) {
	orders := mocks.NewPaymentOrderDatabase(t)
	sessions := mocks.NewSessionDatabase(t)
	o := NewOrchestrator(orders, sessions, "inr", 24*time.Hour, gw)
	o.now = func() time.Time { return fixedNow }
	return o, orders, sessions
}

func TestCreateOrder_RejectsNonPositiveAmountBeforeGateway(t *testing.T) {
	gw := &fakeGateway{}
	o, _, _ := newTestOrchestrator(t, gw)

	for _, amount := range []int64{0, -100} {
		_, err := o.CreateOrder(context.Background(), models.CreatePaymentOrderRequest{SessionID: primitive.NewObjectID().Hex(), Amount: amount, Method: "fake"})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
	assert.Zero(t, gw.createCalls)
}

func TestCreateOrder_UnknownMethod(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakeGateway{})

	_, err := o.CreateOrder(context.Background(), models.CreatePaymentOrderRequest{SessionID: primitive.NewObjectID().Hex(), Amount: 100, Method: "paypal"})

	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestCreateOrder_UnknownSession(t *testing.T) {
	gw := &fakeGateway{}
	o, _, sessions := newTestOrchestrator(t, gw)
	sessions.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)

	_, err := o.CreateOrder(context.Background(), models.CreatePaymentOrderRequest{SessionID: primitive.NewObjectID().Hex(), Amount: 100, Method: "fake"})

	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, gw.createCalls)
}

func TestCreateOrder_Success(t *testing.T) {
	gw := &fakeGateway{}
	o, orders, sessions := newTestOrchestrator(t, gw)
	sid := primitive.NewObjectID()
	sessions.On("FindOne", mock.Anything, bson.M{"_id": sid}).Return(&models.Session{ID: sid}, nil)
	var stored *models.PaymentOrder
	orders.On("InsertOne", mock.Anything, mock.AnythingOfType("*models.PaymentOrder")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*models.PaymentOrder) }).
		Return(nil, nil)

	resp, err := o.CreateOrder(context.Background(), models.CreatePaymentOrderRequest{SessionID: sid.Hex(), Amount: 49900, Method: "fake"})

	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, stored.ID.Hex(), resp.OrderID)
	assert.Equal(t, int64(49900), resp.Amount)
	assert.Equal(t, "INR", stored.Currency)
	assert.Equal(t, models.OrderCreated, stored.Status)
	assert.Equal(t, "gw_"+stored.Receipt, stored.GatewayOrderID)
	assert.Equal(t, fixedNow, stored.CreatedAt)
	assert.Equal(t, "https://pay.example/"+stored.Receipt, resp.Launch["url"])
}

func TestCreateOrder_GatewayFailureIsUpstream(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("503")}
	o, _, sessions := newTestOrchestrator(t, gw)
	sessions.On("FindOne", mock.Anything, mock.Anything).Return(&models.Session{}, nil)

	_, err := o.CreateOrder(context.Background(), models.CreatePaymentOrderRequest{SessionID: primitive.NewObjectID().Hex(), Amount: 100, Method: "fake"})

	assert.ErrorIs(t, err, ErrUpstream)
}

func TestVerify_Success(t *testing.T) {
	gw := &fakeGateway{}
	o, orders, _ := newTestOrchestrator(t, gw)
	order := &models.PaymentOrder{ID: primitive.NewObjectID(), Method: "fake", Status: models.OrderCreated, CreatedAt: fixedNow.Add(-time.Hour)}
	orders.On("FindOne", mock.Anything, bson.M{"_id": order.ID}).Return(order, nil)
	verified := *order
	verified.Status = models.OrderVerified
	verified.TransactionID = "UTR123456789"
	orders.On("UpdateOne", mock.Anything, bson.M{"_id": order.ID, "status": models.OrderCreated}, mock.MatchedBy(func(u bson.M) bool {
		set := u["$set"].(bson.M)
		return set["status"] == models.OrderVerified && set["transactionId"] == "UTR123456789"
	})).Return(&verified, nil)

	got, err := o.Verify(context.Background(), models.VerifyPaymentRequest{OrderID: order.ID.Hex(), UPITransactionRef: "UTR123456789"})

	require.NoError(t, err)
	assert.Equal(t, models.OrderVerified, got.Status)
	assert.Equal(t, 1, gw.verifyCalls)
}

func TestVerify_IdempotentForSameTransaction(t *testing.T) {
	gw := &fakeGateway{}
	o, orders, _ := newTestOrchestrator(t, gw)
	order := &models.PaymentOrder{ID: primitive.NewObjectID(), Method: "fake", Status: models.OrderVerified, TransactionID: "UTR123456789"}
	orders.On("FindOne", mock.Anything, mock.Anything).Return(order, nil)

	got, err := o.Verify(context.Background(), models.VerifyPaymentRequest{OrderID: order.ID.Hex(), UPITransactionRef: "UTR123456789"})
	require.NoError(t, err)
	assert.Equal(t, order, got)

	_, err = o.Verify(context.Background(), models.VerifyPaymentRequest{OrderID: order.ID.Hex(), UPITransactionRef: "OTHER12345"})
	assert.ErrorIs(t, err, ErrAlreadyVerified)
	assert.Zero(t, gw.verifyCalls)
}

func TestVerify_Expired(t *testing.T) {
	gw := &fakeGateway{}
	o, orders, _ := newTestOrchestrator(t, gw)
	stale := &models.PaymentOrder{ID: primitive.NewObjectID(), Method: "fake", Status: models.OrderCreated, CreatedAt: fixedNow.Add(-25 * time.Hour)}
	marked := &models.PaymentOrder{ID: primitive.NewObjectID(), Method: "fake", Status: models.OrderExpired, CreatedAt: fixedNow}
	orders.On("FindOne", mock.Anything, bson.M{"_id": stale.ID}).Return(stale, nil)
	orders.On("FindOne", mock.Anything, bson.M{"_id": marked.ID}).Return(marked, nil)

	_, err := o.Verify(context.Background(), models.VerifyPaymentRequest{OrderID: stale.ID.Hex(), UPITransactionRef: "UTR123456789"})
	assert.ErrorIs(t, err, ErrOrderExpired)
	_, err = o.Verify(context.Background(), models.VerifyPaymentRequest{OrderID: marked.ID.Hex(), UPITransactionRef: "UTR123456789"})
	assert.ErrorIs(t, err, ErrOrderExpired)
	assert.Zero(t, gw.verifyCalls)
}

func TestVerify_GatewayRejects(t *testing.T) {
	gw := &fakeGateway{verifyErr: ErrVerificationFailed}
	o, orders, _ := newTestOrchestrator(t, gw)
	order := &models.PaymentOrder{ID: primitive.NewObjectID(), Method: "fake", Status: models.OrderCreated, CreatedAt: fixedNow}
	orders.On("FindOne", mock.Anything, mock.Anything).Return(order, nil)

	_, err := o.Verify(context.Background(), models.VerifyPaymentRequest{OrderID: order.ID.Hex()})

	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestVerify_MethodMismatch(t *testing.T) {
	o, orders, _ := newTestOrchestrator(t, &fakeGateway{})
	order := &models.PaymentOrder{ID: primitive.NewObjectID(), Method: "fake", Status: models.OrderCreated, CreatedAt: fixedNow}
	orders.On("FindOne", mock.Anything, mock.Anything).Return(order, nil)

	_, err := o.Verify(context.Background(), models.VerifyPaymentRequest{OrderID: order.ID.Hex(), Method: "stripe"})

	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestVerify_LostRaceToSameTransaction(t *testing.T) {
	o, orders, _ := newTestOrchestrator(t, &fakeGateway{})
	id := primitive.NewObjectID()
	created := &models.PaymentOrder{ID: id, Method: "fake", Status: models.OrderCreated, CreatedAt: fixedNow}
	won := &models.PaymentOrder{ID: id, Method: "fake", Status: models.OrderVerified, TransactionID: "UTR123456789"}
	orders.On("FindOne", mock.Anything, mock.Anything).Return(created, nil).Once()
	orders.On("FindOne", mock.Anything, mock.Anything).Return(won, nil).Once()
	orders.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)

	got, err := o.Verify(context.Background(), models.VerifyPaymentRequest{OrderID: id.Hex(), UPITransactionRef: "UTR123456789"})

	require.NoError(t, err)
	assert.Equal(t, won, got)
}

func TestGet_NotFound(t *testing.T) {
	o, orders, _ := newTestOrchestrator(t, &fakeGateway{})
	orders.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)

	_, err := o.Get(context.Background(), primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = o.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestExpireStale(t *testing.T) {
	o, orders, _ := newTestOrchestrator(t, &fakeGateway{})
	orders.On("UpdateMany", mock.Anything,
		bson.M{"status": models.OrderCreated, "createdAt": bson.M{"$lt": fixedNow.Add(-24 * time.Hour)}},
		mock.Anything).Return(int64(3), nil)

	n, err := o.ExpireStale(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestExpireStale_DisabledWithoutTTL(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakeGateway{})
	o.OrderTTL = 0

	n, err := o.ExpireStale(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
}
