// Package payments creates and verifies post-session payment orders against
// the configured gateways.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/linesmerrill/haven-api/databases"
	"github.com/linesmerrill/haven-api/models"
)

var (
	// ErrInvalidAmount is returned for a zero or negative amount
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrUnknownMethod is returned when no gateway is registered for the method
	ErrUnknownMethod = errors.New("unknown payment method")
	// ErrSessionNotFound is returned when the order references an unknown session
	ErrSessionNotFound = errors.New("session not found")
	// ErrOrderNotFound is returned for an unknown order id
	ErrOrderNotFound = errors.New("payment order not found")
	// ErrOrderExpired is returned when verifying an order past its ttl
	ErrOrderExpired = errors.New("payment order expired")
	// ErrVerificationFailed is returned when the gateway does not confirm the payment
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrAlreadyVerified is returned when an order was verified with a different transaction
	ErrAlreadyVerified = errors.New("payment order already verified by another transaction")
	// ErrUpstream wraps storage and gateway failures
	ErrUpstream = errors.New("payment upstream failure")
)

// GatewayOrder is what a gateway hands back when an order is opened
type GatewayOrder struct {
	ID     string
	Launch map[string]string
}

// Gateway is one external payment provider
type Gateway interface {
	Method() models.PaymentMethod
	// CreateOrder opens the order with the provider
	CreateOrder(ctx context.Context, order *models.PaymentOrder) (*GatewayOrder, error)
	// TransactionID extracts the provider transaction id from a verify request
	TransactionID(req models.VerifyPaymentRequest) string
	// Verify confirms the payment and returns the provider transaction id.
	// A payment the provider does not confirm is ErrVerificationFailed.
	Verify(ctx context.Context, order *models.PaymentOrder, req models.VerifyPaymentRequest) (string, error)
}

// Orchestrator owns the paymentOrders collection
type Orchestrator struct {
	Orders   databases.PaymentOrderDatabase
	Sessions databases.SessionDatabase
	Currency string
	OrderTTL time.Duration

	gateways map[models.PaymentMethod]Gateway
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator with the given gateways registered
func NewOrchestrator(orders databases.PaymentOrderDatabase, sessions databases.SessionDatabase, currency string, ttl time.Duration, gateways ...Gateway) *Orchestrator {
	o := &Orchestrator{
		Orders:   orders,
		Sessions: sessions,
		Currency: strings.ToUpper(currency),
		OrderTTL: ttl,
		gateways: make(map[models.PaymentMethod]Gateway),
		now:      time.Now,
	}
	for _, g := range gateways {
		o.gateways[g.Method()] = g
	}
	return o
}

// Methods lists the registered payment methods
func (o *Orchestrator) Methods() []models.PaymentMethod {
	methods := make([]models.PaymentMethod, 0, len(o.gateways))
	for m := range o.gateways {
		methods = append(methods, m)
	}
	return methods
}

// CreateOrder validates the request, opens the order with the gateway and
// stores it. The amount is checked before anything else is contacted.
func (o *Orchestrator) CreateOrder(ctx context.Context, req models.CreatePaymentOrderRequest) (*models.PaymentOrderResponse, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	gw, ok := o.gateways[models.PaymentMethod(req.Method)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}
	sessionID, err := primitive.ObjectIDFromHex(req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, req.SessionID)
	}
	if _, err := o.Sessions.FindOne(ctx, bson.M{"_id": sessionID}); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionID)
		}
		return nil, fmt.Errorf("%w: find session: %v", ErrUpstream, err)
	}

	now := o.now().UTC()
	order := &models.PaymentOrder{
		ID:        primitive.NewObjectID(),
		SessionID: sessionID,
		Amount:    req.Amount,
		Currency:  o.Currency,
		Method:    gw.Method(),
		Status:    models.OrderCreated,
		Receipt:   "rcpt_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:20],
		CreatedAt: now,
		UpdatedAt: now,
	}

	opened, err := gw.CreateOrder(ctx, order)
	if err != nil {
		zap.S().Errorw("gateway rejected order", "method", order.Method, "sessionId", req.SessionID, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, order.Method, err)
	}
	order.GatewayOrderID = opened.ID

	if _, err := o.Orders.InsertOne(ctx, order); err != nil {
		return nil, fmt.Errorf("%w: insert order: %v", ErrUpstream, err)
	}

	zap.S().Infow("payment order created",
		"orderId", order.ID.Hex(),
		"sessionId", req.SessionID,
		"method", order.Method,
		"amount", order.Amount)
	return &models.PaymentOrderResponse{
		OrderID: order.ID.Hex(),
		Method:  order.Method,
		Amount:  order.Amount,
		Launch:  opened.Launch,
	}, nil
}

// Get returns a stored order
func (o *Orchestrator) Get(ctx context.Context, orderID string) (*models.PaymentOrder, error) {
	id, err := primitive.ObjectIDFromHex(orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrOrderNotFound, orderID)
	}
	order, err := o.Orders.FindOne(ctx, bson.M{"_id": id})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find order: %v", ErrUpstream, err)
	}
	return order, nil
}

// Verify confirms a payment with the order's gateway and marks the order
// verified. Repeating a verification with the same transaction returns the
// stored order without contacting the gateway again.
func (o *Orchestrator) Verify(ctx context.Context, req models.VerifyPaymentRequest) (*models.PaymentOrder, error) {
	order, err := o.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if req.Method != "" && models.PaymentMethod(req.Method) != order.Method {
		return nil, fmt.Errorf("%w: order was created for %s", ErrVerificationFailed, order.Method)
	}
	gw, ok := o.gateways[order.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, order.Method)
	}

	txn := gw.TransactionID(req)
	switch {
	case order.Status == models.OrderVerified:
		return o.alreadyVerified(order, txn)
	case order.Status == models.OrderExpired, o.expired(order):
		return nil, fmt.Errorf("%w: %s", ErrOrderExpired, req.OrderID)
	}

	txn, err = gw.Verify(ctx, order, req)
	if err != nil {
		if errors.Is(err, ErrVerificationFailed) {
			zap.S().Warnw("payment verification failed", "orderId", req.OrderID, "method", order.Method, "error", err)
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, order.Method, err)
	}

	now := o.now().UTC()
	filter := bson.M{"_id": order.ID, "status": models.OrderCreated}
	update := bson.M{"$set": bson.M{
		"status":        models.OrderVerified,
		"transactionId": txn,
		"verifiedAt":    now,
		"updatedAt":     now,
	}}
	updated, err := o.Orders.UpdateOne(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// a concurrent verify or the expiry job got there first
		latest, gerr := o.Get(ctx, req.OrderID)
		if gerr != nil {
			return nil, gerr
		}
		if latest.Status == models.OrderVerified {
			return o.alreadyVerified(latest, txn)
		}
		return nil, fmt.Errorf("%w: %s", ErrOrderExpired, req.OrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update order: %v", ErrUpstream, err)
	}

	zap.S().Infow("payment verified", "orderId", req.OrderID, "method", order.Method, "transactionId", txn)
	return updated, nil
}

func (o *Orchestrator) alreadyVerified(order *models.PaymentOrder, txn string) (*models.PaymentOrder, error) {
	if txn != "" && txn == order.TransactionID {
		return order, nil
	}
	return nil, ErrAlreadyVerified
}

func (o *Orchestrator) expired(order *models.PaymentOrder) bool {
	return o.OrderTTL > 0 && o.now().After(order.CreatedAt.Add(o.OrderTTL))
}

// ExpireStale marks every created order older than the ttl as expired and
// returns how many were changed.
func (o *Orchestrator) ExpireStale(ctx context.Context) (int64, error) {
	if o.OrderTTL <= 0 {
		return 0, nil
	}
	now := o.now().UTC()
	filter := bson.M{"status": models.OrderCreated, "createdAt": bson.M{"$lt": now.Add(-o.OrderTTL)}}
	update := bson.M{"$set": bson.M{"status": models.OrderExpired, "updatedAt": now}}
	n, err := o.Orders.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("%w: expire orders: %v", ErrUpstream, err)
	}
	return n, nil
}
