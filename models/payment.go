package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PaymentMethod names the gateway an order is created against
type PaymentMethod string

// Supported payment methods
const (
	MethodStripe   PaymentMethod = "stripe"
	MethodRazorpay PaymentMethod = "razorpay"
	MethodUPI      PaymentMethod = "upi"
)

// PaymentOrderStatus is the state of a PaymentOrder
type PaymentOrderStatus string

// Payment order states
const (
	OrderCreated  PaymentOrderStatus = "created"
	OrderVerified PaymentOrderStatus = "verified"
	OrderExpired  PaymentOrderStatus = "expired"
)

// PaymentOrder holds the structure for the paymentOrders collection in mongo
type PaymentOrder struct {
	ID             primitive.ObjectID `json:"id" bson:"_id"`
	SessionID      primitive.ObjectID `json:"sessionId" bson:"sessionId"`
	Amount         int64              `json:"amount" bson:"amount"`
	Currency       string             `json:"currency" bson:"currency"`
	Method         PaymentMethod      `json:"method" bson:"method"`
	Status         PaymentOrderStatus `json:"status" bson:"status"`
	GatewayOrderID string             `json:"gatewayOrderId" bson:"gatewayOrderId"`
	TransactionID  string             `json:"transactionId,omitempty" bson:"transactionId,omitempty"`
	Receipt        string             `json:"receipt" bson:"receipt"`
	CreatedAt      time.Time          `json:"createdAt" bson:"createdAt"`
	VerifiedAt     *time.Time         `json:"verifiedAt,omitempty" bson:"verifiedAt,omitempty"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// CreatePaymentOrderRequest is the body of POST /payment-orders. Amount is in
// the smallest currency unit.
type CreatePaymentOrderRequest struct {
	SessionID string `json:"sessionId"`
	Amount    int64  `json:"amount"`
	Method    string `json:"method"`
}

// PaymentOrderResponse carries the gateway specific launch data back to the client
type PaymentOrderResponse struct {
	OrderID string            `json:"orderId"`
	Method  PaymentMethod     `json:"method"`
	Amount  int64             `json:"amount"`
	Launch  map[string]string `json:"launch"`
}

// VerifyPaymentRequest is the body of POST /payment-orders/verify. Which
// fields are required depends on the method.
type VerifyPaymentRequest struct {
	OrderID           string `json:"orderId"`
	Method            string `json:"method"`
	PaymentIntentID   string `json:"paymentIntentId,omitempty"`
	RazorpayOrderID   string `json:"razorpay_order_id,omitempty"`
	RazorpayPaymentID string `json:"razorpay_payment_id,omitempty"`
	RazorpaySignature string `json:"razorpay_signature,omitempty"`
	UPITransactionRef string `json:"upiTransactionRef,omitempty"`
}
