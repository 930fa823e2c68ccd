package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/linesmerrill/haven-api/api"
	"github.com/linesmerrill/haven-api/config"
	"github.com/linesmerrill/haven-api/models"
)

// PaymentService creates and verifies payment orders
type PaymentService interface {
	CreateOrder(ctx context.Context, req models.CreatePaymentOrderRequest) (*models.PaymentOrderResponse, error)
	Get(ctx context.Context, orderID string) (*models.PaymentOrder, error)
	Verify(ctx context.Context, req models.VerifyPaymentRequest) (*models.PaymentOrder, error)
}

// Payment exists for dependency injection purposes
type Payment struct {
	Orders PaymentService
}

// CreateOrderHandler opens an order with the requested gateway
func (p Payment) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePaymentOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	resp, err := p.Orders.CreateOrder(ctx, req)
	if err != nil {
		writeError("failed to create payment order", w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// VerifyOrderHandler confirms a payment with the gateway. Repeating the same
// verification returns the already verified order.
func (p Payment) VerifyOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyPaymentRequest
	if err := decodeBody(w, r, &req); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	order, err := p.Orders.Verify(ctx, req)
	if err != nil {
		writeError("failed to verify payment", w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// OrderHandler returns the current state of an order
func (p Payment) OrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	order, err := p.Orders.Get(ctx, mux.Vars(r)["order_id"])
	if err != nil {
		writeError("failed to get payment order", w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
