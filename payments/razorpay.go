package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/linesmerrill/haven-api/models"
)

const razorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayGateway opens orders through the Razorpay orders API and checks
// the checkout signature locally.
type RazorpayGateway struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

// NewRazorpayGateway creates a gateway for the given key pair
func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   razorpayBaseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

type razorpayOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// Method implements Gateway
func (g *RazorpayGateway) Method() models.PaymentMethod { return models.MethodRazorpay }

// CreateOrder implements Gateway
func (g *RazorpayGateway) CreateOrder(ctx context.Context, order *models.PaymentOrder) (*GatewayOrder, error) {
	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   order.Amount,
		Currency: order.Currency,
		Receipt:  order.Receipt,
		Notes: map[string]string{
			"orderId":   order.ID.Hex(),
			"sessionId": order.SessionID.Hex(),
		},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var rerr razorpayError
		_ = json.Unmarshal(raw, &rerr)
		return nil, fmt.Errorf("razorpay: %d %s %s", resp.StatusCode, rerr.Error.Code, rerr.Error.Description)
	}
	var created razorpayOrder
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("razorpay: decode order: %w", err)
	}
	return &GatewayOrder{
		ID: created.ID,
		Launch: map[string]string{
			"keyId":           g.keyID,
			"razorpayOrderId": created.ID,
			"amount":          strconv.FormatInt(order.Amount, 10),
			"currency":        order.Currency,
		},
	}, nil
}

// TransactionID implements Gateway
func (g *RazorpayGateway) TransactionID(req models.VerifyPaymentRequest) string {
	return req.RazorpayPaymentID
}

// Verify checks the checkout signature, hex(HMAC-SHA256(order_id|payment_id))
func (g *RazorpayGateway) Verify(_ context.Context, order *models.PaymentOrder, req models.VerifyPaymentRequest) (string, error) {
	if req.RazorpayOrderID == "" || req.RazorpayOrderID != order.GatewayOrderID {
		return "", fmt.Errorf("%w: razorpay order does not belong to this order", ErrVerificationFailed)
	}
	if req.RazorpayPaymentID == "" || req.RazorpaySignature == "" {
		return "", fmt.Errorf("%w: missing payment id or signature", ErrVerificationFailed)
	}
	expected := razorpaySignature(g.keySecret, req.RazorpayOrderID, req.RazorpayPaymentID)
	if !hmac.Equal([]byte(expected), []byte(req.RazorpaySignature)) {
		return "", fmt.Errorf("%w: signature mismatch", ErrVerificationFailed)
	}
	return req.RazorpayPaymentID, nil
}

func razorpaySignature(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
