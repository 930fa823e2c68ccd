package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"github.com/linesmerrill/haven-api/models"
)

// intentAPI is the slice of the stripe PaymentIntents API the gateway uses
type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeIntents struct{}

func (stripeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.New(params)
}

func (stripeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Get(id, params)
}

// StripeGateway takes card payments through PaymentIntents
type StripeGateway struct {
	intents intentAPI
}

// NewStripeGateway sets the stripe key and returns a gateway using it
func NewStripeGateway(secretKey string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{intents: stripeIntents{}}
}

// Method implements Gateway
func (g *StripeGateway) Method() models.PaymentMethod { return models.MethodStripe }

// CreateOrder opens a PaymentIntent; the client confirms it with the secret
func (g *StripeGateway) CreateOrder(ctx context.Context, order *models.PaymentOrder) (*GatewayOrder, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(order.Amount),
		Currency: stripe.String(strings.ToLower(order.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("orderId", order.ID.Hex())
	params.AddMetadata("sessionId", order.SessionID.Hex())
	params.AddMetadata("receipt", order.Receipt)

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, err
	}
	return &GatewayOrder{
		ID: pi.ID,
		Launch: map[string]string{
			"clientSecret":    pi.ClientSecret,
			"paymentIntentId": pi.ID,
		},
	}, nil
}

// TransactionID implements Gateway
func (g *StripeGateway) TransactionID(req models.VerifyPaymentRequest) string {
	return req.PaymentIntentID
}

// Verify re-reads the PaymentIntent and requires it succeeded for the full amount
func (g *StripeGateway) Verify(ctx context.Context, order *models.PaymentOrder, req models.VerifyPaymentRequest) (string, error) {
	if req.PaymentIntentID == "" || req.PaymentIntentID != order.GatewayOrderID {
		return "", fmt.Errorf("%w: payment intent does not belong to this order", ErrVerificationFailed)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.intents.Get(req.PaymentIntentID, params)
	if err != nil {
		return "", err
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", fmt.Errorf("%w: payment intent is %s", ErrVerificationFailed, pi.Status)
	}
	if pi.Amount != order.Amount {
		return "", fmt.Errorf("%w: charged %d, expected %d", ErrVerificationFailed, pi.Amount, order.Amount)
	}
	return pi.ID, nil
}
