package payments

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/linesmerrill/haven-api/models"
)

// utrPattern matches the reference numbers UPI apps show after a transfer
var utrPattern = regexp.MustCompile(`^[A-Za-z0-9]{8,35}$`)

// UPIGateway hands out upi:// deep links. UPI has no server side status
// lookup here, so verification records the reference the payer reports.
type UPIGateway struct {
	vpa       string
	payeeName string
}

// NewUPIGateway creates a gateway paying into vpa
func NewUPIGateway(vpa, payeeName string) *UPIGateway {
	return &UPIGateway{vpa: vpa, payeeName: payeeName}
}

// Method implements Gateway
func (g *UPIGateway) Method() models.PaymentMethod { return models.MethodUPI }

// CreateOrder builds the deep link; the receipt doubles as the order reference
func (g *UPIGateway) CreateOrder(_ context.Context, order *models.PaymentOrder) (*GatewayOrder, error) {
	q := url.Values{}
	q.Set("pa", g.vpa)
	q.Set("pn", g.payeeName)
	q.Set("am", formatMinorUnits(order.Amount))
	q.Set("cu", order.Currency)
	q.Set("tr", order.Receipt)
	q.Set("tn", "Session "+order.SessionID.Hex())
	link := url.URL{Scheme: "upi", Host: "pay", RawQuery: q.Encode()}
	return &GatewayOrder{
		ID: order.Receipt,
		Launch: map[string]string{
			"deepLink": link.String(),
			"vpa":      g.vpa,
		},
	}, nil
}

// TransactionID implements Gateway
func (g *UPIGateway) TransactionID(req models.VerifyPaymentRequest) string {
	return req.UPITransactionRef
}

// Verify implements Gateway
func (g *UPIGateway) Verify(_ context.Context, _ *models.PaymentOrder, req models.VerifyPaymentRequest) (string, error) {
	if !utrPattern.MatchString(req.UPITransactionRef) {
		return "", fmt.Errorf("%w: invalid upi transaction reference", ErrVerificationFailed)
	}
	return req.UPITransactionRef, nil
}

// formatMinorUnits renders paise as rupees with two decimals
func formatMinorUnits(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}
