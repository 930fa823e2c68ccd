// Package docs Haven API.
//
// Documentation of the Haven support session API.
//
//     Schemes: https
//     BasePath: /
//     Version: 1.0.0
//
//     Consumes:
//     - application/json
//
//     Produces:
//     - application/json
//
//     Security:
//     - basic
//     - bearer
//
//    SecurityDefinitions:
//    basic:
//      type: basic
//    bearer:
//      type: apiKey
//      name: Authorization
//      in: header
//
// swagger:meta
package docs

import (
	"github.com/linesmerrill/haven-api/models"
)

// swagger:route GET /health health healthEndpointID
// Lists the healthchex of the web service api.
// responses:
//   200: healthResponse

// Shows the current health of the api. true means it is alive, false means it is not.
// swagger:response healthResponse
type healthResponseWrapper struct {
	// in:body
	Body models.HealthCheckResponse
}

// swagger:route POST /api/v1/auth/token auth createToken
// Exchanges counselor basic credentials for a bearer token.
// responses:
//   200: tokenResponse

// A bearer token for the admin routes and the relay.
// swagger:response tokenResponse
type tokenResponseWrapper struct {
	// in:body
	Body models.TokenResponse
}

// swagger:parameters createSession
type createSessionParamsWrapper struct {
	// in:body
	Body models.CreateSessionRequest
}

// swagger:route POST /api/v1/sessions sessions createSession
// Opens a new pending support session.
// responses:
//   201: createSessionResponse

// The id of the new session.
// swagger:response createSessionResponse
type createSessionResponseWrapper struct {
	// in:body
	Body models.CreateSessionResponse
}

// swagger:route GET /api/v1/sessions/{session_id} sessions sessionByID
// Gets a single session with its transcript in sentAt order.
// responses:
//   200: sessionResponse

// A single session.
// swagger:response sessionResponse
type sessionResponseWrapper struct {
	// in:body
	Body models.Session
}

// swagger:route GET /api/v1/sessions sessions listSessions
// Lists sessions newest first. The total is sent in X-Total-Count.
// responses:
//   200: sessionsResponse

// A page of sessions.
// swagger:response sessionsResponse
type sessionsResponseWrapper struct {
	// in:body
	Body []models.Session
}

// swagger:parameters createPaymentOrder
type createPaymentOrderParamsWrapper struct {
	// in:body
	Body models.CreatePaymentOrderRequest
}

// swagger:route POST /api/v1/payment-orders payments createPaymentOrder
// Opens a payment order with the requested gateway.
// responses:
//   201: paymentOrderResponse

// The gateway specific launch data.
// swagger:response paymentOrderResponse
type paymentOrderResponseWrapper struct {
	// in:body
	Body models.PaymentOrderResponse
}

// swagger:route POST /api/v1/uploads/signature uploads uploadSignature
// Signs a direct media upload.
// responses:
//   200: uploadSignatureResponse

// Signed upload parameters.
// swagger:response uploadSignatureResponse
type uploadSignatureResponseWrapper struct {
	// in:body
	Body models.UploadSignatureResponse
}

// Returned on every failed request.
// swagger:response errorResponse
type errorResponseWrapper struct {
	// in:body
	Body models.ErrorMessageResponse
}
