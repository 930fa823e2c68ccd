package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/linesmerrill/haven-api/alerts"
	"github.com/linesmerrill/haven-api/api"
	"github.com/linesmerrill/haven-api/api/scheduler"
	"github.com/linesmerrill/haven-api/chat"
	"github.com/linesmerrill/haven-api/config"
	"github.com/linesmerrill/haven-api/databases"
	"github.com/linesmerrill/haven-api/lifecycle"
	"github.com/linesmerrill/haven-api/models"
	"github.com/linesmerrill/haven-api/payments"
	"github.com/linesmerrill/haven-api/relay"
	"github.com/linesmerrill/haven-api/signaling"
	"github.com/linesmerrill/haven-api/telephony"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router    *mux.Router
	Config    config.Config
	Metrics   *api.MetricsCollector
	Alerts    *alerts.Dispatcher
	Scheduler *scheduler.Scheduler

	client   databases.ClientHelper
	dbHelper databases.DatabaseHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	t := a.Config.Tunables
	sessions := databases.NewSessionDatabase(a.dbHelper)
	orders := databases.NewPaymentOrderDatabase(a.dbHelper)

	// setup go-guardian for middleware
	m := api.NewMiddlewareDB(databases.NewAdminDatabase(a.dbHelper), a.Config.JWTSecret)

	hub := relay.NewHub(t.Relay.SendBuffer)
	events := relay.NewRouter(hub)
	coordinator := signaling.NewCoordinator(hub, nil, nil, m, t.Relay.RingTimeout)
	lc := lifecycle.NewManager(sessions, coordinator)
	chatService := chat.NewService(sessions, lc, coordinator)
	coordinator.SetLifecycle(lc)
	coordinator.SetChat(chatService)
	coordinator.Register(events)

	if a.Alerts == nil {
		a.Alerts = newDispatcher(a.Config)
	}
	if a.Metrics == nil {
		a.Metrics = api.NewMetricsCollector(10000, time.Hour)
	}

	orchestrator := payments.NewOrchestrator(orders, sessions, t.Payments.Currency, t.Payments.OrderTTL, gateways(a.Config)...)
	a.Scheduler = scheduler.New(orchestrator, sessions, a.Alerts, databases.NewSchedulerLockDatabase(a.dbHelper), t.Digest.PendingAfter)

	s := Session{
		DB:         sessions,
		Lifecycle:  lc,
		Chat:       chatService,
		Announcers: []SessionAnnouncer{coordinator, a.Alerts},
	}
	wh := Webhook{BaseURL: a.Config.BaseURL}
	if tw := a.Config.Twilio; tw.AccountSID != "" && tw.AuthToken != "" && tw.PhoneNumber != "" {
		bridge := telephony.NewBridge(tw.AccountSID, tw.AuthToken, tw.PhoneNumber, a.Config.BaseURL, lc)
		s.Phone = bridge
		wh.Twilio = bridge
	} else {
		zap.S().Warn("twilio is not configured, the phone bridge is disabled")
	}
	p := Payment{Orders: orchestrator}
	up, err := NewUpload(a.Config.Cloudinary)
	if err != nil {
		zap.S().Warnw("media uploads disabled", "error", err)
	}
	mt := Metrics{Collector: a.Metrics, Relay: hub}

	r := mux.NewRouter()
	r.Use(api.MetricsMiddleware(a.Metrics))
	if t.HTTP.RequestTimeout > 0 {
		r.Use(api.TimeoutMiddleware(t.HTTP.RequestTimeout))
	}

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)
	r.Handle("/ws", relay.NewServer(hub, events, m, t.Relay.AllowedOrigins))
	r.Handle(telephony.CallbackPath, http.HandlerFunc(wh.TwilioCallStatusHandler)).Methods("POST")

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	apiCreate.Handle("/auth/token", http.HandlerFunc(m.CreateToken)).Methods("POST")
	apiCreate.Handle("/auth/logout", m.Middleware(http.HandlerFunc(m.RevokeToken))).Methods("DELETE")

	apiCreate.Handle("/sessions", http.HandlerFunc(s.CreateSessionHandler)).Methods("POST")
	apiCreate.Handle("/sessions", m.Middleware(http.HandlerFunc(s.ListSessionsHandler))).Methods("GET")
	apiCreate.Handle("/sessions/{session_id}", http.HandlerFunc(s.SessionHandler)).Methods("GET")
	apiCreate.Handle("/sessions/{session_id}/status", m.OptionalAuth(http.HandlerFunc(s.UpdateStatusHandler))).Methods("PATCH")
	apiCreate.Handle("/sessions/{session_id}/meeting-links", http.HandlerFunc(s.UpdateMeetingLinksHandler)).Methods("PATCH")
	apiCreate.Handle("/sessions/{session_id}/messages", m.OptionalAuth(http.HandlerFunc(s.SendMessageHandler))).Methods("POST")
	apiCreate.Handle("/sessions/{session_id}/rating", http.HandlerFunc(s.RateSessionHandler)).Methods("POST")
	apiCreate.Handle("/sessions/{session_id}/phone-call", m.Middleware(http.HandlerFunc(s.PhoneCallHandler))).Methods("POST")

	apiCreate.Handle("/payment-orders", http.HandlerFunc(p.CreateOrderHandler)).Methods("POST")
	apiCreate.Handle("/payment-orders/verify", http.HandlerFunc(p.VerifyOrderHandler)).Methods("POST")
	apiCreate.Handle("/payment-orders/{order_id}", http.HandlerFunc(p.OrderHandler)).Methods("GET")

	apiCreate.Handle("/uploads/signature", http.HandlerFunc(up.SignatureHandler)).Methods("POST")
	apiCreate.Handle("/metrics/summary", m.Middleware(http.HandlerFunc(mt.SummaryHandler))).Methods("GET")

	return r
}

// gateways registers every payment gateway whose credentials are present
func gateways(c config.Config) []payments.Gateway {
	var gws []payments.Gateway
	if c.Stripe.SecretKey != "" {
		gws = append(gws, payments.NewStripeGateway(c.Stripe.SecretKey))
	} else {
		zap.S().Warn("stripe is not configured")
	}
	if c.Razorpay.KeyID != "" && c.Razorpay.KeySecret != "" {
		gws = append(gws, payments.NewRazorpayGateway(c.Razorpay.KeyID, c.Razorpay.KeySecret))
	} else {
		zap.S().Warn("razorpay is not configured")
	}
	if c.UPI.VPA != "" {
		gws = append(gws, payments.NewUPIGateway(c.UPI.VPA, c.UPI.PayeeName))
	} else {
		zap.S().Warn("upi is not configured")
	}
	return gws
}

// newDispatcher builds the counselor alert channels that have credentials
func newDispatcher(c config.Config) *alerts.Dispatcher {
	var channels []alerts.Channel
	al := c.Alerts
	if al.SendgridAPIKey != "" && al.Email != "" {
		channels = append(channels, alerts.NewEmail(al.SendgridAPIKey, al.Email))
	}
	if al.SlackBotToken != "" && al.SlackChannelID != "" {
		channels = append(channels, alerts.NewSlack(al.SlackBotToken, al.SlackChannelID))
	}
	if al.DiscordBotToken != "" && al.DiscordChannelID != "" {
		d, err := alerts.NewDiscord(al.DiscordBotToken, al.DiscordChannelID)
		if err != nil {
			zap.S().Warnw("discord alerts disabled", "error", err)
		} else {
			channels = append(channels, d)
		}
	}
	if len(channels) == 0 {
		zap.S().Warn("no counselor alert channels are configured")
	}
	return alerts.NewDispatcher(c.BaseURL, channels...)
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize(ctx context.Context) error {
	client, err := databases.NewClient(&a.Config)
	if err != nil {
		zap.S().With(err).Error("failed to create new client")
		return err
	}
	if err := client.Connect(ctx); err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	a.client = client
	a.dbHelper = databases.NewDatabase(&a.Config, client)
	zap.S().Info("haven-api has connected to the database")

	a.initializeRoutes()
	return nil
}

// Close disconnects from the database
func (a *App) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthCheckResponse{Alive: true})
}
