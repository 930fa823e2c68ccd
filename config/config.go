package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/linesmerrill/haven-api/logging"
	"github.com/linesmerrill/haven-api/models"
)

// Config holds the project config values
type Config struct {
	URL          string
	DatabaseName string
	BaseURL      string
	Port         string
	Env          string
	JWTSecret    string

	Stripe     StripeConfig
	Razorpay   RazorpayConfig
	UPI        UPIConfig
	Twilio     TwilioConfig
	Alerts     AlertsConfig
	Cloudinary string

	Tunables Tunables
}

// StripeConfig holds the stripe secret
type StripeConfig struct {
	SecretKey string
}

// RazorpayConfig holds the razorpay key pair
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
}

// UPIConfig holds the payee used to build upi deep links
type UPIConfig struct {
	VPA       string
	PayeeName string
}

// TwilioConfig holds the credentials for the phone bridge
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

// AlertsConfig holds the counselor alert channels. Empty values disable a channel.
type AlertsConfig struct {
	SendgridAPIKey   string
	Email            string
	SlackBotToken    string
	SlackChannelID   string
	DiscordBotToken  string
	DiscordChannelID string
}

// Tunables are the non-secret settings that may come from the yaml file
type Tunables struct {
	Relay    RelayTunables   `yaml:"relay"`
	Payments PaymentTunables `yaml:"payments"`
	HTTP     HTTPTunables    `yaml:"http"`
	Digest   DigestTunables  `yaml:"digest"`
}

// RelayTunables configure the realtime relay
type RelayTunables struct {
	RingTimeout    time.Duration `yaml:"ringTimeout"`
	SendBuffer     int           `yaml:"sendBuffer"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
}

// PaymentTunables configure the payment orchestrator
type PaymentTunables struct {
	Currency string        `yaml:"currency"`
	OrderTTL time.Duration `yaml:"orderTTL"`
}

// HTTPTunables configure the http server
type HTTPTunables struct {
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// DigestTunables configure the pending session digest job
type DigestTunables struct {
	PendingAfter time.Duration `yaml:"pendingAfter"`
}

// New sets up all config related services
func New() (*Config, error) {
	// a missing .env is fine, the platform provides real env vars
	_ = godotenv.Load()

	logger, err := logging.New(os.Getenv("ENV"))
	if err != nil {
		return nil, err
	}
	_ = zap.ReplaceGlobals(logger)

	c := &Config{
		URL:          os.Getenv("DB_URI"),
		DatabaseName: os.Getenv("DB_NAME"),
		BaseURL:      os.Getenv("BASE_URL"),
		Port:         os.Getenv("PORT"),
		Env:          os.Getenv("ENV"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		Stripe:       StripeConfig{SecretKey: os.Getenv("STRIPE_SECRET_KEY")},
		Razorpay: RazorpayConfig{
			KeyID:     os.Getenv("RAZORPAY_KEY_ID"),
			KeySecret: os.Getenv("RAZORPAY_KEY_SECRET"),
		},
		UPI: UPIConfig{
			VPA:       os.Getenv("UPI_VPA"),
			PayeeName: os.Getenv("UPI_PAYEE_NAME"),
		},
		Twilio: TwilioConfig{
			AccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
			PhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
		},
		Alerts: AlertsConfig{
			SendgridAPIKey:   os.Getenv("SENDGRID_API_KEY"),
			Email:            os.Getenv("ALERT_EMAIL"),
			SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
			SlackChannelID:   os.Getenv("SLACK_CHANNEL_ID"),
			DiscordBotToken:  os.Getenv("DISCORD_BOT_TOKEN"),
			DiscordChannelID: os.Getenv("DISCORD_CHANNEL_ID"),
		},
		Cloudinary: os.Getenv("CLOUDINARY_URL"),
	}
	if c.Port == "" {
		c.Port = "8080"
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		t, err := LoadTunables(path)
		if err != nil {
			return nil, err
		}
		c.Tunables = *t
	} else {
		c.Tunables.applyDefaults(explicitTunables{})
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadTunables reads the yaml file at path
func LoadTunables(path string) (*Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseTunables(data)
}

// ParseTunables unmarshals yaml bytes and fills in defaults
func ParseTunables(data []byte) (*Tunables, error) {
	var t Tunables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	// an explicit 0 disables the ring timeout or order expiry, so only
	// absent keys are defaulted
	var set explicitTunables
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	t.applyDefaults(set)
	if t.Relay.RingTimeout < 0 {
		return nil, fmt.Errorf("config: relay.ringTimeout must not be negative")
	}
	return &t, nil
}

// explicitTunables records which zero-meaningful keys the yaml set
type explicitTunables struct {
	Relay struct {
		RingTimeout *time.Duration `yaml:"ringTimeout"`
	} `yaml:"relay"`
	Payments struct {
		OrderTTL *time.Duration `yaml:"orderTTL"`
	} `yaml:"payments"`
}

func (t *Tunables) applyDefaults(set explicitTunables) {
	if set.Relay.RingTimeout == nil && t.Relay.RingTimeout == 0 {
		t.Relay.RingTimeout = 45 * time.Second
	}
	if t.Relay.SendBuffer == 0 {
		t.Relay.SendBuffer = 256
	}
	if t.Payments.Currency == "" {
		t.Payments.Currency = "INR"
	}
	if set.Payments.OrderTTL == nil && t.Payments.OrderTTL == 0 {
		t.Payments.OrderTTL = 24 * time.Hour
	}
	if t.HTTP.RequestTimeout == 0 {
		t.HTTP.RequestTimeout = 30 * time.Second
	}
	if t.Digest.PendingAfter == 0 {
		t.Digest.PendingAfter = 15 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: DB_URI is required")
	}
	if c.DatabaseName == "" {
		return fmt.Errorf("config: DB_NAME is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	return nil
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().With(err).Error(message)
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	b, _ := json.Marshal(models.ErrorMessageResponse{
		Response: models.MessageError{Message: message, Error: errText},
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	w.Write(b)
}
