package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is read once at process start and passed down explicitly.
type Config struct {
	Port          string        `validate:"required,numeric"`
	MongoURI      string        `validate:"required"`
	MongoDatabase string        `validate:"required"`
	StoreTimeout  time.Duration `validate:"gt=0"`

	RazorpayKeyID     string        `validate:"required"`
	RazorpayKeySecret string        `validate:"required"`
	RazorpayBaseURL   string        `validate:"required,url"`
	GatewayTimeout    time.Duration `validate:"gt=0"`

	MailTransport   string `validate:"oneof=smtp brevo none"`
	EmailHost       string `validate:"required_if=MailTransport smtp"`
	EmailPort       int    `validate:"required_if=MailTransport smtp"`
	EmailUser       string `validate:"required_unless=MailTransport none"`
	EmailPass       string
	BrevoAPIKey     string `validate:"required_if=MailTransport brevo"`
	EmailSenderName string

	GoogleServiceAccountEmail string
	GooglePrivateKey          string
	GoogleSheetID             string

	AdminUser         string
	AdminPasswordHash string

	StalePendingAfter time.Duration `validate:"gt=0"`
	SweepSchedule     string        `validate:"required"`
}

// SheetsEnabled reports whether all spreadsheet export credentials are present.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleServiceAccountEmail != "" && c.GooglePrivateKey != "" && c.GoogleSheetID != ""
}

// AdminEnabled reports whether the admin listing endpoint can be served.
func (c *Config) AdminEnabled() bool {
	return c.AdminUser != "" && c.AdminPasswordHash != ""
}

// Load reads envFile (if present) into the environment and builds a validated Config.
func Load(envFile string) (*Config, error) {
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("Warning: Error loading %s: %s", envFile, err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, applying defaults.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	gatewayTimeout, err := time.ParseDuration(get("GATEWAY_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: %w", err)
	}
	storeTimeout, err := time.ParseDuration(get("STORE_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_TIMEOUT: %w", err)
	}
	stale, err := time.ParseDuration(get("STALE_PENDING_AFTER", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid STALE_PENDING_AFTER: %w", err)
	}
	emailPort, err := strconv.Atoi(get("EMAIL_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid EMAIL_PORT: %w", err)
	}

	cfg := &Config{
		Port:          get("PORT", "8080"),
		MongoURI:      get("MONGOURI", ""),
		MongoDatabase: get("MONGO_DATABASE", "ngo_donations"),
		StoreTimeout:  storeTimeout,

		RazorpayKeyID:     get("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret: get("RAZORPAY_KEY_SECRET", ""),
		RazorpayBaseURL:   strings.TrimRight(get("RAZORPAY_BASE_URL", "https://api.razorpay.com/v1"), "/"),
		GatewayTimeout:    gatewayTimeout,

		MailTransport:   strings.ToLower(get("MAIL_TRANSPORT", "smtp")),
		EmailHost:       get("EMAIL_HOST", ""),
		EmailPort:       emailPort,
		EmailUser:       get("EMAIL_USER", ""),
		EmailPass:       get("EMAIL_PASS", ""),
		BrevoAPIKey:     get("BREVO_API_KEY", ""),
		EmailSenderName: get("EMAIL_SENDER_NAME", "Donations"),

		GoogleServiceAccountEmail: get("GOOGLE_SERVICE_ACCOUNT_EMAIL", ""),
		// keys pasted into .env files carry literal \n sequences
		GooglePrivateKey: strings.ReplaceAll(get("GOOGLE_PRIVATE_KEY", ""), `\n`, "\n"),
		GoogleSheetID:    get("GOOGLE_SHEET_ID", ""),

		AdminUser:         get("ADMIN_USER", ""),
		AdminPasswordHash: get("ADMIN_PASSWORD_HASH", ""),

		StalePendingAfter: stale,
		SweepSchedule:     get("SWEEP_SCHEDULE", "@hourly"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
