// Package config loads service settings from the environment. A .env file in
// the working directory is read first when present; real environment
// variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/example/servicebook/internal/firebaseapp"
)

// Common settings shared by every binary.
type Common struct {
	RedisAddr    string `envconfig:"REDIS_ADDR"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogService   string `envconfig:"SERVICE_NAME"`
}

// Booking configures cmd/bookingservice.
type Booking struct {
	Common

	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	NATSURL     string `envconfig:"NATS_URL"`
	EventPrefix string `envconfig:"EVENT_SUBJECT_PREFIX" default:"bookings"`

	JWTSecret    string        `envconfig:"JWT_SECRET"`
	JWTTTL       time.Duration `envconfig:"JWT_TTL" default:"24h"`
	VendorSecret string        `envconfig:"VENDOR_SECRET"`

	MaxDistanceKm       float64       `envconfig:"MAX_DISTANCE_KM" default:"50"`
	StillSearchingAfter time.Duration `envconfig:"STILL_SEARCHING_AFTER" default:"60s"`
	ReservationTTL      time.Duration `envconfig:"RESERVATION_TTL" default:"2m"`
	OTPTTL              time.Duration `envconfig:"OTP_TTL" default:"5m"`
	IdempotencyTTL      time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	PartnerWebhookURL    string        `envconfig:"PARTNER_WEBHOOK_URL"`
	PartnerWebhookHeader string        `envconfig:"PARTNER_WEBHOOK_HEADER" default:"X-API-Key"`
	PartnerWebhookSecret string        `envconfig:"PARTNER_WEBHOOK_SECRET"`
	VendorBackendURL     string        `envconfig:"VENDOR_BACKEND_URL"`
	VendorBackendSecret  string        `envconfig:"VENDOR_BACKEND_SECRET"`
	PartnerTimeout       time.Duration `envconfig:"PARTNER_TIMEOUT" default:"15s"`
	RabbitURL            string        `envconfig:"RABBIT_URL"`
	PartnerExchange      string        `envconfig:"PARTNER_EXCHANGE" default:"booking.exchange"`

	OutboxPoll  time.Duration `envconfig:"OUTBOX_POLL" default:"200ms"`
	OutboxBatch int           `envconfig:"OUTBOX_BATCH" default:"100"`
	OutboxRetry int           `envconfig:"OUTBOX_RETRY_MAX" default:"3"`

	Firebase     firebaseapp.Config `envconfig:"FIREBASE"`
	PresenceNode string             `envconfig:"PRESENCE_NODE" default:"vendor_presence"`
}

// Presence configures cmd/presenceservice.
type Presence struct {
	Common

	HTTPAddr     string             `envconfig:"HTTP_ADDR" default:":8081"`
	GRPCAddr     string             `envconfig:"GRPC_ADDR" default:":9090"`
	MapsAPIKey   string             `envconfig:"GOOGLE_MAPS_API_KEY"`
	Firebase     firebaseapp.Config `envconfig:"FIREBASE"`
	PresenceNode string             `envconfig:"PRESENCE_NODE" default:"vendor_presence"`
}

// Gateway configures cmd/apigateway.
type Gateway struct {
	Common

	HTTPAddr        string  `envconfig:"HTTP_ADDR" default:":8000"`
	BookingURL      string  `envconfig:"BOOKING_SERVICE_URL" default:"http://localhost:8080"`
	PresenceURL     string  `envconfig:"PRESENCE_SERVICE_URL" default:"http://localhost:8081"`
	ReadRate        float64 `envconfig:"RATE_LIMIT_READ_RPS" default:"20"`
	ReadBurst       float64 `envconfig:"RATE_LIMIT_READ_BURST" default:"40"`
	WriteRate       float64 `envconfig:"RATE_LIMIT_WRITE_RPS" default:"5"`
	WriteBurst      float64 `envconfig:"RATE_LIMIT_WRITE_BURST" default:"10"`
	BookingRate     float64 `envconfig:"RATE_LIMIT_BOOKING_RPS" default:"0.2"`
	BookingBurst    float64 `envconfig:"RATE_LIMIT_BOOKING_BURST" default:"3"`
	ProxyTimeoutSec int     `envconfig:"PROXY_TIMEOUT_SEC" default:"30"`
}

// Load fills cfg from the environment after reading the optional dotenv files.
func Load(cfg any, dotenv ...string) error {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load dotenv: %w", err)
	}
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("process env: %w", err)
	}
	return nil
}
