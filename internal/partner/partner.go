// Package partner forwards new bookings to external vendor systems. Every
// forward is best effort; callers log failures and carry on.
package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/servicebook/internal/booking/domain"
)

const (
	defaultTimeout = 15 * time.Second
	sourceName     = "customer-backend"
)

var forwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "partner_forwards_total",
	Help: "New-booking forwards to partner systems grouped by partner and outcome.",
}, []string{"partner", "result"})

// NewBooking is the payload partners receive. Some partners read orderId or
// serviceType, so those mirror bookingId and service.
type NewBooking struct {
	OrderID        int64           `json:"orderId"`
	BookingID      int64           `json:"bookingId"`
	CustomerID     string          `json:"customerId"`
	CustomerName   string          `json:"customerName"`
	CustomerPhone  string          `json:"customerPhone"`
	Service        string          `json:"service"`
	ServiceType    string          `json:"serviceType"`
	JobDescription string          `json:"jobDescription"`
	Date           string          `json:"date"`
	Time           string          `json:"time"`
	Location       domain.Location `json:"location"`
	Status         domain.Status   `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	// Set only on forwards to the matched vendor's backend.
	VendorID   string  `json:"vendorId,omitempty"`
	DistanceKm float64 `json:"distance,omitempty"`
}

// FromBooking builds the payload for a freshly created booking.
func FromBooking(b domain.Booking, customerName, customerPhone string) NewBooking {
	return NewBooking{
		OrderID:        b.ID,
		BookingID:      b.ID,
		CustomerID:     b.CustomerID,
		CustomerName:   customerName,
		CustomerPhone:  customerPhone,
		Service:        b.Service,
		ServiceType:    b.Service,
		JobDescription: b.JobDescription,
		Date:           b.Date,
		Time:           b.Time,
		Location:       b.Location,
		Status:         b.Status,
		CreatedAt:      b.CreatedAt,
	}
}

type Forwarder interface {
	Name() string
	Forward(ctx context.Context, booking NewBooking) error
}

// HTTPConfig describes a webhook partner.
type HTTPConfig struct {
	Name string
	URL  string
	// SecretHeader carries Secret when both are set, e.g. X-API-Key.
	SecretHeader string
	Secret       string
	Timeout      time.Duration
}

// HTTPForwarder POSTs the booking as JSON.
type HTTPForwarder struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPForwarder(cfg HTTPConfig) *HTTPForwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "webhook"
	}
	return &HTTPForwarder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (f *HTTPForwarder) Name() string { return f.cfg.Name }

func (f *HTTPForwarder) Forward(ctx context.Context, booking NewBooking) error {
	body, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("marshal booking: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Source", sourceName)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if f.cfg.SecretHeader != "" && f.cfg.Secret != "" {
		req.Header.Set(f.cfg.SecretHeader, f.cfg.Secret)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		forwardsTotal.WithLabelValues(f.cfg.Name, "error").Inc()
		return fmt.Errorf("post %s: %w", f.cfg.Name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= http.StatusBadRequest {
		forwardsTotal.WithLabelValues(f.cfg.Name, "rejected").Inc()
		return fmt.Errorf("%s responded %d", f.cfg.Name, resp.StatusCode)
	}
	forwardsTotal.WithLabelValues(f.cfg.Name, "ok").Inc()
	return nil
}
