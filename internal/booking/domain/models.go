package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/servicebook/internal/geo"
	"github.com/example/servicebook/internal/presence"
	"github.com/example/servicebook/internal/vendor"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusEnRoute   Status = "enroute"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound  = errors.New("booking not found")
	ErrForbidden = errors.New("not permitted to act on this booking")
	// ErrConflict is wrapped by every error caused by the booking's current state.
	ErrConflict          = errors.New("booking conflict")
	ErrInvalidTransition = fmt.Errorf("%w: invalid booking state transition", ErrConflict)
	ErrStaleBooking      = fmt.Errorf("%w: booking was modified concurrently", ErrConflict)
	ErrUnknownStatus     = errors.New("unknown booking status")
)

var allowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted: {StatusEnRoute, StatusCompleted, StatusCancelled},
	StatusEnRoute:  {StatusCompleted, StatusCancelled},
	StatusRejected: {StatusPending, StatusCancelled},
}

// ParseStatus accepts any letter case.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusAccepted, StatusRejected, StatusEnRoute, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", ErrUnknownStatus
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Location is where the service is requested.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

func (l Location) Point() geo.Point {
	return geo.Point{Lat: l.Latitude, Lng: l.Longitude}
}

// ExternalVendor is set when a partner vendor system claims the booking.
type ExternalVendor struct {
	VendorID      string    `json:"vendorId"`
	VendorName    string    `json:"vendorName"`
	VendorPhone   string    `json:"vendorPhone"`
	VendorAddress string    `json:"vendorAddress"`
	ServiceType   string    `json:"serviceType"`
	AssignedAt    time.Time `json:"assignedAt"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// Booking is one service request and its lifecycle.
//
// VendorID and DistanceKm are set together. OTP is set once the booking has
// been accepted.
type Booking struct {
	ID              int64           `json:"bookingId"`
	CustomerID      string          `json:"customerId"`
	VendorID        *string         `json:"vendorId"`
	Service         string          `json:"service"`
	JobDescription  string          `json:"jobDescription"`
	Date            string          `json:"date"`
	Time            string          `json:"time"`
	Location        Location        `json:"location"`
	Status          Status          `json:"status"`
	OTP             *int            `json:"otp"`
	DistanceKm      *float64        `json:"distanceKm"`
	ExternalVendor  *ExternalVendor `json:"externalVendor,omitempty"`
	RejectedBy      []string        `json:"rejectedBy,omitempty"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Version         int64           `json:"version"`
}

// AssignedTo reports whether vendorID is the assigned vendor.
func (b Booking) AssignedTo(vendorID string) bool {
	return b.VendorID != nil && *b.VendorID == vendorID
}

// AssignVendor records a match result.
func (b *Booking) AssignVendor(vendorID string, distanceKm float64) {
	b.VendorID = &vendorID
	b.DistanceKm = &distanceKm
}

// Reassign moves a rejected or unassigned booking back to pending with a new vendor.
func (b *Booking) Reassign(vendorID string, distanceKm float64, now time.Time) error {
	switch {
	case b.Status == StatusRejected:
	case b.Status == StatusPending && b.VendorID == nil:
	default:
		return ErrInvalidTransition
	}
	b.Status = StatusPending
	b.RejectionReason = ""
	b.AssignVendor(vendorID, distanceKm)
	b.UpdatedAt = now
	return nil
}

// Apply validates and performs a status change.
func (b *Booking) Apply(change StatusChange, now time.Time) error {
	next := change.Status()
	if !b.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	switch c := change.(type) {
	case Accepted:
		otp := c.OTP
		b.OTP = &otp
	case Rejected:
		b.RejectionReason = c.Reason
		if b.VendorID != nil {
			b.RejectedBy = append(b.RejectedBy, *b.VendorID)
		}
	case EnRoute, Completed, Cancelled:
	}
	b.Status = next
	b.UpdatedAt = now
	return nil
}

// StatusChange is a closed set of lifecycle transitions with their payload.
type StatusChange interface {
	Status() Status
	isStatusChange()
}

type Accepted struct{ OTP int }

type Rejected struct{ Reason string }

type EnRoute struct{}

type Completed struct{}

// CancelActor identifies who cancelled.
type CancelActor string

const (
	CancelledByCustomer CancelActor = "customer"
	CancelledByVendor   CancelActor = "vendor"
)

type Cancelled struct{ By CancelActor }

func (Accepted) Status() Status  { return StatusAccepted }
func (Rejected) Status() Status  { return StatusRejected }
func (EnRoute) Status() Status   { return StatusEnRoute }
func (Completed) Status() Status { return StatusCompleted }
func (Cancelled) Status() Status { return StatusCancelled }

func (Accepted) isStatusChange()  {}
func (Rejected) isStatusChange()  {}
func (EnRoute) isStatusChange()   {}
func (Completed) isStatusChange() {}
func (Cancelled) isStatusChange() {}

type EventType string

const (
	EventBookingCreated        EventType = "BookingCreated"
	EventVendorAssigned        EventType = "VendorAssigned"
	EventBookingAccepted       EventType = "BookingAccepted"
	EventBookingRejected       EventType = "BookingRejected"
	EventVendorEnRoute         EventType = "VendorEnRoute"
	EventBookingCompleted      EventType = "BookingCompleted"
	EventBookingCancelled      EventType = "BookingCancelled"
	EventExternalVendorUpdated EventType = "ExternalVendorUpdated"
)

// EventTypeFor maps a status change to its event.
func EventTypeFor(change StatusChange) EventType {
	switch change.(type) {
	case Accepted:
		return EventBookingAccepted
	case Rejected:
		return EventBookingRejected
	case EnRoute:
		return EventVendorEnRoute
	case Completed:
		return EventBookingCompleted
	case Cancelled:
		return EventBookingCancelled
	}
	return ""
}

type Event struct {
	ID        uuid.UUID      `json:"id"`
	BookingID int64          `json:"bookingId"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ListQuery filters booking listings. Zero Limit means no limit.
type ListQuery struct {
	Status Status
	Limit  int
}

type Repository interface {
	Create(ctx context.Context, b Booking) (Booking, error)
	Get(ctx context.Context, id int64) (Booking, error)
	// Update persists b if its Version matches the stored one and returns it
	// with the bumped version.
	Update(ctx context.Context, b Booking) (Booking, error)
	ListByCustomer(ctx context.Context, customerID string, q ListQuery) ([]Booking, error)
	ListByVendor(ctx context.Context, vendorID string, q ListQuery) ([]Booking, error)
}

// Match is a selected vendor with its distance from the booking location.
type Match struct {
	Vendor     vendor.Vendor     `json:"vendor"`
	DistanceKm float64           `json:"distanceKm"`
	Presence   presence.Presence `json:"presence"`
}

type MatchRequest struct {
	BookingID     int64
	Service       string
	Point         geo.Point
	MaxDistanceKm float64
	Exclude       []string
}

// Matcher selects and reserves a vendor. A nil match with a nil error means
// no vendor is available.
type Matcher interface {
	Match(ctx context.Context, req MatchRequest) (*Match, error)
	Release(ctx context.Context, vendorID string, bookingID int64) error
}

// IdempotencyStore caches encoded create responses by client key.
type IdempotencyStore interface {
	GetResponse(ctx context.Context, key string) ([]byte, bool, error)
	PutResponse(ctx context.Context, key string, payload []byte) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
