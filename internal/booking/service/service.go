// Package service orchestrates the booking lifecycle: creation and matching,
// vendor actions, customer cancellation, partner callbacks and the deferred
// still-searching check.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/servicebook/internal/booking/domain"
	"github.com/example/servicebook/internal/customer"
	"github.com/example/servicebook/internal/notify"
	"github.com/example/servicebook/internal/otp"
	"github.com/example/servicebook/internal/partner"
	"github.com/example/servicebook/internal/scheduler"
	"github.com/example/servicebook/internal/vendor"
)

const (
	defaultMaxDistanceKm       = 50
	defaultStillSearchingAfter = 60 * time.Second
	defaultListLimit           = 50
)

// Config tunes the lifecycle manager.
type Config struct {
	MaxDistanceKm       float64
	StillSearchingAfter time.Duration
}

// Deps are the collaborators of Service. Notifier, Events, Scheduler,
// Idempotency and the partner hooks are optional.
type Deps struct {
	Repo        domain.Repository
	Customers   customer.Directory
	Vendors     vendor.Directory
	Matcher     domain.Matcher
	Notifier    notify.Notifier
	Events      domain.EventPublisher
	Scheduler   scheduler.Scheduler
	Idempotency domain.IdempotencyStore
	// Forwarders receive every new booking.
	Forwarders []partner.Forwarder
	// VendorBackend receives bookings once a vendor has been matched.
	VendorBackend partner.Forwarder
	Clock         domain.Clock
	// OTP generates acceptance codes; defaults to otp.Generate.
	OTP    func() int
	Logger *zap.Logger
}

// Service coordinates booking operations between handlers and collaborators.
type Service struct {
	repo          domain.Repository
	customers     customer.Directory
	vendors       vendor.Directory
	matcher       domain.Matcher
	notifier      notify.Notifier
	events        domain.EventPublisher
	scheduler     scheduler.Scheduler
	idempotent    domain.IdempotencyStore
	forwarders    []partner.Forwarder
	vendorBackend partner.Forwarder
	clock         domain.Clock
	otp           func() int
	cfg           Config
	logger        *zap.Logger
	tracer        trace.Tracer

	background sync.WaitGroup
}

// New constructs a Service with the required collaborators.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Repo == nil || deps.Customers == nil || deps.Vendors == nil || deps.Matcher == nil {
		return nil, errors.New("booking service requires repository, customers, vendors and matcher")
	}
	if cfg.MaxDistanceKm <= 0 {
		cfg.MaxDistanceKm = defaultMaxDistanceKm
	}
	if cfg.StillSearchingAfter <= 0 {
		cfg.StillSearchingAfter = defaultStillSearchingAfter
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if deps.OTP == nil {
		deps.OTP = otp.Generate
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		repo:          deps.Repo,
		customers:     deps.Customers,
		vendors:       deps.Vendors,
		matcher:       deps.Matcher,
		notifier:      deps.Notifier,
		events:        deps.Events,
		scheduler:     deps.Scheduler,
		idempotent:    deps.Idempotency,
		forwarders:    deps.Forwarders,
		vendorBackend: deps.VendorBackend,
		clock:         deps.Clock,
		otp:           deps.OTP,
		cfg:           cfg,
		logger:        deps.Logger.Named("booking"),
		tracer:        otel.Tracer("servicebook/booking"),
	}, nil
}

// Drain waits for background partner forwards to finish.
func (s *Service) Drain() {
	s.background.Wait()
}

func scheduleKey(bookingID int64) string {
	return fmt.Sprintf("booking:%d", bookingID)
}

// goBackground runs fn detached from the request context.
func (s *Service) goBackground(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn(ctx)
	}()
}

func (s *Service) publish(ctx context.Context, bookingID int64, t domain.EventType, payload map[string]any) {
	if s.events == nil {
		return
	}
	evt := domain.Event{ID: uuid.New(), BookingID: bookingID, Type: t, Payload: payload, CreatedAt: s.clock.Now()}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish event failed", zap.Int64("booking_id", bookingID), zap.String("event", string(t)), zap.Error(err))
	}
}

func (s *Service) release(ctx context.Context, b domain.Booking) {
	if b.VendorID == nil {
		return
	}
	if err := s.matcher.Release(ctx, *b.VendorID, b.ID); err != nil {
		s.logger.Warn("release vendor failed", zap.Int64("booking_id", b.ID), zap.String("vendor_id", *b.VendorID), zap.Error(err))
	}
}

func (s *Service) cancelCheck(bookingID int64) {
	if s.scheduler != nil {
		s.scheduler.Cancel(scheduleKey(bookingID))
	}
}

func (s *Service) scheduleCheck(bookingID int64) {
	if s.scheduler == nil {
		return
	}
	s.scheduler.Schedule(scheduleKey(bookingID), s.cfg.StillSearchingAfter, func(ctx context.Context) {
		s.checkStillPending(ctx, bookingID)
	})
}

// notifyCustomer sends msg to the booking's customer. Failures are logged.
func (s *Service) notifyCustomer(ctx context.Context, bookingID int64, customerID string, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	c, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		s.logger.Warn("customer lookup for notification failed", zap.Int64("booking_id", bookingID), zap.String("customer_id", customerID), zap.Error(err))
		return
	}
	s.notifyCustomerProfile(ctx, bookingID, c, msg)
}

func (s *Service) notifyCustomerProfile(ctx context.Context, bookingID int64, c customer.Customer, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if c.FCMToken == "" {
		s.logger.Debug("customer has no device token", zap.Int64("booking_id", bookingID), zap.String("customer_id", c.ID))
		return
	}
	id, err := s.notifier.Notify(ctx, c.FCMToken, msg)
	if err != nil {
		notificationFailures.WithLabelValues("customer").Inc()
		s.logger.Warn("notify customer failed", zap.Int64("booking_id", bookingID), zap.String("customer_id", c.ID), zap.String("title", msg.Title), zap.Error(err))
		return
	}
	s.logger.Debug("customer notified", zap.Int64("booking_id", bookingID), zap.String("message_id", id))
}

// notifyVendor sends msg to every registered device of v. Failures are logged.
func (s *Service) notifyVendor(ctx context.Context, bookingID int64, v vendor.Vendor, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	switch len(v.FCMTokens) {
	case 0:
		s.logger.Warn("vendor has no device tokens", zap.Int64("booking_id", bookingID), zap.String("vendor_id", v.ID))
	case 1:
		if _, err := s.notifier.Notify(ctx, v.FCMTokens[0], msg); err != nil {
			notificationFailures.WithLabelValues("vendor").Inc()
			s.logger.Warn("notify vendor failed", zap.Int64("booking_id", bookingID), zap.String("vendor_id", v.ID), zap.String("title", msg.Title), zap.Error(err))
		}
	default:
		res, err := s.notifier.NotifyMany(ctx, v.FCMTokens, msg)
		if err != nil || res.SuccessCount == 0 {
			notificationFailures.WithLabelValues("vendor").Inc()
			s.logger.Warn("notify vendor failed", zap.Int64("booking_id", bookingID), zap.String("vendor_id", v.ID), zap.Int("failed", res.FailureCount), zap.Error(err))
		}
	}
}

func (s *Service) notifyVendorByID(ctx context.Context, bookingID int64, vendorID string, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	v, err := s.vendors.FindByID(ctx, vendorID)
	if err != nil {
		s.logger.Warn("vendor lookup for notification failed", zap.Int64("booking_id", bookingID), zap.String("vendor_id", vendorID), zap.Error(err))
		return
	}
	s.notifyVendor(ctx, bookingID, v, msg)
}
