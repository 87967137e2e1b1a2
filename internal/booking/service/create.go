package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/servicebook/internal/booking/domain"
	"github.com/example/servicebook/internal/customer"
	"github.com/example/servicebook/internal/partner"
)

// LocationInput uses pointers so that a zero coordinate is distinguishable
// from a missing one.
type LocationInput struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   string   `json:"address"`
}

// CreateBookingRequest is the customer's service request.
type CreateBookingRequest struct {
	CustomerID     string         `json:"userId"`
	Service        string         `json:"selectedService"`
	JobDescription string         `json:"jobDescription"`
	Date           string         `json:"date"`
	Time           string         `json:"time"`
	Location       *LocationInput `json:"location"`
	// MaxDistanceKm overrides the default search radius when positive.
	MaxDistanceKm float64 `json:"maxDistanceKm,omitempty"`
}

// Validate reports every missing field at once.
func (r CreateBookingRequest) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"userId", r.CustomerID},
		{"selectedService", r.Service},
		{"jobDescription", r.JobDescription},
		{"date", r.Date},
		{"time", r.Time},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if r.Location == nil {
		missing = append(missing, "location")
	} else {
		if r.Location.Latitude == nil {
			missing = append(missing, "location.latitude")
		}
		if r.Location.Longitude == nil {
			missing = append(missing, "location.longitude")
		}
		if strings.TrimSpace(r.Location.Address) == "" {
			missing = append(missing, "location.address")
		}
	}
	if len(missing) > 0 {
		return &domain.ValidationError{Fields: missing}
	}
	if r.MaxDistanceKm < 0 {
		return &domain.ValidationError{Fields: []string{"maxDistanceKm"}, Reason: "maxDistanceKm must not be negative"}
	}
	return nil
}

// VendorSummary is the matched vendor as shown to the customer.
type VendorSummary struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distanceKm"`
}

// CreateResult is the outcome of CreateBooking.
type CreateResult struct {
	Booking     domain.Booking `json:"booking"`
	VendorFound bool           `json:"vendorFound"`
	Vendor      *VendorSummary `json:"vendor,omitempty"`
}

// CreateBooking validates and persists the booking, forwards it to partners,
// matches a vendor, notifies both parties and schedules the still-searching
// check. A non-empty key makes retries return the first result.
func (s *Service) CreateBooking(ctx context.Context, key string, req CreateBookingRequest) (CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Create", trace.WithAttributes(attribute.String("booking.service", req.Service)))
	defer span.End()

	if key != "" && s.idempotent != nil {
		if cached, ok, err := s.idempotent.GetResponse(ctx, key); err == nil && ok {
			var res CreateResult
			if err := json.Unmarshal(cached, &res); err == nil {
				span.SetAttributes(attribute.Bool("booking.replayed", true))
				return res, nil
			}
		}
	}

	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation")
		return CreateResult{}, err
	}
	cust, err := s.customers.FindByID(ctx, req.CustomerID)
	if err != nil {
		span.RecordError(err)
		return CreateResult{}, fmt.Errorf("create booking: %w", err)
	}

	now := s.clock.Now()
	created, err := s.repo.Create(ctx, domain.Booking{
		CustomerID:     req.CustomerID,
		Service:        strings.TrimSpace(req.Service),
		JobDescription: req.JobDescription,
		Date:           req.Date,
		Time:           req.Time,
		Location: domain.Location{
			Latitude:  *req.Location.Latitude,
			Longitude: *req.Location.Longitude,
			Address:   strings.TrimSpace(req.Location.Address),
		},
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		span.RecordError(err)
		return CreateResult{}, fmt.Errorf("create booking: %w", err)
	}
	span.SetAttributes(attribute.Int64("booking.id", created.ID))
	s.publish(ctx, created.ID, domain.EventBookingCreated, map[string]any{"customerId": created.CustomerID, "service": created.Service})
	s.forward(ctx, created, cust)

	match, err := s.matcher.Match(ctx, domain.MatchRequest{
		BookingID:     created.ID,
		Service:       created.Service,
		Point:         created.Location.Point(),
		MaxDistanceKm: s.maxDistance(req.MaxDistanceKm),
	})
	if err != nil {
		// the booking exists; report it unmatched and let the customer retry via rematch
		s.logger.Error("vendor matching failed", zap.Int64("booking_id", created.ID), zap.Error(err))
		match = nil
	}

	result := CreateResult{Booking: created}
	if match != nil {
		created.AssignVendor(match.Vendor.ID, match.DistanceKm)
		created.UpdatedAt = s.clock.Now()
		updated, err := s.repo.Update(ctx, created)
		if err != nil {
			_ = s.matcher.Release(ctx, match.Vendor.ID, created.ID)
			span.RecordError(err)
			return CreateResult{}, fmt.Errorf("assign vendor: %w", err)
		}
		result.Booking = updated
		result.VendorFound = true
		result.Vendor = &VendorSummary{ID: match.Vendor.ID, Name: match.Vendor.Name, DistanceKm: match.DistanceKm}
		s.publish(ctx, updated.ID, domain.EventVendorAssigned, map[string]any{"vendorId": match.Vendor.ID, "distanceKm": match.DistanceKm})
		s.forwardToVendorBackend(ctx, updated, cust, *match)

		s.notifyVendor(ctx, updated.ID, match.Vendor, newBookingMessage(updated, cust, *match))
		s.notifyCustomerProfile(ctx, updated.ID, cust, confirmationMessage(updated, match.Vendor.Name))
	} else {
		s.notifyCustomerProfile(ctx, created.ID, cust, noVendorMessage(created))
	}
	s.scheduleCheck(result.Booking.ID)

	bookingsCreated.WithLabelValues(strconv.FormatBool(result.VendorFound)).Inc()
	s.logger.Info("booking created",
		zap.Int64("booking_id", result.Booking.ID),
		zap.String("service", result.Booking.Service),
		zap.Bool("vendor_found", result.VendorFound))

	if key != "" && s.idempotent != nil {
		if payload, err := json.Marshal(result); err == nil {
			if err := s.idempotent.PutResponse(ctx, key, payload); err != nil {
				s.logger.Warn("store idempotent response failed", zap.Int64("booking_id", result.Booking.ID), zap.Error(err))
			}
		}
	}
	return result, nil
}

func (s *Service) maxDistance(requested float64) float64 {
	if requested > 0 {
		return requested
	}
	return s.cfg.MaxDistanceKm
}

// forward hands the new booking to every partner in the background.
func (s *Service) forward(ctx context.Context, b domain.Booking, c customer.Customer) {
	if len(s.forwarders) == 0 {
		return
	}
	payload := partner.FromBooking(b, c.DisplayName(), c.Phone)
	for _, f := range s.forwarders {
		f := f
		s.goBackground(ctx, func(ctx context.Context) {
			if err := f.Forward(ctx, payload); err != nil {
				s.logger.Warn("partner forward failed", zap.Int64("booking_id", b.ID), zap.String("partner", f.Name()), zap.Error(err))
			}
		})
	}
}

func (s *Service) forwardToVendorBackend(ctx context.Context, b domain.Booking, c customer.Customer, match domain.Match) {
	if s.vendorBackend == nil {
		return
	}
	payload := partner.FromBooking(b, c.DisplayName(), c.Phone)
	payload.VendorID = match.Vendor.ID
	payload.DistanceKm = match.DistanceKm
	f := s.vendorBackend
	s.goBackground(ctx, func(ctx context.Context) {
		if err := f.Forward(ctx, payload); err != nil {
			s.logger.Warn("vendor backend forward failed", zap.Int64("booking_id", b.ID), zap.String("vendor_id", match.Vendor.ID), zap.Error(err))
		}
	})
}

// checkStillPending runs once per scheduled booking. It never returns an
// error; every failure is logged.
func (s *Service) checkStillPending(ctx context.Context, bookingID int64) {
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		deferredChecks.WithLabelValues("error").Inc()
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("deferred check lookup failed", zap.Int64("booking_id", bookingID), zap.Error(err))
		}
		return
	}
	if b.Status != domain.StatusPending {
		deferredChecks.WithLabelValues("skipped").Inc()
		return
	}
	// the offer timed out; free the vendor for other bookings
	s.release(ctx, b)
	s.notifyCustomer(ctx, b.ID, b.CustomerID, stillSearchingMessage(b))
	deferredChecks.WithLabelValues("notified").Inc()
}
