package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/servicebook/internal/booking/domain"
)

// AcceptBooking records the assigned vendor's acceptance and issues the OTP.
// Accepting twice is a conflict and keeps the first OTP.
func (s *Service) AcceptBooking(ctx context.Context, bookingID int64, vendorID string) (domain.Booking, error) {
	return s.vendorAction(ctx, bookingID, vendorID, domain.Accepted{OTP: s.otp()})
}

// RejectBooking records the assigned vendor's refusal. The booking is not
// re-matched automatically; see RematchBooking.
func (s *Service) RejectBooking(ctx context.Context, bookingID int64, vendorID, reason string) (domain.Booking, error) {
	return s.vendorAction(ctx, bookingID, vendorID, domain.Rejected{Reason: strings.TrimSpace(reason)})
}

func (s *Service) MarkEnRoute(ctx context.Context, bookingID int64, vendorID string) (domain.Booking, error) {
	return s.vendorAction(ctx, bookingID, vendorID, domain.EnRoute{})
}

// CompleteBooking closes the booking and bumps the vendor's counters. A
// failed counter update is logged and does not undo the completion.
func (s *Service) CompleteBooking(ctx context.Context, bookingID int64, vendorID string) (domain.Booking, error) {
	return s.vendorAction(ctx, bookingID, vendorID, domain.Completed{})
}

// VendorCancelBooking lets the assigned vendor withdraw.
func (s *Service) VendorCancelBooking(ctx context.Context, bookingID int64, vendorID string) (domain.Booking, error) {
	return s.vendorAction(ctx, bookingID, vendorID, domain.Cancelled{By: domain.CancelledByVendor})
}

func (s *Service) vendorAction(ctx context.Context, bookingID int64, vendorID string, change domain.StatusChange) (domain.Booking, error) {
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if !b.AssignedTo(vendorID) {
		return domain.Booking{}, domain.ErrForbidden
	}
	if err := b.Apply(change, s.clock.Now()); err != nil {
		return domain.Booking{}, fmt.Errorf("%s booking %d: %w", change.Status(), bookingID, err)
	}
	updated, err := s.repo.Update(ctx, b)
	if err != nil {
		return domain.Booking{}, err
	}
	bookingTransitions.WithLabelValues(string(updated.Status), "vendor").Inc()

	s.release(ctx, updated)
	s.cancelCheck(updated.ID)
	s.publish(ctx, updated.ID, domain.EventTypeFor(change), changePayload(vendorID, change))

	switch c := change.(type) {
	case domain.Accepted:
		s.notifyCustomer(ctx, updated.ID, updated.CustomerID, statusMessage(updated, c))
		s.notifyVendorByID(ctx, updated.ID, vendorID, acceptedForVendorMessage(updated))
	case domain.Completed:
		if err := s.vendors.IncrementStats(ctx, vendorID); err != nil {
			s.logger.Warn("increment vendor stats failed", zap.Int64("booking_id", updated.ID), zap.String("vendor_id", vendorID), zap.Error(err))
		}
		s.notifyCustomer(ctx, updated.ID, updated.CustomerID, statusMessage(updated, c))
	default:
		s.notifyCustomer(ctx, updated.ID, updated.CustomerID, statusMessage(updated, c))
	}
	s.logger.Info("booking status changed", zap.Int64("booking_id", updated.ID), zap.String("status", string(updated.Status)), zap.String("vendor_id", vendorID))
	return updated, nil
}

func changePayload(vendorID string, change domain.StatusChange) map[string]any {
	payload := map[string]any{"vendorId": vendorID, "status": string(change.Status())}
	switch c := change.(type) {
	case domain.Rejected:
		payload["reason"] = c.Reason
	case domain.Cancelled:
		payload["cancelledBy"] = string(c.By)
	}
	return payload
}

// CancelBooking is the owning customer's cancellation. Ownership is checked
// before state, so a stranger learns nothing about a closed booking.
func (s *Service) CancelBooking(ctx context.Context, bookingID int64, customerID string) (domain.Booking, error) {
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.CustomerID != customerID {
		return domain.Booking{}, domain.ErrForbidden
	}
	if b.Status.Terminal() {
		return domain.Booking{}, fmt.Errorf("cannot cancel %s booking: %w", b.Status, domain.ErrInvalidTransition)
	}
	change := domain.Cancelled{By: domain.CancelledByCustomer}
	if err := b.Apply(change, s.clock.Now()); err != nil {
		return domain.Booking{}, err
	}
	updated, err := s.repo.Update(ctx, b)
	if err != nil {
		return domain.Booking{}, err
	}
	bookingTransitions.WithLabelValues(string(updated.Status), "customer").Inc()

	s.release(ctx, updated)
	s.cancelCheck(updated.ID)
	s.publish(ctx, updated.ID, domain.EventBookingCancelled, map[string]any{"cancelledBy": string(change.By)})
	if updated.VendorID != nil {
		s.notifyVendorByID(ctx, updated.ID, *updated.VendorID, cancelledForVendorMessage(updated))
	}
	return updated, nil
}

// StatusUpdate is a vendor backend report about one booking.
type StatusUpdate struct {
	BookingID       int64  `json:"bookingId"`
	Status          string `json:"status"`
	VendorID        string `json:"vendorId"`
	RejectionReason string `json:"rejectionReason"`
}

// ApplyStatusUpdate routes a vendor backend report to the matching vendor
// action. The OTP is always generated here, never taken from the caller.
func (s *Service) ApplyStatusUpdate(ctx context.Context, u StatusUpdate) (domain.Booking, error) {
	var missing []string
	if u.BookingID <= 0 {
		missing = append(missing, "bookingId")
	}
	if strings.TrimSpace(u.Status) == "" {
		missing = append(missing, "status")
	}
	if strings.TrimSpace(u.VendorID) == "" {
		missing = append(missing, "vendorId")
	}
	if len(missing) > 0 {
		return domain.Booking{}, &domain.ValidationError{Fields: missing}
	}
	status, err := parseVendorStatus(u.Status)
	if err != nil {
		return domain.Booking{}, err
	}
	switch status {
	case domain.StatusAccepted:
		return s.AcceptBooking(ctx, u.BookingID, u.VendorID)
	case domain.StatusRejected:
		return s.RejectBooking(ctx, u.BookingID, u.VendorID, u.RejectionReason)
	case domain.StatusEnRoute:
		return s.MarkEnRoute(ctx, u.BookingID, u.VendorID)
	case domain.StatusCompleted:
		return s.CompleteBooking(ctx, u.BookingID, u.VendorID)
	default:
		return s.VendorCancelBooking(ctx, u.BookingID, u.VendorID)
	}
}

func parseVendorStatus(raw string) (domain.Status, error) {
	status, err := domain.ParseStatus(raw)
	if err != nil || status == domain.StatusPending {
		return "", &domain.ValidationError{
			Fields: []string{"status"},
			Reason: "status must be one of: accepted, rejected, enroute, completed, cancelled",
		}
	}
	return status, nil
}

// ExternalVendorUpdate is a partner system's callback about a booking it claimed.
type ExternalVendorUpdate struct {
	VendorID        string `json:"vendorId"`
	VendorName      string `json:"vendorName"`
	VendorPhone     string `json:"vendorPhone"`
	VendorAddress   string `json:"vendorAddress"`
	ServiceType     string `json:"serviceType"`
	AssignedOrderID string `json:"assignedOrderId"`
	Status          string `json:"status"`
}

func (u ExternalVendorUpdate) validate() (int64, domain.Status, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"vendorId", u.VendorID},
		{"vendorName", u.VendorName},
		{"vendorPhone", u.VendorPhone},
		{"vendorAddress", u.VendorAddress},
		{"serviceType", u.ServiceType},
		{"assignedOrderId", u.AssignedOrderID},
		{"status", u.Status},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return 0, "", &domain.ValidationError{Fields: missing}
	}
	id, err := strconv.ParseInt(strings.TrimSpace(u.AssignedOrderID), 10, 64)
	if err != nil || id <= 0 {
		return 0, "", &domain.ValidationError{Fields: []string{"assignedOrderId"}, Reason: "assignedOrderId must be a booking id"}
	}
	status, err := parseVendorStatus(u.Status)
	if err != nil {
		return 0, "", err
	}
	return id, status, nil
}

// ApplyExternalVendorUpdate records a partner's vendor on the booking and
// moves it to the reported status. Partners run their own workflow, so any
// status may follow any non-terminal one.
func (s *Service) ApplyExternalVendorUpdate(ctx context.Context, u ExternalVendorUpdate) (domain.Booking, error) {
	bookingID, status, err := u.validate()
	if err != nil {
		return domain.Booking{}, err
	}
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.Status.Terminal() {
		return domain.Booking{}, fmt.Errorf("booking %d is %s: %w", b.ID, b.Status, domain.ErrInvalidTransition)
	}

	now := s.clock.Now()
	ext := domain.ExternalVendor{
		VendorID:      strings.TrimSpace(u.VendorID),
		VendorName:    strings.TrimSpace(u.VendorName),
		VendorPhone:   strings.TrimSpace(u.VendorPhone),
		VendorAddress: strings.TrimSpace(u.VendorAddress),
		ServiceType:   strings.TrimSpace(u.ServiceType),
		AssignedAt:    now,
		LastUpdated:   now,
	}
	if b.ExternalVendor != nil && b.ExternalVendor.VendorID == ext.VendorID {
		ext.AssignedAt = b.ExternalVendor.AssignedAt
	}
	b.ExternalVendor = &ext

	var change domain.StatusChange
	switch status {
	case domain.StatusAccepted:
		code := s.otp()
		if b.OTP != nil {
			code = *b.OTP
		}
		b.OTP = &code
		change = domain.Accepted{OTP: code}
	case domain.StatusRejected:
		change = domain.Rejected{}
	case domain.StatusEnRoute:
		change = domain.EnRoute{}
	case domain.StatusCompleted:
		change = domain.Completed{}
	default:
		change = domain.Cancelled{By: domain.CancelledByVendor}
	}
	b.Status = status
	b.UpdatedAt = now

	updated, err := s.repo.Update(ctx, b)
	if err != nil {
		return domain.Booking{}, err
	}
	bookingTransitions.WithLabelValues(string(updated.Status), "partner").Inc()

	// the partner owns the booking now
	s.release(ctx, updated)
	s.cancelCheck(updated.ID)
	s.publish(ctx, updated.ID, domain.EventExternalVendorUpdated, map[string]any{
		"externalVendorId": ext.VendorID,
		"status":           string(updated.Status),
	})
	s.notifyCustomer(ctx, updated.ID, updated.CustomerID, vendorUpdateMessage(updated, change, ext))
	return updated, nil
}

// RematchBooking searches again for a rejected or unmatched booking,
// skipping vendors that already rejected it. Only the owner may ask.
func (s *Service) RematchBooking(ctx context.Context, bookingID int64, customerID string) (CreateResult, error) {
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return CreateResult{}, err
	}
	if b.CustomerID != customerID {
		return CreateResult{}, domain.ErrForbidden
	}
	if !(b.Status == domain.StatusRejected || (b.Status == domain.StatusPending && b.VendorID == nil)) {
		return CreateResult{}, fmt.Errorf("rematch %s booking: %w", b.Status, domain.ErrInvalidTransition)
	}

	match, err := s.matcher.Match(ctx, domain.MatchRequest{
		BookingID:     b.ID,
		Service:       b.Service,
		Point:         b.Location.Point(),
		MaxDistanceKm: s.cfg.MaxDistanceKm,
		Exclude:       b.RejectedBy,
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("rematch booking %d: %w", b.ID, err)
	}
	if match == nil {
		s.notifyCustomer(ctx, b.ID, b.CustomerID, noVendorMessage(b))
		return CreateResult{Booking: b}, nil
	}

	if err := b.Reassign(match.Vendor.ID, match.DistanceKm, s.clock.Now()); err != nil {
		_ = s.matcher.Release(ctx, match.Vendor.ID, b.ID)
		return CreateResult{}, err
	}
	updated, err := s.repo.Update(ctx, b)
	if err != nil {
		_ = s.matcher.Release(ctx, match.Vendor.ID, b.ID)
		return CreateResult{}, err
	}
	bookingTransitions.WithLabelValues(string(updated.Status), "rematch").Inc()
	s.publish(ctx, updated.ID, domain.EventVendorAssigned, map[string]any{"vendorId": match.Vendor.ID, "distanceKm": match.DistanceKm, "rematch": true})

	cust, err := s.customers.FindByID(ctx, updated.CustomerID)
	if err != nil {
		s.logger.Warn("customer lookup for notification failed", zap.Int64("booking_id", updated.ID), zap.Error(err))
	} else {
		s.notifyVendor(ctx, updated.ID, match.Vendor, newBookingMessage(updated, cust, *match))
		s.notifyCustomerProfile(ctx, updated.ID, cust, confirmationMessage(updated, match.Vendor.Name))
	}
	s.scheduleCheck(updated.ID)

	return CreateResult{
		Booking:     updated,
		VendorFound: true,
		Vendor:      &VendorSummary{ID: match.Vendor.ID, Name: match.Vendor.Name, DistanceKm: match.DistanceKm},
	}, nil
}
