package service

import (
	"context"

	"github.com/example/servicebook/internal/booking/domain"
)

func (s *Service) GetBooking(ctx context.Context, bookingID int64) (domain.Booking, error) {
	return s.repo.Get(ctx, bookingID)
}

// ListCustomerBookings returns the customer's most recent bookings, newest first.
func (s *Service) ListCustomerBookings(ctx context.Context, customerID string) ([]domain.Booking, error) {
	return s.repo.ListByCustomer(ctx, customerID, domain.ListQuery{Limit: defaultListLimit})
}

// BookingHistory lists every booking of the customer, optionally narrowed to
// one status given in any letter case.
func (s *Service) BookingHistory(ctx context.Context, customerID, status string) ([]domain.Booking, error) {
	q := domain.ListQuery{}
	if status != "" {
		st, err := domain.ParseStatus(status)
		if err != nil {
			return nil, &domain.ValidationError{Fields: []string{"status"}, Reason: "unknown status " + status}
		}
		q.Status = st
	}
	return s.repo.ListByCustomer(ctx, customerID, q)
}

func (s *Service) ListVendorBookings(ctx context.Context, vendorID string) ([]domain.Booking, error) {
	return s.repo.ListByVendor(ctx, vendorID, domain.ListQuery{})
}
