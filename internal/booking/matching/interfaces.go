package matching

import (
	"context"
	"time"
)

// ReservationStore coordinates exclusive vendor offers across instances.
// A vendor holds at most one reservation; the TTL bounds offers that are
// never answered.
type ReservationStore interface {
	TryReserve(ctx context.Context, vendorID string, bookingID int64, ttl time.Duration) (bool, error)
	// Release drops the reservation only if it is still held for bookingID.
	Release(ctx context.Context, vendorID string, bookingID int64) error
}
