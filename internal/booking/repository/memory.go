package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/example/servicebook/internal/booking/domain"
)

// MemoryRepository provides an in-memory implementation suitable for tests and local demos.
type MemoryRepository struct {
	mu       sync.RWMutex
	nextID   int64
	bookings map[int64]domain.Booking
}

// NewMemoryRepository constructs an empty memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bookings: make(map[int64]domain.Booking)}
}

// Create assigns the next sequential id and stores the booking.
func (m *MemoryRepository) Create(_ context.Context, b domain.Booking) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	b.ID = m.nextID
	b.Version = 1
	m.bookings[b.ID] = clone(b)
	return clone(b), nil
}

// Get retrieves a booking.
func (m *MemoryRepository) Get(_ context.Context, id int64) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return clone(b), nil
}

// Update replaces the stored booking, performing optimistic locking on version.
func (m *MemoryRepository) Update(_ context.Context, b domain.Booking) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.bookings[b.ID]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	if existing.Version != b.Version {
		return domain.Booking{}, domain.ErrStaleBooking
	}
	b.Version = existing.Version + 1
	m.bookings[b.ID] = clone(b)
	return clone(b), nil
}

func (m *MemoryRepository) ListByCustomer(_ context.Context, customerID string, q domain.ListQuery) ([]domain.Booking, error) {
	return m.list(q, func(b domain.Booking) bool { return b.CustomerID == customerID }), nil
}

func (m *MemoryRepository) ListByVendor(_ context.Context, vendorID string, q domain.ListQuery) ([]domain.Booking, error) {
	return m.list(q, func(b domain.Booking) bool { return b.AssignedTo(vendorID) }), nil
}

// list returns matches newest first.
func (m *MemoryRepository) list(q domain.ListQuery, match func(domain.Booking) bool) []domain.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if !match(b) || (q.Status != "" && b.Status != q.Status) {
			continue
		}
		out = append(out, clone(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func clone(b domain.Booking) domain.Booking {
	if b.VendorID != nil {
		v := *b.VendorID
		b.VendorID = &v
	}
	if b.DistanceKm != nil {
		d := *b.DistanceKm
		b.DistanceKm = &d
	}
	if b.OTP != nil {
		o := *b.OTP
		b.OTP = &o
	}
	if b.ExternalVendor != nil {
		ev := *b.ExternalVendor
		b.ExternalVendor = &ev
	}
	b.RejectedBy = append([]string(nil), b.RejectedBy...)
	return b
}
