// Package matching selects the best online vendor for a booking and reserves
// it so that two bookings are never offered to the same vendor at once.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/servicebook/internal/booking/domain"
	"github.com/example/servicebook/internal/geo"
	"github.com/example/servicebook/internal/presence"
	"github.com/example/servicebook/internal/vendor"
)

const (
	// DefaultMaxDistanceKm is used when a request carries no radius.
	DefaultMaxDistanceKm = 50

	distanceBandKm = 2.0
	ratingBand     = 0.5

	// Server side radius queries use a slightly larger earth radius than
	// haversine; the widened query is trimmed again by Distance.
	radiusPaddingFactor = 1.001
	radiusPaddingKm     = 0.05
)

// Config tunes the matcher.
type Config struct {
	DefaultMaxDistanceKm float64
	ReservationTTL       time.Duration
}

// Matcher ranks online vendors and reserves the best free one.
type Matcher struct {
	presence     presence.Reader
	vendors      vendor.Directory
	reservations ReservationStore
	cfg          Config
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewMatcher wires the matcher. reservations may be nil, in which case Match
// never reserves.
func NewMatcher(p presence.Reader, vendors vendor.Directory, reservations ReservationStore, cfg Config, logger *zap.Logger) (*Matcher, error) {
	if p == nil {
		return nil, errors.New("presence reader is required")
	}
	if vendors == nil {
		return nil, errors.New("vendor directory is required")
	}
	if cfg.DefaultMaxDistanceKm <= 0 {
		cfg.DefaultMaxDistanceKm = DefaultMaxDistanceKm
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = defaultReservationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		presence:     p,
		vendors:      vendors,
		reservations: reservations,
		cfg:          cfg,
		logger:       logger.Named("matching"),
		tracer:       otel.Tracer("servicebook/matching"),
	}, nil
}

// FindBestVendor returns the top-ranked available vendor, or nil when none qualifies.
func (m *Matcher) FindBestVendor(ctx context.Context, service string, lat, lon, maxDistanceKm float64) (*domain.Match, error) {
	ranked, err := m.FindAllAvailableVendors(ctx, service, geo.Point{Lat: lat, Lng: lon}, maxDistanceKm)
	if err != nil || len(ranked) == 0 {
		return nil, err
	}
	best := ranked[0]
	return &best, nil
}

// FindAllAvailableVendors returns every qualifying vendor in rank order.
func (m *Matcher) FindAllAvailableVendors(ctx context.Context, service string, point geo.Point, maxDistanceKm float64) ([]domain.Match, error) {
	return m.rank(ctx, service, point, m.radius(maxDistanceKm), nil)
}

// IsVendorAvailable reports whether the vendor is online and offers service.
func (m *Matcher) IsVendorAvailable(ctx context.Context, vendorID, service string) (bool, error) {
	v, err := m.vendors.FindByID(ctx, vendorID)
	if err != nil {
		return false, err
	}
	if !v.Offers(service) {
		return false, nil
	}
	online, err := m.presence.ListOnline(ctx)
	if err != nil {
		return false, fmt.Errorf("list online vendors: %w", err)
	}
	for _, p := range online {
		if p.VendorID == vendorID {
			return true, nil
		}
	}
	return false, nil
}

// Match ranks candidates and reserves the first one that is not already
// holding another booking. A nil match with nil error means nobody is free.
func (m *Matcher) Match(ctx context.Context, req domain.MatchRequest) (*domain.Match, error) {
	ctx, span := m.tracer.Start(ctx, "matching.Match", trace.WithAttributes(
		attribute.Int64("booking.id", req.BookingID),
		attribute.String("booking.service", req.Service),
	))
	defer span.End()

	start := time.Now()
	result := "error"
	defer func() {
		matchingDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
		matchAttempts.WithLabelValues(result).Inc()
		span.SetAttributes(attribute.String("match.result", result))
	}()

	ranked, err := m.rank(ctx, req.Service, req.Point, m.radius(req.MaxDistanceKm), req.Exclude)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(ranked) == 0 {
		result = "none"
		return nil, nil
	}
	if m.reservations == nil {
		result = "matched"
		return &ranked[0], nil
	}

	failures := 0
	for i := range ranked {
		candidate := ranked[i]
		ok, err := m.reservations.TryReserve(ctx, candidate.Vendor.ID, req.BookingID, m.cfg.ReservationTTL)
		if err != nil {
			failures++
			m.logger.Warn("reserve vendor failed", zap.Int64("booking_id", req.BookingID), zap.String("vendor_id", candidate.Vendor.ID), zap.Error(err))
			continue
		}
		if ok {
			result = "matched"
			return &candidate, nil
		}
	}
	if failures == len(ranked) {
		// reservation backend down: offer the top vendor unreserved
		result = "unreserved"
		return &ranked[0], nil
	}
	result = "busy"
	return nil, nil
}

// Release frees the vendor if it is still reserved for bookingID.
func (m *Matcher) Release(ctx context.Context, vendorID string, bookingID int64) error {
	if m.reservations == nil || vendorID == "" {
		return nil
	}
	return m.reservations.Release(ctx, vendorID, bookingID)
}

func (m *Matcher) radius(maxDistanceKm float64) float64 {
	if maxDistanceKm <= 0 {
		return m.cfg.DefaultMaxDistanceKm
	}
	return maxDistanceKm
}

func (m *Matcher) rank(ctx context.Context, service string, point geo.Point, maxDistanceKm float64, exclude []string) ([]domain.Match, error) {
	online, err := m.listOnline(ctx, point, maxDistanceKm)
	if err != nil {
		return nil, fmt.Errorf("list online vendors: %w", err)
	}
	if len(online) == 0 {
		return nil, nil
	}

	byVendor := make(map[string]presence.Presence, len(online))
	duplicated := make(map[string]bool)
	for _, p := range online {
		if _, seen := byVendor[p.VendorID]; seen {
			duplicated[p.VendorID] = true
			continue
		}
		byVendor[p.VendorID] = p
	}

	offering, err := m.vendors.ListByService(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("list vendors for %q: %w", service, err)
	}

	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	candidates := make([]domain.Match, 0, len(offering))
	for _, v := range offering {
		if skip[v.ID] || duplicated[v.ID] {
			continue
		}
		p, ok := byVendor[v.ID]
		if !ok || !p.Online || p.Location == nil {
			continue
		}
		d := geo.Distance(point, *p.Location)
		if d > maxDistanceKm {
			continue
		}
		candidates = append(candidates, domain.Match{Vendor: v, DistanceKm: d, Presence: p})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return ranksBefore(candidates[i], candidates[j])
	})
	return candidates, nil
}

func (m *Matcher) listOnline(ctx context.Context, point geo.Point, maxDistanceKm float64) ([]presence.Presence, error) {
	if rr, ok := m.presence.(presence.RadiusReader); ok {
		return rr.ListOnlineWithin(ctx, point, maxDistanceKm*radiusPaddingFactor+radiusPaddingKm)
	}
	return m.presence.ListOnline(ctx)
}

// ranksBefore applies distance, then rating, then completed bookings. Each
// tier only decides when the gap exceeds its band.
func ranksBefore(a, b domain.Match) bool {
	if a.DistanceKm < b.DistanceKm-distanceBandKm {
		return true
	}
	if b.DistanceKm < a.DistanceKm-distanceBandKm {
		return false
	}
	if a.Vendor.Rating > b.Vendor.Rating+ratingBand {
		return true
	}
	if b.Vendor.Rating > a.Vendor.Rating+ratingBand {
		return false
	}
	return a.Vendor.CompletedBookings > b.Vendor.CompletedBookings
}
