package presence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/servicebook/internal/geo"
)

// Heartbeat is what a vendor device reports.
type Heartbeat struct {
	VendorID string     `json:"vendorId"`
	Online   bool       `json:"online"`
	Location *geo.Point `json:"location,omitempty"`
	Address  string     `json:"address,omitempty"`
}

// ErrInvalidHeartbeat flags a heartbeat without a vendor id.
var ErrInvalidHeartbeat = errors.New("heartbeat requires vendorId")

// Ingestor turns heartbeats into presence records.
type Ingestor struct {
	store    Store
	geocoder Geocoder
	now      func() time.Time
	logger   *zap.Logger
}

// NewIngestor builds an Ingestor. geocoder may be nil.
func NewIngestor(store Store, geocoder Geocoder, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{store: store, geocoder: geocoder, now: func() time.Time { return time.Now().UTC() }, logger: logger}
}

// Record stores the heartbeat. A missing address is reverse geocoded when a
// geocoder is configured; geocoding failures only drop the address.
func (i *Ingestor) Record(ctx context.Context, hb Heartbeat) (Presence, error) {
	if hb.VendorID == "" {
		return Presence{}, ErrInvalidHeartbeat
	}
	p := Presence{
		VendorID: hb.VendorID,
		Online:   hb.Online,
		LastSeen: i.now(),
		Location: hb.Location,
		Address:  hb.Address,
	}
	if p.Address == "" && p.Location != nil && i.geocoder != nil {
		addr, err := i.geocoder.ReverseGeocode(ctx, *p.Location)
		if err != nil {
			i.logger.Warn("reverse geocode failed", zap.String("vendor_id", hb.VendorID), zap.Error(err))
		} else {
			p.Address = addr
		}
	}
	if err := i.store.Upsert(ctx, p); err != nil {
		return Presence{}, err
	}
	return p, nil
}

// Get returns the stored presence for a vendor.
func (i *Ingestor) Get(ctx context.Context, vendorID string) (Presence, error) {
	return i.store.Get(ctx, vendorID)
}
