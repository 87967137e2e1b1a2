// Package presence stores each vendor's online flag and last-known location.
// Records are keyed uniquely by vendor id and are written only by heartbeats.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/servicebook/internal/geo"
)

// ErrNotFound is returned when a vendor has never sent a heartbeat.
var ErrNotFound = errors.New("presence not found")

// Presence is the latest heartbeat state of a vendor.
type Presence struct {
	VendorID string     `json:"vendorId"`
	Online   bool       `json:"online"`
	LastSeen time.Time  `json:"lastSeen"`
	Location *geo.Point `json:"location,omitempty"`
	Address  string     `json:"address,omitempty"`
}

// Reader is the read side consumed by matching.
type Reader interface {
	ListOnline(ctx context.Context) ([]Presence, error)
}

// RadiusReader is implemented by stores that can narrow online vendors by
// distance server side. Callers still apply their own distance filter.
type RadiusReader interface {
	ListOnlineWithin(ctx context.Context, center geo.Point, radiusKm float64) ([]Presence, error)
}

// Store is the full presence store.
type Store interface {
	Reader
	Get(ctx context.Context, vendorID string) (Presence, error)
	Upsert(ctx context.Context, p Presence) error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Presence
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Presence)}
}

func (s *MemoryStore) Upsert(_ context.Context, p Presence) error {
	if p.VendorID == "" {
		return errors.New("presence: vendor id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.VendorID] = clonePresence(p)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, vendorID string) (Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.records[vendorID]
	if !ok {
		return Presence{}, ErrNotFound
	}
	return clonePresence(p), nil
}

func (s *MemoryStore) ListOnline(_ context.Context) ([]Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Presence, 0, len(s.records))
	for _, p := range s.records {
		if p.Online {
			out = append(out, clonePresence(p))
		}
	}
	return out, nil
}

func clonePresence(p Presence) Presence {
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	return p
}
