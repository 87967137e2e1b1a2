package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"

	"github.com/example/servicebook/internal/geo"
)

const defaultFirebaseNode = "vendor_presence"

// rtdbPresence mirrors one child of the presence node in the Realtime Database.
type rtdbPresence struct {
	Online   bool     `json:"online"`
	LastSeen int64    `json:"lastSeen"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
	Address  string   `json:"address,omitempty"`
}

// FirebaseStore keeps presence in Firebase RTDB, one child per vendor id.
type FirebaseStore struct {
	client *db.Client
	node   string
}

// NewFirebaseStore constructs the store. An empty node uses "vendor_presence".
func NewFirebaseStore(client *db.Client, node string) *FirebaseStore {
	if node == "" {
		node = defaultFirebaseNode
	}
	return &FirebaseStore{client: client, node: node}
}

func (s *FirebaseStore) Upsert(ctx context.Context, p Presence) error {
	if p.VendorID == "" {
		return errors.New("presence: vendor id is required")
	}
	if err := s.client.NewRef(s.node).Child(p.VendorID).Set(ctx, toRTDB(p)); err != nil {
		return fmt.Errorf("rtdb set presence: %w", err)
	}
	return nil
}

func (s *FirebaseStore) Get(ctx context.Context, vendorID string) (Presence, error) {
	var entry *rtdbPresence
	if err := s.client.NewRef(s.node).Child(vendorID).Get(ctx, &entry); err != nil {
		return Presence{}, fmt.Errorf("rtdb get presence: %w", err)
	}
	if entry == nil {
		return Presence{}, ErrNotFound
	}
	return fromRTDB(vendorID, *entry), nil
}

// ListOnline queries only children whose online flag is true.
func (s *FirebaseStore) ListOnline(ctx context.Context) ([]Presence, error) {
	var data map[string]rtdbPresence
	if err := s.client.NewRef(s.node).OrderByChild("online").EqualTo(true).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("rtdb query online vendors: %w", err)
	}
	out := make([]Presence, 0, len(data))
	for id, entry := range data {
		if entry.Online {
			out = append(out, fromRTDB(id, entry))
		}
	}
	return out, nil
}

func toRTDB(p Presence) rtdbPresence {
	entry := rtdbPresence{Online: p.Online, LastSeen: p.LastSeen.UnixMilli(), Address: p.Address}
	if p.Location != nil {
		lat, lng := p.Location.Lat, p.Location.Lng
		entry.Lat, entry.Lng = &lat, &lng
	}
	return entry
}

func fromRTDB(vendorID string, entry rtdbPresence) Presence {
	p := Presence{
		VendorID: vendorID,
		Online:   entry.Online,
		Address:  entry.Address,
	}
	if entry.LastSeen > 0 {
		p.LastSeen = time.UnixMilli(entry.LastSeen).UTC()
	}
	if entry.Lat != nil && entry.Lng != nil {
		p.Location = &geo.Point{Lat: *entry.Lat, Lng: *entry.Lng}
	}
	return p
}
