// Package customer resolves customer profiles owned by the user service.
package customer

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when the customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer is the subset of the user profile the booking flow needs.
type Customer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	FCMToken string `json:"fcmToken,omitempty"`
}

// DisplayName falls back to a generic label for profiles without a name.
func (c Customer) DisplayName() string {
	if c.Name == "" {
		return "Customer"
	}
	return c.Name
}

// Directory looks customers up by id or phone and keeps their device token.
type Directory interface {
	FindByID(ctx context.Context, id string) (Customer, error)
	FindByPhone(ctx context.Context, phone string) (Customer, error)
	// SetFCMToken registers token for id and removes it from any other customer.
	SetFCMToken(ctx context.Context, id, token string) error
}

// MemoryDirectory is an in-memory Directory.
type MemoryDirectory struct {
	mu        sync.RWMutex
	customers map[string]Customer
}

// NewMemoryDirectory constructs a directory seeded with customers.
func NewMemoryDirectory(customers ...Customer) *MemoryDirectory {
	d := &MemoryDirectory{customers: make(map[string]Customer)}
	for _, c := range customers {
		d.customers[c.ID] = c
	}
	return d
}

// Put inserts or replaces a customer.
func (d *MemoryDirectory) Put(c Customer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customers[c.ID] = c
}

func (d *MemoryDirectory) FindByID(_ context.Context, id string) (Customer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.customers[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (d *MemoryDirectory) FindByPhone(_ context.Context, phone string) (Customer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.customers {
		if c.Phone == phone {
			return c, nil
		}
	}
	return Customer{}, ErrNotFound
}

func (d *MemoryDirectory) SetFCMToken(_ context.Context, id, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[id]
	if !ok {
		return ErrNotFound
	}
	for otherID, other := range d.customers {
		if otherID != id && other.FCMToken == token {
			other.FCMToken = ""
			d.customers[otherID] = other
		}
	}
	c.FCMToken = token
	d.customers[id] = c
	return nil
}
