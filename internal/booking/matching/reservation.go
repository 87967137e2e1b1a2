package matching

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultReservationPrefix = "reserve:vendor:"
	defaultReservationTTL    = 2 * time.Minute
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisReservationStore relies on SET NX PX so that only one booking can hold
// a vendor at a time.
type RedisReservationStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisReservationStore constructs the reservation helper.
func NewRedisReservationStore(client redis.Cmdable, prefix string) *RedisReservationStore {
	if prefix == "" {
		prefix = defaultReservationPrefix
	}
	return &RedisReservationStore{client: client, keyPrefix: prefix}
}

// TryReserve acquires the vendor for bookingID. Reserving again for the same
// booking succeeds and refreshes the TTL.
func (r *RedisReservationStore) TryReserve(ctx context.Context, vendorID string, bookingID int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	key := r.keyPrefix + vendorID
	holder := strconv.FormatInt(bookingID, 10)
	ok, err := r.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return true, nil
	}
	current, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return r.client.SetNX(ctx, key, holder, ttl).Result()
	}
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}
	if current != holder {
		return false, nil
	}
	if err := r.client.PExpire(ctx, key, ttl).Err(); err != nil {
		return false, fmt.Errorf("redis pexpire: %w", err)
	}
	return true, nil
}

func (r *RedisReservationStore) Release(ctx context.Context, vendorID string, bookingID int64) error {
	key := r.keyPrefix + vendorID
	if err := releaseScript.Run(ctx, r.client, []string{key}, strconv.FormatInt(bookingID, 10)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

type memoryReservation struct {
	bookingID int64
	expires   time.Time
}

// MemoryReservationStore is a single-process ReservationStore.
type MemoryReservationStore struct {
	mu   sync.Mutex
	held map[string]memoryReservation
	now  func() time.Time
}

// NewMemoryReservationStore uses now for expiry; nil means time.Now.
func NewMemoryReservationStore(now func() time.Time) *MemoryReservationStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryReservationStore{held: make(map[string]memoryReservation), now: now}
}

func (m *MemoryReservationStore) TryReserve(_ context.Context, vendorID string, bookingID int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.held[vendorID]; ok && now.Before(cur.expires) && cur.bookingID != bookingID {
		return false, nil
	}
	m.held[vendorID] = memoryReservation{bookingID: bookingID, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryReservationStore) Release(_ context.Context, vendorID string, bookingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.held[vendorID]; ok && cur.bookingID == bookingID {
		delete(m.held, vendorID)
	}
	return nil
}
