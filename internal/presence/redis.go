package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/servicebook/internal/geo"
)

const defaultRedisPrefix = "presence:"

// Redis GEO indexes only cover the Web Mercator latitude range.
const maxGeoLatitude = 85.05112878

// RedisStore keeps one hash per vendor, a set of online vendor ids and a GEO
// index of known locations.
type RedisStore struct {
	client    redis.Cmdable
	prefix    string
	onlineKey string
	geoKey    string
}

// NewRedisStore constructs the store. An empty prefix uses "presence:".
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		onlineKey: prefix + "online",
		geoKey:    prefix + "locs",
	}
}

func (s *RedisStore) vendorKey(id string) string {
	return s.prefix + "vendor:" + id
}

// Upsert replaces the vendor's presence atomically.
func (s *RedisStore) Upsert(ctx context.Context, p Presence) error {
	if p.VendorID == "" {
		return errors.New("presence: vendor id is required")
	}
	key := s.vendorKey(p.VendorID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		fields := map[string]any{
			"online":    boolField(p.Online),
			"last_seen": p.LastSeen.UnixMilli(),
			"address":   p.Address,
		}
		if p.Location != nil {
			fields["lat"] = strconv.FormatFloat(p.Location.Lat, 'f', -1, 64)
			fields["lng"] = strconv.FormatFloat(p.Location.Lng, 'f', -1, 64)
			if indexable(*p.Location) {
				pipe.GeoAdd(ctx, s.geoKey, &redis.GeoLocation{Name: p.VendorID, Longitude: p.Location.Lng, Latitude: p.Location.Lat})
			} else {
				pipe.ZRem(ctx, s.geoKey, p.VendorID)
			}
		} else {
			pipe.ZRem(ctx, s.geoKey, p.VendorID)
		}
		pipe.HSet(ctx, key, fields)
		if p.Online {
			pipe.SAdd(ctx, s.onlineKey, p.VendorID)
		} else {
			pipe.SRem(ctx, s.onlineKey, p.VendorID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert presence: %w", err)
	}
	return nil
}

func indexable(p geo.Point) bool {
	return p.Lat >= -maxGeoLatitude && p.Lat <= maxGeoLatitude && p.Lng >= -180 && p.Lng <= 180
}

func (s *RedisStore) Get(ctx context.Context, vendorID string) (Presence, error) {
	fields, err := s.client.HGetAll(ctx, s.vendorKey(vendorID)).Result()
	if err != nil {
		return Presence{}, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return Presence{}, ErrNotFound
	}
	return parsePresence(vendorID, fields), nil
}

func (s *RedisStore) ListOnline(ctx context.Context) ([]Presence, error) {
	ids, err := s.client.SMembers(ctx, s.onlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return s.load(ctx, ids, nil)
}

// ListOnlineWithin narrows online vendors with a GEO radius query.
func (s *RedisStore) ListOnlineWithin(ctx context.Context, center geo.Point, radiusKm float64) ([]Presence, error) {
	found, err := s.client.GeoRadius(ctx, s.geoKey, center.Lng, center.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis georadius: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(found))
	for _, loc := range found {
		ids = append(ids, loc.Name)
	}
	members, err := s.client.SMembers(ctx, s.onlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	online := make(map[string]struct{}, len(members))
	for _, m := range members {
		online[m] = struct{}{}
	}
	keep := make([]bool, len(ids))
	for i, id := range ids {
		_, keep[i] = online[id]
	}
	return s.load(ctx, ids, keep)
}

func (s *RedisStore) load(ctx context.Context, ids []string, keep []bool) ([]Presence, error) {
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			if keep != nil && !keep[i] {
				continue
			}
			cmds[i] = pipe.HGetAll(ctx, s.vendorKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis load presence: %w", err)
	}
	out := make([]Presence, 0, len(ids))
	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		p := parsePresence(ids[i], fields)
		if p.Online {
			out = append(out, p)
		}
	}
	return out, nil
}

func parsePresence(vendorID string, fields map[string]string) Presence {
	p := Presence{
		VendorID: vendorID,
		Online:   fields["online"] == "1",
		Address:  fields["address"],
	}
	if ms, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		p.LastSeen = time.UnixMilli(ms).UTC()
	}
	lat, latErr := strconv.ParseFloat(fields["lat"], 64)
	lng, lngErr := strconv.ParseFloat(fields["lng"], 64)
	if latErr == nil && lngErr == nil {
		p.Location = &geo.Point{Lat: lat, Lng: lng}
	}
	return p
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
