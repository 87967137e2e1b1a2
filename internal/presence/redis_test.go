package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/servicebook/internal/geo"
	"github.com/example/servicebook/internal/presence"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStoreUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := presence.NewRedisStore(newRedisClient(t), "")
	seen := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, presence.Presence{
		VendorID: "v1",
		Online:   true,
		LastSeen: seen,
		Location: &geo.Point{Lat: 12.98, Lng: 77.60},
		Address:  "MG Road",
	}))

	got, err := store.Get(ctx, "v1")
	require.NoError(t, err)
	require.True(t, got.Online)
	require.Equal(t, seen, got.LastSeen)
	require.Equal(t, "MG Road", got.Address)
	require.NotNil(t, got.Location)
	require.Equal(t, 12.98, got.Location.Lat)
	require.Equal(t, 77.60, got.Location.Lng)

	_, err = store.Get(ctx, "v2")
	require.ErrorIs(t, err, presence.ErrNotFound)
}

func TestRedisStoreListOnlineTracksFlag(t *testing.T) {
	ctx := context.Background()
	store := presence.NewRedisStore(newRedisClient(t), "")

	require.NoError(t, store.Upsert(ctx, presence.Presence{VendorID: "v1", Online: true, Location: &geo.Point{Lat: 1, Lng: 1}}))
	require.NoError(t, store.Upsert(ctx, presence.Presence{VendorID: "v2", Online: true}))
	require.NoError(t, store.Upsert(ctx, presence.Presence{VendorID: "v3", Online: false, Location: &geo.Point{Lat: 1, Lng: 1}}))

	online, err := store.ListOnline(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"v1", "v2"}, vendorIDs(online))

	require.NoError(t, store.Upsert(ctx, presence.Presence{VendorID: "v1", Online: false}))
	online, err = store.ListOnline(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"v2"}, vendorIDs(online))
	require.Nil(t, online[0].Location)
}

func TestRedisStoreListOnlineWithin(t *testing.T) {
	ctx := context.Background()
	store := presence.NewRedisStore(newRedisClient(t), "")

	require.NoError(t, store.Upsert(ctx, presence.Presence{VendorID: "near", Online: true, Location: &geo.Point{Lat: 12.98, Lng: 77.60}}))
	require.NoError(t, store.Upsert(ctx, presence.Presence{VendorID: "far", Online: true, Location: &geo.Point{Lat: 13.50, Lng: 78.50}}))
	require.NoError(t, store.Upsert(ctx, presence.Presence{VendorID: "offline", Online: false, Location: &geo.Point{Lat: 12.97, Lng: 77.59}}))

	got, err := store.ListOnlineWithin(ctx, geo.Point{Lat: 12.97, Lng: 77.59}, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"near"}, vendorIDs(got))
}

func TestRedisStoreKeepsPresenceOutsideGeoRange(t *testing.T) {
	ctx := context.Background()
	store := presence.NewRedisStore(newRedisClient(t), "")

	require.NoError(t, store.Upsert(ctx, presence.Presence{VendorID: "polar", Online: true, LastSeen: time.Now(), Location: &geo.Point{Lat: 12, Lng: 77}}))
	require.NoError(t, store.Upsert(ctx, presence.Presence{VendorID: "polar", Online: true, LastSeen: time.Now(), Location: &geo.Point{Lat: 86, Lng: 0}}))

	got, err := store.Get(ctx, "polar")
	require.NoError(t, err)
	require.True(t, got.Online)
	require.Equal(t, &geo.Point{Lat: 86, Lng: 0}, got.Location)

	all, err := store.ListOnline(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"polar"}, vendorIDs(all))

	near, err := store.ListOnlineWithin(ctx, geo.Point{Lat: 12, Lng: 77}, 10)
	require.NoError(t, err)
	require.Empty(t, near)
}

func vendorIDs(ps []presence.Presence) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.VendorID)
	}
	return ids
}
