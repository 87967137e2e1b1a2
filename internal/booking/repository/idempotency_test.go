package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/servicebook/internal/booking/domain"
	"github.com/example/servicebook/internal/booking/repository"
)

func TestIdempotencyStores(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stores := map[string]domain.IdempotencyStore{
		"memory": repository.NewMemoryIdempotencyStore(),
		"redis":  repository.NewRedisIdempotencyStore(client, time.Hour),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ok, err := store.GetResponse(ctx, "k1")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, store.PutResponse(ctx, "k1", []byte(`{"bookingId":1}`)))
			got, ok, err := store.GetResponse(ctx, "k1")
			require.NoError(t, err)
			require.True(t, ok)
			require.JSONEq(t, `{"bookingId":1}`, string(got))
		})
	}

	mr.FastForward(2 * time.Hour)
	_, ok, err := stores["redis"].GetResponse(context.Background(), "k1")
	require.NoError(t, err)
	require.False(t, ok)
}
