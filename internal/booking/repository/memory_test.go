package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/servicebook/internal/booking/domain"
	"github.com/example/servicebook/internal/booking/repository"
)

func TestMemoryRepositoryAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()

	first, err := repo.Create(ctx, domain.Booking{CustomerID: "c1", Status: domain.StatusPending})
	require.NoError(t, err)
	second, err := repo.Create(ctx, domain.Booking{CustomerID: "c1", Status: domain.StatusPending})
	require.NoError(t, err)

	require.Equal(t, int64(1), first.ID)
	require.Equal(t, int64(2), second.ID)
	require.Equal(t, int64(1), first.Version)
}

func TestMemoryRepositoryOptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	b, err := repo.Create(ctx, domain.Booking{CustomerID: "c1", Status: domain.StatusPending})
	require.NoError(t, err)

	b.Status = domain.StatusCancelled
	updated, err := repo.Update(ctx, b)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	_, err = repo.Update(ctx, b)
	require.ErrorIs(t, err, domain.ErrStaleBooking)

	_, err = repo.Update(ctx, domain.Booking{ID: 99})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.Get(ctx, 99)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryRepositoryListings(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, st := range []domain.Status{domain.StatusPending, domain.StatusCompleted, domain.StatusCompleted} {
		b := domain.Booking{CustomerID: "c1", Status: st, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		b.AssignVendor("v1", 1)
		_, err := repo.Create(ctx, b)
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, domain.Booking{CustomerID: "c2", Status: domain.StatusPending, CreatedAt: base})
	require.NoError(t, err)

	all, err := repo.ListByCustomer(ctx, "c1", domain.ListQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, int64(3), all[0].ID)
	require.Equal(t, int64(1), all[2].ID)

	completed, err := repo.ListByCustomer(ctx, "c1", domain.ListQuery{Status: domain.StatusCompleted, Limit: 1})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Equal(t, int64(3), completed[0].ID)

	byVendor, err := repo.ListByVendor(ctx, "v1", domain.ListQuery{})
	require.NoError(t, err)
	require.Len(t, byVendor, 3)
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	b := domain.Booking{CustomerID: "c1", Status: domain.StatusPending}
	b.AssignVendor("v1", 2)
	created, err := repo.Create(ctx, b)
	require.NoError(t, err)

	*created.VendorID = "mutated"
	again, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "v1", *again.VendorID)
}
