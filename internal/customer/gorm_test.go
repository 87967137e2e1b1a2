package customer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/example/servicebook/internal/customer"
)

func TestGormDirectory(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()
	pg, err := postgrescontainer.Run(ctx, "postgres:16",
		postgrescontainer.WithDatabase("servicebook"),
		postgrescontainer.WithUsername("postgres"),
		postgrescontainer.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pg.Terminate(ctx))
	})
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := customer.OpenGorm(dsn)
	require.NoError(t, err)
	dir := customer.NewGormDirectory(db)
	require.NoError(t, dir.Migrate())
	require.NoError(t, db.Create(&customer.Record{ID: "c1", Name: "Meera", Phone: "9876543210", FCMToken: "tok-c1"}).Error)

	c, err := dir.FindByID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "Meera", c.Name)
	require.Equal(t, "tok-c1", c.FCMToken)

	byPhone, err := dir.FindByPhone(ctx, "9876543210")
	require.NoError(t, err)
	require.Equal(t, "c1", byPhone.ID)

	_, err = dir.FindByID(ctx, "c2")
	require.ErrorIs(t, err, customer.ErrNotFound)

	require.NoError(t, db.Create(&customer.Record{ID: "c3", Name: "Ravi", Phone: "9000000000"}).Error)
	require.NoError(t, dir.SetFCMToken(ctx, "c3", "tok-c1"))
	moved, err := dir.FindByID(ctx, "c3")
	require.NoError(t, err)
	require.Equal(t, "tok-c1", moved.FCMToken)
	c, err = dir.FindByID(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, c.FCMToken)
	require.ErrorIs(t, dir.SetFCMToken(ctx, "c2", "tok"), customer.ErrNotFound)
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	dir := customer.NewMemoryDirectory(customer.Customer{ID: "c1", Phone: "111"})

	c, err := dir.FindByPhone(ctx, "111")
	require.NoError(t, err)
	require.Equal(t, "c1", c.ID)
	require.Equal(t, "Customer", c.DisplayName())

	_, err = dir.FindByPhone(ctx, "222")
	require.ErrorIs(t, err, customer.ErrNotFound)
}

func TestMemoryDirectorySetFCMTokenMovesToken(t *testing.T) {
	ctx := context.Background()
	dir := customer.NewMemoryDirectory(
		customer.Customer{ID: "c1", FCMToken: "shared"},
		customer.Customer{ID: "c2"},
	)

	require.NoError(t, dir.SetFCMToken(ctx, "c2", "shared"))
	c1, err := dir.FindByID(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, c1.FCMToken)
	c2, err := dir.FindByID(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, "shared", c2.FCMToken)

	require.ErrorIs(t, dir.SetFCMToken(ctx, "c9", "x"), customer.ErrNotFound)
}
