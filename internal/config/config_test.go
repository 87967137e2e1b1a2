package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadBookingDefaults(t *testing.T) {
	var cfg Booking
	require.NoError(t, Load(&cfg, filepath.Join(t.TempDir(), "missing.env")))
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 50.0, cfg.MaxDistanceKm)
	require.Equal(t, 60*time.Second, cfg.StillSearchingAfter)
	require.Equal(t, "vendor_presence", cfg.PresenceNode)
	require.False(t, cfg.Firebase.Enabled())
}

func TestLoadReadsEnvironmentAndDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SB_TEST_DOTENV_ONLY=1\nREDIS_ADDR=from-file:6379\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SB_TEST_DOTENV_ONLY") })

	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("STILL_SEARCHING_AFTER", "90s")
	t.Setenv("FIREBASE_PROJECT_ID", "servicebook-dev")

	var cfg Booking
	require.NoError(t, Load(&cfg, path))
	require.Equal(t, "redis:6379", cfg.RedisAddr)
	require.Equal(t, 90*time.Second, cfg.StillSearchingAfter)
	require.Equal(t, "servicebook-dev", cfg.Firebase.ProjectID)
	require.True(t, cfg.Firebase.Enabled())
	require.Equal(t, "1", os.Getenv("SB_TEST_DOTENV_ONLY"))
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_READ_RPS", "fast")
	var cfg Gateway
	require.Error(t, Load(&cfg, filepath.Join(t.TempDir(), "missing.env")))
}
