package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimited(t *testing.T, limits Limits) (http.Handler, *time.Time, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(client, limits).WithClock(func() time.Time { return now })
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &now, mr
}

func hit(h http.Handler, method, path, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Client-ID", client)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterBurstThenSteadyRate(t *testing.T) {
	h, now, _ := newLimited(t, Limits{
		ClassRead:  {Rate: 10, Burst: 10},
		ClassWrite: {Rate: 1, Burst: 2},
	})

	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPatch, "/v1/bookings/status", "a").Code)
	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPatch, "/v1/bookings/status", "a").Code)
	rec := hit(h, http.MethodPatch, "/v1/bookings/status", "a")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), `"success":false`)

	// other clients and classes keep their own allowance
	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPatch, "/v1/bookings/status", "b").Code)
	require.Equal(t, http.StatusNoContent, hit(h, http.MethodGet, "/v1/bookings/1", "a").Code)

	*now = now.Add(time.Second)
	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPatch, "/v1/bookings/status", "a").Code)
	require.Equal(t, http.StatusTooManyRequests, hit(h, http.MethodPatch, "/v1/bookings/status", "a").Code)
}

func TestRateLimiterBookingClassIsSeparate(t *testing.T) {
	h, now, _ := newLimited(t, Limits{
		ClassWrite:   {Rate: 100, Burst: 100},
		ClassBooking: {Rate: 0.2, Burst: 1},
	})

	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/v1/bookings", "c1").Code)
	rec := hit(h, http.MethodPost, "/v1/bookings/", "c1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "5", rec.Header().Get("Retry-After"))
	require.Equal(t, http.StatusTooManyRequests, hit(h, http.MethodPost, "/v1/auth/otp", "c1").Code)
	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/v1/bookings/1/cancel", "c1").Code)

	*now = now.Add(5 * time.Second)
	require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/v1/bookings", "c1").Code)
}

func TestRateLimiterDisabledAndFailOpen(t *testing.T) {
	var nilLimiter *RateLimiter
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	require.Equal(t, http.StatusOK, hit(nilLimiter.Middleware(next), http.MethodPost, "/v1/bookings", "a").Code)

	h, _, mr := newLimited(t, Limits{ClassRead: {Rate: 1, Burst: 0}})
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusNoContent, hit(h, http.MethodGet, "/", "a").Code)
		require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/v1/bookings", "a").Code)
	}

	h, _, mr = newLimited(t, Limits{ClassWrite: {Rate: 1, Burst: 1}})
	mr.Close()
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusNoContent, hit(h, http.MethodPut, "/v1/x", "a").Code)
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]string{
		http.MethodPost + " /v1/bookings":          ClassBooking,
		http.MethodPost + " /v1/auth/otp":          ClassBooking,
		http.MethodPost + " /v1/bookings/7/cancel": ClassWrite,
		http.MethodGet + " /v1/bookings":           ClassRead,
		http.MethodHead + " /v1/bookings/7":        ClassRead,
		http.MethodPatch + " /v1/bookings/status":  ClassWrite,
	}
	for route, want := range cases {
		method, path, _ := strings.Cut(route, " ")
		require.Equal(t, want, Classify(httptest.NewRequest(method, path, nil)), route)
	}
}

func TestClientIdentifier(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	require.Equal(t, "10.0.0.9", clientIdentifier(req))
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", clientIdentifier(req))
	req.Header.Set("X-Client-ID", "app-1")
	require.Equal(t, "app-1", clientIdentifier(req))
}
