// Package middleware holds HTTP middleware shared by the gateway and services.
package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/example/servicebook/internal/http/respond"
)

var (
	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	}, []string{"class"})
	rateLimiterErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rate_limiter_errors_total",
		Help: "Limiter lookups that failed and let the request through.",
	})
)

// Request classes. Each class has its own allowance per client.
const (
	ClassRead    = "read"
	ClassWrite   = "write"
	ClassBooking = "booking"
)

// RateConfig allows Rate requests per second on average with bursts of up to
// Burst back-to-back requests.
type RateConfig struct {
	Rate  float64
	Burst float64
}

func (c RateConfig) enabled() bool { return c.Rate > 0 && c.Burst >= 1 }

// emissionInterval is the spacing between requests at the steady rate.
func (c RateConfig) emissionInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.Rate)
}

// Limits maps request classes to allowances. A class without an enabled
// allowance is not limited.
type Limits map[string]RateConfig

// RateLimiter applies a generic cell rate algorithm per client and request
// class. State is one Redis key per pair holding the theoretical arrival time.
type RateLimiter struct {
	client redis.Scripter
	limits Limits
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter returns nil when client is nil; a nil limiter lets every
// request through.
func NewRateLimiter(client redis.Scripter, limits Limits) *RateLimiter {
	if client == nil {
		return nil
	}
	return &RateLimiter{client: client, limits: limits, script: redis.NewScript(gcraLua), now: time.Now}
}

// WithClock replaces the limiter's time source.
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if l != nil && now != nil {
		l.now = now
	}
	return l
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := Classify(r)
		cfg, ok := l.limits[class]
		if !ok || !cfg.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		retryAfter, err := l.reserve(r.Context(), class, clientIdentifier(r), cfg)
		if err != nil {
			rateLimiterErrors.Inc()
			next.ServeHTTP(w, r)
			return
		}
		if retryAfter > 0 {
			rateLimited.WithLabelValues(class).Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			respond.Error(w, http.StatusTooManyRequests, "too many requests, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reserve returns zero when the request conforms, otherwise how long the
// client must wait.
func (l *RateLimiter) reserve(ctx context.Context, class, client string, cfg RateConfig) (time.Duration, error) {
	interval := cfg.emissionInterval().Milliseconds()
	if interval < 1 {
		interval = 1
	}
	tolerance := int64(math.Floor(cfg.Burst-1)) * interval
	key := "rl:" + class + ":" + client
	wait, err := l.script.Run(ctx, l.client, []string{key}, l.now().UnixMilli(), interval, tolerance).Int64()
	if err != nil {
		return 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return time.Duration(wait) * time.Millisecond, nil
}

// Classify puts booking creation and login code requests in the booking
// class, other safe methods in read, the rest in write.
func Classify(r *http.Request) string {
	if r.Method == http.MethodPost {
		switch strings.TrimSuffix(r.URL.Path, "/") {
		case "/v1/bookings", "/v1/auth/otp":
			return ClassBooking
		}
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	}
	return ClassWrite
}

// clientIdentifier prefers an explicit client id, then the first forwarded
// address, then the peer address.
func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "anonymous"
}

// gcraLua returns 0 and advances the stored arrival time when the request
// conforms, otherwise the milliseconds until it would.
const gcraLua = `
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local tolerance = tonumber(ARGV[3])

local tat = tonumber(redis.call('GET', KEYS[1]))
if tat == nil or tat < now then
  tat = now
end

local allow_at = tat - tolerance
if now < allow_at then
  return allow_at - now
end

local next_tat = tat + interval
redis.call('SET', KEYS[1], next_tat, 'PX', next_tat - now)
return 0
`
