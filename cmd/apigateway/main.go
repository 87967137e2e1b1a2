package main

import (
	"context"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/servicebook/internal/config"
	ratelimitmw "github.com/example/servicebook/internal/http/middleware"
	"github.com/example/servicebook/internal/http/respond"
	"github.com/example/servicebook/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("api-gateway")
	defer logger.Sync() //nolint:errcheck

	var cfg config.Gateway
	if err := config.Load(&cfg); err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	shutdown, err := observability.SetupTracer(ctx, "api-gateway", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	redisClient := newRedisClient(ctx, cfg.RedisAddr, logger)
	checks := map[string]observability.Check{}
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var limiter *ratelimitmw.RateLimiter
	if redisClient != nil {
		limiter = ratelimitmw.NewRateLimiter(redisClient, ratelimitmw.Limits{
			ratelimitmw.ClassRead:    {Rate: cfg.ReadRate, Burst: cfg.ReadBurst},
			ratelimitmw.ClassWrite:   {Rate: cfg.WriteRate, Burst: cfg.WriteBurst},
			ratelimitmw.ClassBooking: {Rate: cfg.BookingRate, Burst: cfg.BookingBurst},
		})
	}

	client := &http.Client{Timeout: time.Duration(cfg.ProxyTimeoutSec) * time.Second}
	bookings := proxy(client, cfg.BookingURL, logger)
	presence := proxy(client, cfg.PresenceURL, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID, chimiddleware.RealIP, chimiddleware.Logger, chimiddleware.Recoverer)
	r.Mount("/observability", observability.MetricsRouter(checks))
	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Handle("/v1/presence/*", presence)
		r.Handle("/v1/*", bookings)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("api gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// proxy forwards the request unchanged to the same path on base.
func proxy(client *http.Client, base string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := base + r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
		if err != nil {
			respond.Error(w, http.StatusBadGateway, "bad upstream request")
			return
		}
		req.Header = r.Header.Clone()
		req.Header.Set(chimiddleware.RequestIDHeader, chimiddleware.GetReqID(r.Context()))
		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("upstream unavailable", zap.String("target", base), zap.Error(err))
			respond.Error(w, http.StatusBadGateway, "upstream unavailable")
			return
		}
		defer resp.Body.Close()
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		vv := make([]string, len(v))
		copy(vv, v)
		dst[k] = vv
	}
}

func newRedisClient(ctx context.Context, addr string, logger *zap.Logger) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed, rate limiting disabled", zap.Error(err))
		_ = client.Close()
		return nil
	}
	return client
}
