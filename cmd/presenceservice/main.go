package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/servicebook/internal/config"
	"github.com/example/servicebook/internal/firebaseapp"
	"github.com/example/servicebook/internal/presence"
	"github.com/example/servicebook/internal/presence/transport"
	"github.com/example/servicebook/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("presence-service")
	defer logger.Sync() //nolint:errcheck

	var cfg config.Presence
	if err := config.Load(&cfg); err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	shutdown, err := observability.SetupTracer(ctx, "presence-service", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	checks := map[string]observability.Check{}
	store := buildStore(ctx, cfg, logger, checks)

	var geocoder presence.Geocoder
	if cfg.MapsAPIKey != "" {
		maps, err := presence.NewMapsGeocoder(cfg.MapsAPIKey)
		if err != nil {
			logger.Warn("maps geocoder disabled", zap.Error(err))
		} else {
			geocoder = maps
		}
	}
	ingestor := presence.NewIngestor(store, geocoder, logger.Named("ingest"))

	grpcSrv := transport.NewGRPCServer(transport.NewServer(ingestor, logger))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}
	go func() {
		logger.Info("presence grpc listening", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	}()

	r := chi.NewRouter()
	r.Mount("/", transport.NewHTTP(ingestor, logger).Router())
	r.Mount("/observability", observability.MetricsRouter(checks))
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("presence REST listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("presence rest server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
}

// buildStore prefers Firebase RTDB, then Redis, then memory.
func buildStore(ctx context.Context, cfg config.Presence, logger *zap.Logger, checks map[string]observability.Check) presence.Store {
	if cfg.Firebase.Enabled() && cfg.Firebase.DatabaseURL != "" {
		clients, err := firebaseapp.New(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("firebase init", zap.Error(err))
		}
		logger.Info("presence backed by firebase", zap.String("node", cfg.PresenceNode))
		return presence.NewFirebaseStore(clients.Database, cfg.PresenceNode)
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("presence backed by redis")
		return presence.NewRedisStore(client, "")
	}
	logger.Warn("presence kept in memory")
	return presence.NewMemoryStore()
}
