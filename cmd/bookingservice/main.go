package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/servicebook/internal/auth"
	"github.com/example/servicebook/internal/booking/domain"
	"github.com/example/servicebook/internal/booking/handler"
	"github.com/example/servicebook/internal/booking/matching"
	"github.com/example/servicebook/internal/booking/repository"
	bookingservice "github.com/example/servicebook/internal/booking/service"
	"github.com/example/servicebook/internal/config"
	"github.com/example/servicebook/internal/customer"
	"github.com/example/servicebook/internal/firebaseapp"
	"github.com/example/servicebook/internal/notify"
	"github.com/example/servicebook/internal/otp"
	outboxworker "github.com/example/servicebook/internal/outbox"
	"github.com/example/servicebook/internal/partner"
	"github.com/example/servicebook/internal/presence"
	"github.com/example/servicebook/internal/scheduler"
	"github.com/example/servicebook/internal/vendor"
	"github.com/example/servicebook/pkg/events"
	"github.com/example/servicebook/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("booking-service")
	defer logger.Sync() //nolint:errcheck

	var cfg config.Booking
	if err := config.Load(&cfg); err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	shutdown, err := observability.SetupTracer(ctx, "booking-service", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}
	checks := map[string]observability.Check{}

	var db *sql.DB
	var pool *pgxpool.Pool
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		defer db.Close()
		checks["postgres"] = db.PingContext

		pool, err = pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("pgx pool", zap.Error(err))
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("bookingservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	var firebase *firebaseapp.Clients
	if cfg.Firebase.Enabled() {
		firebase, err = firebaseapp.New(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("firebase init", zap.Error(err))
		}
	}

	repo, customers, vendors := buildStores(ctx, db, pool, cfg, logger)
	presenceReader := buildPresence(redisClient, firebase, cfg)
	matcher, err := matching.NewMatcher(presenceReader, vendors, buildReservations(redisClient), matching.Config{
		DefaultMaxDistanceKm: cfg.MaxDistanceKm,
		ReservationTTL:       cfg.ReservationTTL,
	}, logger)
	if err != nil {
		logger.Fatal("matcher", zap.Error(err))
	}

	var notifier notify.Sender = notify.NewLogNotifier(logger)
	if firebase != nil {
		notifier = notify.NewFCM(firebase.Messaging, logger)
	}

	forwarders, vendorBackend, closeForwarders := buildForwarders(cfg, logger)
	defer closeForwarders()

	sched := scheduler.NewTimerScheduler()
	defer sched.Stop()

	var idem domain.IdempotencyStore = repository.NewMemoryIdempotencyStore()
	var otpCache otp.Cache = otp.NewMemoryCache(nil)
	if redisClient != nil {
		idem = repository.NewRedisIdempotencyStore(redisClient, cfg.IdempotencyTTL)
		otpCache = otp.NewRedisCache(redisClient, "")
	}

	svc, err := bookingservice.New(bookingservice.Deps{
		Repo:          repo,
		Customers:     customers,
		Vendors:       vendors,
		Matcher:       matcher,
		Notifier:      notifier,
		Events:        buildEvents(db, natsConn, cfg),
		Scheduler:     sched,
		Idempotency:   idem,
		Forwarders:    forwarders,
		VendorBackend: vendorBackend,
		Logger:        logger,
	}, bookingservice.Config{
		MaxDistanceKm:       cfg.MaxDistanceKm,
		StillSearchingAfter: cfg.StillSearchingAfter,
	})
	if err != nil {
		logger.Fatal("booking service", zap.Error(err))
	}
	defer svc.Drain()

	if cfg.VendorSecret == "" {
		logger.Warn("VENDOR_SECRET is not set; partner callback routes reject every request")
	}
	login := auth.NewLogin(otp.NewIssuer(otpCache, cfg.OTPTTL, logger), customers, cfg.JWTSecret, cfg.JWTTTL, logger)
	bookingHTTP := handler.NewHTTP(svc, matcher, handler.Options{
		JWTSecret:    cfg.JWTSecret,
		VendorSecret: cfg.VendorSecret,
	}, logger)

	notifyHTTP := notify.NewHTTP(notifier, customers, notify.HTTPOptions{
		JWTSecret:    cfg.JWTSecret,
		SecretHeader: handler.VendorSecretHeader,
		Secret:       cfg.VendorSecret,
	}, logger)

	r := chi.NewRouter()
	r.Mount("/", bookingHTTP.Router(login.Mount, notifyHTTP.Mount))
	r.Mount("/observability", observability.MetricsRouter(checks))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if db != nil && natsConn != nil {
		worker := outboxworker.NewWorker(db, natsConn, logger.Named("outbox"), outboxworker.WorkerConfig{
			PollInterval: cfg.OutboxPoll,
			BatchSize:    cfg.OutboxBatch,
			RetryMax:     cfg.OutboxRetry,
		})
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("outbox worker disabled", zap.Bool("db", db != nil), zap.Bool("nats", natsConn != nil))
	}

	go func() {
		logger.Info("booking service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildStores(ctx context.Context, db *sql.DB, pool *pgxpool.Pool, cfg config.Booking, logger *zap.Logger) (domain.Repository, customer.Directory, vendor.Directory) {
	if db == nil {
		logger.Warn("no POSTGRES_DSN, bookings and directories kept in memory")
		return repository.NewMemoryRepository(), customer.NewMemoryDirectory(), vendor.NewMemoryDirectory()
	}
	repo := repository.NewPostgresRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatal("migrate bookings", zap.Error(err))
	}
	if err := outboxworker.NewWriter(db, cfg.EventPrefix).Migrate(ctx); err != nil {
		logger.Fatal("migrate outbox", zap.Error(err))
	}

	gormDB, err := customer.OpenGorm(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("gorm open", zap.Error(err))
	}
	customers := customer.NewGormDirectory(gormDB)
	if err := customers.Migrate(); err != nil {
		logger.Fatal("migrate customers", zap.Error(err))
	}

	if _, err := pool.Exec(ctx, vendor.Schema); err != nil {
		logger.Fatal("migrate vendors", zap.Error(err))
	}
	return repo, customers, vendor.NewPostgresDirectory(pool)
}

// buildPresence prefers the store the presence service writes to.
func buildPresence(redisClient *redis.Client, firebase *firebaseapp.Clients, cfg config.Booking) presence.Reader {
	switch {
	case firebase != nil && firebase.Database != nil:
		return presence.NewFirebaseStore(firebase.Database, cfg.PresenceNode)
	case redisClient != nil:
		return presence.NewRedisStore(redisClient, "")
	default:
		return presence.NewMemoryStore()
	}
}

func buildReservations(redisClient *redis.Client) matching.ReservationStore {
	if redisClient == nil {
		return matching.NewMemoryReservationStore(nil)
	}
	return matching.NewRedisReservationStore(redisClient, "")
}

// buildEvents writes events to the outbox when Postgres is available and
// publishes straight to NATS otherwise.
func buildEvents(db *sql.DB, natsConn *nats.Conn, cfg config.Booking) domain.EventPublisher {
	switch {
	case db != nil:
		return outboxworker.NewWriter(db, cfg.EventPrefix)
	case natsConn != nil:
		return events.NewPublisher(natsConn, cfg.EventPrefix)
	default:
		return nil
	}
}

func buildForwarders(cfg config.Booking, logger *zap.Logger) ([]partner.Forwarder, partner.Forwarder, func()) {
	var forwarders []partner.Forwarder
	closers := []func(){}
	if cfg.PartnerWebhookURL != "" {
		forwarders = append(forwarders, partner.NewHTTPForwarder(partner.HTTPConfig{
			Name:         "webhook",
			URL:          cfg.PartnerWebhookURL,
			SecretHeader: cfg.PartnerWebhookHeader,
			Secret:       cfg.PartnerWebhookSecret,
			Timeout:      cfg.PartnerTimeout,
		}))
	}
	if cfg.RabbitURL != "" {
		bus, err := partner.NewAMQPForwarder(cfg.RabbitURL, cfg.PartnerExchange)
		if err != nil {
			logger.Warn("rabbitmq forwarding disabled", zap.Error(err))
		} else {
			forwarders = append(forwarders, bus)
			closers = append(closers, func() { _ = bus.Close() })
		}
	}
	var vendorBackend partner.Forwarder
	if cfg.VendorBackendURL != "" {
		vendorBackend = partner.NewHTTPForwarder(partner.HTTPConfig{
			Name:         "vendor-backend",
			URL:          cfg.VendorBackendURL,
			SecretHeader: "X-Vendor-Secret",
			Secret:       cfg.VendorBackendSecret,
			Timeout:      cfg.PartnerTimeout,
		})
	}
	return forwarders, vendorBackend, func() {
		for _, c := range closers {
			c()
		}
	}
}
