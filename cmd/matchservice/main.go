package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/mechassist/internal/location"
	"github.com/example/mechassist/internal/match/domain"
	"github.com/example/mechassist/internal/match/geo"
	"github.com/example/mechassist/internal/match/handler"
	"github.com/example/mechassist/internal/match/lock"
	"github.com/example/mechassist/internal/match/repository"
	"github.com/example/mechassist/internal/match/service"
	outboxworker "github.com/example/mechassist/internal/outbox"
	"github.com/example/mechassist/pkg/observability"
	outboxpkg "github.com/example/mechassist/pkg/outbox"
)

type appConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	JWTSecret       string
	PostgresDSN     string
	RedisAddr       string
	NATSURL         string
	RatingLockTTL   time.Duration
	RatingLockTries int
	RatingBackoff   time.Duration
	OutboxPoll      time.Duration
	OutboxBatch     int
	OutboxRetry     int
	SeedDemoUsers   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger("match-service", os.Getenv("ENV") == "development")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.InitTracing(ctx, "match-service")
	if err != nil {
		logger.Warn("tracing setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
		logger.Warn("JWT_SECRET not set, using insecure development secret")
	}

	var db *sql.DB
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
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("matchservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	store := repository.NewMemoryStore()
	if cfg.SeedDemoUsers {
		seedDemoUsers(store, logger)
	}

	var locker lock.Locker = lock.NewMemoryLocker()
	if redisClient != nil {
		locker = lock.NewRedisLocker(redisClient, "")
	}

	publisher := outboxpkg.NewPublisher(natsConn, "match.events")
	svc := service.New(store, publisher, domain.SystemClock{}, locker, geo.FareFromEnv(), service.Config{
		RatingLockTTL:      cfg.RatingLockTTL,
		RatingLockAttempts: cfg.RatingLockTries,
		RatingLockBackoff:  cfg.RatingBackoff,
	})

	r := chi.NewRouter()
	r.Mount("/", handler.NewHTTP(svc, cfg.JWTSecret).Router())
	r.Mount("/observability", observability.OpsRouter(nil))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	location.RegisterLocationServer(grpcSrv, location.NewServer(store, logger.Named("location")))
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("listen grpc", zap.Error(err))
		}
		logger.Info("location ingest listening", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Fatal("grpc serve", zap.Error(err))
		}
	}()

	if db != nil && natsConn != nil {
		dispatcher := outboxworker.NewDispatcher(db, natsConn, logger.Named("outbox"), outboxworker.DispatcherConfig{
			PollInterval: cfg.OutboxPoll,
			BatchSize:    cfg.OutboxBatch,
			RetryMax:     cfg.OutboxRetry,
		})
		go func() {
			if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox dispatcher stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Info("outbox dispatcher disabled", zap.Bool("db", db != nil), zap.Bool("nats", natsConn != nil))
	}

	go func() {
		logger.Info("match service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
}

// seedDemoUsers provisions a fixed customer, mechanic and admin so the
// service is exercisable without an identity provider in front of it.
func seedDemoUsers(store *repository.MemoryStore, logger *zap.Logger) {
	demo := []domain.User{
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Name: "demo customer", Role: domain.RoleCustomer},
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Name: "demo mechanic", Role: domain.RoleMechanic},
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), Name: "demo admin", Role: domain.RoleAdmin},
	}
	for _, u := range demo {
		store.PutUser(u)
		logger.Info("seeded demo user", zap.String("id", u.ID.String()), zap.String("role", string(u.Role)))
	}
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:        getenv("GRPC_ADDR", ":9090"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		PostgresDSN:     firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		NATSURL:         os.Getenv("NATS_URL"),
		RatingLockTTL:   time.Duration(parseIntEnv("RATING_LOCK_TTL_SEC", 5)) * time.Second,
		RatingLockTries: parseIntEnv("RATING_LOCK_ATTEMPTS", 5),
		RatingBackoff:   time.Duration(parseIntEnv("RATING_LOCK_BACKOFF_MS", 20)) * time.Millisecond,
		OutboxPoll:      time.Duration(parseIntEnv("OUTBOX_POLL_MS", 200)) * time.Millisecond,
		OutboxBatch:     parseIntEnv("OUTBOX_BATCH", 100),
		OutboxRetry:     parseIntEnv("OUTBOX_RETRY_MAX", 3),
		SeedDemoUsers:   os.Getenv("SEED_DEMO_USERS") == "true",
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
