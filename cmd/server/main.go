package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"go-social-chat/internal/auth"
	"go-social-chat/internal/bridge"
	"go-social-chat/internal/config"
	"go-social-chat/internal/db"
	"go-social-chat/internal/gateway"
	"go-social-chat/internal/gateway/memory"
	"go-social-chat/internal/gateway/pgstore"
	myMiddleware "go-social-chat/internal/middleware"
	"go-social-chat/internal/social"
)

func main() {
	// 1. Config & Flags
	cfg, err := config.Load(".env", os.Args[1:])
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage (Platform Layer)
	store, accounts, closeStore, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("❌ Failed to open backend", zap.String("backend", cfg.Backend), zap.Error(err))
	}
	defer closeStore()

	// 3. Auth provider
	authOpts := []auth.Option{auth.WithTokenTTL(cfg.TokenTTL), auth.WithLogger(logger)}
	if cfg.FederatedEnabled() {
		authOpts = append(authOpts, auth.WithFederated(auth.Federated{
			Issuer: cfg.FederatedIssuer,
			Secret: cfg.FederatedSecret,
		}))
	}
	authService := auth.NewService(accounts, cfg.JWTSecret, authOpts...)
	authHandler := auth.NewHandler(authService)

	// 4. Bridge
	hub := bridge.NewHub(logger)
	go hub.Run(ctx)

	bridgeHandler := bridge.NewHandler(bridge.Deps{
		Auth:   authService,
		Store:  store,
		Social: social.NewService(store, social.WithLogger(logger)),
		Log:    logger,
	}, hub)
	authMiddleware := myMiddleware.NewAuthMiddleware(authService)

	// 5. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok %d\n", hub.Len())
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/verify-email", authHandler.VerifyEmail)
	r.With(authMiddleware.Optional).Get("/ws", bridgeHandler.ServeWs)

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("🚀 Server starting", zap.String("addr", cfg.Addr), zap.String("backend", cfg.Backend))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("❌ Server failed", zap.Error(err))
	}
	logger.Info("👋 Server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if cfg.Production() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// openBackend returns the document store, the account repository and a
// closer for whatever connections it opened.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (gateway.Store, auth.Repository, func(), error) {
	if cfg.Backend == config.BackendMemory {
		logger.Warn("⚠️ Using the in-memory backend, data is lost on exit")
		return memory.New(memory.WithLogger(logger)), auth.NewMemoryRepository(), func() {}, nil
	}

	database, err := db.NewDatabase(cfg.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("✅ Database Schema Initialized")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("✅ Connected to Redis")

	store := pgstore.New(database.Conn, pgstore.NewFeed(redisClient, logger), pgstore.WithLogger(logger))
	closer := func() {
		redisClient.Close()
		database.Close()
	}
	return store, auth.NewSQLRepository(database.Conn), closer, nil
}
