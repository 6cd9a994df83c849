package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"civicflow/auth"
	"civicflow/classifier"
	"civicflow/config"
	"civicflow/db"
	"civicflow/feed"
	"civicflow/httpapi"
	"civicflow/identity"
	"civicflow/issue"
	"civicflow/notification"
)

func main() {
	// Missing .env is fine; production supplies real environment variables.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("bootstrap database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, submission limiter disabled", "error", err)
			redisClient = nil
		}
	}

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	identityService := identity.NewService(identity.NewRepository(pool))
	notificationService := notification.NewService(notification.NewRepository(pool), logger)

	outbox := feed.NewWriter()
	classify := classifier.New(cfg.ClassifierURL, cfg.ClassifierTimeout, logger)
	issueRepo := issue.NewRepository(pool)
	issueService := issue.NewService(pool, issueRepo, outbox, classify.Classify)
	engine := issue.NewEngine(pool, issueRepo, outbox, notificationService, logger)

	relay := feed.NewRelay(pool, logger)
	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox relay stopped", "error", err)
		}
	}()

	server := httpapi.NewServer(
		authService, identityService, issueService, engine,
		notificationService, redisClient, cfg.DailyIssueLimit, logger,
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      lvl,
		TimeFormat: time.DateTime,
	}))
}
