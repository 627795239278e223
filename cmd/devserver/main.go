package main

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadwire/internal/config"
	"leadwire/internal/domain/sandbox"
	"leadwire/internal/infra/queue"
	"leadwire/internal/infra/ratelimit"
	"leadwire/internal/infra/store"
	"leadwire/internal/middleware"
	"leadwire/internal/router"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("configuration loaded", "port", cfg.Server.Port, "mode", cfg.Server.Mode)

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Subscription Store
	var subStore sandbox.SubscriptionStore
	if cfg.Supabase.URL != "" {
		supaStore, err := store.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
		if err != nil {
			slog.Error("failed to initialize supabase store", "error", err)
			os.Exit(1)
		}
		subStore = supaStore
		slog.Info("supabase store initialized")
	} else {
		subStore = store.NewMemoryStore()
		slog.Warn("supabase not configured, subscriptions are kept in memory")
	}

	// Redis (test push rate limiting)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	testLimiter := ratelimit.NewRedisTestPushLimiter(rdb, cfg.RecipientRateLimit.MaxPerHour)
	slog.Info("test push limiter initialized", "max_per_hour", cfg.RecipientRateLimit.MaxPerHour)

	// Asynq Client (for enqueuing deliveries)
	asynqClient := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	defer asynqClient.Close()
	enqueuer := queue.NewEnqueuer(asynqClient, cfg.Queue.MaxRetry)
	slog.Info("asynq client initialized", "redis", cfg.Redis.Address)

	// Tokens
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		slog.Warn("auth.jwt_secret not set, using a random secret; sessions end on restart")
	}
	tokens := sandbox.NewTokenIssuer(
		secret,
		time.Duration(cfg.Auth.AccessTTLSec)*time.Second,
		time.Duration(cfg.Auth.RefreshTTLSec)*time.Second,
	)

	// VAPID key
	vapidKey := cfg.VAPID.PublicKey
	if vapidKey == "" {
		vapidKey, err = ephemeralVAPIDKey()
		if err != nil {
			slog.Error("failed to generate vapid key", "error", err)
			os.Exit(1)
		}
		slog.Warn("vapid.public_key not set, using an ephemeral key", "public_key", vapidKey)
	}

	// Service
	sandboxService := sandbox.NewService(tokens, subStore, testLimiter, enqueuer, vapidKey)

	// Handler
	sandboxHandler := sandbox.NewHandler(sandboxService)

	// Per-IP rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 3*time.Minute)

	// Router
	r := router.New(cfg, sandboxHandler, func(token string) (string, error) {
		claims, err := tokens.VerifyAccess(token)
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	}, rateLimiter)

	// ==========================================
	// HTTP Server with Graceful Shutdown
	// ==========================================

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sweepVisitors(sweepCtx, rateLimiter)

	// Start server in a goroutine
	go func() {
		slog.Info("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	sweepCancel()

	// Give outstanding requests 10 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// sweepVisitors drops idle per-IP limiters every minute.
func sweepVisitors(ctx context.Context, rl *middleware.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := rl.Sweep(now); n > 0 {
				slog.Debug("rate limiter visitors evicted", "count", n)
			}
		}
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// ephemeralVAPIDKey returns the URL-safe base64 public half of a fresh P-256
// key pair.
func ephemeralVAPIDKey() (string, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()), nil
}
