package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadwire/internal/config"
	"leadwire/internal/domain/apiclient"
	"leadwire/internal/domain/breaker"
	"leadwire/internal/domain/events"
	"leadwire/internal/domain/notification"
	"leadwire/internal/domain/push"
	"leadwire/internal/domain/session"
	"leadwire/internal/infra/headless"
	"leadwire/internal/infra/localstore"
	"leadwire/internal/infra/queue"

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

	slog.Info("worker configuration loaded", "storage", cfg.Storage.Backend, "origin", cfg.API.Origin)

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Browser storage shared with pushctl
	storage, err := localstore.Open(cfg.Storage.Backend, cfg.Storage.Dir, cfg.API.Origin, &redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}

	// Asynq Client (page -> worker messages)
	asynqClient := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	defer asynqClient.Close()
	enqueuer := queue.NewEnqueuer(asynqClient, cfg.Queue.MaxRetry)

	// Headless browser
	platform := headless.New(storage, headless.Config{
		EndpointBase: cfg.Push.EndpointBase,
		Messenger:    enqueuer.EnqueueMessage,
	})

	// Service Worker
	normalizer := notification.NewNormalizer(notification.NormalizerConfig{
		AppName:      cfg.Push.AppName,
		DefaultIcon:  cfg.Push.DefaultIcon,
		DefaultBadge: cfg.Push.DefaultBadge,
	})
	clickRouter, err := notification.NewRouter(cfg.API.Origin, cfg.Push.DefaultRoute, platform)
	if err != nil {
		slog.Error("failed to initialize click router", "error", err)
		os.Exit(1)
	}
	sw := notification.NewServiceWorker(normalizer, platform, clickRouter)
	sw.OnActivate(func() { slog.Info("service worker activated") })

	// API client for the subscription reconciler
	bus := events.NewBus()
	bus.Subscribe(events.TopicSessionExpired, func(ev events.Event) {
		slog.Warn("session expired, reconciler paused until next login", "reason", ev.Payload)
	})
	breakers := breaker.NewRegistry(
		breaker.Config{
			OpenThreshold:     cfg.Breaker.GlobalOpenThreshold,
			CooldownThreshold: cfg.Breaker.GlobalCooldownThreshold,
			Cooldown:          time.Duration(cfg.Breaker.CooldownSec) * time.Second,
		},
		breaker.Config{
			OpenThreshold:     cfg.Breaker.LocalOpenThreshold,
			CooldownThreshold: cfg.Breaker.LocalCooldownThreshold,
			Cooldown:          time.Duration(cfg.Breaker.CooldownSec) * time.Second,
		},
		bus,
	)
	client, err := apiclient.New(apiclient.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout(),
	}, session.NewStore(storage), breakers, bus)
	if err != nil {
		slog.Error("failed to initialize api client", "error", err)
		os.Exit(1)
	}
	manager := push.NewManager(platform, push.NewAPIBackend(client), push.NewPreferences(storage), bus, push.Config{
		ServiceWorkerURL: cfg.Push.ServiceWorkerURL,
		Scope:            cfg.Push.Scope,
	})

	// ==========================================
	// Asynq Server (push, click and message events)
	// ==========================================

	asynqServer := queue.NewServer(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Queue.Concurrency,
	)

	// Start the asynq worker in a goroutine
	go func() {
		slog.Info("worker starting",
			"concurrency", cfg.Queue.Concurrency,
			"redis", cfg.Redis.Address,
		)
		if err := asynqServer.Run(queue.NewServeMux(sw)); err != nil {
			slog.Error("worker failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// ==========================================
	// Subscription Reconciler
	// ==========================================

	reconcilerCtx, reconcilerCancel := context.WithCancel(context.Background())
	defer reconcilerCancel()

	reconciler := push.NewReconciler(manager, push.ReconcilerConfig{
		Interval: time.Duration(cfg.Push.ReconcileIntervalSec) * time.Second,
	})

	go reconciler.Run(reconcilerCtx)

	// ==========================================
	// Graceful Shutdown
	// ==========================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	reconcilerCancel() // Stop the reconciler first
	asynqServer.Shutdown()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sw.Drain(drainCtx); err != nil {
		slog.Error("service worker did not drain", "error", err)
	}
	slog.Info("worker exited gracefully")
}
