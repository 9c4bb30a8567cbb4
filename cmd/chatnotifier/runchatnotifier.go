package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-chat-notifier/chatnotifier"
	"github.com/tinywideclouds/go-chat-notifier/chatnotifier/config"
	"github.com/tinywideclouds/go-chat-notifier/internal/notify"
	"github.com/tinywideclouds/go-chat-notifier/internal/platform/fcm"
	"github.com/tinywideclouds/go-chat-notifier/internal/platform/fcmlegacy"
	"github.com/tinywideclouds/go-chat-notifier/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-chat-notifier/internal/storage/firestore"
	pgStore "github.com/tinywideclouds/go-chat-notifier/internal/storage/postgres"
	"github.com/tinywideclouds/go-chat-notifier/pkg/dispatch"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-chat-notifier")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Service exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// --- Config Loading ---
	yamlCfg, err := config.LoadYaml(configFile)
	if err != nil {
		return err
	}
	baseCfg, err := config.NewConfigFromYaml(yamlCfg, logger)
	if err != nil {
		return fmt.Errorf("config mapping failed: %w", err)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("config failed: %w", err)
	}

	// --- Directory (Decorated) ---
	directory, closeDirectory, err := newDirectory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDirectory()

	directory, closeCache, err := withCache(directory, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	// --- Dispatcher ---
	dispatcher, err := newDispatcher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// --- Notifier ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	notifier := notify.New(directory, dispatcher, logger.With("component", "notifier"),
		notify.WithMetrics(notify.NewMetrics(registry)),
		notify.WithMaxInFlight(cfg.Push.MaxConcurrent),
	)

	// --- Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.PipelineEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client failed: %w", err)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Info("No subscription configured; serving HTTP only")
	}

	service, err := chatnotifier.New(cfg, consumer, notifier, registry, logger)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...", "addr", cfg.ListenAddr)
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newDirectory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.Directory, func(), error) {
	switch cfg.Directory.Backend {
	case config.DirectoryFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		logger.Info("Directory initialized", "type", "firestore")
		return fsStore.NewFirestoreDirectory(fsClient), func() { _ = fsClient.Close() }, nil
	default:
		pool, err := pgStore.Connect(ctx, cfg.Directory.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Directory initialized", "type", "postgres")
		return pgStore.NewDirectory(pool), pool.Close, nil
	}
}

func withCache(directory dispatch.Directory, cfg *config.Config, logger *slog.Logger) (dispatch.Directory, func(), error) {
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Directory upgraded", "type", "redis_cached", "ttl", cfg.Cache.TTL)
		return cache.NewCachedDirectory(directory, redisClient, cfg.Cache.TTL), func() { _ = redisClient.Close() }, nil
	case config.CacheMemory:
		logger.Info("Directory upgraded", "type", "memory_cached", "ttl", cfg.Cache.TTL)
		return cache.NewCachedDirectory(directory, cache.NewMemoryClient(cfg.Cache.TTL), cfg.Cache.TTL), func() {}, nil
	default:
		return directory, func() {}, nil
	}
}

func newDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.Dispatcher, error) {
	dispatchLogger := logger.With("component", "dispatcher", "provider", cfg.Push.Provider)
	switch cfg.Push.Provider {
	case config.ProviderFirebase:
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create fcm messaging client: %w", err)
		}
		return fcm.NewDispatcher(fcmMessaging, dispatchLogger), nil
	default:
		return fcmlegacy.NewDispatcher(fcmlegacy.Config{
			Endpoint:  cfg.Push.Endpoint,
			ServerKey: cfg.Push.ServerKey,
			Timeout:   cfg.Push.Timeout,
		}, dispatchLogger), nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := pubsubName(cfg.ProjectID, "subscriptions", cfg.PubsubConsumerConfig.SubscriptionID)
	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              pubsubName(cfg.ProjectID, "topics", cfg.TopicID),
		AckDeadlineSeconds: 10,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     pubsubName(cfg.ProjectID, "topics", cfg.SubscriptionDLQTopicID),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	if _, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig); err != nil {
		if status.Code(err) != codes.AlreadyExists {
			return nil, fmt.Errorf("could not create subscription %s: %w", sub, err)
		}
		logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

func pubsubName(project, kind, id string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
