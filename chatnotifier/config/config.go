package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

const (
	DirectoryPostgres  = "postgres"
	DirectoryFirestore = "firestore"

	ProviderLegacy   = "legacy"
	ProviderFirebase = "firebase"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"

	defaultListenAddr      = ":8080"
	defaultDispatchTimeout = 30 * time.Second
	defaultCacheTTL        = 5 * time.Minute
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	Backend string
	TTL     time.Duration
}

type DirectoryConfig struct {
	Backend     string
	DatabaseURL string
}

type PushConfig struct {
	Provider  string
	ServerKey string
	Endpoint  string
	Timeout   time.Duration
	// MaxConcurrent caps in-flight dispatches per fan-out. Zero is unlimited.
	MaxConcurrent int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	AllowedOrigins []string
	Redis          RedisConfig
	Cache          CacheConfig
	Directory      DirectoryConfig
	Push           PushConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether a Pub/Sub subscription should be consumed.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		workers, err := strconv.Atoi(val)
		if err != nil || workers <= 0 {
			return nil, fmt.Errorf("invalid NUM_PIPELINE_WORKERS %q: must be a positive integer", val)
		}
		logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
		cfg.NumPipelineWorkers = workers
	}

	// Directory and provider
	if val := os.Getenv("DIRECTORY_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "DIRECTORY_BACKEND", "source", "env")
		cfg.Directory.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "DATABASE_URL", "source", "env")
		cfg.Directory.DatabaseURL = val
	}
	if val := os.Getenv("PUSH_PROVIDER"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_PROVIDER", "source", "env")
		cfg.Push.Provider = strings.ToLower(val)
	}
	if val := os.Getenv("FCM_SERVER_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_SERVER_KEY", "source", "env")
		cfg.Push.ServerKey = val
	}
	if val := os.Getenv("FCM_ENDPOINT"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_ENDPOINT", "source", "env")
		cfg.Push.Endpoint = val
	}
	if val := os.Getenv("DISPATCH_TIMEOUT"); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_TIMEOUT %q: %w", val, err)
		}
		cfg.Push.Timeout = timeout
	}
	if val := os.Getenv("MAX_CONCURRENT_DISPATCHES"); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_CONCURRENT_DISPATCHES %q: %w", val, err)
		}
		cfg.Push.MaxConcurrent = limit
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		db, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q: %w", val, err)
		}
		cfg.Redis.DB = db
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_ENABLED %q: %w", val, err)
		}
		cfg.Redis.Enabled = enabled
	}

	// Cache Overrides
	if val := os.Getenv("CACHE_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "CACHE_BACKEND", "source", "env")
		cfg.Cache.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("CACHE_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid CACHE_TTL %q: %w", val, err)
		}
		cfg.Cache.TTL = ttl
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		cfg.AllowedOrigins = splitOrigins(corsOrigins)
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Directory.Backend == "" {
		cfg.Directory.Backend = DirectoryPostgres
	}
	if cfg.Push.Provider == "" {
		cfg.Push.Provider = ProviderLegacy
	}
	if cfg.Push.Timeout <= 0 {
		cfg.Push.Timeout = defaultDispatchTimeout
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheNone
		if cfg.Redis.Enabled {
			cfg.Cache.Backend = CacheRedis
		}
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = defaultCacheTTL
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	// 3. Final Validation
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully",
		"directory", cfg.Directory.Backend,
		"provider", cfg.Push.Provider,
		"cache", cfg.Cache.Backend,
		"pipeline", cfg.PipelineEnabled(),
	)
	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Directory.Backend {
	case DirectoryPostgres:
		if cfg.Directory.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the postgres directory (set via YAML or DATABASE_URL env var)")
		}
	case DirectoryFirestore:
		if cfg.ProjectID == "" {
			return fmt.Errorf("project_id is required for the firestore directory (set via YAML or PROJECT_ID env var)")
		}
	default:
		return fmt.Errorf("unknown directory backend %q", cfg.Directory.Backend)
	}

	switch cfg.Push.Provider {
	case ProviderLegacy:
		if cfg.Push.ServerKey == "" {
			return fmt.Errorf("fcm server key is required for the legacy provider (set via YAML or FCM_SERVER_KEY env var)")
		}
	case ProviderFirebase:
		if cfg.ProjectID == "" {
			return fmt.Errorf("project_id is required for the firebase provider (set via YAML or PROJECT_ID env var)")
		}
	default:
		return fmt.Errorf("unknown push provider %q", cfg.Push.Provider)
	}

	switch cfg.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis cache (set via YAML or REDIS_ADDR env var)")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	if cfg.PipelineEnabled() {
		if cfg.ProjectID == "" {
			return fmt.Errorf("project_id is required when subscription_id is set")
		}
		if cfg.TopicID == "" {
			return fmt.Errorf("topic_id is required when subscription_id is set (set via YAML or TOPIC_ID env var)")
		}
	}
	return nil
}

func splitOrigins(raw string) []string {
	var cleanOrigins []string
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			cleanOrigins = append(cleanOrigins, trimmed)
		}
	}
	return cleanOrigins
}
