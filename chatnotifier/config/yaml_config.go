package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"gopkg.in/yaml.v3"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlCacheConfig struct {
	Backend string `yaml:"backend"`
	TTL     string `yaml:"ttl"`
}

type YamlDirectoryConfig struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url"`
}

type YamlPushConfig struct {
	Provider      string `yaml:"provider"`
	ServerKey     string `yaml:"server_key"`
	Endpoint      string `yaml:"endpoint"`
	Timeout       string `yaml:"timeout"`
	MaxConcurrent int    `yaml:"max_concurrent_dispatches"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
	CacheConfig            YamlCacheConfig     `yaml:"cache"`
	DirectoryConfig        YamlDirectoryConfig `yaml:"directory"`
	PushConfig             YamlPushConfig      `yaml:"push"`
}

// LoadYaml unmarshals raw YAML bytes, typically the embedded local.yaml.
func LoadYaml(raw []byte) (*YamlConfig, error) {
	var yamlCfg YamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	return &yamlCfg, nil
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	pushTimeout, err := parseOptionalDuration("push.timeout", baseCfg.PushConfig.Timeout)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseOptionalDuration("cache.ttl", baseCfg.CacheConfig.TTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Cache: CacheConfig{
			Backend: baseCfg.CacheConfig.Backend,
			TTL:     cacheTTL,
		},
		Directory: DirectoryConfig{
			Backend:     baseCfg.DirectoryConfig.Backend,
			DatabaseURL: baseCfg.DirectoryConfig.DatabaseURL,
		},
		Push: PushConfig{
			Provider:      baseCfg.PushConfig.Provider,
			ServerKey:     baseCfg.PushConfig.ServerKey,
			Endpoint:      baseCfg.PushConfig.Endpoint,
			Timeout:       pushTimeout,
			MaxConcurrent: baseCfg.PushConfig.MaxConcurrent,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}

func parseOptionalDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
