package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Catalog    CatalogConfig
	Fetch      FetchConfig
	RateLimit  RateLimitConfig
	Collector  CollectorConfig
	Store      StoreConfig
	Dataset    DatasetConfig
	Similarity SimilarityConfig
	Cache      CacheConfig
	Log        LogConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CatalogConfig describes the upstream supermarket catalog
type CatalogConfig struct {
	BaseURL               string   `mapstructure:"base_url"`
	StoreID               string   `mapstructure:"store_id"`
	Country               string   `mapstructure:"country"`
	Language              string   `mapstructure:"language"`
	Locale                string   `mapstructure:"locale"`
	Categories            []string `mapstructure:"categories"`
	PageSize              int      `mapstructure:"page_size"`
	UserAgent             string   `mapstructure:"user_agent"`
	Currency              string   `mapstructure:"currency"`
	DefaultBrand          string   `mapstructure:"default_brand"`
	DefaultNutritionBasis string   `mapstructure:"default_nutrition_basis"`
	Supermarket           string   `mapstructure:"supermarket"`
	PostalCode            string   `mapstructure:"postal_code"`
}

// FetchConfig holds per-request timeout and retry policy settings
type FetchConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BaseBackoff        time.Duration `mapstructure:"base_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	MaxConsecutiveGaps int           `mapstructure:"max_consecutive_gaps"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CollectorConfig holds collection run settings
type CollectorConfig struct {
	Workers int  `mapstructure:"workers"`
	Resume  bool `mapstructure:"resume"`
}

// StoreConfig selects and configures the record store backend
type StoreConfig struct {
	Type       string `mapstructure:"type"` // "jsonl" or "sqlite"
	Dir        string `mapstructure:"dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DatasetConfig holds the consolidated dataset location
type DatasetConfig struct {
	Path string `mapstructure:"path"`
}

// SimilarityConfig holds similarity search settings
type SimilarityConfig struct {
	Imputation string `mapstructure:"imputation"` // "zero" or "mean"
	TopK       int    `mapstructure:"top_k"`
	MaxK       int    `mapstructure:"max_k"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	Type     string        `mapstructure:"type"` // "memory" or "redis"
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// Load loads configuration from environment variables and config files.
// An explicit configFile overrides the search paths.
func Load(configFile string) (*Config, error) {
	return LoadWith(viper.New(), configFile)
}

// LoadWith loads configuration into an existing viper instance, so callers
// can bind command line flags before reading.
func LoadWith(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/nutrishelf/")
	}

	// Environment variable settings
	v.SetEnvPrefix("NUTRISHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional unless explicitly given
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Env vars arrive as one comma separated string, possibly already split
	// by viper with the surrounding spaces kept
	config.Catalog.Categories = splitList(config.Catalog.Categories...)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*"})

	// Catalog defaults
	v.SetDefault("catalog.base_url", "https://tienda.makro.es/")
	v.SetDefault("catalog.store_id", "00057")
	v.SetDefault("catalog.country", "ES")
	v.SetDefault("catalog.language", "es-ES")
	v.SetDefault("catalog.locale", "es-ES")
	v.SetDefault("catalog.categories", []string{})
	v.SetDefault("catalog.page_size", 50)
	v.SetDefault("catalog.user_agent", "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0")
	v.SetDefault("catalog.currency", "EUR")
	v.SetDefault("catalog.default_brand", "")
	v.SetDefault("catalog.default_nutrition_basis", "100g")
	v.SetDefault("catalog.supermarket", "Makro")
	v.SetDefault("catalog.postal_code", "")

	// Fetch defaults
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_attempts", 4)
	v.SetDefault("fetch.base_backoff", "500ms")
	v.SetDefault("fetch.max_backoff", "30s")
	v.SetDefault("fetch.max_consecutive_gaps", 3)

	// Rate limit defaults
	v.SetDefault("ratelimit.requests_per_second", 2.0)
	v.SetDefault("ratelimit.burst", 4)

	// Collector defaults
	v.SetDefault("collector.workers", 4)
	v.SetDefault("collector.resume", true)

	// Store defaults
	v.SetDefault("store.type", "jsonl")
	v.SetDefault("store.dir", "jsonl_out")
	v.SetDefault("store.sqlite_path", "jsonl_out/observations.db")

	// Dataset defaults
	v.SetDefault("dataset.path", "results/products.jsonl")

	// Similarity defaults
	v.SetDefault("similarity.imputation", "zero")
	v.SetDefault("similarity.top_k", 5)
	v.SetDefault("similarity.max_k", 100)

	// Cache defaults
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "1h")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog base URL is required (set NUTRISHELF_CATALOG_BASE_URL)")
	}

	if config.Catalog.PageSize <= 0 {
		return fmt.Errorf("catalog page size must be positive, got: %d", config.Catalog.PageSize)
	}

	if config.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch max attempts must be positive, got: %d", config.Fetch.MaxAttempts)
	}

	if config.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit must be positive, got: %v", config.RateLimit.RequestsPerSecond)
	}

	if config.Collector.Workers <= 0 {
		return fmt.Errorf("collector workers must be positive, got: %d", config.Collector.Workers)
	}

	if config.Store.Type != "jsonl" && config.Store.Type != "sqlite" {
		return fmt.Errorf("store type must be 'jsonl' or 'sqlite', got: %s", config.Store.Type)
	}

	if config.Similarity.Imputation != "zero" && config.Similarity.Imputation != "mean" {
		return fmt.Errorf("similarity imputation must be 'zero' or 'mean', got: %s", config.Similarity.Imputation)
	}

	if config.Similarity.TopK <= 0 {
		return fmt.Errorf("similarity top_k must be positive, got: %d", config.Similarity.TopK)
	}

	if config.Cache.Type != "memory" && config.Cache.Type != "redis" {
		return fmt.Errorf("cache type must be 'memory' or 'redis', got: %s", config.Cache.Type)
	}

	if config.Cache.Type == "redis" && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when cache type is 'redis'")
	}

	return nil
}

// splitList splits every item on commas and drops blank entries
func splitList(items ...string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
