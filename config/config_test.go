package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Clean up environment before tests
	cleanupEnv := func() {
		os.Unsetenv("NUTRISHELF_SERVER_PORT")
		os.Unsetenv("NUTRISHELF_CATALOG_BASE_URL")
		os.Unsetenv("NUTRISHELF_CATALOG_CATEGORIES")
		os.Unsetenv("NUTRISHELF_CATALOG_PAGE_SIZE")
		os.Unsetenv("NUTRISHELF_STORE_TYPE")
		os.Unsetenv("NUTRISHELF_SIMILARITY_IMPUTATION")
		os.Unsetenv("NUTRISHELF_CACHE_TYPE")
		os.Unsetenv("NUTRISHELF_CACHE_REDIS_URL")
		os.Unsetenv("NUTRISHELF_CACHE_TTL")
		os.Unsetenv("NUTRISHELF_RATELIMIT_REQUESTS_PER_SECOND")
	}

	t.Run("loads with defaults when no env vars set", func(t *testing.T) {
		cleanupEnv()
		defer cleanupEnv()

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}

		if cfg.Server.Port != "8080" {
			t.Errorf("Server.Port = %s, want 8080", cfg.Server.Port)
		}
		if cfg.Catalog.PageSize != 50 {
			t.Errorf("Catalog.PageSize = %d, want 50", cfg.Catalog.PageSize)
		}
		if cfg.Fetch.BaseBackoff != 500*time.Millisecond {
			t.Errorf("Fetch.BaseBackoff = %v, want 500ms", cfg.Fetch.BaseBackoff)
		}
		if cfg.Fetch.MaxConsecutiveGaps != 3 {
			t.Errorf("Fetch.MaxConsecutiveGaps = %d, want 3", cfg.Fetch.MaxConsecutiveGaps)
		}
		if cfg.Store.Type != "jsonl" {
			t.Errorf("Store.Type = %s, want jsonl", cfg.Store.Type)
		}
		if cfg.Similarity.Imputation != "zero" {
			t.Errorf("Similarity.Imputation = %s, want zero", cfg.Similarity.Imputation)
		}
		if cfg.Cache.TTL != time.Hour {
			t.Errorf("Cache.TTL = %v, want 1h", cfg.Cache.TTL)
		}
	})

	t.Run("loads custom values from environment variables", func(t *testing.T) {
		cleanupEnv()
		os.Setenv("NUTRISHELF_SERVER_PORT", "9090")
		os.Setenv("NUTRISHELF_CATALOG_BASE_URL", "http://catalog.test/")
		os.Setenv("NUTRISHELF_CATALOG_CATEGORIES", "food/dairy, food/bakery")
		os.Setenv("NUTRISHELF_CATALOG_PAGE_SIZE", "25")
		os.Setenv("NUTRISHELF_STORE_TYPE", "sqlite")
		os.Setenv("NUTRISHELF_SIMILARITY_IMPUTATION", "mean")
		os.Setenv("NUTRISHELF_CACHE_TYPE", "redis")
		os.Setenv("NUTRISHELF_CACHE_REDIS_URL", "redis://localhost:6379")
		os.Setenv("NUTRISHELF_CACHE_TTL", "24h")
		defer cleanupEnv()

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}

		if cfg.Server.Port != "9090" {
			t.Errorf("Server.Port = %s, want 9090", cfg.Server.Port)
		}
		if cfg.Catalog.BaseURL != "http://catalog.test/" {
			t.Errorf("Catalog.BaseURL = %s, want http://catalog.test/", cfg.Catalog.BaseURL)
		}
		if len(cfg.Catalog.Categories) != 2 || cfg.Catalog.Categories[0] != "food/dairy" || cfg.Catalog.Categories[1] != "food/bakery" {
			t.Errorf("Catalog.Categories = %q, want [food/dairy food/bakery]", cfg.Catalog.Categories)
		}
		if cfg.Cache.Type != "redis" {
			t.Errorf("Cache.Type = %s, want redis", cfg.Cache.Type)
		}
		if cfg.Catalog.PageSize != 25 {
			t.Errorf("Catalog.PageSize = %d, want 25", cfg.Catalog.PageSize)
		}
		if cfg.Store.Type != "sqlite" {
			t.Errorf("Store.Type = %s, want sqlite", cfg.Store.Type)
		}
		if cfg.Similarity.Imputation != "mean" {
			t.Errorf("Similarity.Imputation = %s, want mean", cfg.Similarity.Imputation)
		}
		if cfg.Cache.RedisURL != "redis://localhost:6379" {
			t.Errorf("Cache.RedisURL = %s, want redis://localhost:6379", cfg.Cache.RedisURL)
		}
		if cfg.Cache.TTL != 24*time.Hour {
			t.Errorf("Cache.TTL = %v, want 24h", cfg.Cache.TTL)
		}
	})

	t.Run("reads an explicit config file", func(t *testing.T) {
		cleanupEnv()
		defer cleanupEnv()

		path := filepath.Join(t.TempDir(), "nutrishelf.yaml")
		content := `
catalog:
  categories:
    - " food/dairy "
    - ""
  default_brand: Makro
collector:
  workers: 2
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}
		if len(cfg.Catalog.Categories) != 1 || cfg.Catalog.Categories[0] != "food/dairy" {
			t.Errorf("Catalog.Categories = %v, want [food/dairy]", cfg.Catalog.Categories)
		}
		if cfg.Catalog.DefaultBrand != "Makro" {
			t.Errorf("Catalog.DefaultBrand = %s, want Makro", cfg.Catalog.DefaultBrand)
		}
		if cfg.Collector.Workers != 2 {
			t.Errorf("Collector.Workers = %d, want 2", cfg.Collector.Workers)
		}
	})

	t.Run("fails when explicit config file is missing", func(t *testing.T) {
		cleanupEnv()
		defer cleanupEnv()

		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err == nil {
			t.Error("Load() error = nil, want error for missing config file")
		}
	})

	t.Run("fails validation for invalid cache type", func(t *testing.T) {
		cleanupEnv()
		os.Setenv("NUTRISHELF_CACHE_TYPE", "invalid")
		defer cleanupEnv()

		_, err := Load("")
		if err == nil {
			t.Error("Load() error = nil, want error for invalid cache type")
		}
	})

	t.Run("fails validation when redis URL missing for redis cache", func(t *testing.T) {
		cleanupEnv()
		os.Setenv("NUTRISHELF_CACHE_TYPE", "redis")
		defer cleanupEnv()

		_, err := Load("")
		if err == nil {
			t.Error("Load() error = nil, want error for missing Redis URL")
		}
	})
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name  string
		items []string
		want  []string
	}{
		{name: "nil", items: nil, want: nil},
		{name: "single comma separated", items: []string{"a, b ,c"}, want: []string{"a", "b", "c"}},
		{name: "already split with spaces", items: []string{"food/dairy", " food/bakery"}, want: []string{"food/dairy", "food/bakery"}},
		{name: "blank entries dropped", items: []string{"", " ", "a,,"}, want: []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitList(tt.items...)
			if len(got) != len(tt.want) {
				t.Fatalf("splitList(%q) = %q, want %q", tt.items, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("splitList(%q)[%d] = %q, want %q", tt.items, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Catalog:    CatalogConfig{BaseURL: "http://catalog.test/", PageSize: 50},
		Fetch:      FetchConfig{MaxAttempts: 4},
		RateLimit:  RateLimitConfig{RequestsPerSecond: 2},
		Collector:  CollectorConfig{Workers: 1},
		Store:      StoreConfig{Type: "jsonl"},
		Similarity: SimilarityConfig{Imputation: "zero", TopK: 5},
		Cache:      CacheConfig{Type: "memory"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "empty base URL", mutate: func(c *Config) { c.Catalog.BaseURL = "" }, wantErr: true},
		{name: "zero page size", mutate: func(c *Config) { c.Catalog.PageSize = 0 }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.Fetch.MaxAttempts = 0 }, wantErr: true},
		{name: "zero rate", mutate: func(c *Config) { c.RateLimit.RequestsPerSecond = 0 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Collector.Workers = 0 }, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Type = "csv" }, wantErr: true},
		{name: "unknown imputation", mutate: func(c *Config) { c.Similarity.Imputation = "median" }, wantErr: true},
		{name: "zero top k", mutate: func(c *Config) { c.Similarity.TopK = 0 }, wantErr: true},
		{name: "invalid cache type", mutate: func(c *Config) { c.Cache.Type = "invalid-type" }, wantErr: true},
		{name: "redis without URL", mutate: func(c *Config) { c.Cache.Type = "redis" }, wantErr: true},
		{
			name: "redis with URL",
			mutate: func(c *Config) {
				c.Cache.Type = "redis"
				c.Cache.RedisURL = "redis://localhost:6379"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
