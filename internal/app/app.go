// Package app wires configuration into the collection, merge and query
// components shared by the command line tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nutrishelf/backend/config"
	httpDelivery "github.com/nutrishelf/backend/internal/delivery/http"
	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/cache"
	"github.com/nutrishelf/backend/internal/infrastructure/dataset"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
	"github.com/nutrishelf/backend/internal/infrastructure/makro"
	"github.com/nutrishelf/backend/internal/infrastructure/store"
	"github.com/nutrishelf/backend/internal/usecase"
)

// InitLogging configures the global logger from cfg
func InitLogging(cfg *config.Config) {
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

// OpenStore opens the configured record store
func OpenStore(cfg *config.Config) (domain.Store, error) {
	return store.Open(store.Config{
		Type:       cfg.Store.Type,
		Dir:        cfg.Store.Dir,
		SQLitePath: cfg.Store.SQLitePath,
	})
}

// NewCollector builds the collection pipeline against the live catalog
func NewCollector(cfg *config.Config, st domain.Store) *usecase.Collector {
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	client := makro.NewClient(makro.Config{
		BaseURL:   cfg.Catalog.BaseURL,
		StoreID:   cfg.Catalog.StoreID,
		Country:   cfg.Catalog.Country,
		Language:  cfg.Catalog.Language,
		Locale:    cfg.Catalog.Locale,
		UserAgent: cfg.Catalog.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
	}, limiter)

	retry := usecase.NewRetryPolicy(cfg.Fetch.MaxAttempts, cfg.Fetch.BaseBackoff, cfg.Fetch.MaxBackoff)
	walker := usecase.NewWalker(client, retry, usecase.WalkerConfig{
		PageSize:           cfg.Catalog.PageSize,
		MaxConsecutiveGaps: cfg.Fetch.MaxConsecutiveGaps,
	})
	normalizer := usecase.NewNormalizer(usecase.NormalizerConfig{
		BaseURL:               cfg.Catalog.BaseURL,
		StoreID:               cfg.Catalog.StoreID,
		Currency:              cfg.Catalog.Currency,
		DefaultBrand:          cfg.Catalog.DefaultBrand,
		DefaultNutritionBasis: cfg.Catalog.DefaultNutritionBasis,
		Supermarket:           cfg.Catalog.Supermarket,
		PostalCode:            cfg.Catalog.PostalCode,
		Country:               cfg.Catalog.Country,
	})

	return usecase.NewCollector(walker, normalizer, st, usecase.CollectorConfig{
		Categories: cfg.Catalog.Categories,
		Workers:    cfg.Collector.Workers,
		Resume:     cfg.Collector.Resume,
	})
}

// Collect runs one collection over the configured categories
func Collect(ctx context.Context, cfg *config.Config) (*usecase.CollectReport, error) {
	if len(cfg.Catalog.Categories) == 0 {
		return nil, errors.New("no categories configured")
	}

	st, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	return NewCollector(cfg, st).Run(ctx)
}

// Merge consolidates every stored observation into the dataset file
func Merge(ctx context.Context, cfg *config.Config) (*dataset.Manifest, error) {
	st, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	result, err := usecase.Merge(ctx, st)
	if err != nil {
		return nil, err
	}

	return dataset.Write(cfg.Dataset.Path, result.Records, dataset.Manifest{
		Observations: result.Observations,
		Gaps:         result.Gaps,
		GeneratedAt:  result.GeneratedAt,
	})
}

// NewSimilarityService builds the query service and loads the dataset. The
// returned cache must be closed by the caller.
func NewSimilarityService(ctx context.Context, cfg *config.Config) (*usecase.SimilarityService, cache.Cache, error) {
	imputer, err := usecase.NewImputer(cfg.Similarity.Imputation)
	if err != nil {
		return nil, nil, err
	}

	c, err := cache.New(ctx, cache.Config{Type: cfg.Cache.Type, RedisURL: cfg.Cache.RedisURL})
	if err != nil {
		return nil, nil, err
	}

	svc := usecase.NewSimilarityService(usecase.NewSimilarityEngine(imputer), c, usecase.SimilarityServiceConfig{
		DatasetPath: cfg.Dataset.Path,
		DefaultK:    cfg.Similarity.TopK,
		MaxK:        cfg.Similarity.MaxK,
		CacheTTL:    cfg.Cache.TTL,
	})
	if _, err := svc.Load(ctx); err != nil {
		c.Close()
		return nil, nil, err
	}
	return svc, c, nil
}

// Serve runs the HTTP API until ctx is cancelled. The dataset is re-read
// every reloadInterval so a new merge is picked up without a restart.
func Serve(ctx context.Context, cfg *config.Config, reloadInterval time.Duration) error {
	svc, c, err := NewSimilarityService(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	router := httpDelivery.SetupRouter(cfg, httpDelivery.NewHandler(svc))
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if reloadInterval > 0 {
		go watchDataset(ctx, svc, reloadInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Str("environment", cfg.Server.Environment).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func watchDataset(ctx context.Context, svc *usecase.SimilarityService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Load(ctx); err != nil {
				logging.Warn().Err(err).Msg("dataset reload failed, keeping current index")
			}
		}
	}
}
