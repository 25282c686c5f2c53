package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/dataset"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
	"github.com/nutrishelf/backend/internal/infrastructure/metrics"
)

// SimilarityServiceConfig holds configuration for the similarity service
type SimilarityServiceConfig struct {
	DatasetPath string
	DefaultK    int
	MaxK        int
	CacheTTL    time.Duration
}

// DatasetStatus describes the dataset currently served
type DatasetStatus struct {
	Loaded      bool      `json:"loaded"`
	Products    int       `json:"products"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Complete    bool      `json:"complete"`
	Gaps        int       `json:"gaps"`
	LoadedAt    time.Time `json:"loadedAt,omitempty"`
}

// SimilarityService serves similarity queries over the consolidated dataset
// with result caching
type SimilarityService struct {
	engine *SimilarityEngine
	cache  domain.CacheRepository
	config SimilarityServiceConfig

	mu       sync.RWMutex
	products map[string]domain.ProductRecord
	status   DatasetStatus
}

// NewSimilarityService creates a new similarity service. cache may be nil.
func NewSimilarityService(engine *SimilarityEngine, cache domain.CacheRepository, config SimilarityServiceConfig) *SimilarityService {
	if config.DefaultK <= 0 {
		config.DefaultK = 5
	}
	if config.MaxK <= 0 {
		config.MaxK = 100
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	return &SimilarityService{
		engine:   engine,
		cache:    cache,
		config:   config,
		products: make(map[string]domain.ProductRecord),
	}
}

// Load reads the dataset file and rebuilds the engine when its fingerprint
// differs from the one already served. It reports whether a rebuild happened.
func (s *SimilarityService) Load(ctx context.Context) (bool, error) {
	fp, err := dataset.Fingerprint(s.config.DatasetPath)
	if err != nil {
		return false, fmt.Errorf("failed to read dataset: %w", err)
	}
	if current, built := s.engine.Fingerprint(); built && current == fp {
		return false, nil
	}

	ds, err := dataset.Load(s.config.DatasetPath)
	if err != nil {
		return false, err
	}
	s.Use(ds.Records, ds.Fingerprint, ds.Manifest)
	return true, nil
}

// Use serves records directly, replacing the current dataset
func (s *SimilarityService) Use(records []domain.ProductRecord, fingerprint string, manifest *dataset.Manifest) {
	start := time.Now()
	s.engine.Build(records, fingerprint)

	products := make(map[string]domain.ProductRecord, len(records))
	for _, r := range records {
		products[r.ProductID] = r
	}

	status := DatasetStatus{
		Loaded:      true,
		Products:    len(products),
		Fingerprint: fingerprint,
		Complete:    true,
		LoadedAt:    time.Now().UTC(),
	}
	if manifest != nil {
		status.Complete = manifest.Complete
		status.Gaps = len(manifest.Gaps)
	}

	s.mu.Lock()
	s.products = products
	s.status = status
	s.mu.Unlock()

	metrics.DatasetProducts.Set(float64(len(products)))
	logging.Info().
		Int("products", len(products)).
		Str("fingerprint", fingerprint).
		Bool("complete", status.Complete).
		Dur("took", time.Since(start)).
		Msg("similarity index built")
}

// Status describes the dataset currently served
func (s *SimilarityService) Status() DatasetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Product returns the consolidated record of productID
func (s *SimilarityService) Product(ctx context.Context, productID string) (*domain.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.status.Loaded {
		return nil, domain.ErrNotBuilt
	}
	r, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, productID)
	}
	return &r, nil
}

// Similar returns the k products most similar to productID. k == 0 is
// rejected like any other non-positive k; callers substitute DefaultK for a
// missing value.
func (s *SimilarityService) Similar(ctx context.Context, productID string, k int) (*domain.SimilarityResult, error) {
	if k > s.config.MaxK {
		return nil, fmt.Errorf("%w: k must be at most %d", domain.ErrInvalidQuery, s.config.MaxK)
	}

	start := time.Now()
	defer func() { metrics.SimilarityQueryDuration.Observe(time.Since(start).Seconds()) }()

	fp, built := s.engine.Fingerprint()
	key := fmt.Sprintf("similar:%s:%s:%d", fp, productID, k)
	if built {
		if cached, ok := s.getFromCache(ctx, key); ok {
			metrics.SimilarityCacheHits.Inc()
			return cached, nil
		}
		metrics.SimilarityCacheMisses.Inc()
	}

	results, err := s.engine.Query(productID, k)
	if err != nil {
		return nil, err
	}

	result := &domain.SimilarityResult{ProductID: productID, K: k, Results: results}
	s.mu.RLock()
	result.Name = s.products[productID].Name
	s.mu.RUnlock()

	s.setInCache(ctx, key, result)
	return result, nil
}

// DefaultK returns the k used when a caller gives none
func (s *SimilarityService) DefaultK() int {
	return s.config.DefaultK
}

func (s *SimilarityService) getFromCache(ctx context.Context, key string) (*domain.SimilarityResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	value, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			logging.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil, false
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil, false
	}

	var result domain.SimilarityResult
	if err := json.Unmarshal(data, &result); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("discarding corrupt cache entry")
		return nil, false
	}
	return &result, true
}

func (s *SimilarityService) setInCache(ctx context.Context, key string, result *domain.SimilarityResult) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.config.CacheTTL); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}
