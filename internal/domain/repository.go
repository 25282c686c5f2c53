package domain

import (
	"context"
	"iter"
	"time"
)

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// ListingPage is one page of the upstream category listing
type ListingPage struct {
	Category   string
	Page       int
	Total      int // total articles in the category as reported upstream, 0 when unknown
	ArticleIDs []string
}

// CatalogClient defines the interface for talking to the supermarket catalog API.
// Implementations return *FetchError for upstream failures.
type CatalogClient interface {
	ListPage(ctx context.Context, category string, page, pageSize int) (*ListingPage, error)
	FetchArticle(ctx context.Context, category string, page int, articleID string) (*RawPayload, error)
}

// RecordStore persists observations append-only
type RecordStore interface {
	Put(ctx context.Context, obs *Observation) error
	ListAll(ctx context.Context) iter.Seq2[Observation, error]
	Close() error
}

// ProgressStore persists collection checkpoints so runs can resume
type ProgressStore interface {
	MarkPage(ctx context.Context, mark PageMark) error
	LoadProgress(ctx context.Context, runID string) (*RunProgress, error)
	LatestRun(ctx context.Context) (runID string, finished bool, err error)
	FinishRun(ctx context.Context, runID string) error
}

// Store is a record store that also keeps run progress
type Store interface {
	RecordStore
	ProgressStore
}
