package usecase

import (
	"context"
	"errors"
	"iter"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
)

// WalkerConfig holds pagination settings
type WalkerConfig struct {
	PageSize           int
	MaxConsecutiveGaps int
}

// PageResult is one walked listing page: the article payloads that could be
// fetched and the gaps for those that could not.
type PageResult struct {
	Category string
	Page     int
	Payloads []domain.RawPayload
	Gaps     []domain.Gap
	Last     bool
}

// Walker paginates catalog categories
type Walker struct {
	client domain.CatalogClient
	retry  *RetryPolicy
	config WalkerConfig
}

// NewWalker creates a new catalog walker
func NewWalker(client domain.CatalogClient, retry *RetryPolicy, config WalkerConfig) *Walker {
	if config.PageSize <= 0 {
		config.PageSize = 50
	}
	if config.MaxConsecutiveGaps <= 0 {
		config.MaxConsecutiveGaps = 3
	}
	if retry == nil {
		retry = NewRetryPolicy(0, 0, 0)
	}
	return &Walker{client: client, retry: retry, config: config}
}

// Pages walks category from startPage until the listing is exhausted.
// Transient failures that outlive the retry policy become gaps and the walk
// continues. A fatal configuration error or context cancellation is yielded
// once as an error and ends the sequence. Ranging again restarts the walk.
func (w *Walker) Pages(ctx context.Context, category string, startPage int) iter.Seq2[PageResult, error] {
	if startPage < 1 {
		startPage = 1
	}

	return func(yield func(PageResult, error) bool) {
		totalPages := 0 // unknown until a listing reports an amount
		consecutiveGaps := 0

		for page := startPage; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(PageResult{}, err)
				return
			}

			var listing *domain.ListingPage
			err := w.retry.Do(ctx, "list", func(ctx context.Context) error {
				var err error
				listing, err = w.client.ListPage(ctx, category, page, w.config.PageSize)
				return err
			})
			if err != nil {
				if abortsWalk(ctx, err) {
					yield(PageResult{}, err)
					return
				}

				consecutiveGaps++
				logging.Warn().Str("category", category).Int("page", page).Err(err).Msg("skipping listing page")

				result := PageResult{
					Category: category,
					Page:     page,
					Gaps:     []domain.Gap{{Kind: domain.GapPage, Category: category, Page: page, Reason: err.Error()}},
					Last:     (totalPages > 0 && page >= totalPages) || consecutiveGaps >= w.config.MaxConsecutiveGaps,
				}
				if result.Last && consecutiveGaps >= w.config.MaxConsecutiveGaps {
					logging.Warn().Str("category", category).Int("gaps", consecutiveGaps).Msg("too many consecutive page gaps, ending category")
				}
				if !yield(result, nil) || result.Last {
					return
				}
				continue
			}
			consecutiveGaps = 0

			if listing.Total > 0 {
				totalPages = (listing.Total + w.config.PageSize - 1) / w.config.PageSize
			}

			result := PageResult{
				Category: category,
				Page:     page,
				Last: listing.Total == 0 ||
					len(listing.ArticleIDs) < w.config.PageSize ||
					(totalPages > 0 && page >= totalPages),
			}

			for _, articleID := range listing.ArticleIDs {
				payload, err := w.fetchArticle(ctx, category, page, articleID)
				if err != nil {
					if abortsWalk(ctx, err) {
						yield(PageResult{}, err)
						return
					}
					logging.Warn().Str("category", category).Int("page", page).Str("article_id", articleID).Err(err).Msg("skipping article")
					result.Gaps = append(result.Gaps, domain.Gap{
						Kind:      domain.GapArticle,
						Category:  category,
						Page:      page,
						ArticleID: articleID,
						Reason:    err.Error(),
					})
					continue
				}
				result.Payloads = append(result.Payloads, *payload)
			}

			if !yield(result, nil) || result.Last {
				return
			}
		}
	}
}

func (w *Walker) fetchArticle(ctx context.Context, category string, page int, articleID string) (*domain.RawPayload, error) {
	var payload *domain.RawPayload
	err := w.retry.Do(ctx, "fetch", func(ctx context.Context) error {
		var err error
		payload, err = w.client.FetchArticle(ctx, category, page, articleID)
		return err
	})
	return payload, err
}

// abortsWalk reports whether err must end the walk instead of becoming a gap
func abortsWalk(ctx context.Context, err error) bool {
	if errors.Is(err, domain.ErrFatalConfig) {
		return true
	}
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
