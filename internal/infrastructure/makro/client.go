// Package makro talks to the Makro online store catalog API.
package makro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
	"github.com/nutrishelf/backend/internal/infrastructure/metrics"
)

const (
	endpointListing = "listing"
	endpointDetail  = "detail"
	breakerName     = "makro-catalog"
)

// Config holds the catalog endpoint settings
type Config struct {
	BaseURL   string
	StoreID   string
	Country   string
	Language  string
	Locale    string
	UserAgent string
	Timeout   time.Duration
}

// Client handles communication with the Makro catalog API
type Client struct {
	httpClient  *http.Client
	config      Config
	rateLimiter *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[[]byte]
	now         func() time.Time
}

// NewClient creates a new catalog client. The limiter is shared by every
// caller and bounds the request rate of the whole process.
func NewClient(config Config, limiter *rate.Limiter) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "NutriShelf/1.0"
	}
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(2), 4)
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return &Client{
		httpClient:  &http.Client{},
		config:      config,
		rateLimiter: limiter,
		breaker:     newBreaker(),
		now:         time.Now,
	}
}

func newBreaker() *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		// Opens when at least 10 requests failed transiently at a 60% ratio
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		// Only transient upstream failures count against the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrTransientFetch)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// listingResponse is the subset of the search endpoint we rely on
type listingResponse struct {
	Amount  int         `json:"amount"`
	Results orderedKeys `json:"results"`
}

// orderedKeys decodes a JSON object into its keys in document order
type orderedKeys []string

func (k *orderedKeys) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*k = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("results: expected object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("results: unexpected token %v", tok)
		}
		keys = append(keys, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return err
		}
	}
	*k = keys
	return nil
}

// ListPage fetches one page of the category listing
func (c *Client) ListPage(ctx context.Context, category string, page, pageSize int) (*domain.ListingPage, error) {
	params := url.Values{}
	params.Set("storeId", c.config.StoreID)
	params.Set("language", c.config.Language)
	params.Set("country", c.config.Country)
	params.Set("query", "*")
	params.Set("rows", strconv.Itoa(pageSize))
	params.Set("page", strconv.Itoa(page))
	params.Set("filter", "category:"+category)
	params.Set("facets", "true")
	params.Set("categories", "true")
	params.Set("__t", c.timestamp())

	reqURL := c.config.BaseURL + "searchdiscover/articlesearch/search?" + params.Encode()

	fetchErr := &domain.FetchError{Op: "list", Category: category, Page: page}
	body, err := c.get(ctx, endpointListing, reqURL, fetchErr, c.listingHeaders())
	if err != nil {
		return nil, err
	}

	var resp listingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// A truncated or garbled body is worth another attempt
		fetchErr.Kind = domain.ErrTransientFetch
		fetchErr.Err = fmt.Errorf("failed to decode listing: %w", err)
		return nil, fetchErr
	}

	logging.Debug().Str("category", category).Int("page", page).Int("amount", resp.Amount).Int("items", len(resp.Results)).Msg("listing page fetched")

	return &domain.ListingPage{
		Category:   category,
		Page:       page,
		Total:      resp.Amount,
		ArticleIDs: []string(resp.Results),
	}, nil
}

// FetchArticle fetches the detail document of one article. The raw body is
// returned untouched for the normalizer.
func (c *Client) FetchArticle(ctx context.Context, category string, page int, articleID string) (*domain.RawPayload, error) {
	id := strings.TrimSuffix(strings.TrimSpace(articleID), "0032")

	params := url.Values{}
	params.Set("ids", id)
	params.Set("country", c.config.Country)
	params.Set("locale", c.config.Locale)
	params.Set("storeIds", c.config.StoreID)
	params.Set("details", "true")
	params.Set("__t", c.timestamp())

	reqURL := c.config.BaseURL + "evaluate.article.v1/betty-articles?" + params.Encode()

	fetchErr := &domain.FetchError{Op: "fetch", Category: category, Page: page, ArticleID: articleID}
	body, err := c.get(ctx, endpointDetail, reqURL, fetchErr, c.detailHeaders())
	if err != nil {
		return nil, err
	}

	return &domain.RawPayload{
		Shape:     domain.ShapeArticle,
		Category:  category,
		Page:      page,
		ArticleID: articleID,
		FetchedAt: c.now().UTC(),
		Body:      body,
	}, nil
}

// get performs one rate limited, circuit broken GET. Failures are returned
// as fetchErr with Kind and StatusCode filled in.
func (c *Client) get(ctx context.Context, endpoint, reqURL string, fetchErr *domain.FetchError, headers http.Header) ([]byte, error) {
	// Wait for rate limiter
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doRequest(ctx, endpoint, reqURL, fetchErr, headers)
	})
	if err == nil {
		metrics.RecordFetch(endpoint, "ok", time.Since(start))
		return body, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		fetchErr.Kind = domain.ErrTransientFetch
		fetchErr.Err = err
		err = fetchErr
	}

	outcome := "error"
	switch {
	case errors.Is(err, domain.ErrTransientFetch):
		outcome = "transient"
	case errors.Is(err, domain.ErrFatalConfig):
		outcome = "fatal"
	case errors.Is(err, domain.ErrNotFound):
		outcome = "not_found"
	}
	metrics.RecordFetch(endpoint, outcome, time.Since(start))

	return nil, err
}

// doRequest executes an HTTP GET request with proper headers and error handling
func (c *Client) doRequest(ctx context.Context, endpoint, reqURL string, fetchErr *domain.FetchError, headers http.Header) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers.Clone()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Cancellation of the caller is not an upstream failure
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fetchErr.Kind = domain.ErrTransientFetch
		fetchErr.Err = err
		return nil, fetchErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fetchErr.Kind = domain.ErrTransientFetch
		fetchErr.Err = fmt.Errorf("failed to read body: %w", err)
		return nil, fetchErr
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	fetchErr.StatusCode = resp.StatusCode
	fetchErr.Kind = classifyStatus(endpoint, resp.StatusCode)
	if len(body) > 0 {
		fetchErr.Err = fmt.Errorf("body: %s", truncate(body, 200))
	}
	return nil, fetchErr
}

// classifyStatus maps a non-200 status to the error kind the walker acts on
func classifyStatus(endpoint string, status int) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return domain.ErrTransientFetch
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.ErrFatalConfig
	case endpoint == endpointListing:
		// 400/404 on the listing means the category does not exist
		return domain.ErrFatalConfig
	default:
		return domain.ErrNotFound
	}
}

func (c *Client) listingHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", c.config.UserAgent)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "es-ES,es;q=0.8,en-US;q=0.5,en;q=0.3")
	return h
}

func (c *Client) detailHeaders() http.Header {
	h := c.listingHeaders()
	h.Set("X-Requested-With", "XMLHttpRequest")
	return h
}

func (c *Client) timestamp() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
