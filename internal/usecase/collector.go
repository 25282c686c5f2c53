package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
	"github.com/nutrishelf/backend/internal/infrastructure/metrics"
)

// CollectorConfig holds settings for a collection run
type CollectorConfig struct {
	Categories []string
	Workers    int
	Resume     bool
}

// CollectReport summarizes a collection run
type CollectReport struct {
	RunID    string
	Resumed  bool
	Pages    int
	Stored   int
	Rejected int
	Gaps     []domain.Gap
	Duration time.Duration
}

// Complete reports whether the run finished without losing any catalog data
func (r *CollectReport) Complete() bool {
	return len(r.Gaps) == 0
}

// Collector runs the walk -> normalize -> store pipeline over all categories
type Collector struct {
	walker     *Walker
	normalizer *Normalizer
	store      domain.Store
	config     CollectorConfig
	newRunID   func() string
}

// NewCollector creates a new collector
func NewCollector(walker *Walker, normalizer *Normalizer, store domain.Store, config CollectorConfig) *Collector {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	return &Collector{
		walker:     walker,
		normalizer: normalizer,
		store:      store,
		config:     config,
		newRunID:   func() string { return uuid.NewString() },
	}
}

// runState accumulates counters shared by the category workers
type runState struct {
	runID    string
	pages    atomic.Int64
	stored   atomic.Int64
	rejected atomic.Int64

	mu   sync.Mutex
	gaps []domain.Gap
}

func (s *runState) addGaps(gaps []domain.Gap) {
	if len(gaps) == 0 {
		return
	}
	s.mu.Lock()
	s.gaps = append(s.gaps, gaps...)
	s.mu.Unlock()
}

// Run collects every configured category. A fatal catalog error or a store
// write failure cancels all workers and is returned together with the partial
// report. Gaps never fail the run.
func (c *Collector) Run(ctx context.Context) (*CollectReport, error) {
	start := time.Now()

	progress, resumed, err := c.prepareRun(ctx)
	if err != nil {
		return nil, err
	}

	state := &runState{runID: progress.RunID}
	state.addGaps(progress.Gaps)

	logging.Info().
		Str("run_id", state.runID).
		Bool("resumed", resumed).
		Int("categories", len(c.config.Categories)).
		Int("workers", c.config.Workers).
		Msg("starting collection run")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Workers)

	for _, category := range c.config.Categories {
		startPage, done := progress.NextPage(category)
		if done {
			logging.Debug().Str("category", category).Msg("category already collected in this run")
			continue
		}
		g.Go(func() error {
			return c.collectCategory(gctx, state, category, startPage)
		})
	}

	runErr := g.Wait()

	report := &CollectReport{
		RunID:    state.runID,
		Resumed:  resumed,
		Pages:    int(state.pages.Load()),
		Stored:   int(state.stored.Load()),
		Rejected: int(state.rejected.Load()),
		Gaps:     state.gaps,
		Duration: time.Since(start),
	}

	if runErr != nil {
		logging.Error().Err(runErr).Str("run_id", report.RunID).Int("stored", report.Stored).Msg("collection run aborted")
		return report, runErr
	}

	if err := c.store.FinishRun(ctx, report.RunID); err != nil {
		return report, fmt.Errorf("failed to finish run: %w", err)
	}

	logging.Info().
		Str("run_id", report.RunID).
		Int("pages", report.Pages).
		Int("stored", report.Stored).
		Int("rejected", report.Rejected).
		Int("gaps", len(report.Gaps)).
		Dur("duration", report.Duration).
		Msg("collection run finished")

	return report, nil
}

// prepareRun picks up the latest unfinished run when resuming, otherwise
// starts a new one
func (c *Collector) prepareRun(ctx context.Context) (*domain.RunProgress, bool, error) {
	if c.config.Resume {
		runID, finished, err := c.store.LatestRun(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up latest run: %w", err)
		}
		if runID != "" && !finished {
			progress, err := c.store.LoadProgress(ctx, runID)
			if err != nil {
				return nil, false, fmt.Errorf("failed to load progress for run %s: %w", runID, err)
			}
			return progress, true, nil
		}
	}
	return &domain.RunProgress{RunID: c.newRunID()}, false, nil
}

func (c *Collector) collectCategory(ctx context.Context, state *runState, category string, startPage int) error {
	log := logging.With().Str("run_id", state.runID).Str("category", category).Logger()
	log.Debug().Int("start_page", startPage).Msg("walking category")

	for page, err := range c.walker.Pages(ctx, category, startPage) {
		if err != nil {
			return fmt.Errorf("category %s: %w", category, err)
		}

		for _, payload := range page.Payloads {
			if err := c.storePayload(ctx, state, payload); err != nil {
				return err
			}
		}

		for _, gap := range page.Gaps {
			metrics.RecordGap(string(gap.Kind))
		}
		state.addGaps(page.Gaps)

		mark := domain.PageMark{
			RunID:    state.runID,
			Category: category,
			Page:     page.Page,
			Last:     page.Last,
			Gaps:     page.Gaps,
		}
		if err := c.store.MarkPage(ctx, mark); err != nil {
			return fmt.Errorf("failed to checkpoint %s page %d: %w", category, page.Page, err)
		}

		state.pages.Add(1)
		metrics.PagesCollected.WithLabelValues(category).Inc()
		log.Debug().
			Int("page", page.Page).
			Int("payloads", len(page.Payloads)).
			Int("gaps", len(page.Gaps)).
			Bool("last", page.Last).
			Msg("page collected")
	}
	return nil
}

func (c *Collector) storePayload(ctx context.Context, state *runState, payload domain.RawPayload) error {
	record, err := c.normalizer.Normalize(payload)
	if err != nil {
		reason := domain.RejectMalformed
		if rejection, ok := IsRejection(err); ok {
			reason = rejection.Reason
		}
		state.rejected.Add(1)
		metrics.RecordRejection(reason)
		logging.Warn().
			Str("category", payload.Category).
			Str("article_id", payload.ArticleID).
			Err(err).
			Msg("payload rejected")
		return nil
	}

	obs := &domain.Observation{RunID: state.runID, Record: *record}
	if err := c.store.Put(ctx, obs); err != nil {
		return fmt.Errorf("failed to store product %s: %w", record.ProductID, err)
	}
	state.stored.Add(1)
	metrics.RecordsStored.Inc()
	return nil
}
