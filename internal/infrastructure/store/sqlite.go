package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// listBatch bounds how many observations ListAll reads per query
const listBatch = 500

// SQLiteStore keeps observations and checkpoints in a SQLite database
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens the database at path and applies pending migrations
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	version, dirty, err := runMigrations(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	logging.Debug().Str("path", path).Uint("schema_version", version).Bool("dirty", dirty).Msg("sqlite store opened")

	return &SQLiteStore{db: db}, nil
}

// runMigrations applies all pending migrations to the database and returns version info
func runMigrations(db *sql.DB) (uint, bool, error) {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, false, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return 0, false, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}

// Put stores one observation in its own transaction and assigns its Seq
func (s *SQLiteStore) Put(ctx context.Context, obs *domain.Observation) error {
	record, err := json.Marshal(obs.Record)
	if err != nil {
		return fmt.Errorf("%w: failed to encode record: %v", domain.ErrStoreWrite, err)
	}
	observedAt := obs.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	defer tx.Rollback()

	if err := ensureRun(ctx, tx, obs.RunID, observedAt); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO observations (run_id, product_id, observed_at, record) VALUES (?, ?, ?, ?)`,
		obs.RunID, obs.Record.ProductID, formatTime(observedAt), string(record))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}

	obs.Seq = seq
	obs.ObservedAt = observedAt
	return nil
}

// ListAll yields observations in Seq order, reading in batches so no
// connection is held while the caller consumes them
func (s *SQLiteStore) ListAll(ctx context.Context) iter.Seq2[domain.Observation, error] {
	return func(yield func(domain.Observation, error) bool) {
		var after int64
		for {
			batch, err := s.listAfter(ctx, after)
			if err != nil {
				yield(domain.Observation{}, err)
				return
			}
			for _, obs := range batch {
				if !yield(obs, nil) {
					return
				}
				after = obs.Seq
			}
			if len(batch) < listBatch {
				return
			}
		}
	}
}

func (s *SQLiteStore) listAfter(ctx context.Context, after int64) ([]domain.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, run_id, observed_at, record FROM observations WHERE seq > ? ORDER BY seq LIMIT ?`,
		after, listBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var batch []domain.Observation
	for rows.Next() {
		var (
			obs        domain.Observation
			observedAt string
			record     string
		)
		if err := rows.Scan(&obs.Seq, &obs.RunID, &observedAt, &record); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		if obs.ObservedAt, err = time.Parse(time.RFC3339Nano, observedAt); err != nil {
			return nil, fmt.Errorf("observation %d: bad observed_at: %w", obs.Seq, err)
		}
		if err := json.Unmarshal([]byte(record), &obs.Record); err != nil {
			return nil, fmt.Errorf("observation %d: corrupt record: %w", obs.Seq, err)
		}
		batch = append(batch, obs)
	}
	return batch, rows.Err()
}

// MarkPage stores a page checkpoint
func (s *SQLiteStore) MarkPage(ctx context.Context, mark domain.PageMark) error {
	if mark.MarkedAt.IsZero() {
		mark.MarkedAt = time.Now().UTC()
	}
	var gaps []byte
	if len(mark.Gaps) > 0 {
		var err error
		if gaps, err = json.Marshal(mark.Gaps); err != nil {
			return fmt.Errorf("%w: failed to encode gaps: %v", domain.ErrStoreWrite, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	defer tx.Rollback()

	if err := ensureRun(ctx, tx, mark.RunID, mark.MarkedAt); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO page_marks (run_id, category, page, last, gaps, marked_at) VALUES (?, ?, ?, ?, ?, ?)`,
		mark.RunID, mark.Category, mark.Page, mark.Last, nullableString(gaps), formatTime(mark.MarkedAt))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	return nil
}

// LoadProgress rebuilds the checkpoints of one run
func (s *SQLiteStore) LoadProgress(ctx context.Context, runID string) (*domain.RunProgress, error) {
	progress := &domain.RunProgress{RunID: runID, Categories: make(map[string]domain.CategoryProgress)}

	var finishedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT finished_at FROM runs WHERE run_id = ?`, runID).Scan(&finishedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	progress.Finished = finishedAt.Valid

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, page, last, gaps FROM page_marks WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query page marks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			mark = domain.PageMark{RunID: runID}
			gaps sql.NullString
		)
		if err := rows.Scan(&mark.Category, &mark.Page, &mark.Last, &gaps); err != nil {
			return nil, fmt.Errorf("failed to scan page mark: %w", err)
		}
		if gaps.Valid && gaps.String != "" {
			if err := json.Unmarshal([]byte(gaps.String), &mark.Gaps); err != nil {
				return nil, fmt.Errorf("corrupt gaps for %s page %d: %w", mark.Category, mark.Page, err)
			}
		}
		progress.Apply(mark)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return progress, nil
}

// LatestRun returns the most recently started run
func (s *SQLiteStore) LatestRun(ctx context.Context) (string, bool, error) {
	var (
		runID      string
		finishedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, finished_at FROM runs ORDER BY rowid DESC LIMIT 1`).Scan(&runID, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query latest run: %w", err)
	}
	return runID, finishedAt.Valid, nil
}

// FinishRun records that a run walked every category
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	defer tx.Rollback()

	if err := ensureRun(ctx, tx, runID, now); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE run_id = ?`, formatTime(now), runID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func ensureRun(ctx context.Context, tx *sql.Tx, runID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO runs (run_id, started_at) VALUES (?, ?)`, runID, formatTime(at))
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
