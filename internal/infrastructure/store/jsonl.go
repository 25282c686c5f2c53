package store

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
)

const (
	observationPrefix = "observations-"
	observationSuffix = ".jsonl"
	progressFile      = "progress.jsonl"
)

// JSONLStore appends observations as one JSON document per line. Each
// process session writes its own observations-<startSeq>-<runId>.jsonl file
// so a torn line left by a crash is always the last line of its file.
type JSONLStore struct {
	dir string

	mu       sync.Mutex
	nextSeq  int64
	file     *os.File
	fileRun  string
	rotate   bool
	progress *os.File
}

// progressEntry is one line of progress.jsonl
type progressEntry struct {
	Type  string           `json:"type"` // "page" or "finish"
	RunID string           `json:"runId"`
	Mark  *domain.PageMark `json:"mark,omitempty"`
	At    time.Time        `json:"at"`
}

// NewJSONLStore opens (creating if needed) a JSONL store in dir
func NewJSONLStore(dir string) (*JSONLStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &JSONLStore{dir: dir}

	last, err := s.lastSeq()
	if err != nil {
		return nil, err
	}
	s.nextSeq = last + 1

	progressPath := filepath.Join(dir, progressFile)
	if err := trimTornTail(progressPath); err != nil {
		return nil, fmt.Errorf("failed to repair progress file: %w", err)
	}
	progress, err := os.OpenFile(progressPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress file: %w", err)
	}
	s.progress = progress

	logging.Debug().Str("dir", dir).Int64("next_seq", s.nextSeq).Msg("jsonl store opened")
	return s, nil
}

// Put appends one observation and assigns its Seq. The line is written with
// a single write call and synced before Put returns.
func (s *JSONLStore) Put(ctx context.Context, obs *domain.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if runID := segmentRun(obs.RunID); s.file == nil || s.rotate || s.fileRun != runID {
		if err := s.openSegment(runID); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
		}
	}

	stored := *obs
	stored.Seq = s.nextSeq
	if stored.ObservedAt.IsZero() {
		stored.ObservedAt = time.Now().UTC()
	}

	line, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("%w: failed to encode observation: %v", domain.ErrStoreWrite, err)
	}
	line = append(line, '\n')

	if _, err := s.file.Write(line); err != nil {
		// A partial line may be on disk, continue in a fresh segment
		s.rotate = true
		s.nextSeq++
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	if err := s.file.Sync(); err != nil {
		s.rotate = true
		s.nextSeq++
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}

	s.nextSeq++
	obs.Seq = stored.Seq
	obs.ObservedAt = stored.ObservedAt
	return nil
}

func (s *JSONLStore) openSegment(runID string) error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	runID = segmentRun(runID)
	// Never reopen an existing segment, it may end in a torn line
	for {
		name := fmt.Sprintf("%s%d-%s%s", observationPrefix, s.nextSeq, runID, observationSuffix)
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if errors.Is(err, os.ErrExist) {
			s.nextSeq++
			continue
		}
		if err != nil {
			return err
		}
		s.file = f
		s.fileRun = runID
		s.rotate = false
		return nil
	}
}

// segmentRun is the run id used in segment file names
func segmentRun(runID string) string {
	if runID == "" {
		return "norun"
	}
	return runID
}

// ListAll yields every stored observation in Seq order
func (s *JSONLStore) ListAll(ctx context.Context) iter.Seq2[domain.Observation, error] {
	return func(yield func(domain.Observation, error) bool) {
		segments, err := s.segments()
		if err != nil {
			yield(domain.Observation{}, err)
			return
		}

		for _, seg := range segments {
			stop := false
			err := readLines(filepath.Join(s.dir, seg.name), func(line []byte) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				var obs domain.Observation
				if err := json.Unmarshal(line, &obs); err != nil {
					return fmt.Errorf("corrupt observation in %s: %w", seg.name, err)
				}
				if !yield(obs, nil) {
					stop = true
					return errStop
				}
				return nil
			})
			if stop {
				return
			}
			if err != nil {
				yield(domain.Observation{}, err)
				return
			}
		}
	}
}

// MarkPage appends a page checkpoint
func (s *JSONLStore) MarkPage(ctx context.Context, mark domain.PageMark) error {
	if mark.MarkedAt.IsZero() {
		mark.MarkedAt = time.Now().UTC()
	}
	return s.appendProgress(ctx, progressEntry{Type: "page", RunID: mark.RunID, Mark: &mark, At: mark.MarkedAt})
}

// FinishRun records that a run walked every category
func (s *JSONLStore) FinishRun(ctx context.Context, runID string) error {
	return s.appendProgress(ctx, progressEntry{Type: "finish", RunID: runID, At: time.Now().UTC()})
}

func (s *JSONLStore) appendProgress(ctx context.Context, entry progressEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: failed to encode progress: %v", domain.ErrStoreWrite, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.progress.Write(line); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	if err := s.progress.Sync(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	return nil
}

// LoadProgress rebuilds the checkpoints of one run
func (s *JSONLStore) LoadProgress(ctx context.Context, runID string) (*domain.RunProgress, error) {
	progress := &domain.RunProgress{RunID: runID, Categories: make(map[string]domain.CategoryProgress)}
	err := s.readProgress(ctx, func(entry progressEntry) {
		if entry.RunID != runID {
			return
		}
		switch entry.Type {
		case "finish":
			progress.Finished = true
		case "page":
			if entry.Mark != nil {
				progress.Apply(*entry.Mark)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// LatestRun returns the most recently started run
func (s *JSONLStore) LatestRun(ctx context.Context) (string, bool, error) {
	var latest string
	seen := make(map[string]bool)
	finished := make(map[string]bool)
	err := s.readProgress(ctx, func(entry progressEntry) {
		if !seen[entry.RunID] {
			seen[entry.RunID] = true
			latest = entry.RunID
		}
		if entry.Type == "finish" {
			finished[entry.RunID] = true
		}
	})
	if err != nil {
		return "", false, err
	}
	return latest, finished[latest], nil
}

func (s *JSONLStore) readProgress(ctx context.Context, fn func(progressEntry)) error {
	err := readLines(filepath.Join(s.dir, progressFile), func(line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var entry progressEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("corrupt progress entry: %w", err)
		}
		fn(entry)
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Close closes open segment files
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
	}
	if s.progress != nil {
		errs = append(errs, s.progress.Close())
		s.progress = nil
	}
	return errors.Join(errs...)
}

type segment struct {
	name     string
	startSeq int64
}

// segments lists observation files ordered by their first seq
func (s *JSONLStore) segments() ([]segment, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list store directory: %w", err)
	}

	var segs []segment
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, observationPrefix) || !strings.HasSuffix(name, observationSuffix) {
			continue
		}
		rest := strings.TrimPrefix(name, observationPrefix)
		seqPart, _, _ := strings.Cut(rest, "-")
		start, err := strconv.ParseInt(seqPart, 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, segment{name: name, startSeq: start})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].startSeq < segs[j].startSeq })
	return segs, nil
}

// lastSeq finds the highest seq already stored
func (s *JSONLStore) lastSeq() (int64, error) {
	segs, err := s.segments()
	if err != nil {
		return 0, err
	}
	var last int64
	for i := len(segs) - 1; i >= 0; i-- {
		err := readLines(filepath.Join(s.dir, segs[i].name), func(line []byte) error {
			var obs struct {
				Seq int64 `json:"seq"`
			}
			if err := json.Unmarshal(line, &obs); err != nil {
				return fmt.Errorf("corrupt observation in %s: %w", segs[i].name, err)
			}
			if obs.Seq > last {
				last = obs.Seq
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
		if last > 0 {
			break
		}
	}
	return last, nil
}

var errStop = errors.New("stop")

// trimTornTail truncates path after its last newline so appends never
// continue a partially written line
func trimTornTail(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}
	keep := bytes.LastIndexByte(data, '\n') + 1
	logging.Warn().Str("file", filepath.Base(path)).Int("bytes", len(data)-keep).Msg("truncating torn trailing line")
	return os.Truncate(path, int64(keep))
}

// readLines calls fn for every complete line of path. A final line without
// a trailing newline is a torn write and is skipped.
func readLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) > 0 {
				logging.Warn().Str("file", filepath.Base(path)).Msg("ignoring torn trailing line")
			}
			return nil
		}
		if err != nil {
			return err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
}
