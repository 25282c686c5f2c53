// Package dataset reads and writes the consolidated product dataset: one
// ProductRecord per line plus a manifest sidecar.
package dataset

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
)

// Manifest describes a written dataset
type Manifest struct {
	Records      int          `json:"records"`
	Observations int          `json:"observations"`
	Gaps         []domain.Gap `json:"gaps"`
	Complete     bool         `json:"complete"`
	GeneratedAt  time.Time    `json:"generatedAt"`
	Fingerprint  string       `json:"fingerprint"`
}

// Dataset is a loaded consolidated dataset
type Dataset struct {
	Records     []domain.ProductRecord
	Manifest    *Manifest // nil when the sidecar is missing
	Fingerprint string
}

// ManifestPath returns the sidecar path for a dataset file:
// results/products.jsonl -> results/products.manifest.json
func ManifestPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".manifest.json"
}

// Write stores records at path and the manifest next to it. Both files are
// replaced atomically.
func Write(path string, records []domain.ProductRecord, manifest Manifest) (*Manifest, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return nil, fmt.Errorf("failed to encode product %s: %w", records[i].ProductID, err)
		}
	}

	manifest.Records = len(records)
	manifest.Complete = len(manifest.Gaps) == 0
	if manifest.Gaps == nil {
		manifest.Gaps = []domain.Gap{}
	}
	if manifest.GeneratedAt.IsZero() {
		manifest.GeneratedAt = time.Now().UTC()
	}
	manifest.Fingerprint = fingerprint(buf.Bytes())

	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write dataset: %w", err)
	}

	meta, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writeAtomic(ManifestPath(path), append(meta, '\n')); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	logging.Info().
		Str("path", path).
		Int("records", manifest.Records).
		Int("gaps", len(manifest.Gaps)).
		Bool("complete", manifest.Complete).
		Msg("dataset written")

	return &manifest, nil
}

// Load reads the dataset at path. A missing manifest is tolerated.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	ds := &Dataset{Fingerprint: fingerprint(data)}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var record domain.ProductRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err)
		}
		ds.Records = append(ds.Records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan dataset: %w", err)
	}

	meta, err := os.ReadFile(ManifestPath(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Warn().Str("path", path).Msg("dataset has no manifest")
	case err != nil:
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	default:
		var m Manifest
		if err := json.Unmarshal(meta, &m); err != nil {
			return nil, fmt.Errorf("failed to decode manifest: %w", err)
		}
		if m.Fingerprint != "" && m.Fingerprint != ds.Fingerprint {
			logging.Warn().Str("path", path).Msg("dataset changed since its manifest was written")
		}
		ds.Manifest = &m
	}

	return ds, nil
}

// Fingerprint hashes the dataset file at path without decoding it
func Fingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return fingerprint(data), nil
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
