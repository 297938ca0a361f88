// Package ingest composes the change tracker, extractor, chunker, and
// vector index writer into the document ingestion pipeline: single-file and
// full-corpus indexing plus a continuous filesystem watch mode.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bvergne/docrag/internal/chunker"
	"github.com/bvergne/docrag/internal/extract"
	"github.com/bvergne/docrag/internal/index"
	"github.com/bvergne/docrag/internal/tracker"
)

// Summary reports the outcome of a full-corpus pass.
type Summary struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Options tunes the pipeline.
type Options struct {
	Chunking chunker.Config
	// Debounce delays watch-mode reprocessing so rapid successive writes to
	// the same file coalesce into one run. Zero means the default (500ms).
	Debounce time.Duration
}

// Pipeline indexes documents. It is the only writer to the vector index.
type Pipeline struct {
	tracker *tracker.Tracker
	writer  *index.Writer
	opts    Options
	log     *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New builds a Pipeline over the given tracker and index writer.
func New(t *tracker.Tracker, w *index.Writer, opts Options, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	return &Pipeline{
		tracker: t,
		writer:  w,
		opts:    opts,
		log:     log,
		timers:  make(map[string]*time.Timer),
	}
}

// Fingerprint returns the content digest of the file at path.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ProcessFile indexes one document: fingerprint, ledger check, extraction,
// chunking, classification, index write, ledger update. It reports how many
// chunks were indexed, or that the unchanged file was skipped. Processing
// errors are recorded in the ledger so the file is retried on the next run.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (chunks int, skipped bool, err error) {
	fingerprint, err := Fingerprint(path)
	if err != nil {
		return 0, false, err
	}

	should, err := p.tracker.ShouldProcess(path, fingerprint)
	if err != nil {
		return 0, false, err
	}
	if !should {
		return 0, true, nil
	}

	passages, err := p.buildPassages(path, fingerprint)
	if err != nil {
		if recErr := p.tracker.RecordError(path, fingerprint, err.Error()); recErr != nil {
			p.log.Error("recording ledger error failed", "path", path, "error", recErr)
		}
		return 0, false, err
	}

	// Drop everything previously indexed from this file before writing the
	// new set. Keying on the path rather than the ledger fingerprint covers
	// passages whose fingerprint the ledger no longer remembers, such as a
	// version indexed before a later attempt failed.
	if _, err := p.writer.DeleteBySourcePath(path); err != nil {
		p.log.Warn("deleting stale passages failed", "path", path, "error", err)
	}

	if err := p.writer.Upsert(ctx, passages); err != nil {
		if recErr := p.tracker.RecordError(path, fingerprint, err.Error()); recErr != nil {
			p.log.Error("recording ledger error failed", "path", path, "error", recErr)
		}
		return 0, false, fmt.Errorf("indexing %s: %w", path, err)
	}

	if err := p.tracker.RecordSuccess(path, fingerprint, len(passages)); err != nil {
		return 0, false, err
	}
	p.log.Info("indexed document", "path", path, "chunks", len(passages))
	return len(passages), false, nil
}

// buildPassages extracts, chunks, and classifies one document.
func (p *Pipeline) buildPassages(path, fingerprint string) ([]index.Passage, error) {
	text, err := extract.Text(path)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", path, err)
	}

	filename := filepath.Base(path)
	department := chunker.Department(path)
	chunks := chunker.Split(text, p.opts.Chunking)

	passages := make([]index.Passage, len(chunks))
	for i, c := range chunks {
		passages[i] = index.Passage{
			Text:       c.Text,
			Index:      c.Index,
			Category:   chunker.Classify(filename, c.Text),
			Department: department,
			DocID:      fingerprint,
			SourceFile: filename,
			SourcePath: path,
		}
	}
	return passages, nil
}

// ProcessAll walks folder and indexes every supported document. One file's
// failure never aborts the batch; it is counted and the file retried on the
// next run.
func (p *Pipeline) ProcessAll(ctx context.Context, folder string) (Summary, error) {
	var paths []string
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && extract.IsSupported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("walking %s: %w", folder, err)
	}

	summary := Summary{Total: len(paths)}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		_, skipped, err := p.ProcessFile(ctx, path)
		switch {
		case err != nil:
			summary.Errors++
			p.log.Warn("processing document failed", "path", path, "error", err)
		case skipped:
			summary.Skipped++
		default:
			summary.Indexed++
		}
	}
	p.log.Info("corpus pass complete",
		"total", summary.Total, "indexed", summary.Indexed,
		"skipped", summary.Skipped, "errors", summary.Errors)
	return summary, nil
}

// Reindex runs a full-corpus pass, optionally resetting the ledger first so
// every document is reprocessed regardless of fingerprint.
func (p *Pipeline) Reindex(ctx context.Context, folder string, full bool) (Summary, error) {
	if full {
		if err := p.tracker.Reset(); err != nil {
			return Summary{}, err
		}
	}
	return p.ProcessAll(ctx, folder)
}
