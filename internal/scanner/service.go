package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"quaver/internal/catalog"
	"quaver/internal/tags"
	"quaver/internal/walker"
)

// Extractor turns a file path into a normalized tag record. Production
// wiring uses tags.Extract; tests substitute a fake, since tag reading
// is an external capability as far as the engine is concerned.
type Extractor func(path string) (*tags.Record, error)

type Totals struct {
	Seen    int
	Indexed int
	Skipped int
	Failed  int
}

type Service struct {
	store   *catalog.Store
	extract Extractor
	exclude *regexp.Regexp
	log     *slog.Logger
}

func New(store *catalog.Store, extract Extractor, exclude *regexp.Regexp, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{store: store, extract: extract, exclude: exclude, log: logger}
}

// Run walks root and reconciles every readable audio file into the
// catalog. Full mode truncates the catalog first; incremental mode
// prunes orphaned entities afterwards. Per-file failures are contained:
// the file's transaction rolls back and the scan moves on.
func (s *Service) Run(ctx context.Context, root string, full bool) (Totals, error) {
	start := time.Now()

	if full {
		if err := s.store.Truncate(ctx); err != nil {
			return Totals{}, fmt.Errorf("truncate catalog: %w", err)
		}
	}

	totals := Totals{}
	err := walker.Walk(root, s.exclude, func(path string, ambientCover []byte) error {
		totals.Seen++

		record, err := s.extract(path)
		if errors.Is(err, tags.ErrNotAudio) {
			totals.Skipped++
			s.log.Debug("skipping file", "path", path)
			return nil
		}
		if err != nil {
			totals.Failed++
			s.log.Warn("could not read tags", "path", path, "error", err)
			return nil
		}

		if err := s.store.Reconcile(ctx, record, path, ambientCover); err != nil {
			totals.Failed++
			s.log.Warn("failed to index file", "path", path, "error", err)
			return nil
		}

		totals.Indexed++
		s.log.Debug("indexed file", "path", path)
		return nil
	})
	if err != nil {
		return totals, fmt.Errorf("walk %s: %w", root, err)
	}

	if !full {
		if err := s.store.Cleanup(ctx); err != nil {
			return totals, fmt.Errorf("cleanup catalog: %w", err)
		}
	}

	s.log.Info("scan finished",
		"root", root,
		"full", full,
		"duration", time.Since(start).Truncate(time.Millisecond),
		"seen", totals.Seen,
		"indexed", totals.Indexed,
		"skipped", totals.Skipped,
		"failed", totals.Failed)

	return totals, nil
}
