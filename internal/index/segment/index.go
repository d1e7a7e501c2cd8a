package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/metrics"
)

// Index serves every operation from an embedded MemoryIndex and persists
// it to <dataDir>/<name>.spdx on Save.
type Index struct {
	*index.MemoryIndex
	dataDir string
	metrics *metrics.Metrics
	logger  *slog.Logger

	// serializes Save and Delete against each other
	fileMu sync.Mutex
}

// New creates a segment index. m may be nil.
func New(dataDir, name string, m *metrics.Metrics) *Index {
	return &Index{
		MemoryIndex: index.NewMemoryIndex(name),
		dataDir:     dataDir,
		metrics:     m,
		logger:      logger.WithComponent("segment-index"),
	}
}

// Path is the segment file backing the index under its current name.
func (s *Index) Path() string {
	return Path(s.dataDir, s.Name())
}

// Open opens the memory index and loads the segment file if one exists.
func (s *Index) Open(ctx context.Context) error {
	if err := s.MemoryIndex.Open(ctx); err != nil {
		return err
	}
	path := s.Path()
	snap, err := Read(path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no segment on disk, starting empty", "index", s.Name(), "path", path)
		return nil
	}
	if err == nil {
		err = s.MemoryIndex.Restore(snap)
	}
	if err != nil {
		s.MemoryIndex.Close()
		return fmt.Errorf("loading segment %s: %w", path, err)
	}
	s.logger.Info("segment loaded",
		"index", s.Name(),
		"path", path,
		"documents", len(snap.Documents),
		"masters", len(snap.Similarities),
	)
	return nil
}

// Save writes the current contents to the segment file.
func (s *Index) Save(ctx context.Context) error {
	if err := s.MemoryIndex.Save(ctx); err != nil {
		return err
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	snap := s.MemoryIndex.Snapshot()
	path := s.Path()
	if err := Write(path, snap); err != nil {
		s.countWrite("error")
		return apperrors.Newf(apperrors.ErrBackend, "save index", "writing segment %s: %v", path, err)
	}
	s.countWrite("ok")
	s.logger.Info("segment written",
		"index", s.Name(),
		"path", path,
		"documents", len(snap.Documents),
	)
	return nil
}

// Delete empties the index and removes its segment file.
func (s *Index) Delete(ctx context.Context) error {
	if err := s.MemoryIndex.Delete(ctx); err != nil {
		return err
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	path := s.Path()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Newf(apperrors.ErrBackend, "delete index", "removing segment %s: %v", path, err)
	}
	s.logger.Info("segment deleted", "index", s.Name(), "path", path)
	return nil
}

// Ping checks that the data directory is reachable.
func (s *Index) Ping(_ context.Context) error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return fmt.Errorf("segment data dir: %w", err)
	}
	return nil
}

func (s *Index) countWrite(status string) {
	if s.metrics != nil {
		s.metrics.SegmentWritesTotal.WithLabelValues(status).Inc()
	}
}
