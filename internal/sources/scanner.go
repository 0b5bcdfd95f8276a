// Package sources loads tile source definitions from a directory of JSON
// files, one source per file.
package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"tileview/internal/tile"
)

type Scanner struct {
	dir     string
	logger  *zap.Logger
	sources map[string]*tile.Source
}

func New(dir string, logger *zap.Logger) *Scanner {
	return &Scanner{
		dir:     dir,
		logger:  logger,
		sources: map[string]*tile.Source{},
	}
}

// Scan replaces the catalog with the definitions found in the directory.
// Invalid files are logged and skipped. A missing directory yields an empty
// catalog.
func (s *Scanner) Scan() error {
	s.sources = map[string]*tile.Source{}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Sources directory does not exist", zap.String("dir", s.dir))
			return nil
		}
		return fmt.Errorf("failed to read sources directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.ToLower(filepath.Ext(entry.Name())) != ".json" {
			continue
		}

		path := s.getFilePath(entry.Name())
		src, err := s.loadSource(path)
		if err != nil {
			s.logger.Warn("Failed to load source, skipping", zap.String("path", path), zap.Error(err))
			continue
		}
		if prev, ok := s.sources[src.Slug]; ok {
			s.logger.Warn("Duplicate source slug, keeping first",
				zap.String("slug", src.Slug),
				zap.String("path", path),
				zap.String("kept", prev.Name))
			continue
		}
		s.sources[src.Slug] = src
	}

	s.logger.Info("Sources loaded", zap.String("dir", s.dir), zap.Int("count", len(s.sources)))
	return nil
}

// Add registers a source that does not come from a file.
func (s *Scanner) Add(src *tile.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if _, ok := s.sources[src.Slug]; ok {
		return fmt.Errorf("source %q already exists", src.Slug)
	}
	s.sources[src.Slug] = src
	return nil
}

// GetSources returns every source ordered by slug.
func (s *Scanner) GetSources() []*tile.Source {
	out := make([]*tile.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func (s *Scanner) GetSource(slug string) *tile.Source {
	return s.sources[slug]
}

// BySlug returns a copy of the catalog keyed by slug.
func (s *Scanner) BySlug() map[string]*tile.Source {
	out := make(map[string]*tile.Source, len(s.sources))
	for k, v := range s.sources {
		out[k] = v
	}
	return out
}

func (s *Scanner) getFilePath(filename string) string {
	return filepath.Join(s.dir, filename)
}

func (s *Scanner) loadSource(path string) (*tile.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var src tile.Source
	if err := json.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	if src.Slug == "" {
		src.Slug = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	return &src, nil
}
