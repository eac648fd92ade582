package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// LocalStore is a Store rooted at a local directory.
type LocalStore struct {
	root   string
	logger *zap.Logger
}

// NewLocalStore creates a store rooted at root.
func NewLocalStore(root string, logger *zap.Logger) *LocalStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStore{root: root, logger: logger}
}

// Root returns the directory the store is rooted at.
func (s *LocalStore) Root() string {
	return s.root
}

// List walks dir with the doublestar pattern and returns matching regular
// files relative to the store root.
func (s *LocalStore) List(ctx context.Context, dir, pattern string) ([]string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(dir))
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory %s: %w", dir, ErrNotFound)
		}
		return nil, fmt.Errorf("stat directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	if pattern == "" {
		pattern = "**/*"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}

	var files []string
	err = doublestar.GlobWalk(os.DirFS(full), pattern, func(p string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		files = append(files, Join(dir, p))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	NaturalSort(files)
	s.logger.Debug("listed directory",
		zap.String("dir", dir),
		zap.String("pattern", pattern),
		zap.Int("files", len(files)))
	return files, nil
}

// Open opens a file below the root.
func (s *LocalStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(name)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Put writes a file below the root.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	full := filepath.Join(s.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	s.logger.Debug("wrote file", zap.String("path", name), zap.Int("size_bytes", len(data)))
	return nil
}

var _ Store = (*LocalStore)(nil)
