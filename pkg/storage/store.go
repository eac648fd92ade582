// Package storage gives iteration nodes a directory abstraction over the
// local filesystem and Azure Blob Storage.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// ErrNotFound indicates a directory or file does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store is a tree of files addressed by slash-separated paths relative to
// the store root.
type Store interface {
	// List returns the files below dir whose path relative to dir matches
	// the doublestar pattern, in natural order.
	List(ctx context.Context, dir, pattern string) ([]string, error)

	// Open opens a file for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Put writes a file, creating parent directories as needed.
	Put(ctx context.Context, name string, data []byte) error
}

// NaturalSort orders paths so that embedded numbers compare by value:
// frame2.png sorts before frame10.png.
func NaturalSort(paths []string) {
	c := collate.New(language.Und, collate.Numeric)
	slices.SortStableFunc(paths, func(a, b string) int {
		return c.CompareString(a, b)
	})
}

// Join joins path elements with forward slashes.
func Join(elem ...string) string {
	return path.Join(elem...)
}

// Stem returns the base name of a path without its extension.
func Stem(name string) string {
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}
