// Package source provides detection sources: replay of recorded detection
// logs (JSON Lines or CSV) and a synthetic chain generator.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/amombay/Hexcitations/internal/fsutil"
	"github.com/amombay/Hexcitations/internal/markers"
)

// ErrBadRecord is returned when a log record cannot be decoded.
var ErrBadRecord = errors.New("bad detection record")

// Source delivers frames in order. Next returns io.EOF once the source is
// exhausted.
type Source interface {
	Next(ctx context.Context) (markers.Frame, error)
}

// File is a Source backed by an open detection log.
type File struct {
	Source
	closer io.Closer
	path   string
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.closer.Close()
}

// Path returns the file the source reads from.
func (f *File) Path() string { return f.path }

// Open opens a detection log, choosing the decoder from the extension:
// .jsonl or .ndjson for JSON Lines, .csv for CSV.
func Open(fsys fsutil.FileSystem, path string) (*File, error) {
	var decoder func(io.Reader) Source
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		decoder = func(r io.Reader) Source { return NewJSONLSource(r) }
	case ".csv":
		decoder = func(r io.Reader) Source { return NewCSVSource(r) }
	default:
		return nil, fmt.Errorf("unsupported detection log %q: expected .jsonl, .ndjson or .csv", path)
	}

	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detection log: %w", err)
	}
	return &File{Source: decoder(f), closer: f, path: path}, nil
}
