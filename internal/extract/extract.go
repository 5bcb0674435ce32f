// Package extract provides best-effort plain-text extraction for
// uploaded files. It is deliberately not a document parser: anything
// that cannot be read as UTF-8 text within the size cap degrades to a
// descriptive placeholder instead of failing the indexing run.
package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"unicode/utf8"
)

// Extractor returns plain text for a stored file.
type Extractor interface {
	// Text returns the file's text content, or a descriptive
	// placeholder when the file is oversized or undecodable. It only
	// returns an error for failures the caller may want to log.
	Text(ctx context.Context, location, name string, size int64) (string, error)
}

// Local reads files from the local filesystem with a byte cap.
type Local struct {
	maxBytes int64
	logger   *slog.Logger
}

// NewLocal creates a filesystem extractor. maxBytes caps how much of a
// file is ever read; larger files short-circuit to a placeholder.
func NewLocal(maxBytes int64, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{maxBytes: maxBytes, logger: logger}
}

// Placeholder is the degraded representation of a file that could not
// be turned into text. It keeps the filename searchable.
func Placeholder(name string, size int64) string {
	return fmt.Sprintf("Uploaded file %q (%d bytes). Content could not be extracted as text.", name, size)
}

// Text implements Extractor.
func (l *Local) Text(ctx context.Context, location, name string, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if size > l.maxBytes {
		l.logger.Debug("file exceeds extraction cap", "name", name, "size", size, "cap", l.maxBytes)
		return Placeholder(name, size), nil
	}

	f, err := os.Open(location)
	if err != nil {
		l.logger.Debug("opening file for extraction", "name", name, "error", err)
		return Placeholder(name, size), nil
	}
	defer func() {
		_ = f.Close()
	}()

	// LimitReader guards against the stored size being stale.
	data, err := io.ReadAll(io.LimitReader(f, l.maxBytes))
	if err != nil {
		l.logger.Debug("reading file for extraction", "name", name, "error", err)
		return Placeholder(name, size), nil
	}

	if !utf8.Valid(data) {
		return Placeholder(name, size), nil
	}

	return string(data), nil
}
