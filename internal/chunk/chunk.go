// Package chunk splits vault content into overlapping, boundary-aware
// segments. Chunks are the unit of embedding and retrieval.
package chunk

import "strings"

// Metadata keys set on every chunk.
const (
	MetaSourceType = "source_type"
	MetaSourceID   = "source_id"
	MetaTitle      = "title"
	MetaAuthor     = "author"
)

// Chunk is a bounded slice of source text tagged with provenance
// metadata. Index is the ordinal within one chunking call.
type Chunk struct {
	Content  string
	Index    int
	Metadata map[string]string
}

// Options controls window size and overlap.
type Options struct {
	Size    int
	Overlap int
}

// DefaultOptions mirrors the production configuration defaults.
func DefaultOptions() Options {
	return Options{Size: 1500, Overlap: 200}
}

// boundaryFraction is how far into the window a paragraph or sentence
// break must fall to be preferred over a hard cut.
const boundaryFraction = 0.3

// Text splits text into overlapping chunks. The result is ordered,
// finite and deterministic:
//
//   - trimmed text no longer than opts.Size yields exactly one chunk
//   - otherwise each window prefers ending at the nearest paragraph
//     break, then the nearest sentence break, then a hard cut
//   - consecutive windows overlap by opts.Overlap
//   - chunks that are blank after trimming are dropped; indices stay
//     sequential from 0
//
// The metadata map is shared across the returned chunks; callers must
// treat it as read-only.
func Text(text string, metadata map[string]string, opts Options) []Chunk {
	if opts.Size <= 0 {
		opts = DefaultOptions()
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		opts.Overlap = DefaultOptions().Overlap
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= opts.Size {
		return []Chunk{{Content: trimmed, Index: 0, Metadata: metadata}}
	}

	minBoundary := int(boundaryFraction * float64(opts.Size))

	var chunks []Chunk
	index := 0
	start := 0
	for start < len(trimmed) {
		end := start + opts.Size
		if end >= len(trimmed) {
			end = len(trimmed)
		} else {
			window := trimmed[start:end]
			if i := strings.LastIndex(window, "\n\n"); i > minBoundary {
				end = start + i
			} else if i := strings.LastIndex(window, ". "); i > minBoundary {
				end = start + i + 1 // keep the period
			}
		}

		piece := strings.TrimSpace(trimmed[start:end])
		if piece != "" {
			chunks = append(chunks, Chunk{Content: piece, Index: index, Metadata: metadata})
			index++
		}

		if end >= len(trimmed) {
			break
		}
		next := end - opts.Overlap
		if next <= start {
			// The boundary cut backed up into the previous overlap
			// region; advance past it to guarantee progress.
			next = end
		}
		start = next
	}

	return chunks
}
