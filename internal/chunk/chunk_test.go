package chunk

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/quillvault/quill/internal/vault"
)

func TestTextSingleChunk(t *testing.T) {
	opts := Options{Size: 100, Overlap: 20}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "short text", in: "hello world", want: "hello world"},
		{name: "surrounding whitespace trimmed", in: "  hello world \n", want: "hello world"},
		{name: "exactly size", in: strings.Repeat("a", 100), want: strings.Repeat("a", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Text(tt.in, nil, opts)
			if len(got) != 1 {
				t.Fatalf("Text() returned %d chunks, want 1", len(got))
			}
			if got[0].Content != tt.want {
				t.Errorf("content = %q, want %q", got[0].Content, tt.want)
			}
			if got[0].Index != 0 {
				t.Errorf("index = %d, want 0", got[0].Index)
			}
		})
	}
}

func TestTextEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t"} {
		if got := Text(in, nil, Options{Size: 100, Overlap: 20}); got != nil {
			t.Errorf("Text(%q) = %d chunks, want nil", in, len(got))
		}
	}
}

func TestTextPrefersParagraphBreak(t *testing.T) {
	para1 := strings.Repeat("a", 600)
	para2 := strings.Repeat("b", 600)
	text := para1 + "\n\n" + para2

	chunks := Text(text, nil, Options{Size: 1000, Overlap: 100})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Content != para1 {
		t.Errorf("chunk 0 should end at the paragraph break, got %d bytes", len(chunks[0].Content))
	}
	if !strings.HasSuffix(chunks[1].Content, para2) {
		t.Errorf("chunk 1 should contain the second paragraph")
	}
	// The second window starts inside the first paragraph's tail.
	if !strings.HasPrefix(chunks[1].Content, "a") {
		t.Errorf("chunk 1 should begin with overlap from chunk 0, got %q", chunks[1].Content[:10])
	}
}

func TestTextPrefersSentenceBreak(t *testing.T) {
	text := strings.Repeat("a", 400) + ". " + strings.Repeat("b", 800)

	chunks := Text(text, nil, Options{Size: 1000, Overlap: 100})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Content, ".") {
		t.Errorf("chunk 0 should keep the sentence period, got suffix %q", chunks[0].Content[len(chunks[0].Content)-5:])
	}
	if len(chunks[0].Content) != 401 {
		t.Errorf("chunk 0 length = %d, want 401", len(chunks[0].Content))
	}
}

func TestTextHardCutAndOverlap(t *testing.T) {
	text := strings.Repeat("x", 2500)
	opts := Options{Size: 1000, Overlap: 100}

	chunks := Text(text, nil, opts)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d has index %d", i, ch.Index)
		}
		if len(ch.Content) > opts.Size {
			t.Errorf("chunk %d length %d exceeds size %d", i, len(ch.Content), opts.Size)
		}
	}
	if len(chunks[0].Content) != 1000 || len(chunks[1].Content) != 1000 || len(chunks[2].Content) != 700 {
		t.Errorf("chunk lengths = %d,%d,%d, want 1000,1000,700",
			len(chunks[0].Content), len(chunks[1].Content), len(chunks[2].Content))
	}
}

func TestTextOneOverSizeSplitsInTwo(t *testing.T) {
	opts := Options{Size: 1000, Overlap: 100}
	text := strings.Repeat("z", opts.Size+1)

	chunks := Text(text, nil, opts)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0].Content) != opts.Size {
		t.Errorf("chunk 0 length = %d, want %d", len(chunks[0].Content), opts.Size)
	}

	// Consecutive chunks share the overlap region.
	tail := chunks[0].Content[len(chunks[0].Content)-opts.Overlap:]
	head := chunks[1].Content[:opts.Overlap]
	if tail != head {
		t.Errorf("overlap mismatch: tail %q vs head %q", tail[:10], head[:10])
	}
}

func TestTextAlwaysTerminates(t *testing.T) {
	// A sentence break deep in the overlap region must not stall the
	// window; the cut is abandoned in favor of plain forward progress.
	text := strings.Repeat("a", 350) + ". " + strings.Repeat("b", 5000)

	chunks := Text(text, nil, Options{Size: 1000, Overlap: 400})
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d has index %d, want sequential indices", i, ch.Index)
		}
	}
	last := chunks[len(chunks)-1].Content
	if !strings.HasSuffix(last, "b") {
		t.Errorf("final chunk should reach the end of the text")
	}
}

func TestTextInvalidOptionsFallBackToDefaults(t *testing.T) {
	text := strings.Repeat("y", 2000)

	for _, opts := range []Options{
		{Size: 0, Overlap: 0},
		{Size: 100, Overlap: 100},
		{Size: 100, Overlap: -1},
	} {
		chunks := Text(text, nil, opts)
		if len(chunks) == 0 {
			t.Errorf("Text with opts %+v returned no chunks", opts)
		}
	}
}

func TestFromSource(t *testing.T) {
	src := vault.Source{
		ID:          uuid.New(),
		Title:       "The Go Memory Model",
		URL:         "https://go.dev/ref/mem",
		Author:      "Go team",
		Description: "Happens-before semantics.",
		Notes:       "Read before touching sync code.",
	}

	chunks := FromSource(src, DefaultOptions())
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}

	content := chunks[0].Content
	for _, want := range []string{"Title: The Go Memory Model", "URL: https://go.dev/ref/mem", "Author: Go team", src.Notes} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q", want)
		}
	}

	md := chunks[0].Metadata
	if md[MetaSourceType] != vault.SourceTypeSource {
		t.Errorf("source_type = %q", md[MetaSourceType])
	}
	if md[MetaSourceID] != src.ID.String() {
		t.Errorf("source_id = %q, want %q", md[MetaSourceID], src.ID)
	}
	if md[MetaTitle] != src.Title || md[MetaAuthor] != src.Author {
		t.Errorf("title/author metadata = %q/%q", md[MetaTitle], md[MetaAuthor])
	}
}

func TestFromAnnotation(t *testing.T) {
	a := vault.Annotation{
		ID:          uuid.New(),
		SourceTitle: "The Go Memory Model",
		Author:      "alice",
		Quote:       "A send on a channel happens before the receive completes.",
		Comment:     "This is the key guarantee for the worker pool.",
	}

	chunks := FromAnnotation(a, DefaultOptions())
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, a.Quote) || !strings.Contains(chunks[0].Content, a.Comment) {
		t.Errorf("content missing quote or comment: %q", chunks[0].Content)
	}
	if got := chunks[0].Metadata[MetaTitle]; got != "Annotation on The Go Memory Model" {
		t.Errorf("title metadata = %q", got)
	}
	if got := chunks[0].Metadata[MetaSourceType]; got != vault.SourceTypeAnnotation {
		t.Errorf("source_type = %q", got)
	}
}

func TestFromFile(t *testing.T) {
	f := vault.File{
		ID:         uuid.New(),
		Name:       "notes.txt",
		UploadedBy: "bob",
	}

	chunks := FromFile(f, "Some extracted text.", DefaultOptions())
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "File: notes.txt") {
		t.Errorf("content missing file header: %q", chunks[0].Content)
	}
	if got := chunks[0].Metadata[MetaTitle]; got != "notes.txt" {
		t.Errorf("title metadata = %q", got)
	}
}
