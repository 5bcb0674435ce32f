package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quillvault/quill/internal/log"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestTextReadsUTF8File(t *testing.T) {
	path := writeTempFile(t, "notes.txt", []byte("research notes\non two lines"))
	l := NewLocal(1024, log.NewNop())

	got, err := l.Text(context.Background(), path, "notes.txt", 27)
	if err != nil {
		t.Fatalf("Text() error: %v", err)
	}
	if got != "research notes\non two lines" {
		t.Errorf("got %q", got)
	}
}

func TestTextOversizedFileReturnsPlaceholder(t *testing.T) {
	l := NewLocal(10, log.NewNop())

	got, err := l.Text(context.Background(), "/does/not/matter", "big.bin", 1<<20)
	if err != nil {
		t.Fatalf("Text() error: %v", err)
	}
	if !strings.Contains(got, "big.bin") || !strings.Contains(got, "could not be extracted") {
		t.Errorf("placeholder = %q", got)
	}
}

func TestTextMissingFileReturnsPlaceholder(t *testing.T) {
	l := NewLocal(1024, log.NewNop())

	got, err := l.Text(context.Background(), filepath.Join(t.TempDir(), "gone.txt"), "gone.txt", 5)
	if err != nil {
		t.Fatalf("Text() error: %v", err)
	}
	if got != Placeholder("gone.txt", 5) {
		t.Errorf("got %q, want placeholder", got)
	}
}

func TestTextBinaryFileReturnsPlaceholder(t *testing.T) {
	path := writeTempFile(t, "image.png", []byte{0x89, 0x50, 0x4e, 0x47, 0xff, 0xfe, 0x00, 0xc3})
	l := NewLocal(1024, log.NewNop())

	got, err := l.Text(context.Background(), path, "image.png", 8)
	if err != nil {
		t.Fatalf("Text() error: %v", err)
	}
	if got != Placeholder("image.png", 8) {
		t.Errorf("got %q, want placeholder", got)
	}
}

func TestTextCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewLocal(1024, log.NewNop())
	if _, err := l.Text(ctx, "anywhere", "x", 1); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
