package rag

import (
	"fmt"
	"strings"

	"github.com/quillvault/quill/internal/chunk"
	"github.com/quillvault/quill/internal/store"
	"github.com/quillvault/quill/internal/vault"
)

// NoContextSentinel is the context text used when retrieval found
// nothing relevant. The turn still completes; the model is told so.
const NoContextSentinel = "No relevant content was found in this vault for the question."

// snippetMaxLen caps citation snippets for display.
const snippetMaxLen = 150

// FormatContext turns ranked chunks into the grounding text block fed
// to the model and a parallel citation list. Input order is preserved;
// empty input yields the sentinel text and no citations, never an
// error.
func FormatContext(hits []store.ChunkHit) (string, []vault.Citation) {
	if len(hits) == 0 {
		return NoContextSentinel, []vault.Citation{}
	}

	var b strings.Builder
	citations := make([]vault.Citation, 0, len(hits))

	for i, hit := range hits {
		title := hit.Metadata[chunk.MetaTitle]
		author := hit.Metadata[chunk.MetaAuthor]

		fmt.Fprintf(&b, "[Source %d] (%s) %q", i+1, hit.SourceType, title)
		if author != "" {
			fmt.Fprintf(&b, " by %s", author)
		}
		b.WriteString("\n")
		b.WriteString(hit.Content)
		b.WriteString("\n\n")

		citations = append(citations, vault.Citation{
			SourceType: hit.SourceType,
			SourceID:   hit.SourceID.String(),
			Title:      title,
			Snippet:    snippet(hit.Content),
		})
	}

	return strings.TrimRight(b.String(), "\n") + "\n", citations
}

// snippet truncates content for the citation list.
func snippet(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= snippetMaxLen {
		return content
	}
	return strings.TrimSpace(content[:snippetMaxLen]) + "..."
}
