package chunk

import (
	"fmt"
	"strings"

	"github.com/quillvault/quill/internal/vault"
)

// FromSource builds the canonical text representation of a saved source
// (title, locator, descriptive fields, free text) and chunks it. Title
// and author are denormalized into chunk metadata so citations never
// need a join.
func FromSource(src vault.Source, opts Options) []Chunk {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", src.Title)
	if src.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", src.URL)
	}
	if src.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", src.Author)
	}
	if src.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", src.Description)
	}
	if src.Notes != "" {
		fmt.Fprintf(&b, "\n%s\n", src.Notes)
	}

	return Text(b.String(), map[string]string{
		MetaSourceType: vault.SourceTypeSource,
		MetaSourceID:   src.ID.String(),
		MetaTitle:      src.Title,
		MetaAuthor:     src.Author,
	}, opts)
}

// FromAnnotation chunks a member's note. The annotated source's title is
// carried so the citation reads "note on <source>".
func FromAnnotation(a vault.Annotation, opts Options) []Chunk {
	var b strings.Builder
	fmt.Fprintf(&b, "Annotation on: %s\n", a.SourceTitle)
	if a.Quote != "" {
		fmt.Fprintf(&b, "Quoted passage: %s\n", a.Quote)
	}
	if a.Comment != "" {
		fmt.Fprintf(&b, "\n%s\n", a.Comment)
	}

	return Text(b.String(), map[string]string{
		MetaSourceType: vault.SourceTypeAnnotation,
		MetaSourceID:   a.ID.String(),
		MetaTitle:      "Annotation on " + a.SourceTitle,
		MetaAuthor:     a.Author,
	}, opts)
}

// FromFile chunks extracted file text. The extraction layer is
// best-effort: text may already be a placeholder for oversized or
// undecodable files.
func FromFile(f vault.File, text string, opts Options) []Chunk {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n\n", f.Name)
	b.WriteString(text)

	return Text(b.String(), map[string]string{
		MetaSourceType: vault.SourceTypeFile,
		MetaSourceID:   f.ID.String(),
		MetaTitle:      f.Name,
		MetaAuthor:     f.UploadedBy,
	}, opts)
}
