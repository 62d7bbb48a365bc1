// Package extract turns uploaded document bytes into plain text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// MIME types with a registered extractor.
const (
	MIMEPDF = "application/pdf"
)

// Result is the plain-text rendition of a document.
type Result struct {
	Text      string
	PageCount int
	// PageOffsets holds the byte offset in Text where each page starts.
	PageOffsets []int
}

// PageAt returns the 1-based page containing byte offset pos, or 0 when unknown.
func (r Result) PageAt(pos int) int {
	page := 0
	for i, off := range r.PageOffsets {
		if off > pos {
			break
		}
		page = i + 1
	}
	return page
}

// Extractor converts raw bytes of one document type into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (Result, error)
}

// ExtractionError reports bytes that could not be read as a document.
type ExtractionError struct {
	MIMEType string
	Reason   string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.MIMEType, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.MIMEType, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Registry maps MIME types to extractors.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry returns a registry with the PDF extractor installed.
func NewRegistry() *Registry {
	r := &Registry{extractors: map[string]Extractor{}}
	r.Register(MIMEPDF, PDF{})
	return r
}

// Register installs or replaces the extractor for mimeType.
func (r *Registry) Register(mimeType string, e Extractor) {
	r.extractors[mimeType] = e
}

// For returns the extractor for mimeType.
func (r *Registry) For(mimeType string) (Extractor, error) {
	e, ok := r.extractors[mimeType]
	if !ok {
		return nil, &ExtractionError{MIMEType: mimeType, Reason: "unsupported document type"}
	}
	return e, nil
}

// DetectMIME guesses the MIME type from magic bytes, falling back to the extension.
func DetectMIME(filename string, data []byte) string {
	if bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return MIMEPDF
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return MIMEPDF
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, data []byte) (Result, error)

func (f Func) Extract(ctx context.Context, data []byte) (Result, error) { return f(ctx, data) }
