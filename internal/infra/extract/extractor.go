// Package extract provides the built-in content extractor. It detects the
// media type of a file and returns the text of textual formats. Rich
// document formats are left to an external extraction service and come
// back with metadata only.
package extract

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
)

var _ crawl.ContentExtractor = (*Extractor)(nil)

// maxReadBytes bounds how much of a file is read when no character limit
// applies.
const maxReadBytes = 64 << 20

// Extractor is a mimetype based crawl.ContentExtractor.
type Extractor struct {
	tracer trace.Tracer
}

// New creates an extractor.
func New(tracer trace.Tracer) *Extractor { return &Extractor{tracer: tracer} }

// Extract reads r and returns its content type and, for textual types,
// its text truncated to hints.MaxChars characters.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, hints crawl.ExtractHints) (crawl.Content, error) {
	_, span := e.tracer.Start(ctx, "extractor.extract",
		trace.WithAttributes(
			attribute.String("name", hints.Name),
			attribute.Int64("size", hints.Size),
		))
	defer span.End()

	limit := int64(maxReadBytes)
	if hints.MaxChars > 0 {
		// A UTF-8 character is at most four bytes.
		limit = min(limit, int64(hints.MaxChars)*utf8.UTFMax)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		span.RecordError(err)
		return crawl.Content{}, fmt.Errorf("reading %s: %w", hints.Name, err)
	}

	mt := mimetype.Detect(data)
	content := crawl.Content{
		ContentType: mt.String(),
		Metadata:    map[string]string{"extension": strings.TrimPrefix(mt.Extension(), ".")},
	}
	span.SetAttributes(attribute.String("content_type", content.ContentType))

	if !isText(mt) {
		return content, nil
	}
	content.Text = truncate(strings.ToValidUTF8(string(data), ""), hints.MaxChars)
	return content, nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// truncate keeps the first n characters of s. n <= 0 keeps everything.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
