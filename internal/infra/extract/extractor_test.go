package extract

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
)

func TestExtractor_Extract(t *testing.T) {
	pngHeader := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

	tests := []struct {
		name     string
		data     []byte
		maxChars int
		wantText string
		wantType string
	}{
		{name: "plain text", data: []byte("hello world"), wantText: "hello world", wantType: "text/plain"},
		{name: "truncated", data: []byte("hello world"), maxChars: 5, wantText: "hello", wantType: "text/plain"},
		{name: "multibyte truncation", data: []byte("héllo wörld"), maxChars: 4, wantText: "héll", wantType: "text/plain"},
		{name: "json is text", data: []byte(`{"a":1}`), wantText: `{"a":1}`, wantType: "application/json"},
		{name: "binary has no text", data: pngHeader, wantType: "image/png"},
	}

	e := New(noop.NewTracerProvider().Tracer("test"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Extract(context.Background(), bytes.NewReader(tt.data), crawl.ExtractHints{Name: "f", MaxChars: tt.maxChars})
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, got.Text)
			assert.True(t, strings.HasPrefix(got.ContentType, tt.wantType), "got %s", got.ContentType)
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk error") }

func TestExtractor_ReadFailure(t *testing.T) {
	e := New(noop.NewTracerProvider().Tracer("test"))
	_, err := e.Extract(context.Background(), failingReader{}, crawl.ExtractHints{Name: "f"})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 0))
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab", truncate("abc", 2))
}
