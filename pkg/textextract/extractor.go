// Package textextract turns uploaded evidence files into plain text for scoring.
package textextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupportedType is returned for MIME types without an extractor.
	ErrUnsupportedType = errors.New("unsupported document type")
	// ErrNoText is returned when a document yields no extractable text.
	ErrNoText = errors.New("document contains no extractable text")
)

// Extractor reads documents up to a byte limit.
type Extractor struct {
	maxBytes int64
}

// New builds an extractor. maxBytes <= 0 disables the limit.
func New(maxBytes int64) *Extractor {
	return &Extractor{maxBytes: maxBytes}
}

// Extract returns the normalised text of r, dispatching on mimeType.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, mimeType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}

	raw, err := e.readAll(r)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var text string
	switch {
	case mediaType == "application/pdf":
		text, err = extractPDF(raw)
	case strings.HasPrefix(mediaType, "text/"):
		text, err = extractPlain(raw)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}
	if err != nil {
		return "", err
	}

	text = normalise(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func (e *Extractor) readAll(r io.Reader) ([]byte, error) {
	if e.maxBytes > 0 {
		r = io.LimitReader(r, e.maxBytes+1)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if e.maxBytes > 0 && int64(len(raw)) > e.maxBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", e.maxBytes)
	}
	return raw, nil
}

func extractPlain(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: text is not valid utf-8", ErrUnsupportedType)
	}
	return string(raw), nil
}

// extractPDF recovers from parser panics, which malformed input can trigger.
func extractPDF(raw []byte) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parse pdf: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

// normalise collapses runs of blank lines and trims trailing spaces.
func normalise(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t ")
		if strings.TrimSpace(line) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
