package textextract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainText(t *testing.T) {
	doc := "Sustainability Report 2024\r\n\r\n\r\nScope 1 emissions fell 12%.   \n\nBoard has 40% independent directors.\n"
	text, err := New(0).Extract(context.Background(), strings.NewReader(doc), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "Sustainability Report 2024\n\nScope 1 emissions fell 12%.\n\nBoard has 40% independent directors.", text)
}

func TestExtractMarkdownAndCSV(t *testing.T) {
	for _, mt := range []string{"text/markdown", "text/csv"} {
		text, err := New(0).Extract(context.Background(), strings.NewReader("a,b\n1,2"), mt)
		require.NoError(t, err, mt)
		assert.Equal(t, "a,b\n1,2", text)
	}
}

func TestExtractRejectsUnsupportedType(t *testing.T) {
	_, err := New(0).Extract(context.Background(), strings.NewReader("PK"), "application/zip")
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestExtractRejectsBinaryText(t *testing.T) {
	_, err := New(0).Extract(context.Background(), strings.NewReader("\xff\xfe\x00"), "text/plain")
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestExtractEmptyDocument(t *testing.T) {
	_, err := New(0).Extract(context.Background(), strings.NewReader(" \n\t\n"), "text/plain")
	require.ErrorIs(t, err, ErrNoText)
}

func TestExtractEnforcesLimit(t *testing.T) {
	_, err := New(4).Extract(context.Background(), strings.NewReader("12345"), "text/plain")
	require.Error(t, err)
}

func TestExtractMalformedPDF(t *testing.T) {
	_, err := New(0).Extract(context.Background(), strings.NewReader("%PDF-1.4 not really"), "application/pdf")
	require.Error(t, err)
}
