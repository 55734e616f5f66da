package content

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestValidateMessage(t *testing.T) {
	require.NoError(t, ValidateMessage("hello"))
	require.ErrorIs(t, ValidateMessage(""), ErrEmptyMessage)
	require.ErrorIs(t, ValidateMessage(" \n\t "), ErrEmptyMessage)
	require.ErrorIs(t, ValidateMessage(strings.Repeat("a", MaxMessageLength+1)), ErrMessageTooLong)
	require.NoError(t, ValidateMessage(strings.Repeat("é", MaxMessageLength)))
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "hello", "hello"},
		{"strips tags", "<b>Olá</b>   <i>mundo</i>", "Olá mundo"},
		{"drops scripts", "hi<script>alert(1)</script>", "hi"},
		{"keeps ampersand", "Tom & Jerry", "Tom & Jerry"},
		{"collapses newlines", "line one\n\nline two", "line one line two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Preview(tt.input))
		})
	}
}

func TestPreview_Truncates(t *testing.T) {
	long := strings.Repeat("ção ", 50)
	p := Preview(long)
	require.LessOrEqual(t, utf8.RuneCountInString(p), PreviewLength)
	require.True(t, strings.HasSuffix(p, "…"))
}

func TestValidateUpload(t *testing.T) {
	png, err := base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")
	require.NoError(t, err)

	mime, err := ValidateUpload(png, int64(len(png)), 1024)
	require.NoError(t, err)
	require.Equal(t, "image/png", mime)

	_, err = ValidateUpload(png, 2048, 1024)
	require.ErrorIs(t, err, ErrUploadTooLarge)

	_, err = ValidateUpload([]byte("just some text"), 14, 1024)
	require.ErrorIs(t, err, ErrUploadType)

	_, err = ValidateUpload(nil, 0, 1024)
	require.True(t, errors.Is(err, ErrUploadEmptyFile))
}
