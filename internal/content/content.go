package content

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
)

const (
	// MaxMessageLength is the longest message body accepted for sending, in runes.
	MaxMessageLength = 5000
	// PreviewLength bounds chat list and notification previews, in runes.
	PreviewLength = 80
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLong  = fmt.Errorf("message is longer than %d characters", MaxMessageLength)
	ErrUploadTooLarge  = errors.New("file is too large")
	ErrUploadType      = errors.New("file type is not allowed")
	ErrUploadEmptyFile = errors.New("file is empty")
)

var (
	policy = bluemonday.StrictPolicy()

	// Media types accepted for attachments, by filetype MIME.
	allowedUploads = map[string]bool{
		"image/jpeg":         true,
		"image/png":          true,
		"image/gif":          true,
		"image/webp":         true,
		"application/pdf":    true,
		"audio/webm":         true,
		"audio/ogg":          true,
		"audio/mpeg":         true,
		"video/webm":         true,
		"video/mp4":          true,
		"application/zip":    true,
		"application/msword": true,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	}
)

// ValidateMessage checks a message body before it is sent.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// Preview turns message content into a single line of plain text suitable
// for the chat list and desktop notifications.
func Preview(text string) string {
	plain := html.UnescapeString(policy.Sanitize(text))
	plain = strings.Join(strings.Fields(plain), " ")
	if utf8.RuneCountInString(plain) <= PreviewLength {
		return plain
	}
	runes := []rune(plain)
	return strings.TrimSpace(string(runes[:PreviewLength-1])) + "…"
}

// ValidateUpload sniffs the first bytes of a file and checks its size.
// It returns the detected MIME type.
func ValidateUpload(head []byte, size, maxSize int64) (string, error) {
	if size == 0 || len(head) == 0 {
		return "", ErrUploadEmptyFile
	}
	if size > maxSize {
		return "", fmt.Errorf("%w: %d bytes, limit is %d", ErrUploadTooLarge, size, maxSize)
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return "", ErrUploadType
	}
	if !allowedUploads[kind.MIME.Value] {
		return "", fmt.Errorf("%w: %s", ErrUploadType, kind.MIME.Value)
	}
	return kind.MIME.Value, nil
}
