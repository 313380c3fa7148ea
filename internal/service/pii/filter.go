// Package pii scrubs personal information from inbound user text before it
// is persisted.
package pii

import (
	"errors"
	"regexp"
	"unicode/utf8"
)

var ErrInvalidText = errors.New("text is not valid UTF-8")

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\-\s]{7,}\d`)
)

// Clean redacts emails and phone numbers. It is a pure transform; a failure
// here is a turn-level error for the caller.
func Clean(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", ErrInvalidText
	}

	cleaned := emailPattern.ReplaceAllString(text, "[email]")
	cleaned = phonePattern.ReplaceAllString(cleaned, "[phone]")
	return cleaned, nil
}
