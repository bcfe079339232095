// Package input normalizes raw user text before it enters a turn.
package input

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// DefaultMaxMessageSize bounds a single user message in bytes.
	DefaultMaxMessageSize = 4096
	// EnvMaxMessageSize overrides the default limit.
	EnvMaxMessageSize = "ESPALIER_MAX_INPUT_SIZE"
)

var (
	ErrMessageTooLarge = errors.New("message exceeds maximum allowed size")
	ErrInvalidUTF8     = errors.New("message contains invalid UTF-8 sequences")
)

// Sanitize enforces the size limit, validates UTF-8 and strips control
// characters (keeping \n, \t and \r) from a user message. Oversized
// messages are rejected rather than truncated so the stored transcript
// always matches what the model saw.
func Sanitize(message string) (string, error) {
	limit := maxMessageSize()
	if len(message) > limit {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrMessageTooLarge, len(message), limit)
	}

	if !utf8.ValidString(message) {
		return "", ErrInvalidUTF8
	}

	// Stripping ESC, NUL, BEL and friends keeps logs and terminals intact
	// when the transcript is replayed.
	clean := true
	for _, r := range message {
		if unicode.IsControl(r) && !safeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return message, nil
	}

	var b strings.Builder
	b.Grow(len(message))
	for _, r := range message {
		if !unicode.IsControl(r) || safeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func safeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}

func maxMessageSize() int {
	if val := os.Getenv(EnvMaxMessageSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxMessageSize
}
