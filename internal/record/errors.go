package record

import (
	"errors"
	"strings"
)

var (
	// ErrAuthRequired is returned when a mutating operation is attempted
	// without an authenticated actor.
	ErrAuthRequired = errors.New("authentication required")
	// ErrInvalidInput is returned for nil/malformed arguments, before any
	// backend call is made.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a referenced record is absent.
	ErrNotFound = errors.New("record not found")
)

// FriendlyMessage translates known backend failures into a message fit for a
// user-facing notification. Unknown errors pass through as-is.
func FriendlyMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthRequired):
		return "You must be signed in to do that."
	case errors.Is(err, ErrNotFound):
		return "The requested record no longer exists."
	case errors.Is(err, ErrInvalidInput):
		return "The request was malformed."
	case strings.Contains(err.Error(), "permission denied"):
		return "You do not have permission to do that."
	default:
		return err.Error()
	}
}
