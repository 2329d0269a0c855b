package generation

import (
	"context"
	"errors"
	"net"

	"travel-assistant/internal/domain"
)

var (
	// ErrUnavailable means no backend could be reached.
	ErrUnavailable = errors.New("generation: backend unavailable")
	// ErrTimeout means the backend did not answer within the deadline.
	ErrTimeout = errors.New("generation: backend timed out")
	// ErrMalformed means the backend answered with an empty or undecodable payload.
	ErrMalformed = errors.New("generation: malformed backend response")
)

// classify maps a backend error onto one of the generation error codes.
func classify(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrMalformed):
		return domain.GenErrMalformed
	case errors.Is(err, context.Canceled):
		return domain.GenErrCanceled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.GenErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.GenErrTimeout
	default:
		return domain.GenErrUnavailable
	}
}
