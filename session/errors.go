package session

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session is absent, expired, or destroyed.
	// It is an expected outcome, not a fault.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is the ErrNotFound returned when validation finds a session
	// past its ExpiresAt.
	ErrExpired = fmt.Errorf("%w: expired", ErrNotFound)

	// ErrRepository is returned when the durable store fails or times out.
	ErrRepository = errors.New("session repository unavailable")

	// ErrInvalidSession is returned when a session cannot be created from the
	// given parameters.
	ErrInvalidSession = errors.New("invalid session")

	// ErrCorrupt is returned when a stored session blob cannot be decoded.
	ErrCorrupt = errors.New("session record corrupt")
)

// repositoryError wraps err as ErrRepository unless it already is one or is
// a not-found outcome.
func repositoryError(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrRepository) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout: %v", ErrRepository, err)
	}
	return fmt.Errorf("%w: %v", ErrRepository, err)
}
