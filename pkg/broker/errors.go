package broker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ErrUnknownConnection is returned for names with no registered descriptor
var ErrUnknownConnection = errors.New("unknown connection")

// ErrNoOpener is returned when no opener is registered for a driver kind
var ErrNoOpener = errors.New("no opener registered for driver")

// ErrAlreadyAcquired is returned when a connection is checked out twice
var ErrAlreadyAcquired = errors.New("connection already acquired")

// ConnectionError reports a connect or acquire failure after retries were
// exhausted. It carries the descriptor name and the last underlying cause.
type ConnectionError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %q: failed after %d attempt(s): %v", e.Name, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is an authentication failure.
// Authentication failures are fatal and never retried.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	// Postgres class 28 is "Invalid Authorization Specification"
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "28" {
		return true
	}

	errStr := strings.ToLower(err.Error())
	authErrors := []string{
		"password authentication failed",
		"authentication failed",
		"login failed",
		"access denied",
		"invalid credentials",
	}
	for _, m := range authErrors {
		if strings.Contains(errStr, m) {
			return true
		}
	}
	return false
}
