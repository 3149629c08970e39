package reddit

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigRequired is returned when a client is constructed without a config.
	ErrConfigRequired = errors.New("config required")

	// ErrTransientFetch is the classification target for TransientError.
	// The item stays eligible for the next run.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrPermanentFetch is the classification target for PermanentError.
	// The item is skipped without retry.
	ErrPermanentFetch = errors.New("permanent fetch failure")

	// ErrMalformedPayload is returned when a payload cannot be parsed at all.
	// Individual missing fields inside a parseable payload are defaulted instead.
	ErrMalformedPayload = errors.New("malformed payload")
)

// TransientError reports a fetch abandoned after backoff was exhausted
// against a rate-limited or failing upstream. It matches ErrTransientFetch
// under errors.Is.
type TransientError struct {
	// URL identifies the request that was abandoned.
	URL string
	// StatusCode is the last response status; 0 when the last attempt
	// failed below HTTP.
	StatusCode int
	// Attempts is the number of requests made before giving up.
	Attempts int
	// Err is the last underlying error, if any.
	Err error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient fetch failure: %s: %v after %d attempts", e.URL, e.Err, e.Attempts)
	}
	return fmt.Sprintf("transient fetch failure: %s: status %d after %d attempts", e.URL, e.StatusCode, e.Attempts)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Is reports a match for the ErrTransientFetch sentinel.
func (e *TransientError) Is(target error) bool { return target == ErrTransientFetch }

// PermanentError reports an upstream rejection that retrying cannot fix,
// such as a 404 for a deleted post. It matches ErrPermanentFetch under
// errors.Is.
type PermanentError struct {
	// URL identifies the rejected request.
	URL string
	// StatusCode is the rejecting response status.
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent fetch failure: %s: status %d", e.URL, e.StatusCode)
}

// Is reports a match for the ErrPermanentFetch sentinel.
func (e *PermanentError) Is(target error) bool { return target == ErrPermanentFetch }
