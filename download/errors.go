package download

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrPermanentTransfer indicates an HTTP failure that retrying cannot
	// fix, such as a 404.
	ErrPermanentTransfer = errors.New("permanent transfer failure")

	// ErrFileTooLarge indicates the payload exceeds the configured size cap.
	ErrFileTooLarge = errors.New("file exceeds size limit")

	// ErrValidationFailed indicates the downloaded bytes do not decode as
	// the image format the reference claims.
	ErrValidationFailed = errors.New("image validation failed")
)
