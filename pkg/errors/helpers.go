package errors

import "errors"

// IsNotFound checks if an error indicates a resource was not found.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr) || errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}

	var validationErr *ValidationError
	return errors.As(err, &validationErr) || errors.Is(err, ErrInvalidInput)
}

// IsConflict checks if an error indicates a resource conflict.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}

	var conflictErr *ConflictError
	return errors.As(err, &conflictErr) || errors.Is(err, ErrConflict)
}

// IsServiceUnavailable checks if an error indicates a service is unavailable.
func IsServiceUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var serviceErr *ServiceError
	return errors.As(err, &serviceErr) || errors.Is(err, ErrServiceUnavailable)
}

// IsChannel checks if an error is a delivery channel lifecycle error and
// returns it.
func IsChannel(err error) (*ChannelError, bool) {
	if err == nil {
		return nil, false
	}

	var channelErr *ChannelError
	if errors.As(err, &channelErr) {
		return channelErr, true
	}
	return nil, false
}

// ShouldRetry checks if an operation should be retried based on the error.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	if IsServiceUnavailable(err) {
		return true
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return IsRetryable(customErr.Code())
	}

	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	if err == nil {
		return CodeOK
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Code()
	}

	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsValidation(err):
		return CodeValidation
	case IsConflict(err):
		return CodeConflict
	case IsServiceUnavailable(err):
		return CodeServiceUnavailable
	case errors.Is(err, ErrDisabled):
		return CodeDisabled
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
