package errors

// Error codes for categorizing errors.
// These codes map to HTTP status codes where applicable.
const (
	// CodeOK indicates success (not an error).
	CodeOK = "OK"

	// CodeInvalidArgument indicates client specified an invalid argument.
	CodeInvalidArgument = "INVALID_ARGUMENT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound = "NOT_FOUND"

	// CodeFailedPrecondition indicates the operation was rejected because the
	// system is not in a required state.
	CodeFailedPrecondition = "FAILED_PRECONDITION"

	// CodeInternal indicates internal errors.
	CodeInternal = "INTERNAL"

	// Domain-specific error codes

	// CodeValidation indicates input validation failed.
	CodeValidation = "VALIDATION_ERROR"

	// CodeConflict indicates a resource conflict (e.g., duplicate key).
	CodeConflict = "CONFLICT"

	// CodeServiceUnavailable indicates a downstream service is unavailable.
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// CodeDisabled indicates channel-backed delivery is switched off.
	CodeDisabled = "DELIVERY_DISABLED"

	// CodeRateLimited indicates the client exceeded its request rate.
	CodeRateLimited = "RATE_LIMITED"

	// CodeChannelConstruction indicates a delivery channel or its handler
	// could not be built.
	CodeChannelConstruction = "CHANNEL_CONSTRUCTION_FAILED"

	// CodeChannelClose indicates a delivery channel failed to release.
	CodeChannelClose = "CHANNEL_CLOSE_FAILED"

	// CodeHandlerFailed indicates a message handler rejected a message.
	CodeHandlerFailed = "HANDLER_FAILED"

	// CodeDatabaseError indicates a database operation failed.
	CodeDatabaseError = "DATABASE_ERROR"

	// CodeNetworkError indicates a network operation failed.
	CodeNetworkError = "NETWORK_ERROR"

	// CodeConfigError indicates a configuration error.
	CodeConfigError = "CONFIG_ERROR"
)

// ErrorCategory represents a high-level error category.
type ErrorCategory string

const (
	// CategoryClient indicates a client-side error (4xx).
	CategoryClient ErrorCategory = "CLIENT_ERROR"

	// CategoryServer indicates a server-side error (5xx).
	CategoryServer ErrorCategory = "SERVER_ERROR"

	// CategoryNetwork indicates a network-related error.
	CategoryNetwork ErrorCategory = "NETWORK_ERROR"

	// CategoryChannel indicates a delivery channel lifecycle error.
	CategoryChannel ErrorCategory = "CHANNEL_ERROR"
)

// GetCategory returns the category for an error code.
func GetCategory(code string) ErrorCategory {
	switch code {
	case CodeInvalidArgument, CodeValidation, CodeNotFound,
		CodeConflict, CodeFailedPrecondition, CodeDisabled, CodeRateLimited:
		return CategoryClient

	case CodeChannelConstruction, CodeChannelClose, CodeHandlerFailed:
		return CategoryChannel

	case CodeNetworkError, CodeServiceUnavailable:
		return CategoryNetwork

	default:
		return CategoryServer
	}
}

// IsRetryable returns true if an error with the given code is worth retrying
// by the caller. The registry itself never retries.
func IsRetryable(code string) bool {
	switch code {
	case CodeServiceUnavailable, CodeNetworkError,
		CodeDatabaseError, CodeChannelConstruction, CodeRateLimited:
		return true
	default:
		return false
	}
}

// IsClientError returns true if the error is a client error (4xx).
func IsClientError(code string) bool {
	return GetCategory(code) == CategoryClient
}
