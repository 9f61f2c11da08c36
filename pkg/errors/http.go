package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	TraceID string            `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status code for an error.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return codeToHTTPStatus(customErr.Code())
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

func codeToHTTPStatus(code string) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidArgument, CodeValidation, CodeFailedPrecondition:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeDisabled:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable, CodeNetworkError:
		return http.StatusServiceUnavailable
	case CodeChannelConstruction, CodeChannelClose, CodeHandlerFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTPError converts an error to an HTTPError.
func ToHTTPError(err error, traceID string) *HTTPError {
	if err == nil {
		return &HTTPError{
			Status:  http.StatusOK,
			Code:    CodeOK,
			Message: "success",
			TraceID: traceID,
		}
	}

	httpErr := &HTTPError{
		Status:  StatusCode(err),
		Code:    GetErrorCode(err),
		Message: err.Error(),
		TraceID: traceID,
		Details: make(map[string]string),
	}

	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		conflictErr   *ConflictError
		channelErr    *ChannelError
		serviceErr    *ServiceError
	)

	switch {
	case errors.As(err, &validationErr):
		if validationErr.Field != "" {
			httpErr.Details["field"] = validationErr.Field
		}
	case errors.As(err, &notFoundErr):
		if notFoundErr.Resource != "" {
			httpErr.Details["resource"] = notFoundErr.Resource
		}
		if notFoundErr.ID != "" {
			httpErr.Details["id"] = notFoundErr.ID
		}
	case errors.As(err, &conflictErr):
		if conflictErr.Resource != "" {
			httpErr.Details["resource"] = conflictErr.Resource
		}
		if conflictErr.Field != "" {
			httpErr.Details["field"] = conflictErr.Field
		}
	case errors.As(err, &channelErr):
		httpErr.Details["channel"] = channelErr.Channel
		httpErr.Details["operation"] = channelErr.Op
	case errors.As(err, &serviceErr):
		if serviceErr.Service != "" {
			httpErr.Details["service"] = serviceErr.Service
		}
	}

	if len(httpErr.Details) == 0 {
		httpErr.Details = nil
	}
	return httpErr
}

// WriteHTTPError writes an error response to an http.ResponseWriter.
func WriteHTTPError(w http.ResponseWriter, err error, traceID string) {
	httpErr := ToHTTPError(err, traceID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpErr.Status)
	_ = json.NewEncoder(w).Encode(httpErr)
}
