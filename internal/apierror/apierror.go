package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Type is the machine-readable error category exposed to clients.
// The values follow the OpenAI error envelope conventions.
type Type string

const (
	TypeValidation     Type = "invalid_request_error"
	TypeAuthentication Type = "authentication_error"
	TypeNotFound       Type = "not_found_error"
	TypeRateLimit      Type = "rate_limit_error"
	TypeTimeout        Type = "timeout_error"
	TypeServer         Type = "server_error"
)

// Error is a client-visible error with an HTTP status. Services return
// *Error for every failure they surface; raw errors never cross a handler
// boundary.
type Error struct {
	Message string `json:"message"`
	Type    Type   `json:"type"`
	Status  int    `json:"status,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string) *Error {
	return &Error{Message: message, Type: TypeValidation, Status: http.StatusBadRequest}
}

func Authentication(message string) *Error {
	return &Error{Message: message, Type: TypeAuthentication, Status: http.StatusUnauthorized}
}

func NotFound(message string) *Error {
	return &Error{Message: message, Type: TypeNotFound, Status: http.StatusNotFound}
}

func RateLimited(message string) *Error {
	return &Error{Message: message, Type: TypeRateLimit, Status: http.StatusTooManyRequests}
}

// Timeout reports an upstream call that exceeded its deadline.
func Timeout(message string) *Error {
	return &Error{Message: message, Type: TypeTimeout, Status: http.StatusRequestTimeout}
}

// UpstreamUnavailable reports an unreachable upstream (DNS failure,
// connection refused).
func UpstreamUnavailable(message string) *Error {
	return &Error{Message: message, Type: TypeServer, Status: http.StatusServiceUnavailable}
}

// UpstreamRejected maps an upstream application-level rejection to the
// client-visible status. Upstream auth failures are our misconfiguration,
// not the caller's, so 401 becomes 500; an upstream 404 means the caller
// asked for something the provider doesn't have.
func UpstreamRejected(upstreamStatus int, message string) *Error {
	switch upstreamStatus {
	case http.StatusUnauthorized:
		return &Error{Message: message, Type: TypeServer, Status: http.StatusInternalServerError}
	case http.StatusNotFound:
		return &Error{Message: message, Type: TypeValidation, Status: http.StatusBadRequest}
	case http.StatusTooManyRequests:
		return &Error{Message: message, Type: TypeRateLimit, Status: http.StatusTooManyRequests}
	default:
		return &Error{Message: message, Type: TypeServer, Status: http.StatusInternalServerError}
	}
}

func Internal(err error) *Error {
	return &Error{Message: "Internal server error", Type: TypeServer, Status: http.StatusInternalServerError, Err: err}
}

// From converts any error to an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

type envelope struct {
	Error *Error `json:"error"`
}

// WriteJSON serializes err into the {"error":{...}} envelope with its
// HTTP status.
func WriteJSON(w http.ResponseWriter, err error) {
	apiErr := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	json.NewEncoder(w).Encode(envelope{Error: apiErr})
}
