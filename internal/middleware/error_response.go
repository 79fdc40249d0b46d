package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/authcore/internal/model"
)

// ErrorResponseBody is the unified API error format.
// It carries the cause category and what the client should do next.
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse writes apiErr in the unified error format.
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError writes the generic 500 response.
// Details belong in the logs only.
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Wait a moment and try again.",
	})
}

// WriteInvalidRequest writes a 400 for malformed input rejected before the service layer.
func WriteInvalidRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  message,
		Category: "validation",
		Action:   "Fix the request and try again.",
	})
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindInvalidCode:
		return http.StatusBadRequest
	case model.KindExpired:
		return http.StatusGone
	case model.KindAttemptsExceeded, model.KindRateLimited:
		return http.StatusTooManyRequests
	case model.KindDeliveryFailed:
		return http.StatusBadGateway
	case model.KindInvalidCredentials, model.KindUnauthenticated:
		return http.StatusUnauthorized
	case model.KindWeakPassword:
		return http.StatusUnprocessableEntity
	case model.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as an API error. An *model.AuthError keeps its kind;
// anything else becomes a generic 500. Retryable errors carry Retry-After.
func WriteError(w http.ResponseWriter, err error) {
	var authErr *model.AuthError
	if !errors.As(err, &authErr) {
		WriteInternalServerError(w)
		return
	}
	if authErr.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	WriteErrorResponse(w, StatusForKind(authErr.Kind), authErr.APIError())
}
