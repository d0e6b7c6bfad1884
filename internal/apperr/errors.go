// Package apperr defines the request-scoped error taxonomy shared by the
// middleware and handler layers. Configuration errors are not represented
// here; they stop startup before any request is served.
package apperr

import "fmt"

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Property string `json:"property,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func New(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

// Unauthorized is the terminal 401 for any authentication failure.
func Unauthorized(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

// Forbidden is the terminal 403 for an authenticated but unauthorized caller.
func Forbidden(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func NotFound(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func NoChangesApplied(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "NO_CHANGES_APPLIED",
		Status:  422,
		Message: "No properties were applied",
		Details: details,
	}
}

func InvalidPayload(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

func Persistence(msg string) *AppError {
	return &AppError{Code: "PERSISTENCE_ERROR", Status: 500, Message: msg}
}

func Upstream(msg string) *AppError {
	return &AppError{Code: "UPSTREAM_ERROR", Status: 502, Message: msg}
}
