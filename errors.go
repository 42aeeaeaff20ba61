package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/cookieauth/internal/credentials"
	"github.com/example/cookieauth/internal/logging"
	"github.com/example/cookieauth/internal/reset"
	"github.com/example/cookieauth/internal/token"
	"github.com/example/cookieauth/internal/validation"
)

// Messages shown to clients. Login failures always use msgInvalidCredentials
// whatever the cause.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgAccessDenied       = "Access denied"
	msgInternal           = "Internal server error"
)

// APIError is the body of every error response. Status is "fail" for client
// errors and "error" for server errors.
type APIError struct {
	Status  string                  `json:"status"`
	Code    string                  `json:"error_code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json", "error", err)
	}
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{
		Status:  statusText(status),
		Code:    code,
		Message: message,
	})
}

func writeValidationError(w http.ResponseWriter, verr *validation.Error) {
	writeJSON(w, http.StatusBadRequest, APIError{
		Status:  statusText(http.StatusBadRequest),
		Code:    "VALIDATION_FAILED",
		Message: verr.First(),
		Fields:  verr.Fields,
	})
}

func statusText(status int) string {
	if status >= http.StatusInternalServerError {
		return "error"
	}
	return "fail"
}

// writeDomainError maps errors from the auth packages to responses.
// Unrecognized errors are logged and reported as 500.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, verr)
	case errors.Is(err, credentials.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", msgInvalidCredentials)
	case errors.Is(err, credentials.ErrDuplicateCredential):
		writeError(w, http.StatusConflict, "USER_EXISTS", "User with this email or username already exists")
	case errors.Is(err, credentials.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid email or username")
	case errors.Is(err, credentials.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	case errors.Is(err, token.ErrInvalidResetToken):
		writeError(w, http.StatusForbidden, "INVALID_TOKEN", msgAccessDenied)
	case errors.Is(err, reset.ErrResetTokenUsed):
		writeError(w, http.StatusForbidden, "TOKEN_USED", "Reset link already used")
	case errors.Is(err, token.ErrInvalidAccessToken), errors.Is(err, token.ErrInvalidRefreshToken):
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired")
	default:
		logging.LogError(logger, "request failed", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", msgInternal)
	}
}
