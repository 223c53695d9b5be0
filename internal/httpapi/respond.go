package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coverdesk/authcore/internal/auth"
	"github.com/coverdesk/authcore/internal/obs"
)

// envelope is the uniform response body. Every endpoint, success or
// failure, returns this shape so clients never branch on per-endpoint
// formats.
type envelope struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	RequiresOtp bool   `json:"requiresOtp,omitempty"`
	Data        any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

// apiError pairs a sentinel with its one fixed public rendering.
type apiError struct {
	status  int
	code    string
	message string
}

// Each generic sentinel maps to exactly one public message, reused
// across all its internal root causes.
var errorTable = []struct {
	err error
	out apiError
}{
	{auth.ErrInvalidCredentials, apiError{http.StatusUnauthorized, "invalid_credentials", "Invalid email or password"}},
	{auth.ErrAccountInactive, apiError{http.StatusForbidden, "account_inactive", "Account is inactive"}},
	{auth.ErrEmailNotVerified, apiError{http.StatusForbidden, "email_not_verified", "Email address is not verified"}},
	{auth.ErrOtpInvalid, apiError{http.StatusBadRequest, "otp_invalid", "Invalid or expired code"}},
	{auth.ErrOtpAttemptsExceeded, apiError{http.StatusTooManyRequests, "otp_attempts_exceeded", "Too many attempts, request a new code"}},
	{auth.ErrRefreshInvalid, apiError{http.StatusUnauthorized, "refresh_invalid", "Invalid or expired session"}},
	{auth.ErrUserNotFound, apiError{http.StatusUnauthorized, "refresh_invalid", "Invalid or expired session"}},
}

// writeError renders err through the fixed table. Anything unmatched is
// a system fault: logged with full detail, surfaced as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			writeJSON(w, entry.out.status, envelope{
				Success: false,
				Message: entry.out.message,
				Code:    entry.out.code,
			})
			return
		}
	}

	obs.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, envelope{
		Success: false,
		Message: "Something went wrong, please try again",
		Code:    "internal_error",
	})
}
