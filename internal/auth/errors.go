package auth

import "errors"

// Generic user-facing errors. Each one is deliberately reused across
// several root causes (unknown email vs. wrong password, expired vs.
// wrong vs. consumed OTP, user vs. organization inactive) so response
// content never tells an attacker which case they hit. The boundary
// layer maps each sentinel to one fixed public message and code.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account inactive")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrOtpInvalid         = errors.New("invalid or expired code")
	ErrOtpAttemptsExceeded = errors.New("too many code attempts")
	ErrRefreshInvalid     = errors.New("invalid refresh token")

	// Verify-email is only reachable after registration, where the
	// caller already knows their own email exists, so these two may
	// leak state there and nowhere else.
	ErrUserNotFound    = errors.New("user not found")
	ErrAlreadyVerified = errors.New("email already verified")
)

// System faults. These signal operational problems, not attacker
// input; they surface with distinct messages and error-level logs.
var (
	ErrOwnerRoleMissing     = errors.New("system owner role missing")
	ErrSlugExhausted        = errors.New("organization slug attempts exhausted")
	ErrLoginSecurityMissing = errors.New("login security record missing")
)
