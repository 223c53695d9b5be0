// Package model holds the persisted entities of the authentication
// engine. Types here are plain data; all behavior lives in the store
// implementations and in internal/auth.
package model

import (
	"fmt"
	"time"
)

// User is an identity plus credential inside one organization.
// Email is stored lowercase; normalization happens before every
// lookup and write, never inside the store.
type User struct {
	ID              string
	OrganizationID  string
	Email           string
	PasswordHash    string
	EmailVerified   bool
	EmailVerifiedAt *time.Time
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Organization is the tenant boundary. A user's effective access is
// gated by both User.IsActive and Organization.IsActive.
type Organization struct {
	ID        string
	Name      string
	Slug      string
	IsActive  bool
	CreatedAt time.Time
}

// Profile is 1:1 with User, created at registration and never deleted
// independently.
type Profile struct {
	UserID    string
	FirstName string
	LastName  string
	Timezone  string
}

// Permission is the (resource, action, scope) triple.
type Permission struct {
	Resource string
	Action   string
	Scope    string
}

// Key renders the flattened "resource:action:scope" form embedded in
// access tokens.
func (p Permission) Key() string {
	return fmt.Sprintf("%s:%s:%s", p.Resource, p.Action, p.Scope)
}

// Role groups permissions. The current model assigns exactly one role
// per user.
type Role struct {
	ID          string
	Name        string
	Description string
	Permissions []Permission
}

// UserDetail is the joined projection the login/refresh/me flows work
// from: user plus organization, profile, and the single assigned role.
type UserDetail struct {
	User         User
	Organization Organization
	Profile      Profile
	Role         Role
}

// Refresh token revocation reasons. Stored verbatim in
// RefreshToken.RevokedReason and surfaced in audit entries.
const (
	RevokedLogout           = "logout"
	RevokedLogoutEverywhere = "logout_everywhere"
	RevokedReuseDetected    = "reuse_detected"
	RevokedPasswordReset    = "password_reset"
)

// RefreshToken is one link in a rotation lineage. The raw token value
// is never stored; TokenHash is SHA-256 of it. FamilyID groups the
// lineage, Generation is the 1-based position within it.
type RefreshToken struct {
	ID                string
	UserID            string
	TokenHash         string
	FamilyID          string
	Generation        int
	ParentID          *string
	DeviceName        string
	DeviceFingerprint string
	IP                string
	UserAgent         string
	ExpiresAt         time.Time
	UsedAt            *time.Time
	RevokedAt         *time.Time
	RevokedReason     string
	CreatedAt         time.Time
}

// Usable reports whether the token may still be presented: not
// expired, not revoked, not rotated away.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.ExpiresAt.After(now) && t.RevokedAt == nil && t.UsedAt == nil
}

// LoginSecurity is the 1:1 per-user login hardening row. RequiresOtp
// is sticky: once the failed-login threshold trips it, only a
// successful OTP-verified login clears it.
type LoginSecurity struct {
	UserID           string
	FailedLoginCount int
	RequiresOtp      bool
	OtpHash          string
	OtpExpiresAt     *time.Time
	OtpSentAt        *time.Time
	LastLoginAt      *time.Time
	LastLoginIP      string
}

// PasswordSecurity is the 1:1 per-user password-reset row. Created
// lazily on first use (self-healing).
type PasswordSecurity struct {
	UserID            string
	ResetOtpHash      string
	ResetOtpExpiresAt *time.Time
	ResetOtpSentAt    *time.Time
	ResetAttemptCount int
	PasswordChangedAt *time.Time
}

// OtpAttempt counts email-verification OTP failures, independent of
// the login and password-reset counters.
type OtpAttempt struct {
	UserID       string
	AttemptCount int
	UpdatedAt    time.Time
}

// VerificationToken is one emailed email-verification OTP. Multiple
// rows may exist per user over time; only the most recent active one
// is consulted.
type VerificationToken struct {
	ID        string
	UserID    string
	OtpHash   string
	ExpiresAt time.Time
	UsedAt    *time.Time
	RevokedAt *time.Time
	IsActive  bool
	CreatedAt time.Time
}

// AuditEntry is an append-only security event record. Never mutated or
// deleted by this engine.
type AuditEntry struct {
	ID           string
	OccurredAt   time.Time
	Action       string
	ActorUserID  string
	ResourceType string
	ResourceID   string
	Before       map[string]string
	After        map[string]string
	IP           string
	UserAgent    string
}
