// Package store declares the persistence contracts the engine runs
// against. Implementations live in store/postgres and store/memory;
// the engine never sees anything more concrete than these interfaces.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/coverdesk/authcore/internal/model"
)

var (
	// ErrNotFound is returned by every point lookup that misses.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint (user email,
	// organization slug) rejects a write, including the race where two
	// transactions insert the same key concurrently.
	ErrDuplicate = errors.New("store: duplicate key")
)

// Store bundles the repositories plus the transactional unit of work.
// WithinTx runs fn against a Store whose repositories share one
// transaction; fn returning an error rolls everything back.
type Store interface {
	Users() UserRepo
	Organizations() OrganizationRepo
	Profiles() ProfileRepo
	Roles() RoleRepo
	RefreshTokens() RefreshTokenRepo
	LoginSecurity() LoginSecurityRepo
	PasswordSecurity() PasswordSecurityRepo
	OtpAttempts() OtpAttemptRepo
	VerificationTokens() VerificationTokenRepo
	Audit() AuditRepo

	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// UserRepo persists users. Emails are expected pre-normalized
// (lowercase) by the caller.
type UserRepo interface {
	Create(ctx context.Context, u *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// DetailByID returns the joined projection (organization, profile,
	// role with permissions) login/refresh/me work from.
	DetailByID(ctx context.Context, id string) (*model.UserDetail, error)
	DetailByEmail(ctx context.Context, email string) (*model.UserDetail, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// OrganizationRepo persists tenants.
type OrganizationRepo interface {
	Create(ctx context.Context, org *model.Organization) error
	FindByID(ctx context.Context, id string) (*model.Organization, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// ProfileRepo persists the 1:1 user profile.
type ProfileRepo interface {
	Create(ctx context.Context, p *model.Profile) error
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
}

// RoleRepo reads system roles and manages the single-role-per-user
// assignment.
type RoleRepo interface {
	FindByName(ctx context.Context, name string) (*model.Role, error)
	Assign(ctx context.Context, userID, roleID string) error
	// RoleForUser returns the user's assigned role with permissions
	// loaded, or ErrNotFound when no assignment exists.
	RoleForUser(ctx context.Context, userID string) (*model.Role, error)
}

// RefreshTokenRepo manages rotation lineages.
type RefreshTokenRepo interface {
	Create(ctx context.Context, t *model.RefreshToken) error
	// FindByHash looks the token up regardless of validity; the refresh
	// flow needs used/revoked rows to run reuse detection.
	FindByHash(ctx context.Context, hash string) (*model.RefreshToken, error)
	// FindUsableByHash returns the token only while ExpiresAt > now,
	// RevokedAt IS NULL and UsedAt IS NULL.
	FindUsableByHash(ctx context.Context, hash string, now time.Time) (*model.RefreshToken, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	// RevokeFamily revokes every non-revoked token sharing familyID and
	// reports how many rows changed.
	RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int, error)
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error)
}

// LoginSecurityRepo persists the per-user login hardening row.
type LoginSecurityRepo interface {
	Get(ctx context.Context, userID string) (*model.LoginSecurity, error)
	Create(ctx context.Context, s *model.LoginSecurity) error
	Save(ctx context.Context, s *model.LoginSecurity) error
}

// PasswordSecurityRepo persists the per-user reset row; Upsert covers
// the self-healing create-if-missing path.
type PasswordSecurityRepo interface {
	Get(ctx context.Context, userID string) (*model.PasswordSecurity, error)
	Upsert(ctx context.Context, s *model.PasswordSecurity) error
}

// OtpAttemptRepo counts email-verification failures.
type OtpAttemptRepo interface {
	Get(ctx context.Context, userID string) (*model.OtpAttempt, error)
	Create(ctx context.Context, a *model.OtpAttempt) error
	// Increment adds one and returns the new count.
	Increment(ctx context.Context, userID string, at time.Time) (int, error)
	Reset(ctx context.Context, userID string, at time.Time) error
}

// VerificationTokenRepo persists emailed verification OTPs.
type VerificationTokenRepo interface {
	Create(ctx context.Context, t *model.VerificationToken) error
	// FindActiveByUser returns the most recent active token.
	FindActiveByUser(ctx context.Context, userID string) (*model.VerificationToken, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) error
}

// AuditRepo appends immutable security events.
type AuditRepo interface {
	Append(ctx context.Context, e *model.AuditEntry) error
}
