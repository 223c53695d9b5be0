package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/coverdesk/authcore/internal/ids"
	"github.com/coverdesk/authcore/internal/model"
	"github.com/coverdesk/authcore/internal/queue"
	"github.com/coverdesk/authcore/internal/secrets"
	"github.com/coverdesk/authcore/internal/store"
)

// RegisterInput carries a signup request. Email is normalized inside
// the engine; callers pass it as received.
type RegisterInput struct {
	Email            string
	Password         string
	FirstName        string
	LastName         string
	OrganizationName string
}

// RegisterResult is the success payload. When the email was already
// taken the ids are deterministic decoys, indistinguishable from real
// ones, so the response never reveals whether the account existed.
type RegisterResult struct {
	UserID         string
	OrganizationID string
	Email          string
}

// slugs that would collide with routing or look official.
var reservedSlugs = map[string]bool{
	"api":      true,
	"admin":    true,
	"auth":     true,
	"www":      true,
	"app":      true,
	"internal": true,
	"system":   true,
	"support":  true,
	"billing":  true,
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Register creates an organization, its owner user, and the first
// verification token in one transaction. A duplicate email, including
// the insert race, returns the decoy-id success path instead of an
// error.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := normalizeEmail(in.Email)

	if _, err := e.store.Users().FindByEmail(ctx, email); err == nil {
		return e.registerDuplicate(ctx, email)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("auth: register lookup: %w", err)
	}

	slug, err := e.uniqueSlug(ctx, in.OrganizationName)
	if err != nil {
		return nil, err
	}

	ownerRole, err := e.store.Roles().FindByName(ctx, e.cfg.Registration.OwnerRoleName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOwnerRoleMissing
		}
		return nil, fmt.Errorf("auth: register owner role: %w", err)
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("auth: register hash password: %w", err)
	}

	otp, err := secrets.NewOTP()
	if err != nil {
		return nil, fmt.Errorf("auth: register otp: %w", err)
	}

	now := e.now()
	user := &model.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	org := &model.Organization{
		ID:        ids.New(),
		Name:      strings.TrimSpace(in.OrganizationName),
		Slug:      slug,
		IsActive:  true,
		CreatedAt: now,
	}
	user.OrganizationID = org.ID

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.Organizations().Create(ctx, org); err != nil {
			return err
		}
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		if err := tx.Profiles().Create(ctx, &model.Profile{
			UserID:    user.ID,
			FirstName: strings.TrimSpace(in.FirstName),
			LastName:  strings.TrimSpace(in.LastName),
		}); err != nil {
			return err
		}
		if err := tx.Roles().Assign(ctx, user.ID, ownerRole.ID); err != nil {
			return err
		}
		if err := tx.LoginSecurity().Create(ctx, &model.LoginSecurity{UserID: user.ID}); err != nil {
			return err
		}
		if err := tx.OtpAttempts().Create(ctx, &model.OtpAttempt{UserID: user.ID, UpdatedAt: now}); err != nil {
			return err
		}
		// None should exist for a brand-new user; revoking anyway keeps
		// the invariant that at most one verification token is active.
		if err := tx.VerificationTokens().RevokeAllForUser(ctx, user.ID, now); err != nil {
			return err
		}
		if err := tx.VerificationTokens().Create(ctx, &model.VerificationToken{
			ID:        ids.New(),
			UserID:    user.ID,
			OtpHash:   secrets.HashOTP(otp),
			ExpiresAt: now.Add(e.cfg.Verification.OtpTTL),
			IsActive:  true,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		entry := e.newAuditEntry(ctx, auditRegistration, user.ID, "user", user.ID)
		entry.After = auditMeta("email", email, "organization_id", org.ID, "slug", slug)
		return e.appendAudit(ctx, tx, entry)
	})
	if err != nil {
		// Two concurrent signups with the same email: the loser of the
		// unique-constraint race gets the same decoy response a plain
		// duplicate would.
		if errors.Is(err, store.ErrDuplicate) {
			return e.registerDuplicate(ctx, email)
		}
		return nil, fmt.Errorf("auth: register: %w", err)
	}

	e.enqueueEmail(ctx, queue.Job{
		Kind:      queue.KindEmail,
		Recipient: email,
		Template:  queue.TemplateVerifyEmail,
		Data:      map[string]string{"otp": otp, "first_name": strings.TrimSpace(in.FirstName)},
	})

	e.log.InfoContext(ctx, "registration completed",
		"user_id", user.ID, "organization_id", org.ID)

	return &RegisterResult{UserID: user.ID, OrganizationID: org.ID, Email: email}, nil
}

// registerDuplicate produces the decoy success for an email that is
// already registered. The real owner gets an out-of-band notice; the
// caller sees the same shape as a fresh signup with stable fake ids.
func (e *Engine) registerDuplicate(ctx context.Context, email string) (*RegisterResult, error) {
	userID, orgID, err := secrets.DecoyIDs(e.cfg.Registration.DecoyPepper, email)
	if err != nil {
		return nil, fmt.Errorf("auth: register decoy: %w", err)
	}

	e.enqueueEmail(ctx, queue.Job{
		Kind:      queue.KindEmail,
		Recipient: email,
		Template:  queue.TemplateDuplicateSignup,
	})

	entry := e.newAuditEntry(ctx, auditRegistrationDuplicate, "", "user", "")
	entry.After = auditMeta("email", email)
	e.auditBestEffort(ctx, entry)

	return &RegisterResult{UserID: userID, OrganizationID: orgID, Email: email}, nil
}

// uniqueSlug derives a URL slug from the organization name and resolves
// collisions with numeric suffixes. Exhausting the attempts is a real
// error; slug state is not attacker-observable, so failing loudly is
// safe here.
func (e *Engine) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slugify(name)
	if base == "" || reservedSlugs[base] {
		base = "org-" + strings.ToLower(ids.New()[:8])
	}

	candidate := base
	for i := 1; i <= e.cfg.Registration.SlugMaxAttempts; i++ {
		exists, err := e.store.Organizations().SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("auth: slug check: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", ErrSlugExhausted
}

func slugify(name string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// enqueueEmail is fire-and-forget: a lost notification must never fail
// or undo a committed security-state change.
func (e *Engine) enqueueEmail(ctx context.Context, job queue.Job) {
	if _, err := e.queue.Enqueue(ctx, job); err != nil {
		e.log.ErrorContext(ctx, "notification enqueue failed",
			"template", job.Template, "error", err)
	}
}
