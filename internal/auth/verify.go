package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/coverdesk/authcore/internal/ids"
	"github.com/coverdesk/authcore/internal/model"
	"github.com/coverdesk/authcore/internal/queue"
	"github.com/coverdesk/authcore/internal/secrets"
	"github.com/coverdesk/authcore/internal/store"
)

// VerifyEmail checks the emailed OTP and marks the user verified. The
// returned sentinels are for logging and metrics; the HTTP layer maps
// every failure to one generic "invalid or expired code" response.
func (e *Engine) VerifyEmail(ctx context.Context, email, otp string) error {
	email = normalizeEmail(email)
	now := e.now()

	user, err := e.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("auth: verify lookup: %w", err)
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}

	attempt, err := e.store.OtpAttempts().Get(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		attempt = &model.OtpAttempt{UserID: user.ID, UpdatedAt: now}
		if err := e.store.OtpAttempts().Create(ctx, attempt); err != nil {
			return fmt.Errorf("auth: verify attempt create: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("auth: verify attempt get: %w", err)
	}
	if attempt.AttemptCount >= e.cfg.Verification.MaxAttempts {
		return ErrOtpAttemptsExceeded
	}

	tok, err := e.store.VerificationTokens().FindActiveByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.failVerifyAttempt(ctx, user.ID, "no_active_token")
		}
		return fmt.Errorf("auth: verify token lookup: %w", err)
	}
	if !tok.ExpiresAt.After(now) {
		return e.failVerifyAttempt(ctx, user.ID, "token_expired")
	}
	if subtle.ConstantTimeCompare([]byte(secrets.HashOTP(otp)), []byte(tok.OtpHash)) != 1 {
		return e.failVerifyAttempt(ctx, user.ID, "otp_mismatch")
	}

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.Users().MarkEmailVerified(ctx, user.ID, now); err != nil {
			return err
		}
		if err := tx.VerificationTokens().MarkUsed(ctx, tok.ID, now); err != nil {
			return err
		}
		if err := tx.OtpAttempts().Reset(ctx, user.ID, now); err != nil {
			return err
		}
		return e.appendAudit(ctx, tx, e.newAuditEntry(ctx, auditEmailVerified, user.ID, "user", user.ID))
	})
	if err != nil {
		return fmt.Errorf("auth: verify: %w", err)
	}

	e.log.InfoContext(ctx, "email verified", "user_id", user.ID)
	return nil
}

// failVerifyAttempt burns one attempt and reports the generic OTP
// error. Reaching the cap invalidates every outstanding token so the
// user has to request a fresh one after the lockout.
func (e *Engine) failVerifyAttempt(ctx context.Context, userID, reason string) error {
	count, err := e.store.OtpAttempts().Increment(ctx, userID, e.now())
	if err != nil {
		return fmt.Errorf("auth: verify attempt increment: %w", err)
	}
	if count >= e.cfg.Verification.MaxAttempts {
		if err := e.store.VerificationTokens().RevokeAllForUser(ctx, userID, e.now()); err != nil {
			return fmt.Errorf("auth: verify token revoke: %w", err)
		}
	}

	entry := e.newAuditEntry(ctx, auditVerificationFailed, userID, "user", userID)
	entry.After = auditMeta("reason", reason, "attempt_count", fmt.Sprint(count))
	e.auditBestEffort(ctx, entry)

	e.log.WarnContext(ctx, "email verification failed",
		"user_id", userID, "reason", reason, "attempt_count", count)
	return ErrOtpInvalid
}

// ResendVerification issues a fresh verification OTP. It shares the
// anti-enumeration posture of forgot-password: unknown, inactive, or
// already-verified accounts all return nil without sending anything.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	now := e.now()

	user, err := e.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("auth: resend lookup: %w", err)
	}
	if !user.IsActive || user.EmailVerified {
		return nil
	}

	otp, err := secrets.NewOTP()
	if err != nil {
		return fmt.Errorf("auth: resend otp: %w", err)
	}

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
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
		// A fresh token resets the budget; the old counter guarded the
		// old token.
		if err := tx.OtpAttempts().Reset(ctx, user.ID, now); err != nil {
			return err
		}
		return e.appendAudit(ctx, tx, e.newAuditEntry(ctx, auditVerificationResent, user.ID, "user", user.ID))
	})
	if err != nil {
		return fmt.Errorf("auth: resend: %w", err)
	}

	e.enqueueEmail(ctx, queue.Job{
		Kind:      queue.KindEmail,
		Recipient: email,
		Template:  queue.TemplateVerifyEmail,
		Data:      map[string]string{"otp": otp},
	})
	return nil
}
