package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/coverdesk/authcore/internal/model"
	"github.com/coverdesk/authcore/internal/queue"
	"github.com/coverdesk/authcore/internal/secrets"
	"github.com/coverdesk/authcore/internal/store"
)

// ResetResult reports a completed password reset. EmailVerified is set
// when the reset also verified a previously-unverified email; proving
// receipt of the reset OTP proves ownership of the mailbox.
type ResetResult struct {
	EmailVerified bool
}

// ForgotPassword issues a password-reset OTP. It returns nil for
// unknown emails, inactive accounts, lockouts, and cooldown violations
// alike; only a genuine persistence fault surfaces. The caller's
// response is identical whether or not an email was sent.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	now := e.now()

	detail, err := e.store.Users().DetailByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("auth: forgot lookup: %w", err)
	}
	if !detail.User.IsActive || !detail.Organization.IsActive {
		return nil
	}
	userID := detail.User.ID

	sec, err := e.store.PasswordSecurity().Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		sec = &model.PasswordSecurity{UserID: userID}
	} else if err != nil {
		return fmt.Errorf("auth: forgot security: %w", err)
	}

	if sec.ResetAttemptCount >= e.cfg.Reset.MaxAttempts {
		// Unlock by discarding the guessed-at OTP rather than keeping a
		// counter forever; the fresh code below gets a clean budget.
		sec.ResetOtpHash = ""
		sec.ResetOtpExpiresAt = nil
		sec.ResetOtpSentAt = nil
		sec.ResetAttemptCount = 0
		if err := e.store.PasswordSecurity().Upsert(ctx, sec); err != nil {
			return fmt.Errorf("auth: forgot unlock: %w", err)
		}

		entry := e.newAuditEntry(ctx, auditPasswordResetRequest, userID, "user", userID)
		entry.After = auditMeta("outcome", "locked_cleared")
		e.auditBestEffort(ctx, entry)
		return nil
	}

	if sec.ResetOtpSentAt != nil && now.Sub(*sec.ResetOtpSentAt) < e.cfg.Reset.SendCooldown {
		entry := e.newAuditEntry(ctx, auditPasswordResetRequest, userID, "user", userID)
		entry.After = auditMeta("outcome", "cooldown")
		e.auditBestEffort(ctx, entry)
		return nil
	}

	otp, err := secrets.NewOTP()
	if err != nil {
		return fmt.Errorf("auth: forgot otp: %w", err)
	}

	expires := now.Add(e.cfg.Reset.OtpTTL)
	sec.ResetOtpHash = secrets.HashOTP(otp)
	sec.ResetOtpExpiresAt = &expires
	sec.ResetOtpSentAt = &now
	sec.ResetAttemptCount = 0
	if err := e.store.PasswordSecurity().Upsert(ctx, sec); err != nil {
		return fmt.Errorf("auth: forgot save: %w", err)
	}

	e.enqueueEmail(ctx, queue.Job{
		Kind:      queue.KindEmail,
		Recipient: email,
		Template:  queue.TemplateResetOtp,
		Data:      map[string]string{"otp": otp, "first_name": detail.Profile.FirstName},
	})

	entry := e.newAuditEntry(ctx, auditPasswordResetRequest, userID, "user", userID)
	entry.After = auditMeta("outcome", "otp_sent")
	e.auditBestEffort(ctx, entry)
	return nil
}

// ResetPassword replaces the credential after validating the reset OTP.
// Every failure mode maps to ErrOtpInvalid; the specific reason lives
// only in the audit trail. Success revokes every refresh token the user
// holds.
func (e *Engine) ResetPassword(ctx context.Context, email, otp, newPassword string) (*ResetResult, error) {
	email = normalizeEmail(email)
	now := e.now()

	detail, err := e.store.Users().DetailByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOtpInvalid
		}
		return nil, fmt.Errorf("auth: reset lookup: %w", err)
	}
	if !detail.User.IsActive || !detail.Organization.IsActive {
		return nil, ErrOtpInvalid
	}
	userID := detail.User.ID

	sec, err := e.store.PasswordSecurity().Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		sec = &model.PasswordSecurity{UserID: userID}
	} else if err != nil {
		return nil, fmt.Errorf("auth: reset security: %w", err)
	}

	if sec.ResetAttemptCount >= e.cfg.Reset.MaxAttempts {
		// Locked: clear the OTP so it cannot be brute-forced past the
		// cap; the counter is not advanced further.
		sec.ResetOtpHash = ""
		sec.ResetOtpExpiresAt = nil
		sec.ResetOtpSentAt = nil
		if err := e.store.PasswordSecurity().Upsert(ctx, sec); err != nil {
			return nil, fmt.Errorf("auth: reset lock clear: %w", err)
		}
		return nil, e.failReset(ctx, userID, "locked", sec.ResetAttemptCount)
	}

	switch {
	case sec.ResetOtpHash == "":
		return nil, e.failResetAndCount(ctx, sec, "no_otp_requested")
	case sec.ResetOtpExpiresAt == nil || !sec.ResetOtpExpiresAt.After(now):
		return nil, e.failResetAndCount(ctx, sec, "otp_expired")
	case subtle.ConstantTimeCompare([]byte(secrets.HashOTP(otp)), []byte(sec.ResetOtpHash)) != 1:
		return nil, e.failResetAndCount(ctx, sec, "otp_mismatch")
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("auth: reset hash: %w", err)
	}

	autoVerified := !detail.User.EmailVerified
	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.Users().UpdatePasswordHash(ctx, userID, hash); err != nil {
			return err
		}

		sec.ResetOtpHash = ""
		sec.ResetOtpExpiresAt = nil
		sec.ResetOtpSentAt = nil
		sec.ResetAttemptCount = 0
		sec.PasswordChangedAt = &now
		if err := tx.PasswordSecurity().Upsert(ctx, sec); err != nil {
			return err
		}

		// A new password invalidates every session built on the old one.
		revoked, err := tx.RefreshTokens().RevokeAllForUser(ctx, userID, model.RevokedPasswordReset, now)
		if err != nil {
			return err
		}

		if autoVerified {
			if err := tx.Users().MarkEmailVerified(ctx, userID, now); err != nil {
				return err
			}
		}

		entry := e.newAuditEntry(ctx, auditPasswordResetSuccess, userID, "user", userID)
		entry.After = auditMeta(
			"sessions_revoked", fmt.Sprint(revoked),
			"auto_verified_email", fmt.Sprint(autoVerified),
		)
		return e.appendAudit(ctx, tx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("auth: reset: %w", err)
	}

	e.enqueueEmail(ctx, queue.Job{
		Kind:      queue.KindEmail,
		Recipient: email,
		Template:  queue.TemplatePasswordChanged,
	})

	e.log.InfoContext(ctx, "password reset completed",
		"user_id", userID, "auto_verified_email", autoVerified)

	return &ResetResult{EmailVerified: autoVerified}, nil
}

func (e *Engine) failResetAndCount(ctx context.Context, sec *model.PasswordSecurity, reason string) error {
	sec.ResetAttemptCount++
	if err := e.store.PasswordSecurity().Upsert(ctx, sec); err != nil {
		e.log.ErrorContext(ctx, "reset attempt save failed",
			"user_id", sec.UserID, "error", err)
	}
	return e.failReset(ctx, sec.UserID, reason, sec.ResetAttemptCount)
}

func (e *Engine) failReset(ctx context.Context, userID, reason string, attempts int) error {
	entry := e.newAuditEntry(ctx, auditPasswordResetFailure, userID, "user", userID)
	entry.After = auditMeta("reason", reason, "attempt_count", fmt.Sprint(attempts))
	e.auditBestEffort(ctx, entry)

	e.log.WarnContext(ctx, "password reset failed",
		"user_id", userID, "reason", reason, "attempt_count", attempts)
	return ErrOtpInvalid
}
