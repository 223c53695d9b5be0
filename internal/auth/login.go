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

// LoginInput carries a credential-login request. Otp is consulted only
// when the account's step-up flag is set; DeviceName is recorded on the
// issued refresh token.
type LoginInput struct {
	Email      string
	Password   string
	Otp        string
	DeviceName string
}

// LoginResult is a tagged outcome. OtpRequired true means the
// credentials were correct but a step-up code was just emailed; Session
// and Tokens are unset in that case. It is an expected branch, not an
// error.
type LoginResult struct {
	OtpRequired bool
	Session     SessionPayload
	Tokens      TokenPair
}

// Login authenticates credentials and issues a token pair, or signals
// that a step-up OTP is required.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := normalizeEmail(in.Email)

	detail, err := e.store.Users().DetailByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a hash verification against the decoy so a miss and a
			// wrong password take indistinguishable time.
			_, _ = e.hasher.Verify(in.Password, e.hasher.DummyHash())
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: login lookup: %w", err)
	}

	if !detail.User.IsActive || !detail.Organization.IsActive {
		return nil, ErrAccountInactive
	}

	ok, err := e.hasher.Verify(in.Password, detail.User.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("auth: login verify password: %w", err)
	}
	if !ok {
		e.recordFailedLogin(ctx, detail.User.ID)
		return nil, ErrInvalidCredentials
	}

	// Checked only after the password proved out; verification state is
	// never leaked to a caller who doesn't hold the credential.
	if !detail.User.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	sec, err := e.store.LoginSecurity().Get(ctx, detail.User.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Registration creates this row; its absence after a correct
			// password means corrupted state, not attacker input.
			return nil, ErrLoginSecurityMissing
		}
		return nil, fmt.Errorf("auth: login security: %w", err)
	}

	if sec.RequiresOtp {
		if in.Otp == "" {
			if err := e.issueLoginOtp(ctx, detail, sec); err != nil {
				return nil, err
			}
			return &LoginResult{OtpRequired: true}, nil
		}
		if !e.loginOtpValid(sec, in.Otp) {
			return nil, ErrOtpInvalid
		}
	}

	return e.completeLogin(ctx, detail, sec, in.DeviceName)
}

// recordFailedLogin bumps the failed counter and trips the sticky
// step-up flag at the threshold. The row is recreated if missing so a
// partially-migrated account still gets hardening. Best-effort: the
// caller's generic rejection stands regardless.
func (e *Engine) recordFailedLogin(ctx context.Context, userID string) {
	now := e.now()

	sec, err := e.store.LoginSecurity().Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		sec = &model.LoginSecurity{UserID: userID}
		if err := e.store.LoginSecurity().Create(ctx, sec); err != nil {
			e.log.ErrorContext(ctx, "login security create failed", "user_id", userID, "error", err)
			return
		}
	} else if err != nil {
		e.log.ErrorContext(ctx, "login security get failed", "user_id", userID, "error", err)
		return
	}

	sec.FailedLoginCount++
	if sec.FailedLoginCount >= e.cfg.Login.OtpThreshold {
		sec.RequiresOtp = true
	}
	if err := e.store.LoginSecurity().Save(ctx, sec); err != nil {
		e.log.ErrorContext(ctx, "login security save failed", "user_id", userID, "error", err)
		return
	}

	entry := e.newAuditEntry(ctx, auditLoginFailure, userID, "user", userID)
	entry.After = auditMeta(
		"failed_login_count", fmt.Sprint(sec.FailedLoginCount),
		"requires_otp", fmt.Sprint(sec.RequiresOtp),
		"at", formatAuditTime(now),
	)
	e.auditBestEffort(ctx, entry)
}

func (e *Engine) issueLoginOtp(ctx context.Context, detail *model.UserDetail, sec *model.LoginSecurity) error {
	otp, err := secrets.NewOTP()
	if err != nil {
		return fmt.Errorf("auth: login otp: %w", err)
	}

	now := e.now()
	expires := now.Add(e.cfg.Login.OtpTTL)
	sec.OtpHash = secrets.HashOTP(otp)
	sec.OtpExpiresAt = &expires
	sec.OtpSentAt = &now
	if err := e.store.LoginSecurity().Save(ctx, sec); err != nil {
		return fmt.Errorf("auth: login otp save: %w", err)
	}

	e.enqueueEmail(ctx, queue.Job{
		Kind:      queue.KindEmail,
		Recipient: detail.User.Email,
		Template:  queue.TemplateLoginOtp,
		Data:      map[string]string{"otp": otp, "first_name": detail.Profile.FirstName},
	})

	e.auditBestEffort(ctx, e.newAuditEntry(ctx, auditLoginOtpIssued, detail.User.ID, "user", detail.User.ID))
	return nil
}

func (e *Engine) loginOtpValid(sec *model.LoginSecurity, otp string) bool {
	if sec.OtpHash == "" || sec.OtpExpiresAt == nil || !sec.OtpExpiresAt.After(e.now()) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secrets.HashOTP(otp)), []byte(sec.OtpHash)) == 1
}

// completeLogin issues the token pair and resets the hardening row in
// one transaction.
func (e *Engine) completeLogin(ctx context.Context, detail *model.UserDetail, sec *model.LoginSecurity, deviceName string) (*LoginResult, error) {
	now := e.now()

	rawRefresh, err := secrets.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("auth: login refresh token: %w", err)
	}
	access, err := e.issueAccessToken(detail)
	if err != nil {
		return nil, fmt.Errorf("auth: login access token: %w", err)
	}

	refresh := &model.RefreshToken{
		ID:                ids.New(),
		UserID:            detail.User.ID,
		TokenHash:         secrets.HashRefreshToken(rawRefresh),
		FamilyID:          secrets.NewFamilyID(),
		Generation:        1,
		DeviceName:        deviceName,
		DeviceFingerprint: fingerprintFromContext(ctx),
		IP:                clientIPFromContext(ctx),
		UserAgent:         userAgentFromContext(ctx),
		ExpiresAt:         now.Add(e.cfg.Refresh.TokenTTL),
		CreatedAt:         now,
	}

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.RefreshTokens().Create(ctx, refresh); err != nil {
			return err
		}

		sec.FailedLoginCount = 0
		sec.RequiresOtp = false
		sec.OtpHash = ""
		sec.OtpExpiresAt = nil
		sec.OtpSentAt = nil
		sec.LastLoginAt = &now
		sec.LastLoginIP = clientIPFromContext(ctx)
		if err := tx.LoginSecurity().Save(ctx, sec); err != nil {
			return err
		}

		entry := e.newAuditEntry(ctx, auditLoginSuccess, detail.User.ID, "user", detail.User.ID)
		entry.After = auditMeta("family_id", refresh.FamilyID, "device_name", deviceName)
		return e.appendAudit(ctx, tx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("auth: login: %w", err)
	}

	e.log.InfoContext(ctx, "login succeeded",
		"user_id", detail.User.ID, "family_id", refresh.FamilyID)

	return &LoginResult{
		Session: buildSessionPayload(detail),
		Tokens:  TokenPair{AccessToken: access, RefreshToken: rawRefresh},
	}, nil
}
