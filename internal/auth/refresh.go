package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coverdesk/authcore/internal/ids"
	"github.com/coverdesk/authcore/internal/model"
	"github.com/coverdesk/authcore/internal/secrets"
	"github.com/coverdesk/authcore/internal/store"
)

// RefreshResult mirrors the login success payload. NewFamily reports
// that the rotation chain hit its generation cap and restarted in a
// fresh family.
type RefreshResult struct {
	Session   SessionPayload
	Tokens    TokenPair
	NewFamily bool
}

// Refresh validates and rotates a refresh token.
//
// A token that was already rotated away is treated one of two ways: a
// second presentation inside the configured grace window is a client
// retrying a dropped response and rotates normally, while a late
// presentation is a reuse signal that revokes the whole family. Every
// rejection surfaces as the same ErrRefreshInvalid; an attacker never
// learns whether they tripped detection.
func (e *Engine) Refresh(ctx context.Context, rawToken string) (*RefreshResult, error) {
	if rawToken == "" {
		return nil, ErrRefreshInvalid
	}

	now := e.now()
	hash := secrets.HashRefreshToken(rawToken)

	// Security lookup first, ignoring validity. Used and revoked rows
	// matter here; they are the evidence reuse detection runs on.
	tok, err := e.store.RefreshTokens().FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, fmt.Errorf("auth: refresh lookup: %w", err)
	}

	benignRetry := false
	if tok.UsedAt != nil {
		if now.Sub(*tok.UsedAt) <= e.cfg.Refresh.ReuseGraceWindow {
			benignRetry = true
		} else {
			return nil, e.handleReuse(ctx, tok)
		}
	}

	if benignRetry {
		// The used check is deliberately skipped for a concurrent retry;
		// expiry and revocation still apply.
		if !tok.ExpiresAt.After(now) || tok.RevokedAt != nil {
			return nil, ErrRefreshInvalid
		}
	} else {
		// Re-fetch requiring full validity so a token revoked or rotated
		// between the two reads loses the race here.
		tok, err = e.store.RefreshTokens().FindUsableByHash(ctx, hash, now)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrRefreshInvalid
			}
			return nil, fmt.Errorf("auth: refresh revalidate: %w", err)
		}
	}

	detail, err := e.store.Users().DetailByID(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, fmt.Errorf("auth: refresh user: %w", err)
	}
	if !detail.User.IsActive || !detail.Organization.IsActive {
		return nil, ErrAccountInactive
	}
	if !detail.User.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	// Fingerprint drift is a detection signal only; users switch
	// browsers and networks legitimately.
	if fp := fingerprintFromContext(ctx); fp != "" && tok.DeviceFingerprint != "" && fp != tok.DeviceFingerprint {
		e.log.WarnContext(ctx, "refresh fingerprint mismatch",
			"user_id", tok.UserID, "family_id", tok.FamilyID, "generation", tok.Generation)
	}

	familyID := tok.FamilyID
	generation := tok.Generation + 1
	newFamily := false
	if tok.Generation >= e.cfg.Refresh.MaxFamilyGenerations {
		familyID = secrets.NewFamilyID()
		generation = 1
		newFamily = true
	}

	rawChild, err := secrets.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("auth: refresh new token: %w", err)
	}
	access, err := e.issueAccessToken(detail)
	if err != nil {
		return nil, fmt.Errorf("auth: refresh access token: %w", err)
	}

	parentID := tok.ID
	child := &model.RefreshToken{
		ID:                ids.New(),
		UserID:            tok.UserID,
		TokenHash:         secrets.HashRefreshToken(rawChild),
		FamilyID:          familyID,
		Generation:        generation,
		ParentID:          &parentID,
		DeviceName:        tok.DeviceName,
		DeviceFingerprint: fingerprintFromContext(ctx),
		IP:                clientIPFromContext(ctx),
		UserAgent:         userAgentFromContext(ctx),
		ExpiresAt:         now.Add(e.cfg.Refresh.TokenTTL),
		CreatedAt:         now,
	}

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if !benignRetry {
			if err := tx.RefreshTokens().MarkUsed(ctx, tok.ID, now); err != nil {
				return err
			}
		}
		if err := tx.RefreshTokens().Create(ctx, child); err != nil {
			return err
		}

		entry := e.newAuditEntry(ctx, auditRefreshRotated, tok.UserID, "refresh_token", child.ID)
		entry.After = auditMeta(
			"family_id", familyID,
			"generation", fmt.Sprint(generation),
			"new_family", fmt.Sprint(newFamily),
			"benign_retry", fmt.Sprint(benignRetry),
		)
		return e.appendAudit(ctx, tx, entry)
	})
	if err != nil {
		// A failed rotation commit is a system fault, not a credential
		// problem; it must not masquerade as ErrRefreshInvalid.
		return nil, fmt.Errorf("auth: refresh rotate: %w", err)
	}

	return &RefreshResult{
		Session:   buildSessionPayload(detail),
		Tokens:    TokenPair{AccessToken: access, RefreshToken: rawChild},
		NewFamily: newFamily,
	}, nil
}

// handleReuse responds to a token presented again outside the grace
// window: the whole family is revoked and the incident is audited with
// both sides' network evidence. The caller still gets the generic
// rejection.
func (e *Engine) handleReuse(ctx context.Context, tok *model.RefreshToken) error {
	now := e.now()

	revoked, err := e.store.RefreshTokens().RevokeFamily(ctx, tok.FamilyID, model.RevokedReuseDetected, now)
	if err != nil {
		e.log.ErrorContext(ctx, "family revocation failed",
			"family_id", tok.FamilyID, "error", err)
	}

	entry := e.newAuditEntry(ctx, auditRefreshReuse, tok.UserID, "refresh_token", tok.ID)
	entry.Before = auditMeta(
		"ip", tok.IP,
		"fingerprint", tok.DeviceFingerprint,
		"generation", fmt.Sprint(tok.Generation),
		"used_at", formatAuditTime(*tok.UsedAt),
	)
	entry.After = auditMeta(
		"ip", clientIPFromContext(ctx),
		"fingerprint", fingerprintFromContext(ctx),
		"tokens_revoked", fmt.Sprint(revoked),
	)
	e.auditBestEffort(ctx, entry)

	e.log.WarnContext(ctx, "refresh token reuse detected",
		"user_id", tok.UserID, "family_id", tok.FamilyID,
		"generation", tok.Generation, "tokens_revoked", revoked)

	return ErrRefreshInvalid
}
