package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coverdesk/authcore/internal/model"
	"github.com/coverdesk/authcore/internal/secrets"
	"github.com/coverdesk/authcore/internal/store"
)

// LogoutResult reports how many refresh tokens a logout actually
// revoked; zero is a normal outcome.
type LogoutResult struct {
	SessionsRevoked int
}

// Logout revokes the presented token's family, or every token of the
// owning user when everywhere is set. It never returns an error: the
// goal state (no valid session) is reachable even with a garbage or
// missing token, and any internal failure is logged and absorbed.
func (e *Engine) Logout(ctx context.Context, rawToken string, everywhere bool) *LogoutResult {
	result := &LogoutResult{}
	if rawToken == "" {
		return result
	}

	now := e.now()
	tok, err := e.store.RefreshTokens().FindByHash(ctx, secrets.HashRefreshToken(rawToken))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.ErrorContext(ctx, "logout token lookup failed", "error", err)
		}
		return result
	}

	if everywhere {
		n, err := e.store.RefreshTokens().RevokeAllForUser(ctx, tok.UserID, model.RevokedLogoutEverywhere, now)
		if err != nil {
			e.log.ErrorContext(ctx, "logout everywhere revocation failed",
				"user_id", tok.UserID, "error", err)
		}
		result.SessionsRevoked = n
	} else {
		n, err := e.store.RefreshTokens().RevokeFamily(ctx, tok.FamilyID, model.RevokedLogout, now)
		if err != nil {
			e.log.ErrorContext(ctx, "logout family revocation failed",
				"family_id", tok.FamilyID, "error", err)
		}
		result.SessionsRevoked = n
	}

	entry := e.newAuditEntry(ctx, auditLogout, tok.UserID, "refresh_token", tok.ID)
	entry.After = auditMeta(
		"everywhere", fmt.Sprint(everywhere),
		"sessions_revoked", fmt.Sprint(result.SessionsRevoked),
	)
	e.auditBestEffort(ctx, entry)

	return result
}
