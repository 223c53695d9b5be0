package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/coverdesk/authcore/internal/store"
	"github.com/coverdesk/authcore/internal/token"
)

// Me re-derives the session payload from fresh store data for a
// verified access token. Token validity does not guarantee the account
// is still usable, so active/verified gates run again here. A drift
// between the token's embedded permissions and the freshly computed set
// is logged, never rejected; the token's short TTL bounds staleness.
func (e *Engine) Me(ctx context.Context, claims *token.Claims) (*SessionPayload, error) {
	detail, err := e.store.Users().DetailByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted after issuance. The caller sees the same generic
			// rejection as any other dead session.
			e.log.WarnContext(ctx, "session subject no longer exists", "user_id", claims.Subject)
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("auth: me lookup: %w", err)
	}

	if !detail.User.IsActive || !detail.Organization.IsActive {
		return nil, ErrAccountInactive
	}
	if !detail.User.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	if fresh := permissionKeys(detail.Role.Permissions); !samePermissionSet(claims.Permissions, fresh) {
		e.log.InfoContext(ctx, "token permissions drifted from current role",
			"user_id", detail.User.ID, "role", detail.Role.Name)
	}

	payload := buildSessionPayload(detail)
	return &payload, nil
}

func samePermissionSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
