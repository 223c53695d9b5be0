package auth

import (
	"context"
	"time"

	"github.com/coverdesk/authcore/internal/ids"
	"github.com/coverdesk/authcore/internal/model"
	"github.com/coverdesk/authcore/internal/store"
)

const (
	auditRegistration          = "registration"
	auditRegistrationDuplicate = "registration_duplicate"
	auditEmailVerified         = "email_verified"
	auditVerificationFailed    = "email_verification_failed"
	auditVerificationResent    = "email_verification_resent"
	auditLoginSuccess          = "login_success"
	auditLoginFailure          = "login_failure"
	auditLoginOtpIssued        = "login_otp_issued"
	auditRefreshRotated        = "refresh_rotated"
	auditRefreshReuse          = "refresh_reuse_detected"
	auditLogout                = "logout"
	auditPasswordResetRequest  = "password_reset_request"
	auditPasswordResetSuccess  = "password_reset_success"
	auditPasswordResetFailure  = "password_reset_failure"
)

func (e *Engine) newAuditEntry(ctx context.Context, action, actorID, resourceType, resourceID string) *model.AuditEntry {
	return &model.AuditEntry{
		ID:           ids.New(),
		OccurredAt:   e.now(),
		Action:       action,
		ActorUserID:  actorID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IP:           clientIPFromContext(ctx),
		UserAgent:    userAgentFromContext(ctx),
	}
}

// appendAudit writes an audit row through the given store handle; pass
// the transactional handle when the entry must commit atomically with
// the state change it describes.
func (e *Engine) appendAudit(ctx context.Context, s store.Store, entry *model.AuditEntry) error {
	return s.Audit().Append(ctx, entry)
}

// auditBestEffort records outside a transaction. Failures are logged
// and swallowed; losing an audit line must never undo or fail the
// operation it describes (logout, anti-enumeration paths).
func (e *Engine) auditBestEffort(ctx context.Context, entry *model.AuditEntry) {
	if err := e.store.Audit().Append(ctx, entry); err != nil {
		e.log.ErrorContext(ctx, "audit append failed",
			"action", entry.Action, "error", err)
	}
}

func auditMeta(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

func formatAuditTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
