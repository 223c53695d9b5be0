package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coverdesk/authcore/internal/model"
)

type auditRepo struct{ q dbtx }

// Append writes one immutable audit row. Before/After snapshots are
// stored as jsonb.
func (r auditRepo) Append(ctx context.Context, e *model.AuditEntry) error {
	before, err := metaJSON(e.Before)
	if err != nil {
		return err
	}
	after, err := metaJSON(e.After)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		insert into audit_log
			(id, occurred_at, action, actor_user_id, resource_type, resource_id, before, after, ip, user_agent)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.OccurredAt, e.Action, nullStr(e.ActorUserID), e.ResourceType,
		nullStr(e.ResourceID), before, after, nullStr(e.IP), nullStr(e.UserAgent))
	return mapErr(err)
}

func metaJSON(m map[string]string) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("postgres: audit snapshot: %w", err)
	}
	s := string(raw)
	return &s, nil
}
