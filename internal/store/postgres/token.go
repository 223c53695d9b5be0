package postgres

import (
	"context"
	"time"

	"github.com/coverdesk/authcore/internal/model"
)

type refreshRepo struct{ q dbtx }

const refreshColumns = `id, user_id, token_hash, family_id, generation, parent_id,
	device_name, device_fingerprint, ip, user_agent,
	expires_at, used_at, revoked_at, revoked_reason, created_at`

func (r refreshRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	_, err := r.q.ExecContext(ctx, `
		insert into refresh_tokens (`+refreshColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, t.ID, t.UserID, t.TokenHash, t.FamilyID, t.Generation, t.ParentID,
		t.DeviceName, t.DeviceFingerprint, t.IP, t.UserAgent,
		t.ExpiresAt, t.UsedAt, t.RevokedAt, nullStr(t.RevokedReason), t.CreatedAt)
	return mapErr(err)
}

func scanRefresh(row interface{ Scan(...any) error }) (*model.RefreshToken, error) {
	var t model.RefreshToken
	var reason *string
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.FamilyID, &t.Generation, &t.ParentID,
		&t.DeviceName, &t.DeviceFingerprint, &t.IP, &t.UserAgent,
		&t.ExpiresAt, &t.UsedAt, &t.RevokedAt, &reason, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if reason != nil {
		t.RevokedReason = *reason
	}
	return &t, nil
}

func (r refreshRepo) FindByHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	return scanRefresh(r.q.QueryRowContext(ctx,
		`select `+refreshColumns+` from refresh_tokens where token_hash = $1`, hash))
}

func (r refreshRepo) FindUsableByHash(ctx context.Context, hash string, now time.Time) (*model.RefreshToken, error) {
	return scanRefresh(r.q.QueryRowContext(ctx, `
		select `+refreshColumns+` from refresh_tokens
		where token_hash = $1
		  and expires_at > $2
		  and revoked_at is null
		  and used_at is null
	`, hash, now))
}

func (r refreshRepo) MarkUsed(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`update refresh_tokens set used_at = $2 where id = $1 and used_at is null`, id, at)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (r refreshRepo) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = $2, revoked_reason = $3
		where family_id = $1 and revoked_at is null
	`, familyID, at, reason)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r refreshRepo) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = $2, revoked_reason = $3
		where user_id = $1 and revoked_at is null
	`, userID, at, reason)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type verifRepo struct{ q dbtx }

func (r verifRepo) Create(ctx context.Context, t *model.VerificationToken) error {
	_, err := r.q.ExecContext(ctx, `
		insert into verification_tokens (id, user_id, otp_hash, expires_at, used_at, revoked_at, is_active, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, t.ID, t.UserID, t.OtpHash, t.ExpiresAt, t.UsedAt, t.RevokedAt, t.IsActive, t.CreatedAt)
	return mapErr(err)
}

func (r verifRepo) FindActiveByUser(ctx context.Context, userID string) (*model.VerificationToken, error) {
	var t model.VerificationToken
	err := r.q.QueryRowContext(ctx, `
		select id, user_id, otp_hash, expires_at, used_at, revoked_at, is_active, created_at
		from verification_tokens
		where user_id = $1 and is_active and used_at is null and revoked_at is null
		order by created_at desc
		limit 1
	`, userID).Scan(&t.ID, &t.UserID, &t.OtpHash, &t.ExpiresAt, &t.UsedAt, &t.RevokedAt, &t.IsActive, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r verifRepo) MarkUsed(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`update verification_tokens set used_at = $2, is_active = false where id = $1`, id, at)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (r verifRepo) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		update verification_tokens
		set revoked_at = $2, is_active = false
		where user_id = $1 and revoked_at is null
	`, userID, at)
	return mapErr(err)
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
