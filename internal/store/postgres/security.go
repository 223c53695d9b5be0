package postgres

import (
	"context"
	"time"

	"github.com/coverdesk/authcore/internal/model"
)

type loginSecRepo struct{ q dbtx }

func (r loginSecRepo) Get(ctx context.Context, userID string) (*model.LoginSecurity, error) {
	var s model.LoginSecurity
	var ip *string
	err := r.q.QueryRowContext(ctx, `
		select user_id, failed_login_count, requires_otp,
		       coalesce(otp_hash, ''), otp_expires_at, otp_sent_at,
		       last_login_at, last_login_ip
		from login_security where user_id = $1
	`, userID).Scan(&s.UserID, &s.FailedLoginCount, &s.RequiresOtp,
		&s.OtpHash, &s.OtpExpiresAt, &s.OtpSentAt, &s.LastLoginAt, &ip)
	if err != nil {
		return nil, mapErr(err)
	}
	if ip != nil {
		s.LastLoginIP = *ip
	}
	return &s, nil
}

func (r loginSecRepo) Create(ctx context.Context, s *model.LoginSecurity) error {
	_, err := r.q.ExecContext(ctx, `
		insert into login_security
			(user_id, failed_login_count, requires_otp, otp_hash, otp_expires_at, otp_sent_at, last_login_at, last_login_ip)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.UserID, s.FailedLoginCount, s.RequiresOtp, nullStr(s.OtpHash),
		s.OtpExpiresAt, s.OtpSentAt, s.LastLoginAt, nullStr(s.LastLoginIP))
	return mapErr(err)
}

func (r loginSecRepo) Save(ctx context.Context, s *model.LoginSecurity) error {
	res, err := r.q.ExecContext(ctx, `
		update login_security
		set failed_login_count = $2, requires_otp = $3, otp_hash = $4,
		    otp_expires_at = $5, otp_sent_at = $6, last_login_at = $7, last_login_ip = $8
		where user_id = $1
	`, s.UserID, s.FailedLoginCount, s.RequiresOtp, nullStr(s.OtpHash),
		s.OtpExpiresAt, s.OtpSentAt, s.LastLoginAt, nullStr(s.LastLoginIP))
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

type passSecRepo struct{ q dbtx }

func (r passSecRepo) Get(ctx context.Context, userID string) (*model.PasswordSecurity, error) {
	var s model.PasswordSecurity
	err := r.q.QueryRowContext(ctx, `
		select user_id, coalesce(reset_otp_hash, ''), reset_otp_expires_at,
		       reset_otp_sent_at, reset_attempt_count, password_changed_at
		from password_security where user_id = $1
	`, userID).Scan(&s.UserID, &s.ResetOtpHash, &s.ResetOtpExpiresAt,
		&s.ResetOtpSentAt, &s.ResetAttemptCount, &s.PasswordChangedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (r passSecRepo) Upsert(ctx context.Context, s *model.PasswordSecurity) error {
	_, err := r.q.ExecContext(ctx, `
		insert into password_security
			(user_id, reset_otp_hash, reset_otp_expires_at, reset_otp_sent_at, reset_attempt_count, password_changed_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (user_id) do update set
			reset_otp_hash = excluded.reset_otp_hash,
			reset_otp_expires_at = excluded.reset_otp_expires_at,
			reset_otp_sent_at = excluded.reset_otp_sent_at,
			reset_attempt_count = excluded.reset_attempt_count,
			password_changed_at = excluded.password_changed_at
	`, s.UserID, nullStr(s.ResetOtpHash), s.ResetOtpExpiresAt,
		s.ResetOtpSentAt, s.ResetAttemptCount, s.PasswordChangedAt)
	return mapErr(err)
}

type otpRepo struct{ q dbtx }

func (r otpRepo) Get(ctx context.Context, userID string) (*model.OtpAttempt, error) {
	var a model.OtpAttempt
	err := r.q.QueryRowContext(ctx, `
		select user_id, attempt_count, updated_at from otp_attempts where user_id = $1
	`, userID).Scan(&a.UserID, &a.AttemptCount, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r otpRepo) Create(ctx context.Context, a *model.OtpAttempt) error {
	_, err := r.q.ExecContext(ctx, `
		insert into otp_attempts (user_id, attempt_count, updated_at) values ($1,$2,$3)
	`, a.UserID, a.AttemptCount, a.UpdatedAt)
	return mapErr(err)
}

// Increment upserts so a missing row self-heals to a count of 1.
func (r otpRepo) Increment(ctx context.Context, userID string, at time.Time) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `
		insert into otp_attempts (user_id, attempt_count, updated_at)
		values ($1, 1, $2)
		on conflict (user_id) do update set
			attempt_count = otp_attempts.attempt_count + 1,
			updated_at = excluded.updated_at
		returning attempt_count
	`, userID, at).Scan(&count)
	return count, mapErr(err)
}

func (r otpRepo) Reset(ctx context.Context, userID string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`update otp_attempts set attempt_count = 0, updated_at = $2 where user_id = $1`, userID, at)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}
