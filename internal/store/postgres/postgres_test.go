package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/coverdesk/authcore/internal/model"
	"github.com/coverdesk/authcore/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewFromDB(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

var userCols = []string{"id", "organization_id", "email", "password_hash",
	"email_verified", "email_verified_at", "is_active", "created_at", "updated_at"}

func TestUserFindByEmail(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`select .+ from users where email = \$1`).
		WithArgs("u@x.com").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "o1", "u@x.com", "$argon2id$...", true, &now, true, now, now))

	u, err := s.Users().FindByEmail(context.Background(), "u@x.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "u1" || u.OrganizationID != "o1" || !u.EmailVerified {
		t.Fatalf("user = %+v", u)
	}
	expectationsMet(t, mock)
}

func TestUserFindByEmailMiss(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`select .+ from users where email = \$1`).
		WithArgs("miss@x.com").
		WillReturnRows(sqlmock.NewRows(userCols))

	_, err := s.Users().FindByEmail(context.Background(), "miss@x.com")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestUserCreateDuplicateMapsSentinel(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`insert into users`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	err := s.Users().Create(context.Background(), &model.User{
		ID: "u1", OrganizationID: "o1", Email: "dup@x.com",
		PasswordHash: "h", IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	expectationsMet(t, mock)
}

func TestRefreshRevokeFamilyCount(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`update refresh_tokens`).
		WithArgs("fam-1", now, model.RevokedReuseDetected).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.RefreshTokens().RevokeFamily(context.Background(), "fam-1", model.RevokedReuseDetected, now)
	if err != nil {
		t.Fatalf("RevokeFamily: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked = %d, want 3", n)
	}
	expectationsMet(t, mock)
}

func TestRefreshMarkUsedAlreadyUsed(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`update refresh_tokens set used_at`).
		WithArgs("tok-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RefreshTokens().MarkUsed(context.Background(), "tok-1", now)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestOtpIncrementUpserts(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`insert into otp_attempts`).
		WithArgs("u1", now).
		WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}).AddRow(4))

	n, err := s.OtpAttempts().Increment(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if n != 4 {
		t.Fatalf("count = %d, want 4", n)
	}
	expectationsMet(t, mock)
}

func TestWithinTxCommit(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`insert into organizations`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(tx store.Store) error {
		return tx.Organizations().Create(context.Background(), &model.Organization{
			ID: "o1", Name: "Acme", Slug: "acme", IsActive: true, CreatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	expectationsMet(t, mock)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(store.Store) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	expectationsMet(t, mock)
}

func TestWithinTxRejectsNesting(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx store.Store) error {
		return tx.(*Store).WithinTx(context.Background(), func(store.Store) error { return nil })
	})
	if err == nil {
		t.Fatal("nested transaction accepted")
	}
	expectationsMet(t, mock)
}

func TestAuditAppend(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`insert into audit_log`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Audit().Append(context.Background(), &model.AuditEntry{
		ID: "a1", OccurredAt: now, Action: "login_success",
		ActorUserID: "u1", ResourceType: "user", ResourceID: "u1",
		After: map[string]string{"family_id": "fam-1"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	expectationsMet(t, mock)
}
