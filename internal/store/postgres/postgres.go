// Package postgres implements the store contracts over database/sql
// with the pgx driver. One Store wraps either the pool or an open
// transaction; WithinTx hands the engine a transaction-scoped Store so
// repository code is identical inside and outside a transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/coverdesk/authcore/internal/store"
)

// dbtx is the querying surface shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  dbtx
}

var _ store.Store = (*Store)(nil)

// Open connects to Postgres and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, q: db}, nil
}

// NewFromDB wraps an existing pool; tests pass a sqlmock handle here.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Users() store.UserRepo                           { return userRepo{s.q} }
func (s *Store) Organizations() store.OrganizationRepo           { return orgRepo{s.q} }
func (s *Store) Profiles() store.ProfileRepo                     { return profileRepo{s.q} }
func (s *Store) Roles() store.RoleRepo                           { return roleRepo{s.q} }
func (s *Store) RefreshTokens() store.RefreshTokenRepo           { return refreshRepo{s.q} }
func (s *Store) LoginSecurity() store.LoginSecurityRepo          { return loginSecRepo{s.q} }
func (s *Store) PasswordSecurity() store.PasswordSecurityRepo    { return passSecRepo{s.q} }
func (s *Store) OtpAttempts() store.OtpAttemptRepo               { return otpRepo{s.q} }
func (s *Store) VerificationTokens() store.VerificationTokenRepo { return verifRepo{s.q} }
func (s *Store) Audit() store.AuditRepo                          { return auditRepo{s.q} }

// WithinTx runs fn against a transaction-scoped Store. fn returning an
// error rolls the transaction back; otherwise it commits. Nested calls
// are not supported.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return errors.New("postgres: nested transaction")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// requireRow turns a zero-row update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapErr converts driver errors to the store sentinels. 23505 is the
// Postgres unique-violation class.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %v", store.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
