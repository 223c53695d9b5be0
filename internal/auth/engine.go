// Package auth implements the session engine: registration, email
// verification, OTP-gated login, refresh rotation with reuse detection,
// logout, password reset, and session reads. Transport concerns
// (cookies, HTTP codes) live in internal/httpapi.
package auth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/coverdesk/authcore/internal/queue"
	"github.com/coverdesk/authcore/internal/store"
	"github.com/coverdesk/authcore/internal/token"
)

// PasswordHasher is the credential-hashing dependency. Satisfied by
// *password.Hasher.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
	// DummyHash returns a decoy hash to verify against when the user
	// lookup misses, keeping the failure path's timing flat.
	DummyHash() string
}

// Deps are the collaborators an Engine needs. All fields except Now are
// required.
type Deps struct {
	Store  store.Store
	Queue  queue.Queue
	Hasher PasswordHasher
	Tokens *token.Manager
	Logger *slog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Engine executes the authentication flows against pluggable storage
// and delivery backends. Safe for concurrent use.
type Engine struct {
	cfg    Config
	store  store.Store
	queue  queue.Queue
	hasher PasswordHasher
	tokens *token.Manager
	log    *slog.Logger
	now    func() time.Time
}

// New validates cfg and wires an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("auth: Store is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("auth: Queue is required")
	}
	if deps.Hasher == nil {
		return nil, errors.New("auth: Hasher is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("auth: Tokens is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("auth: Logger is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		cfg:    cfg,
		store:  deps.Store,
		queue:  deps.Queue,
		hasher: deps.Hasher,
		tokens: deps.Tokens,
		log:    deps.Logger,
		now:    now,
	}, nil
}

// AccessTokenTTL exposes the access-token lifetime for cookie Max-Age.
func (e *Engine) AccessTokenTTL() time.Duration {
	return e.tokens.TTL()
}

// RefreshTokenTTL exposes the refresh-token lifetime for cookie
// Max-Age.
func (e *Engine) RefreshTokenTTL() time.Duration {
	return e.cfg.Refresh.TokenTTL
}

// VerifyAccessToken parses and verifies a raw access token. The
// httpapi auth middleware calls this for me/logout.
func (e *Engine) VerifyAccessToken(raw string) (*token.Claims, error) {
	return e.tokens.Verify(raw)
}
