package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coverdesk/authcore/internal/model"
	"github.com/coverdesk/authcore/internal/queue"
	"github.com/coverdesk/authcore/internal/store/memory"
	"github.com/coverdesk/authcore/internal/token"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeQueue records enqueued jobs in order.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job queue.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, job)
	return "job-1", nil
}

func (q *fakeQueue) all() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Job(nil), q.jobs...)
}

// lastOTP returns the otp data field of the most recent job using the
// given template.
func (q *fakeQueue) lastOTP(t *testing.T, template string) string {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.jobs) - 1; i >= 0; i-- {
		if q.jobs[i].Template == template {
			return q.jobs[i].Data["otp"]
		}
	}
	t.Fatalf("no %s job enqueued", template)
	return ""
}

// countingHasher is a cheap stand-in for Argon2id that counts Verify
// calls, which the timing-invariance test asserts on.
type countingHasher struct {
	mu          sync.Mutex
	verifyCalls int
}

func (h *countingHasher) Hash(secret string) (string, error) {
	return "hashed:" + secret, nil
}

func (h *countingHasher) Verify(secret, encoded string) (bool, error) {
	h.mu.Lock()
	h.verifyCalls++
	h.mu.Unlock()
	return encoded == "hashed:"+secret, nil
}

func (h *countingHasher) DummyHash() string { return "hashed:\x00dummy" }

func (h *countingHasher) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifyCalls
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	queue  *fakeQueue
	hasher *countingHasher
	clock  *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := memory.New()
	st.SeedRole("owner", "organization owner", []model.Permission{
		{Resource: "org", Action: "manage", Scope: "own"},
		{Resource: "users", Action: "manage", Scope: "own"},
	})

	clk := newFakeClock()
	q := &fakeQueue{}
	h := &countingHasher{}

	tokens, err := token.NewManager([]byte(strings.Repeat("k", 32)), 10*time.Minute, clk.Now)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Registration.DecoyPepper = "test-pepper"

	eng, err := New(cfg, Deps{
		Store:  st,
		Queue:  q,
		Hasher: h,
		Tokens: tokens,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    clk.Now,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	return &testEnv{engine: eng, store: st, queue: q, hasher: h, clock: clk}
}

// registerAndVerify walks a user through signup and email verification.
func (env *testEnv) registerAndVerify(t *testing.T, email, password string) *RegisterResult {
	t.Helper()
	ctx := context.Background()

	res, err := env.engine.Register(ctx, RegisterInput{
		Email:            email,
		Password:         password,
		FirstName:        "Ada",
		LastName:         "Lovelace",
		OrganizationName: "Acme Insurance",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	otp := env.queue.lastOTP(t, queue.TemplateVerifyEmail)
	if err := env.engine.VerifyEmail(ctx, email, otp); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	return res
}

// login performs a plain credential login expected to succeed.
func (env *testEnv) login(t *testing.T, email, password string) *LoginResult {
	t.Helper()

	res, err := env.engine.Login(context.Background(), LoginInput{Email: email, Password: password})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.OtpRequired {
		t.Fatal("unexpected OTP requirement")
	}
	return res
}

func TestEndToEndSignupVerifyLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, err := env.engine.Register(ctx, RegisterInput{
		Email:            "A@X.com",
		Password:         "Abcdef1!",
		FirstName:        "A",
		LastName:         "B",
		OrganizationName: "Acme",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Email != "a@x.com" {
		t.Fatalf("email not normalized: %q", reg.Email)
	}

	// Real ids must resolve to real rows.
	if _, err := env.store.Users().FindByID(ctx, reg.UserID); err != nil {
		t.Fatalf("user row missing: %v", err)
	}
	if _, err := env.store.Organizations().FindByID(ctx, reg.OrganizationID); err != nil {
		t.Fatalf("organization row missing: %v", err)
	}

	otp := env.queue.lastOTP(t, queue.TemplateVerifyEmail)
	if err := env.engine.VerifyEmail(ctx, "a@x.com", otp); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	u, err := env.store.Users().FindByID(ctx, reg.UserID)
	if err != nil {
		t.Fatalf("user lookup: %v", err)
	}
	if !u.EmailVerified {
		t.Fatal("email not marked verified")
	}

	res := env.login(t, "a@x.com", "Abcdef1!")
	if res.Session.Email != "a@x.com" {
		t.Fatalf("session email = %q", res.Session.Email)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatal("token pair incomplete")
	}

	claims, err := env.engine.VerifyAccessToken(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if claims.Subject != reg.UserID {
		t.Fatalf("claims subject = %q, want %q", claims.Subject, reg.UserID)
	}
	if len(claims.Permissions) == 0 {
		t.Fatal("claims carry no permissions")
	}
}

func TestFailedLoginsForceOtpStepUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerAndVerify(t, "b@x.com", "Correct1!")

	for i := 0; i < env.engine.cfg.Login.OtpThreshold; i++ {
		if _, err := env.engine.Login(ctx, LoginInput{Email: "b@x.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: err = %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	// Correct password now yields the step-up branch, not tokens.
	res, err := env.engine.Login(ctx, LoginInput{Email: "b@x.com", Password: "Correct1!"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.OtpRequired {
		t.Fatal("expected OtpRequired after threshold")
	}
	if res.Tokens.AccessToken != "" {
		t.Fatal("tokens must not be issued on the OTP branch")
	}

	otp := env.queue.lastOTP(t, queue.TemplateLoginOtp)
	res, err = env.engine.Login(ctx, LoginInput{Email: "b@x.com", Password: "Correct1!", Otp: otp})
	if err != nil {
		t.Fatalf("Login with OTP: %v", err)
	}
	if res.OtpRequired || res.Tokens.RefreshToken == "" {
		t.Fatal("OTP login did not complete")
	}

	// The sticky flag clears on success.
	sec, err := env.store.LoginSecurity().Get(ctx, mustUserID(t, env, "b@x.com"))
	if err != nil {
		t.Fatalf("login security: %v", err)
	}
	if sec.RequiresOtp || sec.FailedLoginCount != 0 {
		t.Fatalf("security row not reset: %+v", sec)
	}
}

func mustUserID(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	u, err := env.store.Users().FindByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("user %s: %v", email, err)
	}
	return u.ID
}
