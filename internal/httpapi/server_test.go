package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coverdesk/authcore/internal/auth"
	"github.com/coverdesk/authcore/internal/model"
	"github.com/coverdesk/authcore/internal/password"
	"github.com/coverdesk/authcore/internal/queue"
	"github.com/coverdesk/authcore/internal/store/memory"
	"github.com/coverdesk/authcore/internal/token"
)

type captureQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (q *captureQueue) Enqueue(_ context.Context, job queue.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return "job", nil
}

func (q *captureQueue) lastOTP(t *testing.T, template string) string {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.jobs) - 1; i >= 0; i-- {
		if q.jobs[i].Template == template {
			return q.jobs[i].Data["otp"]
		}
	}
	t.Fatalf("no %s job", template)
	return ""
}

type testServer struct {
	srv   *httptest.Server
	queue *captureQueue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := memory.New()
	st.SeedRole("owner", "organization owner", []model.Permission{
		{Resource: "org", Action: "manage", Scope: "own"},
	})

	hasher, err := password.NewHasher()
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	tokens, err := token.NewManager([]byte(strings.Repeat("t", 32)), 10*time.Minute, time.Now)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}

	cfg := auth.DefaultConfig()
	cfg.Registration.DecoyPepper = "http-test-pepper"

	q := &captureQueue{}
	engine, err := auth.New(cfg, auth.Deps{
		Store:  st,
		Queue:  q,
		Hasher: hasher,
		Tokens: tokens,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	server := NewServer(engine, slog.New(slog.NewTextHandler(io.Discard, nil)), CookieConfig{Secure: false})
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &testServer{srv: ts, queue: q}
}

func (ts *testServer) post(t *testing.T, path string, body any, cookies ...*http.Cookie) (*http.Response, envelope) {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp, env
}

func (ts *testServer) register(t *testing.T, email string) {
	t.Helper()
	resp, env := ts.post(t, "/api/auth/register", map[string]string{
		"email":            email,
		"password":         "Abcdef1!",
		"firstName":        "H",
		"lastName":         "T",
		"organizationName": "HTTP Test Co " + email,
	})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("register: status %d, env %+v", resp.StatusCode, env)
	}
}

func (ts *testServer) registerAndVerify(t *testing.T, email string) {
	t.Helper()
	ts.register(t, email)
	otp := ts.queue.lastOTP(t, queue.TemplateVerifyEmail)
	resp, env := ts.post(t, "/api/auth/verify-email", map[string]string{"email": email, "otp": otp})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("verify: status %d, env %+v", resp.StatusCode, env)
	}
}

func sessionCookies(t *testing.T, resp *http.Response) (access, refresh *http.Cookie) {
	t.Helper()
	for _, c := range resp.Cookies() {
		switch c.Name {
		case accessCookieName:
			access = c
		case refreshCookieName:
			refresh = c
		}
	}
	if access == nil || refresh == nil {
		t.Fatalf("session cookies missing: %+v", resp.Cookies())
	}
	return access, refresh
}

func (ts *testServer) login(t *testing.T, email string) (*http.Cookie, *http.Cookie) {
	t.Helper()
	resp, env := ts.post(t, "/api/auth/login", map[string]string{
		"email": email, "password": "Abcdef1!",
	})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login: status %d, env %+v", resp.StatusCode, env)
	}
	return sessionCookies(t, resp)
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.post(t, "/api/auth/register", map[string]string{
		"email": "not-an-email", "password": "short",
	})
	if resp.StatusCode != http.StatusBadRequest || env.Code != "bad_request" {
		t.Fatalf("status %d, env %+v", resp.StatusCode, env)
	}
}

func TestVerifyEmailAlwaysGenericFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "v@x.com")

	// Unknown user, wrong code, and repeat-verification must be
	// indistinguishable at the HTTP layer.
	for _, body := range []map[string]string{
		{"email": "ghost@x.com", "otp": "123456"},
		{"email": "v@x.com", "otp": "000000"},
	} {
		resp, env := ts.post(t, "/api/auth/verify-email", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
		if env.Message != "Invalid or expired verification code" {
			t.Fatalf("message = %q", env.Message)
		}
	}
}

func TestLoginSetsCookiesWithScopedPaths(t *testing.T) {
	ts := newTestServer(t)
	ts.registerAndVerify(t, "cookie@x.com")

	access, refresh := ts.login(t, "cookie@x.com")
	if access.Path != "/" {
		t.Fatalf("access path = %q", access.Path)
	}
	if refresh.Path != authCookiePath {
		t.Fatalf("refresh path = %q", refresh.Path)
	}
	if !access.HttpOnly || !refresh.HttpOnly {
		t.Fatal("cookies must be http-only")
	}
	if access.MaxAge <= 0 || refresh.MaxAge <= access.MaxAge {
		t.Fatalf("cookie lifetimes wrong: access %d, refresh %d", access.MaxAge, refresh.MaxAge)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	ts := newTestServer(t)
	ts.registerAndVerify(t, "w@x.com")

	resp, env := ts.post(t, "/api/auth/login", map[string]string{
		"email": "w@x.com", "password": "Wrong999!",
	})
	if resp.StatusCode != http.StatusUnauthorized || env.Code != "invalid_credentials" {
		t.Fatalf("status %d, env %+v", resp.StatusCode, env)
	}
}

func TestMeWithAccessCookie(t *testing.T) {
	ts := newTestServer(t)
	ts.registerAndVerify(t, "me@x.com")
	access, _ := ts.login(t, "me@x.com")

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/auth/me", nil)
	req.AddCookie(access)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("status %d, env %+v", resp.StatusCode, env)
	}

	data, ok := env.Data.(map[string]any)
	if !ok || data["email"] != "me@x.com" {
		t.Fatalf("data = %#v", env.Data)
	}
}

func TestMeWithoutCookie(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/api/auth/me")
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRefreshRotatesCookies(t *testing.T) {
	ts := newTestServer(t)
	ts.registerAndVerify(t, "rot@x.com")
	_, refresh := ts.login(t, "rot@x.com")

	resp, env := ts.post(t, "/api/auth/refresh", nil, refresh)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("status %d, env %+v", resp.StatusCode, env)
	}
	_, newRefresh := sessionCookies(t, resp)
	if newRefresh.Value == refresh.Value {
		t.Fatal("refresh cookie not rotated")
	}
}

func TestRefreshFailureClearsCookies(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.post(t, "/api/auth/refresh", nil, &http.Cookie{
		Name: refreshCookieName, Value: "garbage",
	})
	if resp.StatusCode != http.StatusUnauthorized || env.Code != "refresh_invalid" {
		t.Fatalf("status %d, env %+v", resp.StatusCode, env)
	}

	for _, c := range resp.Cookies() {
		if (c.Name == accessCookieName || c.Name == refreshCookieName) && c.MaxAge >= 0 {
			t.Fatalf("cookie %s not cleared: MaxAge %d", c.Name, c.MaxAge)
		}
	}
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	ts := newTestServer(t)
	ts.registerAndVerify(t, "lo@x.com")
	_, refresh := ts.login(t, "lo@x.com")

	// With a valid session.
	resp, env := ts.post(t, "/api/auth/logout", map[string]bool{"everywhere": false}, refresh)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("status %d, env %+v", resp.StatusCode, env)
	}
	data := env.Data.(map[string]any)
	if fmt.Sprint(data["sessionsRevoked"]) != "1" {
		t.Fatalf("sessionsRevoked = %v", data["sessionsRevoked"])
	}

	// Without any cookie at all.
	resp, env = ts.post(t, "/api/auth/logout", nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("cookieless logout: status %d, env %+v", resp.StatusCode, env)
	}
}

func TestForgotResetPasswordFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.registerAndVerify(t, "fr@x.com")

	resp, env := ts.post(t, "/api/auth/forgot-password", map[string]string{"email": "fr@x.com"})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("forgot: status %d, env %+v", resp.StatusCode, env)
	}

	otp := ts.queue.lastOTP(t, queue.TemplateResetOtp)
	resp, env = ts.post(t, "/api/auth/reset-password", map[string]string{
		"email": "fr@x.com", "otp": otp, "newPassword": "Brand9New!",
	})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("reset: status %d, env %+v", resp.StatusCode, env)
	}

	// New password works.
	resp, env = ts.post(t, "/api/auth/login", map[string]string{
		"email": "fr@x.com", "password": "Brand9New!",
	})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login after reset: status %d, env %+v", resp.StatusCode, env)
	}
}
