// Package httpapi exposes the session engine over HTTP: routing,
// request validation, cookie handling, and the uniform response
// envelope.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/coverdesk/authcore/internal/auth"
	"github.com/coverdesk/authcore/internal/obs"
)

type Server struct {
	engine   *auth.Engine
	log      *slog.Logger
	validate *validator.Validate
	cookies  CookieConfig
}

func NewServer(engine *auth.Engine, log *slog.Logger, cookies CookieConfig) *Server {
	return &Server{
		engine:   engine,
		log:      log,
		validate: validator.New(),
		cookies:  cookies,
	}
}

// Router builds the mux router with the shared middleware chain.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.clientContext, obs.Instrument, s.logRequests)

	api := r.PathPrefix("/api/auth").Subrouter()
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/verify-email", s.handleVerifyEmail).Methods(http.MethodPost)
	api.HandleFunc("/resend-verification", s.handleResendVerification).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/forgot-password", s.handleForgotPassword).Methods(http.MethodPost)
	api.HandleFunc("/reset-password", s.handleResetPassword).Methods(http.MethodPost)
	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)

	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return r
}
