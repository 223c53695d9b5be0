package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/coverdesk/authcore/internal/auth"
	"github.com/coverdesk/authcore/internal/obs"
)

// decode parses and validates a JSON request body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{
			Success: false, Message: "Invalid request body", Code: "bad_request",
		})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{
			Success: false, Message: "Invalid request body", Code: "bad_request",
		})
		return false
	}
	return true
}

type registerRequest struct {
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required,min=8,max=128"`
	FirstName        string `json:"firstName" validate:"required,max=100"`
	LastName         string `json:"lastName" validate:"required,max=100"`
	OrganizationName string `json:"organizationName" validate:"required,min=2,max=200"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.engine.Register(r.Context(), auth.RegisterInput{
		Email:            req.Email,
		Password:         req.Password,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		OrganizationName: req.OrganizationName,
	})
	if err != nil {
		obs.CountAuth("register", "error")
		writeError(w, r, err)
		return
	}

	obs.CountAuth("register", "success")
	writeSuccess(w, "Registration successful, check your email for a verification code", map[string]string{
		"userId":         res.UserID,
		"organizationId": res.OrganizationID,
		"email":          res.Email,
	})
}

type verifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Otp   string `json:"otp" validate:"required,len=6,numeric"`
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !s.decode(w, r, &req) {
		return
	}

	// Whatever went wrong internally, the caller sees one generic
	// failure; the detail lives in logs and the audit trail.
	if err := s.engine.VerifyEmail(r.Context(), req.Email, req.Otp); err != nil {
		obs.CountAuth("verify_email", "failure")
		obs.FromContext(r.Context()).WarnContext(r.Context(), "verification rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, envelope{
			Success: false,
			Message: "Invalid or expired verification code",
			Code:    "verification_failed",
		})
		return
	}

	obs.CountAuth("verify_email", "success")
	writeSuccess(w, "Email verified", nil)
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.engine.ResendVerification(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "If the account exists, a new verification code was sent", nil)
}

type loginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	Otp        string `json:"otp" validate:"omitempty,len=6,numeric"`
	DeviceName string `json:"deviceName" validate:"omitempty,max=100"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.engine.Login(r.Context(), auth.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		Otp:        req.Otp,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		obs.CountAuth("login", "failure")
		writeError(w, r, err)
		return
	}

	if res.OtpRequired {
		obs.CountAuth("login", "otp_required")
		writeJSON(w, http.StatusOK, envelope{
			Success:     false,
			Message:     "A verification code was sent to your email",
			RequiresOtp: true,
		})
		return
	}

	obs.CountAuth("login", "success")
	s.setSessionCookies(w, res.Tokens.AccessToken, res.Tokens.RefreshToken)
	writeSuccess(w, "Login successful", res.Session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Refresh(r.Context(), cookieValue(r, refreshCookieName))
	if err != nil {
		// Any refresh failure ends the session client-side too.
		obs.CountAuth("refresh", "failure")
		s.clearSessionCookies(w)
		writeError(w, r, err)
		return
	}

	obs.CountAuth("refresh", "success")
	s.setSessionCookies(w, res.Tokens.AccessToken, res.Tokens.RefreshToken)
	writeSuccess(w, "Session refreshed", res.Session)
}

type logoutRequest struct {
	Everywhere bool `json:"everywhere"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	// A missing or malformed body means a plain single-session logout.
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req)

	res := s.engine.Logout(r.Context(), cookieValue(r, refreshCookieName), req.Everywhere)

	obs.CountAuth("logout", "success")
	s.clearSessionCookies(w)
	writeSuccess(w, "Logged out", map[string]int{"sessionsRevoked": res.SessionsRevoked})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "If the account exists, a reset code was sent", nil)
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Otp         string `json:"otp" validate:"required,len=6,numeric"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=128"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.engine.ResetPassword(r.Context(), req.Email, req.Otp, req.NewPassword)
	if err != nil {
		obs.CountAuth("reset_password", "failure")
		writeError(w, r, err)
		return
	}

	obs.CountAuth("reset_password", "success")
	var data any
	if res.EmailVerified {
		data = map[string]bool{"emailVerified": true}
	}
	writeSuccess(w, "Password updated, please log in again", data)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, err := s.engine.VerifyAccessToken(cookieValue(r, accessCookieName))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, envelope{
			Success: false, Message: "Invalid or expired session", Code: "unauthorized",
		})
		return
	}

	payload, err := s.engine.Me(r.Context(), claims)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "OK", payload)
}
