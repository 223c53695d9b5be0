package httpapi

import (
	"net/http"
	"time"
)

const (
	accessCookieName  = "authcore_access"
	refreshCookieName = "authcore_refresh"

	// The refresh cookie is scoped to the auth prefix so it reaches the
	// refresh and logout endpoints and nothing else.
	authCookiePath = "/api/auth"
)

// CookieConfig carries the deployment-specific cookie attributes.
type CookieConfig struct {
	Domain string
	Secure bool
}

func (s *Server) setSessionCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    accessToken,
		Path:     "/",
		Domain:   s.cookies.Domain,
		MaxAge:   int(s.engine.AccessTokenTTL() / time.Second),
		HttpOnly: true,
		Secure:   s.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshToken,
		Path:     authCookiePath,
		Domain:   s.cookies.Domain,
		MaxAge:   int(s.engine.RefreshTokenTTL() / time.Second),
		HttpOnly: true,
		Secure:   s.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearSessionCookies expires both cookies. Called on logout and on any
// refresh failure.
func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{accessCookieName, "/"},
		{refreshCookieName, authCookiePath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			Domain:   s.cookies.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.cookies.Secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
