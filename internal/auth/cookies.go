package auth

import (
	"net/http"
	"time"

	"github.com/veltix/auth-api/internal/config"
)

// SetRefreshTokenCookie stores the refresh token in an http-only cookie so
// browser clients never handle the raw value.
func SetRefreshTokenCookie(w http.ResponseWriter, cfg config.AuthConfig, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.RefreshTokenCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearRefreshTokenCookie expires the refresh token cookie.
func ClearRefreshTokenCookie(w http.ResponseWriter, cfg config.AuthConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.RefreshTokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// RefreshTokenFromCookie reads the refresh token cookie, returning an empty
// string when absent.
func RefreshTokenFromCookie(r *http.Request, cfg config.AuthConfig) string {
	cookie, err := r.Cookie(cfg.RefreshTokenCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
