package auth

import (
	"net/http"
	"time"

	"github.com/shelter/internal/session"
	"github.com/shelter/internal/token"
)

const (
	AccessCookieName  = "at"
	RefreshCookieName = "rt"
	DeviceIDHeader    = "X-Device-Id"
)

// SetTokenCookies installs the credential pair as HttpOnly cookies scoped
// to the whole application path.
func SetTokenCookies(w http.ResponseWriter, pair session.TokenPair) {
	http.SetCookie(w, tokenCookie(AccessCookieName, pair.AccessToken, token.AccessTokenTTL))
	http.SetCookie(w, tokenCookie(RefreshCookieName, pair.RefreshToken, token.RefreshTokenTTL))
}

// ClearTokenCookies expires both credential cookies (logout).
func ClearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		c := tokenCookie(name, "", 0)
		c.Expires = time.Unix(0, 0)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func tokenCookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}
