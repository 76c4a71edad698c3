// Package auth implements the per-request authentication decision
// procedure. The gate is the single place where codec and session-manager
// failures are normalized into the client-visible error taxonomy; callers
// never see raw storage errors.
package auth

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/shelter/internal/apperr"
	"github.com/shelter/internal/session"
	"github.com/shelter/internal/token"
)

// State is the outcome of the authentication decision procedure.
type State int

const (
	StateNoCredential State = iota
	StateAccessValid
	StateRotatedViaRefresh
	StateRejected
)

// Result carries the gate's decision. UserID/Email are set for the two
// admitted states; Pair is set only for StateRotatedViaRefresh (the caller
// must install the new cookies); Err is set only for StateRejected.
type Result struct {
	State  State
	UserID string
	Email  string
	Pair   *session.TokenPair
	Err    *apperr.Error
}

type Gate struct {
	codec    *token.Codec
	sessions *session.Manager
}

func NewGate(codec *token.Codec, sessions *session.Manager) *Gate {
	return &Gate{codec: codec, sessions: sessions}
}

// Authenticate runs the full decision procedure for REST requests:
// a valid access token admits on its own (short-lived and self-contained,
// no session lookup); otherwise a refresh cookie triggers a rotation.
func (g *Gate) Authenticate(r *http.Request) Result {
	if raw := AccessTokenFrom(r); raw != "" {
		if claims, ok := g.codec.Verify(token.KindAccess, raw); ok {
			return Result{State: StateAccessValid, UserID: claims.UserID(), Email: claims.Email}
		}
		// Invalid or expired access token: fall through to the refresh
		// branch rather than rejecting outright.
	}

	refresh := RefreshTokenFrom(r)
	if refresh == "" {
		return Result{State: StateRejected, Err: apperr.NoRefreshToken}
	}

	pair, claims, err := g.sessions.Rotate(r.Context(), DeviceIDFrom(r), r.UserAgent(), ClientAddr(r), refresh)
	if err != nil {
		if errors.Is(err, session.ErrPersistFailed) {
			return Result{State: StateRejected, Err: apperr.SessionPersistFailed}
		}
		return Result{State: StateRejected, Err: apperr.InvalidOrExpiredRefreshToken}
	}
	return Result{
		State:  StateRotatedViaRefresh,
		UserID: claims.UserID(),
		Email:  claims.Email,
		Pair:   &pair,
	}
}

// AuthenticateAccess runs the access-token branch only. The WebSocket
// handshake uses this variant: no rotation happens at upgrade time.
func (g *Gate) AuthenticateAccess(r *http.Request) Result {
	raw := AccessTokenFrom(r)
	if raw == "" {
		return Result{State: StateRejected, Err: apperr.AuthenticationRequired}
	}
	claims, ok := g.codec.Verify(token.KindAccess, raw)
	if !ok {
		return Result{State: StateRejected, Err: apperr.InvalidUserToken}
	}
	return Result{State: StateAccessValid, UserID: claims.UserID(), Email: claims.Email}
}

// AccessTokenFrom extracts the access token from the "at" cookie or the
// Authorization bearer header.
func AccessTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(AccessCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// RefreshTokenFrom extracts the refresh token from the "rt" cookie.
func RefreshTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(RefreshCookieName); err == nil {
		return c.Value
	}
	return ""
}

// DeviceIDFrom returns the client-supplied device identifier. It is hashed
// by the session layer before any store I/O.
func DeviceIDFrom(r *http.Request) string {
	if id := r.Header.Get(DeviceIDHeader); id != "" {
		return id
	}
	return "unknown"
}

// ClientAddr returns the request's source address without the port.
// chi's RealIP middleware has already rewritten RemoteAddr when the
// request came through a trusted proxy.
func ClientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
