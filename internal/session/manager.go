// Package session orchestrates the token codec and the device-session
// store: it issues access/refresh pairs, rotates refresh tokens with
// single-use semantics, and revokes device sessions.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shelter/internal/logger"
	"github.com/shelter/internal/metrics"
	"github.com/shelter/internal/storage"
	"github.com/shelter/internal/token"
)

var (
	// ErrPersistFailed means tokens were signed but the store write failed.
	// The caller must discard the tokens: an unpersisted session is never
	// honored.
	ErrPersistFailed = errors.New("session: persist failed")
	// ErrInvalidRefresh covers every refresh rejection: bad signature,
	// expired, wrong kind, or a token that no longer matches the stored
	// value (already rotated, revoked, or superseded by a newer login).
	ErrInvalidRefresh = errors.New("session: invalid or expired refresh token")
)

// TokenPair is a freshly issued access/refresh credential pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// HashDeviceID maps a raw device id to the fixed-length key used for all
// store I/O. Raw device ids never leave this package boundary.
func HashDeviceID(deviceID string) string {
	sum := sha256.Sum256([]byte(deviceID))
	return hex.EncodeToString(sum[:])
}

type Manager struct {
	codec *token.Codec
	store storage.DeviceSessionStore
}

func NewManager(codec *token.Codec, store storage.DeviceSessionStore) *Manager {
	return &Manager{codec: codec, store: store}
}

// Issue signs a new token pair and persists the refresh token as the only
// valid one for (userID, deviceID), invalidating whatever was stored there.
func (m *Manager) Issue(ctx context.Context, userID, email, deviceID, userAgent, sourceAddr string) (TokenPair, error) {
	defer logger.DeferLogDuration("session.Issue", time.Now())()
	pair, err := m.sign(userID, email)
	if err != nil {
		return TokenPair{}, err
	}
	s := storage.DeviceSession{
		RefreshToken: pair.RefreshToken,
		UserAgent:    userAgent,
		SourceAddr:   sourceAddr,
		IssuedAt:     time.Now().UTC(),
	}
	if err := m.store.Put(ctx, userID, HashDeviceID(deviceID), s, token.RefreshTokenTTL); err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return pair, nil
}

// Rotate exchanges a presented refresh token for a new pair. The swap is a
// single compare-and-swap against the stored value, so of N concurrent
// rotations presenting the same token exactly one succeeds; the rest get
// ErrInvalidRefresh.
func (m *Manager) Rotate(ctx context.Context, deviceID, userAgent, sourceAddr, presented string) (TokenPair, token.Claims, error) {
	defer logger.DeferLogDuration("session.Rotate", time.Now())()
	claims, ok := m.codec.Verify(token.KindRefresh, presented)
	if !ok {
		metrics.RotationsTotal.WithLabelValues("rejected").Inc()
		return TokenPair{}, token.Claims{}, ErrInvalidRefresh
	}

	pair, err := m.sign(claims.UserID(), claims.Email)
	if err != nil {
		return TokenPair{}, token.Claims{}, err
	}
	next := storage.DeviceSession{
		RefreshToken: pair.RefreshToken,
		UserAgent:    userAgent,
		SourceAddr:   sourceAddr,
		IssuedAt:     time.Now().UTC(),
	}
	swapped, err := m.store.ReplaceIfMatch(ctx, claims.UserID(), HashDeviceID(deviceID), presented, next, token.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, token.Claims{}, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if !swapped {
		metrics.RotationsTotal.WithLabelValues("lost_race").Inc()
		return TokenPair{}, token.Claims{}, ErrInvalidRefresh
	}
	metrics.RotationsTotal.WithLabelValues("ok").Inc()
	return pair, claims, nil
}

// Revoke deletes the device session; used on logout.
func (m *Manager) Revoke(ctx context.Context, userID, deviceID string) error {
	return m.store.Remove(ctx, userID, HashDeviceID(deviceID))
}

// RevokeAll deletes every device session of a user (password reset,
// log-out-everywhere).
func (m *Manager) RevokeAll(ctx context.Context, userID string) error {
	return m.store.RemoveAll(ctx, userID)
}

// ListDevices returns the device sessions of a user for the device
// management surface.
func (m *Manager) ListDevices(ctx context.Context, userID string) ([]storage.DeviceInfo, error) {
	return m.store.List(ctx, userID)
}

func (m *Manager) sign(userID, email string) (TokenPair, error) {
	access, err := m.codec.Sign(token.KindAccess, userID, email)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.codec.Sign(token.KindRefresh, userID, email)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
