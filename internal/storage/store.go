// Package storage defines the durable device-session store behind the
// session manager. A device session binds (userID, deviceHash) to the one
// refresh token currently honored for that device, plus device metadata.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no session exists for the requested key.
var ErrNotFound = errors.New("storage: not found")

// DeviceSession is the value stored per (userID, deviceHash).
type DeviceSession struct {
	RefreshToken string
	UserAgent    string
	SourceAddr   string
	IssuedAt     time.Time
}

// DeviceInfo is the listing shape returned to the device-management surface.
// The device id is only ever exposed in hashed form.
type DeviceInfo struct {
	DeviceIDHash string    `json:"hashedDeviceId"`
	UserAgent    string    `json:"userAgent"`
	SourceAddr   string    `json:"ipAddress"`
	LastUsedTime time.Time `json:"lastUsedTime"`
}

// DeviceSessionStore is implemented by redis.Client (production) and
// memory.Client (-dev and tests). Keys are (userID, deviceHash) where
// deviceHash is the caller-computed one-way hash of the device id; raw
// device ids never reach the store. Every device key carries its own TTL,
// so renewing one device never extends another device's session.
type DeviceSessionStore interface {
	// Put upserts the session for a device, overwriting any previous one.
	Put(ctx context.Context, userID, deviceHash string, s DeviceSession, ttl time.Duration) error
	// Get returns the currently stored refresh token, or ErrNotFound.
	Get(ctx context.Context, userID, deviceHash string) (string, error)
	Exists(ctx context.Context, userID, deviceHash string) (bool, error)
	Remove(ctx context.Context, userID, deviceHash string) error
	// ReplaceIfMatch atomically swaps the stored session for next if the
	// stored refresh token equals current. Returns false (and stores
	// nothing) on mismatch or absence. This is the compare-and-swap that
	// makes refresh rotation single-use under concurrency.
	ReplaceIfMatch(ctx context.Context, userID, deviceHash, current string, next DeviceSession, ttl time.Duration) (bool, error)
	// List returns metadata for every live device session of a user.
	List(ctx context.Context, userID string) ([]DeviceInfo, error)
	// RemoveAll deletes every device session of a user (password reset,
	// global logout).
	RemoveAll(ctx context.Context, userID string) error
	Close() error
}
