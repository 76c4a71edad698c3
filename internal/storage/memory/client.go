// Package memory implements the device-session store in process memory,
// for -dev mode and tests. Semantics mirror the Redis implementation,
// including per-device expiry and atomic compare-and-swap.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shelter/internal/storage"
)

type entry struct {
	sess storage.DeviceSession
	exp  time.Time
}

type Client struct {
	mu       sync.Mutex
	sessions map[string]entry
}

func New() *Client {
	return &Client{sessions: make(map[string]entry)}
}

func (c *Client) Close() error { return nil }

func key(userID, deviceHash string) string {
	return userID + ":" + deviceHash
}

// live returns the entry if present and unexpired; expired entries are
// dropped lazily. Caller must hold c.mu.
func (c *Client) live(k string) (entry, bool) {
	e, ok := c.sessions[k]
	if !ok {
		return entry{}, false
	}
	if time.Now().After(e.exp) {
		delete(c.sessions, k)
		return entry{}, false
	}
	return e, true
}

func (c *Client) Put(ctx context.Context, userID, deviceHash string, s storage.DeviceSession, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[key(userID, deviceHash)] = entry{sess: s, exp: time.Now().Add(ttl)}
	return nil
}

func (c *Client) Get(ctx context.Context, userID, deviceHash string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key(userID, deviceHash))
	if !ok {
		return "", storage.ErrNotFound
	}
	return e.sess.RefreshToken, nil
}

func (c *Client) Exists(ctx context.Context, userID, deviceHash string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.live(key(userID, deviceHash))
	return ok, nil
}

func (c *Client) Remove(ctx context.Context, userID, deviceHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, key(userID, deviceHash))
	return nil
}

func (c *Client) ReplaceIfMatch(ctx context.Context, userID, deviceHash, current string, next storage.DeviceSession, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(userID, deviceHash)
	e, ok := c.live(k)
	if !ok || e.sess.RefreshToken != current {
		return false, nil
	}
	c.sessions[k] = entry{sess: next, exp: time.Now().Add(ttl)}
	return true, nil
}

func (c *Client) List(ctx context.Context, userID string) ([]storage.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := userID + ":"
	var devices []storage.DeviceInfo
	for k := range c.sessions {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		e, ok := c.live(k)
		if !ok {
			continue
		}
		devices = append(devices, storage.DeviceInfo{
			DeviceIDHash: strings.TrimPrefix(k, prefix),
			UserAgent:    e.sess.UserAgent,
			SourceAddr:   e.sess.SourceAddr,
			LastUsedTime: e.sess.IssuedAt,
		})
	}
	return devices, nil
}

func (c *Client) RemoveAll(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := userID + ":"
	for k := range c.sessions {
		if strings.HasPrefix(k, prefix) {
			delete(c.sessions, k)
		}
	}
	return nil
}
