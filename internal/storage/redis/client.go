// Package redis implements the device-session store on Redis. Each device
// session lives under its own key with an independent TTL; rotation uses a
// Lua script so the compare-and-swap is atomic on the server.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shelter/internal/storage"
)

const keyPrefix = "session:"

// replaceIfMatch compares the stored refresh token and swaps in the new
// session in one server-side step. KEYS[1] = session key; ARGV = current
// token, next token, ua, ip, ts, ttl_ms.
var replaceIfMatch = redis.NewScript(`
if redis.call("HGET", KEYS[1], "token") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "token", ARGV[2], "ua", ARGV[3], "ip", ARGV[4], "ts", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[6])
return 1
`)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func sessionKey(userID, deviceHash string) string {
	return keyPrefix + userID + ":" + deviceHash
}

func (c *Client) Put(ctx context.Context, userID, deviceHash string, s storage.DeviceSession, ttl time.Duration) error {
	key := sessionKey(userID, deviceHash)
	pipe := c.cli.TxPipeline()
	pipe.HSet(ctx, key,
		"token", s.RefreshToken,
		"ua", s.UserAgent,
		"ip", s.SourceAddr,
		"ts", s.IssuedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis.Put: %w", err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, userID, deviceHash string) (string, error) {
	val, err := c.cli.HGet(ctx, sessionKey(userID, deviceHash), "token").Result()
	if err == redis.Nil {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis.Get: %w", err)
	}
	return val, nil
}

func (c *Client) Exists(ctx context.Context, userID, deviceHash string) (bool, error) {
	n, err := c.cli.Exists(ctx, sessionKey(userID, deviceHash)).Result()
	if err != nil {
		return false, fmt.Errorf("redis.Exists: %w", err)
	}
	return n > 0, nil
}

func (c *Client) Remove(ctx context.Context, userID, deviceHash string) error {
	if err := c.cli.Del(ctx, sessionKey(userID, deviceHash)).Err(); err != nil {
		return fmt.Errorf("redis.Remove: %w", err)
	}
	return nil
}

func (c *Client) ReplaceIfMatch(ctx context.Context, userID, deviceHash, current string, next storage.DeviceSession, ttl time.Duration) (bool, error) {
	res, err := replaceIfMatch.Run(ctx, c.cli,
		[]string{sessionKey(userID, deviceHash)},
		current,
		next.RefreshToken,
		next.UserAgent,
		next.SourceAddr,
		next.IssuedAt.UTC().Format(time.RFC3339Nano),
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis.ReplaceIfMatch: %w", err)
	}
	return res == 1, nil
}

func (c *Client) List(ctx context.Context, userID string) ([]storage.DeviceInfo, error) {
	prefix := keyPrefix + userID + ":"
	var devices []storage.DeviceInfo

	iter := c.cli.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := c.cli.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis.List: %w", err)
		}
		if len(fields) == 0 {
			// Key expired between SCAN and HGETALL.
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, fields["ts"])
		devices = append(devices, storage.DeviceInfo{
			DeviceIDHash: strings.TrimPrefix(key, prefix),
			UserAgent:    fields["ua"],
			SourceAddr:   fields["ip"],
			LastUsedTime: ts,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis.List: %w", err)
	}
	return devices, nil
}

func (c *Client) RemoveAll(ctx context.Context, userID string) error {
	iter := c.cli.Scan(ctx, 0, keyPrefix+userID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis.RemoveAll: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.cli.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis.RemoveAll: %w", err)
	}
	return nil
}
