// Package cache mirrors ephemeral state into Redis for consumers outside
// this process.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceCache stores each user's presence under <prefix>:presence:<id> as a
// hash {online, last_seen}.
type PresenceCache struct {
	client *redis.Client
	prefix string
}

func NewPresenceCache(client *redis.Client, prefix string) *PresenceCache {
	if prefix == "" {
		prefix = "chat"
	}
	return &PresenceCache{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return r, nil
}

func (c *PresenceCache) key(userID int64) string {
	return fmt.Sprintf("%s:presence:%d", c.prefix, userID)
}

func (c *PresenceCache) SetPresence(ctx context.Context, userID int64, online bool, at time.Time) error {
	val := "0"
	if online {
		val = "1"
	}
	return c.client.HSet(ctx, c.key(userID), "online", val, "last_seen", at.Unix()).Err()
}

// GetPresence returns the mirrored state; a missing key reads as offline.
func (c *PresenceCache) GetPresence(ctx context.Context, userID int64) (online bool, lastSeen time.Time, err error) {
	vals, err := c.client.HGetAll(ctx, c.key(userID)).Result()
	if err != nil {
		return false, time.Time{}, err
	}
	if len(vals) == 0 {
		return false, time.Time{}, nil
	}
	if ts, err := strconv.ParseInt(vals["last_seen"], 10, 64); err == nil {
		lastSeen = time.Unix(ts, 0).UTC()
	}
	return vals["online"] == "1", lastSeen, nil
}

// Reset removes every mirrored presence key. Called at start, when all users
// begin offline.
func (c *PresenceCache) Reset(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":presence:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
