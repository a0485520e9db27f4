// File: internal/store/redis.go
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient is the subset of the go-redis client used by the backend.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Close() error
}

// Redis stores the tainted domain set as a Redis set, which lets several
// watcher instances share what they learn.
type Redis struct {
	client RedisClient
	key    string
	log    *zap.Logger
}

// OpenRedis parses url, connects and verifies the connection.
func OpenRedis(ctx context.Context, url, key string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	r, err := NewRedis(ctx, client, key, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return r, nil
}

// NewRedis wraps an existing client.
func NewRedis(ctx context.Context, client RedisClient, key string, logger *zap.Logger) (*Redis, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{client: client, key: key, log: logger.Named("store.redis")}, nil
}

func (r *Redis) Load(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.key, err)
	}
	return members, nil
}

func (r *Redis) Add(ctx context.Context, domains []string) error {
	if len(domains) == 0 {
		return nil
	}
	members := make([]interface{}, len(domains))
	for i, d := range domains {
		members[i] = d
	}
	added, err := r.client.SAdd(ctx, r.key, members...).Result()
	if err != nil {
		return fmt.Errorf("failed to add to %s: %w", r.key, err)
	}
	r.log.Debug("Added tainted domains.", zap.Int("requested", len(domains)), zap.Int64("added", added))
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
