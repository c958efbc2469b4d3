// Package cache wraps go-redis for the oracle's fast-path state: set
// operations suited to mirroring HotSet membership and an expiring
// counter. In this module only Client() is used, to share the
// connection with eventbus.Bus; nothing writes a HotSet mirror or a
// counter through this wrapper. Adapted from the
// reference's internal/storage/cache/redis.go wrapper.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Config mirrors the reference's RedisConfig fields.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Redis is a thin logging wrapper around *redis.Client.
type Redis struct {
	client *redis.Client
	logger *logrus.Logger
}

// New connects to Redis and verifies reachability with a PING, the
// same startup discipline the reference applies to Postgres.
func New(ctx context.Context, cfg Config, logger *logrus.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	logger.WithField("addr", client.Options().Addr).Info("cache: connected to redis")
	return &Redis{client: client, logger: logger}, nil
}

func (r *Redis) Close() error { return r.client.Close() }

// Client exposes the underlying *redis.Client so other Redis-backed
// components (eventbus.Bus) can share this connection instead of
// opening a second one.
func (r *Redis) Client() *redis.Client { return r.client }

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// SAdd and SIsMember back the HotSet membership mirror: latching
// hotness (Invariant 2) means membership is additive only, which a
// Redis set expresses directly.
func (r *Redis) SAdd(ctx context.Context, key, member string) error {
	return r.client.SAdd(ctx, key, member).Err()
}

func (r *Redis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.client.SIsMember(ctx, key, member).Result()
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

// IncrWithExpire increments a counter and (re-)applies its TTL.
// internal/analyzer.RateLimiter does not use it: that limiter keeps its
// delay in process only.
func (r *Redis) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return n, err
	}
	return n, nil
}
