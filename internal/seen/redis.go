package seen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisClient interface {
	SIsMember(ctx context.Context, key string, member any) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisConfig configures the Redis-backed seen set.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// Redis shares the seen set between frontier replicas through one Redis set
// per crawl.
type Redis struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewRedis connects to the configured Redis server.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient wraps an existing client (primarily for testing).
func NewRedisWithClient(client redisClient, cfg RedisConfig) *Redis {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "frontier:seen:"
	}
	return &Redis{client: client, prefix: prefix, ttl: cfg.TTL}
}

// Contains reports whether url is in the crawl's set.
func (r *Redis) Contains(ctx context.Context, crawlID, url string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.prefix+crawlID, url).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

// Add records url in the crawl's set and refreshes the set's expiry.
func (r *Redis) Add(ctx context.Context, crawlID, url string) error {
	key := r.prefix + crawlID
	if err := r.client.SAdd(ctx, key, url).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			return fmt.Errorf("redis expire: %w", err)
		}
	}
	return nil
}

// Ping checks that the Redis server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
