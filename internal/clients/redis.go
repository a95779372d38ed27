package clients

import (
	"context"
	"os"
	"time"

	"libcirc/pkg/cache/redis"
)

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration

	Prefix string
}

// RedisClient wraps the raw connection with a key prefix. The scheduler uses
// it for overdue-reminder dedup marks and the stock-release retry queue.
type RedisClient struct {
	raw    *redis.Client
	prefix string
}

func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	rdb, err := redis.NewRedisConnection(redis.ConnectionInfo{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	prefix := cfg.Prefix
	if prefix == "" {
		if envPrefix := os.Getenv("REDIS_PREFIX"); envPrefix != "" {
			prefix = envPrefix
		} else {
			prefix = "libcirc_"
		}
	}

	return &RedisClient{
		raw:    rdb,
		prefix: prefix,
	}, nil
}

func (c *RedisClient) Close() {
	if c.raw == nil {
		return
	}
	redis.Close(c.raw)
}

func (c *RedisClient) withPrefix(key string) string {
	return c.prefix + key
}

func (c *RedisClient) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.raw.Set(ctx, c.withPrefix(key), value, ttl).Err()
}

func (c *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return c.raw.Get(ctx, c.withPrefix(key)).Result()
}

// SetNX writes the key only if absent. Returns true when this caller won,
// which is how reminder sends stay once-only across restarts.
func (c *RedisClient) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return c.raw.SetNX(ctx, c.withPrefix(key), value, ttl).Result()
}

func (c *RedisClient) LPush(ctx context.Context, key string, values ...any) error {
	return c.raw.LPush(ctx, c.withPrefix(key), values...).Err()
}

// RPop returns redis.Nil-wrapped error when the list is empty; callers check
// with IsNil.
func (c *RedisClient) RPop(ctx context.Context, key string) (string, error) {
	return c.raw.RPop(ctx, c.withPrefix(key)).Result()
}

func IsNil(err error) bool {
	return redis.IsNil(err)
}
