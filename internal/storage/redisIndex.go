package storage

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIndexTTL bounds how long an index entry outlives its object.
const DefaultIndexTTL = 7 * 24 * time.Hour

// RedisIndex records stored keys in Redis so repeat runs across processes
// skip the HEAD request. Entries expire so a purged bucket self-heals.
type RedisIndex struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisIndex(client *redis.Client, prefix string, ttl time.Duration) *RedisIndex {
	if prefix == "" {
		prefix = "variants:stored:"
	}
	if ttl <= 0 {
		ttl = DefaultIndexTTL
	}
	return &RedisIndex{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis accepts either host:port or a redis:// URL and pings the server.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		var err error
		if opts, err = redis.ParseURL(addr); err != nil {
			return nil, err
		}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (r *RedisIndex) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisIndex) Mark(ctx context.Context, key string) error {
	return r.client.Set(ctx, r.prefix+key, 1, r.ttl).Err()
}
