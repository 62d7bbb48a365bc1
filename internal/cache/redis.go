package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "normaia:retrieval:"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key; defaults to "normaia:retrieval:".
	Prefix string
}

// RedisCache keys entries under a generation number. Invalidate bumps the
// generation, so stale entries are never read again and expire by TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects and pings the server.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) generationKey() string { return c.prefix + "generation" }

func (c *RedisCache) generation(ctx context.Context) (Generation, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("reading cache generation: %w", err)
	}
	return Generation(gen), nil
}

func (c *RedisCache) entryKey(gen Generation, key string) string {
	return fmt.Sprintf("%s%d:%s", c.prefix, gen, key)
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, Generation, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, 0, err
	}
	data, err := c.client.Get(ctx, c.entryKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, nil
	}
	if err != nil {
		return nil, gen, fmt.Errorf("redis get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, gen, fmt.Errorf("decoding cached retrieval: %w", err)
	}
	return &e, gen, nil
}

// Set stores entry under gen. An entry for a superseded generation is
// written where no reader looks and expires by TTL.
func (c *RedisCache) Set(ctx context.Context, key string, gen Generation, entry *Entry, ttl time.Duration) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.entryKey(gen, key), data, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.generationKey()).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
