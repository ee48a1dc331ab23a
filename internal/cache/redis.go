package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisRegistryKey = "weather:partitions"
	redisSequenceKey = "weather:partitions:seq"
	redisPartPrefix  = "weather:partition:"
)

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on Redis. The partition registry is a sorted set
// scored by creation sequence; each partition is one hash keyed by request key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %w", cfg.Addr, err)
	}
	return &RedisStore{client: client}, nil
}

// Open registers the partition if needed and returns it.
func (s *RedisStore) Open(ctx context.Context, name string) (Partition, error) {
	err := s.client.ZScore(ctx, redisRegistryKey, name).Err()
	switch {
	case err == nil:
		return s.partition(name), nil
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("cache: redis open %s: %w", name, err)
	}
	seq, err := s.client.Incr(ctx, redisSequenceKey).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: redis open %s: %w", name, err)
	}
	if err := s.client.ZAddNX(ctx, redisRegistryKey, &redis.Z{Score: float64(seq), Member: name}).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis open %s: %w", name, err)
	}
	return s.partition(name), nil
}

// Names lists partitions in creation order.
func (s *RedisStore) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRange(ctx, redisRegistryKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: redis names: %w", err)
	}
	return names, nil
}

// Drop removes the partition from the registry and deletes its hash.
func (s *RedisStore) Drop(ctx context.Context, name string) (bool, error) {
	removed, err := s.client.ZRem(ctx, redisRegistryKey, name).Result()
	if err != nil {
		return false, fmt.Errorf("cache: redis drop %s: %w", name, err)
	}
	if err := s.client.Del(ctx, redisPartPrefix+name).Err(); err != nil {
		return removed > 0, fmt.Errorf("cache: redis drop %s: %w", name, err)
	}
	return removed > 0, nil
}

// Match searches partitions in creation order.
func (s *RedisStore) Match(ctx context.Context, key string) (Entry, bool, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, n := range names {
		e, ok, err := s.partition(n).Match(ctx, key)
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Ping checks Redis reachability. Used for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client. Call during shutdown.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) partition(name string) *redisPartition {
	return &redisPartition{client: s.client, name: name, hash: redisPartPrefix + name}
}

type redisPartition struct {
	client *redis.Client
	name   string
	hash   string
}

func (p *redisPartition) Name() string { return p.name }

func (p *redisPartition) Match(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := p.client.HGet(ctx, p.hash, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: redis match %s: %w", p.name, err)
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (p *redisPartition) Put(ctx context.Context, key string, e Entry) error {
	raw, err := encodeEntry(e)
	if err != nil {
		return err
	}
	if err := p.client.HSet(ctx, p.hash, key, raw).Err(); err != nil {
		return fmt.Errorf("cache: redis put %s: %w", p.name, err)
	}
	return nil
}

func (p *redisPartition) Delete(ctx context.Context, key string) (bool, error) {
	n, err := p.client.HDel(ctx, p.hash, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: redis delete %s: %w", p.name, err)
	}
	return n > 0, nil
}

func (p *redisPartition) Keys(ctx context.Context) ([]string, error) {
	keys, err := p.client.HKeys(ctx, p.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: redis keys %s: %w", p.name, err)
	}
	sort.Strings(keys)
	return keys, nil
}
