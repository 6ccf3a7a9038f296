package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache stores JSON values by key. RedisCache is the production implementation.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
}

// RedisCache provides caching functionality using Redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache client
func NewRedisCache(redisURL string, logger *zap.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	logger.Info("redis connection established", zap.String("addr", opt.Addr))
	return &RedisCache{client: client}, nil
}

// Set stores a value in cache with expiration
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// GetOrSet retrieves a value from cache, or calls fn to fetch and cache it.
// fn is only called on a miss.
func GetOrSet[T any](c Cache, ctx context.Context, key string, expiration time.Duration, fn func() (T, error)) (T, error) {
	var result T

	err := c.Get(ctx, key, &result)
	if err == nil {
		return result, nil
	}

	result, err = fn()
	if err != nil {
		return result, err
	}

	// Store in cache (ignore cache set errors)
	_ = c.Set(ctx, key, result, expiration)

	return result, nil
}

// Delete removes a key from cache
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// RenewalLocker guards a business against two concurrent recurring charges
type RenewalLocker interface {
	// Acquire returns a release func, or ErrRenewalInProgress if another holder owns the lock
	Acquire(ctx context.Context, businessID uint) (func(), error)
}

// RedisRenewalLocker is a RenewalLocker backed by a redsync mutex
type RedisRenewalLocker struct {
	rs     *redsync.Redsync
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisRenewalLocker(c *RedisCache, ttl time.Duration, logger *zap.Logger) *RedisRenewalLocker {
	pool := goredis.NewPool(c.client)
	return &RedisRenewalLocker{
		rs:     redsync.New(pool),
		ttl:    ttl,
		logger: logger,
	}
}

func (l *RedisRenewalLocker) Acquire(ctx context.Context, businessID uint) (func(), error) {
	key := fmt.Sprintf("recurring_charge_lock:business:%d", businessID)
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		l.logger.Info("recurring charge lock busy", zap.Uint("business_id", businessID), zap.Error(err))
		return nil, ErrRenewalInProgress
	}

	return func() {
		// Background so a cancelled request still releases the lock
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			l.logger.Warn("failed to release recurring charge lock", zap.Uint("business_id", businessID), zap.Error(err))
		}
	}, nil
}
