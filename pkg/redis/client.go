package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/library-catalog/pkg/config"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	keyNamespace = "catalog"
	sagaPrefix   = "saga"
	lockPrefix   = "lock"
	idemPrefix   = "idem"

	fieldVersion = "version"
	fieldData    = "data"
)

// ErrNotFound is returned by the versioned helpers when the key is absent.
var ErrNotFound = errors.New("redis key not found")

type cmdable interface {
	redis.Scripter
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	HMGet(context.Context, string, ...string) *redis.SliceCmd
	Scan(context.Context, uint64, string, int64) *redis.ScanCmd
	TxPipelined(context.Context, func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// Client wraps the redis connection helpers needed by the catalog services.
type Client struct {
	store cmdable
	raw   *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// compareAndSwap replaces the hash only when its version matches ARGV[1].
// A missing key matches expected version 0.
var compareAndSwap = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if (v == false and ARGV[1] == '0') or v == ARGV[1] then
  redis.call('HSET', KEYS[1], 'version', ARGV[2], 'data', ARGV[3])
  if tonumber(ARGV[4]) > 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[4])
  end
  return 1
end
return 0
`)

// deleteIfValue removes KEYS[1] only while it still holds ARGV[1].
var deleteIfValue = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// New bootstraps a Redis client with pooling/timeouts and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Debug(ctx, "redis connection established")
	}
	return &Client{store: raw, raw: raw}, nil
}

// NewWithClient wraps an already configured go-redis client.
func NewWithClient(raw *redis.Client) *Client {
	return &Client{store: raw, raw: raw}
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL == "" && cfg.Address == "" {
		return nil, errors.New("redis url or address is required")
	}
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

func (c *Client) ready() error {
	if c == nil || c.store == nil {
		return errors.New("redis client not initialized")
	}
	return nil
}

// Set stores a string value with an optional TTL.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.store.Set(ctx, key, value, ttl).Err()
}

// Get returns a string value stored at key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.store.Get(ctx, key).Result()
}

// SetNX sets a value only if the key does not exist yet.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.store.SetNX(ctx, key, value, ttl).Result()
}

// Del removes the provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.store.Del(ctx, keys...).Err()
}

// SetVersioned unconditionally writes data under key together with its version.
func (c *Client) SetVersioned(ctx context.Context, key string, version int64, data []byte, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	_, err := c.store.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldVersion, version, fieldData, data)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// GetVersioned returns the stored version and payload, or ErrNotFound.
func (c *Client) GetVersioned(ctx context.Context, key string) (int64, []byte, error) {
	if err := c.ready(); err != nil {
		return 0, nil, err
	}
	vals, err := c.store.HMGet(ctx, key, fieldVersion, fieldData).Result()
	if err != nil {
		return 0, nil, err
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return 0, nil, ErrNotFound
	}
	rawVersion, ok := vals[0].(string)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected version type %T for %s", vals[0], key)
	}
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("parse version for %s: %w", key, err)
	}
	data, ok := vals[1].(string)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected data type %T for %s", vals[1], key)
	}
	return version, []byte(data), nil
}

// CompareAndSwapVersioned writes data with version next only when the stored
// version equals expected. It reports whether the write happened.
func (c *Client) CompareAndSwapVersioned(ctx context.Context, key string, expected, next int64, data []byte, ttl time.Duration) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	res, err := compareAndSwap.Run(ctx, c.store, []string{key},
		strconv.FormatInt(expected, 10),
		strconv.FormatInt(next, 10),
		data,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// DeleteIfValue deletes key when it still holds value, so a lock holder
// never removes a lock that expired and was taken by someone else.
func (c *Client) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	res, err := deleteIfValue.Run(ctx, c.store, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

const scanPageSize = 200

// ScanEach walks every key matching pattern with SCAN and hands each page to
// fn. Returning false from fn stops the walk early.
func (c *Client) ScanEach(ctx context.Context, pattern string, fn func(keys []string) (bool, error)) error {
	if err := c.ready(); err != nil {
		return err
	}
	var cursor uint64
	for {
		page, next, err := c.store.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return err
		}
		if len(page) > 0 {
			more, err := fn(page)
			if err != nil || !more {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// SagaKey returns the namespaced key holding one saga instance.
func (c *Client) SagaKey(sagaID string) string {
	return c.buildKey(sagaPrefix, sagaID)
}

// SagaKeyPattern matches every saga instance key.
func (c *Client) SagaKeyPattern() string {
	return c.buildKey(sagaPrefix, "*")
}

// LockKey returns the namespaced key for a distributed lock.
func (c *Client) LockKey(name string) string {
	return c.buildKey(lockPrefix, name)
}

// IdempotencyKey scopes a caller supplied Idempotency-Key to one route.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.buildKey(idemPrefix, scope, id)
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.store.Ping(ctx).Err()
}

// Close shuts down the underlying client if available.
func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func (c *Client) buildKey(parts ...string) string {
	if len(parts) == 0 {
		return keyNamespace
	}
	clean := []string{keyNamespace}
	for _, part := range parts {
		if part == "" {
			continue
		}
		clean = append(clean, strings.TrimSpace(part))
	}
	return strings.Join(clean, ":")
}
