package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/config"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Every key this service writes lives under ib:<kind>:...
const keyNamespace = "ib"

const (
	kindIdempotency = "idempotency"
	kindRateLimit   = "rate_limit"
	kindLock        = "lock"
)

var errNotConnected = errors.New("redis client not initialized")

// Both scripts act only while KEYS[1] still holds the caller's owner token.
var (
	extendOwned = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	deleteOwned = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// commands is the slice of go-redis the client drives; tests swap in an
// in-memory version.
type commands interface {
	redis.Scripter
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// ClaimStore is what the webhook in-flight guard needs: claim a key once,
// release it on failure.
type ClaimStore interface {
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

// Client backs idempotency records, webhook claims, the rate limit store and
// the cron leader lease.
type Client struct {
	cmds   commands
	raw    *redis.Client
	closer func() error
}

// New dials Redis and fails fast when the server is unreachable.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"redis_addr": opts.Addr, "redis_db": opts.DB}), "redis.ready")
	}
	return &Client{cmds: conn, raw: conn, closer: conn.Close}, nil
}

// dialOptions starts from REDIS_URL when set. Pool and timeout settings from
// env only fill what the URL left unset.
func dialOptions(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	if opts.Addr == "" {
		return nil, errors.New("redis: set REDIS_URL or an address")
	}

	keepOr(&opts.DB, cfg.DB)
	keepOr(&opts.PoolSize, cfg.PoolSize)
	keepOr(&opts.MinIdleConns, cfg.MinIdleConns)
	keepOr(&opts.DialTimeout, cfg.DialTimeout)
	keepOr(&opts.ReadTimeout, cfg.ReadTimeout)
	keepOr(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func keepOr[T comparable](dst *T, fallback T) {
	var zero T
	if *dst == zero {
		*dst = fallback
	}
}

func (c *Client) conn() (commands, error) {
	if c == nil || c.cmds == nil {
		return nil, errNotConnected
	}
	return c.cmds, nil
}

func (c *Client) Ping(ctx context.Context) error {
	cmds, err := c.conn()
	if err != nil {
		return err
	}
	return cmds.Ping(ctx).Err()
}

// Get returns redis.Nil for a missing key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	cmds, err := c.conn()
	if err != nil {
		return "", err
	}
	return cmds.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	cmds, err := c.conn()
	if err != nil {
		return err
	}
	return cmds.Set(ctx, key, value, ttl).Err()
}

// SetNX reports whether this call created the key.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	cmds, err := c.conn()
	if err != nil {
		return false, err
	}
	return cmds.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cmds, err := c.conn()
	if err != nil {
		return err
	}
	return cmds.Del(ctx, keys...).Err()
}

// ExtendIfOwner resets key's TTL when it still holds owner. False means the
// key expired or now belongs to someone else.
func (c *Client) ExtendIfOwner(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return c.runOwned(ctx, extendOwned, key, owner, ttl.Milliseconds())
}

// DeleteIfOwner removes key only when it still holds owner.
func (c *Client) DeleteIfOwner(ctx context.Context, key, owner string) (bool, error) {
	return c.runOwned(ctx, deleteOwned, key, owner)
}

func (c *Client) runOwned(ctx context.Context, script *redis.Script, key, owner string, extra ...any) (bool, error) {
	cmds, err := c.conn()
	if err != nil {
		return false, err
	}
	n, err := script.Run(ctx, cmds, []string{key}, append([]any{owner}, extra...)...).Int64()
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return n == 1, nil
}

// RateLimitStore returns a limiter store keeping its counters under the
// rate_limit namespace of this connection.
func (c *Client) RateLimitStore() (limiter.Store, error) {
	if c == nil || c.raw == nil {
		return nil, errNotConnected
	}
	store, err := limiterredis.NewStoreWithOptions(c.raw, limiter.StoreOptions{
		Prefix:          c.RateLimitKey(""),
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	return store, nil
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey(kindIdempotency, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return joinKey(kindRateLimit, scope)
}

func (c *Client) LockKey(name string) string {
	return joinKey(kindLock, name)
}

func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

func joinKey(parts ...string) string {
	kept := []string{keyNamespace}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ":")
}
