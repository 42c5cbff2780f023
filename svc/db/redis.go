package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"linkvault/cfg"
)

// Redis backs the shared rate limiter and the revoked-session set when the
// service runs more than one replica. Paste state never goes through here.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

const revokedSessionPrefix = "revoked_session:"

func NewRedis(url string, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	if c.RedisTLS {
		opt.TLSConfig, err = redisTLS(c)
		if err != nil {
			return nil, errors.Wrap(err, "redis tls")
		}
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Redis{client: client, timeout: c.RedisTimeout}, nil
}

// redisTLS pins TLS 1.3 and the configured server name. A custom CA bundle
// replaces the system pool entirely when set.
func redisTLS(c *cfg.Cfg) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,
		ServerName: c.RedisServer,
	}
	if c.RedisCACert == "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, errors.Wrap(err, "system cert pool")
		}
		tc.RootCAs = pool
		return tc, nil
	}
	pem, err := os.ReadFile(c.RedisCACert)
	if err != nil {
		return nil, errors.Wrap(err, "read ca cert")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("no certificates in %s", c.RedisCACert)
	}
	tc.RootCAs = pool
	return tc, nil
}

var rateLimitScript = redis.NewScript(`
	local used = tonumber(redis.call("GET", KEYS[1]) or "0")
	if used >= tonumber(ARGV[2]) then
		return used
	end
	used = redis.call("INCR", KEYS[1])
	if used == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return used
`)

// RateLimit increments the counter for key inside a fixed window and returns
// the current usage. The Lua script keeps check-and-increment atomic across
// replicas.
func (r *Redis) RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	usage, err := rateLimitScript.Run(ctx, r.client, []string{key}, int(window.Milliseconds()), limit).Int()
	if err != nil {
		return 0, errors.Wrap(err, "rate limit lua")
	}
	return usage, nil
}

// RevokeSession records a session token hash until its natural expiry so a
// deleted account cannot keep using an already-issued token.
func (r *Redis) RevokeSession(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if tokenHash == "" {
		return errors.New("token hash cannot be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Set(ctx, revokedSessionPrefix+tokenHash, "1", ttl).Err()
}

func (r *Redis) IsSessionRevoked(ctx context.Context, tokenHash string) (bool, error) {
	if tokenHash == "" {
		return false, errors.New("token hash cannot be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.client.Exists(ctx, revokedSessionPrefix+tokenHash).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
