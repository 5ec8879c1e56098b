package redis

import (
	"context"
	"time"

	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/errors"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/logger"
	"github.com/redis/go-redis/v9"
)

type client struct {
	logger  logger.Interface
	config  *Config
	cmdable redis.Cmdable
}

// NewClient creates a new Redis client with the provided logger and configuration.
func NewClient(logger logger.Interface, config *Config) Client {
	return &client{
		logger: logger,
		config: config,
	}
}

func (c *client) Connect(ctx context.Context) error {
	if c.config == nil {
		return errors.NewCollectorError(errors.RedisConfigError, "redis config is nil")
	}

	if len(c.config.Addrs) == 0 {
		return errors.NewCollectorError(errors.RedisConfigError, "redis addresses are empty")
	}

	var cmdable redis.Cmdable
	switch c.config.Mode {
	case Standalone:
		cmdable = redis.NewClient(&redis.Options{
			Addr:            c.config.Addrs[0],
			Username:        c.config.Username,
			Password:        c.config.Password,
			DB:              c.config.DB,
			DialTimeout:     c.config.ConnectTimeout,
			MaxRetries:      c.config.MaxRetries,
			MinRetryBackoff: c.config.MinRetryBackoff,
			MaxRetryBackoff: c.config.MaxRetryBackoff,
			PoolSize:        c.config.PoolSize,
			MinIdleConns:    c.config.MinIdleConns,
		})
	case Cluster:
		cmdable = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           c.config.Addrs,
			Username:        c.config.Username,
			Password:        c.config.Password,
			DialTimeout:     c.config.ConnectTimeout,
			MaxRetries:      c.config.MaxRetries,
			MinRetryBackoff: c.config.MinRetryBackoff,
			MaxRetryBackoff: c.config.MaxRetryBackoff,
			PoolSize:        c.config.PoolSize,
			MinIdleConns:    c.config.MinIdleConns,
		})
	default:
		return errors.NewCollectorError(errors.RedisConfigError, "invalid redis mode")
	}

	c.cmdable = cmdable

	if err := c.Ping(ctx); err != nil {
		return errors.NewCollectorError(errors.RedisConnectionError, "failed to connect to redis").Wrap(err)
	}

	return nil
}

func (c *client) Disconnect(ctx context.Context) error {
	switch conn := c.cmdable.(type) {
	case *redis.Client:
		return conn.Close()
	case *redis.ClusterClient:
		return conn.Close()
	}
	return nil
}

func (c *client) Ping(ctx context.Context) error {
	if err := c.cmdable.Ping(ctx).Err(); err != nil {
		return errors.NewCollectorError(errors.RedisConnectionError, "redis ping failed").Wrap(err)
	}
	return nil
}

func (c *client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.cmdable.Get(ctx, c.prefixed(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", errors.NewCollectorError(errors.RedisGetError, "redis get failed").Wrap(err)
	}
	return val, nil
}

func (c *client) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if expiration == 0 {
		expiration = c.config.DefaultTTL
	}
	if err := c.cmdable.Set(ctx, c.prefixed(key), value, expiration).Err(); err != nil {
		return errors.NewCollectorError(errors.RedisSetError, "redis set failed").Wrap(err)
	}
	return nil
}

func (c *client) prefixed(key string) string {
	return c.config.PrefixKey + key
}
