package database

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient builds a client and verifies connectivity. A failed ping is
// logged and the client is still returned; repositories degrade to memory.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) *redis.Client {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("address", cfg.Address).Msg("Initial Redis connection failed, running degraded")
	} else {
		logger.Info().Str("address", cfg.Address).Msg("Redis connected")
	}
	return client
}

// redisBacked tracks Redis availability for repositories with an in-memory
// fallback. A nil client means memory-only mode.
type redisBacked struct {
	client    *redis.Client
	prefix    string
	available atomic.Bool
	logger    zerolog.Logger
}

func newRedisBacked(client *redis.Client, prefix, component string, logger zerolog.Logger) *redisBacked {
	if prefix == "" {
		prefix = "agent"
	}
	rb := &redisBacked{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", component).Logger(),
	}
	if client == nil {
		rb.logger.Info().Msg("No Redis client provided, using in-memory cache only")
		return rb
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory cache")
	} else {
		rb.available.Store(true)
	}
	return rb
}

func (rb *redisBacked) useRedis() bool {
	return rb.client != nil && rb.available.Load()
}

// markFailed flips to memory mode; CheckConnection can recover it
func (rb *redisBacked) markFailed(op string, err error) {
	if rb.available.Swap(false) {
		rb.logger.Warn().Err(err).Str("op", op).Msg("Redis operation failed, using in-memory cache")
	}
}

// IsRedisAvailable reports whether writes currently reach Redis
func (rb *redisBacked) IsRedisAvailable() bool {
	return rb.useRedis()
}

// CheckConnection pings Redis and restores availability on success
func (rb *redisBacked) CheckConnection(ctx context.Context) error {
	if rb.client == nil {
		return nil
	}
	if err := rb.client.Ping(ctx).Err(); err != nil {
		rb.available.Store(false)
		return err
	}
	if !rb.available.Swap(true) {
		rb.logger.Info().Msg("Redis connection recovered")
	}
	return nil
}
