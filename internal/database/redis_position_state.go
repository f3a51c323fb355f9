package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"futures-agent/internal/position"
)

// PositionStateTTL bounds how long an orphaned lifecycle survives in Redis
const PositionStateTTL = 7 * 24 * time.Hour

// RedisPositionStateRepository stores position lifecycles in Redis with an
// in-memory fallback cache when Redis is unavailable.
type RedisPositionStateRepository struct {
	*redisBacked
	cacheMu sync.RWMutex
	cache   map[string]position.Lifecycle
}

// NewRedisPositionStateRepository creates the repository. A nil client
// operates in memory-only mode.
func NewRedisPositionStateRepository(client *redis.Client, prefix string, logger zerolog.Logger) *RedisPositionStateRepository {
	return &RedisPositionStateRepository{
		redisBacked: newRedisBacked(client, prefix, "PositionStateRepository", logger),
		cache:       make(map[string]position.Lifecycle),
	}
}

// positionKey format: {prefix}:position:{symbol}
func (r *RedisPositionStateRepository) positionKey(symbol string) string {
	return fmt.Sprintf("%s:position:%s", r.prefix, symbol)
}

// positionListKey format: {prefix}:positions
func (r *RedisPositionStateRepository) positionListKey() string {
	return r.prefix + ":positions"
}

// SaveLifecycle writes one lifecycle; the cache is always updated
func (r *RedisPositionStateRepository) SaveLifecycle(ctx context.Context, l position.Lifecycle) error {
	l.SavedAt = time.Now()
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle: %w", err)
	}

	r.cacheMu.Lock()
	r.cache[l.Symbol] = l
	r.cacheMu.Unlock()

	if !r.useRedis() {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.positionKey(l.Symbol), data, PositionStateTTL)
	pipe.SAdd(ctx, r.positionListKey(), l.Symbol)
	pipe.Expire(ctx, r.positionListKey(), PositionStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.markFailed("save_lifecycle", err)
	}
	return nil
}

// DeleteLifecycle removes a closed position's lifecycle
func (r *RedisPositionStateRepository) DeleteLifecycle(ctx context.Context, symbol string) error {
	r.cacheMu.Lock()
	delete(r.cache, symbol)
	r.cacheMu.Unlock()

	if !r.useRedis() {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.positionKey(symbol))
	pipe.SRem(ctx, r.positionListKey(), symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		r.markFailed("delete_lifecycle", err)
	}
	return nil
}

// LoadLifecycles returns every stored lifecycle keyed by symbol
func (r *RedisPositionStateRepository) LoadLifecycles(ctx context.Context) (map[string]position.Lifecycle, error) {
	if !r.useRedis() {
		return r.cached(), nil
	}

	symbols, err := r.client.SMembers(ctx, r.positionListKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.markFailed("load_lifecycles", err)
		return r.cached(), nil
	}

	out := make(map[string]position.Lifecycle, len(symbols))
	for _, symbol := range symbols {
		data, err := r.client.Get(ctx, r.positionKey(symbol)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			r.markFailed("load_lifecycle", err)
			return r.cached(), nil
		}
		var l position.Lifecycle
		if err := json.Unmarshal([]byte(data), &l); err != nil {
			r.logger.Warn().Err(err).Str("symbol", symbol).Msg("Discarding unreadable lifecycle")
			continue
		}
		out[symbol] = l
	}

	r.cacheMu.Lock()
	for sym, l := range out {
		r.cache[sym] = l
	}
	r.cacheMu.Unlock()

	if len(out) > 0 {
		r.logger.Info().Int("positions", len(out)).Msg("Loaded position lifecycles from Redis")
	}
	return out, nil
}

// SyncCacheToRedis pushes the in-memory cache after Redis recovers
func (r *RedisPositionStateRepository) SyncCacheToRedis(ctx context.Context) error {
	if !r.useRedis() {
		return fmt.Errorf("redis not available for sync")
	}
	for _, l := range r.cached() {
		if err := r.SaveLifecycle(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisPositionStateRepository) cached() map[string]position.Lifecycle {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	out := make(map[string]position.Lifecycle, len(r.cache))
	for sym, l := range r.cache {
		out[sym] = l
	}
	return out
}
