package database

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisRunStateRepository persists the blacklist and cooldown table so they
// survive restarts. Without Redis it keeps them in memory.
type RedisRunStateRepository struct {
	*redisBacked
	mu        sync.RWMutex
	blacklist map[string]string
	cooldowns map[string]time.Time
}

// NewRedisRunStateRepository creates the repository; client may be nil
func NewRedisRunStateRepository(client *redis.Client, prefix string, logger zerolog.Logger) *RedisRunStateRepository {
	return &RedisRunStateRepository{
		redisBacked: newRedisBacked(client, prefix, "RunStateRepository", logger),
		blacklist:   make(map[string]string),
		cooldowns:   make(map[string]time.Time),
	}
}

func (r *RedisRunStateRepository) blacklistKey() string { return r.prefix + ":blacklist" }
func (r *RedisRunStateRepository) cooldownKey() string  { return r.prefix + ":cooldowns" }

// AddBlacklisted records symbol with the reason it was excluded
func (r *RedisRunStateRepository) AddBlacklisted(ctx context.Context, symbol, reason string) error {
	r.mu.Lock()
	r.blacklist[symbol] = reason
	r.mu.Unlock()

	if r.useRedis() {
		if err := r.client.HSet(ctx, r.blacklistKey(), symbol, reason).Err(); err != nil {
			r.markFailed("add_blacklisted", err)
		}
	}
	return nil
}

// LoadBlacklist returns symbol -> reason
func (r *RedisRunStateRepository) LoadBlacklist(ctx context.Context) (map[string]string, error) {
	if r.useRedis() {
		entries, err := r.client.HGetAll(ctx, r.blacklistKey()).Result()
		if err == nil || errors.Is(err, redis.Nil) {
			r.mu.Lock()
			for sym, reason := range entries {
				r.blacklist[sym] = reason
			}
			r.mu.Unlock()
		} else {
			r.markFailed("load_blacklist", err)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.blacklist))
	for sym, reason := range r.blacklist {
		out[sym] = reason
	}
	return out, nil
}

// SaveCooldown records the last exit time of symbol
func (r *RedisRunStateRepository) SaveCooldown(ctx context.Context, symbol string, at time.Time) error {
	r.mu.Lock()
	r.cooldowns[symbol] = at
	r.mu.Unlock()

	if r.useRedis() {
		if err := r.client.HSet(ctx, r.cooldownKey(), symbol, at.UnixMilli()).Err(); err != nil {
			r.markFailed("save_cooldown", err)
		}
	}
	return nil
}

// LoadCooldowns returns symbol -> last exit time
func (r *RedisRunStateRepository) LoadCooldowns(ctx context.Context) (map[string]time.Time, error) {
	if r.useRedis() {
		entries, err := r.client.HGetAll(ctx, r.cooldownKey()).Result()
		if err == nil || errors.Is(err, redis.Nil) {
			r.mu.Lock()
			for sym, raw := range entries {
				if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
					r.cooldowns[sym] = time.UnixMilli(ms)
				}
			}
			r.mu.Unlock()
		} else {
			r.markFailed("load_cooldowns", err)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]time.Time, len(r.cooldowns))
	for sym, at := range r.cooldowns {
		out[sym] = at
	}
	return out, nil
}
