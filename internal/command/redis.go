package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisChannel keeps the pending command under one Redis key. Without a
// client it holds the command in memory, which serves tests and an API
// running in the same process as the agent.
type RedisChannel struct {
	client *redis.Client
	key    string

	mu      sync.Mutex
	pending *Command
}

// NewRedisChannel creates a channel on prefix + ":commands"; client may be nil
func NewRedisChannel(client *redis.Client, prefix string) *RedisChannel {
	if prefix == "" {
		prefix = "agent"
	}
	return &RedisChannel{client: client, key: prefix + ":commands"}
}

// Key is the Redis key commands are written to
func (r *RedisChannel) Key() string {
	return r.key
}

func (r *RedisChannel) Pending(ctx context.Context) (Command, bool, error) {
	if r.client == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.pending == nil {
			return Command{}, false, nil
		}
		return *r.pending, true, nil
	}

	raw, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return Command{}, false, nil
	}
	if err != nil {
		return Command{}, false, fmt.Errorf("read %s: %w", r.key, err)
	}
	var cmd Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return Command{}, false, fmt.Errorf("parse %s: %w", r.key, err)
	}
	if !cmd.Valid() {
		return Command{}, false, nil
	}
	return cmd, true, nil
}

func (r *RedisChannel) Ack(ctx context.Context, cmd Command) error {
	if r.client == nil {
		r.mu.Lock()
		r.pending = nil
		r.mu.Unlock()
		return nil
	}
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisChannel) Submit(ctx context.Context, cmd Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	if r.client == nil {
		r.mu.Lock()
		r.pending = &cmd
		r.mu.Unlock()
		return nil
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, data, 0).Err()
}
