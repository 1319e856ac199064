package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docchat/internal/logging"
	"docchat/internal/models"
	"docchat/internal/redis"
)

const (
	redisKeyPrefix     = "docchat:session:"
	redisDeleteChannel = "docchat:session:deleted"
)

// RedisStore shares sessions between server instances. Every Save refreshes the TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

func (r *RedisStore) Create(ctx context.Context) (*models.SessionState, error) {
	state := newState(time.Now())
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	ok, err := r.client.SetNX(ctx, redisKey(state.ID), data, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("create session: id %s already taken", state.ID)
	}
	return state, nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (*models.SessionState, error) {
	raw, err := r.client.Get(ctx, redisKey(id))
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var state models.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &state, nil
}

func (r *RedisStore) Save(ctx context.Context, state *models.SessionState) error {
	if state == nil || state.ID == "" {
		return errors.New("session id required")
	}
	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(state.ID), data, r.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete removes the session and tells other instances to drop their runners for it.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisKey(id)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := r.client.Publish(ctx, redisDeleteChannel, []byte(id)); err != nil {
		logging.Warn().Err(err).Str("session_id", id).Msg("publish session delete failed")
	}
	return nil
}

// OnDelete calls fn with the id of every session deleted by any instance.
func (r *RedisStore) OnDelete(ctx context.Context, fn func(id string)) error {
	return r.client.Subscribe(ctx, redisDeleteChannel, func(payload []byte) {
		fn(string(payload))
	})
}
