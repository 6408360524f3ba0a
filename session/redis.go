package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "geocompliance:clarification:"

// RedisStore keeps pending clarifications in Redis so any replica can resume them
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, p *PendingClarification, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode clarification: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+p.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store clarification: %w", err)
	}
	return nil
}

// Take uses GETDEL so concurrent resumes cannot both consume the entry
func (s *RedisStore) Take(ctx context.Context, id string) (*PendingClarification, error) {
	return s.decode(s.client.GetDel(ctx, keyPrefix+id).Bytes())
}

func (s *RedisStore) Peek(ctx context.Context, id string) (*PendingClarification, error) {
	return s.decode(s.client.Get(ctx, keyPrefix+id).Bytes())
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete clarification: %w", err)
	}
	return nil
}

func (s *RedisStore) decode(data []byte, err error) (*PendingClarification, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load clarification: %w", err)
	}
	var p PendingClarification
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode clarification: %w", err)
	}
	return &p, nil
}
