package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var _ Storage = (*Redis)(nil)

// Redis keeps values as JSON strings under "leadwire:<origin>:<key>".
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis creates a Redis-backed storage scoped to origin.
func NewRedis(rdb redis.UniversalClient, origin string) *Redis {
	return &Redis{
		rdb:    rdb,
		prefix: fmt.Sprintf("leadwire:%s:", origin),
	}
}

func (s *Redis) Conn() redis.UniversalClient {
	return s.rdb
}

func (s *Redis) Get(ctx context.Context, key string, out any) error {
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return json.Unmarshal(raw, out)
}

func (s *Redis) Set(ctx context.Context, key string, val any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.rdb.Set(ctx, s.prefix+key, raw, 0).Err()
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

func (s *Redis) Close() error {
	return s.rdb.Close()
}
