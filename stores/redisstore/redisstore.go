// Package redisstore is an scs session store backed by go-redis. Sessions
// survive restarts and are shared by every instance pointing at the same
// Redis, and expiry is left to Redis key TTLs.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/redis/go-redis/v9"

	oa "github.com/panyam/secretly"
)

const defaultPrefix = "scs:session:"

// RedisStore implements scs.Store and scs.CtxStore
type RedisStore struct {
	client *redis.Client
	prefix string
}

// New returns a store using the default "scs:session:" key prefix
func New(client *redis.Client) *RedisStore {
	return NewWithPrefix(client, defaultPrefix)
}

func NewWithPrefix(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

func (s *RedisStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, oa.Unavailable("find session", err)
	}
	return b, true, nil
}

func (s *RedisStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		return s.DeleteCtx(ctx, token)
	}
	if err := s.client.Set(ctx, s.key(token), b, ttl).Err(); err != nil {
		return oa.Unavailable("commit session", err)
	}
	return nil
}

// DeleteCtx is idempotent: deleting a missing token is not an error
func (s *RedisStore) DeleteCtx(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return oa.Unavailable("delete session", err)
	}
	return nil
}

func (s *RedisStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *RedisStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *RedisStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

var (
	_ scs.Store    = (*RedisStore)(nil)
	_ scs.CtxStore = (*RedisStore)(nil)
)
