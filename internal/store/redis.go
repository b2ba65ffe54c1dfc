package store

import (
	"ask4rent/internal/logger"
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis：以 Redis 为后端的键值存储
// 约束：键统一加前缀（默认 "ask4rent:"）；TTL>0 时写入带过期，作为会话 TTL 之外的兜底清理
type Redis struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(rc *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "ask4rent:"
	}
	return &Redis{rc: rc, prefix: prefix, ttl: ttl}
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rc.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.L().Error("kv_redis_get_error", "key", key, "err", err)
		return nil, err
	}
	return b, nil
}

func (s *Redis) Set(ctx context.Context, key string, val []byte) error {
	return s.rc.Set(ctx, s.prefix+key, val, s.ttl).Err()
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	return s.rc.Del(ctx, s.prefix+key).Err()
}

// Ping：连通性检查
func (s *Redis) Ping(ctx context.Context) error { return s.rc.Ping(ctx).Err() }
