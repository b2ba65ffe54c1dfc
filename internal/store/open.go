package store

import (
	"ask4rent/internal/logger"
	"ask4rent/internal/utils"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open：按后端名称打开键值存储（memory | sqlite | redis | postgres）
// 约束：redis/postgres 连接参数来自 REDIS_* / PG_* 环境变量；sqlite 文件路径来自 SQLITE_PATH（默认 data/ask4rent.db）；sqlite/postgres 会在打开时建表
func Open(ctx context.Context, backend string, ttl time.Duration) (KV, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "memory":
		return NewMemory(), nopCloser{}, nil
	case "sqlite":
		path := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
		if path == "" {
			path = "data/ask4rent.db"
		}
		s, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		logger.L().Info("kv_open", "backend", "sqlite", "path", path)
		return s, s, nil
	case "redis":
		rc := utils.OpenRedisFromEnv()
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.L().Info("kv_open", "backend", "redis")
		return NewRedis(rc, "", ttl), rc, nil
	case "postgres":
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			return nil, nil, err
		}
		if err := EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("schema: %w", err)
		}
		logger.L().Info("kv_open", "backend", "postgres")
		return AttachDB(db), db, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", backend)
}
