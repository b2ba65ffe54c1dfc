package store

import (
	"ask4rent/internal/logger"
	"context"
	"database/sql"
	"errors"
)

// Postgres：以单表承载的键值存储
type Postgres struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

// EnsureSchema：首次运行自动建表
// 约束：使用 IF NOT EXISTS，与既有结构共存
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _client_kv (
            k TEXT PRIMARY KEY,
            v BYTEA NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, "SELECT v FROM _client_kv WHERE k=$1", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Postgres) Set(ctx context.Context, key string, val []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO _client_kv(k, v, updated_at) VALUES($1, $2, now())
        ON CONFLICT (k) DO UPDATE SET v=EXCLUDED.v, updated_at=now()`, key, val)
	return err
}

func (s *Postgres) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM _client_kv WHERE k=$1", key)
	return err
}

func (s *Postgres) Close() error { return s.db.Close() }
