// 包 store：客户端持久化键值存储（会话记录与登录用户记录的落盘位置）
// 约束：只保存普通序列化记录，不感知会话语义；读写顺序由会话管理器串行化
package store

import (
	"context"
	"errors"
)

// ErrNotFound：键不存在
var ErrNotFound = errors.New("store: key not found")

// KV：最小键值契约
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
}
