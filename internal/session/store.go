package session

import (
	"ask4rent/internal/model"
	"ask4rent/internal/store"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	SessionKey = "ask4rent_session"
	UserKey    = "ask4rent_user"
)

// Store：会话记录与登录用户记录的唯一读写入口
// 约束：其他组件不直接访问这两个键；并发调用由 Manager 串行化
type Store struct {
	kv  store.KV
	clk clock.Clock
	ttl time.Duration
}

func NewStore(kv store.KV, clk clock.Clock, ttl time.Duration) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{kv: kv, clk: clk, ttl: ttl}
}

// Create：以新令牌写入会话记录
func (s *Store) Create(ctx context.Context, token string) (Session, error) {
	now := s.clk.Now()
	sess := Session{Token: token, CreatedAt: now, LastActivityAt: now}
	return sess, s.Save(ctx, sess)
}

// Save：整体覆盖会话记录
func (s *Store) Save(ctx context.Context, sess Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, SessionKey, b)
}

// Read：读取仍在 TTL 内的会话
// 约束：过期或无法解析的记录会被删除并返回 ErrNoSession；存储本身的错误原样返回
func (s *Store) Read(ctx context.Context) (Session, error) {
	b, err := s.kv.Get(ctx, SessionKey)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil || !sess.ValidAt(s.clk.Now(), s.ttl) {
		_ = s.kv.Delete(ctx, SessionKey)
		return Session{}, ErrNoSession
	}
	return sess, nil
}

// Touch：把仍有效会话的 LastActivityAt 滑到当前时间
func (s *Store) Touch(ctx context.Context) (Session, error) {
	sess, err := s.Read(ctx)
	if err != nil {
		return Session{}, err
	}
	sess.LastActivityAt = s.clk.Now()
	return sess, s.Save(ctx, sess)
}

// Clear：删除会话记录
func (s *Store) Clear(ctx context.Context) error { return s.kv.Delete(ctx, SessionKey) }

// LoadUser：读取登录用户记录；不存在时 ok=false
func (s *Store) LoadUser(ctx context.Context) (u model.User, ok bool, err error) {
	b, err := s.kv.Get(ctx, UserKey)
	if errors.Is(err, store.ErrNotFound) {
		return u, false, nil
	}
	if err != nil {
		return u, false, err
	}
	if err := json.Unmarshal(b, &u); err != nil {
		_ = s.kv.Delete(ctx, UserKey)
		return model.User{}, false, nil
	}
	return u, u.AccessToken != "", nil
}

func (s *Store) SaveUser(ctx context.Context, u model.User) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, UserKey, b)
}

func (s *Store) ClearUser(ctx context.Context) error { return s.kv.Delete(ctx, UserKey) }
