// 包 favorites：收藏列表的客户端缓存；随会话重置或登录事件清空并重新加载
package favorites

import (
	"ask4rent/internal/logger"
	"ask4rent/internal/model"
	"ask4rent/internal/session"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// Service：收藏服务（由 backend.Client 实现）
type Service interface {
	ListFavorites(ctx context.Context, sc session.Scope) ([]model.Favorite, error)
	AddFavorite(ctx context.Context, sc session.Scope, listingID string) error
	RemoveFavorite(ctx context.Context, sc session.Scope, listingID string) error
}

// Scoper：请求作用域来源与会话事件（由 session.Manager 实现）
type Scoper interface {
	Scope(ctx context.Context) (session.Scope, error)
	Subscribe(fn func(session.Event)) (unsubscribe func())
}

var ErrEmptyID = errors.New("favorites: empty listing id")

// Cache：收藏缓存
// 约束：增删成功后整体重新加载，不做本地合并；并发加载以最后一次发起的为准
type Cache struct {
	svc   Service
	scope Scoper
	log   *slog.Logger

	mu     sync.RWMutex
	items  []model.Favorite
	ids    map[string]struct{}
	err    error
	loaded bool
	gen    uint64

	closed bool
	wg     sync.WaitGroup
	unsub  func()
}

func New(svc Service, scope Scoper, l *slog.Logger) *Cache {
	if l == nil {
		l = logger.Component("favorites")
	}
	c := &Cache{svc: svc, scope: scope, log: l, ids: map[string]struct{}{}}
	c.unsub = scope.Subscribe(c.onSessionEvent)
	return c
}

func (c *Cache) onSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventReset, session.EventLogin, session.EventRecreated, session.EventCreated:
	default:
		return
	}
	// closed 与 wg.Add 在同一把锁内，Close 之后到达的事件不会再启动加载
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.items, c.ids, c.err, c.loaded = nil, map[string]struct{}{}, nil, false
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Debug("favorites_reload", "reason", ev.Kind.String())
	go func() {
		defer c.wg.Done()
		if err := c.Load(context.Background()); err != nil {
			c.log.Warn("favorites_reload_failed", "err", err)
		}
	}()
}

// Load：从服务端加载收藏列表
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	sc, err := c.scope.Scope(ctx)
	if err == nil {
		var favs []model.Favorite
		favs, err = c.svc.ListFavorites(ctx, sc)
		if err == nil {
			c.mu.Lock()
			if gen == c.gen {
				c.items = favs
				c.ids = make(map[string]struct{}, len(favs))
				for _, f := range favs {
					c.ids[f.ListingID] = struct{}{}
				}
				c.err, c.loaded = nil, true
			}
			c.mu.Unlock()
			return nil
		}
	}
	c.mu.Lock()
	if gen == c.gen {
		c.err = err
	}
	c.mu.Unlock()
	return err
}

// Add：添加收藏后重新加载
func (c *Cache) Add(ctx context.Context, listingID string) error {
	return c.mutate(ctx, listingID, c.svc.AddFavorite)
}

// Remove：删除收藏后重新加载
func (c *Cache) Remove(ctx context.Context, listingID string) error {
	return c.mutate(ctx, listingID, c.svc.RemoveFavorite)
}

func (c *Cache) mutate(ctx context.Context, listingID string, op func(context.Context, session.Scope, string) error) error {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return ErrEmptyID
	}
	sc, err := c.scope.Scope(ctx)
	if err != nil {
		return err
	}
	if err := op(ctx, sc, listingID); err != nil {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		return err
	}
	return c.Load(ctx)
}

// Toggle：切换收藏状态；返回切换后的状态
func (c *Cache) Toggle(ctx context.Context, listingID string) (bool, error) {
	if c.IsFavorited(listingID) {
		if err := c.Remove(ctx, listingID); err != nil {
			return true, err
		}
		return false, nil
	}
	if err := c.Add(ctx, listingID); err != nil {
		return false, err
	}
	return true, nil
}

// IsFavorited：按 listing id 判断
func (c *Cache) IsFavorited(listingID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[strings.TrimSpace(listingID)]
	return ok
}

// List 返回收藏副本
func (c *Cache) List() []model.Favorite {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Favorite(nil), c.items...)
}

// Loaded：最近一次加载是否成功完成
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Err：最近一次失败原因
func (c *Cache) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close：退订会话事件并等待进行中的后台加载
func (c *Cache) Close() {
	c.mu.Lock()
	first := !c.closed
	c.closed = true
	c.mu.Unlock()
	if first && c.unsub != nil {
		c.unsub()
	}
	c.wg.Wait()
}
