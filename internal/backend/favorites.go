package backend

import (
	"ask4rent/internal/model"
	"ask4rent/internal/session"
	"bytes"
	"context"
	"encoding/json"
	"net/url"
)

// 收藏服务：作用域为会话令牌；登录用户的 Bearer 凭证存在时优先生效

func scopeQuery(sc session.Scope) url.Values {
	q := url.Values{}
	if sc.Bearer == "" && sc.Token != "" {
		q.Set("session_id", sc.Token)
	}
	return q
}

// ListFavorites 列出收藏
func (c *Client) ListFavorites(ctx context.Context, sc session.Scope) ([]model.Favorite, error) {
	b, err := c.get(ctx, "favorites_list", "/favorites", scopeQuery(sc), sc.Bearer)
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(b, "favorites", "items")
	if err != nil || !env.found {
		return nil, c.malformed("favorites_list", err)
	}
	// 部分实现直接返回 id 字符串数组
	for i, it := range env.items {
		if s := str(it); s != "" {
			env.items[i] = map[string]any{"listing_id": s}
		}
	}
	favs, dropped, err := mapRecords(env.items, toFavorite)
	if err != nil {
		return nil, c.malformed("favorites_list", err)
	}
	c.logDropped("favorites_list", dropped)
	return favs, nil
}

// AddFavorite 添加收藏
func (c *Client) AddFavorite(ctx context.Context, sc session.Scope, listingID string) error {
	payload := map[string]string{"listing_id": listingID}
	if sc.Bearer == "" {
		payload["session_id"] = sc.Token
	}
	body, _ := json.Marshal(payload)
	_, err := c.send(ctx, "favorites_add", "POST", "/favorites", nil, bytes.NewReader(body), sc.Bearer)
	return err
}

// RemoveFavorite 删除收藏
func (c *Client) RemoveFavorite(ctx context.Context, sc session.Scope, listingID string) error {
	q := scopeQuery(sc)
	q.Set("listing_id", listingID)
	_, err := c.send(ctx, "favorites_remove", "DELETE", "/favorites", q, nil, sc.Bearer)
	return err
}
