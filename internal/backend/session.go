package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// CreateSession：申请匿名会话令牌；响应体为纯文本（可能带引号）
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	b, err := c.get(ctx, "session_create", "/onStartUpSession", nil, "")
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(strings.ReplaceAll(string(b), `"`, ""))
	if tok == "" {
		return "", c.malformed("session_create", fmt.Errorf("empty token"))
	}
	return tok, nil
}

// RenewSession：续期令牌；服务端不签发新令牌，2xx 即成功
func (c *Client) RenewSession(ctx context.Context, token string) error {
	q := url.Values{}
	q.Set("session_id", token)
	_, err := c.get(ctx, "session_renew", "/onReflashSession", q, "")
	return err
}
