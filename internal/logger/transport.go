package logger

import (
	"log/slog"
	"net/http"
	"time"
)

// Transport：出站请求访问日志（客户端侧），记录方法、路径、状态、耗时与响应长度
// 约束：不读取请求/响应体；查询串不写入日志，避免会话令牌落盘
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// WrapTransport：为 base 包装访问日志；base 为空时使用 http.DefaultTransport
func WrapTransport(base http.RoundTripper, l *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if l == nil {
		l = L()
	}
	return &Transport{Base: base, Logger: l}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(r)
	dur := time.Since(start)
	if err != nil {
		t.Logger.Debug("http_client_error",
			"method", r.Method,
			"host", r.URL.Host,
			"path", r.URL.Path,
			"duration_ms", dur.Milliseconds(),
			"err", err,
		)
		return nil, err
	}
	attrs := []any{
		"method", r.Method,
		"host", r.URL.Host,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", dur.Milliseconds(),
		"request_id", r.Header.Get("X-Request-ID"),
	}
	// 分块响应长度未知（-1），不记录
	if resp.ContentLength >= 0 {
		attrs = append(attrs, "bytes", resp.ContentLength)
	}
	t.Logger.Debug("http_client_access", attrs...)
	return resp, nil
}
