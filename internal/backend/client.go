// 包 backend：会话服务、查询服务、收藏服务的 HTTP 客户端，以及响应入库映射
// 约束：本包只负责传输与字段规范化；是否算错误、向用户展示什么由查询编排层决定
package backend

import (
	"ask4rent/internal/logger"
	"ask4rent/internal/metrics"
	"ask4rent/internal/model"
	"ask4rent/internal/session"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrTransport：网络不可达或非 2xx 响应
	ErrTransport = errors.New("backend: transport failure")
	// ErrSessionInvalid：服务端拒绝会话令牌（401/403/440）
	ErrSessionInvalid = errors.New("backend: session rejected")
	// ErrMalformed：响应体缺少必需字段或结构不符
	ErrMalformed = errors.New("backend: malformed response")
)

const (
	maxBodyBytes     = 8 << 20
	defaultUserAgent = "ask4rent-client/1.0"
)

// StatusError：非 2xx 响应；errors.Is 可归类为 ErrSessionInvalid 或 ErrTransport
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: http status %d", e.Endpoint, e.Code)
}

func (e *StatusError) Unwrap() error {
	if e.SessionRejected() {
		return ErrSessionInvalid
	}
	return ErrTransport
}

// SessionRejected：440 为部分网关使用的 Login Time-out
func (e *StatusError) SessionRejected() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden || e.Code == 440
}

// Options：客户端参数；零值字段使用默认值
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string // 默认 ask4rent-client/1.0
	// ListCacheTTL：行政区列表缓存时长，默认 10 分钟
	ListCacheTTL time.Duration
	// CommuteCacheTTL：等时圈结果缓存时长，默认 2 分钟；负值关闭
	CommuteCacheTTL time.Duration
}

// Client：后端客户端；并发安全
type Client struct {
	base     string
	ua       string
	hc       *http.Client
	log      *slog.Logger
	taCache  *expirable.LRU[string, []model.TerritorialAuthority]
	isoCache *expirable.LRU[string, CommuteResult]
}

func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logger.Component("backend")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout, Transport: logger.WrapTransport(nil, opts.Logger)}
	}
	if opts.ListCacheTTL <= 0 {
		opts.ListCacheTTL = 10 * time.Minute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	c := &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		ua:      opts.UserAgent,
		hc:      hc,
		log:     opts.Logger,
		taCache: expirable.NewLRU[string, []model.TerritorialAuthority](4, nil, opts.ListCacheTTL),
	}
	if opts.CommuteCacheTTL == 0 {
		opts.CommuteCacheTTL = 2 * time.Minute
	}
	if opts.CommuteCacheTTL > 0 {
		c.isoCache = expirable.NewLRU[string, CommuteResult](64, nil, opts.CommuteCacheTTL)
	}
	return c
}

// OnSessionEvent：会话重置或重建后清空按会话取得的缓存，供 session.Manager.Subscribe 注册
func (c *Client) OnSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventReset, session.EventRecreated:
		c.taCache.Purge()
		if c.isoCache != nil {
			c.isoCache.Purge()
		}
		c.log.Debug("backend_cache_purged", "event", ev.Kind.String())
	}
}

func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values, bearer string) ([]byte, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	setBearer(req, bearer)
	return c.do(endpoint, req)
}

func (c *Client) send(ctx context.Context, endpoint, method, path string, q url.Values, body io.Reader, bearer string) ([]byte, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setBearer(req, bearer)
	return c.do(endpoint, req)
}

func setBearer(req *http.Request, bearer string) {
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
}

// do：执行请求并读取响应体；统一计量、日志与错误分类
func (c *Client) do(endpoint string, req *http.Request) ([]byte, error) {
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	t0 := time.Now()
	metrics.BackendRequestsTotal.WithLabelValues(endpoint).Inc()
	c.log.Debug("backend_req", "endpoint", endpoint, "method", req.Method)
	resp, err := c.hc.Do(req)
	if err != nil {
		err = redactURL(err)
		metrics.BackendFailTotal.WithLabelValues(endpoint, "transport").Inc()
		c.log.Warn("backend_http_error", "endpoint", endpoint, "err", err)
		return nil, fmt.Errorf("backend %s: %w: %w", endpoint, ErrTransport, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	dur := time.Since(t0).Milliseconds()
	metrics.BackendDurationMs.WithLabelValues(endpoint).Observe(float64(dur))
	if err != nil {
		metrics.BackendFailTotal.WithLabelValues(endpoint, "transport").Inc()
		c.log.Warn("backend_read_error", "endpoint", endpoint, "err", err)
		return nil, fmt.Errorf("backend %s: %w: %w", endpoint, ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: truncate(string(b), 256)}
		kind := "status"
		if se.SessionRejected() {
			kind = "session"
		}
		metrics.BackendFailTotal.WithLabelValues(endpoint, kind).Inc()
		c.log.Warn("backend_http_status", "endpoint", endpoint, "status", resp.StatusCode, "duration_ms", dur)
		return nil, se
	}
	c.log.Debug("backend_resp", "endpoint", endpoint, "status", resp.StatusCode, "bytes", len(b), "duration_ms", dur)
	return b, nil
}

func (c *Client) malformed(endpoint string, err error) error {
	metrics.BackendFailTotal.WithLabelValues(endpoint, "decode").Inc()
	c.log.Warn("backend_decode_error", "endpoint", endpoint, "err", err)
	if err == nil {
		return fmt.Errorf("backend %s: %w", endpoint, ErrMalformed)
	}
	return fmt.Errorf("backend %s: %w: %w", endpoint, ErrMalformed, err)
}

// redactURL：去掉 *url.Error 中的查询串（含 session_id）
func redactURL(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	cp := *ue
	cp.URL = ""
	if u, perr := url.Parse(ue.URL); perr == nil {
		u.RawQuery = ""
		u.User = nil
		cp.URL = u.String()
	}
	return &cp
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
