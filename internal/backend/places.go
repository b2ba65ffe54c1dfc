package backend

import (
	"ask4rent/internal/logger"
	"ask4rent/internal/metrics"
	"ask4rent/internal/model"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// MinPlaceQuery：少于该字符数的检索词不发请求
const MinPlaceQuery = 2

// PlacesOptions：外部地名检索（Nominatim 兼容接口）参数
type PlacesOptions struct {
	BaseURL      string
	Limit        int
	CountryCodes string
	UserAgent    string
	CacheSize    int
	CacheTTL     time.Duration
	RatePerSec   int // 每秒请求上限，默认 1；负值关闭限流
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Places：通勤起点的地名检索；结果按规范化检索词缓存
type Places struct {
	c            *Client
	limit        int
	countryCodes string
	cache        *expirable.LRU[string, []model.Place]
	limiter      *rate.Limiter
}

func NewPlaces(opts PlacesOptions) *Places {
	if opts.Logger == nil {
		opts.Logger = logger.Component("places")
	}
	if opts.Limit <= 0 {
		opts.Limit = 8
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 1
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout, Transport: logger.WrapTransport(nil, opts.Logger)}
	}
	return &Places{
		c: &Client{
			base: strings.TrimRight(opts.BaseURL, "/"),
			ua:   opts.UserAgent,
			hc:   hc,
			log:  opts.Logger,
		},
		limit:        opts.Limit,
		countryCodes: opts.CountryCodes,
		cache:        expirable.NewLRU[string, []model.Place](opts.CacheSize, nil, opts.CacheTTL),
		limiter:      newPlacesLimiter(opts.RatePerSec),
	}
}

// newPlacesLimiter：出站限速；perSec 不大于 0 时返回 nil（不限速）
// 约束：突发为 1，相邻两次请求至少间隔 1/perSec 秒；不足时等待而不是失败
func newPlacesLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// Search：自由文本检索地点
// 约束：规范化后少于 MinPlaceQuery 个字符时直接返回空结果
func (p *Places) Search(ctx context.Context, text string) ([]model.Place, error) {
	nq := normalizeQuery(text)
	if utf8.RuneCountInString(nq) < MinPlaceQuery {
		return nil, nil
	}
	if v, ok := p.cache.Get(nq); ok {
		metrics.PlacesCacheHitsTotal.Inc()
		return v, nil
	}
	metrics.PlacesCacheMissesTotal.Inc()
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	q := url.Values{}
	q.Set("q", strings.TrimSpace(text))
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(p.limit))
	if p.countryCodes != "" {
		q.Set("countrycodes", p.countryCodes)
	}
	b, err := p.c.get(ctx, "places", "/search", q, "")
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(b, "results", "features")
	if err != nil || !env.found {
		return nil, p.c.malformed("places", err)
	}
	places, dropped, err := mapRecords(env.items, toPlace)
	if err != nil {
		return nil, p.c.malformed("places", err)
	}
	p.c.logDropped("places", dropped)
	if len(places) > p.limit {
		places = places[:p.limit]
	}
	p.cache.Add(nq, places)
	return places, nil
}
