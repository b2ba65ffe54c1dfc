// 包 config：聚合客户端核心的配置项；环境变量为主，可选 YAML 文件覆盖
package config

import (
	"ask4rent/internal/geo"
	"ask4rent/internal/logger"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 聚合全部配置
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Places  PlacesConfig  `yaml:"places"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Map     MapConfig     `yaml:"map"`
	GeoIP   GeoIPConfig   `yaml:"geoip"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// BackendConfig 描述会话与查询服务
type BackendConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

func (c BackendConfig) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }

// PlacesConfig 描述外部地名检索（Nominatim 兼容）
type PlacesConfig struct {
	BaseURL      string `yaml:"base_url"`
	Limit        int    `yaml:"limit"`
	CountryCodes string `yaml:"country_codes"`
	UserAgent    string `yaml:"user_agent"`
	CacheSize    int    `yaml:"cache_size"`
	CacheTTLSec  int    `yaml:"cache_ttl_s"`
	RatePerSec   int    `yaml:"rate_per_sec"`
}

// SessionConfig 描述会话时序
type SessionConfig struct {
	TTLSec          int `yaml:"ttl_s"`
	RenewDebounceMs int `yaml:"renew_debounce_ms"`
	SweepSec        int `yaml:"sweep_s"`

	// ClearOnExit：进程退出时删除持久化会话记录
	ClearOnExit bool `yaml:"clear_on_exit"`
}

func (c SessionConfig) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }
func (c SessionConfig) RenewDebounce() time.Duration {
	return time.Duration(c.RenewDebounceMs) * time.Millisecond
}
func (c SessionConfig) SweepInterval() time.Duration { return time.Duration(c.SweepSec) * time.Second }

// StoreConfig 选择持久化后端：memory | sqlite | redis | postgres
type StoreConfig struct {
	Backend string `yaml:"backend"`
}

// MapConfig 描述默认区域与各模式缩放级别
type MapConfig struct {
	DefaultLat       float64 `yaml:"default_lat"`
	DefaultLng       float64 `yaml:"default_lng"`
	DefaultZoom      int     `yaml:"default_zoom"`
	FallbackRadiusKm float64 `yaml:"fallback_radius_km"`
}

// DefaultView 返回配置的兜底视口
func (c MapConfig) DefaultView() geo.ViewState {
	return geo.ViewState{Center: geo.Point{Lat: c.DefaultLat, Lng: c.DefaultLng}, Zoom: c.DefaultZoom}
}

// GeoIPConfig：可选 GeoLite2-City 数据库，用于按设备 IP 推断默认区域
type GeoIPConfig struct {
	DBPath   string `yaml:"db_path"`
	DeviceIP string `yaml:"device_ip"`
}

// MetricsConfig：探针进程暴露 /metrics 的地址，空则不暴露
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Defaults 返回内置默认值
func Defaults() Config {
	return Config{
		Backend: BackendConfig{BaseURL: "http://localhost:8000", TimeoutMs: 8000},
		Places: PlacesConfig{
			BaseURL:      "https://nominatim.openstreetmap.org",
			Limit:        8,
			CountryCodes: "nz",
			UserAgent:    "ask4rent-client/1.0",
			CacheSize:    256,
			CacheTTLSec:  600,
			RatePerSec:   1,
		},
		Session: SessionConfig{TTLSec: 300, RenewDebounceMs: 1000, SweepSec: 60},
		Store:   StoreConfig{Backend: "memory"},
		Map: MapConfig{
			DefaultLat:       geo.DefaultRegion.Center.Lat,
			DefaultLng:       geo.DefaultRegion.Center.Lng,
			DefaultZoom:      geo.DefaultRegion.Zoom,
			FallbackRadiusKm: 3,
		},
	}
}

// Load 从默认值出发，依次叠加 ASK4RENT_CONFIG 指向的 YAML 文件与环境变量
func Load() (*Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("ASK4RENT_CONFIG")); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile 把 YAML 文件覆盖到 cfg 上；未出现的字段保持原值
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Backend.BaseURL, "ASK4RENT_API_BASE")
	setInt(&cfg.Backend.TimeoutMs, "API_TIMEOUT_MS")
	setString(&cfg.Places.BaseURL, "PLACES_BASE_URL")
	setInt(&cfg.Places.Limit, "PLACES_LIMIT")
	setString(&cfg.Places.CountryCodes, "PLACES_COUNTRY_CODES")
	setString(&cfg.Places.UserAgent, "PLACES_USER_AGENT")
	setInt(&cfg.Places.CacheTTLSec, "PLACES_CACHE_TTL_S")
	setInt(&cfg.Places.RatePerSec, "PLACES_RATE_PER_SEC")
	setInt(&cfg.Session.TTLSec, "SESSION_TTL_S")
	setInt(&cfg.Session.RenewDebounceMs, "SESSION_RENEW_DEBOUNCE_MS")
	setInt(&cfg.Session.SweepSec, "SESSION_SWEEP_S")
	setBool(&cfg.Session.ClearOnExit, "SESSION_CLEAR_ON_EXIT")
	setString(&cfg.Store.Backend, "STORE_BACKEND")
	setFloat(&cfg.Map.DefaultLat, "MAP_DEFAULT_LAT")
	setFloat(&cfg.Map.DefaultLng, "MAP_DEFAULT_LNG")
	setInt(&cfg.Map.DefaultZoom, "MAP_DEFAULT_ZOOM")
	setFloat(&cfg.Map.FallbackRadiusKm, "MAP_FALLBACK_RADIUS_KM")
	setString(&cfg.GeoIP.DBPath, "GEOIP_DB_PATH")
	setString(&cfg.GeoIP.DeviceIP, "GEOIP_DEVICE_IP")
	setString(&cfg.Metrics.Addr, "METRICS_ADDR")
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base url is required")
	}
	if c.Session.TTLSec <= 0 || c.Session.RenewDebounceMs <= 0 || c.Session.SweepSec <= 0 {
		return fmt.Errorf("session timings must be positive: %+v", c.Session)
	}
	if c.Map.DefaultZoom < 1 || c.Map.DefaultZoom > 20 {
		return fmt.Errorf("invalid MAP_DEFAULT_ZOOM: %d", c.Map.DefaultZoom)
	}
	return nil
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

// setInt：解析失败时保留原值并告警
func setInt(dst *int, env string) {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.L().Warn("config_env_ignored", "env", env, "value", v, "err", err)
		return
	}
	*dst = n
}

func setFloat(dst *float64, env string) {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.L().Warn("config_env_ignored", "env", env, "value", v, "err", err)
		return
	}
	*dst = f
}

func setBool(dst *bool, env string) {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.L().Warn("config_env_ignored", "env", env, "value", v, "err", err)
		return
	}
	*dst = b
}
