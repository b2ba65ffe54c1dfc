// 包 region：按设备 IP 推断地图默认区域（GeoLite2/GeoIP2 City 库）
package region

import (
	"ask4rent/internal/geo"
	"ask4rent/internal/logger"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

var (
	ErrInvalidIP  = errors.New("region: invalid ip")
	ErrNoLocation = errors.New("region: no location for ip")
)

// Resolver：City 库只读句柄；并发安全
type Resolver struct {
	r *geoip2.Reader
}

func Open(path string) (*Resolver, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip db: %w", err)
	}
	return &Resolver{r: r}, nil
}

func (s *Resolver) Close() error { return s.r.Close() }

// Lookup：返回 IP 所在城市坐标
// 约束：数据库中坐标缺失（经纬度均为 0）视为无结果
func (s *Resolver) Lookup(ip string) (geo.Point, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return geo.Point{}, ErrInvalidIP
	}
	rec, err := s.r.City(parsed)
	if err != nil {
		return geo.Point{}, err
	}
	p := geo.Point{Lat: rec.Location.Latitude, Lng: rec.Location.Longitude}
	if (p.Lat == 0 && p.Lng == 0) || !p.Valid() {
		return geo.Point{}, ErrNoLocation
	}
	return p, nil
}

// FromGeoIP：以设备 IP 所在城市作为默认视口中心，缩放沿用 fallback
// 约束：未配置数据库路径时直接返回 fallback；任何失败都返回 fallback 与错误，由调用方决定是否记录
func FromGeoIP(path, ip string, fallback geo.ViewState) (geo.ViewState, error) {
	if strings.TrimSpace(path) == "" {
		return fallback, nil
	}
	if net.ParseIP(strings.TrimSpace(ip)) == nil {
		return fallback, ErrInvalidIP
	}
	s, err := Open(path)
	if err != nil {
		return fallback, err
	}
	defer s.Close()
	p, err := s.Lookup(ip)
	if err != nil {
		return fallback, err
	}
	logger.L().Debug("region_from_geoip", "lat", p.Lat, "lng", p.Lng)
	return geo.ViewState{Center: p, Zoom: fallback.Zoom}, nil
}
