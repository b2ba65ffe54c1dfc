package geo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedGeometry：边界数据存在但形状无法识别或坐标损坏
var ErrMalformedGeometry = errors.New("malformed geometry")

// 文档注释：区域几何规范化入口（原始 JSON）
// 背景：后端历史上返回过 FeatureCollection、单个 Feature、裸 Polygon/MultiPolygon，以及被二次编码为字符串的 GeoJSON；
// 统一在此处转换为 ZoneGeometry，下游不再按来源形状分支。
// 返回：无边界数据（缺失/null/空串/空集合）时返回 (nil, nil)；形状不可识别时返回 ErrMalformedGeometry。
func Normalize(raw json.RawMessage) (*ZoneGeometry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}
	return NormalizeValue(v)
}

// NormalizeValue：对已解码的 JSON 值做规范化，语义同 Normalize
func NormalizeValue(v any) (*ZoneGeometry, error) {
	fc, err := toFeatureCollection(v)
	if err != nil || fc == nil {
		return nil, err
	}
	var out ZoneGeometry
	for _, it := range fc {
		f, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: feature is %T", ErrMalformedGeometry, it)
		}
		g, ok := f["geometry"].(map[string]any)
		if !ok {
			continue
		}
		polys, err := polygonsFromGeometry(g)
		if err != nil {
			return nil, err
		}
		out.Polygons = append(out.Polygons, polys...)
	}
	if len(out.Polygons) == 0 {
		return nil, nil
	}
	return &out, nil
}

// toFeatureCollection：把所有可接受形状统一包装为 feature 列表
// 约束：裸几何与单个 Feature 先包成单要素集合，再走同一条解析路径
func toFeatureCollection(v any) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		var inner any
		if err := json.Unmarshal([]byte(x), &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
		}
		if _, again := inner.(string); again {
			return nil, fmt.Errorf("%w: nested string encoding", ErrMalformedGeometry)
		}
		return toFeatureCollection(inner)
	case []any:
		var out []any
		for _, it := range x {
			fs, err := toFeatureCollection(it)
			if err != nil {
				return nil, err
			}
			out = append(out, fs...)
		}
		return out, nil
	case map[string]any:
		switch strings.ToLower(getStr(x, "type")) {
		case "featurecollection":
			arr, ok := x["features"].([]any)
			if !ok {
				if x["features"] == nil {
					return nil, nil
				}
				return nil, fmt.Errorf("%w: features is %T", ErrMalformedGeometry, x["features"])
			}
			return arr, nil
		case "feature":
			return []any{x}, nil
		case "polygon", "multipolygon":
			return []any{map[string]any{"type": "Feature", "geometry": x}}, nil
		case "":
			if _, ok := x["features"]; ok {
				x["type"] = "FeatureCollection"
				return toFeatureCollection(x)
			}
			if _, ok := x["geometry"]; ok {
				return []any{x}, nil
			}
		}
		return nil, fmt.Errorf("%w: unsupported type %q", ErrMalformedGeometry, getStr(x, "type"))
	}
	return nil, fmt.Errorf("%w: unexpected %T", ErrMalformedGeometry, v)
}

// polygonsFromGeometry：解析 Polygon/MultiPolygon；其他几何类型（点、线）不构成区域，直接跳过
func polygonsFromGeometry(g map[string]any) ([]Polygon, error) {
	switch strings.ToLower(getStr(g, "type")) {
	case "polygon":
		p, err := parsePolygon(g["coordinates"])
		if err != nil || p == nil {
			return nil, err
		}
		return []Polygon{*p}, nil
	case "multipolygon":
		parts, ok := g["coordinates"].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: multipolygon coordinates", ErrMalformedGeometry)
		}
		var out []Polygon
		for _, part := range parts {
			p, err := parsePolygon(part)
			if err != nil {
				return nil, err
			}
			if p != nil {
				out = append(out, *p)
			}
		}
		return out, nil
	}
	return nil, nil
}

// parsePolygon：源坐标为 (lng, lat)，逐顶点交换为 (lat, lng)，并统一环方向
func parsePolygon(coords any) (*Polygon, error) {
	rings, ok := coords.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: polygon coordinates", ErrMalformedGeometry)
	}
	var poly Polygon
	for _, ring := range rings {
		arr, ok := ring.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: ring is %T", ErrMalformedGeometry, ring)
		}
		rr := make([]Point, 0, len(arr))
		for _, p := range arr {
			vv, ok := p.([]any)
			if !ok || len(vv) < 2 {
				return nil, fmt.Errorf("%w: vertex", ErrMalformedGeometry)
			}
			lng, ok1 := toFloat(vv[0])
			lat, ok2 := toFloat(vv[1])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("%w: vertex value", ErrMalformedGeometry)
			}
			rr = append(rr, Point{Lat: lat, Lng: lng})
		}
		if len(rr) < 3 {
			continue
		}
		poly.Rings = append(poly.Rings, orient(rr, len(poly.Rings) == 0))
	}
	if len(poly.Rings) == 0 {
		return nil, nil
	}
	return &poly, nil
}

// signedArea：以 lng 为 x、lat 为 y 的鞋带公式，正值为逆时针
func signedArea(ring []Point) float64 {
	var a float64
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a += ring[j].Lng*ring[i].Lat - ring[i].Lng*ring[j].Lat
	}
	return a / 2
}

// orient：外环逆时针、洞顺时针（RFC 7946 约定）
func orient(ring []Point, outer bool) []Point {
	a := signedArea(ring)
	if (outer && a < 0) || (!outer && a > 0) {
		for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
			ring[i], ring[j] = ring[j], ring[i]
		}
	}
	return ring
}

func getStr(m map[string]any, k string) string {
	if v, ok := m[k].(string); ok {
		return v
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
