package backend

import (
	"ask4rent/internal/geo"
	"ask4rent/internal/model"
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// 入库映射：后端各接口的字段命名并不统一，所有别名只在这里出现一次，下游只见规范结构

var (
	latKeys      = []string{"latitude", "lat", "y"}
	lngKeys      = []string{"longitude", "lng", "lon", "long", "x"}
	boundaryKeys = []string{"boundary", "zone", "zone_boundary", "school_zone", "geometry", "geojson", "isochrone"}
)

var errNoList = errors.New("no list field in response")

func decodeUseNumber(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

// envelope：响应体的两种外形，数组本身或包裹对象
type envelope struct {
	items []any
	obj   map[string]json.RawMessage
	found bool
}

// decodeEnvelope：解析响应体；对象形态时按 listKeys 顺序取第一个存在的列表字段
// 约束：空体与 null 视为空列表；列表字段为 null 视为空列表
func decodeEnvelope(b []byte, listKeys ...string) (envelope, error) {
	var env envelope
	t := bytes.TrimSpace(b)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		env.found = true
		return env, nil
	}
	switch t[0] {
	case '[':
		if err := decodeUseNumber(t, &env.items); err != nil {
			return env, err
		}
		env.found = true
		return env, nil
	case '{':
		if err := json.Unmarshal(t, &env.obj); err != nil {
			return env, err
		}
		for _, k := range listKeys {
			raw, ok := env.obj[k]
			if !ok {
				continue
			}
			env.found = true
			if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
				return env, nil
			}
			if err := decodeUseNumber(raw, &env.items); err != nil {
				return env, err
			}
			return env, nil
		}
		return env, nil
	}
	return env, errNoList
}

// boundary：取第一个非空的边界字段原文，交由 geo.Normalize 处理
func (e envelope) boundary() json.RawMessage {
	for _, k := range boundaryKeys {
		raw, ok := e.obj[k]
		if !ok {
			continue
		}
		t := bytes.TrimSpace(raw)
		if len(t) == 0 || string(t) == "null" || string(t) == `""` {
			continue
		}
		return raw
	}
	return nil
}

// mapRecords：逐项映射，丢弃无法映射的项；非空输入全部丢弃时报告 ErrMalformed
func mapRecords[T any](items []any, fn func(map[string]any) (T, bool)) ([]T, int, error) {
	out := make([]T, 0, len(items))
	dropped := 0
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			dropped++
			continue
		}
		v, ok := fn(m)
		if !ok {
			dropped++
			continue
		}
		out = append(out, v)
	}
	if len(items) > 0 && len(out) == 0 {
		return nil, dropped, ErrMalformed
	}
	return out, dropped, nil
}

func toProperty(m map[string]any) (model.Property, bool) {
	loc, ok := pointOf(m)
	if !ok {
		return model.Property{}, false
	}
	p := model.Property{
		ID:           firstStr(m, "listing_id", "id", "property_id"),
		Address:      firstStr(m, "address", "full_address", "display_address"),
		Title:        firstStr(m, "title", "headline"),
		PropertyType: firstStr(m, "property_type", "type"),
		Location:     loc,
	}
	p.RentPerWeek, _ = firstNum(m, "rent_per_week", "rent", "price", "weekly_rent")
	p.Bedrooms = firstInt(m, "bedrooms", "beds")
	p.Bathrooms = firstInt(m, "bathrooms", "baths")
	p.Parking = firstInt(m, "parking", "car_spaces", "carparks")
	return p, true
}

func toTA(m map[string]any) (model.TerritorialAuthority, bool) {
	name := firstStr(m, "name", "ta_name", "territorial_authority")
	loc, ok := pointOf(m)
	if name == "" || !ok {
		return model.TerritorialAuthority{}, false
	}
	return model.TerritorialAuthority{
		ID:          firstStr(m, "id", "ta_id", "code"),
		Name:        name,
		SchoolCount: firstInt(m, "school_count", "schools", "count"),
		Location:    loc,
	}, true
}

func toSchool(m map[string]any) (model.School, bool) {
	name := firstStr(m, "name", "school_name")
	loc, ok := pointOf(m)
	if name == "" || !ok {
		return model.School{}, false
	}
	return model.School{
		ID:       firstStr(m, "id", "school_id", "school_number"),
		Name:     name,
		Location: loc,
	}, true
}

func toPlace(m map[string]any) (model.Place, bool) {
	loc, ok := pointOf(m)
	if !ok {
		return model.Place{}, false
	}
	display := firstStr(m, "display_name")
	name := firstStr(m, "name")
	if name == "" {
		name, _, _ = strings.Cut(display, ",")
		name = strings.TrimSpace(name)
	}
	if name == "" && display == "" {
		return model.Place{}, false
	}
	return model.Place{
		ID:          firstStr(m, "place_id", "osm_id", "id"),
		Name:        name,
		DisplayName: display,
		Location:    loc,
	}, true
}

func toFavorite(m map[string]any) (model.Favorite, bool) {
	id := firstStr(m, "listing_id", "id", "property_id")
	return model.Favorite{ListingID: id}, id != ""
}

// pointOf：依次尝试平铺的经纬度字段、location 嵌套对象、GeoJSON 风格的 coordinates:[lon,lat] 与 Point 几何
func pointOf(m map[string]any) (geo.Point, bool) {
	lat, okLat := firstNum(m, latKeys...)
	lng, okLng := firstNum(m, lngKeys...)
	if okLat && okLng {
		p := geo.Point{Lat: lat, Lng: lng}
		return p, p.Valid()
	}
	if loc, ok := m["location"].(map[string]any); ok {
		if p, ok := pointOf(loc); ok {
			return p, true
		}
	}
	if p, ok := lonLatPair(m["coordinates"]); ok {
		return p, true
	}
	if g, ok := m["geometry"].(map[string]any); ok && firstStr(g, "type") == "Point" {
		return lonLatPair(g["coordinates"])
	}
	return geo.Point{}, false
}

func lonLatPair(v any) (geo.Point, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 2 {
		return geo.Point{}, false
	}
	lng, ok1 := num(arr[0])
	lat, ok2 := num(arr[1])
	if !ok1 || !ok2 {
		return geo.Point{}, false
	}
	p := geo.Point{Lat: lat, Lng: lng}
	return p, p.Valid()
}

func firstNum(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := num(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func firstInt(m map[string]any, keys ...string) int {
	f, ok := firstNum(m, keys...)
	if !ok {
		return 0
	}
	return int(math.Round(f))
}

func firstStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func num(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(x))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}
