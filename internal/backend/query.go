package backend

import (
	"ask4rent/internal/geo"
	"ask4rent/internal/model"
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

// ZoneResult：行政区下的学校与可选行政区边界（原文，未规范化）
type ZoneResult struct {
	Schools  []model.School
	Boundary json.RawMessage
}

// RentalsResult：学校附近房源与可选学区边界
type RentalsResult struct {
	Properties []model.Property
	Boundary   json.RawMessage
}

// CommuteResult：等时圈内房源与等时圈几何
type CommuteResult struct {
	Properties []model.Property
	Isochrone  json.RawMessage
}

// Query：自然语言房源查询
// 约束：响应为房源数组或 {properties:[...]}；null 视为空结果
func (c *Client) Query(ctx context.Context, token, message string) ([]model.Property, error) {
	body, _ := json.Marshal(map[string]string{"session_id": token, "message": message})
	b, err := c.send(ctx, "query", "POST", "/query", nil, bytes.NewReader(body), "")
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(b, "properties", "rentals", "results")
	if err != nil {
		return nil, c.malformed("query", err)
	}
	if !env.found {
		return nil, c.malformed("query", errNoList)
	}
	ps, dropped, err := mapRecords(env.items, toProperty)
	if err != nil {
		return nil, c.malformed("query", err)
	}
	c.logDropped("query", dropped)
	return ps, nil
}

// TerritorialAuthorities：行政区列表；成功结果短期缓存
func (c *Client) TerritorialAuthorities(ctx context.Context, token string) ([]model.TerritorialAuthority, error) {
	if v, ok := c.taCache.Get("all"); ok {
		return v, nil
	}
	q := url.Values{}
	q.Set("session_id", token)
	b, err := c.get(ctx, "territorial_authorities", "/territorial_authorities", q, "")
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(b, "territorial_authorities", "tas", "results")
	if err != nil {
		return nil, c.malformed("territorial_authorities", err)
	}
	if !env.found {
		return nil, c.malformed("territorial_authorities", errNoList)
	}
	tas, dropped, err := mapRecords(env.items, toTA)
	if err != nil {
		return nil, c.malformed("territorial_authorities", err)
	}
	c.logDropped("territorial_authorities", dropped)
	if len(tas) > 0 {
		c.taCache.Add("all", tas)
	}
	return tas, nil
}

// SchoolsByTA：行政区内学校，附带可选边界
func (c *Client) SchoolsByTA(ctx context.Context, token, taName string) (ZoneResult, error) {
	q := url.Values{}
	q.Set("session_id", token)
	q.Set("ta_name", taName)
	b, err := c.get(ctx, "schools_by_ta", "/schools_by_ta", q, "")
	if err != nil {
		return ZoneResult{}, err
	}
	env, err := decodeEnvelope(b, "schools")
	if err != nil {
		return ZoneResult{}, c.malformed("schools_by_ta", err)
	}
	if !env.found {
		return ZoneResult{}, c.malformed("schools_by_ta", errNoList)
	}
	schools, dropped, err := mapRecords(env.items, toSchool)
	if err != nil {
		return ZoneResult{}, c.malformed("schools_by_ta", err)
	}
	c.logDropped("schools_by_ta", dropped)
	return ZoneResult{Schools: schools, Boundary: env.boundary()}, nil
}

// RentalsBySchool：学校附近房源，附带可选学区边界
func (c *Client) RentalsBySchool(ctx context.Context, token, schoolName string) (RentalsResult, error) {
	q := url.Values{}
	q.Set("session_id", token)
	q.Set("school_name", schoolName)
	b, err := c.get(ctx, "rentals_by_school", "/rentals_by_school", q, "")
	if err != nil {
		return RentalsResult{}, err
	}
	env, err := decodeEnvelope(b, "rentals", "properties")
	if err != nil {
		return RentalsResult{}, c.malformed("rentals_by_school", err)
	}
	if !env.found {
		return RentalsResult{}, c.malformed("rentals_by_school", errNoList)
	}
	ps, dropped, err := mapRecords(env.items, toProperty)
	if err != nil {
		return RentalsResult{}, c.malformed("rentals_by_school", err)
	}
	c.logDropped("rentals_by_school", dropped)
	return RentalsResult{Properties: ps, Boundary: env.boundary()}, nil
}

// Isochrone：驾车等时圈内房源；按 geohash(7)+分钟数短期缓存
// 约束：后端参数顺序为 lon, lat
func (c *Client) Isochrone(ctx context.Context, token string, origin geo.Point, minutes int) (CommuteResult, error) {
	key := geo.Geohash(origin, 7) + ":" + strconv.Itoa(minutes)
	if c.isoCache != nil {
		if v, ok := c.isoCache.Get(key); ok {
			return v, nil
		}
	}
	q := url.Values{}
	q.Set("session_id", token)
	q.Set("lon", strconv.FormatFloat(origin.Lng, 'f', 6, 64))
	q.Set("lat", strconv.FormatFloat(origin.Lat, 'f', 6, 64))
	q.Set("minutes", strconv.Itoa(minutes))
	b, err := c.get(ctx, "isochrone", "/isochrone", q, "")
	if err != nil {
		return CommuteResult{}, err
	}
	env, err := decodeEnvelope(b, "rentals", "properties")
	if err != nil {
		return CommuteResult{}, c.malformed("isochrone", err)
	}
	if !env.found {
		return CommuteResult{}, c.malformed("isochrone", errNoList)
	}
	ps, dropped, err := mapRecords(env.items, toProperty)
	if err != nil {
		return CommuteResult{}, c.malformed("isochrone", err)
	}
	c.logDropped("isochrone", dropped)
	res := CommuteResult{Properties: ps, Isochrone: env.boundary()}
	if c.isoCache != nil {
		c.isoCache.Add(key, res)
	}
	return res, nil
}

func (c *Client) logDropped(endpoint string, n int) {
	if n > 0 {
		c.log.Warn("backend_records_dropped", "endpoint", endpoint, "count", n)
	}
}
