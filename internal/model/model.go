// 包 model：后端结果集在客户端内的规范化结构（由 backend 的入库映射产生）
package model

import (
	"ask4rent/internal/geo"
	"strings"
)

// Property：一次结果集内不可变的房源快照
type Property struct {
	ID           string    `json:"id,omitempty"`
	Address      string    `json:"address"`
	Title        string    `json:"title,omitempty"`
	RentPerWeek  float64   `json:"rent_per_week"`
	Bedrooms     int       `json:"bedrooms"`
	Bathrooms    int       `json:"bathrooms"`
	Parking      int       `json:"parking"`
	PropertyType string    `json:"property_type,omitempty"`
	Location     geo.Point `json:"location"`
}

// Key：界面关联用的身份键，优先 id，其次地址；结果侧与选中侧必须使用同一规则
func (p Property) Key() string {
	if id := strings.TrimSpace(p.ID); id != "" {
		return id
	}
	return strings.TrimSpace(p.Address)
}

// Locations：提取房源坐标（用于取景）
func Locations(ps []Property) []geo.Point {
	out := make([]geo.Point, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Location)
	}
	return out
}

// TerritorialAuthority：地方行政区（学校分组单位）
type TerritorialAuthority struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	SchoolCount int       `json:"school_count"`
	Location    geo.Point `json:"location"`
}

// School 学校
type School struct {
	ID       string    `json:"id,omitempty"`
	Name     string    `json:"name"`
	Location geo.Point `json:"location"`
}

// Place：外部地名检索结果
type Place struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Location    geo.Point `json:"location"`
}

// Favorite：收藏项，仅关心房源 id
type Favorite struct {
	ListingID string `json:"listing_id"`
}

// User：登录用户记录；AccessToken 作为 Bearer 凭证，优先于匿名会话作用域
type User struct {
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
}
