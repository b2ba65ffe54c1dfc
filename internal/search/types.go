// 包 search：搜索模式状态机；唯一持有选择链与地图视口的组件
package search

import (
	"ask4rent/internal/geo"
	"ask4rent/internal/model"
)

// Mode：同一时刻仅有一个活动模式
type Mode int

const (
	ModeHome Mode = iota
	ModeProperties
	ModeTerritorialAuthorities
	ModeZones
	ModeCommute
)

func (m Mode) String() string {
	switch m {
	case ModeHome:
		return "home"
	case ModeProperties:
		return "properties"
	case ModeTerritorialAuthorities:
		return "territorial_authorities"
	case ModeZones:
		return "zones"
	case ModeCommute:
		return "commute"
	}
	return "unknown"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// 各模式的固定缩放级别
const (
	ZoomOverview      = 6
	ZoomTA            = 12
	ZoomSchool        = 15
	ZoomSchoolEmpty   = 14
	ZoomCommuteWide   = 10
	ZoomCommuteOrigin = 13
	ZoomProperty      = 16
)

// 通勤时长范围（分钟）
const (
	MinCommuteMinutes     = 5
	MaxCommuteMinutes     = 120
	DefaultCommuteMinutes = 30
)

// DefaultFallbackRadiusKm：行政区无边界数据时的近似圆半径
const DefaultFallbackRadiusKm = 3.0

// ClampMinutes：把通勤时长限制在允许范围内；非正值取默认值
func ClampMinutes(n int) int {
	switch {
	case n <= 0:
		return DefaultCommuteMinutes
	case n < MinCommuteMinutes:
		return MinCommuteMinutes
	case n > MaxCommuteMinutes:
		return MaxCommuteMinutes
	}
	return n
}

// Level：用户消息级别
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	}
	return "unknown"
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Message：面向用户的提示
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

const (
	TextTransport      = "Sorry, I couldn't reach the server. Please try again."
	TextMalformed      = "Sorry, I couldn't process your request."
	TextSessionInit    = "Session is being initialized. Please wait a moment and try again."
	TextNoProperties   = "No properties found"
	TextNoSchools      = "No schools found in this area"
	TextNoTAs          = "No territorial authorities found"
	TextOriginRequired = "Please choose a starting location first"
)

// Filters：房源结果的客户端过滤；零值表示不限
type Filters struct {
	MinRent      float64 `json:"min_rent,omitempty"`
	MaxRent      float64 `json:"max_rent,omitempty"`
	MinBedrooms  int     `json:"min_bedrooms,omitempty"`
	MaxBedrooms  int     `json:"max_bedrooms,omitempty"`
	MinBathrooms int     `json:"min_bathrooms,omitempty"`
	MaxBathrooms int     `json:"max_bathrooms,omitempty"`
}

func (f Filters) Active() bool { return f != Filters{} }

func (f Filters) Match(p model.Property) bool {
	if f.MinRent > 0 && p.RentPerWeek < f.MinRent {
		return false
	}
	if f.MaxRent > 0 && p.RentPerWeek > f.MaxRent {
		return false
	}
	if f.MinBedrooms > 0 && p.Bedrooms < f.MinBedrooms {
		return false
	}
	if f.MaxBedrooms > 0 && p.Bedrooms > f.MaxBedrooms {
		return false
	}
	if f.MinBathrooms > 0 && p.Bathrooms < f.MinBathrooms {
		return false
	}
	if f.MaxBathrooms > 0 && p.Bathrooms > f.MaxBathrooms {
		return false
	}
	return true
}

func (f Filters) apply(ps []model.Property) []model.Property {
	if !f.Active() {
		return append([]model.Property(nil), ps...)
	}
	out := make([]model.Property, 0, len(ps))
	for _, p := range ps {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// Snapshot：渲染层只读视图
// 约束：Properties 为过滤后的结果，TotalProperties 为过滤前数量；几何对象不可修改
type Snapshot struct {
	Version                uint64                       `json:"version"`
	Mode                   Mode                         `json:"mode"`
	Loading                bool                         `json:"loading"`
	Properties             []model.Property             `json:"properties"`
	TotalProperties        int                          `json:"total_properties"`
	TerritorialAuthorities []model.TerritorialAuthority `json:"territorial_authorities,omitempty"`
	Schools                []model.School               `json:"schools,omitempty"`
	Zone                   *geo.ZoneGeometry            `json:"zone,omitempty"`
	ZoneApproximate        bool                         `json:"zone_approximate,omitempty"`
	SelectedTA             *model.TerritorialAuthority  `json:"selected_ta,omitempty"`
	SelectedSchool         *model.School                `json:"selected_school,omitempty"`
	SelectedProperty       *model.Property              `json:"selected_property,omitempty"`
	CommuteOrigin          *geo.Point                   `json:"commute_origin,omitempty"`
	CommuteMinutes         int                          `json:"commute_minutes"`
	Isochrone              *geo.ZoneGeometry            `json:"isochrone,omitempty"`
	View                   geo.ViewState                `json:"view"`
	Filters                Filters                      `json:"filters"`
	Message                *Message                     `json:"message,omitempty"`
	StatusText             string                       `json:"status_text"`
	// InZone：过滤后结果中落在学区或通勤范围内的数量
	InZone                 int                          `json:"in_zone,omitempty"`
}
