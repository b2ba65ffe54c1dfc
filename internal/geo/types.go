// 包 geo：地图取景与区域几何的纯函数集合（无副作用、不返回 panic）
package geo

import "math"

// Point：WGS84 坐标，内部统一为 (lat, lng) 顺序
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid：坐标有限且在经纬度范围内
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// ViewState：地图视口（中心 + 离散缩放级别）
// 约束：只由 Calculator 或用户显式重新定位产生
type ViewState struct {
	Center Point `json:"center"`
	Zoom   int   `json:"zoom"`
}

// BBox：包围盒
type BBox struct {
	MinLat, MinLng, MaxLat, MaxLng float64
}

// Contains：点是否落在包围盒内（含边界）
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Center：包围盒中点
func (b BBox) Center() Point {
	return Point{Lat: (b.MinLat + b.MaxLat) / 2, Lng: (b.MinLng + b.MaxLng) / 2}
}

// BoundsOf：计算点集包围盒；非有限坐标被跳过，无有效点时 ok=false
func BoundsOf(points []Point) (b BBox, ok bool) {
	b = BBox{MinLat: 90, MinLng: 180, MaxLat: -90, MaxLng: -180}
	for _, p := range points {
		if !p.Valid() {
			continue
		}
		ok = true
		if p.Lat < b.MinLat {
			b.MinLat = p.Lat
		}
		if p.Lat > b.MaxLat {
			b.MaxLat = p.Lat
		}
		if p.Lng < b.MinLng {
			b.MinLng = p.Lng
		}
		if p.Lng > b.MaxLng {
			b.MaxLng = p.Lng
		}
	}
	return b, ok
}

// Polygon：环集合，第一环为外环（逆时针），其后为洞（顺时针）
type Polygon struct {
	Rings [][]Point `json:"rings"`
}

// ZoneGeometry：规范化后的区域几何（多面集合）
// 约束：只由 Normalize / Circle 构造
type ZoneGeometry struct {
	Polygons []Polygon `json:"polygons"`
}

// Points：展开所有外环顶点，用于取景
func (z *ZoneGeometry) Points() []Point {
	if z == nil {
		return nil
	}
	var out []Point
	for _, p := range z.Polygons {
		if len(p.Rings) > 0 {
			out = append(out, p.Rings[0]...)
		}
	}
	return out
}

// Empty：无任何多面
func (z *ZoneGeometry) Empty() bool { return z == nil || len(z.Polygons) == 0 }

// Contains：点是否落在任一多面内（射线法，洞内不算）
// 约束：边界上的点结果不稳定，调用方不应依赖
func (z *ZoneGeometry) Contains(p Point) bool {
	if z == nil {
		return false
	}
	for _, poly := range z.Polygons {
		if len(poly.Rings) == 0 || !inRing(p, poly.Rings[0]) {
			continue
		}
		hole := false
		for _, r := range poly.Rings[1:] {
			if inRing(p, r) {
				hole = true
				break
			}
		}
		if !hole {
			return true
		}
	}
	return false
}

func inRing(p Point, ring []Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) &&
			p.Lng < (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat)+a.Lng {
			inside = !inside
		}
	}
	return inside
}
