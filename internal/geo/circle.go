package geo

import "math"

const earthRadiusKm = 6371.0

// 文档注释：固定半径近似圆
// 背景：区域边界缺失时的降级显示，围绕中心点生成闭合环；不是错误路径。
// 约束：segments 小于 8 时取 64；返回的环首尾相同且经 orient 统一为逆时针。
func Circle(center Point, radiusKm float64, segments int) ZoneGeometry {
	if segments < 8 {
		segments = 64
	}
	ring := make([]Point, 0, segments+1)
	for i := 0; i < segments; i++ {
		bearing := 2 * math.Pi * float64(i) / float64(segments)
		ring = append(ring, Destination(center, radiusKm, bearing))
	}
	ring = append(ring, ring[0])
	return ZoneGeometry{Polygons: []Polygon{{Rings: [][]Point{orient(ring, true)}}}}
}

// Destination：从 p 沿方位角 bearing（弧度，正北顺时针）前进 distKm 后的位置
func Destination(p Point, distKm, bearing float64) Point {
	d := distKm / earthRadiusKm
	lat1 := p.Lat * math.Pi / 180
	lng1 := p.Lng * math.Pi / 180
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(bearing))
	lng2 := lng1 + math.Atan2(math.Sin(bearing)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return Point{Lat: lat2 * 180 / math.Pi, Lng: lng2 * 180 / math.Pi}
}

// Haversine：球面距离（千米）
func Haversine(a, b Point) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
