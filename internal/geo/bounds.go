package geo

// DefaultRegion：默认区域（奥克兰中心），无结果时的兜底视口
var DefaultRegion = ViewState{Center: Point{Lat: -36.8485, Lng: 174.7633}, Zoom: 12}

// SingleItemZoom：单点结果的最近缩放级别
const SingleItemZoom = 15

// 跨度阈值（取纬度/经度跨度较大者），自上而下匹配
var zoomThresholds = []struct {
	span float64
	zoom int
}{
	{0.5, 10},
	{0.2, 11},
	{0.1, 12},
	{0.05, 13},
	{0.02, 14},
}

// Calculator：视口计算器，Default 为空输入时的兜底视口
type Calculator struct {
	Default ViewState
}

// NewCalculator：def 的 Zoom 为 0 时使用 DefaultRegion
func NewCalculator(def ViewState) *Calculator {
	if def.Zoom == 0 {
		def = DefaultRegion
	}
	return &Calculator{Default: def}
}

// Compute：按点集计算视口
// 约束：中心取包围盒中点而非点集质心；单点（或全部重合）时跨度为 0，即该点与 SingleItemZoom；返回缩放级别恒在 10..15
func (c *Calculator) Compute(points []Point) ViewState {
	b, ok := BoundsOf(points)
	if !ok {
		return c.Default
	}
	span := b.MaxLat - b.MinLat
	if d := b.MaxLng - b.MinLng; d > span {
		span = d
	}
	return ViewState{Center: b.Center(), Zoom: ZoomForSpan(span)}
}

// ZoomForSpan：跨度到缩放级别的映射
func ZoomForSpan(span float64) int {
	for _, t := range zoomThresholds {
		if span > t.span {
			return t.zoom
		}
	}
	return SingleItemZoom
}

// ComputeBounds：使用 DefaultRegion 作为兜底的便捷函数
func ComputeBounds(points []Point) ViewState {
	return (&Calculator{Default: DefaultRegion}).Compute(points)
}
