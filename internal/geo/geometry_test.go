package geo

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

const squarePolygon = `{"type":"Polygon","coordinates":[[[174.70,-36.80],[174.80,-36.80],[174.80,-36.90],[174.70,-36.90],[174.70,-36.80]]]}`

func TestNormalizeNullAndAbsent(t *testing.T) {
	for _, in := range []string{"", "null", "  ", `""`, `{"type":"FeatureCollection","features":[]}`} {
		g, err := Normalize(json.RawMessage(in))
		if err != nil || g != nil {
			t.Fatalf("%q: got %v, %v", in, g, err)
		}
	}
	if g, err := NormalizeValue(nil); g != nil || err != nil {
		t.Fatalf("nil value: got %v, %v", g, err)
	}
}

func TestNormalizeBarePolygonMatchesCollection(t *testing.T) {
	fc := `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":` + squarePolygon + `}]}`
	a, err := Normalize(json.RawMessage(squarePolygon))
	if err != nil {
		t.Fatalf("bare polygon: %v", err)
	}
	b, err := Normalize(json.RawMessage(fc))
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("outputs differ:\n%+v\n%+v", a, b)
	}
}

func TestNormalizeSwapsCoordinates(t *testing.T) {
	g, err := Normalize(json.RawMessage(squarePolygon))
	if err != nil || g == nil {
		t.Fatalf("normalize: %v %v", g, err)
	}
	for _, p := range g.Polygons[0].Rings[0] {
		if p.Lat > -36 || p.Lng < 174 {
			t.Fatalf("vertex not swapped: %+v", p)
		}
	}
}

func TestNormalizeWinding(t *testing.T) {
	// 外环顺时针 + 洞逆时针输入，输出应翻转
	in := `{"type":"Polygon","coordinates":[
		[[0,0],[0,10],[10,10],[10,0],[0,0]],
		[[2,2],[4,2],[4,4],[2,4],[2,2]]
	]}`
	g, err := Normalize(json.RawMessage(in))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	rings := g.Polygons[0].Rings
	if signedArea(rings[0]) <= 0 {
		t.Fatalf("outer ring not counter-clockwise")
	}
	if signedArea(rings[1]) >= 0 {
		t.Fatalf("hole not clockwise")
	}
}

func TestNormalizeMultiPolygonAndStringEncoding(t *testing.T) {
	mp := `{"type":"MultiPolygon","coordinates":[
		[[[174.7,-36.8],[174.8,-36.8],[174.8,-36.9],[174.7,-36.8]]],
		[[[175.0,-37.0],[175.1,-37.0],[175.1,-37.1],[175.0,-37.0]]]
	]}`
	g, err := Normalize(json.RawMessage(mp))
	if err != nil || len(g.Polygons) != 2 {
		t.Fatalf("multipolygon: %v %v", g, err)
	}
	enc, _ := json.Marshal(squarePolygon)
	s, err := Normalize(enc)
	if err != nil || s == nil || len(s.Polygons) != 1 {
		t.Fatalf("string encoded: %v %v", s, err)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	bad := []string{
		`{"type":"Polygon","coordinates":"nope"}`,
		`{"type":"Polygon","coordinates":[[["a","b"],[1,2],[3,4]]]}`,
		`{"type":"Circle","radius":3}`,
		`42`,
		`{broken`,
	}
	for _, in := range bad {
		g, err := Normalize(json.RawMessage(in))
		if !errors.Is(err, ErrMalformedGeometry) || g != nil {
			t.Fatalf("%s: expected malformed, got %v %v", in, g, err)
		}
	}
}

func TestNormalizeSkipsNonPolygonFeatures(t *testing.T) {
	in := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[174.7,-36.8]}},
		{"type":"Feature","geometry":null}
	]}`
	g, err := Normalize(json.RawMessage(in))
	if err != nil || g != nil {
		t.Fatalf("expected no zone, got %v %v", g, err)
	}
}

func TestContainsRespectsHoles(t *testing.T) {
	z := &ZoneGeometry{Polygons: []Polygon{{Rings: [][]Point{
		{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 10, Lng: 10}, {Lat: 10, Lng: 0}, {Lat: 0, Lng: 0}},
		{{Lat: 4, Lng: 4}, {Lat: 6, Lng: 4}, {Lat: 6, Lng: 6}, {Lat: 4, Lng: 6}, {Lat: 4, Lng: 4}},
	}}}}
	cases := []struct {
		p    Point
		want bool
	}{
		{Point{Lat: 2, Lng: 2}, true},
		{Point{Lat: 5, Lng: 5}, false},
		{Point{Lat: 11, Lng: 5}, false},
		{Point{Lat: 5, Lng: -1}, false},
	}
	for _, c := range cases {
		if got := z.Contains(c.p); got != c.want {
			t.Errorf("Contains(%v) = %v, want %v", c.p, got, c.want)
		}
	}
	var nilZone *ZoneGeometry
	if nilZone.Contains(Point{}) {
		t.Fatalf("nil zone contains nothing")
	}
}

func TestCircleContainsCenter(t *testing.T) {
	c := Point{Lat: -36.8485, Lng: 174.7633}
	z := Circle(c, 3, 64)
	if !z.Contains(c) {
		t.Fatalf("circle should contain its center")
	}
	if z.Contains(Destination(c, 5, 90)) {
		t.Fatalf("point 5km away should be outside a 3km circle")
	}
}
