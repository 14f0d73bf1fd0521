package tilegeo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// 文档注释：经纬多边形投影到像素空间
// 背景：输入按 GeoJSON 约定为 [经度, 纬度]，第一环为外环，其余为洞；顶点逐一取整到像素。
func ProjectPolygon(poly orb.Polygon, zoom int) orb.Polygon {
	out := make(orb.Polygon, 0, len(poly))
	for _, ring := range poly {
		pr := make(orb.Ring, 0, len(ring))
		for _, pt := range ring {
			p := LatLongToPixel(LatLong{Lat: pt[1], Lon: pt[0]}, zoom)
			pr = append(pr, orb.Point{float64(p.X), float64(p.Y)})
		}
		out = append(out, pr)
	}
	return out
}

// 文档注释：多边形内部瓦片枚举
// 背景：以像素包围盒枚举候选瓦片，仅保留完整像素框落在多边形内的瓦片；与边界部分重叠的瓦片排除，得到保守的内部集合。
func PolygonTiles(poly orb.Polygon, zoom int) []Tile {
	return PixelPolygonTiles(ProjectPolygon(poly, zoom), zoom)
}

// PolygonQuadkeys：PolygonTiles 的 quadkey 形式
func PolygonQuadkeys(poly orb.Polygon, zoom int) []string {
	tiles := PolygonTiles(poly, zoom)
	out := make([]string, 0, len(tiles))
	for _, t := range tiles {
		out = append(out, TileToQuadkey(t))
	}
	return out
}

// PixelPolygonTiles：输入已在像素空间的多边形
func PixelPolygonTiles(poly orb.Polygon, zoom int) []Tile {
	if len(poly) == 0 || len(poly[0]) < 3 {
		return nil
	}
	bound := poly.Bound()
	box := PixelBox{
		Min: Pixel{X: int(math.Floor(bound.Min[0])), Y: int(math.Floor(bound.Min[1]))},
		Max: Pixel{X: int(math.Floor(bound.Max[0])), Y: int(math.Floor(bound.Max[1]))},
	}
	var out []Tile
	for _, t := range TilesInPixelBox(box, zoom) {
		if polygonContainsBox(poly, TilePixelBox(t)) {
			out = append(out, t)
		}
	}
	return out
}

// 文档注释：矩形完整包含判定
// 背景：只要任意一条边（外环或洞）穿过矩形开区间内部，矩形就有部分落在外部；否则矩形内部整体同侧，用中心点判定。
// 约束：边界接触（共边、共点）视为包含。
func polygonContainsBox(poly orb.Polygon, b PixelBox) bool {
	minX, minY := float64(b.Min.X), float64(b.Min.Y)
	maxX, maxY := float64(b.Max.X), float64(b.Max.Y)
	for _, ring := range poly {
		n := len(ring)
		for i := 0; i < n; i++ {
			a := ring[i]
			c := ring[(i+1)%n]
			if segmentCrossesOpenBox(a, c, minX, minY, maxX, maxY) {
				return false
			}
		}
	}
	center := orb.Point{(minX + maxX) / 2, (minY + maxY) / 2}
	return planar.PolygonContains(poly, center)
}

// segmentCrossesOpenBox：Liang–Barsky 裁剪后取裁剪段中点，中点严格在矩形内部即视为穿过
func segmentCrossesOpenBox(a, b orb.Point, minX, minY, maxX, maxY float64) bool {
	t0, t1 := 0.0, 1.0
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	clipEdge := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return false
			}
			if r > t0 {
				t0 = r
			}
		} else {
			if r < t0 {
				return false
			}
			if r < t1 {
				t1 = r
			}
		}
		return true
	}
	if !clipEdge(-dx, a[0]-minX) || !clipEdge(dx, maxX-a[0]) ||
		!clipEdge(-dy, a[1]-minY) || !clipEdge(dy, maxY-a[1]) {
		return false
	}
	if t1 <= t0 {
		return false
	}
	tm := (t0 + t1) / 2
	mx := a[0] + tm*dx
	my := a[1] + tm*dy
	return mx > minX && mx < maxX && my > minY && my < maxY
}
