// 包 tilegeo：经纬度、像素、瓦片与 quadkey 之间的纯计算换算，以及多边形内瓦片枚举
package tilegeo

// 文档注释：瓦片金字塔常量
// 背景：与 Bing Maps 瓦片系统保持一致，单瓦片 256 像素；纬度夹取到 Web Mercator 有效范围。
// 约束：zoom 仅支持 1..MaxZoom，quadkey 长度即 zoom。
const (
	TileSize = 256
	MaxZoom  = 23

	MinLatitude  = -85.05112878
	MaxLatitude  = 85.05112878
	MinLongitude = -180.0
	MaxLongitude = 180.0

	// RegionZoom：区域多边形枚举瓦片所用的固定级别
	RegionZoom = 18
)

// Tile：瓦片坐标，0 <= X,Y < 2^Z
type Tile struct {
	X int
	Y int
	Z int
}

// Pixel：某一级别地图像素坐标，范围 [0, 256*2^zoom)
type Pixel struct {
	X int
	Y int
}

// LatLong：WGS84 经纬度（度）
type LatLong struct {
	Lat float64
	Lon float64
}

// PixelBox：像素空间的轴对齐矩形，Min 为左上角，Max 为右下角
type PixelBox struct {
	Min Pixel
	Max Pixel
}

// MapSize：给定级别下地图边长（像素）
func MapSize(zoom int) int { return TileSize << uint(zoom) }

func clip(n, lo, hi float64) float64 {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func clipInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
