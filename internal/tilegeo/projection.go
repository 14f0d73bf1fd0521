package tilegeo

import "math"

// 文档注释：经纬度 → 像素（球面 Mercator 正算）
// 背景：先夹取纬度与经度到有效范围，再按级别缩放；像素取整时四舍五入并夹取到 [0, mapSize-1]。
// 约束：超出范围的输入被夹取而非拒绝。
func LatLongToPixel(ll LatLong, zoom int) Pixel {
	lat := clip(ll.Lat, MinLatitude, MaxLatitude)
	lon := clip(ll.Lon, MinLongitude, MaxLongitude)

	x := (lon + 180.0) / 360.0
	sinLat := math.Sin(lat * math.Pi / 180.0)
	y := 0.5 - math.Log((1.0+sinLat)/(1.0-sinLat))/(4.0*math.Pi)

	size := float64(MapSize(zoom))
	return Pixel{
		X: int(clip(x*size+0.5, 0, size-1)),
		Y: int(clip(y*size+0.5, 0, size-1)),
	}
}

// 文档注释：像素 → 经纬度（Mercator 反算）
// 约束：像素输入先夹取到地图范围内。
func PixelToLatLong(p Pixel, zoom int) LatLong {
	size := MapSize(zoom)
	x := float64(clipInt(p.X, 0, size-1))/float64(size) - 0.5
	y := 0.5 - float64(clipInt(p.Y, 0, size-1))/float64(size)

	return LatLong{
		Lat: 90 - 360*math.Atan(math.Exp(-y*2*math.Pi))/math.Pi,
		Lon: 360 * x,
	}
}

// PixelToTile：像素所在瓦片（向零截断整除 256）
func PixelToTile(p Pixel, zoom int) Tile {
	return Tile{X: p.X / TileSize, Y: p.Y / TileSize, Z: zoom}
}

// TileToPixel：瓦片左上角像素
func TileToPixel(t Tile) Pixel {
	return Pixel{X: t.X * TileSize, Y: t.Y * TileSize}
}

// TilePixelBox：瓦片完整像素范围，右下角为相邻瓦片的左上角
func TilePixelBox(t Tile) PixelBox {
	return PixelBox{
		Min: TileToPixel(t),
		Max: TileToPixel(Tile{X: t.X + 1, Y: t.Y + 1, Z: t.Z}),
	}
}

// 文档注释：包围盒瓦片枚举（不做多边形判定）
// 背景：从左上像素所在瓦片到右下像素所在瓦片，闭区间；外层 X、内层 Y，顺序稳定。
func TilesInPixelBox(b PixelBox, zoom int) []Tile {
	tl := PixelToTile(b.Min, zoom)
	br := PixelToTile(b.Max, zoom)
	if br.X < tl.X || br.Y < tl.Y {
		return nil
	}
	out := make([]Tile, 0, (br.X-tl.X+1)*(br.Y-tl.Y+1))
	for x := tl.X; x <= br.X; x++ {
		for y := tl.Y; y <= br.Y; y++ {
			out = append(out, Tile{X: x, Y: y, Z: zoom})
		}
	}
	return out
}
