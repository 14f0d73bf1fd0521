package tilegeo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidQuadkey：quadkey 含非法字符或长度越界
var ErrInvalidQuadkey = errors.New("invalid quadkey")

// 文档注释：瓦片 → quadkey
// 背景：按位从高到低交织 x、y；x 位贡献 1，y 位贡献 2。
// 示例：(3,5,3) → "213"。
func TileToQuadkey(t Tile) string {
	var b strings.Builder
	b.Grow(t.Z)
	for i := t.Z; i > 0; i-- {
		digit := byte('0')
		mask := 1 << uint(i-1)
		if t.X&mask != 0 {
			digit++
		}
		if t.Y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}

// 文档注释：quadkey → 瓦片
// 约束：zoom 取字符串长度；任何非 0-3 字符返回 ErrInvalidQuadkey，不做纠错。
func QuadkeyToTile(qk string) (Tile, error) {
	z := len(qk)
	if z == 0 || z > MaxZoom {
		return Tile{}, errors.Wrapf(ErrInvalidQuadkey, "length %d", z)
	}
	var t Tile
	t.Z = z
	for i := z; i > 0; i-- {
		mask := 1 << uint(i-1)
		switch qk[z-i] {
		case '0':
		case '1':
			t.X |= mask
		case '2':
			t.Y |= mask
		case '3':
			t.X |= mask
			t.Y |= mask
		default:
			return Tile{}, errors.Wrapf(ErrInvalidQuadkey, "character %q in %q", qk[z-i], qk)
		}
	}
	return t, nil
}

// QuadkeyInt：quadkey 按四进制解释的整数值
func QuadkeyInt(qk string) (uint64, error) {
	if len(qk) == 0 || len(qk) > MaxZoom {
		return 0, errors.Wrapf(ErrInvalidQuadkey, "length %d", len(qk))
	}
	v, err := strconv.ParseUint(qk, 4, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidQuadkey, "%q", qk)
	}
	return v, nil
}

// 文档注释：quadkey 对应的 Bing 地图查看链接
// 背景：用于人工抽查样本，定位到瓦片左上角并使用航拍样式。
func QuadkeyURL(qk string) (string, error) {
	t, err := QuadkeyToTile(qk)
	if err != nil {
		return "", err
	}
	ll := PixelToLatLong(TileToPixel(t), t.Z)
	return fmt.Sprintf("http://bing.com/maps/default.aspx?cp=%v~%v&lvl=%d&style=a", ll.Lat, ll.Lon, t.Z), nil
}
