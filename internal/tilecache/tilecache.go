// 包 tilecache：按 quadkey 寻址的瓦片磁盘缓存，零长度文件表示“确认无瓦片”
package tilecache

import (
	"fmt"
	"os"
	"path/filepath"

	"tile-curator/internal/logger"
	"tile-curator/internal/tilegeo"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// 文档注释：缓存条目状态
// 背景：文件缺失 = 尚未拉取；零长度 = 上游确认此地址无瓦片；非空 = 图像字节。三态编码在磁盘上，下游工具依赖此约定。
type State int

const (
	Missing State = iota
	Absent
	Present
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Present:
		return "present"
	default:
		return "missing"
	}
}

// 文档注释：瓦片磁盘缓存
// 背景：按 quadkey 的四进制整数值对 128 取模分子目录，避免单目录文件过多。
// 约束：缓存永不自动失效；只有外部删除目录才会清空。已知状态在进程内 LRU 记忆，仅记录 Absent/Present。
type Cache struct {
	root  string
	ext   string
	known *lru.Cache[string, State]
}

const fanOut = 128

// New：创建缓存，ext 为空时默认 jpg；memo 为进程内状态记忆容量
func New(root, ext string, memo int) (*Cache, error) {
	if ext == "" {
		ext = "jpg"
	}
	if memo <= 0 {
		memo = 65536
	}
	known, err := lru.New[string, State](memo)
	if err != nil {
		return nil, err
	}
	logger.L().Debug("tilecache_init", "root", root, "ext", ext, "memo", memo)
	return &Cache{root: root, ext: ext, known: known}, nil
}

func (c *Cache) Root() string { return c.root }

// 文档注释：quadkey → 缓存路径
// 约束：createParents 为 true 时按需创建父目录；非法 quadkey 返回 tilegeo.ErrInvalidQuadkey。
func (c *Cache) Path(qk string, createParents bool) (string, error) {
	v, err := tilegeo.QuadkeyInt(qk)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(c.root, fmt.Sprintf("%03d", v%fanOut))
	if createParents {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errors.Wrap(err, "tilecache mkdir")
		}
	}
	return filepath.Join(dir, qk+"."+c.ext), nil
}

// State：读取条目状态
func (c *Cache) State(qk string) (State, error) {
	if s, ok := c.known.Get(qk); ok {
		return s, nil
	}
	p, err := c.Path(qk, false)
	if err != nil {
		return Missing, err
	}
	fi, err := os.Stat(p)
	if os.IsNotExist(err) {
		return Missing, nil
	}
	if err != nil {
		return Missing, errors.Wrap(err, "tilecache stat")
	}
	s := Present
	if fi.Size() == 0 {
		s = Absent
	}
	c.known.Add(qk, s)
	return s, nil
}

// IsCached：路径存在即为已缓存（零长度同样计入）
func (c *Cache) IsCached(qk string) bool {
	s, err := c.State(qk)
	return err == nil && s != Missing
}

// Put：写入图像字节
func (c *Cache) Put(qk string, data []byte) error {
	if len(data) == 0 {
		return c.PutAbsent(qk)
	}
	return c.write(qk, data, Present)
}

// PutAbsent：写入零长度哨兵文件
func (c *Cache) PutAbsent(qk string) error { return c.write(qk, nil, Absent) }

// 文档注释：原子落盘
// 背景：先写同目录临时文件并 fsync，再 rename 覆盖目标；进程中断不会留下被误认为有效的半截文件。
func (c *Cache) write(qk string, data []byte, s State) error {
	p, err := c.Path(qk, true)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "."+qk+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "tilecache temp")
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "tilecache write")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "tilecache sync")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "tilecache close")
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "tilecache rename")
	}
	c.known.Add(qk, s)
	logger.L().Debug("tilecache_put", "quadkey", qk, "state", s.String(), "bytes", len(data))
	return nil
}
