// 包 regions：区域瓦片集合的本地持久化，避免每次运行重复做多边形枚举
package regions

import (
	"strconv"
	"strings"

	"tile-curator/internal/logger"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// 文档注释：区域 quadkey 列表存储
// 背景：区域多边形在 18 级下可能覆盖数十万瓦片，枚举开销较大；首次计算后按区域 id 写入 pebble，后续直接读取。
// 约束：值为换行分隔的 quadkey；区域边界变化时需外部删除对应键或整个目录。
type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "open region store")
	}
	logger.L().Debug("region_store_open", "dir", dir)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func regionKey(id int) []byte {
	return []byte("region/" + strconv.Itoa(id) + "/quadkeys")
}

// Get：读取区域 quadkey 列表；未缓存时 ok=false
func (s *Store) Get(id int) ([]string, bool, error) {
	v, closer, err := s.db.Get(regionKey(id))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "region %d get", id)
	}
	raw := string(v)
	_ = closer.Close()
	if raw == "" {
		return []string{}, true, nil
	}
	return strings.Split(raw, "\n"), true, nil
}

// Put：写入区域 quadkey 列表（同步落盘）
func (s *Store) Put(id int, quadkeys []string) error {
	if err := s.db.Set(regionKey(id), []byte(strings.Join(quadkeys, "\n")), pebble.Sync); err != nil {
		return errors.Wrapf(err, "region %d put", id)
	}
	logger.L().Debug("region_store_put", "region", id, "tiles", len(quadkeys))
	return nil
}
