// 包 claims：跨区域去重的全局瓦片占用集合
package claims

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// 文档注释：全局瓦片集合
// 背景：区域之间经常重叠，一个瓦片一旦被某个区域抽取，后续区域不得再使用。
// 约束：Claim 为原子的“检查并插入”，首次插入返回 true；实现须支持并发调用。
type Set interface {
	Claim(ctx context.Context, qk string) (bool, error)
	Contains(ctx context.Context, qk string) (bool, error)
	Len(ctx context.Context) (int, error)
}

// Memory：进程内实现
type Memory struct {
	m *xsync.MapOf[string, struct{}]
}

func NewMemory() *Memory {
	return &Memory{m: xsync.NewMapOf[string, struct{}]()}
}

func (s *Memory) Claim(_ context.Context, qk string) (bool, error) {
	_, loaded := s.m.LoadOrStore(qk, struct{}{})
	return !loaded, nil
}

func (s *Memory) Contains(_ context.Context, qk string) (bool, error) {
	_, ok := s.m.Load(qk)
	return ok, nil
}

func (s *Memory) Len(context.Context) (int, error) { return s.m.Size(), nil }
