package fetch

import (
	"context"

	"tile-curator/internal/logger"
	"tile-curator/internal/metrics"
	"tile-curator/internal/tilecache"
)

// Source：远端瓦片来源；absent=true 表示确认无瓦片
type Source interface {
	FetchTile(ctx context.Context, qk string) (data []byte, absent bool, err error)
}

// 文档注释：限流拉取器
// 背景：缓存优先；仅当缓存缺失时经限流器发起请求，结果（图像或零长度哨兵）写回缓存。
// 约束：同一 quadkey 在缓存中已有任一结果时绝不重复请求。
type Fetcher struct {
	src     Source
	cache   *tilecache.Cache
	limiter *Limiter
}

func New(src Source, cache *tilecache.Cache, limiter *Limiter) *Fetcher {
	return &Fetcher{src: src, cache: cache, limiter: limiter}
}

func (f *Fetcher) Cache() *tilecache.Cache { return f.cache }

// Fetch：返回缓存条目状态（Absent 或 Present），必要时拉取
func (f *Fetcher) Fetch(ctx context.Context, qk string) (tilecache.State, error) {
	s, err := f.cache.State(qk)
	if err != nil {
		return tilecache.Missing, err
	}
	if s != tilecache.Missing {
		metrics.CacheHitsTotal.WithLabelValues(s.String()).Inc()
		return s, nil
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return tilecache.Missing, err
	}
	data, absent, err := f.src.FetchTile(ctx, qk)
	if err != nil {
		return tilecache.Missing, err
	}
	if absent {
		if err := f.cache.PutAbsent(qk); err != nil {
			return tilecache.Missing, err
		}
		return tilecache.Absent, nil
	}
	if err := f.cache.Put(qk, data); err != nil {
		return tilecache.Missing, err
	}
	logger.L().Debug("tile_fetched", "quadkey", qk, "bytes", len(data))
	return tilecache.Present, nil
}
