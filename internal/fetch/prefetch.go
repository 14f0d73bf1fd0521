package fetch

import (
	"context"
	"sync"
	"sync/atomic"

	"tile-curator/internal/bing"
	"tile-curator/internal/logger"
	"tile-curator/internal/tilecache"

	"github.com/pkg/errors"
)

// PrefetchStats：预取结果统计
type PrefetchStats struct {
	Total   int
	Present int64
	Absent  int64
	Failed  int64
}

// 文档注释：并发预取
// 背景：批量预热缓存，多个协程共享同一限流器，整体请求速率不超过配额；重复 quadkey 只派发一次。
// 异常：超额与鉴权错误视为致命，取消其余任务并返回；其他单瓦片错误记录后继续。
func Prefetch(ctx context.Context, f *Fetcher, quadkeys []string, workers int) (PrefetchStats, error) {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var st PrefetchStats
	var fatal error
	var once sync.Once
	jobs := make(chan string, workers*4)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for qk := range jobs {
				s, err := f.Fetch(ctx, qk)
				if err != nil {
					if isFatal(err) {
						once.Do(func() { fatal = err; cancel() })
						continue
					}
					if ctx.Err() == nil {
						atomic.AddInt64(&st.Failed, 1)
						logger.L().Warn("prefetch_tile_error", "worker", id, "quadkey", qk, "err", err)
					}
					continue
				}
				if s == tilecache.Absent {
					atomic.AddInt64(&st.Absent, 1)
				} else {
					atomic.AddInt64(&st.Present, 1)
				}
			}
		}(i)
	}

	seen := make(map[string]struct{}, len(quadkeys))
dispatch:
	for _, qk := range quadkeys {
		if _, ok := seen[qk]; ok {
			continue
		}
		seen[qk] = struct{}{}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- qk:
			st.Total++
		}
	}
	close(jobs)
	wg.Wait()
	if fatal != nil {
		return st, fatal
	}
	return st, ctx.Err()
}

func isFatal(err error) bool {
	return errors.Is(err, bing.ErrQuotaExceeded) || errors.Is(err, bing.ErrAuthentication)
}
