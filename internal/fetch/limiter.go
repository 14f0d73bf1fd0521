// 包 fetch：在外部配额约束下拉取瓦片并写入磁盘缓存
package fetch

import (
	"context"
	"sync"
	"time"

	"tile-curator/internal/metrics"
)

// DefaultQuotaPerDay：Bing Maps 每 24 小时允许的请求数
const DefaultQuotaPerDay = 50000

// QuotaInterval：把每日配额均匀摊开后的最小请求间隔（50000 次/天 ≈ 1.728s）
func QuotaInterval(perDay int) time.Duration {
	if perDay <= 0 {
		perDay = DefaultQuotaPerDay
	}
	return 24 * time.Hour / time.Duration(perDay)
}

// 文档注释：最小间隔限流器
// 背景：受外部每日配额限制，任意两次请求的发起时间至少相隔 interval；所有拉取协程共享同一实例，整体速率不超过配额。
// 约束：等待期间持有锁，等待者依次放行；ctx 取消时立即返回且不占用名额。
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

func (l *Limiter) Interval() time.Duration { return l.interval }

// Wait：阻塞直到距上次放行至少 interval
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.last.IsZero() {
		if d := l.interval - time.Since(l.last); d > 0 {
			t0 := time.Now()
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			metrics.LimiterWaitMs.Observe(float64(time.Since(t0).Milliseconds()))
		}
	}
	l.last = time.Now()
	return nil
}
