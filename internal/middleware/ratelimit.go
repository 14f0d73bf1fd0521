package middleware

import (
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"tile-curator/internal/logger"
)

// 文档注释：令牌桶限流（每秒）
// 背景：指标端点与长时间运行的批处理共用进程，限制抓取频率避免干扰拉取任务。
// 约束：不排队，超出时直接返回 429。
type TokenBucket struct {
	capacity int
	tokens   int
	lastSec  int64
	mu       sync.Mutex
	now      func() time.Time
}

func NewTokenBucket(qps int) *TokenBucket {
	return &TokenBucket{capacity: qps, tokens: qps, lastSec: time.Now().Unix(), now: time.Now}
}

func (tb *TokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	nowSec := tb.now().Unix()
	if tb.lastSec != nowSec {
		tb.lastSec = nowSec
		tb.tokens = tb.capacity
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// 文档注释：管理端点包装
// 背景：记录访问日志；METRICS_RATE_LIMIT_QPS 大于 0 时启用限流（默认 10）。
func Wrap(next http.Handler) http.Handler {
	qps := 10
	if s := os.Getenv("METRICS_RATE_LIMIT_QPS"); s != "" {
		if n, e := strconv.Atoi(s); e == nil {
			qps = n
		}
	}
	var tb *TokenBucket
	if qps > 0 {
		tb = NewTokenBucket(qps)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		if tb != nil && !tb.allow() {
			w.WriteHeader(http.StatusTooManyRequests)
			logger.L().Warn("admin_rate_limited", "path", r.URL.Path, "remote", r.RemoteAddr)
			return
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.L().Debug("admin_access", "method", r.Method, "path", r.URL.Path, "status", sw.status, "ms", time.Since(t0).Milliseconds())
	})
}
