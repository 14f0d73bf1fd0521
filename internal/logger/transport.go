// 包 logger：出站 HTTP 请求日志，记录上游访问的关键维度（方法、主机、路径、状态、字节数、耗时）
package logger

import (
	"log/slog"
	"net/http"
	"time"
)

// 文档注释：出站请求日志包装器
// 背景：瓦片与项目数据均来自外部服务，统一记录访问便于排查配额与上游异常。
// 约束：不读取响应体；URL 查询串中可能含密钥，因此只记录路径。
type loggingTransport struct {
	l    *slog.Logger
	base http.RoundTripper
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(r)
	dur := time.Since(start)
	if err != nil {
		t.l.Debug("http_upstream_error",
			"method", r.Method,
			"host", r.URL.Host,
			"path", r.URL.Path,
			"duration_ms", dur.Milliseconds(),
			"err", err,
		)
		return resp, err
	}
	t.l.Debug("http_upstream",
		"method", r.Method,
		"host", r.URL.Host,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"bytes", resp.ContentLength,
		"duration_ms", dur.Milliseconds(),
	)
	return resp, nil
}

// Transport：包装 base（为空时使用 http.DefaultTransport）
func Transport(l *slog.Logger, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{l: l, base: base}
}

// Client：带上游日志与超时的 HTTP 客户端
func Client(l *slog.Logger, timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: Transport(l, nil)}
}
