// 包 bing：Bing Maps 影像元数据握手与单瓦片拉取
package bing

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tile-curator/internal/logger"
	"tile-curator/internal/metrics"

	"github.com/pkg/errors"
)

const (
	// DefaultMetadataURL：航拍影像元数据接口
	DefaultMetadataURL = "http://dev.virtualearth.net/REST/v1/Imagery/Metadata/Aerial"

	subdomainPlaceholder = "{subdomain}"
	quadkeyPlaceholder   = "{quadkey}"

	// 上游超额时携带此头部
	headerQuota = "X-MS-BM-WS-INFO"
	// 值为 no-tile 表示该地址无影像
	headerTileInfo = "X-VE-Tile-Info"
)

var (
	ErrAuthentication = errors.New("bing maps authentication failed")
	ErrQuotaExceeded  = errors.New("bing maps rate limit exceeded")
	ErrUpstreamData   = errors.New("bing maps upstream data invalid")
)

// 文档注释：元数据响应结构
// 背景：只解析拉取瓦片所需的 URL 模板与子域名列表。
type metadataResponse struct {
	StatusCode   int `json:"statusCode"`
	ResourceSets []struct {
		Resources []struct {
			ImageURL           string   `json:"imageUrl"`
			ImageURLSubdomains []string `json:"imageUrlSubdomains"`
		} `json:"resources"`
	} `json:"resourceSets"`
}

// 文档注释：瓦片影像客户端
// 约束：模板与子域名在握手时一次性确定；本类型不做限流，由 fetch 包统一节流。
type Client struct {
	http       *http.Client
	template   string
	subdomains []string
	pick       func(n int) int
}

// 文档注释：启动握手
// 参数：
// - client：HTTP 客户端，为空时使用 10s 超时的默认客户端；
// - metadataURL：元数据接口地址，为空时使用 DefaultMetadataURL；
// - key：Bing Maps API 密钥，必填。
// 返回：可用于拉取瓦片的客户端；statusCode 非 200 或 HTTP 401/403 视为 ErrAuthentication，结构缺失视为 ErrUpstreamData。
func Handshake(ctx context.Context, client *http.Client, metadataURL, key string) (*Client, error) {
	if key == "" {
		return nil, errors.Wrap(ErrAuthentication, "missing key")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if metadataURL == "" {
		metadataURL = DefaultMetadataURL
	}
	u, err := url.Parse(metadataURL)
	if err != nil {
		return nil, errors.Wrap(err, "metadata url")
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.L().Error("bing_handshake_http_error", "err", err)
		return nil, errors.Wrap(err, "bing handshake")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.Wrapf(ErrAuthentication, "http status %d", resp.StatusCode)
	}
	var m metadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, errors.Wrapf(ErrUpstreamData, "decode metadata: %v", err)
	}
	if m.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrAuthentication, "could not login with key, statusCode %d", m.StatusCode)
	}
	if len(m.ResourceSets) == 0 || len(m.ResourceSets[0].Resources) == 0 {
		return nil, errors.Wrap(ErrUpstreamData, "no resources in metadata")
	}
	res := m.ResourceSets[0].Resources[0]
	if !strings.Contains(res.ImageURL, quadkeyPlaceholder) || len(res.ImageURLSubdomains) == 0 {
		return nil, errors.Wrapf(ErrUpstreamData, "unusable image url template %q", res.ImageURL)
	}
	if !strings.Contains(res.ImageURL, subdomainPlaceholder) {
		logger.L().Warn("bing_template_without_subdomain", "template", res.ImageURL)
	}
	logger.L().Info("bing_handshake_ok", "subdomains", len(res.ImageURLSubdomains))
	return &Client{http: client, template: res.ImageURL, subdomains: res.ImageURLSubdomains, pick: rand.Intn}, nil
}

// Template：握手得到的影像 URL 模板
func (c *Client) Template() string { return c.template }

// Subdomains：可用子域名
func (c *Client) Subdomains() []string { return c.subdomains }

// TileURL：随机选择子域名并代入 quadkey
func (c *Client) TileURL(qk string) string {
	sub := c.subdomains[c.pick(len(c.subdomains))]
	u := strings.ReplaceAll(c.template, subdomainPlaceholder, sub)
	return strings.ReplaceAll(u, quadkeyPlaceholder, qk)
}

// 文档注释：拉取单个瓦片
// 返回：图像字节；absent=true 表示上游确认此地址无瓦片。
// 异常：响应带超额头部时返回 ErrQuotaExceeded，调用方必须终止整个任务，不可继续超额请求。
func (c *Client) FetchTile(ctx context.Context, qk string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TileURL(qk), nil)
	if err != nil {
		return nil, false, err
	}
	t0 := time.Now()
	metrics.TileFetchTotal.Inc()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.TileFetchFailTotal.Inc()
		logger.L().Error("bing_tile_http_error", "quadkey", qk, "err", err)
		return nil, false, errors.Wrapf(err, "fetch tile %s", qk)
	}
	defer resp.Body.Close()
	metrics.TileFetchDurationMs.Observe(float64(time.Since(t0).Milliseconds()))

	if resp.Header.Get(headerQuota) != "" {
		metrics.QuotaExceededTotal.Inc()
		logger.L().Error("bing_quota_exceeded", "quadkey", qk, "info", resp.Header.Get(headerQuota))
		return nil, false, errors.Wrapf(ErrQuotaExceeded, "fetch tile %s", qk)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.TileFetchFailTotal.Inc()
		return nil, false, errors.Errorf("fetch tile %s: http status %d", qk, resp.StatusCode)
	}
	if resp.Header.Get(headerTileInfo) == "no-tile" {
		_, _ = io.Copy(io.Discard, resp.Body)
		metrics.TileFetchAbsentTotal.Inc()
		logger.L().Debug("bing_tile_absent", "quadkey", qk)
		return nil, true, nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.TileFetchFailTotal.Inc()
		return nil, false, errors.Wrapf(err, "read tile %s", qk)
	}
	if len(b) == 0 {
		metrics.TileFetchFailTotal.Inc()
		return nil, false, errors.Wrapf(ErrUpstreamData, "empty body for tile %s", qk)
	}
	logger.L().Debug("bing_tile_ok", "quadkey", qk, "bytes", len(b))
	return b, false, nil
}
