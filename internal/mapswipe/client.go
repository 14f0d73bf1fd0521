// 包 mapswipe：MapSwipe 项目投票与区域边界的下载、缓存与解析
package mapswipe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"tile-curator/internal/logger"
	"tile-curator/internal/regions"
	"tile-curator/internal/tilegeo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

const (
	DefaultAPIURL             = "http://api.mapswipe.org"
	DefaultProjectsGeoJSONURL = "http://mapswipe.geog.uni-heidelberg.de/data/projects.geojson"
	projectDetailsFile        = "project_details.json"
)

var (
	ErrUpstreamData    = errors.New("mapswipe upstream data invalid")
	ErrRegionNotFound  = errors.New("region not found")
	ErrDuplicateRegion = errors.New("multiple regions with the same id")
)

// 文档注释：MapSwipe 数据客户端
// 背景：投票文件按项目下载一次后落盘复用；区域边界从项目 GeoJSON 集合中按 project_id 匹配。
// 约束：regions 为空时每次都重新枚举区域瓦片。
type Client struct {
	http        *http.Client
	apiURL      string
	projectsURL string
	workdir     string
	regions     *regions.Store

	mu       sync.Mutex
	features *geojson.FeatureCollection
}

// Options：客户端参数，零值字段使用默认值
type Options struct {
	HTTP        *http.Client
	APIURL      string
	ProjectsURL string
	Workdir     string
	Regions     *regions.Store
}

func NewClient(o Options) *Client {
	if o.HTTP == nil {
		o.HTTP = &http.Client{Timeout: 60 * time.Second}
	}
	if o.APIURL == "" {
		o.APIURL = DefaultAPIURL
	}
	if o.ProjectsURL == "" {
		o.ProjectsURL = DefaultProjectsGeoJSONURL
	}
	return &Client{http: o.HTTP, apiURL: o.APIURL, projectsURL: o.ProjectsURL, workdir: o.Workdir, regions: o.Regions}
}

// DetailsPath：项目投票文件的本地路径
func (c *Client) DetailsPath(id int) string {
	return filepath.Join(c.workdir, strconv.Itoa(id), projectDetailsFile)
}

// 文档注释：打开项目投票记录
// 背景：本地不存在时先从 <api>/projects/<id>.json 下载；空响应视为 ErrUpstreamData 且不落盘。
// 返回：文件句柄，由调用方关闭；通常交给 NewTaskDecoder。
func (c *Client) OpenTasks(ctx context.Context, id int) (io.ReadCloser, error) {
	p := c.DetailsPath(id)
	if _, err := os.Stat(p); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat %s", p)
		}
		u := fmt.Sprintf("%s/projects/%d.json", c.apiURL, id)
		logger.L().Info("mapswipe_details_download", "project", id, "url", u)
		if err := c.download(ctx, u, p); err != nil {
			return nil, errors.Wrapf(err, "project %d details", id)
		}
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", p)
	}
	return f, nil
}

func (c *Client) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logger.L().Error("mapswipe_http_error", "url", url, "err", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrUpstreamData, "http status %d", resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	n, err := io.Copy(tmp, resp.Body)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = errors.Wrap(ErrUpstreamData, "empty response")
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (c *Client) projects(ctx context.Context) (*geojson.FeatureCollection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.features != nil {
		return c.features, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.projectsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logger.L().Error("mapswipe_http_error", "url", c.projectsURL, "err", err)
		return nil, errors.Wrap(err, "projects geojson")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrUpstreamData, "projects geojson: http status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "projects geojson")
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, errors.Wrapf(ErrUpstreamData, "projects geojson: %v", err)
	}
	c.features = fc
	return fc, nil
}

func projectID(p geojson.Properties) (int, bool) {
	switch v := p["project_id"].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

// 文档注释：区域边界多边形（[lon, lat]）
// 异常：无匹配返回 ErrRegionNotFound，多于一个匹配返回 ErrDuplicateRegion；MultiPolygon 取第一个多边形。
func (c *Client) Boundary(ctx context.Context, id int) (orb.Polygon, error) {
	fc, err := c.projects(ctx)
	if err != nil {
		return nil, err
	}
	var found []*geojson.Feature
	for _, f := range fc.Features {
		if pid, ok := projectID(f.Properties); ok && pid == id {
			found = append(found, f)
		}
	}
	switch {
	case len(found) == 0:
		return nil, errors.Wrapf(ErrRegionNotFound, "project %d", id)
	case len(found) > 1:
		return nil, errors.Wrapf(ErrDuplicateRegion, "project %d: %d features", id, len(found))
	}
	switch g := found[0].Geometry.(type) {
	case orb.Polygon:
		return g, nil
	case orb.MultiPolygon:
		if len(g) > 0 {
			return g[0], nil
		}
	}
	return nil, errors.Wrapf(ErrUpstreamData, "project %d: geometry is not a polygon", id)
}

// 文档注释：区域内全部瓦片（18 级）
// 背景：首次计算后写入 regions 存储，后续运行直接读取。
func (c *Client) RegionQuadkeys(ctx context.Context, id int) ([]string, error) {
	if c.regions != nil {
		qks, ok, err := c.regions.Get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			return qks, nil
		}
	}
	poly, err := c.Boundary(ctx, id)
	if err != nil {
		return nil, err
	}
	t0 := time.Now()
	qks := tilegeo.PolygonQuadkeys(poly, tilegeo.RegionZoom)
	logger.L().Info("region_tiles_computed", "project", id, "tiles", len(qks), "ms", time.Since(t0).Milliseconds())
	if c.regions != nil {
		if err := c.regions.Put(id, qks); err != nil {
			return nil, err
		}
	}
	return qks, nil
}
