// 包 config：从环境变量读取运行参数（.env 由入口预先加载）
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tile-curator/internal/bing"
	"tile-curator/internal/classify"
	"tile-curator/internal/dataset"
	"tile-curator/internal/fetch"
	"tile-curator/internal/mapswipe"

	"github.com/pkg/errors"
)

const (
	ClaimsMemory = "memory"
	ClaimsRedis  = "redis"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	BingKey         string
	BingMetadataURL string
	QuotaPerDay     int

	MapSwipeAPIURL     string
	ProjectsGeoJSONURL string
	Workdir            string
	TileCacheDir       string
	RegionDBDir        string

	Projects  []int
	OutputDir string
	Seed      int64
	MaxSize   int
	Overwrite bool
	CopyFiles bool
	Weights   map[string]float64
	Policy    classify.Policy

	ClaimsBackend  string
	ClaimsRedisKey string
	RecordDB       bool
	MetricsAddr    string
	FetchWorkers   int
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidConfig, "%s=%q", key, v)
	}
	return n, nil
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// ParseProjects：逗号或空白分隔的区域 id 列表
func ParseProjects(s string) ([]int, error) {
	var out []int
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' }) {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "project id %q", f)
		}
		out = append(out, n)
	}
	return out, nil
}

// ParseWeights：形如 train=80,valid=10,test=10
func ParseWeights(s string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, errors.Wrapf(ErrInvalidConfig, "weight %q", part)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || !(w > 0) {
			return nil, errors.Wrapf(ErrInvalidConfig, "weight %q", part)
		}
		out[strings.TrimSpace(name)] = w
	}
	if len(out) == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "no weights")
	}
	return out, nil
}

func defaultWorkdir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mapswipe"
	}
	return filepath.Join(home, ".mapswipe")
}

// 文档注释：读取全部配置
// 背景：工作目录默认 ~/.mapswipe，瓦片缓存与区域库默认位于其下；未设置的数值项使用内置默认值。
// 异常：数值或列表无法解析时返回 ErrInvalidConfig，不静默回退。
func Load() (Config, error) {
	c := Config{
		BingKey:            os.Getenv("BING_MAPS_KEY"),
		BingMetadataURL:    envOr("BING_METADATA_URL", bing.DefaultMetadataURL),
		MapSwipeAPIURL:     envOr("MAPSWIPE_API_URL", mapswipe.DefaultAPIURL),
		ProjectsGeoJSONURL: envOr("MAPSWIPE_PROJECTS_GEOJSON_URL", mapswipe.DefaultProjectsGeoJSONURL),
		Workdir:            envOr("MAPSWIPE_WORKDIR", defaultWorkdir()),
		OutputDir:          envOr("DATASET_OUTPUT_DIR", "dataset"),
		Overwrite:          envBool("DATASET_OVERWRITE"),
		CopyFiles:          envBool("DATASET_COPY_FILES"),
		ClaimsBackend:      strings.ToLower(envOr("CLAIMS_BACKEND", ClaimsMemory)),
		ClaimsRedisKey:     os.Getenv("CLAIMS_REDIS_KEY"),
		RecordDB:           envBool("DATASET_RECORD_DB"),
		MetricsAddr:        os.Getenv("METRICS_ADDR"),
	}
	c.TileCacheDir = envOr("TILE_CACHE_DIR", filepath.Join(c.Workdir, "tiles"))
	c.RegionDBDir = envOr("REGION_DB_DIR", filepath.Join(c.Workdir, "regions.db"))

	var err error
	if c.QuotaPerDay, err = envInt("BING_QUOTA_PER_DAY", fetch.DefaultQuotaPerDay); err != nil {
		return c, err
	}
	if c.MaxSize, err = envInt("DATASET_MAX_SIZE", 0); err != nil {
		return c, err
	}
	if c.FetchWorkers, err = envInt("FETCH_WORKERS", 4); err != nil {
		return c, err
	}
	seed, err := envInt("DATASET_SEED", 0)
	if err != nil {
		return c, err
	}
	c.Seed = int64(seed)

	p := classify.DefaultPolicy()
	if p.BuiltFloor, err = envInt("BUILT_FLOOR", p.BuiltFloor); err != nil {
		return c, err
	}
	if p.BadImageryFloor, err = envInt("BAD_IMAGERY_FLOOR", p.BadImageryFloor); err != nil {
		return c, err
	}
	c.Policy = p

	if c.Projects, err = ParseProjects(os.Getenv("DATASET_PROJECTS")); err != nil {
		return c, err
	}
	c.Weights = dataset.DefaultWeights()
	if v := os.Getenv("DATASET_WEIGHTS"); v != "" {
		if c.Weights, err = ParseWeights(v); err != nil {
			return c, err
		}
	}
	switch c.ClaimsBackend {
	case ClaimsMemory, ClaimsRedis:
	default:
		return c, errors.Wrapf(ErrInvalidConfig, "CLAIMS_BACKEND=%q", c.ClaimsBackend)
	}
	return c, nil
}
