// 包 dataset：跨区域去重、类别均衡的 train/valid/test 数据集生成
package dataset

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"tile-curator/internal/allocator"
	"tile-curator/internal/claims"
	"tile-curator/internal/classify"
	"tile-curator/internal/logger"
	"tile-curator/internal/mapswipe"
	"tile-curator/internal/metrics"
	"tile-curator/internal/tilecache"
	"tile-curator/internal/tilegeo"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Source：区域瓦片集合与投票记录来源（mapswipe.Client）
type Source interface {
	RegionQuadkeys(ctx context.Context, id int) ([]string, error)
	OpenTasks(ctx context.Context, id int) (io.ReadCloser, error)
}

// Fetcher：确保瓦片已缓存并返回其状态（fetch.Fetcher）
type Fetcher interface {
	Fetch(ctx context.Context, qk string) (tilecache.State, error)
}

// EmittedTile：写入数据集的一个瓦片
type EmittedTile struct {
	Region  int
	Quadkey string
	Label   classify.Label
	Subset  string
}

// 文档注释：运行记录（可选）
// 背景：把每次生成的数据集明细落库，便于跨运行比对与抽查。
type Recorder interface {
	BeginRun(ctx context.Context, runID string, seed int64, regions []int) error
	RecordTile(ctx context.Context, runID string, t EmittedTile) error
	FinishRun(ctx context.Context, runID string, triplets int) error
}

// RegionResult：单个区域的处理结果
type RegionResult struct {
	Region     int
	Candidates int
	Pools      map[classify.Label]int
	Drawn      int
	Counts     map[string]int
	Triplets   int
}

// Summary：整次运行的结果
type Summary struct {
	RunID    string
	Regions  []RegionResult
	Counts   map[string]int
	Triplets int
}

// 文档注释：数据集生成器
// 参数：
// - Source/Fetcher/Cache：区域数据、瓦片拉取与本地缓存；
// - Claims：全局瓦片占用集合，为空时使用进程内实现；
// - Policy/Weights：分类阈值与子集比例，零值使用默认；
// - Seed：每个区域洗牌前以此重新初始化随机源；
// - MaxSize：每个区域最多分配的三元组数，<=0 表示不限；
// - OutDir/Overwrite/CopyFiles：输出位置与覆盖、复制策略；
// - Recorder：可选的运行记录。
// 约束：区域按给定顺序串行处理；任一致命错误立即终止，已写入的文件保持有效。
type Curator struct {
	Source    Source
	Fetcher   Fetcher
	Cache     *tilecache.Cache
	Claims    claims.Set
	Policy    classify.Policy
	Weights   map[string]float64
	Seed      int64
	MaxSize   int
	OutDir    string
	Overwrite bool
	CopyFiles bool
	Recorder  Recorder
}

func (c *Curator) defaults() {
	if c.Claims == nil {
		c.Claims = claims.NewMemory()
	}
	if c.Policy == (classify.Policy{}) {
		c.Policy = classify.DefaultPolicy()
	}
	if len(c.Weights) == 0 {
		c.Weights = DefaultWeights()
	}
}

func (c *Curator) subsets() []string {
	out := make([]string, 0, len(c.Weights))
	for s := range c.Weights {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Run：按顺序处理全部区域
func (c *Curator) Run(ctx context.Context, regionIDs []int) (Summary, error) {
	c.defaults()
	if _, err := allocator.New(c.Weights); err != nil {
		return Summary{}, err
	}
	sum := Summary{RunID: uuid.NewString(), Counts: map[string]int{}}
	log := logger.L().With("run", sum.RunID)

	manifest, err := Prepare(c.OutDir, c.subsets(), c.Overwrite)
	if err != nil {
		return sum, err
	}
	defer manifest.Close()

	if c.Recorder != nil {
		if err := c.Recorder.BeginRun(ctx, sum.RunID, c.Seed, regionIDs); err != nil {
			return sum, errors.Wrap(err, "begin run")
		}
	}
	log.Info("dataset_start", "regions", len(regionIDs), "seed", c.Seed, "max_size", c.MaxSize, "out", c.OutDir)
	t0 := time.Now()
	for _, id := range regionIDs {
		res, err := c.runRegion(ctx, log, sum.RunID, id, manifest)
		if err != nil {
			log.Error("region_error", "region", id, "err", err)
			return sum, errors.Wrapf(err, "region %d", id)
		}
		sum.Regions = append(sum.Regions, res)
		sum.Triplets += res.Triplets
		for k, v := range res.Counts {
			sum.Counts[k] += v
		}
	}
	if err := manifest.Close(); err != nil {
		return sum, errors.Wrap(err, "close manifest")
	}
	if c.Recorder != nil {
		if err := c.Recorder.FinishRun(ctx, sum.RunID, sum.Triplets); err != nil {
			return sum, errors.Wrap(err, "finish run")
		}
	}
	if m, err := ReadManifest(ManifestPath(c.OutDir)); err == nil {
		log.Info("manifest_stats", "lines", len(m))
	}
	log.Info("dataset_done", "triplets", sum.Triplets, "tiles", sum.Triplets*len(classify.Labels), "ms", time.Since(t0).Milliseconds())
	return sum, nil
}

func (c *Curator) candidates(ctx context.Context, id int) ([]string, error) {
	all, err := c.Source.RegionQuadkeys(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	seen := make(map[string]struct{}, len(all))
	for _, qk := range all {
		if _, dup := seen[qk]; dup {
			continue
		}
		seen[qk] = struct{}{}
		taken, err := c.Claims.Contains(ctx, qk)
		if err != nil {
			return nil, err
		}
		if !taken {
			out = append(out, qk)
		}
	}
	return out, nil
}

func (c *Curator) classifyRegion(ctx context.Context, id int, candidates []string) (classify.Pools, error) {
	rc, err := c.Source.OpenTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return classify.Classify(candidates, mapswipe.NewTaskDecoder(rc), c.Policy)
}

// logCoverage：调试级别下统计投票覆盖情况，需要再读一遍投票文件
func (c *Curator) logCoverage(ctx context.Context, log *slog.Logger, id int, candidates int) {
	if !log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	rc, err := c.Source.OpenTasks(ctx, id)
	if err != nil {
		return
	}
	defer rc.Close()
	tally, err := classify.TallyVotes(mapswipe.NewTaskDecoder(rc))
	if err != nil {
		log.Debug("vote_coverage_error", "region", id, "err", err)
		return
	}
	votes := 0
	for _, v := range tally {
		votes += v.Total()
	}
	log.Debug("vote_coverage", "region", id, "voted_tiles", len(tally), "votes", votes, "candidates", candidates)
}

func (c *Curator) runRegion(ctx context.Context, log *slog.Logger, runID string, id int, manifest *ManifestWriter) (RegionResult, error) {
	res := RegionResult{Region: id}
	log.Info("region_start", "region", id)

	cands, err := c.candidates(ctx, id)
	if err != nil {
		return res, err
	}
	res.Candidates = len(cands)
	pools, err := c.classifyRegion(ctx, id, cands)
	if err != nil {
		return res, err
	}
	res.Pools = pools.Sizes()
	c.logCoverage(ctx, log, id, len(cands))
	log.Info("region_classified", "region", id, "candidates", len(cands),
		"built", res.Pools[classify.Built], "bad_imagery", res.Pools[classify.BadImagery], "empty", res.Pools[classify.Empty])

	rng := rand.New(rand.NewSource(c.Seed))
	for _, l := range classify.Labels {
		p := pools[l]
		rng.Shuffle(len(p), func(i, j int) { p[i], p[j] = p[j], p[i] })
	}
	alloc, err := allocator.New(c.Weights)
	if err != nil {
		return res, err
	}

	for poolsReady(pools) && (c.MaxSize <= 0 || alloc.Total() < c.MaxSize) {
		picked := make([]string, 0, len(classify.Labels))
		for _, l := range classify.Labels {
			p := pools[l]
			qk, drawn, err := c.pick(ctx, &p)
			pools[l] = p
			res.Drawn += drawn
			if err != nil {
				return res, err
			}
			picked = append(picked, qk)
		}
		if !allFound(picked) {
			continue
		}
		subset := alloc.Allocate()
		if err := c.emit(ctx, log, runID, id, subset, picked, manifest); err != nil {
			return res, err
		}
		metrics.AllocationsTotal.WithLabelValues(subset).Inc()
		res.Triplets++
	}

	res.Counts = alloc.Counts()
	metrics.RegionsDoneTotal.Inc()
	log.Info("region_done", "region", id, "allocated", alloc.String(), "triplets", res.Triplets, "drawn", res.Drawn)
	return res, nil
}

func poolsReady(pools classify.Pools) bool {
	for _, l := range classify.Labels {
		if len(pools[l]) == 0 {
			return false
		}
	}
	return true
}

func allFound(qks []string) bool {
	for _, qk := range qks {
		if qk == "" {
			return false
		}
	}
	return true
}

// 文档注释：从池尾取出一个可用瓦片
// 背景：取出的瓦片立即写入全局占用集合，无论最终是否使用；已被其他区域占用或缓存为“确认无图”的瓦片被跳过，继续取下一个。
// 返回：瓦片 quadkey（池耗尽时为空串）与本次取出的数量。
func (c *Curator) pick(ctx context.Context, pool *[]string) (string, int, error) {
	drawn := 0
	for len(*pool) > 0 {
		p := *pool
		qk := p[len(p)-1]
		*pool = p[:len(p)-1]
		drawn++

		fresh, err := c.Claims.Claim(ctx, qk)
		if err != nil {
			return "", drawn, err
		}
		if !fresh {
			continue
		}
		st, err := c.Fetcher.Fetch(ctx, qk)
		if err != nil {
			return "", drawn, err
		}
		if st == tilecache.Present {
			return qk, drawn, nil
		}
	}
	return "", drawn, nil
}

func (c *Curator) emit(ctx context.Context, log *slog.Logger, runID string, region int, subset string, picked []string, manifest *ManifestWriter) error {
	entries := make([]Entry, 0, len(picked))
	for i, qk := range picked {
		label := classify.Labels[i]
		src, err := c.Cache.Path(qk, false)
		if err != nil {
			return err
		}
		dir := filepath.Join(c.OutDir, subset, string(label))
		if subset == SubsetTest {
			dir = filepath.Join(c.OutDir, SubsetTest)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := materialize(src, filepath.Join(dir, filepath.Base(src)), c.CopyFiles); err != nil {
			return errors.Wrapf(err, "materialize %s", qk)
		}
		entries = append(entries, Entry{Quadkey: qk, Label: label})
		if c.Recorder != nil {
			if err := c.Recorder.RecordTile(ctx, runID, EmittedTile{Region: region, Quadkey: qk, Label: label, Subset: subset}); err != nil {
				return errors.Wrap(err, "record tile")
			}
		}
	}
	if subset != SubsetTest {
		return nil
	}
	if err := manifest.Write(entries...); err != nil {
		return err
	}
	if log.Enabled(ctx, slog.LevelDebug) {
		for _, e := range entries {
			u, _ := tilegeo.QuadkeyURL(e.Quadkey)
			log.Debug("test_tile", "quadkey", e.Quadkey, "label", string(e.Label), "url", u)
		}
	}
	return nil
}
