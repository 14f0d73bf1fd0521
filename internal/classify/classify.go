// 包 classify：按众包投票为候选瓦片打标签
package classify

import (
	"sort"

	"tile-curator/internal/logger"
	"tile-curator/internal/metrics"
	"tile-curator/internal/tilegeo"

	"github.com/pkg/errors"
)

type Label string

const (
	Built      Label = "built"
	BadImagery Label = "bad_imagery"
	Empty      Label = "empty"
)

// Labels：固定的池顺序，抽样与洗牌均按此顺序进行
var Labels = []Label{Built, BadImagery, Empty}

// Votes：单个瓦片的累计票数；同一瓦片出现多条记录时逐条相加
type Votes struct {
	Yes        int
	Maybe      int
	BadImagery int
}

func (v Votes) Add(o Votes) Votes {
	return Votes{Yes: v.Yes + o.Yes, Maybe: v.Maybe + o.Maybe, BadImagery: v.BadImagery + o.BadImagery}
}

func (v Votes) Total() int { return v.Yes + v.Maybe + v.BadImagery }

// 文档注释：标签判定阈值
// 约束：built 要求无 maybe 与 bad_imagery 票；bad_imagery 要求无 yes 与 maybe 票；其余一律视为未分类。
type Policy struct {
	BuiltFloor      int
	BadImageryFloor int
}

func DefaultPolicy() Policy { return Policy{BuiltFloor: 1, BadImageryFloor: 1} }

// Label：返回票数对应的标签；ok=false 表示未分类
func (p Policy) Label(v Votes) (Label, bool) {
	switch {
	case v.Yes >= p.BuiltFloor && v.Maybe == 0 && v.BadImagery == 0:
		return Built, true
	case v.Yes == 0 && v.Maybe == 0 && v.BadImagery >= p.BadImageryFloor:
		return BadImagery, true
	}
	return "", false
}

// Task：一条投票记录
type Task struct {
	Tile  tilegeo.Tile
	Votes Votes
}

// 文档注释：投票记录流
// 背景：项目投票文件可能很大，按条读取，读完即丢弃。
// 约束：Next 返回 false 后调用 Err 判断是正常结束还是读取失败。
type TaskStream interface {
	Next() bool
	Task() Task
	Err() error
}

// Pools：每个标签下的 quadkey 列表（调用 Classify 后已排序）
type Pools map[Label][]string

// Sizes：各池大小，用于日志
func (p Pools) Sizes() map[Label]int {
	out := make(map[Label]int, len(Labels))
	for _, l := range Labels {
		out[l] = len(p[l])
	}
	return out
}

// 文档注释：候选瓦片分类
// 参数：
// - candidates：区域内尚未被占用的瓦片；
// - stream：投票记录，单次顺序遍历；
// - policy：判定阈值。
// 返回：三个池；未收到任何投票或未分类的候选瓦片归入 empty，非候选瓦片的投票被忽略。
func Classify(candidates []string, stream TaskStream, policy Policy) (Pools, error) {
	votes := make(map[string]Votes, len(candidates))
	for _, qk := range candidates {
		votes[qk] = Votes{}
	}
	records, matched := 0, 0
	for stream.Next() {
		t := stream.Task()
		records++
		qk := tilegeo.TileToQuadkey(t.Tile)
		if v, ok := votes[qk]; ok {
			votes[qk] = v.Add(t.Votes)
			matched++
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrap(err, "read tasks")
	}

	pools := Pools{Built: nil, BadImagery: nil, Empty: nil}
	for qk, v := range votes {
		label, ok := policy.Label(v)
		if !ok {
			label = Empty
		}
		pools[label] = append(pools[label], qk)
	}
	for _, l := range Labels {
		sort.Strings(pools[l])
		metrics.ClassifiedTilesTotal.WithLabelValues(string(l)).Add(float64(len(pools[l])))
	}
	logger.L().Debug("classify_done", "candidates", len(candidates), "records", records, "matched", matched,
		"built", len(pools[Built]), "bad_imagery", len(pools[BadImagery]), "empty", len(pools[Empty]))
	return pools, nil
}

// 文档注释：汇总多个投票流
// 背景：用于统计投票覆盖情况；与 Classify 相同的累加语义，但不限定候选集合。
func TallyVotes(streams ...TaskStream) (map[string]Votes, error) {
	out := make(map[string]Votes)
	for i, s := range streams {
		for s.Next() {
			t := s.Task()
			qk := tilegeo.TileToQuadkey(t.Tile)
			out[qk] = out[qk].Add(t.Votes)
		}
		if err := s.Err(); err != nil {
			return nil, errors.Wrapf(err, "tally stream %d", i)
		}
	}
	return out, nil
}
