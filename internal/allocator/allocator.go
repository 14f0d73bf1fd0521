// 包 allocator：按目标比例把样本逐个分配到若干子集
package allocator

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidWeights = errors.New("invalid allocator weights")

// 文档注释：比例分配器
// 背景：每次分配选择“目标比例 − 当前占比”最大的子集，任意前缀上的实际占比都贴近目标比例。
// 约束：并列时取名字字典序最小者，结果完全确定；非并发安全。
type Allocator struct {
	names  []string
	props  map[string]float64
	counts map[string]int
	total  int
}

// New：权重须为正数且至少一个，内部归一化
func New(weights map[string]float64) (*Allocator, error) {
	if len(weights) == 0 {
		return nil, errors.Wrap(ErrInvalidWeights, "no subsets")
	}
	sum := 0.0
	names := make([]string, 0, len(weights))
	for name, w := range weights {
		if !(w > 0) {
			return nil, errors.Wrapf(ErrInvalidWeights, "subset %q weight %v", name, w)
		}
		sum += w
		names = append(names, name)
	}
	sort.Strings(names)
	a := &Allocator{names: names, props: make(map[string]float64, len(names)), counts: make(map[string]int, len(names))}
	for _, n := range names {
		a.props[n] = weights[n] / sum
		a.counts[n] = 0
	}
	return a, nil
}

func (a *Allocator) Allocate() string {
	a.total++
	best, bestDeficit := "", 0.0
	for _, n := range a.names {
		d := a.props[n] - float64(a.counts[n])/float64(a.total)
		if best == "" || d > bestDeficit {
			best, bestDeficit = n, d
		}
	}
	a.counts[best]++
	return best
}

// Counts：各子集已分配数量（副本）
func (a *Allocator) Counts() map[string]int {
	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

func (a *Allocator) Total() int { return a.total }

// String：按名字排序的 "name: count" 列表
func (a *Allocator) String() string {
	parts := make([]string, 0, len(a.names))
	for _, n := range a.names {
		parts = append(parts, n+": "+strconv.Itoa(a.counts[n]))
	}
	return strings.Join(parts, ", ")
}
