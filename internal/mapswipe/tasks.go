package mapswipe

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"

	"tile-curator/internal/classify"
	"tile-curator/internal/tilegeo"

	"github.com/pkg/errors"
)

// flexInt：接受 JSON 数字或数字字符串；null 与空串视为 0
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
		if len(b) == 0 {
			*n = 0
			return nil
		}
	}
	if v, err := strconv.Atoi(string(b)); err == nil {
		*n = flexInt(v)
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return errors.Errorf("not an integer: %q", b)
	}
	*n = flexInt(f)
	return nil
}

type rawTask struct {
	TaskX           flexInt `json:"task_x"`
	TaskY           flexInt `json:"task_y"`
	TaskZ           flexInt `json:"task_z"`
	YesCount        flexInt `json:"yes_count"`
	MaybeCount      flexInt `json:"maybe_count"`
	BadImageryCount flexInt `json:"bad_imagery_count"`
}

// 文档注释：项目投票文件的流式解码器
// 背景：文件顶层为记录数组（部分导出为以任务 id 为键的对象，同样支持），逐条解码不整体载入内存。
// 约束：结构错误返回 ErrUpstreamData；解码器不可复用。
type TaskDecoder struct {
	dec     *json.Decoder
	started bool
	object  bool
	done    bool
	cur     classify.Task
	err     error
}

func NewTaskDecoder(r io.Reader) *TaskDecoder {
	return &TaskDecoder{dec: json.NewDecoder(r)}
}

func (d *TaskDecoder) Next() bool {
	if d.done || d.err != nil {
		return false
	}
	if !d.started {
		d.started = true
		tok, err := d.dec.Token()
		if err != nil {
			d.fail(errors.Wrapf(ErrUpstreamData, "tasks: %v", err))
			return false
		}
		switch tok {
		case json.Delim('['):
		case json.Delim('{'):
			d.object = true
		default:
			d.fail(errors.Wrapf(ErrUpstreamData, "tasks: unexpected token %v", tok))
			return false
		}
	}
	if !d.dec.More() {
		if _, err := d.dec.Token(); err != nil {
			d.fail(errors.Wrapf(ErrUpstreamData, "tasks: %v", err))
			return false
		}
		d.done = true
		return false
	}
	if d.object {
		if _, err := d.dec.Token(); err != nil {
			d.fail(errors.Wrapf(ErrUpstreamData, "tasks key: %v", err))
			return false
		}
	}
	var rt rawTask
	if err := d.dec.Decode(&rt); err != nil {
		d.fail(errors.Wrapf(ErrUpstreamData, "task record: %v", err))
		return false
	}
	d.cur = classify.Task{
		Tile: tilegeo.Tile{X: int(rt.TaskX), Y: int(rt.TaskY), Z: int(rt.TaskZ)},
		Votes: classify.Votes{
			Yes:        int(rt.YesCount),
			Maybe:      int(rt.MaybeCount),
			BadImagery: int(rt.BadImageryCount),
		},
	}
	return true
}

func (d *TaskDecoder) fail(err error) {
	d.err = err
	d.done = true
}

func (d *TaskDecoder) Task() classify.Task { return d.cur }

func (d *TaskDecoder) Err() error { return d.err }

var _ classify.TaskStream = (*TaskDecoder)(nil)
