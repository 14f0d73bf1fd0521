package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"tile-curator/internal/classify"

	"github.com/pkg/errors"
)

const (
	SubsetTrain = "train"
	SubsetValid = "valid"
	SubsetTest  = "test"

	manifestName = "solutions.csv"
)

var ErrOutputExists = errors.New("output directory already exists")

// DefaultWeights：train/valid/test 的目标比例
func DefaultWeights() map[string]float64 {
	return map[string]float64{SubsetTrain: 80, SubsetValid: 10, SubsetTest: 10}
}

// ManifestPath：测试集标注文件位置
func ManifestPath(outDir string) string {
	return filepath.Join(outDir, SubsetTest, manifestName)
}

// 文档注释：准备输出目录
// 背景：已存在的目录默认拒绝覆盖；overwrite=true 时整体删除后重建。
// 返回：已截断的测试集标注文件写入器，由调用方关闭。
func Prepare(outDir string, subsets []string, overwrite bool) (*ManifestWriter, error) {
	if _, err := os.Stat(outDir); err == nil {
		if !overwrite {
			return nil, errors.Wrapf(ErrOutputExists, "%s", outDir)
		}
		if err := os.RemoveAll(outDir); err != nil {
			return nil, errors.Wrapf(err, "remove %s", outDir)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", outDir)
	}
	for _, s := range subsets {
		if s == SubsetTest {
			continue
		}
		for _, l := range classify.Labels {
			if err := os.MkdirAll(filepath.Join(outDir, s, string(l)), 0o755); err != nil {
				return nil, err
			}
		}
	}
	if err := os.MkdirAll(filepath.Join(outDir, SubsetTest), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(ManifestPath(outDir))
	if err != nil {
		return nil, errors.Wrap(err, "create manifest")
	}
	return &ManifestWriter{f: f, w: csv.NewWriter(f)}, nil
}

// 文档注释：测试集标注写入器
// 约束：每个三元组写完立即 Flush，进程中断时已写入的行保持完整。
type ManifestWriter struct {
	f      *os.File
	w      *csv.Writer
	n      int
	closed bool
}

// Entry：一行标注
type Entry struct {
	Quadkey string
	Label   classify.Label
}

func (m *ManifestWriter) Write(entries ...Entry) error {
	for _, e := range entries {
		if err := m.w.Write([]string{e.Quadkey, string(e.Label)}); err != nil {
			return errors.Wrap(err, "write manifest")
		}
	}
	m.w.Flush()
	if err := m.w.Error(); err != nil {
		return errors.Wrap(err, "flush manifest")
	}
	m.n += len(entries)
	return nil
}

// Lines：已写入行数
func (m *ManifestWriter) Lines() int { return m.n }

func (m *ManifestWriter) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.w.Flush()
	werr := m.w.Error()
	if err := m.f.Close(); err != nil {
		return err
	}
	return werr
}

// ReadManifest：读取标注文件为 quadkey → 标签
func ReadManifest(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	out := make(map[string]string)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		out[rec[0]] = rec[1]
	}
}

// 文档注释：把缓存中的瓦片放到输出位置
// 背景：支持符号链接的平台链接到缓存文件的绝对路径，避免重复占用磁盘；否则复制。
func materialize(src, dst string, copyFiles bool) error {
	if !copyFiles && runtime.GOOS != "windows" {
		abs, err := filepath.Abs(src)
		if err != nil {
			return err
		}
		if err := os.Symlink(abs, dst); err == nil {
			return nil
		}
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
