package dataset

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"tile-curator/internal/bing"
	"tile-curator/internal/classify"
	"tile-curator/internal/fetch"
	"tile-curator/internal/tilecache"
	"tile-curator/internal/tilegeo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegions：区域 id → quadkey 与投票 JSON
type fakeRegions struct {
	quadkeys map[int][]string
	tasks    map[int][]byte
}

func (f *fakeRegions) RegionQuadkeys(_ context.Context, id int) ([]string, error) {
	return append([]string(nil), f.quadkeys[id]...), nil
}

func (f *fakeRegions) OpenTasks(_ context.Context, id int) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(f.tasks[id]))), nil
}

type fakeImagery struct {
	calls     int64
	absent    map[string]bool
	failAfter int64
}

func (s *fakeImagery) FetchTile(_ context.Context, qk string) ([]byte, bool, error) {
	n := atomic.AddInt64(&s.calls, 1)
	if s.failAfter > 0 && n > s.failAfter {
		return nil, false, bing.ErrQuotaExceeded
	}
	if s.absent[qk] {
		return nil, true, nil
	}
	return []byte("jpeg:" + qk), false, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	begun    string
	tiles    []EmittedTile
	finished int
}

func (r *fakeRecorder) BeginRun(_ context.Context, runID string, _ int64, _ []int) error {
	r.begun = runID
	return nil
}

func (r *fakeRecorder) RecordTile(_ context.Context, _ string, t EmittedTile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiles = append(r.tiles, t)
	return nil
}

func (r *fakeRecorder) FinishRun(_ context.Context, _ string, triplets int) error {
	r.finished = triplets
	return nil
}

// qkRange：n 个 8 级 quadkey，从 offset 开始编号
func qkRange(offset, n int) []string {
	out := make([]string, 0, n)
	for i := offset; i < offset+n; i++ {
		s := strconv.FormatInt(int64(i), 4)
		out = append(out, strings.Repeat("0", 8-len(s))+s)
	}
	return out
}

type region struct {
	built, bad, ambiguous, silent []string
}

func (r region) all() []string {
	var out []string
	for _, p := range [][]string{r.built, r.bad, r.ambiguous, r.silent} {
		out = append(out, p...)
	}
	return out
}

func (r region) labels() map[string]classify.Label {
	out := map[string]classify.Label{}
	for _, qk := range r.built {
		out[qk] = classify.Built
	}
	for _, qk := range r.bad {
		out[qk] = classify.BadImagery
	}
	for _, qk := range append(append([]string(nil), r.ambiguous...), r.silent...) {
		out[qk] = classify.Empty
	}
	return out
}

func (r region) tasksJSON(t *testing.T) []byte {
	t.Helper()
	var recs []map[string]any
	add := func(qks []string, yes, maybe, bad int) {
		for _, qk := range qks {
			tile, err := tilegeo.QuadkeyToTile(qk)
			require.NoError(t, err)
			recs = append(recs, map[string]any{
				"task_x": tile.X, "task_y": strconv.Itoa(tile.Y), "task_z": tile.Z,
				"yes_count": yes, "maybe_count": maybe, "bad_imagery_count": bad,
			})
		}
	}
	add(r.built, 2, 0, 0)
	add(r.bad, 0, 0, 1)
	add(r.ambiguous, 1, 1, 0)
	b, err := json.Marshal(recs)
	require.NoError(t, err)
	return b
}

func newRegion(offset, built, bad, ambiguous, silent int) region {
	r := region{}
	r.built = qkRange(offset, built)
	offset += built
	r.bad = qkRange(offset, bad)
	offset += bad
	r.ambiguous = qkRange(offset, ambiguous)
	offset += ambiguous
	r.silent = qkRange(offset, silent)
	return r
}

type harness struct {
	cache   *tilecache.Cache
	imagery *fakeImagery
	source  *fakeRegions
}

func newHarness(t *testing.T, regions map[int]region) *harness {
	t.Helper()
	cache, err := tilecache.New(t.TempDir(), "jpg", 1024)
	require.NoError(t, err)
	src := &fakeRegions{quadkeys: map[int][]string{}, tasks: map[int][]byte{}}
	for id, r := range regions {
		src.quadkeys[id] = r.all()
		src.tasks[id] = r.tasksJSON(t)
	}
	return &harness{cache: cache, imagery: &fakeImagery{absent: map[string]bool{}}, source: src}
}

func (h *harness) curator(outDir string) *Curator {
	return &Curator{
		Source:  h.source,
		Fetcher: fetch.New(h.imagery, h.cache, fetch.NewLimiter(0)),
		Cache:   h.cache,
		Seed:    7,
		OutDir:  outDir,
	}
}

// outputFiles：输出目录下的瓦片文件（相对路径），不含标注文件
func outputFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == manifestName {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	return out
}

func baseQuadkey(rel string) string {
	b := filepath.Base(rel)
	return strings.TrimSuffix(b, filepath.Ext(b))
}

func TestRunBalancedTriplets(t *testing.T) {
	r := newRegion(0, 30, 30, 10, 20)
	h := newHarness(t, map[int]region{1: r})
	out := filepath.Join(t.TempDir(), "dataset")
	rec := &fakeRecorder{}
	c := h.curator(out)
	c.Recorder = rec

	sum, err := c.Run(context.Background(), []int{1})
	require.NoError(t, err)
	require.Len(t, sum.Regions, 1)
	assert.Equal(t, 30, sum.Triplets)
	assert.Equal(t, 90, sum.Regions[0].Candidates)
	assert.Equal(t, 30, sum.Counts[SubsetTrain]+sum.Counts[SubsetValid]+sum.Counts[SubsetTest])
	assert.Equal(t, map[classify.Label]int{classify.Built: 30, classify.BadImagery: 30, classify.Empty: 30}, sum.Regions[0].Pools)

	labels := r.labels()
	files := outputFiles(t, out)
	assert.Len(t, files, 90)
	perDir := map[string]int{}
	for _, f := range files {
		perDir[filepath.Dir(f)]++
		qk := baseQuadkey(f)
		parts := strings.Split(f, "/")
		if parts[0] != SubsetTest {
			assert.Equal(t, string(labels[qk]), parts[1], f)
		}
		target, err := os.Readlink(filepath.Join(out, f))
		require.NoError(t, err)
		want, _ := h.cache.Path(qk, false)
		assert.Equal(t, want, target)
	}
	for _, l := range classify.Labels {
		assert.Equal(t, sum.Counts[SubsetTrain], perDir["train/"+string(l)])
		assert.Equal(t, sum.Counts[SubsetValid], perDir["valid/"+string(l)])
	}
	assert.Equal(t, 3*sum.Counts[SubsetTest], perDir[SubsetTest])

	m, err := ReadManifest(ManifestPath(out))
	require.NoError(t, err)
	assert.Len(t, m, 3*sum.Counts[SubsetTest])
	for qk, label := range m {
		assert.Equal(t, string(labels[qk]), label)
		assert.FileExists(t, filepath.Join(out, SubsetTest, qk+".jpg"))
	}

	assert.Equal(t, sum.RunID, rec.begun)
	assert.Len(t, rec.tiles, 90)
	assert.Equal(t, 30, rec.finished)
}

func TestRunIsReproducible(t *testing.T) {
	r := newRegion(0, 20, 20, 0, 25)
	h := newHarness(t, map[int]region{1: r})

	a := filepath.Join(t.TempDir(), "a")
	_, err := h.curator(a).Run(context.Background(), []int{1})
	require.NoError(t, err)
	b := filepath.Join(t.TempDir(), "b")
	_, err = h.curator(b).Run(context.Background(), []int{1})
	require.NoError(t, err)

	assert.Equal(t, outputFiles(t, a), outputFiles(t, b))
	ma, err := os.ReadFile(ManifestPath(a))
	require.NoError(t, err)
	mb, err := os.ReadFile(ManifestPath(b))
	require.NoError(t, err)
	assert.Equal(t, string(ma), string(mb))
}

func TestRunSkipsAbsentTiles(t *testing.T) {
	r := newRegion(0, 30, 30, 0, 30)
	h := newHarness(t, map[int]region{1: r})
	for _, qk := range r.built[:5] {
		h.imagery.absent[qk] = true
	}
	out := filepath.Join(t.TempDir(), "dataset")
	sum, err := h.curator(out).Run(context.Background(), []int{1})
	require.NoError(t, err)
	assert.Equal(t, 25, sum.Triplets)

	for _, f := range outputFiles(t, out) {
		assert.False(t, h.imagery.absent[baseQuadkey(f)], f)
	}
	for _, qk := range r.built[:5] {
		s, err := h.cache.State(qk)
		require.NoError(t, err)
		assert.Equal(t, tilecache.Absent, s)
	}
}

func TestRunStopsWhenAnyPoolEmpties(t *testing.T) {
	r := newRegion(0, 3, 30, 0, 30)
	h := newHarness(t, map[int]region{1: r})
	sum, err := h.curator(filepath.Join(t.TempDir(), "dataset")).Run(context.Background(), []int{1})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Triplets)
	assert.Equal(t, 9, sum.Regions[0].Drawn)
	assert.EqualValues(t, 9, atomic.LoadInt64(&h.imagery.calls))
}

func TestRunRespectsMaxSize(t *testing.T) {
	r := newRegion(0, 30, 30, 0, 30)
	h := newHarness(t, map[int]region{1: r})
	c := h.curator(filepath.Join(t.TempDir(), "dataset"))
	c.MaxSize = 4
	sum, err := c.Run(context.Background(), []int{1})
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Triplets)
	assert.Len(t, outputFiles(t, c.OutDir), 12)
}

func TestRunDeduplicatesAcrossRegions(t *testing.T) {
	r := newRegion(0, 20, 20, 0, 20)
	shifted := newRegion(0, 20, 20, 0, 20)
	shifted.built = append(shifted.built, qkRange(1000, 5)...)
	h := newHarness(t, map[int]region{1: r, 2: shifted})
	c := h.curator(filepath.Join(t.TempDir(), "dataset"))
	c.MaxSize = 6

	sum, err := c.Run(context.Background(), []int{1, 2})
	require.NoError(t, err)
	require.Len(t, sum.Regions, 2)
	assert.Equal(t, 65, sum.Regions[1].Candidates+3*6)

	seen := map[string]string{}
	for _, f := range outputFiles(t, c.OutDir) {
		qk := baseQuadkey(f)
		prev, dup := seen[qk]
		assert.False(t, dup, "%s emitted twice: %s and %s", qk, prev, f)
		seen[qk] = f
	}
	assert.Len(t, seen, 3*sum.Triplets)
	assert.Equal(t, 12, sum.Triplets)
}

func TestRunRefusesExistingOutput(t *testing.T) {
	r := newRegion(0, 3, 3, 0, 3)
	h := newHarness(t, map[int]region{1: r})
	out := t.TempDir()
	stale := filepath.Join(out, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	_, err := h.curator(out).Run(context.Background(), []int{1})
	assert.ErrorIs(t, err, ErrOutputExists)
	assert.FileExists(t, stale)

	c := h.curator(out)
	c.Overwrite = true
	_, err = c.Run(context.Background(), []int{1})
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

func TestRunAbortsOnQuotaKeepingOutputValid(t *testing.T) {
	r := newRegion(0, 30, 30, 0, 30)
	h := newHarness(t, map[int]region{1: r})
	h.imagery.failAfter = 40
	c := h.curator(filepath.Join(t.TempDir(), "dataset"))
	c.CopyFiles = true

	_, err := c.Run(context.Background(), []int{1})
	assert.ErrorIs(t, err, bing.ErrQuotaExceeded)

	m, err := ReadManifest(ManifestPath(c.OutDir))
	require.NoError(t, err)
	for qk := range m {
		b, err := os.ReadFile(filepath.Join(c.OutDir, SubsetTest, qk+".jpg"))
		require.NoError(t, err)
		assert.Equal(t, "jpeg:"+qk, string(b))
	}
	files := outputFiles(t, c.OutDir)
	assert.Equal(t, 0, len(files)%3)
	assert.NotEmpty(t, files)
}

func TestManifestWriterFlushesPerWrite(t *testing.T) {
	out := filepath.Join(t.TempDir(), "d")
	m, err := Prepare(out, []string{SubsetTest, SubsetTrain}, false)
	require.NoError(t, err)
	defer m.Close()
	assert.DirExists(t, filepath.Join(out, "train", "bad_imagery"))

	require.NoError(t, m.Write(Entry{"0213", classify.Built}, Entry{"0212", classify.Empty}))
	b, err := os.ReadFile(ManifestPath(out))
	require.NoError(t, err)
	assert.Equal(t, "0213,built\n0212,empty\n", string(b))
	assert.Equal(t, 2, m.Lines())
}
