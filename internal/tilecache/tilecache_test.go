package tilecache

import (
	"os"
	"path/filepath"
	"testing"

	"tile-curator/internal/tilegeo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathLayout(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, "", 0)
	require.NoError(t, err)

	// "213" = 2*16 + 1*4 + 3 = 39
	p, err := c.Path("213", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "039", "213.jpg"), p)
	_, err = os.Stat(filepath.Dir(p))
	assert.True(t, os.IsNotExist(err))

	// "3333" = 255, 255 mod 128 = 127
	p, err = c.Path("3333", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "127", "3333.jpg"), p)
	fi, err := os.Stat(filepath.Dir(p))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestPathInvalidQuadkey(t *testing.T) {
	c, err := New(t.TempDir(), "png", 0)
	require.NoError(t, err)
	_, err = c.Path("12x", true)
	assert.ErrorIs(t, err, tilegeo.ErrInvalidQuadkey)
}

func TestStates(t *testing.T) {
	c, err := New(t.TempDir(), "jpg", 16)
	require.NoError(t, err)

	s, err := c.State("0123")
	require.NoError(t, err)
	assert.Equal(t, Missing, s)
	assert.False(t, c.IsCached("0123"))

	require.NoError(t, c.PutAbsent("0123"))
	s, err = c.State("0123")
	require.NoError(t, err)
	assert.Equal(t, Absent, s)
	assert.True(t, c.IsCached("0123"))

	p, _ := c.Path("0123", false)
	fi, err := os.Stat(p)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())

	require.NoError(t, c.Put("0122", []byte{0xff, 0xd8, 0xff}))
	s, err = c.State("0122")
	require.NoError(t, err)
	assert.Equal(t, Present, s)
}

func TestStateReadsExistingFilesFromDisk(t *testing.T) {
	root := t.TempDir()
	first, err := New(root, "jpg", 16)
	require.NoError(t, err)
	require.NoError(t, first.Put("2", []byte("img")))
	require.NoError(t, first.PutAbsent("3"))

	second, err := New(root, "jpg", 16)
	require.NoError(t, err)
	s, err := second.State("2")
	require.NoError(t, err)
	assert.Equal(t, Present, s)
	s, err = second.State("3")
	require.NoError(t, err)
	assert.Equal(t, Absent, s)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, "jpg", 16)
	require.NoError(t, err)
	require.NoError(t, c.Put("1", []byte("abc")))

	p, _ := c.Path("1", false)
	entries, err := os.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1.jpg", entries[0].Name())
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
}
