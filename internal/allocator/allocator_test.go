package allocator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorProportions(t *testing.T) {
	a, err := New(map[string]float64{"train": 80, "valid": 10, "test": 10})
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		a.Allocate()
	}
	c := a.Counts()
	assert.InDelta(t, 800, c["train"], 1)
	assert.InDelta(t, 100, c["valid"], 1)
	assert.InDelta(t, 100, c["test"], 1)
	assert.Equal(t, 1000, a.Total())
}

func TestAllocatorPrefixStaysClose(t *testing.T) {
	props := map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2}
	a, err := New(props)
	require.NoError(t, err)
	for i := 1; i <= 200; i++ {
		a.Allocate()
		for name, p := range props {
			got := float64(a.Counts()[name])
			assert.LessOrEqual(t, math.Abs(got-p*float64(i)), 1.0, "step %d subset %s", i, name)
		}
	}
}

func TestAllocatorTieBreakIsLexical(t *testing.T) {
	a, err := New(map[string]float64{"b": 1, "a": 1, "c": 1})
	require.NoError(t, err)
	assert.Equal(t, "a", a.Allocate())
	assert.Equal(t, "b", a.Allocate())
	assert.Equal(t, "c", a.Allocate())
	assert.Equal(t, "a", a.Allocate())
	assert.Equal(t, "a: 2, b: 1, c: 1", a.String())
}

func TestAllocatorDeterministic(t *testing.T) {
	w := map[string]float64{"train": 0.8, "valid": 0.1, "test": 0.1}
	a1, _ := New(w)
	a2, _ := New(w)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a1.Allocate(), a2.Allocate())
	}
}

func TestAllocatorRejectsBadWeights(t *testing.T) {
	for _, w := range []map[string]float64{
		nil,
		{"a": 0},
		{"a": 1, "b": -1},
		{"a": math.NaN()},
	} {
		_, err := New(w)
		assert.ErrorIs(t, err, ErrInvalidWeights)
	}
}
