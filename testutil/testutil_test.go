package testutil

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformRangeVectors(t *testing.T) {
	v := NewRNG(4711).UniformRangeVectors(8, 32)

	require.Len(t, v, 8)
	for _, vec := range v {
		require.Len(t, vec, 32)
		for _, x := range vec {
			assert.GreaterOrEqual(t, x, float32(-1))
			assert.Less(t, x, float32(1))
		}
	}
}

func TestUnitVectors(t *testing.T) {
	v := NewRNG(4711).UnitVectors(8, 32)

	require.Len(t, v, 8)
	for _, vec := range v {
		var norm float64
		for _, x := range vec {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	}
}

func TestRNG_Deterministic(t *testing.T) {
	a := NewRNG(7).UnitVectors(4, 8)
	b := NewRNG(7).UnitVectors(4, 8)
	assert.Equal(t, a, b)
	assert.Equal(t, NewRNG(7).Vault(3, "x"), NewRNG(7).Vault(3, "x"))
}

func TestVault(t *testing.T) {
	v := NewRNG(1).Vault(5, "notes")

	require.Len(t, v, 5)
	for p, text := range v {
		assert.True(t, strings.HasPrefix(p, "notes/note-"))
		assert.True(t, strings.HasSuffix(p, ".md"))
		assert.True(t, strings.HasPrefix(text, "# "))
	}
}

func TestExactTopK(t *testing.T) {
	dataset := [][]float32{{1, 0}, {0, 1}, {1, 1}, {-1, 0}}

	got := ExactTopK([]float32{1, 0}, dataset, 3)
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].Index)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.Equal(t, 2, got[1].Index)
	assert.Equal(t, 1, got[2].Index)

	assert.Len(t, ExactTopK([]float32{1, 0}, dataset, 10), 4)
}

func TestComputeRecall(t *testing.T) {
	exact := []Neighbor{{Index: 1}, {Index: 2}, {Index: 3}, {Index: 4}}

	assert.InDelta(t, 1.0, ComputeRecall([]int{4, 3, 2, 1}, exact), 1e-9)
	assert.InDelta(t, 0.5, ComputeRecall([]int{1, 9, 3}, exact), 1e-9)
	assert.InDelta(t, 1.0, ComputeRecall(nil, nil), 1e-9)
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, []float32{1, 2, 3, 4}, Flatten([][]float32{{1, 2}, {3, 4}}))
	assert.Nil(t, Flatten(nil))
}
