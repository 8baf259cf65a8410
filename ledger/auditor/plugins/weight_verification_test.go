package plugins

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{1, 2, 3}
	require.InDelta(t, 1.0, cosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{0, 1}
	require.InDelta(t, 0.0, cosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarityZeroVectorIsZero(t *testing.T) {
	require.Equal(t, 0.0, cosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}

func TestDensifyPlacesWeightsAtUID(t *testing.T) {
	out := densify([]uint64{0, 2}, []uint16{100, 200}, 4)
	require.Equal(t, []float64{100, 0, 200, 0}, out)
}
