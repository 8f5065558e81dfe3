package report

import (
	"testing"

	"circuithypo/domain/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hinge: 90 zero scores followed by 10 rising ones, top scores negative
func hingeScores() circuit.PruneScores {
	flat := make([]float64, 90)
	rising := make([]float64, 10)
	for i := range rising {
		rising[i] = -float64(i + 1)
	}
	return circuit.PruneScores{"layer.0": flat, "layer.1": rising}
}

func TestEdgeScoreKnee(t *testing.T) {
	rep, err := EdgeScoreKnee(hingeScores(), true, 12)
	require.NoError(t, err)

	assert.Equal(t, 100, rep.Edges)
	assert.Equal(t, 12, rep.MinEquiv)
	assert.Equal(t, Knee{Method: "interp1d", EdgeCount: 10, Found: true}, rep.Interp)
	assert.Equal(t, "polynomial", rep.Poly.Method)
	if rep.Poly.Found {
		assert.Greater(t, rep.Poly.EdgeCount, 0)
		assert.Less(t, rep.Poly.EdgeCount, 100)
	}
}

func TestEdgeScoreKnee_TooFewScores(t *testing.T) {
	tests := []struct {
		name   string
		scores circuit.PruneScores
	}{
		{"empty", nil},
		{"two edges", circuit.PruneScores{"layer.0": {1, 2}}},
		{"constant", circuit.PruneScores{"layer.0": {3, 3, 3, 3}}},
		{"constant in magnitude", circuit.PruneScores{"layer.0": {-3, 3, -3, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EdgeScoreKnee(tt.scores, true, 0)
			assert.ErrorIs(t, err, ErrNoScores)
		})
	}
}

func TestKneedle_NoKneeOnLine(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	_, ok := kneedle(x, x, KneeSensitivity)
	assert.False(t, ok)
}
