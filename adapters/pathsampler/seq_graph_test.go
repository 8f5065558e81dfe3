package pathsampler

import (
	"math/rand"
	"testing"

	"circuithypo/domain/circuit"
	"circuithypo/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond: a -> {b, c} -> d
func diamond() (*SeqGraph, []circuit.Edge) {
	edges := []circuit.Edge{
		{Dest: "b", Index: 0},
		{Dest: "c", Index: 0},
		{Dest: "d", Index: 0},
		{Dest: "d", Index: 1},
	}
	g, err := NewSeqGraph([]GraphEdge{
		{Edge: edges[0], From: "a", To: "b"},
		{Edge: edges[1], From: "a", To: "c"},
		{Edge: edges[2], From: "b", To: "d"},
		{Edge: edges[3], From: "c", To: "d"},
	})
	if err != nil {
		panic(err)
	}
	return g, edges
}

func TestSeqGraph_SamplePathsAvoidsExcluded(t *testing.T) {
	g, edges := diamond()
	rng := rand.New(rand.NewSource(1))

	paths, err := g.SamplePaths(rng, 25, []circuit.Edge{edges[0]})
	require.NoError(t, err)
	require.Len(t, paths, 25)
	for _, p := range paths {
		assert.Equal(t, []circuit.Edge{edges[1], edges[3]}, p)
	}
}

func TestSeqGraph_SamplePathsReachesOutput(t *testing.T) {
	g, _ := diamond()
	paths, err := g.SamplePaths(rand.New(rand.NewSource(7)), 50, nil)
	require.NoError(t, err)
	for _, p := range paths {
		assert.Len(t, p, 2)
		assert.Equal(t, circuit.ModuleID("d"), p[1].Dest)
	}
}

func TestSeqGraph_SamplePathsReproducible(t *testing.T) {
	g, _ := diamond()
	a, err := g.SamplePaths(rand.New(rand.NewSource(3)), 10, nil)
	require.NoError(t, err)
	b, err := g.SamplePaths(rand.New(rand.NewSource(3)), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSeqGraph_NoPathAvailable(t *testing.T) {
	g, edges := diamond()
	_, err := g.SamplePaths(rand.New(rand.NewSource(1)), 5, []circuit.Edge{edges[2], edges[3]})
	assert.ErrorIs(t, err, core.ErrPathConfig)

	_, err = g.SamplePaths(rand.New(rand.NewSource(1)), 0, nil)
	assert.ErrorIs(t, err, core.ErrPathConfig)
}

func TestNewSeqGraph_RejectsCycles(t *testing.T) {
	tests := []struct {
		name  string
		edges []GraphEdge
	}{
		{"cycle without exit", []GraphEdge{
			{Edge: circuit.Edge{Dest: "b", Index: 0}, From: "a", To: "b"},
			{Edge: circuit.Edge{Dest: "c", Index: 0}, From: "b", To: "c"},
			{Edge: circuit.Edge{Dest: "b", Index: 1}, From: "c", To: "b"},
		}},
		{"self loop", []GraphEdge{
			{Edge: circuit.Edge{Dest: "b", Index: 0}, From: "a", To: "b"},
			{Edge: circuit.Edge{Dest: "b", Index: 1}, From: "b", To: "b"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewSeqGraph(tt.edges)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, core.ErrPathConfig)
		})
	}
}

func TestSeqGraph_ParallelEdges(t *testing.T) {
	a := circuit.Edge{Dest: "b", Index: 0}
	b := circuit.Edge{Dest: "b", Index: 1}
	g, err := NewSeqGraph([]GraphEdge{
		{Edge: a, From: "in", To: "out"},
		{Edge: b, From: "in", To: "out"},
	})
	require.NoError(t, err)

	paths, err := g.SamplePaths(rand.New(rand.NewSource(5)), 40, nil)
	require.NoError(t, err)
	used := make(map[circuit.Edge]bool)
	for _, p := range paths {
		require.Len(t, p, 1)
		used[p[0]] = true
	}
	assert.True(t, used[a])
	assert.True(t, used[b])

	paths, err = g.SamplePaths(rand.New(rand.NewSource(5)), 5, []circuit.Edge{a})
	require.NoError(t, err)
	for _, p := range paths {
		assert.Equal(t, []circuit.Edge{b}, p)
	}
}
