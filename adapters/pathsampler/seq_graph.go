package pathsampler

import (
	"fmt"
	"math/rand"
	"sort"

	"circuithypo/domain/circuit"
	"circuithypo/domain/core"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// NodeID names a node of the computation graph.
type NodeID string

// GraphEdge places a prunable edge between two graph nodes.
type GraphEdge struct {
	Edge circuit.Edge
	From NodeID
	To   NodeID
}

// SeqGraph is a directed acyclic computation graph. Paths run from nodes
// without incoming edges to nodes without outgoing edges.
type SeqGraph struct {
	g      *simple.DirectedGraph
	names  []NodeID
	inputs []int64

	// prunable edges between each node pair, in insertion order
	lines map[[2]int64][]GraphEdge

	// MaxAttemptsPerPath bounds the random walks spent per requested path.
	MaxAttemptsPerPath int
}

// NewSeqGraph builds a graph from its edges. Cyclic input is rejected with
// core.ErrPathConfig.
func NewSeqGraph(edges []GraphEdge) (*SeqGraph, error) {
	seen := make(map[NodeID]bool)
	for _, e := range edges {
		if e.From == e.To {
			return nil, core.NewPathConfigError(fmt.Sprintf("edge %s loops on node %s", e.Edge, e.From))
		}
		seen[e.From] = true
		seen[e.To] = true
	}

	sg := &SeqGraph{
		g:                  simple.NewDirectedGraph(),
		lines:              make(map[[2]int64][]GraphEdge),
		MaxAttemptsPerPath: 20,
	}
	for n := range seen {
		sg.names = append(sg.names, n)
	}
	sort.Slice(sg.names, func(i, j int) bool { return sg.names[i] < sg.names[j] })

	ids := make(map[NodeID]int64, len(sg.names))
	for i, n := range sg.names {
		ids[n] = int64(i)
		sg.g.AddNode(simple.Node(i))
	}
	for _, e := range edges {
		key := [2]int64{ids[e.From], ids[e.To]}
		if _, ok := sg.lines[key]; !ok {
			sg.g.SetEdge(sg.g.NewEdge(simple.Node(key[0]), simple.Node(key[1])))
		}
		sg.lines[key] = append(sg.lines[key], e)
	}

	if _, err := topo.Sort(sg.g); err != nil {
		return nil, core.NewPathConfigError(fmt.Sprintf("computation graph is not acyclic: %v", err))
	}

	for id := range sg.names {
		if sg.g.To(int64(id)).Len() == 0 {
			sg.inputs = append(sg.inputs, int64(id))
		}
	}
	return sg, nil
}

// SamplePaths implements ports.PathSamplerPort with uniform random walks from
// a random input node, never stepping onto an excluded edge. Walks that get
// stuck before an output node are discarded.
func (sg *SeqGraph) SamplePaths(rng *rand.Rand, nPaths int, excluded []circuit.Edge) ([][]circuit.Edge, error) {
	if rng == nil {
		return nil, core.NewPathConfigError("random source is required")
	}
	if nPaths <= 0 {
		return nil, core.NewPathConfigError(fmt.Sprintf("n_paths must be positive, got %d", nPaths))
	}
	if len(sg.inputs) == 0 {
		return nil, core.NewPathConfigError("graph has no input nodes")
	}

	skip := make(map[circuit.Edge]bool, len(excluded))
	for _, e := range excluded {
		skip[e] = true
	}

	paths := make([][]circuit.Edge, 0, nPaths)
	for attempt := 0; attempt < nPaths*sg.MaxAttemptsPerPath && len(paths) < nPaths; attempt++ {
		if path, ok := sg.walk(rng, skip); ok {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		return nil, core.NewPathConfigError("no input-to-output path avoids the excluded edges")
	}
	return paths, nil
}

func (sg *SeqGraph) walk(rng *rand.Rand, skip map[circuit.Edge]bool) ([]circuit.Edge, bool) {
	node := sg.inputs[rng.Intn(len(sg.inputs))]
	var path []circuit.Edge
	for {
		succ := graph.NodesOf(sg.g.From(node))
		if len(succ) == 0 {
			return path, len(path) > 0
		}
		// From iterates in map order
		sort.Slice(succ, func(i, j int) bool { return succ[i].ID() < succ[j].ID() })

		var allowed []GraphEdge
		var targets []int64
		for _, to := range succ {
			for _, e := range sg.lines[[2]int64{node, to.ID()}] {
				if !skip[e.Edge] {
					allowed = append(allowed, e)
					targets = append(targets, to.ID())
				}
			}
		}
		if len(allowed) == 0 {
			return nil, false
		}
		i := rng.Intn(len(allowed))
		path = append(path, allowed[i].Edge)
		node = targets[i]
	}
}
