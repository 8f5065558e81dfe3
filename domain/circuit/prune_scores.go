package circuit

import (
	"fmt"
	"math"
	"sort"

	"circuithypo/domain/core"
)

// PruneScores maps each destination module to the importance scores of its
// incoming edges. One value is one circuit definition.
//
// Testers never write to a caller's PruneScores: every modified variant is
// produced from Clone or With.
type PruneScores map[ModuleID][]float64

// Clone returns a deep copy.
func (p PruneScores) Clone() PruneScores {
	out := make(PruneScores, len(p))
	for mod, scores := range p {
		cp := make([]float64, len(scores))
		copy(cp, scores)
		out[mod] = cp
	}
	return out
}

// With returns a copy of p in which edge has the given score.
func (p PruneScores) With(edge Edge, score float64) (PruneScores, error) {
	out := p.Clone()
	if err := out.Set(edge, score); err != nil {
		return nil, err
	}
	return out, nil
}

// Set overwrites the score of edge in place. Only call it on a copy you own.
func (p PruneScores) Set(edge Edge, score float64) error {
	scores, ok := p[edge.Dest]
	if !ok {
		return fmt.Errorf("edge %s: unknown module %q", edge, edge.Dest)
	}
	if edge.Index < 0 || edge.Index >= len(scores) {
		return fmt.Errorf("edge %s: index out of range [0, %d)", edge, len(scores))
	}
	scores[edge.Index] = score
	return nil
}

// Score returns the score of edge and whether it exists.
func (p PruneScores) Score(edge Edge) (float64, bool) {
	scores, ok := p[edge.Dest]
	if !ok || edge.Index < 0 || edge.Index >= len(scores) {
		return 0, false
	}
	return scores[edge.Index], true
}

// NumEdges returns the total number of prunable edges.
func (p PruneScores) NumEdges() int {
	n := 0
	for _, scores := range p {
		n += len(scores)
	}
	return n
}

// Modules returns the module ids in sorted order.
func (p PruneScores) Modules() []ModuleID {
	mods := make([]ModuleID, 0, len(p))
	for mod := range p {
		mods = append(mods, mod)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i] < mods[j] })
	return mods
}

// Threshold returns the score an edge must reach to be among the edgeCount
// highest-scoring edges. Zero edges maps to +Inf.
func (p PruneScores) Threshold(edgeCount int, useAbs bool) (float64, error) {
	total := p.NumEdges()
	if edgeCount < 0 || edgeCount > total {
		return 0, core.NewEdgeCountError(edgeCount, total)
	}
	if edgeCount == 0 {
		return math.Inf(1), nil
	}
	flat := make([]float64, 0, total)
	for _, mod := range p.Modules() {
		for _, s := range p[mod] {
			flat = append(flat, magnitude(s, useAbs))
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(flat)))
	return flat[edgeCount-1], nil
}

// IsActive reports whether a score passes threshold.
func IsActive(score, threshold float64, useAbs bool) bool {
	return magnitude(score, useAbs) >= threshold
}

// CountActive returns the number of edges whose score passes threshold.
func (p PruneScores) CountActive(threshold float64, useAbs bool) int {
	n := 0
	for _, scores := range p {
		for _, s := range scores {
			if IsActive(s, threshold, useAbs) {
				n++
			}
		}
	}
	return n
}

// CircuitEdges lists the edgeCount highest-scoring edges, highest first.
// Ties are broken by module then index so the order is reproducible.
func (p PruneScores) CircuitEdges(edgeCount int, useAbs bool) ([]Edge, error) {
	total := p.NumEdges()
	if edgeCount < 0 || edgeCount > total {
		return nil, core.NewEdgeCountError(edgeCount, total)
	}
	type scored struct {
		edge  Edge
		score float64
	}
	all := make([]scored, 0, total)
	for _, mod := range p.Modules() {
		for i, s := range p[mod] {
			all = append(all, scored{edge: Edge{Dest: mod, Index: i}, score: magnitude(s, useAbs)})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	edges := make([]Edge, edgeCount)
	for i := range edges {
		edges[i] = all[i].edge
	}
	return edges, nil
}

func magnitude(score float64, useAbs bool) float64 {
	if useAbs {
		return math.Abs(score)
	}
	return score
}
