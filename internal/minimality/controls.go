package minimality

import (
	"context"
	"fmt"
	"math/rand"

	"circuithypo/domain/circuit"
	"circuithypo/domain/core"
	"circuithypo/ports"
)

// filteredPaths returns the caller's paths or samples fresh ones that avoid
// every candidate edge.
func (a *Auditor) filteredPaths(req Request, rng *rand.Rand) ([][]circuit.Edge, error) {
	paths := req.FilteredPaths
	if paths == nil {
		if a.sampler == nil {
			return nil, core.NewPathConfigError("a path sampler is required when no filtered paths are given")
		}
		if req.NPaths <= 0 {
			return nil, core.NewPathConfigError(fmt.Sprintf("n_paths must be positive when no filtered paths are given, got %d", req.NPaths))
		}
		var err error
		if paths, err = a.sampler.SamplePaths(rng, req.NPaths, req.Edges); err != nil {
			return nil, err
		}
	}
	if len(paths) == 0 {
		return nil, core.NewPathConfigError("no filtered paths to build control circuits from")
	}
	return paths, nil
}

// runControls assigns every example a random path, forces the path active
// above the threshold, and runs that inflated circuit. It then zeroes one
// random non-candidate edge of each example's path and runs again.
func (s *Session) runControls(ctx context.Context, paths [][]circuit.Edge) error {
	req := s.req
	candidates := make(map[circuit.Edge]bool, len(req.Edges))
	for _, e := range req.Edges {
		candidates[e] = true
	}

	inflated := make(circuit.BatchPruneScores)
	assigned := make(map[circuit.BatchKey][][]circuit.Edge)
	for _, batch := range req.Dataset.Batches() {
		perExample := make([]circuit.PruneScores, batch.Size())
		batchPaths := make([][]circuit.Edge, batch.Size())
		for i := range perExample {
			path := paths[s.rng.Intn(len(paths))]
			scores := req.PruneScores.Clone()
			for _, edge := range path {
				if err := scores.Set(edge, s.threshold+1); err != nil {
					return err
				}
			}
			perExample[i] = scores
			batchPaths[i] = path
		}
		inflated[batch.Key] = perExample
		assigned[batch.Key] = batchPaths
	}
	out, err := s.runPerExample(ctx, inflated)
	if err != nil {
		return err
	}
	s.inflated = out

	ablated := make(circuit.BatchPruneScores, len(inflated))
	for _, batch := range req.Dataset.Batches() {
		perExample := make([]circuit.PruneScores, batch.Size())
		for i, scores := range inflated[batch.Key] {
			choices := ablatable(assigned[batch.Key][i], candidates)
			if len(choices) == 0 {
				return fmt.Errorf("%w: batch %s example %d", core.ErrEmptyPath, batch.Key, i)
			}
			edge := choices[s.rng.Intn(len(choices))]
			if perExample[i], err = scores.With(edge, 0); err != nil {
				return err
			}
		}
		ablated[batch.Key] = perExample
	}
	if s.ablatedPaths, err = s.runPerExample(ctx, ablated); err != nil {
		return err
	}
	return nil
}

// runPerExample runs one circuit per example. Examples may end up with
// different edge counts, so outputs are merged across counts.
func (s *Session) runPerExample(ctx context.Context, perExample circuit.BatchPruneScores) (circuit.BatchOutputs, error) {
	req := s.req
	outs, err := s.auditor.runner.RunThreshold(ctx, req.Model, req.Dataset, ports.ThresholdRequest{
		Threshold:   s.threshold,
		PruneScores: req.PruneScores,
		PerExample:  perExample,
		PatchType:   circuit.PatchTree,
		Ablation:    req.Ablation,
		UseAbs:      req.UseAbs,
	})
	if err != nil {
		return nil, err
	}
	return circuit.JoinValues(outs), nil
}

// ablatable lists the distinct path edges that are not candidates, in path order.
func ablatable(path []circuit.Edge, candidates map[circuit.Edge]bool) []circuit.Edge {
	seen := make(map[circuit.Edge]bool, len(path))
	var out []circuit.Edge
	for _, e := range path {
		if candidates[e] || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
