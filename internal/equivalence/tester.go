// Package equivalence decides whether pruned circuits behave like the full
// model and searches for the smallest circuit that still does.
package equivalence

import (
	"context"
	"fmt"

	"circuithypo/domain/circuit"
	"circuithypo/domain/core"
	"circuithypo/domain/stats"
	"circuithypo/internal"
	"circuithypo/internal/hypotest"
	"circuithypo/ports"
)

// Request describes the circuits to compare against the reference model.
type Request struct {
	Model       ports.ModelPort
	FullModel   ports.ModelPort // reference model; Model when nil
	Dataset     ports.DatasetPort
	PruneScores circuit.PruneScores
	Score       circuit.ScoreSpec
	Ablation    circuit.AblationType
	UseAbs      bool
	Params      stats.TestParams

	// ModelOut holds precomputed reference outputs. When nil they are
	// computed once per call.
	ModelOut circuit.BatchOutputs
}

// Tester runs equivalence tests through an external circuit runner
type Tester struct {
	runner ports.CircuitRunnerPort
	scores ports.ScoreResolverPort
	logger *internal.Logger
}

// NewTester creates an equivalence tester; a nil logger uses the default
func NewTester(runner ports.CircuitRunnerPort, scores ports.ScoreResolverPort, logger *internal.Logger) *Tester {
	return &Tester{runner: runner, scores: scores, logger: logger.OrDefault()}
}

// ReferenceOutputs evaluates the reference model over the dataset.
func (t *Tester) ReferenceOutputs(ctx context.Context, req Request) (circuit.BatchOutputs, error) {
	ref := req.FullModel
	if ref == nil {
		ref = req.Model
	}
	out := make(circuit.BatchOutputs)
	for _, batch := range req.Dataset.Batches() {
		logits, err := ref.Forward(ctx, batch)
		if err != nil {
			return nil, err
		}
		out[batch.Key] = logits
	}
	return out, nil
}

// Evaluate tests the circuit at every edge count in edgeCounts and returns one
// result per count. An empty edgeCounts yields an empty map.
func (t *Tester) Evaluate(ctx context.Context, req Request, edgeCounts []int) (map[int]stats.EquivResult, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	scoreFn, err := t.scores.Resolve(req.Score)
	if err != nil {
		return nil, err
	}
	results := make(map[int]stats.EquivResult, len(edgeCounts))
	if len(edgeCounts) == 0 {
		return results, nil
	}
	total := req.Model.NumEdges()
	for _, c := range edgeCounts {
		if c < 0 || c > total {
			return nil, core.NewEdgeCountError(c, total)
		}
	}

	circuitOuts, err := t.runner.RunEdgeCounts(ctx, req.Model, req.Dataset, ports.EdgeCountRequest{
		EdgeCounts:  edgeCounts,
		PruneScores: req.PruneScores,
		PatchType:   circuit.PatchTree,
		Ablation:    req.Ablation,
		UseAbs:      req.UseAbs,
	})
	if err != nil {
		return nil, err
	}

	modelOut := req.ModelOut
	if modelOut == nil {
		if modelOut, err = t.ReferenceOutputs(ctx, req); err != nil {
			return nil, err
		}
	}

	for _, edgeCount := range edgeCounts {
		if _, done := results[edgeCount]; done {
			continue
		}
		circuitOut, ok := circuitOuts[edgeCount]
		if !ok {
			return nil, fmt.Errorf("circuit runner returned no outputs for edge count %d", edgeCount)
		}
		agg, err := ComputeNumCircuitGtModel(circuitOut, modelOut, req.Dataset, scoreFn)
		if err != nil {
			return nil, err
		}
		notEquiv, pValue, err := hypotest.NonEquivTest(agg.NumCircuitGtModel, agg.N, req.Params)
		if err != nil {
			return nil, err
		}
		t.logger.Trace("edge count %d: %d/%d circuit > model, p=%.4g, not_equiv=%v",
			edgeCount, agg.NumCircuitGtModel, agg.N, pValue, notEquiv)
		results[edgeCount] = stats.EquivResult{
			NumCircuitGtModel: agg.NumCircuitGtModel,
			N:                 agg.N,
			NotEquiv:          notEquiv,
			PValue:            pValue,
			CircuitScores:     agg.CircuitScores,
			ModelScores:       agg.ModelScores,
		}
	}
	return results, nil
}
