package ports

import (
	"context"

	"circuithypo/domain/circuit"
)

// EdgeCountRequest runs one circuit per edge count, all cut from the same scores
type EdgeCountRequest struct {
	EdgeCounts  []int
	PruneScores circuit.PruneScores
	PatchType   circuit.PatchType
	Ablation    circuit.AblationType
	UseAbs      bool
}

// ThresholdRequest runs the circuit of all edges scoring at least Threshold.
// When PerExample is set, example i of batch b uses PerExample[b][i] instead
// of PruneScores, so each example may run a different circuit.
type ThresholdRequest struct {
	Threshold   float64
	PruneScores circuit.PruneScores
	PerExample  circuit.BatchPruneScores
	PatchType   circuit.PatchType
	Ablation    circuit.AblationType
	UseAbs      bool
}

// CircuitRunnerPort executes pruned circuits of a model over a dataset.
// Outputs are keyed by the edge count of the circuit that produced them.
type CircuitRunnerPort interface {
	RunEdgeCounts(ctx context.Context, model ModelPort, dataset DatasetPort, req EdgeCountRequest) (circuit.CircuitOutputs, error)
	RunThreshold(ctx context.Context, model ModelPort, dataset DatasetPort, req ThresholdRequest) (circuit.CircuitOutputs, error)
}
