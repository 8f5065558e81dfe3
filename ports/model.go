package ports

import (
	"context"

	"circuithypo/domain/circuit"
)

// ModelPort is a patchable model whose edges can be pruned by a CircuitRunner
type ModelPort interface {
	// NumEdges returns the number of prunable edges in the computation graph
	NumEdges() int

	// Forward evaluates the unpruned model on the clean inputs of batch and
	// returns the outputs at the answer position, one row per example
	Forward(ctx context.Context, batch circuit.Batch) (circuit.Logits, error)
}

// DatasetPort yields evaluation batches.
// Every call to Batches must return the same keys in the same order.
type DatasetPort interface {
	Batches() []circuit.Batch
}
