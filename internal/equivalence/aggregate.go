package equivalence

import (
	"fmt"

	"circuithypo/domain/circuit"
	"circuithypo/domain/core"
	"circuithypo/ports"
)

// Aggregate is the per-example comparison of one circuit against the model.
type Aggregate struct {
	NumCircuitGtModel int
	N                 int
	CircuitScores     []float64 // concatenated in dataset order
	ModelScores       []float64
}

// ComputeNumCircuitGtModel scores circuit and model outputs batch by batch and
// counts the examples where the circuit scores strictly higher.
func ComputeNumCircuitGtModel(
	circuitOut, modelOut circuit.BatchOutputs,
	dataset ports.DatasetPort,
	scoreFn ports.ScoreFunc,
) (Aggregate, error) {
	var agg Aggregate
	for _, batch := range dataset.Batches() {
		circOutBatch, ok := circuitOut[batch.Key]
		if !ok {
			return Aggregate{}, core.NewMissingBatchError("circuit outputs", batch.Key)
		}
		modelOutBatch, ok := modelOut[batch.Key]
		if !ok {
			return Aggregate{}, core.NewMissingBatchError("model outputs", batch.Key)
		}

		circScore, err := scoreFn(circOutBatch, batch)
		if err != nil {
			return Aggregate{}, err
		}
		modelScore, err := scoreFn(modelOutBatch, batch)
		if err != nil {
			return Aggregate{}, err
		}
		if len(circScore) != batch.Size() || len(modelScore) != batch.Size() {
			return Aggregate{}, fmt.Errorf("batch %s: score function returned %d/%d scores for %d examples",
				batch.Key, len(circScore), len(modelScore), batch.Size())
		}

		for i := range circScore {
			if circScore[i] > modelScore[i] {
				agg.NumCircuitGtModel++
			}
		}
		agg.N += batch.Size()
		agg.CircuitScores = append(agg.CircuitScores, circScore...)
		agg.ModelScores = append(agg.ModelScores, modelScore...)
	}
	return agg, nil
}
