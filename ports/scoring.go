package ports

import (
	"circuithypo/domain/circuit"
)

// ScoreFunc maps a batch of outputs to one scalar score per example
type ScoreFunc func(out circuit.Logits, batch circuit.Batch) ([]float64, error)

// ScoreResolverPort looks up the score function for a (grad, answer) pair
type ScoreResolverPort interface {
	Resolve(spec circuit.ScoreSpec) (ScoreFunc, error)
}
