package ports

import (
	"math/rand"

	"circuithypo/domain/circuit"
)

// PathSamplerPort samples acyclic input-to-output paths through the model graph
type PathSamplerPort interface {
	// SamplePaths returns up to nPaths paths, none of which use an excluded edge
	SamplePaths(rng *rand.Rand, nPaths int, excluded []circuit.Edge) ([][]circuit.Edge, error)
}
