package ports

import (
	"math/rand"
)

// RNGPort provides seeded random number generation for reproducible sampling
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(name string, seed int64) *rand.Rand
}
