package core

import (
	"github.com/google/uuid"
)

// RunID identifies one search or audit invocation in the logs.
type RunID string

// NewRunID creates a time-ordered run identifier, falling back to v4.
func NewRunID() RunID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return RunID(id.String())
}

func (id RunID) String() string { return string(id) }

// Short returns the first eight characters, enough to tell runs apart in logs.
func (id RunID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}
