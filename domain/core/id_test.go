package core

import (
	"errors"
	"testing"
)

// TestNewRunIDUniqueness tests that NewRunID generates unique identifiers
func TestNewRunIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[RunID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewRunID()
		if id == "" {
			t.Errorf("Generated empty RunID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate RunID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique RunIDs, got %d", numIDs, len(ids))
	}
}

// TestRunIDShort tests the log prefix of a run identifier
func TestRunIDShort(t *testing.T) {
	id := RunID("0192a4c1-7d2e-7000-8000-000000000000")
	if id.Short() != "0192a4c1" {
		t.Errorf("Expected Short() to return '0192a4c1', got '%s'", id.Short())
	}
	if RunID("abc").Short() != "abc" {
		t.Error("Expected short IDs to be returned unchanged")
	}
	if id.String() != string(id) {
		t.Errorf("Expected String() to return '%s', got '%s'", string(id), id.String())
	}
}

// TestErrorClassification tests the sentinel helpers
func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		lookup     bool
		config     bool
	}{
		{"parameter", NewParameterError("alpha", 2, "must lie in (0, 1)"), true, false, false},
		{"edge count", NewEdgeCountError(5, 4), true, false, false},
		{"missing batch", NewMissingBatchError("circuit outputs", RunID("b1")), false, true, false},
		{"path config", NewPathConfigError("no sampler"), false, false, true},
		{"empty path", ErrEmptyPath, false, false, true},
		{"unrelated", errors.New("boom"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidationError(tt.err); got != tt.validation {
				t.Errorf("IsValidationError(%v) = %v, want %v", tt.err, got, tt.validation)
			}
			if got := IsLookupError(tt.err); got != tt.lookup {
				t.Errorf("IsLookupError(%v) = %v, want %v", tt.err, got, tt.lookup)
			}
			if got := IsConfigError(tt.err); got != tt.config {
				t.Errorf("IsConfigError(%v) = %v, want %v", tt.err, got, tt.config)
			}
		})
	}
}
