package stats

import (
	"sort"
	"strings"

	"circuithypo/domain/circuit"
	"circuithypo/domain/core"
)

// Side selects the alternative hypothesis shape of the binomial test.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
	SideNone  Side = "none" // two-tailed equivalence test
)

// ParseSide maps a case-insensitive name to a Side.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideLeft:
		return SideLeft, nil
	case SideRight:
		return SideRight, nil
	case SideNone, "":
		return SideNone, nil
	default:
		return "", core.NewParameterError("side", 0, "must be one of left, right, none (got "+s+")")
	}
}

// TestParams are the significance settings of an equivalence test.
type TestParams struct {
	Alpha   float64
	Epsilon float64
	Side    Side
}

// DefaultTestParams mirrors the usual settings: alpha 0.05, epsilon 0.1, two-tailed.
func DefaultTestParams() TestParams {
	return TestParams{Alpha: 0.05, Epsilon: 0.1, Side: SideNone}
}

// Validate fails fast on values the binomial test cannot use. A negative
// epsilon is only meaningful for the left-sided test. The zero Side is the
// two-tailed test.
func (p TestParams) Validate() error {
	if !(p.Alpha > 0 && p.Alpha < 1) {
		return core.NewParameterError("alpha", p.Alpha, "must lie in (0, 1)")
	}
	switch p.Side {
	case SideLeft:
		if !(p.Epsilon > -0.5 && p.Epsilon < 0.5) {
			return core.NewParameterError("epsilon", p.Epsilon, "must lie in (-0.5, 0.5)")
		}
	case SideRight, SideNone, "":
		if p.Epsilon < 0 {
			return core.NewParameterError("epsilon", p.Epsilon, "is negative, side must be left")
		}
		if !(p.Epsilon > 0 && p.Epsilon < 0.5) {
			return core.NewParameterError("epsilon", p.Epsilon, "must lie in (0, 0.5)")
		}
	default:
		return core.NewParameterError("side", 0, "unknown side "+string(p.Side))
	}
	return nil
}

// EquivResult is the outcome of one equivalence test at one edge count.
// The score vectors are kept for diagnostics only.
type EquivResult struct {
	NumCircuitGtModel int
	N                 int
	NotEquiv          bool
	PValue            float64
	CircuitScores     []float64
	ModelScores       []float64
}

// MinResult is the outcome of one per-edge minimality test.
type MinResult struct {
	NotMinimal        bool
	PValue            float64
	NumEdgeScoreGtRef int
	N                 int
	Diffs             []float64 // |baseline - edge ablated| per example
	DiffsInflated     []float64 // |inflated - inflated with path edge ablated| per example
}

// SearchResult is what both smallest-equivalent-circuit strategies return.
type SearchResult struct {
	RunID    core.RunID
	MinEquiv int
	PValue   float64 // p-value at MinEquiv, zero when no count passed
	Results  map[int]EquivResult
}

// EdgeCounts returns the tested edge counts in ascending order.
func (r SearchResult) EdgeCounts() []int {
	counts := make([]int, 0, len(r.Results))
	for c := range r.Results {
		counts = append(counts, c)
	}
	sort.Ints(counts)
	return counts
}

// EarlyStop bounds the ordered phase of a minimality audit and sizes the
// resampled phase. Negative limits mean no limit.
type EarlyStop struct {
	MaxEdgesInOrder            int
	MaxEdgesInOrderWithoutFail int
	MaxEdgesToSample           int
}

// Unlimited disables an ordered-phase limit.
const Unlimited = -1

// AuditResult holds both phases of a minimality audit. Order lists the
// edges of each phase in the order they were tested.
type AuditResult struct {
	RunID          core.RunID
	Threshold      float64
	Alpha          float64 // Bonferroni-adjusted
	Ordered        map[circuit.Edge]MinResult
	OrderedOrder   []circuit.Edge
	Resampled      map[circuit.Edge]MinResult
	ResampledOrder []circuit.Edge
}

// Failed reports whether any edge in either phase was found not minimal.
func (r AuditResult) Failed() bool {
	for _, res := range r.Ordered {
		if res.NotMinimal {
			return true
		}
	}
	for _, res := range r.Resampled {
		if res.NotMinimal {
			return true
		}
	}
	return false
}
