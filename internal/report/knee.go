package report

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"circuithypo/domain/circuit"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// KneeSensitivity is the Kneedle S parameter.
const KneeSensitivity = 1.0

// kneePolyDegree is the degree of the polynomial smoothing the scores.
const kneePolyDegree = 7

// ErrNoScores is returned when there are too few distinct scores to locate a
// knee.
var ErrNoScores = errors.New("too few edge scores for a knee")

// Knee is one knee estimate expressed as a circuit size.
type Knee struct {
	Method    string
	EdgeCount int
	Found     bool
}

// KneeReport compares the knees of the sorted edge score curve with the
// smallest equivalent circuit.
type KneeReport struct {
	Edges    int
	MinEquiv int
	Interp   Knee // on the raw scores
	Poly     Knee // on a degree-7 least squares fit
}

// EdgeScoreKnee locates the knee of the ascending edge score curve with
// Kneedle (convex, increasing) and reports it as the number of top edges
// above the knee.
func EdgeScoreKnee(scores circuit.PruneScores, useAbs bool, minEquiv int) (KneeReport, error) {
	var y []float64
	for _, mod := range scores.Modules() {
		for _, s := range scores[mod] {
			if useAbs {
				s = math.Abs(s)
			}
			y = append(y, s)
		}
	}
	sort.Float64s(y)

	rep := KneeReport{
		Edges:    len(y),
		MinEquiv: minEquiv,
		Interp:   Knee{Method: "interp1d"},
		Poly:     Knee{Method: "polynomial"},
	}
	if len(y) < 3 || floats.Min(y) == floats.Max(y) {
		return rep, fmt.Errorf("%w: %d edges", ErrNoScores, len(y))
	}

	x := floats.Span(make([]float64, len(y)), 0, float64(len(y)))

	if knee, ok := kneedle(x, y, KneeSensitivity); ok {
		rep.Interp.EdgeCount, rep.Interp.Found = int(math.Round(float64(len(y))-knee)), true
	}

	fit, err := polyFit(x, y, min(kneePolyDegree, len(y)-1))
	if err != nil {
		return rep, fmt.Errorf("polynomial fit: %w", err)
	}
	if knee, ok := kneedle(x, fit, KneeSensitivity); ok {
		rep.Poly.EdgeCount, rep.Poly.Found = int(math.Round(float64(len(y))-knee)), true
	}
	return rep, nil
}

// kneedle returns the x of the first knee of a convex increasing curve,
// scanning from the right end. x must be evenly spaced.
func kneedle(x, y []float64, s float64) (float64, bool) {
	n := len(x)
	xn, ok := normalize(x)
	if !ok {
		return 0, false
	}
	yn, ok := normalize(y)
	if !ok {
		return 0, false
	}

	// difference curve, reversed so the scan runs from the largest scores down
	diff := make([]float64, n)
	for i := range diff {
		j := n - 1 - i
		diff[i] = xn[j] - yn[j]
	}
	step := 1 / float64(n-1)

	first := -1
	for i := range diff {
		if isLocalMax(diff, i) {
			first = i
			break
		}
	}
	if first < 0 {
		return 0, false
	}

	threshold, thresholdIdx := math.Inf(-1), -1
	for i := first; i < n-1; i++ {
		if isLocalMax(diff, i) {
			threshold, thresholdIdx = diff[i]-s*step, i
		}
		if isLocalMin(diff, i) {
			threshold = 0
		}
		if diff[i+1] < threshold {
			return x[n-1-thresholdIdx], true
		}
	}
	return 0, false
}

func isLocalMax(v []float64, i int) bool {
	return (i == 0 || v[i] >= v[i-1]) && (i == len(v)-1 || v[i] >= v[i+1])
}

func isLocalMin(v []float64, i int) bool {
	return (i == 0 || v[i] <= v[i-1]) && (i == len(v)-1 || v[i] <= v[i+1])
}

func normalize(v []float64) ([]float64, bool) {
	lo, hi := floats.Min(v), floats.Max(v)
	if hi == lo {
		return nil, false
	}
	out := make([]float64, len(v))
	copy(out, v)
	floats.AddConst(-lo, out)
	floats.Scale(1/(hi-lo), out)
	return out, true
}

// polyFit returns the least squares polynomial of the given degree evaluated
// at x. x is rescaled to [0, 1] to keep the Vandermonde matrix conditioned.
func polyFit(x, y []float64, degree int) ([]float64, error) {
	t, ok := normalize(x)
	if !ok {
		return nil, ErrNoScores
	}
	a := mat.NewDense(len(t), degree+1, nil)
	for i, ti := range t {
		p := 1.0
		for d := 0; d <= degree; d++ {
			a.Set(i, d, p)
			p *= ti
		}
	}
	var coef mat.VecDense
	if err := coef.SolveVec(a, mat.NewVecDense(len(y), y)); err != nil {
		return nil, err
	}
	var fitted mat.VecDense
	fitted.MulVec(a, &coef)
	return fitted.RawVector().Data, nil
}
