// Package hypotest holds the exact binomial and beta-binomial tests used to
// judge circuit equivalence and edge minimality.
package hypotest

import (
	"fmt"

	"circuithypo/domain/core"
	"circuithypo/domain/stats"

	"gonum.org/v1/gonum/stat/distuv"
)

// BinomialCDF returns P(X <= k) for X ~ Binomial(n, theta), computed exactly
// through the regularized incomplete beta function.
func BinomialCDF(k, n int, theta float64) float64 {
	dist := distuv.Binomial{N: float64(n), P: theta}
	return dist.CDF(float64(k))
}

// NonEquivTest tests whether the fraction of examples where the circuit beats
// the model lies outside the indifference band around 1/2.
//
//   - left:  theta = 1/2 - eps, p = P(X <= k)
//   - right: theta = 1/2 + eps, p = 1 - P(X <= k)
//   - none:  theta = 1/2 + eps, p = P(X <= min(k, n-k)) + 1 - P(X <= max(k, n-k))
//
// reject is true exactly when p < alpha.
func NonEquivTest(k, n int, params stats.TestParams) (reject bool, pValue float64, err error) {
	if err := params.Validate(); err != nil {
		return false, 0, err
	}
	if err := validateCounts(k, n); err != nil {
		return false, 0, err
	}

	switch params.Side {
	case stats.SideLeft:
		theta := 0.5 - params.Epsilon
		pValue = BinomialCDF(k, n, theta)
	case stats.SideRight:
		theta := 0.5 + params.Epsilon
		pValue = 1 - BinomialCDF(k, n, theta)
	default:
		theta := 0.5 + params.Epsilon
		leftTail := BinomialCDF(min(n-k, k), n, theta)
		rightTail := 1 - BinomialCDF(max(n-k, k), n, theta)
		pValue = leftTail + rightTail
	}
	return pValue < params.Alpha, pValue, nil
}

// MinimalityTest checks k successes against Binomial(n, qStar). A small lower
// tail means the edge beats the random control less often than qStar would
// require, so the edge is flagged as not minimal.
func MinimalityTest(k, n int, qStar, alpha float64) (notMinimal bool, pValue float64, err error) {
	if !(alpha > 0 && alpha < 1) {
		return false, 0, core.NewParameterError("alpha", alpha, "must lie in (0, 1)")
	}
	if !(qStar > 0 && qStar < 1) {
		return false, 0, core.NewParameterError("q_star", qStar, "must lie in (0, 1)")
	}
	if err := validateCounts(k, n); err != nil {
		return false, 0, err
	}
	pValue = BinomialCDF(k, n, qStar)
	return pValue < alpha, pValue, nil
}

// Bonferroni divides alpha across m simultaneous hypotheses.
func Bonferroni(alpha float64, m int) (float64, error) {
	if m <= 0 {
		return 0, core.NewParameterError("hypotheses", float64(m), "must be positive for Bonferroni correction")
	}
	return alpha / float64(m), nil
}

func validateCounts(k, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: n=%d", core.ErrNoTrials, n)
	}
	if k < 0 || k > n {
		return core.NewParameterError("k", float64(k), fmt.Sprintf("must lie in [0, %d]", n))
	}
	return nil
}
