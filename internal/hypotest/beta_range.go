package hypotest

import (
	"circuithypo/domain/core"

	"gonum.org/v1/gonum/stat/distuv"
)

// BetaPrior holds the Beta prior coefficients on the success probability.
type BetaPrior struct {
	A0 float64
	A1 float64
}

// UniformPrior is Beta(1, 1).
var UniformPrior = BetaPrior{A0: 1, A1: 1}

// BernoulliRangeTest returns the posterior mass of the success probability in
// [0.5-eps, 0.5+eps] under a Beta(n-k+A0, k+A1) posterior, and whether that
// mass falls short of the 1-alpha confidence target.
func BernoulliRangeTest(k, n int, eps float64, prior BetaPrior, alpha float64) (belowTarget bool, pBetween float64, err error) {
	if !(eps > 0 && eps < 0.5) {
		return false, 0, core.NewParameterError("epsilon", eps, "must lie in (0, 0.5)")
	}
	if !(alpha > 0 && alpha < 1) {
		return false, 0, core.NewParameterError("alpha", alpha, "must lie in (0, 1)")
	}
	if prior.A0 <= 0 || prior.A1 <= 0 {
		return false, 0, core.NewParameterError("prior", prior.A0*prior.A1, "coefficients must be positive")
	}
	if err := validateCounts(k, n); err != nil {
		return false, 0, err
	}

	posterior := distuv.Beta{Alpha: float64(n-k) + prior.A0, Beta: float64(k) + prior.A1}
	pBetween = posterior.CDF(0.5+eps) - posterior.CDF(0.5-eps)
	return pBetween < 1-alpha, pBetween, nil
}
