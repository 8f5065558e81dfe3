// Package report turns search and audit results into summaries and
// Markdown/HTML tables for inspection.
package report

import (
	"errors"
	"math"

	"github.com/montanaflynn/stats"
)

// ScoreSummary describes the distribution of a per-example score vector.
type ScoreSummary struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	Median float64
	Lower  float64 // quantile at QuantileRange[0]
	Upper  float64 // quantile at QuantileRange[1]
}

// QuantileRange is the pair of quantiles reported as Lower and Upper.
type QuantileRange [2]float64

// FullRange reports the minimum and maximum as the quantile band.
var FullRange = QuantileRange{0, 1}

// Summarize computes the summary statistics of data. Empty input yields a
// zero summary. StdDev uses the n-1 denominator.
func Summarize(data []float64, qr QuantileRange) (ScoreSummary, error) {
	s := ScoreSummary{Count: len(data)}
	if len(data) == 0 {
		return s, nil
	}

	var err error
	if s.Mean, err = stats.Mean(data); err != nil {
		return s, err
	}
	// sample standard deviation; a single value has none
	if len(data) > 1 {
		if s.StdDev, err = stats.StandardDeviationSample(data); err != nil {
			return s, err
		}
	}
	if s.Min, err = stats.Min(data); err != nil {
		return s, err
	}
	if s.Max, err = stats.Max(data); err != nil {
		return s, err
	}
	if s.Median, err = stats.Median(data); err != nil {
		return s, err
	}
	if s.Lower, err = quantile(data, qr[0], s); err != nil {
		return s, err
	}
	if s.Upper, err = quantile(data, qr[1], s); err != nil {
		return s, err
	}
	return s, nil
}

// ErrQuantile is returned for a quantile outside [0, 1].
var ErrQuantile = errors.New("quantile must lie in [0, 1]")

// quantile maps q in [0, 1] onto stats.Percentile, whose domain excludes 0.
func quantile(data []float64, q float64, s ScoreSummary) (float64, error) {
	switch {
	case math.IsNaN(q) || q < 0 || q > 1:
		return math.NaN(), ErrQuantile
	case q == 0:
		return s.Min, nil
	case q == 1:
		return s.Max, nil
	default:
		return stats.Percentile(data, q*100)
	}
}
