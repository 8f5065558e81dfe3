package equivalence

import (
	"context"

	"circuithypo/domain/core"
	"circuithypo/domain/stats"
)

// sweepWidth returns the first step of the coarse-to-fine sweep: the largest
// power of ten not above total/10, and never below one.
func sweepWidth(total int) int {
	width := 1
	for width*100 <= total {
		width *= 10
	}
	return width
}

// withReferenceOutputs fills req.ModelOut so every test in one search reuses
// the same reference outputs.
func (t *Tester) withReferenceOutputs(ctx context.Context, req Request) (Request, error) {
	if req.ModelOut != nil {
		return req, nil
	}
	modelOut, err := t.ReferenceOutputs(ctx, req)
	if err != nil {
		return req, err
	}
	req.ModelOut = modelOut
	return req, nil
}

// SweepSearch finds the smallest equivalent edge count by scanning
// [0, total] at a power-of-ten step, then rescanning the step below the
// smallest passing count at a tenth of the step until the step reaches zero.
// Only the smallest passing count of each scan is trusted, so a larger count
// that fails spuriously does not mislead the search.
func (t *Tester) SweepSearch(ctx context.Context, req Request) (stats.SearchResult, error) {
	runID := core.NewRunID()
	log := t.logger.With("run", runID.Short(), "search", "sweep")

	total := req.Model.NumEdges()
	result := stats.SearchResult{RunID: runID, MinEquiv: total, Results: make(map[int]stats.EquivResult)}
	if total <= 0 {
		result.MinEquiv = 0
		return result, nil
	}
	if err := req.Params.Validate(); err != nil {
		return result, err
	}
	req, err := t.withReferenceOutputs(ctx, req)
	if err != nil {
		return result, err
	}

	width := sweepWidth(total)
	intervalMin, intervalMax := 0, total
	for width > 0 {
		log.Debug("interval [%d, %d] width %d", intervalMin, intervalMax, width)
		edgeCounts := make([]int, 0, (intervalMax-intervalMin)/width+1)
		for c := intervalMin; c < intervalMax; c += width {
			edgeCounts = append(edgeCounts, c)
		}
		edgeCounts = append(edgeCounts, intervalMax)

		testResults, err := t.Evaluate(ctx, req, edgeCounts)
		if err != nil {
			return result, err
		}
		for c, r := range testResults {
			result.Results[c] = r
		}

		minEquiv := total
		for c, r := range testResults {
			if !r.NotEquiv && c < minEquiv {
				minEquiv = c
			}
		}
		if minEquiv%width != 0 {
			minEquiv = min(minEquiv+width-minEquiv%width, total)
		}

		newWidth := width / 10
		if minEquiv == total {
			intervalMax = total
			if len(testResults) == 1 {
				intervalMin = total
				newWidth = 0
			} else {
				intervalMin = edgeCounts[len(edgeCounts)-2]
			}
		} else {
			intervalMax = minEquiv
			intervalMin = max(minEquiv-width, 0)
		}
		if intervalMin == intervalMax {
			break
		}
		width = newWidth
	}

	result.MinEquiv = intervalMax
	if r, ok := result.Results[intervalMax]; ok && !r.NotEquiv {
		result.PValue = r.PValue
	}
	log.Info("smallest equivalent circuit: %d of %d edges (%d counts tested)", result.MinEquiv, total, len(result.Results))
	return result, nil
}

// BinarySearch bisects [0, total]: a rejected midpoint moves the search to
// larger circuits, an accepted one is recorded and the search moves to
// smaller circuits. Reference outputs are computed once for the whole search.
func (t *Tester) BinarySearch(ctx context.Context, req Request) (stats.SearchResult, error) {
	runID := core.NewRunID()
	log := t.logger.With("run", runID.Short(), "search", "binary")

	total := req.Model.NumEdges()
	result := stats.SearchResult{RunID: runID, MinEquiv: total, Results: make(map[int]stats.EquivResult)}
	if total <= 0 {
		result.MinEquiv = 0
		return result, nil
	}
	if err := req.Params.Validate(); err != nil {
		return result, err
	}
	req, err := t.withReferenceOutputs(ctx, req)
	if err != nil {
		return result, err
	}

	lo, hi := 0, total
	for lo <= hi {
		edgeCount := lo + (hi-lo+1)/2
		testResults, err := t.Evaluate(ctx, req, []int{edgeCount})
		if err != nil {
			return result, err
		}
		r := testResults[edgeCount]
		result.Results[edgeCount] = r

		if r.NotEquiv {
			log.Debug("not equiv at %d, p=%.4g, increase edge count", edgeCount, r.PValue)
			lo = edgeCount + 1
		} else {
			log.Debug("equiv at %d, p=%.4g, decrease edge count", edgeCount, r.PValue)
			result.MinEquiv = edgeCount
			result.PValue = r.PValue
			hi = edgeCount - 1
		}
	}
	log.Info("smallest equivalent circuit: %d of %d edges (%d counts tested)", result.MinEquiv, total, len(result.Results))
	return result, nil
}
