// Package minimality audits whether every edge of a circuit is needed by
// comparing the effect of removing it against the effect of removing a random
// edge from a randomly inflated circuit of similar size.
package minimality

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"circuithypo/domain/circuit"
	"circuithypo/domain/core"
	"circuithypo/domain/stats"
	"circuithypo/internal"
	"circuithypo/internal/hypotest"
	"circuithypo/ports"
)

// Request describes one minimality audit.
type Request struct {
	Model       ports.ModelPort
	Dataset     ports.DatasetPort
	PruneScores circuit.PruneScores

	// Edges are the candidate edges, tested in this order.
	Edges     []circuit.Edge
	EdgeCount int

	Ablation circuit.AblationType
	Score    circuit.ScoreSpec
	UseAbs   bool

	// FilteredPaths are control paths avoiding Edges. When nil, NPaths paths
	// are drawn from the auditor's path sampler.
	FilteredPaths [][]circuit.Edge
	NPaths        int

	// CircuitOut and Threshold are computed from EdgeCount when unset.
	CircuitOut circuit.BatchOutputs
	Threshold  *float64

	Alpha     float64
	QStar     float64
	EarlyStop stats.EarlyStop

	// Rng drives path assignment and edge resampling. A time-seeded source
	// is used when nil.
	Rng *rand.Rand
}

// Auditor runs minimality audits through an external circuit runner
type Auditor struct {
	runner  ports.CircuitRunnerPort
	scores  ports.ScoreResolverPort
	sampler ports.PathSamplerPort
	logger  *internal.Logger
}

// NewAuditor creates a minimality auditor. sampler may be nil when every
// request carries its own filtered paths.
func NewAuditor(runner ports.CircuitRunnerPort, scores ports.ScoreResolverPort, sampler ports.PathSamplerPort, logger *internal.Logger) *Auditor {
	return &Auditor{runner: runner, scores: scores, sampler: sampler, logger: logger.OrDefault()}
}

// Audit tests the candidate edges in order until the early-stop limits are
// hit. If any edge fails, a second independent sample of candidates is tested.
func (a *Auditor) Audit(ctx context.Context, req Request) (stats.AuditResult, error) {
	runID := core.NewRunID()
	log := a.logger.With("run", runID.Short(), "audit", "minimality")

	session, err := a.Prepare(ctx, req)
	if err != nil {
		return stats.AuditResult{}, err
	}
	result := stats.AuditResult{
		RunID:     runID,
		Threshold: session.threshold,
		Alpha:     session.alpha,
		Ordered:   make(map[circuit.Edge]stats.MinResult),
		Resampled: make(map[circuit.Edge]stats.MinResult),
	}

	limits := req.EarlyStop
	hasFailed := false
	for i, edge := range req.Edges {
		res, err := session.TestEdge(ctx, edge)
		if err != nil {
			return result, err
		}
		hasFailed = hasFailed || res.NotMinimal
		result.Ordered[edge] = res
		result.OrderedOrder = append(result.OrderedOrder, edge)
		log.Trace("edge %s: k=%d/%d p=%.4g not_minimal=%v", edge, res.NumEdgeScoreGtRef, res.N, res.PValue, res.NotMinimal)

		if hasFailed && limits.MaxEdgesInOrder >= 0 && i >= limits.MaxEdgesInOrder {
			break
		}
		if limits.MaxEdgesInOrderWithoutFail >= 0 && i >= limits.MaxEdgesInOrderWithoutFail {
			break
		}
	}
	log.Debug("ordered phase tested %d of %d edges, failed=%v", len(result.OrderedOrder), len(req.Edges), hasFailed)

	if !hasFailed {
		return result, nil
	}

	n := len(req.Edges)
	if limits.MaxEdgesToSample >= 0 {
		n = min(limits.MaxEdgesToSample, n)
	}
	for _, idx := range session.rng.Perm(len(req.Edges))[:n] {
		edge := req.Edges[idx]
		res, err := session.TestEdge(ctx, edge)
		if err != nil {
			return result, err
		}
		result.Resampled[edge] = res
		result.ResampledOrder = append(result.ResampledOrder, edge)
	}
	log.Info("minimality audit: %d ordered, %d resampled, alpha=%.3g", len(result.OrderedOrder), len(result.ResampledOrder), session.alpha)
	return result, nil
}

// Session holds the baseline and control outputs shared by every edge test
// of one audit.
type Session struct {
	auditor *Auditor
	req     Request
	rng     *rand.Rand

	threshold float64
	alpha     float64
	scoreFn   ports.ScoreFunc

	circuitOut   circuit.BatchOutputs
	inflated     circuit.BatchOutputs
	ablatedPaths circuit.BatchOutputs
}

// Prepare validates req, computes the baseline circuit and runs the inflated
// and path-ablated control circuits.
func (a *Auditor) Prepare(ctx context.Context, req Request) (*Session, error) {
	if req.EdgeCount <= 0 || req.EdgeCount > req.Model.NumEdges() {
		return nil, core.NewEdgeCountError(req.EdgeCount, req.Model.NumEdges())
	}
	if !(req.Alpha > 0 && req.Alpha < 1) {
		return nil, core.NewParameterError("alpha", req.Alpha, "must lie in (0, 1)")
	}
	alpha, err := hypotest.Bonferroni(req.Alpha, req.EdgeCount)
	if err != nil {
		return nil, err
	}
	if !(req.QStar > 0 && req.QStar < 1) {
		return nil, core.NewParameterError("q_star", req.QStar, "must lie in (0, 1)")
	}
	scoreFn, err := a.scores.Resolve(req.Score)
	if err != nil {
		return nil, err
	}

	s := &Session{auditor: a, req: req, rng: req.Rng, alpha: alpha, scoreFn: scoreFn}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	if req.Threshold != nil {
		s.threshold = *req.Threshold
	} else if s.threshold, err = req.PruneScores.Threshold(req.EdgeCount, req.UseAbs); err != nil {
		return nil, err
	}

	paths, err := a.filteredPaths(req, s.rng)
	if err != nil {
		return nil, err
	}

	s.circuitOut = req.CircuitOut
	if s.circuitOut == nil {
		outs, err := a.runner.RunEdgeCounts(ctx, req.Model, req.Dataset, ports.EdgeCountRequest{
			EdgeCounts:  []int{req.EdgeCount},
			PruneScores: req.PruneScores,
			PatchType:   circuit.PatchTree,
			Ablation:    req.Ablation,
			UseAbs:      req.UseAbs,
		})
		if err != nil {
			return nil, err
		}
		out, ok := outs[req.EdgeCount]
		if !ok {
			return nil, fmt.Errorf("circuit runner returned no outputs for edge count %d", req.EdgeCount)
		}
		s.circuitOut = out
	}

	if err := s.runControls(ctx, paths); err != nil {
		return nil, err
	}
	return s, nil
}

// Threshold returns the pruning threshold of the audited circuit.
func (s *Session) Threshold() float64 { return s.threshold }

// Alpha returns the Bonferroni-adjusted significance level.
func (s *Session) Alpha() float64 { return s.alpha }

// TestEdge zeroes edge in the baseline circuit and counts the examples where
// removing it moves the score more than removing a random path edge moves
// the inflated control.
func (s *Session) TestEdge(ctx context.Context, edge circuit.Edge) (stats.MinResult, error) {
	req := s.req
	ablated, err := req.PruneScores.With(edge, 0)
	if err != nil {
		return stats.MinResult{}, err
	}
	outs, err := s.auditor.runner.RunThreshold(ctx, req.Model, req.Dataset, ports.ThresholdRequest{
		Threshold:   s.threshold,
		PruneScores: ablated,
		PatchType:   circuit.PatchTree,
		Ablation:    req.Ablation,
		UseAbs:      req.UseAbs,
	})
	if err != nil {
		return stats.MinResult{}, err
	}
	ablatedOut := circuit.JoinValues(outs)

	var res stats.MinResult
	for _, batch := range req.Dataset.Batches() {
		scored := make([][]float64, 0, 4)
		for _, src := range []struct {
			name string
			out  circuit.BatchOutputs
		}{
			{"circuit outputs", s.circuitOut},
			{"edge-ablated outputs", ablatedOut},
			{"inflated outputs", s.inflated},
			{"path-ablated outputs", s.ablatedPaths},
		} {
			logits, ok := src.out[batch.Key]
			if !ok {
				return stats.MinResult{}, core.NewMissingBatchError(src.name, batch.Key)
			}
			scores, err := s.scoreFn(logits, batch)
			if err != nil {
				return stats.MinResult{}, err
			}
			if len(scores) != batch.Size() {
				return stats.MinResult{}, fmt.Errorf("batch %s: score function returned %d scores for %d examples",
					batch.Key, len(scores), batch.Size())
			}
			scored = append(scored, scores)
		}
		base, abl, infl, inflAbl := scored[0], scored[1], scored[2], scored[3]
		for i := range base {
			diff := math.Abs(base[i] - abl[i])
			diffInflated := math.Abs(infl[i] - inflAbl[i])
			if diff > diffInflated {
				res.NumEdgeScoreGtRef++
			}
			res.Diffs = append(res.Diffs, diff)
			res.DiffsInflated = append(res.DiffsInflated, diffInflated)
		}
		res.N += batch.Size()
	}

	res.NotMinimal, res.PValue, err = hypotest.MinimalityTest(res.NumEdgeScoreGtRef, res.N, req.QStar, s.alpha)
	if err != nil {
		return stats.MinResult{}, err
	}
	return res, nil
}
