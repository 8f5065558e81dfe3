package testkit

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"

	"circuithypo/adapters/pathsampler"
	"circuithypo/domain/circuit"
	"circuithypo/ports"
)

// SyntheticConfig describes a layered toy model whose output is additive in
// its active edges, so circuit behavior is known in closed form.
//
// Layer l has Width nodes; module "layer.<l>" holds the Width*Width edges from
// layer l to layer l+1. Edges are ranked by prune score in index-major order
// so every module contributes to small circuits.
type SyntheticConfig struct {
	Layers int
	Width  int

	// Edges ranked below Cutoff carry Weight; the rest carry BackgroundWeight.
	Cutoff           int
	Weight           float64
	BackgroundWeight float64

	// DeadRanks are ranks that carry no weight even below Cutoff.
	DeadRanks []int

	// Jitter is added to even examples and subtracted from odd ones whenever
	// a circuit (rather than the full model) runs.
	Jitter float64

	Batches   int
	BatchSize int
}

// DefaultConfig is a 3-layer model with 48 edges, the first 12 of which matter.
func DefaultConfig() SyntheticConfig {
	return SyntheticConfig{
		Layers:    3,
		Width:     4,
		Cutoff:    12,
		Weight:    1.0,
		Jitter:    0.1,
		Batches:   4,
		BatchSize: 10,
	}
}

// Model is the synthetic patchable model.
type Model struct {
	cfg     SyntheticConfig
	scores  circuit.PruneScores
	weights map[circuit.Edge]float64
	ranked  []circuit.Edge
}

// NewModel builds the synthetic model for cfg.
func NewModel(cfg SyntheticConfig) *Model {
	perModule := cfg.Width * cfg.Width
	total := cfg.Layers * perModule

	dead := make(map[int]bool, len(cfg.DeadRanks))
	for _, r := range cfg.DeadRanks {
		dead[r] = true
	}

	m := &Model{
		cfg:     cfg,
		scores:  make(circuit.PruneScores, cfg.Layers),
		weights: make(map[circuit.Edge]float64, total),
		ranked:  make([]circuit.Edge, 0, total),
	}
	for l := 0; l < cfg.Layers; l++ {
		m.scores[moduleID(l)] = make([]float64, perModule)
	}
	rank := 0
	for idx := 0; idx < perModule; idx++ {
		for l := 0; l < cfg.Layers; l++ {
			edge := circuit.Edge{Dest: moduleID(l), Index: idx}
			m.scores[edge.Dest][idx] = float64(total - rank)
			switch {
			case dead[rank]:
				m.weights[edge] = 0
			case rank < cfg.Cutoff:
				m.weights[edge] = cfg.Weight
			default:
				m.weights[edge] = cfg.BackgroundWeight
			}
			m.ranked = append(m.ranked, edge)
			rank++
		}
	}
	return m
}

func moduleID(layer int) circuit.ModuleID {
	return circuit.ModuleID(fmt.Sprintf("layer.%d", layer))
}

// NumEdges implements ports.ModelPort.
func (m *Model) NumEdges() int { return len(m.ranked) }

// PruneScores returns a copy of the model's edge ranking as prune scores.
func (m *Model) PruneScores() circuit.PruneScores { return m.scores.Clone() }

// Ranked returns the edges from highest to lowest prune score.
func (m *Model) Ranked() []circuit.Edge {
	out := make([]circuit.Edge, len(m.ranked))
	copy(out, m.ranked)
	return out
}

// Weight returns the contribution of edge to the output score.
func (m *Model) Weight(edge circuit.Edge) float64 { return m.weights[edge] }

// Forward implements ports.ModelPort: every edge active, no jitter.
func (m *Model) Forward(_ context.Context, batch circuit.Batch) (circuit.Logits, error) {
	full := 0.0
	for _, edge := range m.ranked {
		full += m.weights[edge]
	}
	out := make(circuit.Logits, batch.Size())
	for i := range out {
		out[i] = []float64{full, 0}
	}
	return out, nil
}

func (m *Model) circuitScore(scores circuit.PruneScores, threshold float64, useAbs bool, example int) float64 {
	total := 0.0
	for _, edge := range m.ranked {
		if s, ok := scores.Score(edge); ok && circuit.IsActive(s, threshold, useAbs) {
			total += m.weights[edge]
		}
	}
	if example%2 == 0 {
		return total + m.cfg.Jitter
	}
	return total - m.cfg.Jitter
}

// Graph returns the model's computation graph for path sampling.
func (m *Model) Graph() *pathsampler.SeqGraph {
	w := m.cfg.Width
	edges := make([]pathsampler.GraphEdge, 0, len(m.ranked))
	for l := 0; l < m.cfg.Layers; l++ {
		for src := 0; src < w; src++ {
			for dst := 0; dst < w; dst++ {
				edges = append(edges, pathsampler.GraphEdge{
					Edge: circuit.Edge{Dest: moduleID(l), Index: src*w + dst},
					From: pathsampler.NodeID(fmt.Sprintf("L%d.%d", l, src)),
					To:   pathsampler.NodeID(fmt.Sprintf("L%d.%d", l+1, dst)),
				})
			}
		}
	}
	g, err := pathsampler.NewSeqGraph(edges)
	if err != nil {
		// layered graphs are acyclic
		panic(err)
	}
	return g
}

// Dataset is a fixed list of batches.
type Dataset struct {
	batches []circuit.Batch
}

// NewDataset builds cfg.Batches batches of cfg.BatchSize prompts each.
func NewDataset(cfg SyntheticConfig) *Dataset {
	batches := make([]circuit.Batch, cfg.Batches)
	for b := range batches {
		batch := circuit.Batch{Key: circuit.BatchKey(fmt.Sprintf("batch-%03d", b))}
		for i := 0; i < cfg.BatchSize; i++ {
			batch.Clean = append(batch.Clean, []int{b, i})
			batch.Corrupt = append(batch.Corrupt, []int{b, -i})
			batch.Answers = append(batch.Answers, []int{0})
			batch.WrongAnswers = append(batch.WrongAnswers, []int{1})
		}
		batches[b] = batch
	}
	return &Dataset{batches: batches}
}

// Batches implements ports.DatasetPort.
func (d *Dataset) Batches() []circuit.Batch { return d.batches }

// Size returns the total number of examples.
func (d *Dataset) Size() int {
	n := 0
	for _, b := range d.batches {
		n += b.Size()
	}
	return n
}

// Runner is a ports.CircuitRunnerPort for Model. It counts its calls.
type Runner struct {
	EdgeCountCalls int
	ThresholdCalls int
}

// NewRunner creates a synthetic circuit runner.
func NewRunner() *Runner { return &Runner{} }

func asModel(model ports.ModelPort) (*Model, error) {
	m, ok := model.(*Model)
	if !ok {
		return nil, fmt.Errorf("synthetic runner cannot execute %T", model)
	}
	return m, nil
}

// RunEdgeCounts implements ports.CircuitRunnerPort.
func (r *Runner) RunEdgeCounts(_ context.Context, model ports.ModelPort, dataset ports.DatasetPort, req ports.EdgeCountRequest) (circuit.CircuitOutputs, error) {
	r.EdgeCountCalls++
	m, err := asModel(model)
	if err != nil {
		return nil, err
	}
	outs := make(circuit.CircuitOutputs, len(req.EdgeCounts))
	for _, count := range req.EdgeCounts {
		threshold, err := req.PruneScores.Threshold(count, req.UseAbs)
		if err != nil {
			return nil, err
		}
		batchOuts := make(circuit.BatchOutputs)
		for _, batch := range dataset.Batches() {
			logits := make(circuit.Logits, batch.Size())
			for i := range logits {
				logits[i] = []float64{m.circuitScore(req.PruneScores, threshold, req.UseAbs, i), 0}
			}
			batchOuts[batch.Key] = logits
		}
		outs[count] = batchOuts
	}
	return outs, nil
}

// RunThreshold implements ports.CircuitRunnerPort. Outputs of each batch are
// grouped under the size of its first example's circuit.
func (r *Runner) RunThreshold(_ context.Context, model ports.ModelPort, dataset ports.DatasetPort, req ports.ThresholdRequest) (circuit.CircuitOutputs, error) {
	r.ThresholdCalls++
	m, err := asModel(model)
	if err != nil {
		return nil, err
	}
	outs := make(circuit.CircuitOutputs)
	for _, batch := range dataset.Batches() {
		perExample, hasPerExample := req.PerExample[batch.Key]
		if req.PerExample != nil && !hasPerExample {
			return nil, fmt.Errorf("no per-example scores for batch %s", batch.Key)
		}
		logits := make(circuit.Logits, batch.Size())
		groupCount := -1
		for i := range logits {
			scores := req.PruneScores
			if hasPerExample {
				scores = perExample[i]
			}
			if groupCount < 0 {
				groupCount = scores.CountActive(req.Threshold, req.UseAbs)
			}
			logits[i] = []float64{m.circuitScore(scores, req.Threshold, req.UseAbs, i), 0}
		}
		if outs[groupCount] == nil {
			outs[groupCount] = make(circuit.BatchOutputs)
		}
		outs[groupCount][batch.Key] = logits
	}
	return outs, nil
}

// RNGAdapter implements ports.RNGPort with name-salted seeds
type RNGAdapter struct{}

// SeededStream creates a deterministic random number generator for a named operation
func (RNGAdapter) SeededStream(name string, seed int64) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return rand.New(rand.NewSource(seed ^ int64(h.Sum64())))
}
