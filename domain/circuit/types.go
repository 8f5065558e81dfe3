package circuit

import (
	"fmt"
	"sort"
)

// BatchKey is the stable identity of a batch across independently computed runs.
type BatchKey string

func (k BatchKey) String() string { return string(k) }

// Batch is one unit of evaluation data. Token sequences are per example.
type Batch struct {
	Key          BatchKey
	Clean        [][]int
	Corrupt      [][]int
	Answers      [][]int // correct answer token ids per example
	WrongAnswers [][]int // contrast answer token ids per example
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int {
	return len(b.Clean)
}

// ModuleID names the destination module that owns a row of prune scores.
type ModuleID string

// Edge is a single prunable connection, addressed by its destination module
// and its index in that module's score array.
type Edge struct {
	Dest  ModuleID
	Index int
}

func (e Edge) String() string {
	return fmt.Sprintf("%s[%d]", e.Dest, e.Index)
}

// Logits holds one output row per example.
type Logits [][]float64

// BatchOutputs maps a batch to the output of one circuit on that batch.
type BatchOutputs map[BatchKey]Logits

// CircuitOutputs maps an edge count to the outputs of the circuit of that size.
type CircuitOutputs map[int]BatchOutputs

// BatchPruneScores holds one score set per example of each batch, for runs
// where every example gets a different circuit.
type BatchPruneScores map[BatchKey][]PruneScores

// EdgeCounts returns the edge counts present in outs in ascending order.
func (outs CircuitOutputs) EdgeCounts() []int {
	counts := make([]int, 0, len(outs))
	for c := range outs {
		counts = append(counts, c)
	}
	sort.Ints(counts)
	return counts
}

// JoinValues merges the per-edge-count batch maps of outs into one batch map.
// Runs with per-example circuits group batches under differing edge counts;
// each batch key appears under exactly one of them.
func JoinValues(outs CircuitOutputs) BatchOutputs {
	joined := make(BatchOutputs)
	for _, count := range outs.EdgeCounts() {
		for key, logits := range outs[count] {
			joined[key] = logits
		}
	}
	return joined
}

// AblationType selects the value an inactive edge is replaced with.
type AblationType string

const (
	AblationResample      AblationType = "RESAMPLE"
	AblationZero          AblationType = "ZERO"
	AblationTokenwiseMean AblationType = "TOKENWISE_MEAN_CORRUPT"
)

// PatchType selects which side of the clean/corrupt pair is patched.
type PatchType string

const (
	PatchTree PatchType = "TREE_PATCH"
	PatchEdge PatchType = "EDGE_PATCH"
)

// GradFunc transforms raw logits before answers are read off.
type GradFunc string

const (
	GradLogit   GradFunc = "LOGIT"
	GradProb    GradFunc = "PROB"
	GradLogProb GradFunc = "LOGPROB"
)

// AnswerFunc reduces the transformed outputs at the answer positions to one scalar.
type AnswerFunc string

const (
	AnswerAvgVal  AnswerFunc = "AVG_VAL"
	AnswerAvgDiff AnswerFunc = "AVG_DIFF"
	AnswerMaxDiff AnswerFunc = "MAX_DIFF"
)

// ScoreSpec names the score function applied to circuit and model outputs.
type ScoreSpec struct {
	Grad   GradFunc
	Answer AnswerFunc
}

func (s ScoreSpec) String() string {
	return fmt.Sprintf("%s/%s", s.Grad, s.Answer)
}
