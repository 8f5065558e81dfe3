package scoring

import (
	"fmt"
	"math"

	"circuithypo/domain/circuit"
	"circuithypo/domain/core"
	"circuithypo/ports"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
)

// gradTransform maps one example's raw logits to the values answers are read from.
type gradTransform func(row []float64) []float64

// answerReducer reduces the transformed row at the answer positions of one example.
type answerReducer func(row []float64, answers, wrong []int) (float64, error)

var gradTransforms = map[circuit.GradFunc]gradTransform{
	circuit.GradLogit:   func(row []float64) []float64 { return row },
	circuit.GradProb:    softmax,
	circuit.GradLogProb: logSoftmax,
}

var answerReducers = map[circuit.AnswerFunc]answerReducer{
	circuit.AnswerAvgVal:  avgVal,
	circuit.AnswerAvgDiff: avgDiff,
	circuit.AnswerMaxDiff: maxDiff,
}

// Resolver implements ports.ScoreResolverPort over the closed grad x answer table
type Resolver struct{}

// NewResolver creates a score function resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the score function for spec
func (r *Resolver) Resolve(spec circuit.ScoreSpec) (ports.ScoreFunc, error) {
	grad, ok := gradTransforms[spec.Grad]
	if !ok {
		return nil, fmt.Errorf("%w: grad function %q", core.ErrUnknownScoreFunc, spec.Grad)
	}
	reduce, ok := answerReducers[spec.Answer]
	if !ok {
		return nil, fmt.Errorf("%w: answer function %q", core.ErrUnknownScoreFunc, spec.Answer)
	}

	return func(out circuit.Logits, batch circuit.Batch) ([]float64, error) {
		if len(out) != batch.Size() {
			return nil, fmt.Errorf("batch %s: %d output rows for %d examples", batch.Key, len(out), batch.Size())
		}
		scores := make([]float64, len(out))
		for i, row := range out {
			var answers, wrong []int
			if i < len(batch.Answers) {
				answers = batch.Answers[i]
			}
			if i < len(batch.WrongAnswers) {
				wrong = batch.WrongAnswers[i]
			}
			s, err := reduce(grad(row), answers, wrong)
			if err != nil {
				return nil, fmt.Errorf("batch %s example %d: %w", batch.Key, i, err)
			}
			scores[i] = s
		}
		return scores, nil
	}, nil
}

func softmax(row []float64) []float64 {
	lse := floats.LogSumExp(row)
	out := make([]float64, len(row))
	for i, x := range row {
		out[i] = math.Exp(x - lse)
	}
	return out
}

func logSoftmax(row []float64) []float64 {
	lse := floats.LogSumExp(row)
	out := make([]float64, len(row))
	for i, x := range row {
		out[i] = x - lse
	}
	return out
}

func gather(row []float64, idx []int) ([]float64, error) {
	vals := make([]float64, len(idx))
	for i, j := range idx {
		if j < 0 || j >= len(row) {
			return nil, fmt.Errorf("answer index %d outside output of width %d", j, len(row))
		}
		vals[i] = row[j]
	}
	return vals, nil
}

func avgVal(row []float64, answers, _ []int) (float64, error) {
	vals, err := gather(row, answers)
	if err != nil {
		return 0, err
	}
	return stats.Mean(vals)
}

func avgDiff(row []float64, answers, wrong []int) (float64, error) {
	right, err := avgVal(row, answers, nil)
	if err != nil {
		return 0, err
	}
	vals, err := gather(row, wrong)
	if err != nil {
		return 0, err
	}
	w, err := stats.Mean(vals)
	if err != nil {
		return 0, fmt.Errorf("wrong answers: %w", err)
	}
	return right - w, nil
}

func maxDiff(row []float64, answers, wrong []int) (float64, error) {
	vals, err := gather(row, answers)
	if err != nil {
		return 0, err
	}
	right, err := stats.Max(vals)
	if err != nil {
		return 0, err
	}
	if vals, err = gather(row, wrong); err != nil {
		return 0, err
	}
	w, err := stats.Max(vals)
	if err != nil {
		return 0, fmt.Errorf("wrong answers: %w", err)
	}
	return right - w, nil
}
