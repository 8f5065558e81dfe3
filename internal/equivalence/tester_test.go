package equivalence

import (
	"context"
	"sort"
	"testing"

	"circuithypo/adapters/scoring"
	"circuithypo/domain/circuit"
	"circuithypo/domain/core"
	"circuithypo/domain/stats"
	"circuithypo/internal"
	"circuithypo/internal/testkit"
	"circuithypo/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var logitVal = circuit.ScoreSpec{Grad: circuit.GradLogit, Answer: circuit.AnswerAvgVal}

// countingModel is a reference model that records its forward passes.
type countingModel struct {
	*testkit.Model
	forwards int
}

func (m *countingModel) Forward(ctx context.Context, batch circuit.Batch) (circuit.Logits, error) {
	m.forwards++
	return m.Model.Forward(ctx, batch)
}

type fixture struct {
	model   *testkit.Model
	ref     *countingModel
	dataset *testkit.Dataset
	runner  *testkit.Runner
	tester  *Tester
}

func newFixture(cfg testkit.SyntheticConfig) fixture {
	model := testkit.NewModel(cfg)
	runner := testkit.NewRunner()
	return fixture{
		model:   model,
		ref:     &countingModel{Model: model},
		dataset: testkit.NewDataset(cfg),
		runner:  runner,
		tester:  NewTester(runner, scoring.NewResolver(), internal.Discard),
	}
}

func (f fixture) request() Request {
	return Request{
		Model:       f.model,
		FullModel:   f.ref,
		Dataset:     f.dataset,
		PruneScores: f.model.PruneScores(),
		Score:       logitVal,
		Ablation:    circuit.AblationResample,
		UseAbs:      true,
		Params:      stats.DefaultTestParams(),
	}
}

// thousandEdges has 1000 edges of which the top 300 carry the whole output.
func thousandEdges() testkit.SyntheticConfig {
	cfg := testkit.DefaultConfig()
	cfg.Layers = 10
	cfg.Width = 10
	cfg.Cutoff = 300
	return cfg
}

func TestComputeNumCircuitGtModel(t *testing.T) {
	cfg := testkit.DefaultConfig()
	f := newFixture(cfg)
	scoreFn, err := scoring.NewResolver().Resolve(logitVal)
	require.NoError(t, err)

	modelOut, err := f.tester.ReferenceOutputs(context.Background(), f.request())
	require.NoError(t, err)
	outs, err := f.runner.RunEdgeCounts(context.Background(), f.model, f.dataset, ports.EdgeCountRequest{
		EdgeCounts:  []int{12},
		PruneScores: f.model.PruneScores(),
		UseAbs:      true,
	})
	require.NoError(t, err)

	agg, err := ComputeNumCircuitGtModel(outs[12], modelOut, f.dataset, scoreFn)
	require.NoError(t, err)
	assert.Equal(t, cfg.Batches*cfg.BatchSize, agg.N)
	assert.Equal(t, agg.N/2, agg.NumCircuitGtModel) // even examples jitter up
	assert.Len(t, agg.CircuitScores, agg.N)
	assert.Len(t, agg.ModelScores, agg.N)
	assert.InDelta(t, 12.1, agg.CircuitScores[0], 1e-9)
	assert.InDelta(t, 11.9, agg.CircuitScores[1], 1e-9)
}

func TestComputeNumCircuitGtModel_MissingBatch(t *testing.T) {
	f := newFixture(testkit.DefaultConfig())
	scoreFn, err := scoring.NewResolver().Resolve(logitVal)
	require.NoError(t, err)
	modelOut, err := f.tester.ReferenceOutputs(context.Background(), f.request())
	require.NoError(t, err)

	partial := circuit.BatchOutputs{}
	for k, v := range modelOut {
		partial[k] = v
		break
	}

	_, err = ComputeNumCircuitGtModel(partial, modelOut, f.dataset, scoreFn)
	assert.ErrorIs(t, err, core.ErrMissingBatch)
	assert.True(t, core.IsLookupError(err))

	_, err = ComputeNumCircuitGtModel(modelOut, partial, f.dataset, scoreFn)
	assert.ErrorIs(t, err, core.ErrMissingBatch)
}

type sliceDataset []circuit.Batch

func (d sliceDataset) Batches() []circuit.Batch { return d }

func TestComputeNumCircuitGtModel_BatchOrderAndSizes(t *testing.T) {
	batch := func(key string, size int) circuit.Batch {
		b := circuit.Batch{Key: circuit.BatchKey(key)}
		for i := 0; i < size; i++ {
			b.Clean = append(b.Clean, []int{i})
		}
		return b
	}
	logits := func(vals ...float64) circuit.Logits {
		out := make(circuit.Logits, len(vals))
		for i, v := range vals {
			out[i] = []float64{v}
		}
		return out
	}
	firstColumn := func(out circuit.Logits, _ circuit.Batch) ([]float64, error) {
		scores := make([]float64, len(out))
		for i, row := range out {
			scores[i] = row[0]
		}
		return scores, nil
	}

	circuitOut := circuit.BatchOutputs{"a": logits(1), "b": logits(-1, 2, 3), "c": logits(0, 5)}
	modelOut := circuit.BatchOutputs{"a": logits(0), "b": logits(0, 0, 0), "c": logits(0, 0)}
	a, b, c := batch("a", 1), batch("b", 3), batch("c", 2)

	var want Aggregate
	for i, order := range []sliceDataset{{a, b, c}, {c, a, b}, {b, c, a}} {
		agg, err := ComputeNumCircuitGtModel(circuitOut, modelOut, order, firstColumn)
		require.NoError(t, err)
		assert.Equal(t, 4, agg.NumCircuitGtModel)
		assert.Equal(t, 6, agg.N)
		assert.Len(t, agg.CircuitScores, 6)

		sort.Float64s(agg.CircuitScores)
		if i == 0 {
			want = agg
			continue
		}
		assert.Equal(t, want.CircuitScores, agg.CircuitScores)
	}
}

func TestEvaluate(t *testing.T) {
	f := newFixture(testkit.DefaultConfig())

	results, err := f.tester.Evaluate(context.Background(), f.request(), []int{0, 6, 12, 48})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].NotEquiv)
	assert.True(t, results[6].NotEquiv)
	assert.False(t, results[12].NotEquiv)
	assert.False(t, results[48].NotEquiv)
	assert.Equal(t, 20, results[12].NumCircuitGtModel)
	assert.Equal(t, 40, results[12].N)
	assert.Zero(t, results[6].NumCircuitGtModel)

	assert.Equal(t, 1, f.runner.EdgeCountCalls)
	assert.Equal(t, 4, f.ref.forwards)
}

func TestEvaluate_EmptyEdgeCounts(t *testing.T) {
	f := newFixture(testkit.DefaultConfig())

	results, err := f.tester.Evaluate(context.Background(), f.request(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, f.runner.EdgeCountCalls)
	assert.Zero(t, f.ref.forwards)
}

func TestEvaluate_Validation(t *testing.T) {
	f := newFixture(testkit.DefaultConfig())

	tests := []struct {
		name       string
		mutate     func(*Request)
		edgeCounts []int
		wantErr    error
	}{
		{"alpha out of range", func(r *Request) { r.Params.Alpha = 0 }, []int{1}, core.ErrInvalidParameter},
		{"negative epsilon two-tailed", func(r *Request) { r.Params.Epsilon = -0.1 }, []int{1}, core.ErrInvalidParameter},
		{"unknown answer function", func(r *Request) { r.Score.Answer = "MEDIAN" }, []int{1}, core.ErrUnknownScoreFunc},
		{"edge count above total", func(r *Request) {}, []int{1, 49}, core.ErrEdgeCountOutOfRange},
		{"negative edge count", func(r *Request) {}, []int{-1}, core.ErrEdgeCountOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request()
			tt.mutate(&req)
			_, err := f.tester.Evaluate(context.Background(), req, tt.edgeCounts)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, f.runner.EdgeCountCalls)
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunEdgeCounts(ctx context.Context, model ports.ModelPort, dataset ports.DatasetPort, req ports.EdgeCountRequest) (circuit.CircuitOutputs, error) {
	args := m.Called(ctx, model, dataset, req)
	outs, _ := args.Get(0).(circuit.CircuitOutputs)
	return outs, args.Error(1)
}

func (m *mockRunner) RunThreshold(ctx context.Context, model ports.ModelPort, dataset ports.DatasetPort, req ports.ThresholdRequest) (circuit.CircuitOutputs, error) {
	args := m.Called(ctx, model, dataset, req)
	outs, _ := args.Get(0).(circuit.CircuitOutputs)
	return outs, args.Error(1)
}

func TestEvaluate_RunnerOmitsEdgeCount(t *testing.T) {
	f := newFixture(testkit.DefaultConfig())
	runner := &mockRunner{}
	runner.On("RunEdgeCounts", mock.Anything, mock.Anything, mock.Anything,
		mock.MatchedBy(func(req ports.EdgeCountRequest) bool {
			return req.PatchType == circuit.PatchTree && len(req.EdgeCounts) == 2
		})).Return(circuit.CircuitOutputs{3: circuit.BatchOutputs{}}, nil).Once()

	tester := NewTester(runner, scoring.NewResolver(), internal.Discard)
	_, err := tester.Evaluate(context.Background(), f.request(), []int{5, 3})
	assert.ErrorContains(t, err, "edge count 5")
	runner.AssertExpectations(t)
}

func TestSearch_FindsCutoff(t *testing.T) {
	f := newFixture(thousandEdges())
	ctx := context.Background()

	sweep, err := f.tester.SweepSearch(ctx, f.request())
	require.NoError(t, err)
	sweepForwards := f.ref.forwards

	binary, err := f.tester.BinarySearch(ctx, f.request())
	require.NoError(t, err)

	assert.Equal(t, 300, sweep.MinEquiv)
	assert.Equal(t, 300, binary.MinEquiv)
	assert.LessOrEqual(t, sweep.MinEquiv, binary.MinEquiv)

	for _, res := range []stats.SearchResult{sweep, binary} {
		require.Contains(t, res.Results, res.MinEquiv)
		assert.False(t, res.Results[res.MinEquiv].NotEquiv)
		assert.Equal(t, res.Results[res.MinEquiv].PValue, res.PValue)
		assert.True(t, sort.IntsAreSorted(res.EdgeCounts()))
		assert.NotEmpty(t, res.RunID.String())
	}

	// coarse pass at width 100 and two refinements
	assert.Equal(t, 3, f.runner.EdgeCountCalls-len(binary.Results))
	assert.Contains(t, sweep.Results, 1000)
	assert.Contains(t, sweep.Results, 299)
	assert.True(t, sweep.Results[299].NotEquiv)

	// reference outputs are computed once per search
	batches := len(f.dataset.Batches())
	assert.Equal(t, batches, sweepForwards)
	assert.Equal(t, 2*batches, f.ref.forwards)
}

// scriptedRunner answers each edge count with the full circuit when pass
// reports true and with the empty circuit otherwise.
type scriptedRunner struct {
	*testkit.Runner
	total int
	pass  func(edgeCount int) bool
	calls int
}

func (r *scriptedRunner) RunEdgeCounts(ctx context.Context, model ports.ModelPort, dataset ports.DatasetPort, req ports.EdgeCountRequest) (circuit.CircuitOutputs, error) {
	r.calls++
	ends, err := r.Runner.RunEdgeCounts(ctx, model, dataset, ports.EdgeCountRequest{
		EdgeCounts:  []int{0, r.total},
		PruneScores: req.PruneScores,
		UseAbs:      req.UseAbs,
	})
	if err != nil {
		return nil, err
	}
	outs := make(circuit.CircuitOutputs, len(req.EdgeCounts))
	for _, c := range req.EdgeCounts {
		if r.pass(c) {
			outs[c] = ends[r.total]
		} else {
			outs[c] = ends[0]
		}
	}
	return outs, nil
}

func TestSearch_NonMonotonicOutcomes(t *testing.T) {
	f := newFixture(thousandEdges())
	runner := &scriptedRunner{
		Runner: testkit.NewRunner(),
		total:  1000,
		pass: func(c int) bool {
			return c >= 300 && c != 350 && c != 500 && c != 1000
		},
	}
	tester := NewTester(runner, scoring.NewResolver(), internal.Discard)

	sweep, err := tester.SweepSearch(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 300, sweep.MinEquiv)
	assert.True(t, sweep.Results[500].NotEquiv)
	assert.True(t, sweep.Results[1000].NotEquiv)
	assert.True(t, sweep.Results[299].NotEquiv)
	assert.NotContains(t, sweep.Results, 350)

	binary, err := tester.BinarySearch(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 501, binary.MinEquiv)
	assert.True(t, binary.Results[500].NotEquiv)

	for _, res := range []stats.SearchResult{sweep, binary} {
		require.Contains(t, res.Results, res.MinEquiv)
		assert.False(t, res.Results[res.MinEquiv].NotEquiv)
	}
}

func TestSweepSearch_StopsWhenIntervalCollapses(t *testing.T) {
	f := newFixture(thousandEdges())
	runner := &scriptedRunner{Runner: testkit.NewRunner(), total: 1000, pass: func(int) bool { return true }}
	tester := NewTester(runner, scoring.NewResolver(), internal.Discard)

	res, err := tester.SweepSearch(context.Background(), f.request())
	require.NoError(t, err)
	assert.Zero(t, res.MinEquiv)
	assert.Equal(t, 1, runner.calls)
	assert.Len(t, res.Results, 11)
}

func TestSearch_PrecomputedModelOutputs(t *testing.T) {
	f := newFixture(testkit.DefaultConfig())
	ctx := context.Background()
	req := f.request()

	modelOut, err := f.tester.ReferenceOutputs(ctx, req)
	require.NoError(t, err)
	f.ref.forwards = 0
	req.ModelOut = modelOut

	res, err := f.tester.BinarySearch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 12, res.MinEquiv)
	assert.Zero(t, f.ref.forwards)
}

func TestSearch_NoEquivalentCircuitBelowTotal(t *testing.T) {
	cfg := testkit.DefaultConfig()
	cfg.Cutoff = 48
	f := newFixture(cfg)

	sweep, err := f.tester.SweepSearch(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 48, sweep.MinEquiv)

	binary, err := f.tester.BinarySearch(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 48, binary.MinEquiv)
}

func TestSearch_EmptyModel(t *testing.T) {
	cfg := testkit.DefaultConfig()
	cfg.Layers = 0
	f := newFixture(cfg)

	for name, search := range map[string]func(context.Context, Request) (stats.SearchResult, error){
		"sweep":  f.tester.SweepSearch,
		"binary": f.tester.BinarySearch,
	} {
		t.Run(name, func(t *testing.T) {
			res, err := search(context.Background(), f.request())
			require.NoError(t, err)
			assert.Zero(t, res.MinEquiv)
			assert.Empty(t, res.Results)
		})
	}
	assert.Zero(t, f.runner.EdgeCountCalls)
}

func TestSweepWidth(t *testing.T) {
	tests := []struct {
		total int
		want  int
	}{
		{1, 1}, {9, 1}, {99, 1}, {100, 10}, {999, 10}, {1000, 100}, {12345, 1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sweepWidth(tt.total), "total %d", tt.total)
	}
}
