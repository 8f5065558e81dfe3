package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"circuithypo/adapters/scoring"
	"circuithypo/domain/circuit"
	"circuithypo/domain/stats"
	"circuithypo/internal"
	"circuithypo/internal/config"
	apperrors "circuithypo/internal/errors"
	"circuithypo/internal/equivalence"
	"circuithypo/internal/hypotest"
	"circuithypo/internal/minimality"
	"circuithypo/internal/report"
	"circuithypo/internal/testkit"
	"circuithypo/ports"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *internal.Logger
	rngs   ports.RNGPort = testkit.RNGAdapter{}
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "circuithypo",
		Short: "Hypothesis tests for circuit equivalence and minimality",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional
			_ = godotenv.Load()
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			logger = internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel), os.Stderr)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newBinomCmd(),
		newRangeCmd(),
		newDemoEquivCmd(),
		newDemoSearchCmd("demo-sweep", "sweep"),
		newDemoSearchCmd("demo-bisect", "binary"),
		newDemoMinimalityCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] %v\n", apperrors.GetCode(err), err)
		os.Exit(1)
	}
}

func parseCounts(args []string) (int, int, error) {
	k, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, apperrors.InvalidInput(fmt.Sprintf("k must be an integer, got %q", args[0]))
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, apperrors.InvalidInput(fmt.Sprintf("n must be an integer, got %q", args[1]))
	}
	return k, n, nil
}

// testFlags overrides the configured test parameters with any flags set on cmd.
type testFlags struct {
	alpha   float64
	epsilon float64
	side    string
}

func (f *testFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.alpha, "alpha", 0.05, "Significance level (default from HYPO_ALPHA)")
	cmd.Flags().Float64Var(&f.epsilon, "epsilon", 0.1, "Equivalence tolerance around 0.5 (default from HYPO_EPSILON)")
	cmd.Flags().StringVar(&f.side, "side", "none", "Alternative: left|right|none (default from HYPO_SIDE)")
}

func (f *testFlags) params(cmd *cobra.Command) (stats.TestParams, error) {
	params := cfg.Equivalence.Params
	if cmd.Flags().Changed("alpha") {
		params.Alpha = f.alpha
	}
	if cmd.Flags().Changed("epsilon") {
		params.Epsilon = f.epsilon
	}
	if cmd.Flags().Changed("side") {
		side, err := stats.ParseSide(f.side)
		if err != nil {
			return params, apperrors.WithCode(apperrors.CodeInvalidInput, err)
		}
		params.Side = side
	}
	return params, apperrors.WithCode(apperrors.CodeValidationError, params.Validate())
}

func newBinomCmd() *cobra.Command {
	var flags testFlags

	cmd := &cobra.Command{
		Use:   "binom [k] [n]",
		Short: "Run the binomial non-equivalence test on k successes out of n",
		Long: `Test whether the circuit beats the model on k of n examples often enough
to be inside the indifference band 0.5 +- epsilon.

Example: circuithypo binom 55 100 --epsilon 0.1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, n, err := parseCounts(args)
			if err != nil {
				return err
			}
			params, err := flags.params(cmd)
			if err != nil {
				return err
			}
			reject, p, err := hypotest.NonEquivTest(k, n, params)
			if err != nil {
				return err
			}
			band := report.IndifferenceBand(n, params.Epsilon, params.Side)
			fmt.Printf("k=%d n=%d side=%s alpha=%.3g epsilon=%.3g\n", k, n, params.Side, params.Alpha, params.Epsilon)
			fmt.Printf("band: [%.1f, %.1f]\n", band.Lower, band.Upper)
			fmt.Printf("p-value: %.6g\n", p)
			if reject {
				fmt.Println("❌ not equivalent")
			} else {
				fmt.Println("✅ equivalence not rejected")
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRangeCmd() *cobra.Command {
	var epsilon, alpha, a0, a1 float64

	cmd := &cobra.Command{
		Use:   "range [k] [n]",
		Short: "Run the beta-binomial range test on k successes out of n",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, n, err := parseCounts(args)
			if err != nil {
				return err
			}
			prior := cfg.Range.Prior
			if cmd.Flags().Changed("a0") {
				prior.A0 = a0
			}
			if cmd.Flags().Changed("a1") {
				prior.A1 = a1
			}
			if !cmd.Flags().Changed("alpha") {
				alpha = cfg.Range.Alpha
			}
			if !cmd.Flags().Changed("epsilon") {
				epsilon = cfg.Equivalence.Params.Epsilon
			}
			below, pBetween, err := hypotest.BernoulliRangeTest(k, n, epsilon, prior, alpha)
			if err != nil {
				return err
			}
			fmt.Printf("k=%d n=%d prior=Beta(%.3g, %.3g) epsilon=%.3g\n", k, n, prior.A0, prior.A1, epsilon)
			fmt.Printf("posterior mass in [%.3g, %.3g]: %.6g\n", 0.5-epsilon, 0.5+epsilon, pBetween)
			fmt.Printf("below 1-alpha=%.3g: %v\n", 1-alpha, below)
			return nil
		},
	}
	cmd.Flags().Float64Var(&epsilon, "epsilon", 0.1, "Half-width of the range around 0.5")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.5, "Credibility level (default from HYPO_RANGE_ALPHA)")
	cmd.Flags().Float64Var(&a0, "a0", 1, "Prior pseudo-count of failures")
	cmd.Flags().Float64Var(&a1, "a1", 1, "Prior pseudo-count of successes")
	return cmd
}

// syntheticFlags configure the toy model the demo commands run against.
type syntheticFlags struct {
	cfg  testkit.SyntheticConfig
	html string
}

func (f *syntheticFlags) register(cmd *cobra.Command) {
	f.cfg = testkit.DefaultConfig()
	cmd.Flags().IntVar(&f.cfg.Layers, "layers", f.cfg.Layers, "Layers of the synthetic model")
	cmd.Flags().IntVar(&f.cfg.Width, "width", f.cfg.Width, "Nodes per layer")
	cmd.Flags().IntVar(&f.cfg.Cutoff, "cutoff", f.cfg.Cutoff, "Number of top-ranked edges that carry the output")
	cmd.Flags().Float64Var(&f.cfg.BackgroundWeight, "background", f.cfg.BackgroundWeight, "Weight of edges ranked past the cutoff")
	cmd.Flags().IntSliceVar(&f.cfg.DeadRanks, "dead", nil, "Ranks below the cutoff that carry no weight")
	cmd.Flags().Float64Var(&f.cfg.Jitter, "jitter", f.cfg.Jitter, "Per-example circuit noise")
	cmd.Flags().IntVar(&f.cfg.Batches, "batches", f.cfg.Batches, "Number of batches")
	cmd.Flags().IntVar(&f.cfg.BatchSize, "batch-size", f.cfg.BatchSize, "Examples per batch")
	cmd.Flags().StringVar(&f.html, "html", "", "Also write the report as HTML to this file")
}

func (f *syntheticFlags) emit(md string) error {
	fmt.Print(md)
	if f.html == "" {
		return nil
	}
	if err := os.WriteFile(f.html, report.ToHTML(md), 0644); err != nil {
		return err
	}
	fmt.Printf("\n💾 HTML report saved to: %s\n", f.html)
	return nil
}

func equivRequest(model *testkit.Model, dataset *testkit.Dataset, params stats.TestParams) equivalence.Request {
	return equivalence.Request{
		Model:       model,
		Dataset:     dataset,
		PruneScores: model.PruneScores(),
		Score:       circuit.ScoreSpec{Grad: circuit.GradLogit, Answer: circuit.AnswerAvgVal},
		Ablation:    circuit.AblationResample,
		UseAbs:      cfg.Equivalence.UseAbs,
		Params:      params,
	}
}

func newDemoEquivCmd() *cobra.Command {
	var synth syntheticFlags
	var tests testFlags
	var edgeCounts []int

	cmd := &cobra.Command{
		Use:   "demo-equiv",
		Short: "Test equivalence of a synthetic model's circuits at given edge counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := tests.params(cmd)
			if err != nil {
				return err
			}
			model := testkit.NewModel(synth.cfg)
			dataset := testkit.NewDataset(synth.cfg)
			tester := equivalence.NewTester(testkit.NewRunner(), scoring.NewResolver(), logger)

			results, err := tester.Evaluate(context.Background(), equivRequest(model, dataset, params), edgeCounts)
			if err != nil {
				return err
			}
			rep, err := report.BuildSearchReport("fixed", stats.SearchResult{MinEquiv: model.NumEdges(), Results: results}, params)
			if err != nil {
				return err
			}
			return synth.emit(rep.Markdown())
		},
	}
	synth.register(cmd)
	tests.register(cmd)
	cmd.Flags().IntSliceVar(&edgeCounts, "edges", []int{0, 6, 12, 24, 48}, "Edge counts to test")
	return cmd
}

func newDemoSearchCmd(use, strategy string) *cobra.Command {
	var synth syntheticFlags
	var tests testFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Find the smallest equivalent circuit of a synthetic model by %s search", strategy),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := tests.params(cmd)
			if err != nil {
				return err
			}
			model := testkit.NewModel(synth.cfg)
			dataset := testkit.NewDataset(synth.cfg)
			tester := equivalence.NewTester(testkit.NewRunner(), scoring.NewResolver(), logger)
			req := equivRequest(model, dataset, params)

			search := tester.SweepSearch
			if strategy == "binary" {
				search = tester.BinarySearch
			}
			res, err := search(context.Background(), req)
			if err != nil {
				return apperrors.Wrapf(err, "%s search failed", strategy)
			}
			rep, err := report.BuildSearchReport(strategy, res, params)
			if err != nil {
				return err
			}
			knee, err := report.EdgeScoreKnee(req.PruneScores, req.UseAbs, res.MinEquiv)
			if err != nil {
				logger.Warn("edge score knee unavailable: %v", err)
			} else {
				rep.Knee = &knee
			}
			return synth.emit(rep.Markdown())
		},
	}
	synth.register(cmd)
	tests.register(cmd)
	return cmd
}

func newDemoMinimalityCmd() *cobra.Command {
	var synth syntheticFlags
	var edgeCount int

	cmd := &cobra.Command{
		Use:   "demo-minimality",
		Short: "Audit every edge of a synthetic model's circuit for minimality",
		RunE: func(cmd *cobra.Command, args []string) error {
			model := testkit.NewModel(synth.cfg)
			dataset := testkit.NewDataset(synth.cfg)
			if !cmd.Flags().Changed("edge-count") {
				edgeCount = synth.cfg.Cutoff
			}
			scores := model.PruneScores()
			edges, err := scores.CircuitEdges(edgeCount, cfg.Equivalence.UseAbs)
			if err != nil {
				return err
			}

			rng := rngs.SeededStream("minimality", cfg.Seed)
			auditor := minimality.NewAuditor(testkit.NewRunner(), scoring.NewResolver(), model.Graph(), logger)
			res, err := auditor.Audit(context.Background(), minimality.Request{
				Model:       model,
				Dataset:     dataset,
				PruneScores: scores,
				Edges:       edges,
				EdgeCount:   edgeCount,
				Ablation:    circuit.AblationResample,
				Score:       circuit.ScoreSpec{Grad: circuit.GradLogit, Answer: circuit.AnswerAvgVal},
				UseAbs:      cfg.Equivalence.UseAbs,
				NPaths:      cfg.Minimality.NPaths,
				Alpha:       cfg.Minimality.Alpha,
				QStar:       cfg.Minimality.QStar,
				EarlyStop:   cfg.Minimality.EarlyStop,
				Rng:         rng,
			})
			if err != nil {
				return apperrors.Wrap(err, "minimality audit failed")
			}
			rep, err := report.BuildMinimalityReport(res, scores, cfg.Minimality.QStar, report.FullRange)
			if err != nil {
				return err
			}
			return synth.emit(rep.Markdown())
		},
	}
	synth.register(cmd)
	cmd.Flags().IntVar(&edgeCount, "edge-count", 0, "Edges in the audited circuit (default: the cutoff)")
	return cmd
}
