package report

import (
	"fmt"
	"strings"

	"circuithypo/domain/circuit"
	"circuithypo/domain/stats"

	"github.com/gomarkdown/markdown"
	"gonum.org/v1/gonum/floats"
)

// Band is the indifference band of the equivalence test drawn over k: the
// circuit should beat the model on N/2 +- eps*N examples.
type Band struct {
	Lower float64
	Mid   float64
	Upper float64
}

// IndifferenceBand returns the band for n examples at tolerance eps. A
// one-sided test only bounds k on one side, so the band runs to n for left
// and from 0 for right.
func IndifferenceBand(n int, eps float64, side stats.Side) Band {
	half := float64(n) / 2
	band := Band{Lower: half - eps*float64(n), Mid: half, Upper: half + eps*float64(n)}
	switch side {
	case stats.SideLeft:
		band.Upper = float64(n)
	case stats.SideRight:
		band.Lower = 0
	}
	return band
}

// EquivRow summarizes the equivalence test at one edge count.
type EquivRow struct {
	EdgeCount int
	K         int
	N         int
	PValue    float64
	NotEquiv  bool
	Circuit   ScoreSummary
	Model     ScoreSummary
	MeanGap   float64 // mean of circuit minus model score
}

// SearchReport is the table of every edge count a search tested.
type SearchReport struct {
	Strategy string
	RunID    string
	MinEquiv int
	PValue   float64
	Params   stats.TestParams
	Band     Band
	Rows     []EquivRow
	Knee     *KneeReport // optional
}

// BuildSearchReport summarizes res in ascending edge-count order.
func BuildSearchReport(strategy string, res stats.SearchResult, params stats.TestParams) (SearchReport, error) {
	rep := SearchReport{
		Strategy: strategy,
		RunID:    res.RunID.String(),
		MinEquiv: res.MinEquiv,
		PValue:   res.PValue,
		Params:   params,
	}
	for _, count := range res.EdgeCounts() {
		r := res.Results[count]
		row := EquivRow{EdgeCount: count, K: r.NumCircuitGtModel, N: r.N, PValue: r.PValue, NotEquiv: r.NotEquiv}
		var err error
		if row.Circuit, err = Summarize(r.CircuitScores, FullRange); err != nil {
			return rep, fmt.Errorf("edge count %d circuit scores: %w", count, err)
		}
		if row.Model, err = Summarize(r.ModelScores, FullRange); err != nil {
			return rep, fmt.Errorf("edge count %d model scores: %w", count, err)
		}
		if len(r.CircuitScores) > 0 && len(r.CircuitScores) == len(r.ModelScores) {
			gap := make([]float64, len(r.CircuitScores))
			floats.SubTo(gap, r.CircuitScores, r.ModelScores)
			row.MeanGap = floats.Sum(gap) / float64(len(gap))
		}
		rep.Rows = append(rep.Rows, row)
	}
	if len(rep.Rows) > 0 {
		rep.Band = IndifferenceBand(rep.Rows[0].N, params.Epsilon, params.Side)
	}
	return rep, nil
}

// Markdown renders the report as a Markdown table.
func (r SearchReport) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s search\n\n", r.Strategy)
	fmt.Fprintf(&b, "Run `%s`: smallest equivalent circuit has **%d** edges (p=%.4g).\n\n", r.RunID, r.MinEquiv, r.PValue)
	fmt.Fprintf(&b, "alpha=%.3g, epsilon=%.3g, side=%s. Indifference band for k: [%.1f, %.1f], center %.1f.\n\n",
		r.Params.Alpha, r.Params.Epsilon, r.Params.Side, r.Band.Lower, r.Band.Upper, r.Band.Mid)
	if r.Knee != nil {
		fmt.Fprintf(&b, "Edge score knee over %d edges: %s=%s, %s=%s (min equivalent %d).\n\n", r.Knee.Edges,
			r.Knee.Interp.Method, kneeText(r.Knee.Interp), r.Knee.Poly.Method, kneeText(r.Knee.Poly), r.Knee.MinEquiv)
	}
	b.WriteString("| edges | k | N | p | equivalent | circuit mean | circuit std | model mean | mean gap |\n")
	b.WriteString("|---:|---:|---:|---:|:---:|---:|---:|---:|---:|\n")
	for _, row := range r.Rows {
		fmt.Fprintf(&b, "| %d | %d | %d | %.4g | %s | %.4g | %.4g | %.4g | %.4g |\n",
			row.EdgeCount, row.K, row.N, row.PValue, yesNo(!row.NotEquiv),
			row.Circuit.Mean, row.Circuit.StdDev, row.Model.Mean, row.MeanGap)
	}
	return b.String()
}

// EdgeRow summarizes the minimality test of one edge.
type EdgeRow struct {
	Edge       circuit.Edge
	Score      float64 // prune score of the edge
	K          int
	N          int
	PValue     float64
	NotMinimal bool
	Diffs      ScoreSummary
}

// MinimalityReport summarizes both phases of an audit against the inflated
// control distribution.
type MinimalityReport struct {
	RunID     string
	Threshold float64
	Alpha     float64
	QStar     float64
	Quantiles QuantileRange

	// Reference lines for k: N/2 and N*q_star.
	HalfN     float64
	ExpectedK float64

	Inflated  ScoreSummary
	Ordered   []EdgeRow
	Resampled []EdgeRow
}

// BuildMinimalityReport summarizes res. scores supplies each edge's prune
// score and may be nil.
func BuildMinimalityReport(res stats.AuditResult, scores circuit.PruneScores, qStar float64, qr QuantileRange) (MinimalityReport, error) {
	rep := MinimalityReport{
		RunID:     res.RunID.String(),
		Threshold: res.Threshold,
		Alpha:     res.Alpha,
		QStar:     qStar,
		Quantiles: qr,
	}

	var err error
	if rep.Ordered, err = edgeRows(res.OrderedOrder, res.Ordered, scores, qr); err != nil {
		return rep, err
	}
	if rep.Resampled, err = edgeRows(res.ResampledOrder, res.Resampled, scores, qr); err != nil {
		return rep, err
	}

	var inflated []float64
	for _, edge := range res.OrderedOrder {
		inflated = append(inflated, res.Ordered[edge].DiffsInflated...)
	}
	if rep.Inflated, err = Summarize(inflated, qr); err != nil {
		return rep, err
	}
	if len(rep.Ordered) > 0 {
		n := float64(rep.Ordered[0].N)
		rep.HalfN = n / 2
		rep.ExpectedK = n * qStar
	}
	return rep, nil
}

func edgeRows(order []circuit.Edge, results map[circuit.Edge]stats.MinResult, scores circuit.PruneScores, qr QuantileRange) ([]EdgeRow, error) {
	rows := make([]EdgeRow, 0, len(order))
	for _, edge := range order {
		r, ok := results[edge]
		if !ok {
			return nil, fmt.Errorf("edge %s listed but has no result", edge)
		}
		row := EdgeRow{Edge: edge, K: r.NumEdgeScoreGtRef, N: r.N, PValue: r.PValue, NotMinimal: r.NotMinimal}
		if scores != nil {
			row.Score, _ = scores.Score(edge)
		}
		var err error
		if row.Diffs, err = Summarize(r.Diffs, qr); err != nil {
			return nil, fmt.Errorf("edge %s: %w", edge, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Markdown renders the report as Markdown tables.
func (r MinimalityReport) Markdown() string {
	var b strings.Builder
	b.WriteString("## Minimality audit\n\n")
	fmt.Fprintf(&b, "Run `%s`: threshold %.4g, corrected alpha %.3g, q*=%.3g.\n\n", r.RunID, r.Threshold, r.Alpha, r.QStar)
	fmt.Fprintf(&b, "Reference k: N/2=%.1f, N x q*=%.1f.\n\n", r.HalfN, r.ExpectedK)
	fmt.Fprintf(&b, "Inflated control diffs: mean %.4g, median %.4g, quantiles [%.4g, %.4g].\n\n",
		r.Inflated.Mean, r.Inflated.Median, r.Inflated.Lower, r.Inflated.Upper)
	writeEdgeTable(&b, "Ordered", r.Ordered)
	if len(r.Resampled) > 0 {
		writeEdgeTable(&b, "Resampled", r.Resampled)
	}
	return b.String()
}

func writeEdgeTable(b *strings.Builder, title string, rows []EdgeRow) {
	fmt.Fprintf(b, "### %s\n\n", title)
	b.WriteString("| edge | score | k | N | p | minimal | diff mean | diff median | diff low | diff high |\n")
	b.WriteString("|---|---:|---:|---:|---:|:---:|---:|---:|---:|---:|\n")
	for _, row := range rows {
		fmt.Fprintf(b, "| %s | %.4g | %d | %d | %.4g | %s | %.4g | %.4g | %.4g | %.4g |\n",
			row.Edge, row.Score, row.K, row.N, row.PValue, yesNo(!row.NotMinimal),
			row.Diffs.Mean, row.Diffs.Median, row.Diffs.Lower, row.Diffs.Upper)
	}
	b.WriteString("\n")
}

// ToHTML renders Markdown produced by this package as an HTML fragment.
func ToHTML(md string) []byte {
	return markdown.ToHTML([]byte(md), nil, nil)
}

func kneeText(k Knee) string {
	if !k.Found {
		return "none"
	}
	return fmt.Sprintf("%d", k.EdgeCount)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
