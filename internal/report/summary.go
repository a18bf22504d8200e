package report

import (
	"strings"

	"github.com/samber/lo"

	"github.com/codalotl/toolcallbench/internal/stats"
	"github.com/codalotl/toolcallbench/internal/types"
)

var metrics = []string{
	types.MetricTotalTokens,
	types.MetricPromptTokens,
	types.MetricCompletionTokens,
	types.MetricToolCallCount,
	types.MetricRetries,
	types.MetricErrors,
	types.MetricDurationMs,
}

// Metrics returns the metrics compared by SummarizeDiffs, in output order.
func Metrics() []string {
	return append([]string(nil), metrics...)
}

// SummarizeRuns groups runs by (task, agent, model) and averages each group.
// Rows appear in the order their group was first seen.
func SummarizeRuns(runs []types.RunMetrics) []types.SummaryRow {
	var order []string
	grouped := map[string][]types.RunMetrics{}
	for _, r := range runs {
		key := taskAgentModelKey(r.TaskID, r.Agent, r.Model)
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], r)
	}

	rows := make([]types.SummaryRow, 0, len(order))
	for _, key := range order {
		rows = append(rows, buildSummaryRow(grouped[key]))
	}
	return rows
}

func buildSummaryRow(group []types.RunMetrics) types.SummaryRow {
	totals := stats.MeanStdOf(lo.Map(group, func(r types.RunMetrics, _ int) float64 { return float64(r.TotalTokens) }))
	durations := stats.MeanStdOf(lo.Map(group, func(r types.RunMetrics, _ int) float64 { return float64(r.DurationMs) }))
	successes := lo.CountBy(group, func(r types.RunMetrics) bool { return r.Success })

	row := types.SummaryRow{
		Runs:                len(group),
		AvgTotalTokens:      totals.Mean,
		AvgPromptTokens:     lo.MeanBy(group, func(r types.RunMetrics) float64 { return float64(r.PromptTokens) }),
		AvgCompletionTokens: lo.MeanBy(group, func(r types.RunMetrics) float64 { return float64(r.CompletionTokens) }),
		AvgToolCallCount:    lo.MeanBy(group, func(r types.RunMetrics) float64 { return float64(r.ToolCallCount) }),
		AvgRetries:          lo.MeanBy(group, func(r types.RunMetrics) float64 { return float64(r.Retries) }),
		AvgErrors:           lo.MeanBy(group, func(r types.RunMetrics) float64 { return float64(r.Errors) }),
		AvgDurationMs:       durations.Mean,
		StdTotalTokens:      totals.Std,
		StdDurationMs:       durations.Std,
		Successes:           successes,
		SuccessInterval:     stats.WilsonInterval(successes, len(group)),
	}
	if len(group) > 0 {
		row.TaskID = group[0].TaskID
		row.Agent = group[0].Agent
		row.Model = group[0].Model
		row.SuccessRate = float64(successes) / float64(len(group))
	}
	return row
}

// SummarizeDiffs pairs the native and cli-wrapped rows of each (task, model)
// and emits one diff per metric. Groups missing either variant are skipped.
// When several rows share a variant within a group the last one wins.
//
// PercentChange is 0 when the native value is 0; that is a convention for an
// undefined ratio, not a measured lack of change.
func SummarizeDiffs(rows []types.SummaryRow) []types.SummaryDiff {
	type pair struct {
		native *types.SummaryRow
		cli    *types.SummaryRow
	}
	var order []string
	grouped := map[string]*pair{}
	for i := range rows {
		row := &rows[i]
		key := taskModelKey(row.TaskID, row.Model)
		p, ok := grouped[key]
		if !ok {
			p = &pair{}
			grouped[key] = p
			order = append(order, key)
		}
		switch row.Agent {
		case types.AgentNative:
			p.native = row
		case types.AgentCLI:
			p.cli = row
		}
	}

	var diffs []types.SummaryDiff
	for _, key := range order {
		p := grouped[key]
		if p.native == nil || p.cli == nil {
			continue
		}
		for _, metric := range metrics {
			native, _ := p.native.Value(metric)
			cli, _ := p.cli.Value(metric)
			diffs = append(diffs, newDiff(p.native.TaskID, p.native.Model, metric, native, cli))
		}
	}
	return diffs
}

func newDiff(taskID, model, metric string, native, cli float64) types.SummaryDiff {
	delta := cli - native
	pct := 0.0
	if native != 0 {
		pct = delta / native * 100
	}
	return types.SummaryDiff{
		TaskID:        taskID,
		Model:         model,
		Metric:        metric,
		Native:        native,
		CLI:           cli,
		Delta:         delta,
		PercentChange: pct,
	}
}

func taskAgentModelKey(task string, agent types.AgentVariant, model string) string {
	return strings.TrimSpace(task) + "\x00" + agent.String() + "\x00" + strings.TrimSpace(model)
}

func taskModelKey(task, model string) string {
	return strings.TrimSpace(task) + "\x00" + strings.TrimSpace(model)
}
