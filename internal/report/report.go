package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"

	"github.com/codalotl/toolcallbench/internal/types"
)

const (
	FormatCSV      = "csv"
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Formats lists the accepted report formats; the first is the default.
func Formats() []string {
	return []string{FormatCSV, FormatTable, FormatMarkdown, FormatJSON}
}

type Options struct {
	RunDir string
	Tasks  []string
	// Agents accepts variant names ("native", "cli-wrapped") or their short forms ("mcp", "cli").
	Agents        []string
	Models        []string
	After         *time.Time
	IncludeTokens bool
}

type Report struct {
	IncludeTokens bool
	Rows          []types.SummaryRow
	Diffs         []types.SummaryDiff
}

// Run loads runs.json from opts.RunDir, filters it and summarizes it.
func Run(opts Options) (*Report, error) {
	if strings.TrimSpace(opts.RunDir) == "" {
		return nil, errors.New("RunDir is required")
	}

	var agentSet map[types.AgentVariant]bool
	for _, a := range lo.Uniq(opts.Agents) {
		if strings.TrimSpace(a) == "" {
			continue
		}
		v, err := types.ParseAgentVariant(strings.TrimSpace(a))
		if err != nil {
			return nil, err
		}
		if agentSet == nil {
			agentSet = map[types.AgentVariant]bool{}
		}
		agentSet[v] = true
	}
	taskSet := sliceToSet(opts.Tasks)
	modelSet := sliceToSet(opts.Models)

	runs, err := ReadRuns(opts.RunDir)
	if err != nil {
		return nil, err
	}

	filtered := lo.Filter(runs, func(r types.RunMetrics, _ int) bool {
		if taskSet != nil && !taskSet[strings.TrimSpace(r.TaskID)] {
			return false
		}
		if agentSet != nil && !agentSet[r.Agent] {
			return false
		}
		if modelSet != nil && !modelSet[strings.TrimSpace(r.Model)] {
			return false
		}
		if opts.After != nil && r.Timestamp.Before(*opts.After) {
			return false
		}
		return true
	})

	rep := FromRuns(filtered)
	rep.IncludeTokens = opts.IncludeTokens
	return rep, nil
}

// FromRuns summarizes runs into a report with rows sorted by task, model and
// variant.
func FromRuns(runs []types.RunMetrics) *Report {
	rows := SummarizeRuns(runs)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TaskID != rows[j].TaskID {
			return rows[i].TaskID < rows[j].TaskID
		}
		if rows[i].Model != rows[j].Model {
			return rows[i].Model < rows[j].Model
		}
		return rows[i].Agent < rows[j].Agent
	})
	return &Report{
		Rows:  rows,
		Diffs: SummarizeDiffs(rows),
	}
}

// Write renders the report in format. An empty format means CSV.
func (r *Report) Write(w io.Writer, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatCSV:
		return r.WriteCSV(w)
	case FormatTable:
		return r.writeTable(w)
	case FormatMarkdown:
		return r.writeMarkdown(w)
	case FormatJSON:
		return r.writeJSON(w)
	default:
		return fmt.Errorf("unknown report format %q (want one of %s)", format, strings.Join(Formats(), ", "))
	}
}

func (r *Report) header() []string {
	header := []string{
		"task",
		"agent",
		"model",
		"runs",
		"successes",
		"success_rate",
		"success_low",
		"success_high",
		"avg_total_tokens",
		"std_total_tokens",
	}
	if r.IncludeTokens {
		header = append(header, "avg_prompt_tokens", "avg_completion_tokens")
	}
	return append(header,
		"avg_tool_calls",
		"avg_retries",
		"avg_errors",
		"avg_duration_ms",
		"std_duration_ms",
	)
}

func (r *Report) record(row types.SummaryRow) []string {
	record := []string{
		row.TaskID,
		row.Agent.String(),
		row.Model,
		strconv.Itoa(row.Runs),
		strconv.Itoa(row.Successes),
		formatFloat(row.SuccessRate),
		formatFloat(row.SuccessInterval.Low),
		formatFloat(row.SuccessInterval.High),
		formatFloat(row.AvgTotalTokens),
		formatFloat(row.StdTotalTokens),
	}
	if r.IncludeTokens {
		record = append(record, formatFloat(row.AvgPromptTokens), formatFloat(row.AvgCompletionTokens))
	}
	return append(record,
		formatFloat(row.AvgToolCallCount),
		formatFloat(row.AvgRetries),
		formatFloat(row.AvgErrors),
		formatFloat(row.AvgDurationMs),
		formatFloat(row.StdDurationMs),
	)
}

// WriteCSV writes one line per summary row. Diffs are not included.
func (r *Report) WriteCSV(w io.Writer) error {
	if w == nil {
		return errors.New("writer is nil")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(r.header()); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if err := cw.Write(r.record(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var diffHeader = []string{"task", "model", "metric", "mcp", "cli", "delta", "pct_change"}

func diffRecord(d types.SummaryDiff) []string {
	return []string{
		d.TaskID,
		d.Model,
		d.Metric,
		formatFloat(d.Native),
		formatFloat(d.CLI),
		formatFloat(d.Delta),
		formatFloat(d.PercentChange) + "%",
	}
}

// errWriter keeps the first write error and skips later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func (r *Report) writeTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	ew := &errWriter{w: tw}
	ew.printf("%s\n", strings.ToUpper(strings.Join(r.header(), "\t")))
	for _, row := range r.Rows {
		ew.printf("%s\n", strings.Join(r.record(row), "\t"))
	}
	if len(r.Diffs) > 0 {
		ew.printf("\n%s\n", strings.ToUpper(strings.Join(diffHeader, "\t")))
		for _, d := range r.Diffs {
			ew.printf("%s\n", strings.Join(diffRecord(d), "\t"))
		}
	}
	if ew.err != nil {
		return ew.err
	}
	return tw.Flush()
}

func (r *Report) writeMarkdown(w io.Writer) error {
	ew := &errWriter{w: w}
	writeMarkdownTable(ew, r.header(), lo.Map(r.Rows, func(row types.SummaryRow, _ int) []string {
		return r.record(row)
	}))
	if len(r.Diffs) > 0 {
		ew.printf("\n")
		writeMarkdownTable(ew, diffHeader, lo.Map(r.Diffs, func(d types.SummaryDiff, _ int) []string {
			return diffRecord(d)
		}))
	}
	return ew.err
}

func writeMarkdownTable(ew *errWriter, header []string, records [][]string) {
	ew.printf("| %s |\n", strings.Join(header, " | "))
	ew.printf("|%s\n", strings.Repeat("---|", len(header)))
	for _, rec := range records {
		ew.printf("| %s |\n", strings.Join(rec, " | "))
	}
}

func (r *Report) writeJSON(w io.Writer) error {
	out := struct {
		Summary []types.SummaryRow  `json:"summary"`
		Diffs   []types.SummaryDiff `json:"diffs"`
	}{
		Summary: r.Rows,
		Diffs:   r.Diffs,
	}
	if out.Summary == nil {
		out.Summary = []types.SummaryRow{}
	}
	if out.Diffs == nil {
		out.Diffs = []types.SummaryDiff{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func sliceToSet(items []string) map[string]bool {
	var out map[string]bool
	for _, s := range items {
		val := strings.TrimSpace(s)
		if val == "" {
			continue
		}
		if out == nil {
			out = map[string]bool{}
		}
		out[val] = true
	}
	return out
}

func formatFloat(v float64) string {
	// Compensate for common binary floating-point representation issues so values
	// like 1.005 reliably round to 1.01 at 2 decimal places.
	rounded := math.Round((v+math.Copysign(1e-9, v))*100) / 100
	if rounded == 0 {
		return "0"
	}
	s := strconv.FormatFloat(rounded, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}
