package cli

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codalotl/toolcallbench/internal/output"
	"github.com/codalotl/toolcallbench/internal/report"
	"github.com/codalotl/toolcallbench/internal/types"
)

const (
	beginResultsMarker = "<!-- BEGIN_RESULTS -->"
	endResultsMarker   = "<!-- END_RESULTS -->"

	// summariesDir holds one summary_<stamp> dir per published report.
	summariesDir = "summaries"
)

// publishReport writes the report under summaries/summary_<stamp> and replaces
// the results section of README.md with a native vs CLI comparison table. It
// returns the summary dir relative to rootDir.
func publishReport(rootDir string, rep *report.Report, command string, at time.Time) (string, error) {
	if strings.TrimSpace(rootDir) == "" {
		return "", errors.New("rootDir is required")
	}
	if rep == nil {
		return "", errors.New("report is nil")
	}
	readme, err := os.ReadFile(filepath.Join(rootDir, "README.md"))
	if err != nil {
		return "", err
	}

	summaryRel := filepath.Join(summariesDir, "summary_"+at.In(time.Local).Format("2006-01-02_15-04-05"))
	summaryDir := filepath.Join(rootDir, summaryRel)
	if err := os.MkdirAll(summaryDir, 0o755); err != nil {
		return "", err
	}
	files := map[string]string{
		"report.csv":  report.FormatCSV,
		"report.md":   report.FormatMarkdown,
		"report.json": report.FormatJSON,
	}
	for name, format := range files {
		var buf bytes.Buffer
		if err := rep.Write(&buf, format); err != nil {
			return "", fmt.Errorf("render %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(summaryDir, name), buf.Bytes(), 0o644); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(filepath.Join(summaryDir, "command"), []byte(strings.TrimSpace(command)+"\n"), 0o644); err != nil {
		return "", err
	}

	link := filepath.ToSlash(summaryRel)
	section := comparisonTable(rep) + fmt.Sprintf("\nResults as of %s. See [%s](%s).\n", at.In(time.Local).Format("2006-01-02"), link, link)
	updated, err := replaceBetweenMarkers(string(readme), beginResultsMarker, endResultsMarker, section)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(rootDir, "README.md"), []byte(updated), 0o644); err != nil {
		return "", err
	}
	return summaryRel, nil
}

// variantPair holds the native and CLI rows of one (task, model).
type variantPair struct {
	task, model string
	native, cli *types.SummaryRow
}

// pairRows groups rows by (task, model) in first-seen order.
func pairRows(rows []types.SummaryRow) []*variantPair {
	var pairs []*variantPair
	byKey := map[string]*variantPair{}
	for i := range rows {
		row := &rows[i]
		key := row.TaskID + "\x00" + row.Model
		p := byKey[key]
		if p == nil {
			p = &variantPair{task: row.TaskID, model: row.Model}
			byKey[key] = p
			pairs = append(pairs, p)
		}
		switch row.Agent {
		case types.AgentNative:
			p.native = row
		case types.AgentCLI:
			p.cli = row
		}
	}
	return pairs
}

// comparisonTable renders one markdown row per (task, model) with the native
// value before the CLI value in each cell.
func comparisonTable(rep *report.Report) string {
	var b strings.Builder
	b.WriteString("| Task | Model | Success (mcp / cli) | Avg Tokens (mcp / cli) | Token Change | Avg Tool Calls (mcp / cli) | Avg Retries (mcp / cli) | Avg Time (mcp / cli) |\n")
	b.WriteString("| --- | --- | --- | --- | --- | --- | --- | --- |\n")
	for _, p := range pairRows(rep.Rows) {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			p.task,
			p.model,
			p.cell(func(r *types.SummaryRow) string { return fmt.Sprintf("%d%%", int(math.Round(r.SuccessRate*100))) }),
			p.cell(func(r *types.SummaryRow) string { return fmt.Sprintf("%.0f", r.AvgTotalTokens) }),
			p.tokenChange(),
			p.cell(func(r *types.SummaryRow) string { return fmt.Sprintf("%.1f", r.AvgToolCallCount) }),
			p.cell(func(r *types.SummaryRow) string { return fmt.Sprintf("%.1f", r.AvgRetries) }),
			p.cell(func(r *types.SummaryRow) string { return formatAvgDuration(r.AvgDurationMs) }),
		)
	}
	return b.String()
}

func (p *variantPair) cell(format func(*types.SummaryRow) string) string {
	side := func(r *types.SummaryRow) string {
		if r == nil {
			return "-"
		}
		return format(r)
	}
	return side(p.native) + " / " + side(p.cli)
}

// tokenChange is the CLI token change relative to native, or "-" when either
// side is missing.
func (p *variantPair) tokenChange() string {
	if p.native == nil || p.cli == nil {
		return "-"
	}
	if p.native.AvgTotalTokens == 0 {
		return "0%"
	}
	pct := (p.cli.AvgTotalTokens - p.native.AvgTotalTokens) / p.native.AvgTotalTokens * 100
	return fmt.Sprintf("%+.0f%%", pct)
}

func formatAvgDuration(ms float64) string {
	if ms <= 0 {
		return "0s"
	}
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}

func replaceBetweenMarkers(doc, beginMarker, endMarker, replacement string) (string, error) {
	beginIdx := strings.Index(doc, beginMarker)
	if beginIdx < 0 {
		return "", fmt.Errorf("missing marker %q", beginMarker)
	}
	beginLineEnd := strings.Index(doc[beginIdx:], "\n")
	if beginLineEnd < 0 {
		return "", errors.New("begin marker line missing newline")
	}
	insertStart := beginIdx + beginLineEnd + 1

	endIdx := strings.Index(doc, endMarker)
	if endIdx < 0 {
		return "", fmt.Errorf("missing marker %q", endMarker)
	}
	if endIdx < insertStart {
		return "", errors.New("end marker precedes begin marker")
	}
	return doc[:insertStart] + replacement + doc[endIdx:], nil
}

// publishCommand is the command line recorded next to a published report.
func publishCommand(args []string) string {
	if len(args) > 0 {
		args = args[1:]
	}
	return output.Command{Name: "toolcallbench", Args: args}.String()
}
