package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codalotl/toolcallbench/internal/report"
	"github.com/codalotl/toolcallbench/internal/types"
)

func TestPublishReportWritesFilesAndUpdatesReadme(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	readme := "# demo\n\n## Results\n\n" + beginResultsMarker + "\nold\n" + endResultsMarker + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte(readme), 0o644))

	rep := &report.Report{
		Rows: []types.SummaryRow{
			{
				TaskID:           "read",
				Agent:            types.AgentNative,
				Model:            "sonnet",
				SuccessRate:      1,
				AvgTotalTokens:   1000,
				AvgToolCallCount: 1,
				AvgDurationMs:    4000,
			},
			{
				TaskID:           "read",
				Agent:            types.AgentCLI,
				Model:            "sonnet",
				SuccessRate:      0.23,
				AvgTotalTokens:   1234.4,
				AvgToolCallCount: 2.5,
				AvgRetries:       0.5,
				AvgDurationMs:    63200,
			},
			{
				TaskID:         "fetch",
				Agent:          types.AgentCLI,
				Model:          "sonnet",
				AvgTotalTokens: 50,
			},
		},
	}
	at := time.Date(2025, 12, 14, 10, 11, 12, 0, time.Local)
	stamp := at.Format("2006-01-02_15-04-05")

	summaryRel, err := publishReport(root, rep, "toolcallbench report --publish", at)
	require.NoError(t, err)
	require.Equal(t, filepath.Join("summaries", "summary_"+stamp), summaryRel)

	summaryDir := filepath.Join(root, summaryRel)
	var wantCSV bytes.Buffer
	require.NoError(t, rep.WriteCSV(&wantCSV))
	gotCSV, err := os.ReadFile(filepath.Join(summaryDir, "report.csv"))
	require.NoError(t, err)
	require.Equal(t, wantCSV.String(), string(gotCSV))

	gotJSON, err := os.ReadFile(filepath.Join(summaryDir, "report.json"))
	require.NoError(t, err)
	require.Contains(t, string(gotJSON), `"summary"`)

	gotMD, err := os.ReadFile(filepath.Join(summaryDir, "report.md"))
	require.NoError(t, err)
	require.Contains(t, string(gotMD), "| read |")

	gotCmd, err := os.ReadFile(filepath.Join(summaryDir, "command"))
	require.NoError(t, err)
	require.Equal(t, "toolcallbench report --publish\n", string(gotCmd))

	updated, err := os.ReadFile(filepath.Join(root, "README.md"))
	require.NoError(t, err)
	require.NotContains(t, string(updated), "\nold\n")
	require.Contains(t, string(updated), "| read | sonnet | 100% / 23% | 1000 / 1234 | +23% | 1.0 / 2.5 | 0.0 / 0.5 | 4s / 1m3.2s |")
	require.Contains(t, string(updated), "| fetch | sonnet | - / 0% | - / 50 | - | - / 0.0 | - / 0.0 | - / 0s |")
	link := "summaries/summary_" + stamp
	require.Contains(t, string(updated), "Results as of "+at.Format("2006-01-02")+". See ["+link+"]("+link+").")
}

func TestPublishReportRequiresMarkers(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# demo\n"), 0o644))
	_, err := publishReport(root, &report.Report{}, "toolcallbench report", time.Now())
	require.ErrorContains(t, err, beginResultsMarker)
}

func TestPublishCommand(t *testing.T) {
	t.Parallel()

	require.Equal(t, "toolcallbench report", publishCommand([]string{"/tmp/x/toolcallbench", "report"}))
	require.Equal(t, "toolcallbench report '--tasks=a b'", publishCommand([]string{"/tmp/gnarly/toolcallbench", "report", "--tasks=a b"}))
	require.Equal(t, "toolcallbench", publishCommand(nil))
}
