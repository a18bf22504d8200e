package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codalotl/toolcallbench/internal/types"
)

const (
	RunsFile    = "runs.json"
	SummaryFile = "summary.json"
)

// Summary is the content of summary.json.
type Summary struct {
	GeneratedAt  time.Time           `json:"generatedAt"`
	RunsPerTask  int                 `json:"runsPerTask"`
	// AgentVersion is the version the agent command reported, when known.
	AgentVersion string              `json:"agentVersion,omitempty"`
	Summary      []types.SummaryRow  `json:"summary"`
	Diffs        []types.SummaryDiff `json:"diffs"`
	System       *types.SystemInfo   `json:"system,omitempty"`
}

// NewSummary summarizes runs and pairs the variants.
func NewSummary(runs []types.RunMetrics, runsPerTask int, generatedAt time.Time, sys *types.SystemInfo) Summary {
	rows := SummarizeRuns(runs)
	diffs := SummarizeDiffs(rows)
	if diffs == nil {
		diffs = []types.SummaryDiff{}
	}
	return Summary{
		GeneratedAt: generatedAt.UTC(),
		RunsPerTask: runsPerTask,
		Summary:     rows,
		Diffs:       diffs,
		System:      sys,
	}
}

// WriteRuns writes runs as a JSON array to dir/runs.json.
func WriteRuns(dir string, runs []types.RunMetrics) error {
	if runs == nil {
		runs = []types.RunMetrics{}
	}
	return writeJSONFile(filepath.Join(dir, RunsFile), runs)
}

// ReadRuns reads dir/runs.json.
func ReadRuns(dir string) ([]types.RunMetrics, error) {
	var runs []types.RunMetrics
	if err := readJSONFile(filepath.Join(dir, RunsFile), &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// WriteSummary writes s to dir/summary.json.
func WriteSummary(dir string, s Summary) error {
	if s.Summary == nil {
		s.Summary = []types.SummaryRow{}
	}
	if s.Diffs == nil {
		s.Diffs = []types.SummaryDiff{}
	}
	return writeJSONFile(filepath.Join(dir, SummaryFile), s)
}

// ReadSummary reads dir/summary.json.
func ReadSummary(dir string) (*Summary, error) {
	var s Summary
	if err := readJSONFile(filepath.Join(dir, SummaryFile), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
