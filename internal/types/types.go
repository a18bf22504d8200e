package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// AgentVariant is the way an agent reaches a task's tool.
type AgentVariant int

const (
	// AgentNative calls the tool over MCP.
	AgentNative AgentVariant = iota + 1
	// AgentCLI calls the tool through a shell command-line wrapper.
	AgentCLI
)

// Variants returns every variant in sweep order.
func Variants() []AgentVariant {
	return []AgentVariant{AgentNative, AgentCLI}
}

func (v AgentVariant) String() string {
	switch v {
	case AgentNative:
		return "native"
	case AgentCLI:
		return "cli-wrapped"
	default:
		return fmt.Sprintf("AgentVariant(%d)", int(v))
	}
}

// Short is the column name used for the variant in diffs ("mcp" or "cli").
func (v AgentVariant) Short() string {
	switch v {
	case AgentNative:
		return "mcp"
	case AgentCLI:
		return "cli"
	default:
		return ""
	}
}

// ParseAgentVariant accepts the canonical names and the short column names.
func ParseAgentVariant(s string) (AgentVariant, error) {
	switch s {
	case "native", "mcp":
		return AgentNative, nil
	case "cli-wrapped", "cli":
		return AgentCLI, nil
	default:
		return 0, fmt.Errorf("unknown agent variant %q", s)
	}
}

func (v AgentVariant) MarshalJSON() ([]byte, error) {
	switch v {
	case AgentNative, AgentCLI:
		return json.Marshal(v.String())
	default:
		return nil, fmt.Errorf("cannot marshal %s", v)
	}
}

func (v *AgentVariant) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAgentVariant(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

type SystemInfo struct {
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	GoVersion     string `json:"goVersion"`
	Hostname      string `json:"hostname,omitempty"`
	Platform      string `json:"platform,omitempty"`
	CPUModel      string `json:"cpuModel,omitempty"`
	CPUCores      int    `json:"cpuCores,omitempty"`
	MemoryTotalMB uint64 `json:"memoryTotalMb,omitempty"`
}

type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// RunMetrics is the outcome of one execution of one task by one agent variant.
type RunMetrics struct {
	TaskID           string       `json:"taskId"`
	Model            string       `json:"model,omitempty"`
	Agent            AgentVariant `json:"agent"`
	RunIndex         int          `json:"runIndex"`
	Label            string       `json:"label,omitempty"`
	TraceID          string       `json:"traceId,omitempty"`
	PromptTokens     int          `json:"promptTokens"`
	CompletionTokens int          `json:"completionTokens"`
	TotalTokens      int          `json:"totalTokens"`
	ToolCallCount    int          `json:"toolCallCount"`
	Retries          int          `json:"retries"`
	Errors           int          `json:"errors"`
	DurationMs       int64        `json:"durationMs"`
	Timestamp        time.Time    `json:"timestamp"`
	Success          bool         `json:"success"`
	ErrorMessage     string       `json:"errorMessage,omitempty"`
}

// Interval is a confidence interval around a point estimate.
type Interval struct {
	Center float64 `json:"center"`
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
}

// SummaryRow holds the averages of one (task, agent, model) group.
type SummaryRow struct {
	TaskID              string       `json:"taskId"`
	Agent               AgentVariant `json:"agent"`
	Model               string       `json:"model,omitempty"`
	Runs                int          `json:"runs"`
	AvgTotalTokens      float64      `json:"avgTotalTokens"`
	AvgPromptTokens     float64      `json:"avgPromptTokens"`
	AvgCompletionTokens float64      `json:"avgCompletionTokens"`
	AvgToolCallCount    float64      `json:"avgToolCallCount"`
	AvgRetries          float64      `json:"avgRetries"`
	AvgErrors           float64      `json:"avgErrors"`
	AvgDurationMs       float64      `json:"avgDurationMs"`
	StdTotalTokens      float64      `json:"stdTotalTokens"`
	StdDurationMs       float64      `json:"stdDurationMs"`
	Successes           int          `json:"successes"`
	SuccessRate         float64      `json:"successRate"`
	SuccessInterval     Interval     `json:"successInterval"`
}

// SummaryDiff compares one metric between the two variants of a task.
type SummaryDiff struct {
	TaskID        string  `json:"taskId"`
	Model         string  `json:"model,omitempty"`
	Metric        string  `json:"metric"`
	Native        float64 `json:"mcp"`
	CLI           float64 `json:"cli"`
	Delta         float64 `json:"delta"`
	PercentChange float64 `json:"percentChange"`
}

// Names of the averaged metrics compared between variants.
const (
	MetricTotalTokens      = "avgTotalTokens"
	MetricPromptTokens     = "avgPromptTokens"
	MetricCompletionTokens = "avgCompletionTokens"
	MetricToolCallCount    = "avgToolCallCount"
	MetricRetries          = "avgRetries"
	MetricErrors           = "avgErrors"
	MetricDurationMs       = "avgDurationMs"
)

// Value returns the averaged metric with the given name.
func (r SummaryRow) Value(metric string) (float64, bool) {
	switch metric {
	case MetricTotalTokens:
		return r.AvgTotalTokens, true
	case MetricPromptTokens:
		return r.AvgPromptTokens, true
	case MetricCompletionTokens:
		return r.AvgCompletionTokens, true
	case MetricToolCallCount:
		return r.AvgToolCallCount, true
	case MetricRetries:
		return r.AvgRetries, true
	case MetricErrors:
		return r.AvgErrors, true
	case MetricDurationMs:
		return r.AvgDurationMs, true
	default:
		return 0, false
	}
}
