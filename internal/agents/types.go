package agents

import (
	"context"
	"errors"

	"github.com/samber/lo"

	"github.com/codalotl/toolcallbench/internal/experiment"
	"github.com/codalotl/toolcallbench/internal/types"
)

// ErrNoResult is returned when the agent exits without reporting a final result.
var ErrNoResult = errors.New("agent produced no result message")

// Request is one execution of a task by an executor.
type Request struct {
	Task  experiment.Task
	Model string
	// Label uniquely names the execution; it is also the root span name.
	Label   string
	WorkDir string
}

// Usage is the token usage an agent reports. Any field may be absent.
type Usage struct {
	InputTokens  *int `json:"inputTokens,omitempty"`
	OutputTokens *int `json:"outputTokens,omitempty"`
	TotalTokens  *int `json:"totalTokens,omitempty"`
}

// Resolve fills absent fields with zero; an absent total is input + output.
func (u *Usage) Resolve() types.TokenUsage {
	if u == nil {
		return types.TokenUsage{}
	}
	in := lo.FromPtr(u.InputTokens)
	out := lo.FromPtr(u.OutputTokens)
	total := in + out
	if u.TotalTokens != nil {
		total = *u.TotalTokens
	}
	return types.TokenUsage{Prompt: in, Completion: out, Total: total}
}

// Result contains the details returned by an executor. It may accompany an
// error, in which case it holds whatever was observed before the failure.
type Result struct {
	// Output is the agent's final answer.
	Output string
	// Transcript is the raw stream the agent wrote.
	Transcript string
	Usage      *Usage
	// Session is the agent's session id, when it reports one.
	Session string
}

// Executor runs one task through one agent variant. Spans are emitted on the
// tracer provider of the span found in ctx.
type Executor interface {
	Variant() types.AgentVariant
	Execute(ctx context.Context, req Request) (*Result, error)
}
