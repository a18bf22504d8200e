package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/codalotl/toolcallbench/internal/types"
)

// NativeExecutor gives the agent the task's tool server over MCP.
type NativeExecutor struct {
	agentProcess
}

func NewNative(cfg Config) *NativeExecutor {
	return &NativeExecutor{agentProcess: newAgentProcess(cfg)}
}

func (e *NativeExecutor) Variant() types.AgentVariant {
	return types.AgentNative
}

func (e *NativeExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	servers, err := e.server(req.Task.Server)
	if err != nil {
		return nil, err
	}
	configPath, err := writeServerConfig(req.WorkDir, servers)
	if err != nil {
		return nil, err
	}
	prompt, err := nativePrompt(req)
	if err != nil {
		return nil, err
	}
	args := []string{
		"--mcp-config", configPath,
		"--strict-mcp-config",
		"--allowedTools", nativeToolName(req.Task.Server, req.Task.Tool),
	}
	return e.run(ctx, req, args, prompt, nil)
}

func nativeToolName(server, tool string) string {
	return "mcp__" + server + "__" + tool
}

func nativePrompt(req Request) (string, error) {
	argsJSON, err := argumentsJSON(req.Task)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Task.Instruction))
	fmt.Fprintf(&b, "\n\nUse the %s tool of the %s MCP server (%s) with these arguments:\n%s\n",
		req.Task.Tool, req.Task.Server, nativeToolName(req.Task.Server, req.Task.Tool), argsJSON)
	return b.String(), nil
}
