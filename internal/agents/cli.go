package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/codalotl/toolcallbench/internal/types"
)

// CLIExecutor gives the agent only its shell tool and tells it how to reach
// the task's tool through the command-line wrapper.
type CLIExecutor struct {
	agentProcess
}

func NewCLI(cfg Config) *CLIExecutor {
	return &CLIExecutor{agentProcess: newAgentProcess(cfg)}
}

func (e *CLIExecutor) Variant() types.AgentVariant {
	return types.AgentCLI
}

func (e *CLIExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	if len(e.cfg.Wrapper) == 0 {
		return nil, fmt.Errorf("no cli wrapper configured")
	}
	servers, err := e.server(req.Task.Server)
	if err != nil {
		return nil, err
	}
	configPath, err := writeServerConfig(req.WorkDir, servers)
	if err != nil {
		return nil, err
	}
	prompt, err := cliPrompt(req, e.cfg.Wrapper)
	if err != nil {
		return nil, err
	}
	args := []string{
		"--strict-mcp-config",
		"--allowedTools", "Bash",
	}
	env := []string{ServersEnvVar + "=" + configPath}
	return e.run(ctx, req, args, prompt, env)
}

// wrapperCommand is the shell command that invokes the task's tool.
func wrapperCommand(wrapper []string, server, tool, argsJSON string) string {
	parts := make([]string, 0, len(wrapper)+4)
	for _, w := range wrapper {
		parts = append(parts, shellQuote(w))
	}
	parts = append(parts, shellQuote(server), shellQuote(tool), "--args", shellQuote(argsJSON))
	return strings.Join(parts, " ")
}

func cliPrompt(req Request, wrapper []string) (string, error) {
	argsJSON, err := argumentsJSON(req.Task)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Task.Instruction))
	b.WriteString("\n\nThe tool you need is available through a command-line wrapper. ")
	b.WriteString("Run it with your shell tool:\n\n")
	fmt.Fprintf(&b, "  %s\n\n", wrapperCommand(wrapper, req.Task.Server, req.Task.Tool, argsJSON))
	fmt.Fprintf(&b, "General form: %s <server> <tool> --args '<json>'. The command prints the tool result as JSON.\n",
		strings.Join(wrapper, " "))
	return b.String(), nil
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>*?[]{}()`!#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
