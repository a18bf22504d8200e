package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codalotl/toolcallbench/internal/experiment"
	"github.com/codalotl/toolcallbench/internal/output"
)

// ServersEnvVar names the server config file in the environment of the
// cli-wrapped agent, for the wrapper to read.
const ServersEnvVar = "TOOLCALLBENCH_SERVERS"

const serverConfigFile = "mcp-servers.json"

// Config is shared by both executors.
type Config struct {
	// Command is the agent CLI, driven with Claude Code style flags.
	Command string
	Args    []string
	Timeout time.Duration
	// Wrapper is the command prefix of the shell wrapper, e.g. ["mcp-cli"].
	Wrapper []string
	Servers map[string]experiment.Server
	Printer *output.Printer
	Logger  *slog.Logger
}

// NewExecutors builds the native and cli-wrapped executors for exp.
func NewExecutors(exp *experiment.Experiment, printer *output.Printer, logger *slog.Logger) ([]Executor, error) {
	args, err := exp.AgentArgs()
	if err != nil {
		return nil, err
	}
	wrapper, err := exp.WrapperArgs()
	if err != nil {
		return nil, err
	}
	cfg := Config{
		Command: exp.Agent.Command,
		Args:    args,
		Timeout: exp.Agent.Timeout,
		Wrapper: wrapper,
		Servers: exp.Servers,
		Printer: printer,
		Logger:  logger,
	}
	return []Executor{NewNative(cfg), NewCLI(cfg)}, nil
}

type agentProcess struct {
	cfg Config
}

func newAgentProcess(cfg Config) agentProcess {
	if cfg.Printer == nil {
		cfg.Printer = output.NewPrinter(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return agentProcess{cfg: cfg}
}

// run starts the agent on prompt, feeding its output through a transcript
// parser. extraArgs go between the common flags and the prompt.
func (a agentProcess) run(ctx context.Context, req Request, extraArgs []string, prompt string, env []string) (*Result, error) {
	if strings.TrimSpace(a.cfg.Command) == "" {
		return nil, errors.New("agent command is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("instructions are required")
	}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	args := append([]string(nil), a.cfg.Args...)
	args = append(args,
		"-p",
		"--output-format=stream-json",
		"--verbose",
	)
	if model := strings.TrimSpace(req.Model); model != "" && model != experiment.DefaultModel {
		args = append(args, fmt.Sprintf("--model=%s", model))
	}
	args = append(args, extraArgs...)
	args = append(args, prompt)

	a.cfg.Logger.Debug("starting agent", "label", req.Label, "command", a.cfg.Command, "dir", req.WorkDir)

	parser := newTranscriptParser(ctx, a.cfg.Wrapper)
	out, runErr := a.cfg.Printer.RunCommandStreaming(ctx, output.Command{
		Dir:  req.WorkDir,
		Name: a.cfg.Command,
		Args: args,
		Env:  env,
	}, parser.HandleLine)
	res, parseErr := parser.Finish()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("agent timed out after %s: %w", a.cfg.Timeout, ctx.Err())
	}
	if runErr != nil {
		if out != nil {
			if msg := lastLine(out.Stderr); msg != "" {
				return res, fmt.Errorf("%s: %w: %s", a.cfg.Command, runErr, msg)
			}
		}
		return res, fmt.Errorf("%s: %w", a.cfg.Command, runErr)
	}
	return res, parseErr
}

// writeServerConfig writes an {"mcpServers": {...}} file for the named servers
// into dir and returns its path.
func writeServerConfig(dir string, servers map[string]experiment.Server) (string, error) {
	type serverEntry struct {
		Type    string            `json:"type"`
		Command string            `json:"command"`
		Args    []string          `json:"args"`
		Env     map[string]string `json:"env,omitempty"`
	}
	entries := make(map[string]serverEntry, len(servers))
	for name, srv := range servers {
		args := srv.Args
		if args == nil {
			args = []string{}
		}
		entries[name] = serverEntry{Type: "stdio", Command: srv.Command, Args: args, Env: srv.Env}
	}
	data, err := json.MarshalIndent(map[string]any{"mcpServers": entries}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, serverConfigFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing server config: %w", err)
	}
	return path, nil
}

func (a agentProcess) server(name string) (map[string]experiment.Server, error) {
	srv, ok := a.cfg.Servers[name]
	if !ok {
		return nil, fmt.Errorf("unknown server %q", name)
	}
	return map[string]experiment.Server{name: srv}, nil
}

func argumentsJSON(task experiment.Task) (string, error) {
	data, err := json.Marshal(task.ArgumentsJSONCompatible())
	if err != nil {
		return "", fmt.Errorf("encoding arguments of task %q: %w", task.ID, err)
	}
	return string(data), nil
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
