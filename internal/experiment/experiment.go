// Package experiment loads the experiment.yml that defines a benchmark sweep.
package experiment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"

	"github.com/codalotl/toolcallbench/internal/fsutil"
	"github.com/codalotl/toolcallbench/internal/telemetry"
	"github.com/codalotl/toolcallbench/internal/workspace"
)

const (
	DefaultFile    = "experiment.yml"
	DefaultModel   = "default"
	DefaultWrapper = "mcp-cli"
	DefaultTimeout = 10 * time.Minute
)

var ErrNoTasks = errors.New("experiment defines no tasks")

// Experiment represents the experiment.yml file contents.
type Experiment struct {
	RunsPerTask int               `yaml:"runs-per-task"`
	Models      StringList        `yaml:"models"`
	Agent       AgentConfig       `yaml:"agent"`
	Servers     map[string]Server `yaml:"servers"`
	CLI         CLIConfig         `yaml:"cli"`
	Tasks       []Task            `yaml:"tasks"`
	Results     string            `yaml:"results"`
	Telemetry   telemetry.Config  `yaml:"telemetry"`

	// Dir is the directory of the experiment file; setup sources resolve against it.
	Dir string `yaml:"-" json:"-"`
}

// AgentConfig describes the agent CLI both variants drive.
type AgentConfig struct {
	Command string `yaml:"command"`
	// Args entries are split with shell quoting rules, so "--flag value" is two args.
	Args        StringList    `yaml:"args"`
	Timeout     time.Duration `yaml:"timeout"`
	RequiredEnv StringList    `yaml:"required-env"`
}

// Server is a tool server launched over stdio.
type Server struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
}

// CLIConfig configures the command-line wrapper used by the cli-wrapped variant.
type CLIConfig struct {
	Wrapper string `yaml:"wrapper"`
}

// Task is one benchmark scenario.
type Task struct {
	ID          string         `yaml:"id"`
	Server      string         `yaml:"server"`
	Tool        string         `yaml:"tool"`
	Arguments   map[string]any `yaml:"arguments"`
	Instruction string         `yaml:"instruction"`
	// Expect holds regular expressions the final answer must match for the run to succeed.
	Expect StringList `yaml:"expect"`
	// Setup copies fixtures into each execution's work dir before the agent starts.
	Setup []CopyStep `yaml:"setup"`
}

// CopyStep copies From (relative to the experiment dir) into To (relative to
// the work dir, default ".").
type CopyStep struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// ProvidesPath reports whether a setup step places the relative path rel in
// the work dir, either as a copied entry or inside a copied directory.
func (t Task) ProvidesPath(rel string) bool {
	if rel == "" || filepath.IsAbs(rel) {
		return false
	}
	rel = filepath.Clean(rel)
	for _, step := range t.Setup {
		dest := filepath.Join(step.To, filepath.Base(filepath.Clean(step.From)))
		if rel == dest || strings.HasPrefix(rel, dest+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// StringList allows unmarshalling a string or a slice of strings.
type StringList []string

// UnmarshalYAML makes StringList accept a string or a slice.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var v string
		if err := value.Decode(&v); err != nil {
			return err
		}
		if v != "" {
			*s = []string{v}
		}
		return nil
	case yaml.SequenceNode:
		var vals []string
		if err := value.Decode(&vals); err != nil {
			return err
		}
		*s = vals
		return nil
	case 0:
		// missing field is fine
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", value.Kind)
	}
}

// Load reads an experiment from path and fills in defaults. It does not validate.
func Load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var exp Experiment
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	exp.Dir = filepath.Dir(path)
	exp.applyDefaults()
	return &exp, nil
}

func (e *Experiment) applyDefaults() {
	if e.RunsPerTask == 0 {
		e.RunsPerTask = 1
	}
	if e.Agent.Timeout == 0 {
		e.Agent.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(e.CLI.Wrapper) == "" {
		e.CLI.Wrapper = DefaultWrapper
	}
	if e.Telemetry.Traces == "" {
		e.Telemetry.Traces = telemetry.ExporterNone
	}
	if e.Telemetry.Metrics == "" {
		e.Telemetry.Metrics = telemetry.ExporterNone
	}
}

// Validate checks required fields and cross references.
func Validate(e *Experiment) error {
	if e.RunsPerTask < 1 {
		return fmt.Errorf("runs-per-task must be >= 1, got %d", e.RunsPerTask)
	}
	if strings.TrimSpace(e.Agent.Command) == "" {
		return errors.New("agent.command is required")
	}
	if e.Agent.Timeout < 0 {
		return errors.New("agent.timeout cannot be negative")
	}
	if _, err := e.AgentArgs(); err != nil {
		return err
	}
	if _, err := e.WrapperArgs(); err != nil {
		return err
	}
	for name, srv := range e.Servers {
		if strings.TrimSpace(srv.Command) == "" {
			return fmt.Errorf("servers.%s.command is required", name)
		}
	}
	for _, m := range e.Models {
		if strings.TrimSpace(m) == "" {
			return errors.New("models entries cannot be empty")
		}
	}
	if err := e.Telemetry.Validate(); err != nil {
		return err
	}
	if len(e.Tasks) == 0 {
		return ErrNoTasks
	}
	seen := map[string]bool{}
	for i, task := range e.Tasks {
		if err := validateTask(e, task); err != nil {
			if task.ID != "" {
				return fmt.Errorf("task %q: %w", task.ID, err)
			}
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if seen[task.ID] {
			return fmt.Errorf("duplicate task id %q", task.ID)
		}
		seen[task.ID] = true
	}
	return nil
}

func validateTask(e *Experiment, task Task) error {
	if _, err := workspace.CleanName(task.ID); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if strings.TrimSpace(task.Server) == "" {
		return errors.New("server is required")
	}
	if _, ok := e.Servers[task.Server]; !ok {
		return fmt.Errorf("unknown server %q", task.Server)
	}
	if strings.TrimSpace(task.Tool) == "" {
		return errors.New("tool is required")
	}
	if strings.Contains(task.Server, "__") || strings.Contains(task.Tool, "__") {
		return errors.New("server and tool names cannot contain \"__\"")
	}
	if strings.TrimSpace(task.Instruction) == "" {
		return errors.New("instruction is required")
	}
	if _, err := task.ExpectPatterns(); err != nil {
		return err
	}
	for _, step := range task.Setup {
		if err := validateCopyStep(e.Dir, step); err != nil {
			return err
		}
	}
	return nil
}

func validateCopyStep(dir string, step CopyStep) error {
	if strings.TrimSpace(step.From) == "" {
		return errors.New("setup steps must include from")
	}
	if dir == "" {
		dir = "."
	}
	src, err := fsutil.SafeJoin(dir, step.From)
	if err != nil {
		return fmt.Errorf("setup from: %w", err)
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("setup source does not exist: %s", step.From)
	}
	if _, err := fsutil.SafeJoin(".", step.To); err != nil {
		return fmt.Errorf("setup to: %w", err)
	}
	return nil
}

// CheckEnv reports the agent.required-env variables that lookup cannot find.
func (e *Experiment) CheckEnv(lookup func(string) (string, bool)) error {
	var missing []string
	for _, name := range e.Agent.RequiredEnv {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if v, ok := lookup(name); !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ModelList returns the models to sweep, or the placeholder model when none are configured.
func (e *Experiment) ModelList() []string {
	if len(e.Models) == 0 {
		return []string{DefaultModel}
	}
	return append([]string(nil), e.Models...)
}

// AgentArgs returns agent.args split into individual arguments.
func (e *Experiment) AgentArgs() ([]string, error) {
	var out []string
	for _, raw := range e.Agent.Args {
		args, err := shellwords.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("agent.args entry %q: %w", raw, err)
		}
		out = append(out, args...)
	}
	return out, nil
}

// WrapperArgs returns cli.wrapper split into the command prefix the cli-wrapped
// variant invokes.
func (e *Experiment) WrapperArgs() ([]string, error) {
	args, err := shellwords.Parse(e.CLI.Wrapper)
	if err != nil {
		return nil, fmt.Errorf("cli.wrapper %q: %w", e.CLI.Wrapper, err)
	}
	if len(args) == 0 {
		return nil, errors.New("cli.wrapper is required")
	}
	return args, nil
}

// SelectTasks returns the tasks with the given ids in experiment order, or all
// tasks when ids is empty.
func (e *Experiment) SelectTasks(ids []string) ([]Task, error) {
	if len(ids) == 0 {
		return append([]Task(nil), e.Tasks...), nil
	}
	want := map[string]bool{}
	for _, id := range ids {
		want[strings.TrimSpace(id)] = true
	}
	var out []Task
	for _, task := range e.Tasks {
		if want[task.ID] {
			out = append(out, task)
			delete(want, task.ID)
		}
	}
	if len(want) > 0 {
		var unknown []string
		for id := range want {
			unknown = append(unknown, id)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown task(s): %s", strings.Join(unknown, ", "))
	}
	if len(out) == 0 {
		return nil, ErrNoTasks
	}
	return out, nil
}

// ExpectPatterns compiles the task's expect entries.
func (t Task) ExpectPatterns() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(t.Expect))
	for _, raw := range t.Expect {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("expect pattern %q: %w", raw, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// ArgumentsJSONCompatible normalizes YAML-decoded arguments (which may contain
// map[string]any with non-string keys in nested values) into JSON-compatible values.
func (t Task) ArgumentsJSONCompatible() map[string]any {
	out := make(map[string]any, len(t.Arguments))
	for k, v := range t.Arguments {
		out[k] = jsonCompatible(v)
	}
	return out
}

func jsonCompatible(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = jsonCompatible(inner)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[fmt.Sprint(k)] = jsonCompatible(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = jsonCompatible(inner)
		}
		return out
	default:
		return val
	}
}
