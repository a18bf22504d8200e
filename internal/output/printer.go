package output

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Printer writes progress for humans. Command output is only echoed when
// verbose is set; it is always captured.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	last    outputKind
}

type outputKind int

const (
	outputNone outputKind = iota
	outputApp
	outputCommand
)

func NewPrinter(out io.Writer) *Printer {
	if out == nil {
		out = io.Discard
	}
	return &Printer{out: out, last: outputNone}
}

// SetVerbose controls whether commands and their output are echoed.
func (p *Printer) SetVerbose(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verbose = v
}

// App writes application output.
func (p *Printer) App(text string) error {
	if text == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureGapBeforeApp(); err != nil {
		return err
	}
	if _, err := io.WriteString(p.out, ensureTrailingNewline(text)); err != nil {
		return err
	}
	p.last = outputApp
	return nil
}

func (p *Printer) Appf(format string, args ...any) error {
	return p.App(fmt.Sprintf(format, args...))
}

// Command describes a process to run.
type Command struct {
	Dir  string
	Name string
	Args []string
	// Env is appended to the current environment.
	Env   []string
	Stdin io.Reader
}

func (c Command) String() string {
	return formatCommand(c.Name, c.Args)
}

// CommandOutput is what a finished command wrote.
type CommandOutput struct {
	Stdout []byte
	Stderr []byte
}

// RunCommandStreaming runs cmd, handing each stdout line to onLine as it
// arrives. Stdout and stderr are captured in full. The returned error is the
// process error, or the first error from reading the streams or from onLine.
func (p *Printer) RunCommandStreaming(ctx context.Context, cmd Command, onLine func(line []byte) error) (*CommandOutput, error) {
	p.mu.Lock()
	verbose := p.verbose
	if verbose {
		if err := p.ensureGapBeforeCommand(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
		if _, err := io.WriteString(p.out, ensureTrailingNewline(cmd.String())); err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.last = outputCommand
	}
	p.mu.Unlock()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdin = cmd.Stdin
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := c.Start(); err != nil {
		return nil, err
	}

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		var cbErr error
		for scanner.Scan() {
			line := scanner.Bytes()
			outBuf.Write(line)
			outBuf.WriteByte('\n')
			p.echo(verbose, line)
			if cbErr == nil && onLine != nil {
				// Keep draining after a callback error so the process is not blocked.
				cbErr = onLine(append([]byte(nil), line...))
			}
		}
		if err := scanner.Err(); err != nil {
			_, _ = io.Copy(io.Discard, stdout)
			return err
		}
		return cbErr
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			errBuf.Write(scanner.Bytes())
			errBuf.WriteByte('\n')
			p.echo(verbose, scanner.Bytes())
		}
		return scanner.Err()
	})

	streamErr := g.Wait()
	waitErr := c.Wait()
	res := &CommandOutput{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes()}
	if waitErr != nil {
		return res, waitErr
	}
	return res, streamErr
}

func (p *Printer) echo(verbose bool, line []byte) {
	if !verbose {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.out.Write(append(append([]byte("  "), line...), '\n'))
}

func (p *Printer) ensureGapBeforeCommand() error {
	switch p.last {
	case outputApp, outputCommand:
		_, err := io.WriteString(p.out, "\n")
		return err
	default:
		return nil
	}
}

func (p *Printer) ensureGapBeforeApp() error {
	if p.last != outputCommand {
		return nil
	}
	_, err := io.WriteString(p.out, "\n")
	return err
}

func ensureTrailingNewline(text string) string {
	if strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}

func formatCommand(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(name))
	for _, arg := range args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n'\"\\$&|;<>*?[]{}()") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", "'\"'\"'") + "'"
}
