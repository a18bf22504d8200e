package output

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestAppWritesTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	require.NoError(t, p.App("hello"))
	require.NoError(t, p.Appf("n=%d\n", 2))
	require.NoError(t, p.App(""))
	require.Equal(t, "hello\nn=2\n", buf.String())
}

func TestRunCommandStreamingDeliversLines(t *testing.T) {
	requireShell(t)

	var buf bytes.Buffer
	p := NewPrinter(&buf)
	var lines []string
	res, err := p.RunCommandStreaming(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", `echo one; echo "$GREETING"; echo oops >&2`},
		Env:  []string{"GREETING=two"},
	}, func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, lines)
	require.Equal(t, "one\ntwo\n", string(res.Stdout))
	require.Equal(t, "oops\n", string(res.Stderr))
	require.Empty(t, buf.String(), "quiet printer does not echo")
}

func TestRunCommandStreamingVerboseEchoes(t *testing.T) {
	requireShell(t)

	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.SetVerbose(true)
	_, err := p.RunCommandStreaming(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo hi"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "sh -c 'echo hi'\n  hi\n", buf.String())
}

func TestRunCommandStreamingReturnsExitError(t *testing.T) {
	requireShell(t)

	p := NewPrinter(nil)
	res, err := p.RunCommandStreaming(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo partial; exit 3"}}, nil)
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 3, exitErr.ExitCode())
	require.Equal(t, "partial\n", string(res.Stdout))
}

func TestRunCommandStreamingCallbackError(t *testing.T) {
	requireShell(t)

	boom := errors.New("boom")
	calls := 0
	_, err := NewPrinter(nil).RunCommandStreaming(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo a; echo b"}}, func([]byte) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestFormatCommandQuotes(t *testing.T) {
	got := formatCommand("claude", []string{"-p", "hello world", "", "it's"})
	require.Equal(t, `claude -p 'hello world' '' 'it'"'"'s'`, got)
	require.False(t, strings.HasSuffix(got, " "))
}
