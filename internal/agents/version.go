package agents

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+(?:[-\w\.]+)?`)

// Version runs `command -v` and extracts a semantic version from its output.
func Version(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", errors.New("agent command is required")
	}
	cmd := exec.CommandContext(ctx, command, "-v")
	output, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(output))
	if version := parseVersion(trimmed); version != "" {
		return version, nil
	}
	if err != nil {
		return "", err
	}
	if trimmed == "" {
		return "", fmt.Errorf("%s -v returned no output", command)
	}
	return "", fmt.Errorf("could not parse %s version from %q", command, trimmed)
}

func parseVersion(output string) string {
	return versionPattern.FindString(output)
}
