package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ResultsEnvVar overrides the results directory of an experiment.
const ResultsEnvVar = "TOOLCALLBENCH_RESULTS"

const (
	DefaultResultsDir = "results"
	runsDirName       = "runs"
	latestName        = "latest"
	stampLayout       = "2006-01-02T15-04-05"
)

// CleanName ensures a task id is usable as a single path element.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name is required")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("name %q must be relative", name)
	}
	clean := filepath.Clean(name)
	if clean == "." || strings.HasPrefix(clean, "..") || strings.ContainsRune(clean, filepath.Separator) {
		return "", fmt.Errorf("name %q must be a single path element", name)
	}
	return clean, nil
}

// ResultsDir resolves the results directory. The environment variable wins over
// configured; relative paths are joined to root.
func ResultsDir(root, configured string) string {
	dir := strings.TrimSpace(configured)
	if env := strings.TrimSpace(os.Getenv(ResultsEnvVar)); env != "" {
		dir = env
	}
	if dir == "" {
		dir = DefaultResultsDir
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(root, filepath.Clean(dir))
}

// CreateRunDir creates <resultsDir>/runs/<UTC stamp> and points
// <resultsDir>/latest at it.
func CreateRunDir(resultsDir string, now time.Time) (string, error) {
	stamp := now.UTC().Format(stampLayout)
	runDir, err := filepath.Abs(filepath.Join(resultsDir, runsDirName, stamp))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	for i := 2; ; i++ {
		if _, err := os.Stat(runDir); errors.Is(err, os.ErrNotExist) {
			break
		}
		runDir = filepath.Join(filepath.Dir(runDir), fmt.Sprintf("%s-%d", stamp, i))
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(resultsDir, latestName)
	_ = os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// LatestRunDir returns the target of the latest link, falling back to the
// newest directory under runs/.
func LatestRunDir(resultsDir string) (string, error) {
	if target, err := os.Readlink(filepath.Join(resultsDir, latestName)); err == nil {
		if !filepath.IsAbs(target) {
			target = filepath.Join(resultsDir, target)
		}
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			return target, nil
		}
	}

	entries, err := os.ReadDir(filepath.Join(resultsDir, runsDirName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("no runs found in %s", resultsDir)
		}
		return "", err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("no runs found in %s", resultsDir)
	}
	sort.Strings(dirs)
	return filepath.Join(resultsDir, runsDirName, dirs[len(dirs)-1]), nil
}

// WorkDir returns a per-execution directory under runDir for label, creating it.
func WorkDir(runDir, label string) (string, error) {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, label)
	dir := filepath.Join(runDir, "work", name)
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// EnsureDir makes sure dir exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
