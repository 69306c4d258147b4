package git

import (
	"context"
	"strings"
)

// Executor runs a single git command against a working directory.
// Implementations either fully succeed or return a classified error; a
// Result is never partially populated on failure.
type Executor interface {
	Run(ctx context.Context, dir string, args ...string) (Result, error)
}

// Result carries the standard output of a successful command.
type Result struct {
	// Stdout is the trimmed standard output.
	Stdout string
	// Raw is the untrimmed standard output, needed by porcelain parsers
	// where leading whitespace is significant.
	Raw string
	// Stderr is the standard error of the successful command with noise
	// removed. Push reports "Everything up-to-date" here.
	Stderr string
}

// Lines splits the raw output into non-empty lines without trimming them.
func (r Result) Lines() []string {
	if r.Raw == "" {
		return nil
	}
	parts := strings.Split(strings.ReplaceAll(r.Raw, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		lines = append(lines, part)
	}
	return lines
}

func newResult(raw, stderr string) Result {
	return Result{Stdout: strings.TrimSpace(raw), Raw: raw, Stderr: FilterNoise(stderr)}
}
