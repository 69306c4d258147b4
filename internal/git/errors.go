package git

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrOutputLimit indicates a command produced more output than the executor
// is willing to buffer. The command is treated as failed, never truncated.
var ErrOutputLimit = errors.New("git: output exceeds limit")

// Kind is the closed set of failure classes recognised from git output.
type Kind int

const (
	// KindFatal covers everything not recognised below. Fatal errors are
	// propagated unchanged to the caller.
	KindFatal Kind = iota
	KindTransient
	KindNothingToCommit
	KindNoUpstream
	KindRejected
	KindConflict
	KindNotARepository
	KindBranchNotFound
	KindAuthFailed
	KindInvalidName
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNothingToCommit:
		return "nothing-to-commit"
	case KindNoUpstream:
		return "no-upstream"
	case KindRejected:
		return "rejected"
	case KindConflict:
		return "conflict"
	case KindNotARepository:
		return "not-a-repository"
	case KindBranchNotFound:
		return "branch-not-found"
	case KindAuthFailed:
		return "auth-failed"
	case KindInvalidName:
		return "invalid-name"
	default:
		return "fatal"
	}
}

// Patterns are matched against lower-cased combined output, in order. The
// first match wins, so more specific families come first.
var outputClassifiers = []struct {
	kind     Kind
	patterns []string
}{
	{KindNothingToCommit, []string{
		"nothing to commit",
		"nothing added to commit",
		"no changes added to commit",
	}},
	{KindRejected, []string{
		"[rejected]",
		"non-fast-forward",
		"(fetch first)",
		"updates were rejected",
		"tip of your current branch is behind",
	}},
	{KindNoUpstream, []string{
		"has no upstream branch",
		"no upstream configured",
		"no upstream branch",
		"there is no tracking information",
	}},
	{KindConflict, []string{
		"conflict (",
		"merge conflict",
		"fix conflicts",
		"unmerged files",
		"could not apply",
		"resolve your current index first",
	}},
	{KindNotARepository, []string{
		"not a git repository",
	}},
	{KindAuthFailed, []string{
		"authentication failed",
		"permission denied",
		"could not read username",
		"could not read password",
		"access denied",
		"the requested url returned error: 401",
		"the requested url returned error: 403",
		"repository not found",
	}},
	{KindInvalidName, []string{
		"is not a valid branch name",
		"not a valid remote name",
		"invalid refspec",
		"is not a valid ref name",
	}},
	{KindBranchNotFound, []string{
		"did not match any file(s) known to git",
		"couldn't find remote ref",
		"does not match any",
		"invalid reference",
		"unknown revision",
		"not a valid ref",
		"no such branch",
	}},
	{KindTransient, []string{
		"connection reset",
		"connection timed out",
		"operation timed out",
		"the remote end hung up unexpectedly",
		"early eof",
		"rpc failed",
		"tls handshake timeout",
	}},
}

// ClassifyOutput maps raw git output onto a Kind.
func ClassifyOutput(output string) Kind {
	lowered := strings.ToLower(output)
	for _, c := range outputClassifiers {
		for _, p := range c.patterns {
			if strings.Contains(lowered, p) {
				return c.kind
			}
		}
	}
	return KindFatal
}

// Classify reports the Kind of err. GitErrors carry the kind computed from
// their output; timeouts are transient; everything else falls back to
// matching the error text.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}
	var gitErr *GitError
	if errors.As(err, &gitErr) {
		return gitErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return ClassifyOutput(err.Error())
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && Classify(err) == kind
}

// GitError wraps failures when invoking the git binary.
type GitError struct {
	Args []string
	Dir  string
	// Stdout is the captured standard output. Some porcelain commands
	// (commit) report their failure reason here.
	Stdout string
	// Stderr is the captured standard error with warning/hint noise removed.
	Stderr string
	Kind   Kind
	Err    error
}

// NewGitError builds a GitError, classifying it from the raw output before
// noise is filtered out.
func NewGitError(args []string, dir, stdout, stderr string, err error) *GitError {
	return &GitError{
		Args:   args,
		Dir:    dir,
		Stdout: stdout,
		Stderr: FilterNoise(stderr),
		Kind:   ClassifyOutput(stderr + "\n" + stdout),
		Err:    err,
	}
}

func (e *GitError) Error() string {
	if e == nil {
		return ""
	}
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(e.Stdout)
	}
	if detail == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %v\n%s", strings.Join(e.Args, " "), e.Err, detail)
}

func (e *GitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// FilterNoise drops advisory lines (warning:, hint:) from git stderr so the
// remaining text is the reason git actually reported.
func FilterNoise(stderr string) string {
	lines := strings.Split(strings.ReplaceAll(stderr, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		probe := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(probe, "warning:") || strings.HasPrefix(probe, "hint:") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
