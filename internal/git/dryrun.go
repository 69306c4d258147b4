package git

import (
	"context"
	"log/slog"
	"strings"
)

// NewDryRunExecutor wraps inner so that commands which would change the
// repository or the remote are logged and reported as successful without
// running. Read-only queries still reach inner so diagnostics stay accurate.
func NewDryRunExecutor(inner Executor, logger *slog.Logger) Executor {
	return &dryRunExecutor{inner: inner, log: logger}
}

type dryRunExecutor struct {
	inner Executor
	log   *slog.Logger
}

func (e *dryRunExecutor) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	if IsMutating(args) {
		if e.log != nil {
			e.log.Info("dry run: skipping git command", "dir", dir, "args", strings.Join(args, " "))
		}
		return Result{}, nil
	}
	return e.inner.Run(ctx, dir, args...)
}

// IsMutating reports whether the git command described by args writes to the
// working tree, the index, refs, configuration or the remote.
func IsMutating(args []string) bool {
	primary, rest := primaryGitCommand(args)
	switch primary {
	case "add", "commit", "push", "pull", "rebase", "merge", "init", "checkout",
		"switch", "reset", "rm", "mv", "clean", "update-ref", "tag", "restore":
		return true
	case "stash":
		return len(rest) == 0 || (rest[0] != "list" && rest[0] != "show")
	case "branch":
		return !branchIsQuery(rest)
	case "remote":
		if len(rest) == 0 {
			return false
		}
		switch rest[0] {
		case "add", "set-url", "remove", "rm", "rename", "set-head", "set-branches", "prune":
			return true
		}
		return false
	case "config":
		for _, arg := range rest {
			switch arg {
			case "--get", "--get-all", "--get-regexp", "--list", "-l":
				return false
			}
		}
		return true
	case "symbolic-ref":
		return countPositional(rest) >= 2
	default:
		return false
	}
}

func branchIsQuery(rest []string) bool {
	if len(rest) == 0 {
		return true
	}
	for _, arg := range rest {
		switch arg {
		case "--show-current", "--list", "-l", "-a", "--all", "-r", "--remotes", "-v", "-vv", "--contains", "--merged", "--no-merged":
			return true
		}
	}
	return false
}

func countPositional(args []string) int {
	n := 0
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			n++
		}
	}
	return n
}
