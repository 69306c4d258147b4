// Package diagnose inspects a repository before anything mutates it and
// reports an ordered list of Issues.
package diagnose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rancher/fast-push/internal/inspect"
	"github.com/rancher/fast-push/internal/vcs"
)

// StaleLockAge is the age from which an index lock is considered abandoned.
const StaleLockAge = 5 * time.Minute

// Inspector is the read-only query set the engine needs.
type Inspector interface {
	IsRepository(ctx context.Context, h vcs.Handle) (bool, error)
	HasCommits(ctx context.Context, h vcs.Handle) (bool, error)
	Snapshot(ctx context.Context, h vcs.Handle) (inspect.Snapshot, error)
	Divergence(ctx context.Context, h vcs.Handle, branch string) (inspect.Divergence, error)
	RemoteBranchExists(ctx context.Context, h vcs.Handle, branch string) bool
	UnpushedCommits(ctx context.Context, h vcs.Handle) (int, error)
}

// Engine runs the pre-flight checks.
type Engine struct {
	inspector Inspector
	log       *slog.Logger
	now       func() time.Time
}

// New returns an Engine.
func New(inspector Inspector, logger *slog.Logger) *Engine {
	return &Engine{inspector: inspector, log: logger, now: time.Now}
}

// WithClock overrides the clock used to age lock files.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Diagnose returns the issues found in h, in display priority order. A
// directory that is not a repository yields exactly [no-repo] and nothing
// else is queried.
func (e *Engine) Diagnose(ctx context.Context, h vcs.Handle) ([]Issue, error) {
	isRepo, err := e.inspector.IsRepository(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("check repository: %w", err)
	}
	if !isRepo {
		return []Issue{noRepoIssue(h)}, nil
	}

	hasCommits, err := e.inspector.HasCommits(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("check commits: %w", err)
	}
	snap, err := e.inspector.Snapshot(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("inspect repository: %w", err)
	}
	if e.log != nil {
		e.log.Debug("repository snapshot",
			"repo", h.Path,
			"branch", snap.Branch,
			"remote", snap.RemoteURL,
			"stashes", len(snap.Stashes),
			"has_commits", hasCommits,
		)
	}

	var issues []Issue

	if len(snap.Conflicts) > 0 {
		issues = append(issues, Issue{
			ID:          MergeConflicts,
			Title:       "Merge conflicts",
			Description: fmt.Sprintf("%d file(s) have unresolved conflicts: %s", len(snap.Conflicts), summarize(snap.Conflicts)),
			Resolution:  "Resolve the conflicts, stage the files, then continue.",
		})
	}

	switch snap.Operation {
	case inspect.OperationRebase:
		issues = append(issues, Issue{
			ID:          RebaseInProgress,
			Title:       "Rebase in progress",
			Description: "A rebase was started and has not finished.",
			Resolution:  "Finish it with git rebase --continue or abandon it with git rebase --abort.",
		})
	case inspect.OperationMerge:
		issues = append(issues, Issue{
			ID:          MergeInProgress,
			Title:       "Merge in progress",
			Description: "A merge was started and has not been committed.",
			Resolution:  "Commit the merge or abandon it with git merge --abort.",
		})
	}

	hasRemote := snap.RemoteURL != ""
	if !hasRemote {
		issues = append(issues, Issue{
			ID:          NoRemote,
			Title:       "No remote",
			Description: "The repository has no origin remote to push to.",
			Resolution:  "Add an origin remote.",
			AutoFixable: true,
		})
	}

	ahead := 0
	if hasRemote && snap.Branch != "" && hasCommits {
		divIssues, n, err := e.divergence(ctx, h, snap.Branch)
		if err != nil {
			return nil, err
		}
		issues = append(issues, divIssues...)
		ahead = n
	}

	if len(snap.Submodules) > 0 {
		parts := make([]string, len(snap.Submodules))
		for i, sub := range snap.Submodules {
			parts[i] = fmt.Sprintf("%s (%s)", sub.Name, sub.Status)
		}
		issues = append(issues, Issue{
			ID:          DirtySubmodules,
			Title:       "Dirty submodules",
			Description: "Submodules need attention: " + strings.Join(parts, ", "),
			Resolution:  "Commit, initialise or clean the submodules, then continue.",
		})
	}

	if snap.Status.Clean() && !snap.Status.HasStaged() && (!hasRemote || ahead == 0) {
		issues = append(issues, Issue{
			ID:          NothingToDo,
			Title:       "Nothing to push",
			Description: "The working tree is clean and there are no commits to push.",
			Resolution:  "Make changes before running fast push.",
		})
	}

	if snap.Branch == "" {
		issues = append(issues, Issue{
			ID:          DetachedHead,
			Title:       "Detached HEAD",
			Description: "HEAD points at a commit, not a branch.",
			Resolution:  "Create a branch from the current commit.",
			AutoFixable: true,
		})
	}

	if snap.Lock != nil {
		age := e.now().Sub(snap.Lock.ModTime)
		if age >= StaleLockAge {
			issues = append(issues, Issue{
				ID:          StaleLock,
				Title:       "Stale index lock",
				Description: fmt.Sprintf("%s is %s old and probably left by a crashed git process.", snap.Lock.Path, age.Round(time.Second)),
				Resolution:  "Delete the lock file.",
				AutoFixable: true,
			})
		} else {
			issues = append(issues, Issue{
				ID:          ActiveLock,
				Title:       "Repository is locked",
				Description: fmt.Sprintf("%s exists; another git process is probably running.", snap.Lock.Path),
				Resolution:  "Wait for the other git process to finish, then continue.",
			})
		}
	}

	return issues, nil
}

// divergence returns the upstream related issues and the number of commits
// that a push would publish.
func (e *Engine) divergence(ctx context.Context, h vcs.Handle, branch string) ([]Issue, int, error) {
	div, err := e.inspector.Divergence(ctx, h, branch)
	if err != nil {
		return nil, 0, fmt.Errorf("compute divergence: %w", err)
	}

	if div.NoUpstream {
		ahead, err := e.inspector.UnpushedCommits(ctx, h)
		if err != nil {
			return nil, 0, fmt.Errorf("count unpushed commits: %w", err)
		}
		if !div.Configured {
			// Never tracked: the push sets the upstream.
			return nil, ahead, nil
		}
		if e.inspector.RemoteBranchExists(ctx, h, branch) {
			return []Issue{{
				ID:          UpstreamBroken,
				Title:       "Upstream is broken",
				Description: fmt.Sprintf("%s tracks a ref that no longer resolves, although origin/%s exists.", branch, branch),
				Resolution:  fmt.Sprintf("Reset the upstream to origin/%s.", branch),
				AutoFixable: true,
			}}, ahead, nil
		}
		return []Issue{{
			ID:          UpstreamMissing,
			Title:       "Upstream branch missing",
			Description: fmt.Sprintf("%s tracks origin/%s, which no longer exists on the remote.", branch, branch),
			Resolution:  "Continue; the push recreates the remote branch and sets it as upstream.",
			AutoFixable: true,
		}}, ahead, nil
	}

	switch {
	case div.Ahead > 0 && div.Behind > 0:
		return []Issue{{
			ID:          BranchesDiverged,
			Title:       "Branches have diverged",
			Description: fmt.Sprintf("%s is %d commit(s) ahead and %d behind origin.", branch, div.Ahead, div.Behind),
			Resolution:  "Pull with rebase before pushing.",
			AutoFixable: true,
		}}, div.Ahead, nil
	case div.Behind > 0:
		return []Issue{{
			ID:          BehindRemote,
			Title:       "Behind remote",
			Description: fmt.Sprintf("%s is %d commit(s) behind origin.", branch, div.Behind),
			Resolution:  "Pull with rebase before pushing.",
			AutoFixable: true,
		}}, div.Ahead, nil
	}
	return nil, div.Ahead, nil
}

func noRepoIssue(h vcs.Handle) Issue {
	return Issue{
		ID:          NoRepo,
		Title:       "Not a git repository",
		Description: fmt.Sprintf("%s is not inside a git working tree.", h.Path),
		Resolution:  "Initialise a repository.",
		AutoFixable: true,
	}
}

func summarize(paths []string) string {
	const shown = 5
	if len(paths) <= shown {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(paths[:shown], ", "), len(paths)-shown)
}
