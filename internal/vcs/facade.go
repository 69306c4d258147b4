// Package vcs is the single git operation set used by the rest of the tool.
// Each operation first tries the in-process bridge, when one owns the
// repository, and falls back to the git CLI on any bridge failure. Callers
// cannot tell which backend served them except through Trace.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rancher/fast-push/internal/bridge"
	"github.com/rancher/fast-push/internal/git"
)

// DefaultRemote is the only remote the tool manages.
const DefaultRemote = "origin"

// ErrBranchNotFound is returned by SwitchBranch when neither a local nor a
// remote-tracking branch of that name exists.
var ErrBranchNotFound = errors.New("branch not found")

// Backend names the path that served an operation.
type Backend string

const (
	BackendBridge Backend = "bridge"
	BackendCLI    Backend = "cli"
)

// Call records which backend served an operation.
type Call struct {
	Op      string
	Backend Backend
}

// PushOptions controls Push.
type PushOptions struct {
	// Branch to push. Empty means the current branch.
	Branch string
	// SetUpstream records origin/<Branch> as the upstream after pushing.
	SetUpstream bool
}

// PullOptions controls Pull.
type PullOptions struct {
	Branch string
	Rebase bool
}

// FetchOptions controls Fetch.
type FetchOptions struct {
	Refspec string
	Quiet   bool
}

// Facade composes the bridge and the CLI executor. A nil bridge means the
// CLI serves everything.
type Facade struct {
	exec   git.Executor
	bridge bridge.Bridge
	log    *slog.Logger
	dryRun bool

	mu    sync.Mutex
	trace []Call
}

// New returns a Facade. b may be nil.
func New(exec git.Executor, b bridge.Bridge, logger *slog.Logger) *Facade {
	return &Facade{exec: exec, bridge: b, log: logger}
}

// WithDryRun makes operations that touch the filesystem directly log what
// they would do instead. Git commands are gated by the executor.
func (f *Facade) WithDryRun(dry bool) *Facade {
	f.dryRun = dry
	return f
}

// Trace returns the backend that served each operation so far.
func (f *Facade) Trace() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.trace...)
}

func (f *Facade) record(op string, backend Backend) {
	f.mu.Lock()
	f.trace = append(f.trace, Call{Op: op, Backend: backend})
	f.mu.Unlock()
}

// resolve looks the bridge repository up afresh; the bridge's repository set
// may have changed since the previous call.
func (f *Facade) resolve(h Handle) bridge.Repository {
	if f.bridge == nil {
		return nil
	}
	return bridge.Resolve(f.bridge.Repositories(), h.Path)
}

func (f *Facade) attempt(h Handle, op string, viaBridge func(bridge.Repository) error, viaCLI func() error) error {
	if viaBridge != nil {
		if repo := f.resolve(h); repo != nil {
			err := viaBridge(repo)
			if err == nil {
				f.record(op, BackendBridge)
				return nil
			}
			if f.log != nil {
				f.log.Debug("bridge operation failed, falling back to git CLI", "op", op, "repo", h.Path, "error", err)
			}
		}
	}
	f.record(op, BackendCLI)
	return viaCLI()
}

func (f *Facade) git(ctx context.Context, h Handle, args ...string) (git.Result, error) {
	return f.exec.Run(ctx, h.Path, args...)
}

func (f *Facade) run(ctx context.Context, h Handle, args ...string) error {
	_, err := f.exec.Run(ctx, h.Path, args...)
	return err
}

// CurrentBranch returns the checked out branch, or "" on a detached HEAD.
// On an unborn branch it still reports the branch name.
func (f *Facade) CurrentBranch(ctx context.Context, h Handle) (string, error) {
	var branch string
	err := f.attempt(h, "current-branch",
		func(repo bridge.Repository) error {
			name, err := repo.CurrentBranch(ctx)
			branch = name
			return err
		},
		func() error {
			res, err := f.git(ctx, h, "branch", "--show-current")
			branch = res.Stdout
			return err
		})
	if err != nil {
		return "", err
	}
	return branch, nil
}

// PushResult reports what a successful push did.
type PushResult struct {
	// UpToDate is set when the remote already had every commit.
	UpToDate bool
}

// Push publishes a branch to origin. When git reports that the branch has no
// upstream, the push is repeated with --set-upstream.
func (f *Facade) Push(ctx context.Context, h Handle, opts PushOptions) (PushResult, error) {
	var result PushResult
	err := f.attempt(h, "push",
		func(repo bridge.Repository) error {
			if opts.Branch == "" {
				return fmt.Errorf("push: branch required: %w", bridge.ErrUnsupported)
			}
			err := repo.Push(ctx, bridge.PushOptions{Remote: DefaultRemote, Refspec: opts.Branch, SetUpstream: opts.SetUpstream})
			if errors.Is(err, bridge.NoErrAlreadyUpToDate) {
				result.UpToDate = true
				return nil
			}
			return err
		},
		func() error {
			res, err := f.cliPush(ctx, h, opts)
			if err != nil {
				return err
			}
			result.UpToDate = strings.Contains(strings.ToLower(res.Stderr), "everything up-to-date")
			return nil
		})
	return result, err
}

func (f *Facade) cliPush(ctx context.Context, h Handle, opts PushOptions) (git.Result, error) {
	if opts.SetUpstream && opts.Branch != "" {
		return f.git(ctx, h, "push", "--set-upstream", DefaultRemote, opts.Branch)
	}
	args := []string{"push"}
	if opts.Branch != "" {
		args = append(args, DefaultRemote, opts.Branch)
	}
	res, err := f.git(ctx, h, args...)
	if !git.IsKind(err, git.KindNoUpstream) {
		return res, err
	}
	branch := opts.Branch
	if branch == "" {
		current, berr := f.git(ctx, h, "branch", "--show-current")
		if berr != nil || current.Stdout == "" {
			return res, err
		}
		branch = current.Stdout
	}
	if f.log != nil {
		f.log.Info("branch has no upstream, pushing with --set-upstream", "branch", branch)
	}
	return f.git(ctx, h, "push", "--set-upstream", DefaultRemote, branch)
}

// Pull integrates origin changes. Local changes are stashed around a rebase,
// and a failed rebase pull is aborted so the working copy is not left
// mid-rebase.
func (f *Facade) Pull(ctx context.Context, h Handle, opts PullOptions) error {
	return f.attempt(h, "pull",
		func(repo bridge.Repository) error {
			return repo.Pull(ctx, bridge.PullOptions{Remote: DefaultRemote, Refspec: opts.Branch, Rebase: opts.Rebase})
		},
		func() error {
			args := []string{"pull"}
			if opts.Rebase {
				args = append(args, "--rebase", "--autostash")
			}
			if opts.Branch != "" {
				args = append(args, DefaultRemote, opts.Branch)
			}
			err := f.run(ctx, h, args...)
			if err == nil || !opts.Rebase {
				return err
			}
			if f.rebaseInProgress(ctx, h) {
				if abortErr := f.run(ctx, h, "rebase", "--abort"); abortErr != nil && f.log != nil {
					f.log.Warn("failed to abort rebase", "repo", h.Path, "error", abortErr)
				}
			}
			return err
		})
}

// Fetch updates remote-tracking refs from origin.
func (f *Facade) Fetch(ctx context.Context, h Handle, opts FetchOptions) error {
	return f.attempt(h, "fetch",
		func(repo bridge.Repository) error {
			return repo.Fetch(ctx, bridge.FetchOptions{Remote: DefaultRemote, Refspec: opts.Refspec})
		},
		func() error {
			args := []string{"fetch"}
			if opts.Quiet {
				args = append(args, "--quiet")
			}
			args = append(args, DefaultRemote)
			if opts.Refspec != "" {
				args = append(args, opts.Refspec)
			}
			return f.run(ctx, h, args...)
		})
}

// Commit records the index with message. The bridge has no commit
// operation, so this always runs through the CLI and honours hooks and
// signing configuration.
func (f *Facade) Commit(ctx context.Context, h Handle, message string) error {
	return f.attempt(h, "commit", nil, func() error {
		return f.run(ctx, h, "commit", "-m", message)
	})
}

// Stash shelves local changes.
func (f *Facade) Stash(ctx context.Context, h Handle, message string, includeUntracked bool) error {
	return f.attempt(h, "stash",
		func(repo bridge.Repository) error {
			return repo.Stash(ctx, message, includeUntracked)
		},
		func() error {
			args := []string{"stash", "push"}
			if includeUntracked {
				args = append(args, "--include-untracked")
			}
			if message != "" {
				args = append(args, "-m", message)
			}
			return f.run(ctx, h, args...)
		})
}

// SetRemote points name at url, adding the remote or updating its URL.
func (f *Facade) SetRemote(ctx context.Context, h Handle, name, url string) error {
	if name == "" {
		name = DefaultRemote
	}
	return f.attempt(h, "set-remote",
		func(repo bridge.Repository) error {
			return repo.AddRemote(ctx, name, url)
		},
		func() error {
			err := f.run(ctx, h, "remote", "add", name, url)
			if err == nil {
				return nil
			}
			if setErr := f.run(ctx, h, "remote", "set-url", name, url); setErr != nil {
				return err
			}
			return nil
		})
}

// CreateBranch creates name at HEAD, optionally switching to it.
func (f *Facade) CreateBranch(ctx context.Context, h Handle, name string, checkout bool) error {
	return f.attempt(h, "create-branch",
		func(repo bridge.Repository) error {
			return repo.CreateBranch(ctx, name, checkout)
		},
		func() error {
			if checkout {
				return f.run(ctx, h, "checkout", "-b", name)
			}
			return f.run(ctx, h, "branch", name)
		})
}

// SwitchBranch checks out name. Through the CLI it tries the local branch
// first, then creates a tracking branch from origin/<name>, and otherwise
// reports ErrBranchNotFound.
func (f *Facade) SwitchBranch(ctx context.Context, h Handle, name string) error {
	return f.attempt(h, "switch-branch",
		func(repo bridge.Repository) error {
			return repo.Checkout(ctx, name)
		},
		func() error {
			if f.refExists(ctx, h, "refs/heads/"+name) {
				return f.run(ctx, h, "checkout", name)
			}
			if f.refExists(ctx, h, "refs/remotes/"+DefaultRemote+"/"+name) {
				return f.run(ctx, h, "checkout", "-b", name, "--track", DefaultRemote+"/"+name)
			}
			return fmt.Errorf("%w: %s", ErrBranchNotFound, name)
		})
}

// MergeBranch merges branch into the current branch.
func (f *Facade) MergeBranch(ctx context.Context, h Handle, branch string) error {
	return f.attempt(h, "merge-branch",
		func(repo bridge.Repository) error {
			return repo.Merge(ctx, branch)
		},
		func() error {
			return f.run(ctx, h, "merge", "--no-edit", branch)
		})
}

// DeleteBranch removes a local branch; force allows unmerged ones.
func (f *Facade) DeleteBranch(ctx context.Context, h Handle, name string, force bool) error {
	return f.attempt(h, "delete-branch",
		func(repo bridge.Repository) error {
			return repo.DeleteBranch(ctx, name, force)
		},
		func() error {
			flag := "-d"
			if force {
				flag = "-D"
			}
			return f.run(ctx, h, "branch", flag, name)
		})
}

// DeleteRemoteBranch removes name from origin.
func (f *Facade) DeleteRemoteBranch(ctx context.Context, h Handle, name string) error {
	return f.attempt(h, "delete-remote-branch", nil, func() error {
		return f.run(ctx, h, "push", DefaultRemote, "--delete", name)
	})
}

// Init creates a repository in the handle's directory.
func (f *Facade) Init(ctx context.Context, h Handle) error {
	return f.attempt(h, "init", nil, func() error {
		if err := os.MkdirAll(h.Path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", h.Path, err)
		}
		return f.run(ctx, h, "init")
	})
}

// StageAll stages every change, including deletions and untracked files.
func (f *Facade) StageAll(ctx context.Context, h Handle) error {
	return f.attempt(h, "stage-all", nil, func() error {
		return f.run(ctx, h, "add", "-A")
	})
}

// RenameBranch renames the current branch to name, replacing any existing
// branch of that name.
func (f *Facade) RenameBranch(ctx context.Context, h Handle, name string) error {
	return f.attempt(h, "rename-branch", nil, func() error {
		return f.run(ctx, h, "branch", "-M", name)
	})
}

// SetUpstream points branch at origin/<branch>, fetching it first.
func (f *Facade) SetUpstream(ctx context.Context, h Handle, branch string) error {
	return f.attempt(h, "set-upstream", nil, func() error {
		if err := f.run(ctx, h, "fetch", "--quiet", DefaultRemote, branch); err != nil {
			return err
		}
		return f.run(ctx, h, "branch", "--set-upstream-to="+DefaultRemote+"/"+branch, branch)
	})
}

// AbortRebase abandons an in-progress rebase.
func (f *Facade) AbortRebase(ctx context.Context, h Handle) error {
	return f.attempt(h, "abort-rebase", nil, func() error {
		return f.run(ctx, h, "rebase", "--abort")
	})
}

// RemoveIndexLock deletes the repository's index.lock. A missing lock is
// not an error.
func (f *Facade) RemoveIndexLock(ctx context.Context, h Handle) error {
	return f.attempt(h, "remove-index-lock", nil, func() error {
		res, err := f.git(ctx, h, "rev-parse", "--absolute-git-dir")
		if err != nil {
			return err
		}
		lock := filepath.Join(res.Stdout, "index.lock")
		if f.dryRun {
			if f.log != nil {
				f.log.Info("dry run: would remove index lock", "path", lock)
			}
			return nil
		}
		if err := os.Remove(lock); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", lock, err)
		}
		if f.log != nil {
			f.log.Info("removed index lock", "path", lock)
		}
		return nil
	})
}

func (f *Facade) refExists(ctx context.Context, h Handle, ref string) bool {
	_, err := f.git(ctx, h, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

func (f *Facade) rebaseInProgress(ctx context.Context, h Handle) bool {
	res, err := f.git(ctx, h, "rev-parse", "--absolute-git-dir")
	if err != nil || strings.TrimSpace(res.Stdout) == "" {
		return false
	}
	for _, marker := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(res.Stdout, marker)); err == nil {
			return true
		}
	}
	return false
}
