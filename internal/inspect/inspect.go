// Package inspect answers read-only questions about a working copy. Nothing
// here mutates the repository except the quiet fetch Divergence issues to
// refresh remote-tracking refs.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rancher/fast-push/internal/git"
	"github.com/rancher/fast-push/internal/vcs"
)

// Operation is an in-progress multi-step git operation.
type Operation string

const (
	OperationNone   Operation = ""
	OperationRebase Operation = "rebase"
	OperationMerge  Operation = "merge"
)

// Divergence compares HEAD with its upstream. It is computed on demand and
// never cached. Configured is false when the branch never tracked anything;
// NoUpstream with Configured set means the tracked ref no longer resolves.
type Divergence struct {
	Ahead      int
	Behind     int
	NoUpstream bool
	Configured bool
}

// SubmoduleStatus is the reason a submodule counts as dirty.
type SubmoduleStatus string

const (
	SubmoduleModified         SubmoduleStatus = "modified"
	SubmoduleNotInitialized   SubmoduleStatus = "not-initialized"
	SubmoduleMergeConflict    SubmoduleStatus = "merge-conflict"
	SubmoduleUntrackedContent SubmoduleStatus = "untracked-content"
)

// DirtySubmodule is one submodule that needs attention.
type DirtySubmodule struct {
	Name   string
	Status SubmoduleStatus
}

// Status summarises the working tree and index.
type Status struct {
	Staged    []string
	Unstaged  []string
	Untracked []string
}

// Clean reports whether nothing is staged, modified or untracked.
func (s Status) Clean() bool {
	return len(s.Staged) == 0 && len(s.Unstaged) == 0 && len(s.Untracked) == 0
}

// HasStaged reports whether the index differs from HEAD.
func (s Status) HasStaged() bool {
	return len(s.Staged) > 0
}

// IndexLock describes .git/index.lock when present.
type IndexLock struct {
	Path    string
	ModTime time.Time
}

// Inspector runs read-only git queries through an Executor.
type Inspector struct {
	exec git.Executor
	log  *slog.Logger
}

// New returns an Inspector.
func New(exec git.Executor, logger *slog.Logger) *Inspector {
	return &Inspector{exec: exec, log: logger}
}

func (i *Inspector) git(ctx context.Context, h vcs.Handle, args ...string) (git.Result, error) {
	return i.exec.Run(ctx, h.Path, args...)
}

// IsRepository reports whether the handle's directory is inside a work tree.
// A missing directory is simply not a repository.
func (i *Inspector) IsRepository(ctx context.Context, h vcs.Handle) (bool, error) {
	if info, err := os.Stat(h.Path); err != nil || !info.IsDir() {
		return false, nil
	}
	res, err := i.git(ctx, h, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		if git.IsKind(err, git.KindNotARepository) {
			return false, nil
		}
		return false, err
	}
	return res.Stdout == "true", nil
}

// HasCommits reports whether HEAD resolves to a commit.
func (i *Inspector) HasCommits(ctx context.Context, h vcs.Handle) (bool, error) {
	_, err := i.git(ctx, h, "rev-parse", "--verify", "--quiet", "HEAD")
	if err == nil {
		return true, nil
	}
	var gitErr *git.GitError
	if errors.As(err, &gitErr) && gitErr.Kind != git.KindTransient {
		return false, nil
	}
	return false, err
}

// GitDir returns the absolute git directory.
func (i *Inspector) GitDir(ctx context.Context, h vcs.Handle) (string, error) {
	res, err := i.git(ctx, h, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// CurrentBranch returns the symbolic branch HEAD points at, or "" when HEAD
// is detached.
func (i *Inspector) CurrentBranch(ctx context.Context, h vcs.Handle) (string, error) {
	res, err := i.git(ctx, h, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		var gitErr *git.GitError
		if errors.As(err, &gitErr) && gitErr.Kind == git.KindFatal {
			return "", nil
		}
		return "", err
	}
	return res.Stdout, nil
}

// Conflicts lists unmerged paths.
func (i *Inspector) Conflicts(ctx context.Context, h vcs.Handle) ([]string, error) {
	res, err := i.git(ctx, h, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return res.Lines(), nil
}

// Operation detects an in-progress rebase or merge from the marker files git
// leaves in its directory.
func (i *Inspector) Operation(ctx context.Context, h vcs.Handle) (Operation, error) {
	gitDir, err := i.GitDir(ctx, h)
	if err != nil {
		return OperationNone, err
	}
	for _, marker := range []string{"rebase-merge", "rebase-apply"} {
		if exists(filepath.Join(gitDir, marker)) {
			return OperationRebase, nil
		}
	}
	if exists(filepath.Join(gitDir, "MERGE_HEAD")) {
		return OperationMerge, nil
	}
	return OperationNone, nil
}

// RemoteURL returns origin's URL, or "" when origin is not configured.
func (i *Inspector) RemoteURL(ctx context.Context, h vcs.Handle) (string, error) {
	res, err := i.git(ctx, h, "remote", "get-url", vcs.DefaultRemote)
	if err != nil {
		var gitErr *git.GitError
		if errors.As(err, &gitErr) && gitErr.Kind != git.KindTransient {
			return "", nil
		}
		return "", err
	}
	return res.Stdout, nil
}

// UpstreamConfigured reports whether branch has a merge ref configured.
func (i *Inspector) UpstreamConfigured(ctx context.Context, h vcs.Handle, branch string) (bool, error) {
	if branch == "" {
		return false, nil
	}
	res, err := i.git(ctx, h, "config", "--get", "branch."+branch+".merge")
	if err != nil {
		var gitErr *git.GitError
		if errors.As(err, &gitErr) {
			return false, nil
		}
		return false, err
	}
	return res.Stdout != "", nil
}

// Divergence counts commits between HEAD and its upstream. An unconfigured
// upstream returns NoUpstream without touching the network. A configured
// one is refreshed with a quiet pruning fetch whose failure is tolerated, then
// re-verified; if it no longer resolves NoUpstream is reported as well.
func (i *Inspector) Divergence(ctx context.Context, h vcs.Handle, branch string) (Divergence, error) {
	configured, err := i.UpstreamConfigured(ctx, h, branch)
	if err != nil {
		return Divergence{}, err
	}
	if !configured {
		return Divergence{NoUpstream: true}, nil
	}
	div := Divergence{Configured: true}

	if _, err := i.git(ctx, h, "fetch", "--quiet", "--prune", vcs.DefaultRemote); err != nil {
		if ctx.Err() != nil {
			return Divergence{}, ctx.Err()
		}
		if i.log != nil {
			i.log.Warn("fetch failed, using cached remote refs", "repo", h.Path, "error", err)
		}
	}

	if _, err := i.git(ctx, h, "rev-parse", "--verify", "--quiet", "@{u}"); err != nil {
		if ctx.Err() != nil {
			return Divergence{}, ctx.Err()
		}
		div.NoUpstream = true
		return div, nil
	}

	res, err := i.git(ctx, h, "rev-list", "--left-right", "--count", "HEAD...@{u}")
	if err != nil {
		return Divergence{}, err
	}
	if div.Ahead, div.Behind, err = parseCounts(res.Stdout); err != nil {
		return Divergence{}, err
	}
	return div, nil
}

func parseCounts(out string) (int, int, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}
	ahead, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parse ahead count %q: %w", fields[0], err)
	}
	behind, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse behind count %q: %w", fields[1], err)
	}
	return ahead, behind, nil
}

// RemoteBranchExists asks origin whether branch exists. Any failure,
// including being offline, counts as missing.
func (i *Inspector) RemoteBranchExists(ctx context.Context, h vcs.Handle, branch string) bool {
	if branch == "" {
		return false
	}
	_, err := i.git(ctx, h, "ls-remote", "--exit-code", "--heads", vcs.DefaultRemote, branch)
	return err == nil
}

// UnpushedCommits counts commits reachable from HEAD that no origin ref
// contains. It is used when the branch has no upstream to compare with.
func (i *Inspector) UnpushedCommits(ctx context.Context, h vcs.Handle) (int, error) {
	res, err := i.git(ctx, h, "rev-list", "--count", "HEAD", "--not", "--remotes="+vcs.DefaultRemote)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(res.Stdout)
	if err != nil {
		return 0, fmt.Errorf("parse commit count %q: %w", res.Stdout, err)
	}
	return n, nil
}

// Status parses porcelain v1 output. Submodule entries are included.
func (i *Inspector) Status(ctx context.Context, h vcs.Handle) (Status, error) {
	res, err := i.git(ctx, h, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return Status{}, err
	}
	return parseStatus(res.Lines()), nil
}

func parseStatus(lines []string) Status {
	var st Status
	for _, line := range lines {
		if len(line) < 4 {
			continue
		}
		x, y, path := line[0], line[1], line[3:]
		if x == '?' && y == '?' {
			st.Untracked = append(st.Untracked, path)
			continue
		}
		if x != ' ' && x != '?' && x != '!' {
			st.Staged = append(st.Staged, path)
		}
		if y != ' ' && y != '?' && y != '!' {
			st.Unstaged = append(st.Unstaged, path)
		}
	}
	return st
}

// DirtySubmodules combines `git submodule status` (modified, uninitialised
// and conflicted submodules) with porcelain v2 status, which is the only
// place git reports untracked content inside a submodule.
func (i *Inspector) DirtySubmodules(ctx context.Context, h vcs.Handle) ([]DirtySubmodule, error) {
	res, err := i.git(ctx, h, "submodule", "status", "--recursive")
	if err != nil {
		return nil, err
	}

	var dirty []DirtySubmodule
	seen := map[string]bool{}
	for _, line := range res.Lines() {
		if line == "" {
			continue
		}
		var status SubmoduleStatus
		switch line[0] {
		case '+':
			status = SubmoduleModified
		case '-':
			status = SubmoduleNotInitialized
		case 'U':
			status = SubmoduleMergeConflict
		default:
			continue
		}
		fields := strings.Fields(line[1:])
		if len(fields) < 2 {
			continue
		}
		dirty = append(dirty, DirtySubmodule{Name: fields[1], Status: status})
		seen[fields[1]] = true
	}

	v2, err := i.git(ctx, h, "status", "--porcelain=v2", "--ignore-submodules=none")
	if err != nil {
		return nil, err
	}
	for _, line := range v2.Lines() {
		name, status, ok := parseSubmoduleV2(line)
		if !ok || seen[name] {
			continue
		}
		dirty = append(dirty, DirtySubmodule{Name: name, Status: status})
		seen[name] = true
	}
	return dirty, nil
}

// parseSubmoduleV2 reads an ordinary ("1") porcelain v2 entry whose <sub>
// field starts with S. The field is S<c><m><u>: commit changed, tracked
// changes, untracked changes.
func parseSubmoduleV2(line string) (string, SubmoduleStatus, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 || fields[0] != "1" {
		return "", "", false
	}
	sub := fields[2]
	if len(sub) != 4 || sub[0] != 'S' {
		return "", "", false
	}
	name := strings.Join(fields[8:], " ")
	switch {
	case sub[1] == 'C' || sub[2] == 'M':
		return name, SubmoduleModified, true
	case sub[3] == 'U':
		return name, SubmoduleUntrackedContent, true
	}
	return "", "", false
}

// StashList returns the stash entries, newest first.
func (i *Inspector) StashList(ctx context.Context, h vcs.Handle) ([]string, error) {
	res, err := i.git(ctx, h, "stash", "list")
	if err != nil {
		return nil, err
	}
	return res.Lines(), nil
}

// IndexLock returns the index lock when one exists.
func (i *Inspector) IndexLock(ctx context.Context, h vcs.Handle) (*IndexLock, error) {
	gitDir, err := i.GitDir(ctx, h)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(gitDir, "index.lock")
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &IndexLock{Path: path, ModTime: info.ModTime()}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
