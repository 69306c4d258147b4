// Package bridge is the optional in-process git backend. A Bridge exposes
// the repositories it can currently manage; callers resolve the one that
// owns their working directory on every operation and fall back to the git
// CLI when none does or when the bridge call fails.
package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned by bridge repositories for operations they
// cannot perform natively. Callers treat it like any other bridge failure.
var ErrUnsupported = errors.New("bridge: operation not supported")

// NoErrAlreadyUpToDate is returned by Push when the remote already has the
// pushed commits. It reports success, not failure.
var NoErrAlreadyUpToDate = errors.New("already up-to-date")

// FetchOptions names the remote and, optionally, the refspec to fetch.
type FetchOptions struct {
	Remote  string
	Refspec string
}

// PullOptions describes a pull of Refspec (a branch name) from Remote.
type PullOptions struct {
	Remote  string
	Refspec string
	Rebase  bool
}

// PushOptions describes a push of Refspec (a branch name) to Remote.
type PushOptions struct {
	Remote      string
	Refspec     string
	SetUpstream bool
}

// Repository is a single working copy managed by the bridge.
type Repository interface {
	// Root is the absolute top-level directory of the working copy.
	Root() string
	// CurrentBranch returns the short branch name, or "" on a detached HEAD.
	CurrentBranch(ctx context.Context) (string, error)
	Fetch(ctx context.Context, opts FetchOptions) error
	Pull(ctx context.Context, opts PullOptions) error
	Push(ctx context.Context, opts PushOptions) error
	Checkout(ctx context.Context, branch string) error
	CreateBranch(ctx context.Context, name string, checkout bool) error
	DeleteBranch(ctx context.Context, name string, force bool) error
	Merge(ctx context.Context, branch string) error
	Stash(ctx context.Context, message string, includeUntracked bool) error
	AddRemote(ctx context.Context, name, url string) error
}

// Bridge enumerates the repositories available right now. The set may change
// between calls (for example after git init), so results must not be cached.
type Bridge interface {
	Repositories() []Repository
}

// Resolve picks the repository owning path. An exact root match wins;
// otherwise the deepest root containing path is returned. Nil means no
// candidate owns path.
func Resolve(candidates []Repository, path string) Repository {
	target := filepath.Clean(path)

	var best Repository
	bestLen := -1
	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		root := filepath.Clean(candidate.Root())
		if root == target {
			return candidate
		}
		if !contains(root, target) {
			continue
		}
		if len(root) > bestLen {
			best = candidate
			bestLen = len(root)
		}
	}
	return best
}

func contains(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
