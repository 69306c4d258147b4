package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// GoGit is a Bridge backed by go-git. Each configured root is opened afresh
// on every Repositories call, so a directory that becomes a repository later
// shows up without restarting.
type GoGit struct {
	Roots []string
	// Token, when set, authenticates HTTPS remotes with x-access-token
	// basic auth. SSH remotes use go-git's default agent handling.
	Token  string
	Logger *slog.Logger
}

// NewGoGit returns a bridge serving the repositories found at roots.
func NewGoGit(token string, logger *slog.Logger, roots ...string) *GoGit {
	return &GoGit{Roots: roots, Token: token, Logger: logger}
}

func (g *GoGit) Repositories() []Repository {
	repos := make([]Repository, 0, len(g.Roots))
	for _, root := range g.Roots {
		repo, err := openRepository(root)
		if err != nil {
			if g.Logger != nil {
				g.Logger.Debug("bridge cannot open repository", "path", root, "error", err)
			}
			continue
		}
		repo.token = g.Token
		repos = append(repos, repo)
	}
	return repos
}

type goGitRepository struct {
	repo  *gogit.Repository
	root  string
	token string
}

func openRepository(path string) (*goGitRepository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	repo, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	return &goGitRepository{repo: repo, root: wt.Filesystem.Root()}, nil
}

func (r *goGitRepository) Root() string {
	return r.root
}

func (r *goGitRepository) CurrentBranch(_ context.Context) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

func (r *goGitRepository) Fetch(ctx context.Context, opts FetchOptions) error {
	remote := remoteName(opts.Remote)
	fetch := &gogit.FetchOptions{RemoteName: remote}
	if opts.Refspec != "" {
		fetch.RefSpecs = []config.RefSpec{trackingRefSpec(remote, opts.Refspec)}
	}
	auth, err := r.auth(remote)
	if err != nil {
		return err
	}
	fetch.Auth = auth

	if err := r.repo.FetchContext(ctx, fetch); err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch %s: %w", remote, err)
	}
	return nil
}

func (r *goGitRepository) Pull(ctx context.Context, opts PullOptions) error {
	// go-git only fast-forwards.
	if opts.Rebase {
		return fmt.Errorf("pull --rebase: %w", ErrUnsupported)
	}
	remote := remoteName(opts.Remote)
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	auth, err := r.auth(remote)
	if err != nil {
		return err
	}
	pull := &gogit.PullOptions{RemoteName: remote, Auth: auth}
	if opts.Refspec != "" {
		pull.ReferenceName = plumbing.NewBranchReferenceName(opts.Refspec)
	}
	if err := wt.PullContext(ctx, pull); err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pull %s: %w", remote, err)
	}
	return nil
}

func (r *goGitRepository) Push(ctx context.Context, opts PushOptions) error {
	remote := remoteName(opts.Remote)
	branch := opts.Refspec
	if branch == "" {
		current, err := r.CurrentBranch(ctx)
		if err != nil {
			return err
		}
		if current == "" {
			return errors.New("push: HEAD is detached")
		}
		branch = current
	}
	auth, err := r.auth(remote)
	if err != nil {
		return err
	}

	ref := plumbing.NewBranchReferenceName(branch)
	push := &gogit.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{config.RefSpec(fmt.Sprintf("%s:%s", ref, ref))},
		Auth:       auth,
	}
	upToDate := false
	if err := r.repo.PushContext(ctx, push); err != nil {
		if !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
			return fmt.Errorf("push %s %s: %w", remote, branch, err)
		}
		upToDate = true
	}

	if opts.SetUpstream {
		if err := r.setTracking(branch, remote); err != nil {
			return err
		}
	}
	if upToDate {
		return NoErrAlreadyUpToDate
	}
	return nil
}

func (r *goGitRepository) setTracking(branch, remote string) error {
	cfg, err := r.repo.Config()
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	cfg.Branches[branch] = &config.Branch{
		Name:   branch,
		Remote: remote,
		Merge:  plumbing.NewBranchReferenceName(branch),
	}
	if err := r.repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("failed to set upstream for %s: %w", branch, err)
	}
	return nil
}

func (r *goGitRepository) Checkout(_ context.Context, branch string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	err = wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Keep:   true,
	})
	if err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

func (r *goGitRepository) CreateBranch(ctx context.Context, name string, checkout bool) error {
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to read HEAD: %w", err)
	}
	refName := plumbing.NewBranchReferenceName(name)
	if _, err := r.repo.Reference(refName, false); err == nil {
		return fmt.Errorf("branch %s already exists", name)
	}
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(refName, head.Hash())); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	if checkout {
		return r.Checkout(ctx, name)
	}
	return nil
}

func (r *goGitRepository) DeleteBranch(ctx context.Context, name string, force bool) error {
	// go-git has no merged check; the CLI enforces it for safe deletes.
	if !force {
		return fmt.Errorf("delete unmerged-safe branch: %w", ErrUnsupported)
	}
	current, err := r.CurrentBranch(ctx)
	if err == nil && current == name {
		return fmt.Errorf("cannot delete checked out branch %s", name)
	}
	if err := r.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(name)); err != nil {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	if err := r.repo.DeleteBranch(name); err != nil && !errors.Is(err, gogit.ErrBranchNotFound) {
		return fmt.Errorf("delete branch config %s: %w", name, err)
	}
	return nil
}

func (r *goGitRepository) Merge(_ context.Context, branch string) error {
	return fmt.Errorf("merge %s: %w", branch, ErrUnsupported)
}

func (r *goGitRepository) Stash(_ context.Context, _ string, _ bool) error {
	return fmt.Errorf("stash: %w", ErrUnsupported)
}

func (r *goGitRepository) AddRemote(_ context.Context, name, url string) error {
	_, err := r.repo.CreateRemote(&config.RemoteConfig{
		Name: remoteName(name),
		URLs: []string{url},
	})
	if err != nil {
		return fmt.Errorf("add remote %s: %w", name, err)
	}
	return nil
}

func (r *goGitRepository) auth(remote string) (transport.AuthMethod, error) {
	if r.token == "" {
		return nil, nil
	}
	rem, err := r.repo.Remote(remote)
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", remote, err)
	}
	urls := rem.Config().URLs
	if len(urls) == 0 || !isHTTPURL(urls[0]) {
		return nil, nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: r.token}, nil
}

func isHTTPURL(url string) bool {
	lowered := strings.ToLower(url)
	return strings.HasPrefix(lowered, "https://") || strings.HasPrefix(lowered, "http://")
}

func remoteName(name string) string {
	if name == "" {
		return gogit.DefaultRemoteName
	}
	return name
}

func trackingRefSpec(remote, branch string) config.RefSpec {
	return config.RefSpec(fmt.Sprintf("+%s:refs/remotes/%s/%s", plumbing.NewBranchReferenceName(branch), remote, branch))
}
