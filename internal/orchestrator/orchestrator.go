// Package orchestrator drives a fast push: it prepares the repository,
// diagnoses and remediates it, then stages, commits and pushes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rancher/fast-push/internal/diagnose"
	"github.com/rancher/fast-push/internal/git"
	gh "github.com/rancher/fast-push/internal/github"
	"github.com/rancher/fast-push/internal/payload"
	"github.com/rancher/fast-push/internal/remediate"
	"github.com/rancher/fast-push/internal/vcs"
)

// State names a step of the fast push. Steps run in declaration order.
type State string

const (
	StateValidate           State = "validate"
	StateInit               State = "init"
	StateEnsureRemote       State = "ensure-remote"
	StateResolveHasCommits  State = "resolve-has-commits"
	StateEnsureTargetBranch State = "ensure-target-branch"
	StateDiagnose           State = "diagnose"
	StateRemediate          State = "remediate"
	StateStageAll           State = "stage-all"
	StateCommit             State = "commit"
	StateRenameBranch       State = "rename-branch"
	StatePush               State = "push"
)

// Result strings returned by Run.
const (
	ResultNothingToPush = "nothing to push"
	dryRunPrefix        = "dry run: "
)

// Error reports the step a fast push failed in. A user cancellation
// unwraps to remediate.ErrAborted.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fast push failed at %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(state State, err error) error {
	return &Error{State: state, Err: err}
}

// Git is the mutating operation set, served by vcs.Facade.
type Git interface {
	remediate.Fixer
	Init(ctx context.Context, h vcs.Handle) error
	StageAll(ctx context.Context, h vcs.Handle) error
	Commit(ctx context.Context, h vcs.Handle, message string) error
	RenameBranch(ctx context.Context, h vcs.Handle, name string) error
	SwitchBranch(ctx context.Context, h vcs.Handle, name string) error
	Push(ctx context.Context, h vcs.Handle, opts vcs.PushOptions) (vcs.PushResult, error)
}

// Inspector is the read-only query set, served by inspect.Inspector.
type Inspector interface {
	IsRepository(ctx context.Context, h vcs.Handle) (bool, error)
	HasCommits(ctx context.Context, h vcs.Handle) (bool, error)
	CurrentBranch(ctx context.Context, h vcs.Handle) (string, error)
	RemoteURL(ctx context.Context, h vcs.Handle) (string, error)
	UpstreamConfigured(ctx context.Context, h vcs.Handle, branch string) (bool, error)
}

type Diagnoser interface {
	Diagnose(ctx context.Context, h vcs.Handle) ([]diagnose.Issue, error)
}

type Remediator interface {
	Resolve(ctx context.Context, h vcs.Handle, issues []diagnose.Issue) error
}

// Deps are the collaborators of an Orchestrator. GitHub is only needed for
// repo_mode "new".
type Deps struct {
	Git        Git
	Inspector  Inspector
	Diagnoser  Diagnoser
	Remediator Remediator
	GitHub     gh.Client
}

// Orchestrator runs fast pushes.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// New returns a configured Orchestrator instance.
func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, deps: deps, log: logger}
}

// Run converges h to "pushed" for the given payload. It returns a short
// human-readable result or an *Error naming the failed step.
func (o *Orchestrator) Run(ctx context.Context, h vcs.Handle, p payload.Payload) (string, error) {
	p, err := p.Normalize(o.cfg.DefaultBranch)
	if err != nil {
		return "", fail(StateValidate, err)
	}
	if p.BranchNormalized {
		o.warn("branch name replaced with default", "default", p.Branch)
	}
	target := p.Branch

	isRepo, err := o.deps.Inspector.IsRepository(ctx, h)
	if err != nil {
		return "", fail(StateInit, err)
	}
	if !isRepo {
		if o.cfg.DryRun {
			return fmt.Sprintf("%swould initialize %s and push %s to %s", dryRunPrefix, h, target, vcs.DefaultRemote), nil
		}
		o.info("initializing repository", "repo", h.Path)
		if err := o.deps.Git.Init(ctx, h); err != nil {
			return "", fail(StateInit, err)
		}
	}

	if err := o.ensureRemote(ctx, h, p); err != nil {
		return "", fail(StateEnsureRemote, err)
	}

	hasCommits, err := o.deps.Inspector.HasCommits(ctx, h)
	if err != nil {
		return "", fail(StateResolveHasCommits, err)
	}

	if hasCommits {
		if err := o.ensureTargetBranch(ctx, h, target); err != nil {
			return "", fail(StateEnsureTargetBranch, err)
		}
	}

	issues, err := o.deps.Diagnoser.Diagnose(ctx, h)
	if err != nil {
		return "", fail(StateDiagnose, err)
	}
	relevant := diagnose.Relevant(issues, hasCommits)
	if len(relevant) > 0 {
		o.info("pre-flight issues found", "issues", diagnose.IDs(relevant))
	}

	if err := o.deps.Remediator.Resolve(ctx, h, relevant); err != nil {
		var abort *remediate.AbortError
		if errors.As(err, &abort) && abort.IssueID == diagnose.NothingToDo {
			return o.result(ResultNothingToPush), nil
		}
		return "", fail(StateRemediate, err)
	}

	// Stage, commit and push run to completion once started.
	ctx = context.WithoutCancel(ctx)

	if err := o.deps.Git.StageAll(ctx, h); err != nil {
		return "", fail(StateStageAll, err)
	}

	committed := true
	if err := o.deps.Git.Commit(ctx, h, p.CommitMessage); err != nil {
		if !git.IsKind(err, git.KindNothingToCommit) {
			return "", fail(StateCommit, err)
		}
		committed = false
		o.info("nothing to commit, pushing existing commits", "repo", h.Path)
	}

	branch := target
	if !hasCommits {
		if !committed {
			return o.result(ResultNothingToPush), nil
		}
		if err := o.deps.Git.RenameBranch(ctx, h, target); err != nil {
			return "", fail(StateRenameBranch, err)
		}
	} else {
		// Remediation may have moved HEAD to a new branch.
		current, err := o.deps.Inspector.CurrentBranch(ctx, h)
		if err != nil {
			return "", fail(StatePush, err)
		}
		if current == "" {
			return "", fail(StatePush, errors.New("HEAD is detached"))
		}
		branch = current
	}

	res, err := o.push(ctx, h, branch, diagnose.Has(relevant, diagnose.UpstreamMissing))
	if err != nil {
		return "", fail(StatePush, err)
	}
	if res.UpToDate && !committed {
		return o.result(ResultNothingToPush), nil
	}
	return o.result(fmt.Sprintf("pushed %s to %s", branch, vcs.DefaultRemote)), nil
}

// ensureRemote points origin at the payload's remote, creating the GitHub
// repository first for repo_mode "new". Without a URL origin is left as is
// and diagnosis reports no-remote if it is missing.
func (o *Orchestrator) ensureRemote(ctx context.Context, h vcs.Handle, p payload.Payload) error {
	url := p.RemoteURL
	if p.RepoMode == payload.RepoModeNew {
		repo, err := o.createRepository(ctx, p)
		if err != nil {
			return err
		}
		url = repo.CloneURL
	}
	if url == "" {
		return nil
	}

	current, err := o.deps.Inspector.RemoteURL(ctx, h)
	if err != nil {
		return err
	}
	if current == url {
		return nil
	}
	if current != "" {
		o.warn("replacing origin url", "old", current, "new", url)
	}
	return o.deps.Git.SetRemote(ctx, h, vcs.DefaultRemote, url)
}

// createRepository creates the payload's repository. A repository that
// already exists under the same owner is reused.
func (o *Orchestrator) createRepository(ctx context.Context, p payload.Payload) (gh.Repository, error) {
	if o.deps.GitHub == nil {
		return gh.Repository{}, errors.New("github client is required to create a repository")
	}

	repo, err := o.deps.GitHub.CreateRepository(ctx, gh.CreateRepositoryOptions{
		Org:     o.cfg.GitHubOrg,
		Name:    p.NewRepoName,
		Private: p.NewRepoPrivate,
	})
	if err == nil {
		o.info("created repository", "repository", repo.FullName, "private", repo.Private)
		return repo, nil
	}
	if !errors.Is(err, gh.ErrRepositoryExists) {
		return gh.Repository{}, err
	}

	owner := o.cfg.GitHubOrg
	if owner == "" {
		if owner, err = o.deps.GitHub.AuthenticatedLogin(ctx); err != nil {
			return gh.Repository{}, err
		}
	}
	repo, err = o.deps.GitHub.GetRepository(ctx, owner, p.NewRepoName)
	if err != nil {
		return gh.Repository{}, err
	}
	o.warn("repository already exists, reusing it", "repository", repo.FullName)
	return repo, nil
}

// ensureTargetBranch checks out target, creating it from HEAD when neither a
// local nor a remote branch exists. A detached HEAD is left for diagnosis.
func (o *Orchestrator) ensureTargetBranch(ctx context.Context, h vcs.Handle, target string) error {
	current, err := o.deps.Inspector.CurrentBranch(ctx, h)
	if err != nil {
		return err
	}
	if current == "" || current == target {
		return nil
	}

	err = o.deps.Git.SwitchBranch(ctx, h, target)
	if errors.Is(err, vcs.ErrBranchNotFound) {
		o.info("creating target branch", "branch", target, "from", current)
		return o.deps.Git.CreateBranch(ctx, h, target, true)
	}
	return err
}

// push publishes branch. A rejection is offered exactly one rebase and
// retry; a second rejection is returned as is.
func (o *Orchestrator) push(ctx context.Context, h vcs.Handle, branch string, upstreamMissing bool) (vcs.PushResult, error) {
	configured, err := o.deps.Inspector.UpstreamConfigured(ctx, h, branch)
	if err != nil {
		return vcs.PushResult{}, err
	}
	opts := vcs.PushOptions{Branch: branch, SetUpstream: !configured || upstreamMissing}

	res, err := o.deps.Git.Push(ctx, h, opts)
	if err == nil || !git.IsKind(err, git.KindRejected) {
		return res, err
	}

	o.warn("push rejected by origin", "branch", branch)
	rejected := diagnose.Issue{
		ID:          diagnose.PushRejected,
		Title:       "Push rejected",
		Description: fmt.Sprintf("origin has commits on %s that are not in the local branch.", branch),
		Resolution:  "Pull with rebase and push again.",
		AutoFixable: true,
	}
	if err := o.deps.Remediator.Resolve(ctx, h, []diagnose.Issue{rejected}); err != nil {
		return vcs.PushResult{}, err
	}

	res, err = o.deps.Git.Push(ctx, h, opts)
	if git.IsKind(err, git.KindRejected) {
		return vcs.PushResult{}, fmt.Errorf("push rejected again after rebase: %w", err)
	}
	return res, err
}

func (o *Orchestrator) result(msg string) string {
	if o.cfg.DryRun {
		return dryRunPrefix + msg
	}
	return msg
}

func (o *Orchestrator) info(msg string, args ...any) {
	if o.log != nil {
		o.log.Info(msg, args...)
	}
}

func (o *Orchestrator) warn(msg string, args ...any) {
	if o.log != nil {
		o.log.Warn(msg, args...)
	}
}
