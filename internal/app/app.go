package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/rancher/fast-push/internal/bridge"
	"github.com/rancher/fast-push/internal/diagnose"
	"github.com/rancher/fast-push/internal/git"
	gh "github.com/rancher/fast-push/internal/github"
	"github.com/rancher/fast-push/internal/inspect"
	"github.com/rancher/fast-push/internal/orchestrator"
	"github.com/rancher/fast-push/internal/payload"
	"github.com/rancher/fast-push/internal/prompt"
	"github.com/rancher/fast-push/internal/remediate"
	"github.com/rancher/fast-push/internal/vcs"
)

// Runner glues together the orchestrator and supporting services to execute a fast push.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	closer    io.Closer
	ghFactory gh.Factory
	gitExec   git.Executor      // only set for testing via NewRunnerWithDeps
	decider   remediate.Decider // only set for testing via NewRunnerWithDeps
}

// NewRunner constructs a Runner with the supplied configuration.
func NewRunner(cfg Config) (*Runner, error) {
	logger, closer, err := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &Runner{
		cfg:       cfg,
		log:       logger,
		closer:    closer,
		ghFactory: gh.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL),
	}, nil
}

// NewRunnerWithDeps constructs a Runner with injected dependencies for testing.
// A nil factory disables the GitHub API; a nil decider selects the default one.
func NewRunnerWithDeps(cfg Config, log *slog.Logger, ghFactory gh.Factory, gitExec git.Executor, decider remediate.Decider) *Runner {
	return &Runner{cfg: cfg, log: log, ghFactory: ghFactory, gitExec: gitExec, decider: decider}
}

// Close releases the log file, if any.
func (r *Runner) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Run pushes the repository at repoPath according to p and returns the
// orchestrator's result string.
func (r *Runner) Run(ctx context.Context, repoPath string, p payload.Payload) (string, error) {
	h, err := vcs.NewHandle(repoPath)
	if err != nil {
		return "", fmt.Errorf("resolve repository path: %w", err)
	}

	if r.log != nil {
		r.log.Info("starting fast push run", "repo", h.Path, "dry_run", r.cfg.DryRun, "repo_mode", p.RepoMode)
	}

	branch := r.cfg.DefaultBranch
	if normalized, err := p.Normalize(r.cfg.DefaultBranch); err == nil {
		branch = normalized.Branch
		p.RepoMode = normalized.RepoMode
	}

	client, err := r.gitHubClient(ctx, p)
	if err != nil {
		return "", err
	}

	exec := r.gitExec
	if exec == nil {
		exec = r.buildGitExecutor()
	}
	if r.cfg.DryRun {
		exec = git.NewDryRunExecutor(exec, r.log)
	}

	var b bridge.Bridge
	if !r.cfg.DisableBridge && !r.cfg.DryRun {
		b = bridge.NewGoGit(r.cfg.GitHubToken, r.log, h.Path)
	}

	facade := vcs.New(exec, b, r.log).WithDryRun(r.cfg.DryRun)
	inspector := inspect.New(exec, r.log)

	decider, interactive := r.buildDecider(p, branch)
	protocol := remediate.New(facade, decider, r.log)

	deps := orchestrator.Deps{
		Git:        facade,
		Inspector:  inspector,
		Diagnoser:  diagnose.New(inspector, r.log),
		Remediator: protocol,
	}
	if client != nil {
		deps.GitHub = client
	}

	orch := orchestrator.New(orchestrator.Config{
		DefaultBranch: r.cfg.DefaultBranch,
		GitHubOrg:     r.cfg.GitHubOrg,
		DryRun:        r.cfg.DryRun,
	}, deps, r.log)

	if !interactive {
		sp := prompt.NewSpinner("fast push in progress")
		sp.Start()
		defer sp.Stop()
	}

	result, runErr := orch.Run(ctx, h, p)

	if r.log != nil {
		for _, call := range facade.Trace() {
			r.log.Debug("git operation served", "op", call.Op, "backend", call.Backend)
		}
	}

	out := outcome{Repository: h.Path, Branch: branch, Result: result, Err: runErr}
	if err := r.writeStepSummary(out); err != nil && r.log != nil {
		r.log.Warn("failed to write step summary", "error", err)
	}
	if err := r.writeGitHubOutputs(out); err != nil && r.log != nil {
		r.log.Warn("failed to write action outputs", "error", err)
	}

	if runErr != nil {
		return "", runErr
	}

	if r.log != nil {
		r.log.Info("fast push finished", "result", result)
	}
	return result, nil
}

// gitHubClient returns nil unless the payload asks for a new repository.
func (r *Runner) gitHubClient(ctx context.Context, p payload.Payload) (gh.Client, error) {
	if p.RepoMode != payload.RepoModeNew {
		return nil, nil
	}

	factory := r.ghFactory
	if r.cfg.DryRun {
		factory = gh.NewNoopFactory(r.log)
	} else if r.cfg.GitHubToken == "" {
		return nil, fmt.Errorf("github token is required to create a repository (set FAST_PUSH_GITHUB_TOKEN or GITHUB_TOKEN)")
	}
	if factory == nil {
		return nil, nil
	}

	client, err := factory.New(ctx, r.cfg.GitHubToken)
	if err != nil {
		return nil, fmt.Errorf("initialize github client: %w", err)
	}
	return client, nil
}

func (r *Runner) buildGitExecutor() git.Executor {
	exec := git.NewShellExecutor(r.log)
	exec.Timeout = r.cfg.GitTimeout
	exec.MaxOutput = r.cfg.GitMaxOutput
	exec.Retries = r.cfg.GitRetries
	if r.cfg.GitRetries == 0 {
		exec.Retries = -1
	}
	return exec
}

// interactiveTerminal is swapped out by tests.
var interactiveTerminal = prompt.Interactive

// buildDecider only answers fixes automatically when the user passed --yes.
// Otherwise it prompts on a terminal, and without one every fix is declined.
func (r *Runner) buildDecider(p payload.Payload, branch string) (remediate.Decider, bool) {
	switch {
	case r.decider != nil:
		return r.decider, false
	case r.cfg.AssumeYes:
		return remediate.AutoDecider{RemoteURL: p.RemoteURL, BranchName: branch}, false
	case interactiveTerminal():
		return prompt.NewSurvey(), true
	}
	if r.log != nil {
		r.log.Warn("no interactive terminal and --yes not set, fixes will be declined")
	}
	return remediate.DeclineDecider{}, false
}
