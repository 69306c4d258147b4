package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rancher/fast-push/internal/app"
	"github.com/rancher/fast-push/internal/payload"
	"github.com/rancher/fast-push/internal/prompt"
	"github.com/rancher/fast-push/internal/remediate"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitCancelled   = 2
	exitInterrupted = 130
)

type options struct {
	payloadFile   string
	repoMode      string
	remoteURL     string
	newRepoName   string
	private       bool
	branch        string
	message       string
	dryRun        bool
	assumeYes     bool
	verbose       bool
	logLevel      string
	logFormat     string
	logFile       string
	defaultBranch string
	org           string
	noBridge      bool
}

func execute(ctx context.Context, args []string) int {
	var code int
	cmd := newRootCommand(func(c *cobra.Command, repoPath string, opts *options) error {
		err := run(c, repoPath, opts)
		code = exitCode(err)
		return err
	})
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if code == exitOK {
			code = exitFailure
		}
	}
	return code
}

func newRootCommand(runFn func(*cobra.Command, string, *options) error) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "fast-push [path]",
		Short: "Stage, commit and push a working tree in one step",
		Long: `fast-push diagnoses the repository at path (default: the current directory),
offers fixes for whatever would make the push fail, then stages everything,
commits and pushes the target branch to origin.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(c *cobra.Command, args []string) error {
			repoPath := "."
			if len(args) == 1 {
				repoPath = args[0]
			}
			return runFn(c, repoPath, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.payloadFile, "payload", "", "JSON payload file; flags override its fields")
	flags.StringVar(&opts.repoMode, "repo-mode", "", `"existing" to push to a known remote, "new" to create a GitHub repository`)
	flags.StringVar(&opts.remoteURL, "remote-url", "", "URL to configure as origin")
	flags.StringVar(&opts.newRepoName, "new-repo-name", "", "name of the repository to create with --repo-mode new")
	flags.BoolVar(&opts.private, "private", false, "create the new repository as private")
	flags.StringVarP(&opts.branch, "branch", "b", "", "target branch")
	flags.StringVarP(&opts.message, "message", "m", "", "commit message")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "diagnose and report without changing the repository or the remote")
	flags.BoolVarP(&opts.assumeYes, "yes", "y", false, "accept the suggested fix for every issue without prompting")
	flags.BoolVarP(&opts.verbose, "verbose", "V", false, "enable debug logging")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&opts.logFile, "log-file", "", "also write logs to this rotating file")
	flags.StringVar(&opts.defaultBranch, "default-branch", "", "branch used when the payload names none")
	flags.StringVar(&opts.org, "org", "", "GitHub organization that owns new repositories")
	flags.BoolVar(&opts.noBridge, "no-bridge", false, "serve every git operation through the git CLI")

	return cmd
}

func run(c *cobra.Command, repoPath string, opts *options) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyConfigFlags(c, &cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	p, err := buildPayload(c, opts)
	if err != nil {
		return err
	}

	runner, err := app.NewRunner(cfg)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}
	defer func() {
		_ = runner.Close()
	}()

	result, err := runner.Run(c.Context(), repoPath, p)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.OutOrStdout(), result)
	return nil
}

func applyConfigFlags(c *cobra.Command, cfg *app.Config, opts *options) {
	flags := c.Flags()
	if flags.Changed("dry-run") {
		cfg.DryRun = opts.dryRun
	}
	if flags.Changed("yes") {
		cfg.AssumeYes = opts.assumeYes
	}
	if flags.Changed("verbose") {
		cfg.Verbose = opts.verbose
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if flags.Changed("log-file") {
		cfg.LogFile = opts.logFile
	}
	if flags.Changed("default-branch") {
		cfg.DefaultBranch = opts.defaultBranch
	}
	if flags.Changed("org") {
		cfg.GitHubOrg = opts.org
	}
	if flags.Changed("no-bridge") {
		cfg.DisableBridge = opts.noBridge
	}
}

// buildPayload reads --payload when given and lets explicitly set flags
// replace its fields.
func buildPayload(c *cobra.Command, opts *options) (payload.Payload, error) {
	var p payload.Payload
	if opts.payloadFile != "" {
		parsed, err := payload.ParseFile(opts.payloadFile)
		if err != nil {
			return payload.Payload{}, err
		}
		p = parsed
	}

	flags := c.Flags()
	if flags.Changed("repo-mode") {
		p.RepoMode = payload.RepoMode(opts.repoMode)
	}
	if flags.Changed("remote-url") {
		p.RemoteURL = opts.remoteURL
	}
	if flags.Changed("new-repo-name") {
		p.NewRepoName = opts.newRepoName
	}
	if flags.Changed("private") {
		p.NewRepoPrivate = opts.private
	}
	if flags.Changed("branch") {
		p.Branch = opts.branch
	}
	if flags.Changed("message") {
		p.CommitMessage = opts.message
	}
	return p, nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled), errors.Is(err, prompt.ErrInterrupted):
		return exitInterrupted
	case errors.Is(err, remediate.ErrAborted):
		return exitCancelled
	default:
		return exitFailure
	}
}
