// Package remediate walks the user through the issues found by diagnose and
// applies the fixes they accept.
package remediate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rancher/fast-push/internal/diagnose"
	"github.com/rancher/fast-push/internal/payload"
	"github.com/rancher/fast-push/internal/vcs"
)

// Choice is an answer offered to the decider. The strings are a contract
// with the UI and must not change.
type Choice string

const (
	ChoiceFixed          Choice = "I fixed it, continue"
	ChoiceCancel         Choice = "Cancel"
	ChoicePullRebase     Choice = "Pull with rebase"
	ChoiceCreateBranch   Choice = "Create branch"
	ChoiceDeleteLock     Choice = "Delete lock file"
	ChoiceContinue       Choice = "Continue"
	ChoiceResetUpstream  Choice = "Reset upstream"
	ChoiceContinueAnyway Choice = "Continue anyway"
	ChoiceOK             Choice = "OK"
	ChoiceAddRemote      Choice = "Add remote"
)

// Input labels for the free-text questions.
const (
	InputBranchName = "New branch name"
	InputRemoteURL  = "Remote URL"
)

// ErrAborted matches every AbortError.
var ErrAborted = errors.New("fast push aborted")

// AbortError ends the workflow. Fixes applied before it are kept.
type AbortError struct {
	IssueID diagnose.IssueID
	Reason  string
	Err     error
}

func (e *AbortError) Error() string {
	msg := fmt.Sprintf("aborted at %s: %s", e.IssueID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Decider is the UI boundary. Choose must return one of choices verbatim.
type Decider interface {
	Choose(ctx context.Context, issue diagnose.Issue, choices []Choice) (Choice, error)
	Input(ctx context.Context, issue diagnose.Issue, label string) (string, error)
}

// Fixer is the part of the git facade remediation needs.
type Fixer interface {
	CurrentBranch(ctx context.Context, h vcs.Handle) (string, error)
	Pull(ctx context.Context, h vcs.Handle, opts vcs.PullOptions) error
	CreateBranch(ctx context.Context, h vcs.Handle, name string, checkout bool) error
	RemoveIndexLock(ctx context.Context, h vcs.Handle) error
	SetUpstream(ctx context.Context, h vcs.Handle, branch string) error
	SetRemote(ctx context.Context, h vcs.Handle, name, url string) error
}

// Protocol presents issues one at a time and dispatches accepted fixes.
type Protocol struct {
	fixer   Fixer
	decider Decider
	log     *slog.Logger
}

// New returns a Protocol.
func New(fixer Fixer, decider Decider, logger *slog.Logger) *Protocol {
	return &Protocol{fixer: fixer, decider: decider, log: logger}
}

// Resolve handles blocking issues first, then auto-fixable ones, each in the
// order given. It returns nil when every issue was resolved and an
// *AbortError when the user cancelled or a fix failed.
func (p *Protocol) Resolve(ctx context.Context, h vcs.Handle, issues []diagnose.Issue) error {
	var blocking, fixable []diagnose.Issue
	for _, issue := range issues {
		if issue.AutoFixable {
			fixable = append(fixable, issue)
		} else {
			blocking = append(blocking, issue)
		}
	}

	for _, issue := range blocking {
		if err := p.resolveBlocking(ctx, issue); err != nil {
			return err
		}
	}
	for _, issue := range fixable {
		if err := p.resolveFixable(ctx, h, issue); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) resolveBlocking(ctx context.Context, issue diagnose.Issue) error {
	if issue.ID == diagnose.NothingToDo {
		if _, err := p.choose(ctx, issue, ChoiceOK); err != nil {
			return err
		}
		return &AbortError{IssueID: issue.ID, Reason: "nothing to push"}
	}

	choice, err := p.choose(ctx, issue, ChoiceFixed, ChoiceCancel)
	if err != nil {
		return err
	}
	if choice == ChoiceCancel {
		return cancelled(issue)
	}
	p.logResolved(issue, choice)
	return nil
}

func (p *Protocol) resolveFixable(ctx context.Context, h vcs.Handle, issue diagnose.Issue) error {
	switch issue.ID {
	case diagnose.BranchesDiverged, diagnose.BehindRemote, diagnose.PushRejected:
		return p.offer(ctx, issue, ChoicePullRebase, func() error {
			branch, err := p.fixer.CurrentBranch(ctx, h)
			if err != nil {
				return err
			}
			return p.fixer.Pull(ctx, h, vcs.PullOptions{Branch: branch, Rebase: true})
		})

	case diagnose.DetachedHead:
		return p.offer(ctx, issue, ChoiceCreateBranch, func() error {
			name, err := p.input(ctx, issue, InputBranchName)
			if err != nil {
				return err
			}
			if !payload.ValidBranchName(name) {
				return &AbortError{IssueID: issue.ID, Reason: fmt.Sprintf("invalid branch name %q", name)}
			}
			return p.fixer.CreateBranch(ctx, h, name, true)
		})

	case diagnose.StaleLock:
		return p.offer(ctx, issue, ChoiceDeleteLock, func() error {
			return p.fixer.RemoveIndexLock(ctx, h)
		})

	case diagnose.UpstreamMissing:
		// The push recreates the branch with --set-upstream.
		return p.offer(ctx, issue, ChoiceContinue, nil)

	case diagnose.UpstreamBroken:
		return p.offer(ctx, issue, ChoiceResetUpstream, func() error {
			branch, err := p.fixer.CurrentBranch(ctx, h)
			if err != nil {
				return err
			}
			return p.fixer.SetUpstream(ctx, h, branch)
		})

	case diagnose.NoRemote:
		return p.offer(ctx, issue, ChoiceAddRemote, func() error {
			url, err := p.input(ctx, issue, InputRemoteURL)
			if err != nil {
				return err
			}
			return p.fixer.SetRemote(ctx, h, vcs.DefaultRemote, url)
		})

	default:
		return p.offer(ctx, issue, ChoiceContinueAnyway, nil)
	}
}

// offer asks accept-or-cancel and runs fix on accept. A failing fix aborts.
func (p *Protocol) offer(ctx context.Context, issue diagnose.Issue, accept Choice, fix func() error) error {
	choice, err := p.choose(ctx, issue, accept, ChoiceCancel)
	if err != nil {
		return err
	}
	if choice == ChoiceCancel {
		return cancelled(issue)
	}
	if fix != nil {
		if err := fix(); err != nil {
			var abort *AbortError
			if errors.As(err, &abort) {
				return err
			}
			return &AbortError{IssueID: issue.ID, Reason: strings.ToLower(string(accept)) + " failed", Err: err}
		}
	}
	p.logResolved(issue, choice)
	return nil
}

func (p *Protocol) choose(ctx context.Context, issue diagnose.Issue, choices ...Choice) (Choice, error) {
	choice, err := p.decider.Choose(ctx, issue, choices)
	if err != nil {
		return "", fmt.Errorf("decide %s: %w", issue.ID, err)
	}
	for _, c := range choices {
		if c == choice {
			return choice, nil
		}
	}
	return "", fmt.Errorf("decide %s: unexpected choice %q", issue.ID, choice)
}

func (p *Protocol) input(ctx context.Context, issue diagnose.Issue, label string) (string, error) {
	value, err := p.decider.Input(ctx, issue, label)
	if err != nil {
		return "", fmt.Errorf("ask %s: %w", strings.ToLower(label), err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", &AbortError{IssueID: issue.ID, Reason: strings.ToLower(label) + " is required"}
	}
	return value, nil
}

func (p *Protocol) logResolved(issue diagnose.Issue, choice Choice) {
	if p.log != nil {
		p.log.Info("issue resolved", "issue", issue.ID, "choice", string(choice))
	}
}

func cancelled(issue diagnose.Issue) error {
	return &AbortError{IssueID: issue.ID, Reason: "cancelled"}
}
