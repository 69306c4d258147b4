package remediate_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/fast-push/internal/diagnose"
	"github.com/rancher/fast-push/internal/remediate"
	"github.com/rancher/fast-push/internal/vcs"
)

type prompt struct {
	issue   diagnose.IssueID
	choices []remediate.Choice
}

type scriptedDecider struct {
	answers map[diagnose.IssueID]remediate.Choice
	inputs  map[string]string
	prompts []prompt
	asked   []string
}

func (d *scriptedDecider) Choose(_ context.Context, issue diagnose.Issue, choices []remediate.Choice) (remediate.Choice, error) {
	d.prompts = append(d.prompts, prompt{issue: issue.ID, choices: choices})
	if answer, ok := d.answers[issue.ID]; ok {
		return answer, nil
	}
	return choices[0], nil
}

func (d *scriptedDecider) Input(_ context.Context, _ diagnose.Issue, label string) (string, error) {
	d.asked = append(d.asked, label)
	return d.inputs[label], nil
}

type fakeFixer struct {
	branch string
	fail   map[string]error
	calls  []string
}

func (f *fakeFixer) record(call string, op string) error {
	f.calls = append(f.calls, call)
	return f.fail[op]
}

func (f *fakeFixer) CurrentBranch(context.Context, vcs.Handle) (string, error) {
	return f.branch, nil
}

func (f *fakeFixer) Pull(_ context.Context, _ vcs.Handle, opts vcs.PullOptions) error {
	return f.record(fmt.Sprintf("pull rebase=%t %s", opts.Rebase, opts.Branch), "pull")
}

func (f *fakeFixer) CreateBranch(_ context.Context, _ vcs.Handle, name string, checkout bool) error {
	return f.record(fmt.Sprintf("create-branch %s checkout=%t", name, checkout), "create-branch")
}

func (f *fakeFixer) RemoveIndexLock(context.Context, vcs.Handle) error {
	return f.record("remove-index-lock", "remove-index-lock")
}

func (f *fakeFixer) SetUpstream(_ context.Context, _ vcs.Handle, branch string) error {
	return f.record("set-upstream "+branch, "set-upstream")
}

func (f *fakeFixer) SetRemote(_ context.Context, _ vcs.Handle, name, url string) error {
	return f.record("set-remote "+name+" "+url, "set-remote")
}

func issue(id diagnose.IssueID, fixable bool) diagnose.Issue {
	return diagnose.Issue{ID: id, Title: string(id), AutoFixable: fixable}
}

var _ = Describe("Protocol", func() {
	var (
		ctx     context.Context
		handle  vcs.Handle
		decider *scriptedDecider
		fixer   *fakeFixer
		proto   *remediate.Protocol
	)

	BeforeEach(func() {
		ctx = context.Background()
		handle = vcs.Handle{Path: "/repo"}
		decider = &scriptedDecider{answers: map[diagnose.IssueID]remediate.Choice{}, inputs: map[string]string{}}
		fixer = &fakeFixer{branch: "main", fail: map[string]error{}}
		proto = remediate.New(fixer, decider, nil)
	})

	It("succeeds without prompting when there are no issues", func() {
		Expect(proto.Resolve(ctx, handle, nil)).To(Succeed())
		Expect(decider.prompts).To(BeEmpty())
	})

	It("presents blocking issues before auto-fixable ones", func() {
		issues := []diagnose.Issue{
			issue(diagnose.StaleLock, true),
			issue(diagnose.MergeConflicts, false),
			issue(diagnose.BehindRemote, true),
			issue(diagnose.DirtySubmodules, false),
		}

		Expect(proto.Resolve(ctx, handle, issues)).To(Succeed())
		Expect(decider.prompts).To(Equal([]prompt{
			{diagnose.MergeConflicts, []remediate.Choice{remediate.ChoiceFixed, remediate.ChoiceCancel}},
			{diagnose.DirtySubmodules, []remediate.Choice{remediate.ChoiceFixed, remediate.ChoiceCancel}},
			{diagnose.StaleLock, []remediate.Choice{remediate.ChoiceDeleteLock, remediate.ChoiceCancel}},
			{diagnose.BehindRemote, []remediate.Choice{remediate.ChoicePullRebase, remediate.ChoiceCancel}},
		}))
		Expect(fixer.calls).To(Equal([]string{"remove-index-lock", "pull rebase=true main"}))
	})

	It("aborts everything when a blocking issue is cancelled", func() {
		decider.answers[diagnose.ActiveLock] = remediate.ChoiceCancel
		issues := []diagnose.Issue{issue(diagnose.ActiveLock, false), issue(diagnose.StaleLock, true)}

		err := proto.Resolve(ctx, handle, issues)
		Expect(errors.Is(err, remediate.ErrAborted)).To(BeTrue())
		var abort *remediate.AbortError
		Expect(errors.As(err, &abort)).To(BeTrue())
		Expect(abort.IssueID).To(Equal(diagnose.ActiveLock))
		Expect(fixer.calls).To(BeEmpty())
	})

	It("keeps earlier fixes when a later issue is cancelled", func() {
		decider.answers[diagnose.DetachedHead] = remediate.ChoiceCancel
		issues := []diagnose.Issue{issue(diagnose.BranchesDiverged, true), issue(diagnose.DetachedHead, true)}

		err := proto.Resolve(ctx, handle, issues)
		Expect(errors.Is(err, remediate.ErrAborted)).To(BeTrue())
		Expect(fixer.calls).To(Equal([]string{"pull rebase=true main"}))
	})

	It("aborts with the underlying error when a pull with rebase fails", func() {
		fixer.fail["pull"] = errors.New("CONFLICT (content): Merge conflict in a.txt")

		err := proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.BranchesDiverged, true)})
		Expect(errors.Is(err, remediate.ErrAborted)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("pull with rebase failed"))
		Expect(err.Error()).To(ContainSubstring("Merge conflict"))
	})

	It("always aborts on nothing-to-do", func() {
		err := proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.NothingToDo, false)})

		var abort *remediate.AbortError
		Expect(errors.As(err, &abort)).To(BeTrue())
		Expect(abort.IssueID).To(Equal(diagnose.NothingToDo))
		Expect(decider.prompts).To(Equal([]prompt{{diagnose.NothingToDo, []remediate.Choice{remediate.ChoiceOK}}}))
	})

	It("creates a branch from a detached HEAD with the supplied name", func() {
		decider.inputs[remediate.InputBranchName] = "  rescue  "

		Expect(proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.DetachedHead, true)})).To(Succeed())
		Expect(decider.asked).To(Equal([]string{remediate.InputBranchName}))
		Expect(fixer.calls).To(Equal([]string{"create-branch rescue checkout=true"}))
	})

	It("aborts when no branch name is supplied", func() {
		err := proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.DetachedHead, true)})
		Expect(errors.Is(err, remediate.ErrAborted)).To(BeTrue())
		Expect(fixer.calls).To(BeEmpty())
	})

	It("aborts without creating a branch when the name is invalid", func() {
		decider.inputs[remediate.InputBranchName] = "a..b"

		err := proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.DetachedHead, true)})
		Expect(errors.Is(err, remediate.ErrAborted)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring(`invalid branch name "a..b"`))
		Expect(fixer.calls).To(BeEmpty())
	})

	It("offers pull with rebase for a rejected push", func() {
		fixer.branch = "feature"
		Expect(proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.PushRejected, true)})).To(Succeed())
		Expect(decider.prompts[0].choices).To(Equal([]remediate.Choice{remediate.ChoicePullRebase, remediate.ChoiceCancel}))
		Expect(fixer.calls).To(Equal([]string{"pull rebase=true feature"}))
	})

	It("lets upstream-missing continue without touching the repository", func() {
		Expect(proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.UpstreamMissing, true)})).To(Succeed())
		Expect(decider.prompts[0].choices).To(Equal([]remediate.Choice{remediate.ChoiceContinue, remediate.ChoiceCancel}))
		Expect(fixer.calls).To(BeEmpty())
	})

	It("resets a broken upstream to origin/<branch>", func() {
		fixer.branch = "feature"
		Expect(proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.UpstreamBroken, true)})).To(Succeed())
		Expect(fixer.calls).To(Equal([]string{"set-upstream feature"}))
	})

	It("adds origin from the supplied URL", func() {
		decider.inputs[remediate.InputRemoteURL] = "https://example.com/a/b.git"
		Expect(proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.NoRemote, true)})).To(Succeed())
		Expect(fixer.calls).To(Equal([]string{"set-remote origin https://example.com/a/b.git"}))
	})

	It("degrades to continue-anyway for unknown issue kinds", func() {
		Expect(proto.Resolve(ctx, handle, []diagnose.Issue{issue("future-issue", true)})).To(Succeed())
		Expect(decider.prompts[0].choices).To(Equal([]remediate.Choice{remediate.ChoiceContinueAnyway, remediate.ChoiceCancel}))
	})

	It("rejects answers outside the offered choices", func() {
		decider.answers[diagnose.StaleLock] = remediate.Choice("yes please")
		err := proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.StaleLock, true)})
		Expect(err).To(MatchError(ContainSubstring("unexpected choice")))
		Expect(fixer.calls).To(BeEmpty())
	})

	Describe("AutoDecider", func() {
		BeforeEach(func() {
			proto = remediate.New(fixer, remediate.AutoDecider{RemoteURL: "https://example.com/x.git"}, nil)
		})

		It("applies auto-fixes", func() {
			issues := []diagnose.Issue{issue(diagnose.StaleLock, true), issue(diagnose.NoRemote, true)}
			Expect(proto.Resolve(ctx, handle, issues)).To(Succeed())
			Expect(fixer.calls).To(Equal([]string{"remove-index-lock", "set-remote origin https://example.com/x.git"}))
		})

		It("cancels blocking issues", func() {
			err := proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.MergeConflicts, false)})
			Expect(errors.Is(err, remediate.ErrAborted)).To(BeTrue())
		})

		It("fails when a required answer has no default", func() {
			err := proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.DetachedHead, true)})
			Expect(err).To(HaveOccurred())
			Expect(fixer.calls).To(BeEmpty())
		})
	})

	Describe("DeclineDecider", func() {
		BeforeEach(func() {
			proto = remediate.New(fixer, remediate.DeclineDecider{}, nil)
		})

		It("cancels auto-fixable issues without touching the repository", func() {
			err := proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.StaleLock, true)})
			Expect(errors.Is(err, remediate.ErrAborted)).To(BeTrue())
			Expect(fixer.calls).To(BeEmpty())
		})

		It("acknowledges nothing-to-do", func() {
			err := proto.Resolve(ctx, handle, []diagnose.Issue{issue(diagnose.NothingToDo, false)})
			var abort *remediate.AbortError
			Expect(errors.As(err, &abort)).To(BeTrue())
			Expect(abort.IssueID).To(Equal(diagnose.NothingToDo))
			Expect(abort.Reason).To(Equal("nothing to push"))
		})
	})
})
