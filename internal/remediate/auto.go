package remediate

import (
	"context"
	"fmt"

	"github.com/rancher/fast-push/internal/diagnose"
)

// AutoDecider answers without a user. Auto-fixable issues get the offered
// fix, blocking issues are cancelled because only a person can fix them,
// and free-text questions are answered from the configured values.
type AutoDecider struct {
	RemoteURL  string
	BranchName string
}

func (d AutoDecider) Choose(_ context.Context, issue diagnose.Issue, choices []Choice) (Choice, error) {
	if len(choices) == 0 {
		return "", fmt.Errorf("no choices offered for %s", issue.ID)
	}
	if issue.Blocking() && issue.ID != diagnose.NothingToDo {
		return ChoiceCancel, nil
	}
	return choices[0], nil
}

func (d AutoDecider) Input(_ context.Context, issue diagnose.Issue, label string) (string, error) {
	switch label {
	case InputRemoteURL:
		if d.RemoteURL != "" {
			return d.RemoteURL, nil
		}
	case InputBranchName:
		if d.BranchName != "" {
			return d.BranchName, nil
		}
	}
	return "", fmt.Errorf("%s needs %q and no default is configured", issue.ID, label)
}

// DeclineDecider answers for runs that have neither a terminal nor --yes.
// Every fix is cancelled so nothing changes without consent; nothing-to-do
// is still acknowledged so a clean tree reports "nothing to push".
type DeclineDecider struct{}

func (DeclineDecider) Choose(_ context.Context, issue diagnose.Issue, choices []Choice) (Choice, error) {
	if len(choices) == 0 {
		return "", fmt.Errorf("no choices offered for %s", issue.ID)
	}
	if issue.ID == diagnose.NothingToDo {
		return choices[0], nil
	}
	return ChoiceCancel, nil
}

func (DeclineDecider) Input(_ context.Context, issue diagnose.Issue, label string) (string, error) {
	return "", fmt.Errorf("%s needs %q and there is no terminal to ask", issue.ID, label)
}
