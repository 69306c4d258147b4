package diagnose

// IssueID is the closed set of problems the engine can report. The
// remediation protocol dispatches on it.
type IssueID string

const (
	NoRepo           IssueID = "no-repo"
	MergeConflicts   IssueID = "merge-conflicts"
	RebaseInProgress IssueID = "rebase-in-progress"
	MergeInProgress  IssueID = "merge-in-progress"
	NoRemote         IssueID = "no-remote"
	UpstreamMissing  IssueID = "upstream-missing"
	UpstreamBroken   IssueID = "upstream-broken"
	BranchesDiverged IssueID = "branches-diverged"
	BehindRemote     IssueID = "behind-remote"
	DirtySubmodules  IssueID = "dirty-submodules"
	NothingToDo      IssueID = "nothing-to-do"
	DetachedHead     IssueID = "detached-head"
	StaleLock        IssueID = "stale-lock"
	ActiveLock       IssueID = "active-lock"

	// PushRejected is never reported by the engine. The orchestrator raises
	// it when origin refuses a push so the fix goes through remediation.
	PushRejected IssueID = "push-rejected"
)

// Issue is an immutable finding. Whether it was resolved is tracked by the
// caller, never on the Issue itself.
type Issue struct {
	ID          IssueID
	Title       string
	Description string
	Resolution  string
	AutoFixable bool
}

// Blocking reports whether the issue needs the user to act outside the tool.
func (i Issue) Blocking() bool {
	return !i.AutoFixable
}

// freshRepoExpected are issues that are normal in a repository without
// commits and therefore not worth remediating there.
var freshRepoExpected = map[IssueID]bool{
	DetachedHead:    true,
	UpstreamMissing: true,
	UpstreamBroken:  true,
	NothingToDo:     true,
}

// Relevant drops issues that are expected in a repository with no commits.
// With commits the list is returned unchanged.
func Relevant(issues []Issue, hasCommits bool) []Issue {
	if hasCommits {
		return issues
	}
	out := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		if freshRepoExpected[issue.ID] {
			continue
		}
		out = append(out, issue)
	}
	return out
}

// Has reports whether issues contains id.
func Has(issues []Issue, id IssueID) bool {
	for _, issue := range issues {
		if issue.ID == id {
			return true
		}
	}
	return false
}

// IDs lists the issue ids in order.
func IDs(issues []Issue) []IssueID {
	ids := make([]IssueID, len(issues))
	for i, issue := range issues {
		ids[i] = issue.ID
	}
	return ids
}
