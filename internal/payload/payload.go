// Package payload decodes and normalizes the structured input of a fast push.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// RepoMode selects whether the push targets an existing remote or a
// repository created for the occasion.
type RepoMode string

const (
	RepoModeExisting RepoMode = "existing"
	RepoModeNew      RepoMode = "new"
)

const (
	DefaultBranch        = "main"
	DefaultCommitMessage = "Update via fast-push"
)

// Payload is the sole structured input of a fast push.
type Payload struct {
	RepoMode       RepoMode `json:"repo_mode"`
	RemoteURL      string   `json:"remote_url,omitempty"`
	NewRepoName    string   `json:"new_repo_name,omitempty"`
	NewRepoPrivate bool     `json:"new_repo_private,omitempty"`
	Branch         string   `json:"branch"`
	CommitMessage  string   `json:"commit_message"`

	// BranchNormalized is set by Normalize when a supplied Branch was
	// replaced with the default.
	BranchNormalized bool `json:"-"`
}

var (
	errUnknownMode  = errors.New("repo_mode must be \"existing\" or \"new\"")
	errMissingName  = errors.New("new_repo_name is required when repo_mode is \"new\"")
	errInvalidName  = errors.New("new_repo_name may only contain letters, digits, '.', '-' and '_'")
	errInvalidURL   = errors.New("remote_url cannot contain whitespace")
	repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// Parse decodes a JSON payload from r. Unknown keys are rejected so that a
// misspelled field does not silently fall back to a default.
func Parse(r io.Reader) (Payload, error) {
	var p Payload

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}

	return p, nil
}

// ParseFile reads the payload JSON from disk.
func ParseFile(path string) (Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return Payload{}, fmt.Errorf("open payload file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// Normalize trims every field, validates the repository mode, and resolves
// the target branch. An empty, placeholder or invalid branch is replaced
// with defaultBranch rather than rejected.
func (p Payload) Normalize(defaultBranch string) (Payload, error) {
	if defaultBranch = NormalizeBranch(defaultBranch); !ValidBranchName(defaultBranch) {
		defaultBranch = DefaultBranch
	}

	p.RepoMode = RepoMode(strings.ToLower(strings.TrimSpace(string(p.RepoMode))))
	if p.RepoMode == "" {
		p.RepoMode = RepoModeExisting
	}

	p.RemoteURL = strings.TrimSpace(p.RemoteURL)
	if strings.ContainsAny(p.RemoteURL, " \t\n\r") {
		return Payload{}, errInvalidURL
	}

	p.NewRepoName = strings.TrimSpace(p.NewRepoName)

	switch p.RepoMode {
	case RepoModeExisting:
	case RepoModeNew:
		if p.NewRepoName == "" {
			return Payload{}, errMissingName
		}
		if !repoNamePattern.MatchString(p.NewRepoName) {
			return Payload{}, fmt.Errorf("%w: %q", errInvalidName, p.NewRepoName)
		}
	default:
		return Payload{}, fmt.Errorf("%w, got %q", errUnknownMode, p.RepoMode)
	}

	branch := NormalizeBranch(p.Branch)
	if isPlaceholder(branch) || !ValidBranchName(branch) {
		p.BranchNormalized = branch != ""
		branch = defaultBranch
	}
	p.Branch = branch

	p.CommitMessage = strings.TrimSpace(p.CommitMessage)
	if p.CommitMessage == "" {
		p.CommitMessage = DefaultCommitMessage
	}

	return p, nil
}

// NormalizeBranch trims whitespace, removes leading/trailing slashes, and
// strips refs/heads prefixes from a branch name.
func NormalizeBranch(branch string) string {
	branch = strings.Trim(strings.TrimSpace(branch), "/")

	const prefix = "refs/heads/"
	if len(branch) >= len(prefix) && strings.EqualFold(branch[:len(prefix)], prefix) {
		branch = branch[len(prefix):]
	}

	return strings.TrimSpace(strings.Trim(branch, "/"))
}

var branchPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// ValidBranchName reports whether branch only uses whitelisted characters
// and is accepted by git's ref name rules.
func ValidBranchName(branch string) bool {
	switch {
	case branch == "", branch == "HEAD":
		return false
	case !branchPattern.MatchString(branch):
		return false
	case strings.HasPrefix(branch, "-"), strings.HasPrefix(branch, "."):
		return false
	case strings.HasSuffix(branch, "."), strings.HasSuffix(branch, ".lock"):
		return false
	case strings.Contains(branch, ".."), strings.Contains(branch, "//"), strings.Contains(branch, "/."):
		return false
	}
	return true
}

var placeholders = map[string]struct{}{
	"branch":        {},
	"branch-name":   {},
	"branch_name":   {},
	"branchname":    {},
	"your-branch":   {},
	"your_branch":   {},
	"target-branch": {},
	"new-branch":    {},
	"undefined":     {},
	"null":          {},
	"nil":           {},
	"none":          {},
	"tbd":           {},
	"todo":          {},
}

// isPlaceholder catches template values that leaked through unfilled, such
// as "<branch>", "${BRANCH}" or "your-branch".
func isPlaceholder(branch string) bool {
	if strings.ContainsAny(branch, "<>{}$") {
		return true
	}
	_, ok := placeholders[strings.ToLower(branch)]
	return ok
}
