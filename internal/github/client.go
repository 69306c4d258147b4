package gh

import (
	"context"
	"errors"
)

// Repository describes a repository hosted on GitHub.
type Repository struct {
	Owner    string
	Name     string
	FullName string
	CloneURL string
	SSHURL   string
	HTMLURL  string
	Private  bool
}

// CreateRepositoryOptions defines the repository a fast push should create.
// An empty Org creates the repository under the authenticated user.
type CreateRepositoryOptions struct {
	Org         string
	Name        string
	Description string
	Private     bool
}

// Client exposes the GitHub operations required before the git-level flow.
type Client interface {
	AuthenticatedLogin(ctx context.Context) (string, error)
	CreateRepository(ctx context.Context, opts CreateRepositoryOptions) (Repository, error)
	GetRepository(ctx context.Context, owner, name string) (Repository, error)
}

// Factory builds concrete GitHub clients (e.g., REST-backed).
type Factory interface {
	New(ctx context.Context, token string) (Client, error)
}

var (
	// ErrRepositoryExists indicates the repository name is already taken by the owner.
	ErrRepositoryExists = errors.New("github: repository already exists")
	// ErrRepositoryNotFound indicates the requested repository does not exist or is not visible.
	ErrRepositoryNotFound = errors.New("github: repository not found")
)

// retryableError marks an error that may succeed if the operation is retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsRetryable reports whether the supplied error resulted from a retryable GitHub
// API failure (for example, a transient network problem or rate-limited request).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var target *retryableError
	return errors.As(err, &target)
}
