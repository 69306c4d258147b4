package gh

import (
	"context"
	"fmt"
	"log/slog"
)

// NewNoopFactory returns a Factory whose clients never touch the network.
// Created repositories are only logged; their URLs are predicted from the
// owner and name. It backs dry runs.
func NewNoopFactory(logger *slog.Logger) Factory {
	return noopFactory{log: logger}
}

type noopFactory struct {
	log *slog.Logger
}

func (f noopFactory) New(context.Context, string) (Client, error) {
	return noopClient(f), nil
}

type noopClient struct {
	log *slog.Logger
}

const noopLogin = "dry-run"

func (noopClient) AuthenticatedLogin(context.Context) (string, error) {
	return noopLogin, nil
}

func (c noopClient) CreateRepository(_ context.Context, opts CreateRepositoryOptions) (Repository, error) {
	owner := opts.Org
	if owner == "" {
		owner = noopLogin
	}
	if c.log != nil {
		c.log.Info("dry run: would create repository", "owner", owner, "name", opts.Name, "private", opts.Private)
	}
	return predicted(owner, opts.Name, opts.Private), nil
}

func (noopClient) GetRepository(_ context.Context, owner, name string) (Repository, error) {
	return predicted(owner, name, false), nil
}

func predicted(owner, name string, private bool) Repository {
	return Repository{
		Owner:    owner,
		Name:     name,
		FullName: owner + "/" + name,
		CloneURL: fmt.Sprintf("https://github.com/%s/%s.git", owner, name),
		SSHURL:   fmt.Sprintf("git@github.com:%s/%s.git", owner, name),
		HTMLURL:  fmt.Sprintf("https://github.com/%s/%s", owner, name),
		Private:  private,
	}
}
