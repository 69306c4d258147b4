package inspect

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rancher/fast-push/internal/vcs"
)

// Snapshot is a point-in-time set of facts that do not depend on each other.
type Snapshot struct {
	Branch     string
	RemoteURL  string
	Conflicts  []string
	Operation  Operation
	Status     Status
	Submodules []DirtySubmodule
	Stashes    []string
	Lock       *IndexLock
}

// Snapshot gathers the independent read-only facts concurrently. Each query
// only reads, and git serialises writers through its own index lock.
func (i *Inspector) Snapshot(ctx context.Context, h vcs.Handle) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		branch, err := i.CurrentBranch(gctx, h)
		snap.Branch = branch
		return err
	})
	g.Go(func() error {
		url, err := i.RemoteURL(gctx, h)
		snap.RemoteURL = url
		return err
	})
	g.Go(func() error {
		conflicts, err := i.Conflicts(gctx, h)
		snap.Conflicts = conflicts
		return err
	})
	g.Go(func() error {
		op, err := i.Operation(gctx, h)
		snap.Operation = op
		return err
	})
	g.Go(func() error {
		st, err := i.Status(gctx, h)
		snap.Status = st
		return err
	})
	g.Go(func() error {
		subs, err := i.DirtySubmodules(gctx, h)
		snap.Submodules = subs
		return err
	})
	g.Go(func() error {
		stashes, err := i.StashList(gctx, h)
		snap.Stashes = stashes
		return err
	})
	g.Go(func() error {
		lock, err := i.IndexLock(gctx, h)
		snap.Lock = lock
		return err
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
