package vcs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/fast-push/internal/bridge"
	"github.com/rancher/fast-push/internal/git"
	"github.com/rancher/fast-push/internal/git/gitfake"
	"github.com/rancher/fast-push/internal/vcs"
)

type fakeRepo struct {
	root string
	fail map[string]error

	mu    sync.Mutex
	calls []string
}

func (r *fakeRepo) do(op string) error {
	r.mu.Lock()
	r.calls = append(r.calls, op)
	r.mu.Unlock()
	return r.fail[op]
}

func (r *fakeRepo) Root() string { return r.root }
func (r *fakeRepo) CurrentBranch(context.Context) (string, error) {
	return "bridge-branch", r.do("current-branch")
}
func (r *fakeRepo) Fetch(context.Context, bridge.FetchOptions) error { return r.do("fetch") }
func (r *fakeRepo) Pull(context.Context, bridge.PullOptions) error   { return r.do("pull") }
func (r *fakeRepo) Push(context.Context, bridge.PushOptions) error   { return r.do("push") }
func (r *fakeRepo) Checkout(context.Context, string) error           { return r.do("checkout") }
func (r *fakeRepo) CreateBranch(context.Context, string, bool) error { return r.do("create-branch") }
func (r *fakeRepo) DeleteBranch(context.Context, string, bool) error { return r.do("delete-branch") }
func (r *fakeRepo) Merge(context.Context, string) error              { return r.do("merge") }
func (r *fakeRepo) Stash(context.Context, string, bool) error        { return r.do("stash") }
func (r *fakeRepo) AddRemote(context.Context, string, string) error  { return r.do("add-remote") }

type fakeBridge struct {
	mu    sync.Mutex
	repos []bridge.Repository
	reads int
}

func (b *fakeBridge) Repositories() []bridge.Repository {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	return append([]bridge.Repository(nil), b.repos...)
}

func (b *fakeBridge) set(repos ...bridge.Repository) {
	b.mu.Lock()
	b.repos = repos
	b.mu.Unlock()
}

var _ = Describe("Facade", func() {
	var (
		ctx    context.Context
		exec   *gitfake.Executor
		handle vcs.Handle
	)

	BeforeEach(func() {
		ctx = context.Background()
		exec = gitfake.New()
		handle = vcs.Handle{Path: "/work/repo"}
	})

	Context("without a bridge", func() {
		It("serves every operation through the CLI", func() {
			exec.On("branch --show-current").Return("main\n")
			facade := vcs.New(exec, nil, nil)

			branch, err := facade.CurrentBranch(ctx, handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(branch).To(Equal("main"))
			Expect(facade.Trace()).To(Equal([]vcs.Call{{Op: "current-branch", Backend: vcs.BackendCLI}}))
			Expect(exec.Calls()[0].Dir).To(Equal("/work/repo"))
		})

		It("retries a push with --set-upstream when git reports no upstream", func() {
			exec.On("push origin feature").Fail("fatal: The current branch feature has no upstream branch.")
			facade := vcs.New(exec, nil, nil)

			_, err := facade.Push(ctx, handle, vcs.PushOptions{Branch: "feature"})
			Expect(err).NotTo(HaveOccurred())
			Expect(exec.Commands()).To(Equal([]string{
				"push origin feature",
				"push --set-upstream origin feature",
			}))
		})

		It("resolves the current branch before setting upstream on a bare push", func() {
			exec.On("push").Times(1).Fail("fatal: The current branch topic has no upstream branch.")
			exec.On("branch --show-current").Return("topic\n")
			facade := vcs.New(exec, nil, nil)

			_, err := facade.Push(ctx, handle, vcs.PushOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(exec.Commands()).To(Equal([]string{
				"push",
				"branch --show-current",
				"push --set-upstream origin topic",
			}))
		})

		It("does not retry other push failures", func() {
			exec.On("push").Fail(" ! [rejected]        main -> main (fetch first)")
			facade := vcs.New(exec, nil, nil)

			_, err := facade.Push(ctx, handle, vcs.PushOptions{Branch: "main"})
			Expect(git.IsKind(err, git.KindRejected)).To(BeTrue())
			Expect(exec.Count("push")).To(Equal(1))
		})
	})

	Context("with a bridge owning the repository", func() {
		var (
			repo *fakeRepo
			b    *fakeBridge
		)

		BeforeEach(func() {
			repo = &fakeRepo{root: "/work/repo", fail: map[string]error{}}
			b = &fakeBridge{}
			b.set(repo)
		})

		It("prefers the bridge and never touches the CLI on success", func() {
			facade := vcs.New(exec, b, nil)

			_, err := facade.Push(ctx, handle, vcs.PushOptions{Branch: "main", SetUpstream: true})
			Expect(err).NotTo(HaveOccurred())
			branch, err := facade.CurrentBranch(ctx, handle)
			Expect(err).NotTo(HaveOccurred())
			Expect(branch).To(Equal("bridge-branch"))

			Expect(exec.Calls()).To(BeEmpty())
			Expect(facade.Trace()).To(Equal([]vcs.Call{
				{Op: "push", Backend: vcs.BackendBridge},
				{Op: "current-branch", Backend: vcs.BackendBridge},
			}))
		})

		It("falls back to the CLI when the bridge fails", func() {
			repo.fail["push"] = errors.New("authentication required")
			facade := vcs.New(exec, b, nil)

			_, err := facade.Push(ctx, handle, vcs.PushOptions{Branch: "main"})
			Expect(err).NotTo(HaveOccurred())
			Expect(exec.Commands()).To(Equal([]string{"push origin main"}))
			Expect(facade.Trace()).To(Equal([]vcs.Call{{Op: "push", Backend: vcs.BackendCLI}}))
		})

		It("surfaces the CLI failure when both backends fail", func() {
			repo.fail["merge"] = bridge.ErrUnsupported
			exec.On("merge --no-edit topic").Fail("CONFLICT (content): Merge conflict in a.txt")
			facade := vcs.New(exec, b, nil)

			err := facade.MergeBranch(ctx, handle, "topic")
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, bridge.ErrUnsupported)).To(BeFalse())
			Expect(git.IsKind(err, git.KindConflict)).To(BeTrue())
		})

		It("re-reads the bridge repository set on every operation", func() {
			b.set()
			facade := vcs.New(exec, b, nil)

			Expect(facade.Fetch(ctx, handle, vcs.FetchOptions{Quiet: true})).To(Succeed())
			b.set(repo)
			Expect(facade.Fetch(ctx, handle, vcs.FetchOptions{Quiet: true})).To(Succeed())

			Expect(b.reads).To(Equal(2))
			Expect(facade.Trace()).To(Equal([]vcs.Call{
				{Op: "fetch", Backend: vcs.BackendCLI},
				{Op: "fetch", Backend: vcs.BackendBridge},
			}))
		})

		It("ignores bridge repositories that do not own the path", func() {
			b.set(&fakeRepo{root: "/work/other"})
			facade := vcs.New(exec, b, nil)

			Expect(facade.Stash(ctx, handle, "wip", true)).To(Succeed())
			Expect(exec.Commands()).To(Equal([]string{"stash push --include-untracked -m wip"}))
		})

		It("always commits through the CLI", func() {
			facade := vcs.New(exec, b, nil)

			Expect(facade.Commit(ctx, handle, "feat: x")).To(Succeed())
			Expect(exec.Commands()).To(Equal([]string{"commit -m feat: x"}))
			Expect(repo.calls).To(BeEmpty())
		})
	})

	Describe("SwitchBranch", func() {
		It("checks out an existing local branch", func() {
			exec.On("rev-parse --verify --quiet refs/heads/dev").Return("abc\n")
			facade := vcs.New(exec, nil, nil)

			Expect(facade.SwitchBranch(ctx, handle, "dev")).To(Succeed())
			Expect(exec.Commands()).To(ContainElement("checkout dev"))
		})

		It("tracks a remote branch when no local branch exists", func() {
			exec.On("rev-parse --verify --quiet refs/heads/dev").Fail("")
			exec.On("rev-parse --verify --quiet refs/remotes/origin/dev").Return("abc\n")
			facade := vcs.New(exec, nil, nil)

			Expect(facade.SwitchBranch(ctx, handle, "dev")).To(Succeed())
			Expect(exec.Commands()).To(ContainElement("checkout -b dev --track origin/dev"))
		})

		It("reports ErrBranchNotFound when neither exists", func() {
			exec.On("rev-parse --verify --quiet").Fail("")
			facade := vcs.New(exec, nil, nil)

			err := facade.SwitchBranch(ctx, handle, "ghost")
			Expect(errors.Is(err, vcs.ErrBranchNotFound)).To(BeTrue())
			Expect(exec.Count("checkout")).To(BeZero())
		})

		It("falls back to the CLI after a bridge checkout failure", func() {
			repo := &fakeRepo{root: "/work/repo", fail: map[string]error{"checkout": errors.New("reference not found")}}
			b := &fakeBridge{}
			b.set(repo)
			exec.On("rev-parse --verify --quiet refs/heads/dev").Fail("")
			exec.On("rev-parse --verify --quiet refs/remotes/origin/dev").Return("abc\n")
			facade := vcs.New(exec, b, nil)

			Expect(facade.SwitchBranch(ctx, handle, "dev")).To(Succeed())
			Expect(repo.calls).To(Equal([]string{"checkout"}))
			Expect(exec.Commands()).To(ContainElement("checkout -b dev --track origin/dev"))
		})
	})

	Describe("Push results", func() {
		It("reports an up-to-date CLI push", func() {
			exec.On("push origin main").Stderr("Everything up-to-date\n")
			facade := vcs.New(exec, nil, nil)

			res, err := facade.Push(ctx, handle, vcs.PushOptions{Branch: "main"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.UpToDate).To(BeTrue())
		})

		It("treats an up-to-date bridge push as success", func() {
			repo := &fakeRepo{root: "/work/repo", fail: map[string]error{"push": bridge.NoErrAlreadyUpToDate}}
			b := &fakeBridge{}
			b.set(repo)
			facade := vcs.New(exec, b, nil)

			res, err := facade.Push(ctx, handle, vcs.PushOptions{Branch: "main"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.UpToDate).To(BeTrue())
			Expect(exec.Calls()).To(BeEmpty())
		})
	})

	Describe("SetRemote", func() {
		It("updates the URL when the remote already exists", func() {
			exec.On("remote add origin").Fail("error: remote origin already exists.")
			facade := vcs.New(exec, nil, nil)

			Expect(facade.SetRemote(ctx, handle, "", "https://example.com/a/b.git")).To(Succeed())
			Expect(exec.Commands()).To(Equal([]string{
				"remote add origin https://example.com/a/b.git",
				"remote set-url origin https://example.com/a/b.git",
			}))
		})
	})

	Describe("Pull", func() {
		It("aborts a rebase left behind by a failed pull", func() {
			gitDir := GinkgoT().TempDir()
			Expect(os.Mkdir(filepath.Join(gitDir, "rebase-merge"), 0o755)).To(Succeed())
			exec.On("pull --rebase --autostash origin main").Fail("CONFLICT (content): Merge conflict in a.txt\nerror: could not apply 1a2b3c4")
			exec.On("rev-parse --absolute-git-dir").Return(gitDir + "\n")
			facade := vcs.New(exec, nil, nil)

			err := facade.Pull(ctx, handle, vcs.PullOptions{Branch: "main", Rebase: true})
			Expect(git.IsKind(err, git.KindConflict)).To(BeTrue())
			Expect(exec.Commands()).To(ContainElement("rebase --abort"))
		})

		It("leaves the repository alone when no rebase is in progress", func() {
			gitDir := GinkgoT().TempDir()
			exec.On("pull --rebase").Fail("fatal: couldn't find remote ref main")
			exec.On("rev-parse --absolute-git-dir").Return(gitDir + "\n")
			facade := vcs.New(exec, nil, nil)

			Expect(facade.Pull(ctx, handle, vcs.PullOptions{Branch: "main", Rebase: true})).NotTo(Succeed())
			Expect(exec.Count("rebase")).To(BeZero())
		})
	})

	Describe("RemoveIndexLock", func() {
		It("deletes the lock file and tolerates a missing one", func() {
			gitDir := GinkgoT().TempDir()
			lock := filepath.Join(gitDir, "index.lock")
			Expect(os.WriteFile(lock, nil, 0o644)).To(Succeed())
			exec.On("rev-parse --absolute-git-dir").Return(gitDir + "\n")
			facade := vcs.New(exec, nil, nil)

			Expect(facade.RemoveIndexLock(ctx, handle)).To(Succeed())
			_, err := os.Stat(lock)
			Expect(os.IsNotExist(err)).To(BeTrue())
			Expect(facade.RemoveIndexLock(ctx, handle)).To(Succeed())
		})

		It("keeps the lock file in dry run", func() {
			gitDir := GinkgoT().TempDir()
			lock := filepath.Join(gitDir, "index.lock")
			Expect(os.WriteFile(lock, nil, 0o644)).To(Succeed())
			exec.On("rev-parse --absolute-git-dir").Return(gitDir + "\n")
			facade := vcs.New(exec, nil, nil).WithDryRun(true)

			Expect(facade.RemoveIndexLock(ctx, handle)).To(Succeed())
			Expect(lock).To(BeAnExistingFile())
		})
	})

	Describe("SetUpstream", func() {
		It("fetches the branch before pointing the upstream at it", func() {
			facade := vcs.New(exec, nil, nil)

			Expect(facade.SetUpstream(ctx, handle, "main")).To(Succeed())
			Expect(exec.Commands()).To(Equal([]string{
				"fetch --quiet origin main",
				"branch --set-upstream-to=origin/main main",
			}))
		})
	})
})
