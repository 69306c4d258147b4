package payload_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/fast-push/internal/payload"
)

var _ = Describe("Payload", func() {
	Describe("Parse", func() {
		It("decodes every field", func() {
			p, err := payload.Parse(strings.NewReader(`{
				"repo_mode": "new",
				"remote_url": "https://example.com/a/b.git",
				"new_repo_name": "b",
				"new_repo_private": true,
				"branch": "feature/x",
				"commit_message": "x"
			}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(p).To(Equal(payload.Payload{
				RepoMode:       payload.RepoModeNew,
				RemoteURL:      "https://example.com/a/b.git",
				NewRepoName:    "b",
				NewRepoPrivate: true,
				Branch:         "feature/x",
				CommitMessage:  "x",
			}))
		})

		It("rejects unknown keys", func() {
			_, err := payload.Parse(strings.NewReader(`{"repo_mode": "existing", "brnach": "main"}`))
			Expect(err).To(MatchError(ContainSubstring("decode payload")))
		})

		It("reads payload files", func() {
			path := filepath.Join(GinkgoT().TempDir(), "payload.json")
			Expect(os.WriteFile(path, []byte(`{"branch": "dev", "commit_message": "m"}`), 0o600)).To(Succeed())

			p, err := payload.ParseFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Branch).To(Equal("dev"))
		})

		It("reports missing files", func() {
			_, err := payload.ParseFile(filepath.Join(GinkgoT().TempDir(), "missing.json"))
			Expect(err).To(MatchError(ContainSubstring("open payload file")))
		})
	})

	Describe("Normalize", func() {
		It("fills defaults for an empty payload", func() {
			p, err := payload.Payload{}.Normalize("main")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.RepoMode).To(Equal(payload.RepoModeExisting))
			Expect(p.Branch).To(Equal("main"))
			Expect(p.BranchNormalized).To(BeFalse())
			Expect(p.CommitMessage).To(Equal(payload.DefaultCommitMessage))
		})

		It("keeps valid branches after trimming refs/heads", func() {
			p, err := payload.Payload{Branch: " refs/heads/release/v1.2/ ", CommitMessage: " fix "}.Normalize("main")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Branch).To(Equal("release/v1.2"))
			Expect(p.BranchNormalized).To(BeFalse())
			Expect(p.CommitMessage).To(Equal("fix"))
		})

		DescribeTable("replaces unusable branches with the default",
			func(branch string) {
				p, err := payload.Payload{Branch: branch}.Normalize("trunk")
				Expect(err).NotTo(HaveOccurred())
				Expect(p.Branch).To(Equal("trunk"))
				Expect(p.BranchNormalized).To(BeTrue())
			},
			Entry("angle placeholder", "<branch>"),
			Entry("template placeholder", "${BRANCH}"),
			Entry("word placeholder", "your-branch"),
			Entry("undefined", "undefined"),
			Entry("whitespace", "my branch"),
			Entry("double dot", "a..b"),
			Entry("forbidden characters", "feat~1"),
			Entry("lock suffix", "topic.lock"),
			Entry("leading dash", "-rf"),
			Entry("HEAD", "HEAD"),
		)

		It("falls back to main when the default itself is invalid", func() {
			p, err := payload.Payload{Branch: "<branch>"}.Normalize("bad name")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Branch).To(Equal(payload.DefaultBranch))
		})

		It("requires a repository name for new repositories", func() {
			_, err := payload.Payload{RepoMode: "new"}.Normalize("main")
			Expect(err).To(MatchError(ContainSubstring("new_repo_name is required")))

			_, err = payload.Payload{RepoMode: "NEW", NewRepoName: "a/b"}.Normalize("main")
			Expect(err).To(MatchError(ContainSubstring("new_repo_name may only contain")))

			p, err := payload.Payload{RepoMode: " New ", NewRepoName: " tool.go "}.Normalize("main")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.RepoMode).To(Equal(payload.RepoModeNew))
			Expect(p.NewRepoName).To(Equal("tool.go"))
		})

		It("rejects unknown modes and malformed remote URLs", func() {
			_, err := payload.Payload{RepoMode: "fork"}.Normalize("main")
			Expect(err).To(MatchError(ContainSubstring(`got "fork"`)))

			_, err = payload.Payload{RemoteURL: "https://example.com/a b.git"}.Normalize("main")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ValidBranchName", func() {
		It("accepts common branch shapes", func() {
			for _, b := range []string{"main", "feature/x", "release-1.2", "user_1/fix.2"} {
				Expect(payload.ValidBranchName(b)).To(BeTrue(), b)
			}
		})

		It("rejects git-illegal names", func() {
			for _, b := range []string{"", "a//b", "a/.b", "trailing.", ".hidden", "a@{1}", "a:b"} {
				Expect(payload.ValidBranchName(b)).To(BeFalse(), b)
			}
		})
	})
})
