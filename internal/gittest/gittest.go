// Package gittest builds throwaway git repositories for tests that drive a
// real git binary.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Available reports whether a git binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// Skip skips the test when git is missing.
func Skip(t testing.TB) {
	t.Helper()
	if !Available() {
		t.Skip("git binary not available")
	}
}

// Run executes git in dir and fails the test on error.
func Run(t testing.TB, dir string, args ...string) string {
	t.Helper()
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
	}
	cmdArgs := args
	if dir != "" {
		cmdArgs = append([]string{"-C", dir}, args...)
	}
	cmd := exec.Command("git", cmdArgs...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(cmdArgs, " "), err, string(output))
	}
	return strings.TrimSpace(string(output))
}

// Init creates a repository at dir with a local identity configured.
func Init(t testing.TB, dir string) string {
	t.Helper()
	Run(t, dir, "init", "--quiet")
	Run(t, dir, "config", "user.name", "Test User")
	Run(t, dir, "config", "user.email", "test@example.com")
	Run(t, dir, "config", "commit.gpgsign", "false")
	return dir
}

// InitBare creates a bare repository at dir.
func InitBare(t testing.TB, dir string) string {
	t.Helper()
	Run(t, "", "init", "--bare", "--quiet", dir)
	return dir
}

// Commit writes name with contents and commits it.
func Commit(t testing.TB, dir, name, contents, message string) {
	t.Helper()
	WriteFile(t, filepath.Join(dir, name), contents)
	Run(t, dir, "add", name)
	Run(t, dir, "commit", "--quiet", "-m", message)
}

// WriteFile writes contents to path, creating parent directories.
func WriteFile(t testing.TB, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write file failed: %v", err)
	}
}

// ClonePair seeds a repository on branch main, pushes it to a bare remote
// and returns (work, remote).
func ClonePair(t testing.TB, root string) (string, string) {
	t.Helper()
	work := Init(t, filepath.Join(root, "work"))
	remote := InitBare(t, filepath.Join(root, "remote.git"))
	Run(t, remote, "symbolic-ref", "HEAD", "refs/heads/main")
	Commit(t, work, "README.md", "initial\n", "initial commit")
	Run(t, work, "branch", "-M", "main")
	Run(t, work, "remote", "add", "origin", remote)
	Run(t, work, "push", "--quiet", "-u", "origin", "main")
	return work, remote
}
