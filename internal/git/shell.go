package git

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxOutput  = 10 << 20
	defaultRetries    = 2
	defaultRetryDelay = time.Second
)

// ShellExecutor shells out to the system git binary. Arguments are always
// passed as an explicit vector; nothing is interpreted by a shell.
type ShellExecutor struct {
	// Git is the git binary to execute. Defaults to "git" when empty.
	Git string

	// Timeout bounds every single attempt. When zero, a default of 60 seconds
	// is used. An attempt that exceeds it is killed and reported as transient.
	Timeout time.Duration

	// MaxOutput caps the bytes buffered per stream. When zero, 10MB is used.
	// Exceeding it fails the command with ErrOutputLimit.
	MaxOutput int64

	// Retries controls how many additional attempts are made for transient
	// failures. When zero, a default of 2 retries is used; negative disables.
	Retries int

	// RetryDelay controls the initial backoff delay between retries. When
	// zero, a default of 1 second is used. Backoff doubles per attempt.
	RetryDelay time.Duration

	// Env is appended to the inherited environment so host-managed
	// credential helpers keep working.
	Env []string

	Logger *slog.Logger
}

// NewShellExecutor returns an Executor backed by system git commands.
func NewShellExecutor(logger *slog.Logger) *ShellExecutor {
	return &ShellExecutor{Logger: logger}
}

func (e *ShellExecutor) gitBinary() string {
	if e.Git == "" {
		return "git"
	}
	return e.Git
}

func (e *ShellExecutor) timeoutValue() time.Duration {
	if e.Timeout <= 0 {
		return defaultTimeout
	}
	return e.Timeout
}

func (e *ShellExecutor) maxOutputValue() int64 {
	if e.MaxOutput <= 0 {
		return defaultMaxOutput
	}
	return e.MaxOutput
}

func (e *ShellExecutor) retriesValue() int {
	if e.Retries < 0 {
		return 0
	}
	if e.Retries == 0 {
		return defaultRetries
	}
	return e.Retries
}

func (e *ShellExecutor) retryDelayValue() time.Duration {
	if e.RetryDelay <= 0 {
		return defaultRetryDelay
	}
	return e.RetryDelay
}

// Run executes git with args in dir. Only transient failures are retried;
// semantic git errors (rejections, conflicts, bad names) return immediately.
func (e *ShellExecutor) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	retries := e.retriesValue()
	delay := e.retryDelayValue()
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		res, err := e.runOnce(ctx, dir, args)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if Classify(err) != KindTransient || attempt == retries {
			break
		}

		if e.Logger != nil {
			e.Logger.Debug("retrying transient git failure", "args", strings.Join(args, " "), "attempt", attempt+1, "error", err)
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return Result{}, lastErr
}

func (e *ShellExecutor) runOnce(ctx context.Context, dir string, args []string) (Result, error) {
	timeout := e.timeoutValue()
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(e.gitBinary(), args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), e.Env...)
	setProcessGroup(cmd)

	limit := e.maxOutputValue()
	stdout := &limitedBuffer{limit: limit}
	stderr := &limitedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if e.Logger != nil {
		e.Logger.Debug("running git", "dir", dir, "args", strings.Join(args, " "))
	}

	if err := cmd.Start(); err != nil {
		return Result{}, NewGitError(args, dir, "", "", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-attemptCtx.Done():
		terminateProcessGroup(cmd)
		<-done
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		gitErr := NewGitError(args, dir, stdout.String(), stderr.String(),
			fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded))
		gitErr.Kind = KindTransient
		return Result{}, gitErr
	case err := <-done:
		if stdout.overflow || stderr.overflow {
			gitErr := NewGitError(args, dir, "", "", fmt.Errorf("%w (%d bytes)", ErrOutputLimit, limit))
			gitErr.Kind = KindFatal
			return Result{}, gitErr
		}
		if err != nil {
			return Result{}, NewGitError(args, dir, stdout.String(), stderr.String(), err)
		}
	}

	return newResult(stdout.String(), stderr.String()), nil
}

// limitedBuffer stores up to limit bytes and records whether more arrived.
// Writes never fail so the child process is not killed by a broken pipe.
type limitedBuffer struct {
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.overflow {
		return len(p), nil
	}
	remaining := b.limit - int64(b.buf.Len())
	if int64(len(p)) > remaining {
		b.overflow = true
		b.buf.Reset()
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

func primaryGitCommand(args []string) (string, []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			if i+1 < len(args) {
				return args[i+1], args[i+2:]
			}
			return "", nil
		}
		if strings.HasPrefix(arg, "-") {
			switch arg {
			case "-C", "--git-dir", "--work-tree", "-c":
				i++
			}
			continue
		}
		return arg, args[i+1:]
	}
	return "", nil
}
