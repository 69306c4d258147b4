// Package gitfake provides a scripted git.Executor for tests. Rules match
// on the leading words of the command line; every invocation is recorded.
package gitfake

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rancher/fast-push/internal/git"
)

// Call is one recorded invocation.
type Call struct {
	Dir  string
	Args []string
}

func (c Call) String() string {
	return strings.Join(c.Args, " ")
}

// Rule scripts the response for commands starting with a prefix.
type Rule struct {
	prefix string
	raw    string
	stderr string
	err    error
	fail   bool
	times  int
	used   int
	hook   func()
}

// Return sets the standard output returned on a match.
func (r *Rule) Return(raw string) *Rule {
	r.raw = raw
	return r
}

// Stderr sets the standard error reported alongside a successful result.
func (r *Rule) Stderr(stderr string) *Rule {
	r.stderr = stderr
	return r
}

// Fail makes the rule fail with a GitError built from stderr.
func (r *Rule) Fail(stderr string) *Rule {
	r.fail = true
	r.stderr = stderr
	return r
}

// Error makes the rule fail with err verbatim.
func (r *Rule) Error(err error) *Rule {
	r.fail = true
	r.err = err
	return r
}

// Times limits how often the rule matches before later rules are consulted.
func (r *Rule) Times(n int) *Rule {
	r.times = n
	return r
}

// Then runs fn every time the rule matches, before the response is returned.
func (r *Rule) Then(fn func()) *Rule {
	r.hook = fn
	return r
}

// Executor is a scripted git.Executor. Commands without a matching rule
// succeed with empty output.
type Executor struct {
	mu    sync.Mutex
	rules []*Rule
	calls []Call
}

// New returns an empty Executor.
func New() *Executor {
	return &Executor{}
}

// On registers a rule for commands whose joined argument list starts with
// prefix. Earlier rules take precedence.
func (e *Executor) On(prefix string) *Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := &Rule{prefix: prefix}
	e.rules = append(e.rules, r)
	return r
}

func (e *Executor) Run(ctx context.Context, dir string, args ...string) (git.Result, error) {
	if err := ctx.Err(); err != nil {
		return git.Result{}, err
	}

	e.mu.Lock()
	e.calls = append(e.calls, Call{Dir: dir, Args: append([]string(nil), args...)})
	line := strings.Join(args, " ")
	var matched *Rule
	for _, r := range e.rules {
		if r.times > 0 && r.used >= r.times {
			continue
		}
		if line == r.prefix || strings.HasPrefix(line, r.prefix+" ") {
			matched = r
			r.used++
			break
		}
	}
	e.mu.Unlock()

	if matched == nil {
		return git.Result{}, nil
	}
	if matched.hook != nil {
		matched.hook()
	}
	if matched.fail {
		err := matched.err
		if err == nil {
			err = git.NewGitError(args, dir, "", matched.stderr, errors.New("exit status 1"))
		}
		return git.Result{}, err
	}
	return git.Result{Stdout: strings.TrimSpace(matched.raw), Raw: matched.raw, Stderr: matched.stderr}, nil
}

// Calls returns a copy of every recorded invocation.
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Commands returns the recorded command lines.
func (e *Executor) Commands() []string {
	calls := e.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Count reports how many recorded commands start with prefix.
func (e *Executor) Count(prefix string) int {
	n := 0
	for _, cmd := range e.Commands() {
		if cmd == prefix || strings.HasPrefix(cmd, prefix+" ") {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls but keeps the rules.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}
