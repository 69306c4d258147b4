// Package prompt is the interactive terminal side of remediation.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/mattn/go-isatty"

	"github.com/rancher/fast-push/internal/diagnose"
	"github.com/rancher/fast-push/internal/remediate"
)

// ErrInterrupted is returned when the user presses Ctrl-C at a prompt.
var ErrInterrupted = errors.New("prompt interrupted")

// Interactive reports whether both stdin and stderr are terminals, which is
// where prompts are read from and drawn to.
func Interactive() bool {
	return isTerminal(os.Stdin) && isTerminal(os.Stderr)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Survey asks through survey prompts. Prompts are drawn on stderr so that
// stdout carries only the result.
type Survey struct {
	In  terminal.FileReader
	Out terminal.FileWriter
	Err io.Writer
}

// NewSurvey returns a Survey bound to the process terminal.
func NewSurvey() *Survey {
	return &Survey{In: os.Stdin, Out: os.Stderr, Err: os.Stderr}
}

func (s *Survey) Choose(ctx context.Context, issue diagnose.Issue, choices []remediate.Choice) (remediate.Choice, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	options := make([]string, len(choices))
	for i, c := range choices {
		options[i] = string(c)
	}

	var answer string
	q := &survey.Select{
		Message: message(issue),
		Options: options,
		Help:    issue.Resolution,
	}
	if err := survey.AskOne(q, &answer, s.stdio()); err != nil {
		return "", translate(err)
	}
	return remediate.Choice(answer), nil
}

func (s *Survey) Input(ctx context.Context, issue diagnose.Issue, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var answer string
	q := &survey.Input{
		Message: label + ":",
		Help:    issue.Resolution,
	}
	if err := survey.AskOne(q, &answer, s.stdio(), survey.WithValidator(survey.Required)); err != nil {
		return "", translate(err)
	}
	return strings.TrimSpace(answer), nil
}

func (s *Survey) stdio() survey.AskOpt {
	return survey.WithStdio(s.In, s.Out, s.Err)
}

func message(issue diagnose.Issue) string {
	if issue.Description == "" {
		return issue.Title
	}
	return fmt.Sprintf("%s: %s", issue.Title, issue.Description)
}

func translate(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return ErrInterrupted
	}
	return err
}
