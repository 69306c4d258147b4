package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rancher/fast-push/internal/orchestrator"
	"github.com/rancher/fast-push/internal/remediate"
)

const (
	statusPushed    = "pushed"
	statusUpToDate  = "up-to-date"
	statusCancelled = "cancelled"
	statusFailed    = "failed"
)

// outcome is what a run reports to the CI step summary and outputs.
type outcome struct {
	Repository string
	Branch     string
	Result     string
	Err        error
}

func (o outcome) status() string {
	switch {
	case o.Err == nil && strings.HasSuffix(o.Result, orchestrator.ResultNothingToPush):
		return statusUpToDate
	case o.Err == nil:
		return statusPushed
	case errors.Is(o.Err, remediate.ErrAborted):
		return statusCancelled
	default:
		return statusFailed
	}
}

func (o outcome) failedState() string {
	var orchErr *orchestrator.Error
	if errors.As(o.Err, &orchErr) {
		return string(orchErr.State)
	}
	return ""
}

func (r *Runner) writeStepSummary(out outcome) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_STEP_SUMMARY"))
	if path == "" {
		return nil
	}

	// Try to ensure directory exists, but don't fail if we can't create it
	// (GitHub Actions should have already set this up)
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not create summary directory: %v\n", mkErr)
		}
	}

	var builder strings.Builder
	builder.WriteString("## Fast push summary\n\n")
	builder.WriteString(renderOutcome(out))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step summary: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close step summary file: %v\n", closeErr)
		}
	}()

	if _, err := file.WriteString(builder.String()); err != nil {
		return fmt.Errorf("write step summary: %w", err)
	}

	return nil
}

func (r *Runner) writeGitHubOutputs(out outcome) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not create outputs directory: %v\n", mkErr)
		}
	}

	summary := outputSummary{
		Repository:  out.Repository,
		Branch:      out.Branch,
		Status:      out.status(),
		Result:      out.Result,
		FailedState: out.failedState(),
	}
	if out.Err != nil {
		summary.Error = out.Err.Error()
	}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run_summary: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open github output: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close github output file: %v\n", closeErr)
		}
	}()

	if err := writeMultilineOutput(file, "status", summary.Status); err != nil {
		return err
	}

	if err := writeMultilineOutput(file, "branch", out.Branch); err != nil {
		return err
	}

	if err := writeMultilineOutput(file, "run_summary", string(summaryJSON)); err != nil {
		return err
	}

	return nil
}

func renderOutcome(out outcome) string {
	var builder strings.Builder

	builder.WriteString("| Repository | Branch | Status | Details |\n")
	builder.WriteString("| --- | --- | --- | --- |\n")

	details := out.Result
	if out.Err != nil {
		details = out.Err.Error()
	}

	builder.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
		sanitizeMarkdownCell(out.Repository),
		sanitizeMarkdownCell(out.Branch),
		sanitizeMarkdownCell(out.status()),
		sanitizeMarkdownCell(details),
	))

	return builder.String()
}

type outputSummary struct {
	Repository  string `json:"repository"`
	Branch      string `json:"branch"`
	Status      string `json:"status"`
	Result      string `json:"result,omitempty"`
	FailedState string `json:"failed_state,omitempty"`
	Error       string `json:"error,omitempty"`
}

func writeMultilineOutput(file *os.File, key, value string) error {
	if _, err := fmt.Fprintf(file, "%s<<EOF\n%s\nEOF\n", key, value); err != nil {
		return fmt.Errorf("write output %s: %w", key, err)
	}
	return nil
}

func sanitizeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", "<br>")
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}
