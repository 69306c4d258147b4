package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rancher/fast-push/internal/payload"
)

const (
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultGitTimeout   = 60 * time.Second
	defaultGitMaxOutput = 10 << 20
	defaultGitRetries   = 2
)

var supportedFormats = map[string]struct{}{"text": {}, "json": {}}

// Config captures runtime options sourced from FAST_PUSH_* environment variables.
// Command line flags are applied on top before Validate runs.
type Config struct {
	GitHubToken     string
	GitHubBaseURL   string
	GitHubUploadURL string
	GitHubOrg       string
	DryRun          bool
	Verbose         bool
	LogLevel        string
	LogFormat       string
	LogFile         string
	DefaultBranch   string
	GitTimeout      time.Duration
	GitMaxOutput    int64
	GitRetries      int
	DisableBridge   bool
	AssumeYes       bool
}

// LoadConfig reads the environment, applies defaults, and performs validation.
func LoadConfig() (Config, error) {
	cfg := Config{
		LogLevel:      strings.ToLower(envOrDefault("FAST_PUSH_LOG_LEVEL", defaultLogLevel)),
		LogFormat:     strings.ToLower(envOrDefault("FAST_PUSH_LOG_FORMAT", defaultLogFormat)),
		LogFile:       strings.TrimSpace(os.Getenv("FAST_PUSH_LOG_FILE")),
		DefaultBranch: envOrDefault("FAST_PUSH_DEFAULT_BRANCH", payload.DefaultBranch),
		GitHubOrg:     strings.TrimSpace(os.Getenv("FAST_PUSH_GITHUB_ORG")),
		GitTimeout:    defaultGitTimeout,
		GitMaxOutput:  defaultGitMaxOutput,
		GitRetries:    defaultGitRetries,
	}

	cfg.GitHubToken = strings.TrimSpace(os.Getenv("FAST_PUSH_GITHUB_TOKEN"))
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	}

	cfg.GitHubBaseURL = strings.TrimSpace(os.Getenv("FAST_PUSH_GITHUB_BASE_URL"))
	cfg.GitHubUploadURL = strings.TrimSpace(os.Getenv("FAST_PUSH_GITHUB_UPLOAD_URL"))

	bools := []struct {
		key string
		dst *bool
	}{
		{"FAST_PUSH_DRY_RUN", &cfg.DryRun},
		{"FAST_PUSH_VERBOSE", &cfg.Verbose},
		{"FAST_PUSH_DISABLE_BRIDGE", &cfg.DisableBridge},
		{"FAST_PUSH_ASSUME_YES", &cfg.AssumeYes},
	}
	for _, b := range bools {
		raw := strings.TrimSpace(os.Getenv(b.key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", b.key, err)
		}
		*b.dst = v
	}

	if raw := strings.TrimSpace(os.Getenv("FAST_PUSH_GIT_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse FAST_PUSH_GIT_TIMEOUT: %w", err)
		}
		cfg.GitTimeout = d
	}

	if raw := strings.TrimSpace(os.Getenv("FAST_PUSH_GIT_MAX_OUTPUT")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse FAST_PUSH_GIT_MAX_OUTPUT: %w", err)
		}
		cfg.GitMaxOutput = n
	}

	if raw := strings.TrimSpace(os.Getenv("FAST_PUSH_GIT_RETRIES")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse FAST_PUSH_GIT_RETRIES: %w", err)
		}
		cfg.GitRetries = n
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fills empty fields with defaults and rejects inconsistent settings.
// A GitHub token is not required here; only runs that create a repository need one.
func (c *Config) Validate() error {
	if (c.GitHubBaseURL == "") != (c.GitHubUploadURL == "") {
		return fmt.Errorf("FAST_PUSH_GITHUB_BASE_URL and FAST_PUSH_GITHUB_UPLOAD_URL must both be set for GitHub Enterprise")
	}

	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}

	if _, ok := supportedFormats[c.LogFormat]; !ok {
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.DefaultBranch == "" {
		c.DefaultBranch = payload.DefaultBranch
	}

	if !payload.ValidBranchName(c.DefaultBranch) {
		return fmt.Errorf("default branch %q is not a valid branch name", c.DefaultBranch)
	}

	if c.GitTimeout < 0 {
		return fmt.Errorf("git timeout cannot be negative, got %s", c.GitTimeout)
	}

	if c.GitMaxOutput < 0 {
		return fmt.Errorf("git max output cannot be negative, got %d", c.GitMaxOutput)
	}

	if c.Verbose {
		c.LogLevel = "debug"
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
