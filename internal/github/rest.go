package gh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	github "github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

const (
	defaultUserAgent  = "rancher-fast-push"
	defaultRetries    = 3
	defaultRetryDelay = time.Second
)

// NewRESTFactory returns a GitHub client factory backed by the go-github REST client. When
// base and upload URLs are provided, the factory targets a GitHub Enterprise instance.
func NewRESTFactory(baseURL, uploadURL string) Factory {
	return &restFactory{
		userAgent:  defaultUserAgent,
		baseURL:    strings.TrimSpace(baseURL),
		uploadURL:  strings.TrimSpace(uploadURL),
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
	}
}

type restFactory struct {
	userAgent  string
	baseURL    string
	uploadURL  string
	retries    int
	retryDelay time.Duration
}

type restClient struct {
	client     *github.Client
	retries    int
	retryDelay time.Duration
}

func (f *restFactory) New(ctx context.Context, token string) (Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	if f.baseURL == "" && f.uploadURL != "" {
		return nil, fmt.Errorf("github upload url cannot be set without base url")
	}

	var ghClient *github.Client
	if f.baseURL != "" {
		baseURLNormalized, err := normalizeGitHubURL(f.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}

		uploadURL := f.uploadURL
		if uploadURL == "" {
			return nil, fmt.Errorf("github upload url must be provided when base url is set")
		}

		uploadURLNormalized, err := normalizeGitHubURL(uploadURL)
		if err != nil {
			return nil, fmt.Errorf("parse github upload url: %w", err)
		}

		ghClient, err = github.NewClient(tc).WithEnterpriseURLs(baseURLNormalized, uploadURLNormalized)
		if err != nil {
			return nil, fmt.Errorf("construct enterprise github client: %w", err)
		}
	} else {
		ghClient = github.NewClient(tc)
	}

	if f.userAgent != "" {
		ghClient.UserAgent = f.userAgent
	}

	return &restClient{client: ghClient, retries: f.retries, retryDelay: f.retryDelay}, nil
}

func normalizeGitHubURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url cannot be empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if parsed.Scheme == "" {
		return "", fmt.Errorf("url must include scheme (e.g. https://)")
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("url must include host")
	}

	if parsed.Path == "" {
		parsed.Path = "/"
	} else if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""

	return parsed.String(), nil
}

// do runs fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. The delay doubles after every attempt.
func (c *restClient) do(ctx context.Context, fn func() (*github.Response, error)) (*github.Response, error) {
	delay := c.retryDelay
	for attempt := 0; ; attempt++ {
		resp, err := fn()
		err = classifyGitHubError(err)
		if err == nil || !IsRetryable(err) || attempt >= c.retries {
			return resp, err
		}

		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (c *restClient) AuthenticatedLogin(ctx context.Context) (string, error) {
	var user *github.User
	_, err := c.do(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		user, resp, err = c.client.Users.Get(ctx, "")
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("get authenticated user: %w", err)
	}
	return user.GetLogin(), nil
}

func (c *restClient) CreateRepository(ctx context.Context, opts CreateRepositoryOptions) (Repository, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return Repository{}, fmt.Errorf("repository name is required")
	}

	input := &github.Repository{
		Name:    github.String(name),
		Private: github.Bool(opts.Private),
	}
	if opts.Description != "" {
		input.Description = github.String(opts.Description)
	}

	var created *github.Repository
	_, err := c.do(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		created, resp, err = c.client.Repositories.Create(ctx, strings.TrimSpace(opts.Org), input)
		return resp, err
	})
	if err != nil {
		if isAlreadyExists(err) {
			return Repository{}, fmt.Errorf("create repository %q: %w", name, ErrRepositoryExists)
		}
		return Repository{}, fmt.Errorf("create repository %q: %w", name, err)
	}

	return toRepository(created), nil
}

func (c *restClient) GetRepository(ctx context.Context, owner, name string) (Repository, error) {
	var repo *github.Repository
	resp, err := c.do(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		repo, resp, err = c.client.Repositories.Get(ctx, owner, name)
		return resp, err
	})
	if err != nil {
		if isNotFound(resp, err) {
			return Repository{}, fmt.Errorf("get repository %s/%s: %w", owner, name, ErrRepositoryNotFound)
		}
		return Repository{}, fmt.Errorf("get repository %s/%s: %w", owner, name, err)
	}

	return toRepository(repo), nil
}

func toRepository(r *github.Repository) Repository {
	return Repository{
		Owner:    r.GetOwner().GetLogin(),
		Name:     r.GetName(),
		FullName: r.GetFullName(),
		CloneURL: r.GetCloneURL(),
		SSHURL:   r.GetSSHURL(),
		HTMLURL:  r.GetHTMLURL(),
		Private:  r.GetPrivate(),
	}
}

// isAlreadyExists matches the validation failure GitHub returns when the
// owner already has a repository with the requested name.
func isAlreadyExists(err error) bool {
	var respErr *github.ErrorResponse
	if !errors.As(err, &respErr) || respErr.Response == nil {
		return false
	}
	if respErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	if strings.Contains(strings.ToLower(respErr.Message), "already exists") {
		return true
	}
	for _, e := range respErr.Errors {
		if strings.Contains(strings.ToLower(e.Message), "already exists") {
			return true
		}
	}
	return false
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var githubErr *github.ErrorResponse
	if errors.As(err, &githubErr) {
		if githubErr.Response != nil && githubErr.Response.StatusCode == http.StatusNotFound {
			return true
		}
	}
	return false
}

func classifyGitHubError(err error) error {
	if err == nil {
		return nil
	}
	if isRetryableGitHubError(err) {
		return &retryableError{err: err}
	}
	return err
}

func isRetryableGitHubError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		return true
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		if respErr.Response != nil {
			code := respErr.Response.StatusCode
			if code == http.StatusTooManyRequests || (code >= 500 && code <= 599) {
				return true
			}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	return false
}
