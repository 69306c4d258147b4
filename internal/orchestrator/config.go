package orchestrator

// Config captures the runtime controls the orchestrator needs.
type Config struct {
	// DefaultBranch replaces empty, placeholder or invalid payload branches.
	DefaultBranch string
	// GitHubOrg owns repositories created for repo_mode "new". Empty means
	// the authenticated user.
	GitHubOrg string
	DryRun    bool
}
