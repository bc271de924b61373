// Package model holds the data types shared across components: the
// Normalized Scan Request, Project Config, and the declared "handoff
// config" that replaces transporting opaque serialized service objects
// across process boundaries (spec §9 design note).
package model

// ConfigKey identifies which SCM variant produced a request.
type ConfigKey string

const (
	ConfigKeyBBDC ConfigKey = "bbdc"
	ConfigKeyADOE ConfigKey = "adoe"
	ConfigKeyGH   ConfigKey = "gh"
	ConfigKeyGL   ConfigKey = "gl"
)

// Workflow mirrors envelope.Workflow without importing it, keeping model
// dependency-free of the broker-facing packages.
type Workflow string

const (
	WorkflowPush    Workflow = "PUSH"
	WorkflowPR      Workflow = "PR"
	WorkflowKickoff Workflow = "KICKOFF"
)

// ScanRequest is the Normalized Scan Request (spec §3), produced by the
// orchestrator front end from a parsed SCM event.
type ScanRequest struct {
	ConfigKey ConfigKey `json:"config_key"`

	// CloneURLs is ordered by protocol preference (e.g. ssh before https).
	CloneURLs []string `json:"clone_urls"`

	SourceBranch string `json:"source_branch"`
	SourceHash   string `json:"source_hash"`
	TargetBranch string `json:"target_branch"`
	TargetHash   string `json:"target_hash"`

	RepoOrganization string `json:"repo_organization"`
	RepoProjectKey   string `json:"repo_project_key"`
	RepoSlug         string `json:"repo_slug"`
	RepoName         string `json:"repo_name"`

	PRID     *string `json:"pr_id,omitempty"`
	PRState  *string `json:"pr_state,omitempty"`
	PRStatus *string `json:"pr_status,omitempty"`

	ProtectedBranches map[string]struct{} `json:"protected_branches"`

	Workflow Workflow          `json:"workflow"`
	ScanTags map[string]string `json:"scan_tags"`
}

// IsProtectedTarget reports whether TargetBranch is in ProtectedBranches —
// spec invariant 8.3: a scan is never submitted otherwise.
func (r ScanRequest) IsProtectedTarget() bool {
	_, ok := r.ProtectedBranches[r.TargetBranch]
	return ok
}

// CloneURL returns the first (most preferred) clone URL, or "" if none.
func (r ScanRequest) CloneURL() string {
	if len(r.CloneURLs) == 0 {
		return ""
	}
	return r.CloneURLs[0]
}
