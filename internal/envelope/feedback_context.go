package envelope

// TypeFeedbackContext tags the opaque WorkflowDetails payload the
// dispatch/orchestrator layer attaches to a ScanAwaitMessage so whichever
// feedback workflow eventually fires has enough to act without re-parsing
// the original webhook event (spec §3: "workflow_details").
const TypeFeedbackContext MessageType = "FEEDBACK_CONTEXT"

// FeedbackContext is the declared shape of ScanAwaitMessage/FeedbackMessage
// WorkflowDetails: everything a PR-decoration or push-SARIF workflow needs
// to act on a terminal scan without holding a live reference back to the
// originating SCM event. Same "declared handoff, not opaque bytes" spirit
// as model.HandoffConfig (spec §9 design note).
type FeedbackContext struct {
	ConfigKey string `json:"config_key"`
	Moniker   string `json:"moniker"`

	RepoSlug string `json:"repo_slug"`
	RepoName string `json:"repo_name"`

	CloneURL   string `json:"clone_url"`
	Branch     string `json:"branch"`
	CommitHash string `json:"commit_hash"`

	PRID *string `json:"pr_id,omitempty"`

	ArtifactsBase string `json:"artifacts_base"`
}

// Binary produces the canonical encoding stored as WorkflowDetails.
func (c FeedbackContext) Binary() ([]byte, error) {
	return Encode(Header{MessageType: TypeFeedbackContext, SchemaVersion: SchemaVersion}, c)
}

// DecodeFeedbackContext parses a WorkflowDetails payload produced by Binary.
func DecodeFeedbackContext(data []byte) (FeedbackContext, error) {
	_, body, err := Decode[FeedbackContext](data, TypeFeedbackContext)
	return body, err
}
