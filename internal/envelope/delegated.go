package envelope

import (
	"github.com/cxoneflow/cxoneflow-go/internal/eventctx"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
)

// DelegatedScanDetails is the canonical binary payload that gets
// asymmetrically signed before being shipped to a resolver agent (spec
// §3: "Delegated Scan Message"). Field order here is the order it is
// serialized in — changing it changes the signed bytes, so additions must
// append, never reorder.
type DelegatedScanDetails struct {
	CloneURL       string            `json:"clone_url"`
	CommitHash     string            `json:"commit_hash"`
	ScanBranch     string            `json:"scan_branch"`
	ScanTags       map[string]string `json:"scan_tags"`
	FileFilters    string            `json:"file_filters"`
	ProjectID      string            `json:"project_id"`
	SCMHandoff     model.HandoffConfig `json:"scm_handoff"`
	ScannerHandoff model.HandoffConfig `json:"scanner_handoff"`
	EventContext   eventctx.Context  `json:"event_context"`
	Orchestrator   string            `json:"orchestrator_class"`
	Version        string            `json:"version"`

	// FeedbackContext rides along so the issuer's result consumer can
	// dispatch polling/feedback for the delivered scan_id without holding
	// a live reference back to the original webhook event (appended field,
	// does not reorder what's already signed).
	FeedbackContext FeedbackContext `json:"feedback_context"`
}

// Binary returns the canonical binary encoding of the details, the exact
// bytes that get signed and later re-verified (details_signature is a
// signature over this, not over the enclosing envelope).
func (d DelegatedScanDetails) Binary() ([]byte, error) {
	return Encode(Header{MessageType: "DELEGATED_SCAN_DETAILS", SchemaVersion: SchemaVersion}, d)
}

// DelegatedScanMessage is the signed envelope shipped to a resolver agent.
type DelegatedScanMessage struct {
	Header
	Details           DelegatedScanDetails `json:"details"`
	DetailsSignature  []byte               `json:"details_signature"`
	CaptureLogs       bool                 `json:"capture_logs"`
}

// DelegatedScanResultMessage is returned by the agent; DetailsSignature is
// preserved verbatim from the request so the issuer can verify it is
// hearing back about its own workflow.
type DelegatedScanResultMessage struct {
	Header
	Details          DelegatedScanDetails `json:"details"`
	DetailsSignature []byte               `json:"details_signature"`

	ResolverExitCode *int    `json:"resolver_exit_code,omitempty"`
	ScanID           *string `json:"scan_id,omitempty"`
	Logs             []byte  `json:"logs,omitempty"`
}

// IsHardFailure is spec 4.F/§7's ResolverHardFailure: no scan_id means the
// agent never got far enough to submit anything.
func (m DelegatedScanResultMessage) IsHardFailure() bool {
	return m.State == StateFailure && m.ScanID == nil
}

// IsSoftFailure is ResolverSoftFailure: the resolver exited non-zero but a
// scan was still submitted, so polling proceeds.
func (m DelegatedScanResultMessage) IsSoftFailure() bool {
	return m.State == StateFailure && m.ScanID != nil
}
