// Package envelope implements the typed, versioned, self-describing
// message envelope shared by every broker message (spec component 4.B):
// canonical binary encoding, content signatures, and round-trip decode.
package envelope

import "errors"

// MessageType tags the concrete payload carried by a Header so a consumer
// can decode without an external schema.
type MessageType string

const (
	TypeDelegatedScan       MessageType = "DELEGATED_SCAN"
	TypeDelegatedScanResult MessageType = "DELEGATED_SCAN_RESULT"
	TypeScanAwait           MessageType = "SCAN_AWAIT"
	TypeScanFeedback        MessageType = "SCAN_FEEDBACK"
	TypeKickoffRequest      MessageType = "KICKOFF_REQUEST"
)

// SchemaVersion is bumped whenever a message body's shape changes
// incompatibly. Decoders do not reject a higher/lower version on their
// own; callers needing strict version gating check it explicitly.
const SchemaVersion uint16 = 1

// Workflow identifies which of push/PR/kickoff originated a message.
type Workflow string

const (
	WorkflowPush    Workflow = "PUSH"
	WorkflowPR      Workflow = "PR"
	WorkflowKickoff Workflow = "KICKOFF"
)

// State is the lifecycle stage a message represents.
type State string

const (
	StateAwait    State = "AWAIT"
	StatePoll     State = "POLL"
	StateFeedback State = "FEEDBACK"
	StateAnnotate State = "ANNOTATE"
	StateDone     State = "DONE"
	StateFailure  State = "FAILURE"
)

// Header carries the fields common to every envelope: message_type,
// schema_version, moniker, workflow, state, correlation_id.
type Header struct {
	MessageType   MessageType `json:"message_type"`
	SchemaVersion uint16      `json:"schema_version"`
	Moniker       string      `json:"moniker"`
	Workflow      Workflow    `json:"workflow"`
	State         State       `json:"state"`
	CorrelationID string      `json:"correlation_id"`
}

// ErrMessageTypeMismatch is returned by Decode when a binary frame's
// message_type does not match the type the caller expected.
var ErrMessageTypeMismatch = errors.New("envelope: MESSAGE_TYPE_MISMATCH")
