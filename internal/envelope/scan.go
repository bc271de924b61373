package envelope

import "time"

// ScanAwaitMessage is the self-refreshing poll token described in spec §3.
// Each republish carries a fresh per-message TTL (the AMQP `expiration` on
// the outgoing delivery, set by the publisher, not a field here) while
// DropByTimestamp is the absolute cumulative deadline that never moves.
type ScanAwaitMessage struct {
	Header
	ProjectID       string    `json:"projectid"`
	ScanID          string    `json:"scanid"`
	WorkflowDetails []byte    `json:"workflow_details"`
	DropByTimestamp time.Time `json:"drop_by_timestamp"`
}

// IsExpired reports whether the cumulative polling deadline has passed
// (spec 4.G: "If drop_by < now: drop").
func (m ScanAwaitMessage) IsExpired(now time.Time) bool {
	return now.After(m.DropByTimestamp)
}

// FeedbackMessage carries both FEEDBACK/ANNOTATE terminal states (spec
// §3: "Feedback / Annotation Message").
type FeedbackMessage struct {
	Header
	ProjectID       string  `json:"projectid"`
	ScanID          string  `json:"scanid"`
	WorkflowDetails []byte  `json:"workflow_details"`
	Annotation      *string `json:"annotation,omitempty"`
	IsError         bool    `json:"is_error"`
	ErrorMsg        string  `json:"error_msg,omitempty"`
}
