package envelope

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		MessageType:   TypeScanAwait,
		SchemaVersion: SchemaVersion,
		Moniker:       "svc-a",
		Workflow:      WorkflowPush,
		State:         StateAwait,
		CorrelationID: "cor-1",
	}
	body := ScanAwaitMessage{
		Header:          h,
		ProjectID:       "proj-1",
		ScanID:          "scan-1",
		DropByTimestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	raw, err := Encode(h, body)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decodedHeader, decoded, err := Decode[ScanAwaitMessage](raw, TypeScanAwait)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decodedHeader.CorrelationID != h.CorrelationID {
		t.Fatalf("correlation id mismatch: got %q", decodedHeader.CorrelationID)
	}
	if decoded.ScanID != body.ScanID || decoded.ProjectID != body.ProjectID {
		t.Fatalf("round trip mismatch: got %+v", decoded)
	}
	if !decoded.DropByTimestamp.Equal(body.DropByTimestamp) {
		t.Fatalf("drop_by mismatch: got %v want %v", decoded.DropByTimestamp, body.DropByTimestamp)
	}
}

func TestDecodeRejectsMessageTypeMismatch(t *testing.T) {
	h := Header{MessageType: TypeScanAwait, SchemaVersion: SchemaVersion}
	raw, err := Encode(h, ScanAwaitMessage{Header: h})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, _, err := Decode[ScanAwaitMessage](raw, TypeDelegatedScan); err == nil {
		t.Fatalf("expected MESSAGE_TYPE_MISMATCH error")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	h := Header{MessageType: TypeScanFeedback, SchemaVersion: SchemaVersion, Moniker: "m"}
	body := FeedbackMessage{Header: h, ProjectID: "p", ScanID: "s", IsError: true, ErrorMsg: "boom"}

	a, err := Encode(h, body)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(h, body)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected deterministic encoding, got different bytes")
	}
}

func TestGzipRoundTrip(t *testing.T) {
	h := Header{MessageType: TypeScanFeedback, SchemaVersion: SchemaVersion}
	body := FeedbackMessage{Header: h, ProjectID: "p1", ScanID: "s1"}

	compressed, err := EncodeCompressed(h, body)
	if err != nil {
		t.Fatalf("EncodeCompressed: %v", err)
	}

	_, decoded, err := DecodeCompressed[FeedbackMessage](compressed, TypeScanFeedback)
	if err != nil {
		t.Fatalf("DecodeCompressed: %v", err)
	}
	if decoded.ProjectID != "p1" {
		t.Fatalf("unexpected decoded body: %+v", decoded)
	}
}
