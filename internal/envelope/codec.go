package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// frame is the canonical on-the-wire shape: header first (so a consumer
// can read message_type before attempting to parse the body), then the
// body as an embedded raw document. encoding/json marshals struct fields in
// declaration order and map keys in sorted order, so two calls to Encode
// with equal inputs always produce byte-identical output — the
// determinism the spec requires of "canonical binary encoding".
type frame struct {
	Header Header          `json:"header"`
	Body   json.RawMessage `json:"body"`
}

// Encode produces the canonical binary form of a message: ToBinary().
func Encode(h Header, body any) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal body: %w", err)
	}
	return json.Marshal(frame{Header: h, Body: bodyBytes})
}

// Decode is FromBinary(): it parses the header, checks message_type
// against expected, and unmarshals the body into T.
func Decode[T any](data []byte, expected MessageType) (Header, T, error) {
	var zero T
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Header{}, zero, fmt.Errorf("envelope: unmarshal frame: %w", err)
	}
	if f.Header.MessageType != expected {
		return f.Header, zero, fmt.Errorf("%w: got %q want %q", ErrMessageTypeMismatch, f.Header.MessageType, expected)
	}
	var body T
	if err := json.Unmarshal(f.Body, &body); err != nil {
		return f.Header, zero, fmt.Errorf("envelope: unmarshal body: %w", err)
	}
	return f.Header, body, nil
}

// PeekType reads only message_type, for routing before a full Decode.
func PeekType(data []byte) (MessageType, error) {
	var h struct {
		Header Header `json:"header"`
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return "", fmt.Errorf("envelope: peek type: %w", err)
	}
	return h.Header.MessageType, nil
}

// ToDict/FromDict give callers a map[string]any view of a message, used by
// logging and by any future non-Go consumer that wants a decoded JSON
// object rather than the encoded bytes.
func ToDict(h Header, body any) (map[string]any, error) {
	raw, err := Encode(h, body)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("envelope: to_dict: %w", err)
	}
	return m, nil
}

func FromDict[T any](m map[string]any, expected MessageType) (Header, T, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		var zero T
		return Header{}, zero, fmt.Errorf("envelope: from_dict: %w", err)
	}
	return Decode[T](raw, expected)
}

// EncodeCompressed gzip-compresses the canonical binary form. The
// push-workflow SARIF delivery path does not use it; it gzips the raw
// SARIF payload with Gzip directly.
func EncodeCompressed(h Header, body any) ([]byte, error) {
	raw, err := Encode(h, body)
	if err != nil {
		return nil, err
	}
	return Gzip(raw)
}

func DecodeCompressed[T any](compressed []byte, expected MessageType) (Header, T, error) {
	var zero T
	raw, err := Gunzip(compressed)
	if err != nil {
		return Header{}, zero, err
	}
	return Decode[T](raw, expected)
}

// Gzip/Gunzip wrap klauspost/compress's gzip implementation, used both by
// the envelope's optional compression and directly by the push-feedback
// SARIF delivery path.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("envelope: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("envelope: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("envelope: gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("envelope: gzip read: %w", err)
	}
	return out, nil
}
