// Package eventctx implements the immutable Event Context (spec §3):
// {raw_bytes, headers, parsed_body} produced once from an HTTP webhook
// request and never mutated afterward.
package eventctx

import (
	"encoding/json"
	"regexp"
)

// Context is produced on HTTP receipt and consumed by the orchestrator
// front end; it is also embedded, header-filtered, into delegated-scan
// details so a resolver agent can replay SCM calls without re-deriving
// them from raw webhook bytes.
type Context struct {
	RawBytes   []byte              `json:"raw_bytes"`
	Headers    map[string][]string `json:"headers"`
	ParsedBody json.RawMessage     `json:"parsed_body"`
}

// New builds a Context from the bytes/headers/body an HTTP handler parsed.
// headers is copied so later mutation of the caller's map cannot alter this
// Context.
func New(raw []byte, headers map[string][]string, parsedBody any) (Context, error) {
	body, err := json.Marshal(parsedBody)
	if err != nil {
		return Context{}, err
	}
	return Context{
		RawBytes:   append([]byte(nil), raw...),
		Headers:    copyHeaders(headers),
		ParsedBody: body,
	}, nil
}

func copyHeaders(h map[string][]string) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Filtered returns a new Context whose Headers only include names matching
// keep, so redelivery to a remote resolver agent discloses nothing extra
// (spec §3: "Headers may be header-filtered ... so that redelivery to
// agents discloses nothing extra").
func (c Context) Filtered(keep *regexp.Regexp) Context {
	filtered := make(map[string][]string, len(c.Headers))
	for k, v := range c.Headers {
		if keep.MatchString(k) {
			filtered[k] = append([]string(nil), v...)
		}
	}
	return Context{
		RawBytes:   c.RawBytes,
		Headers:    filtered,
		ParsedBody: c.ParsedBody,
	}
}

// Header returns the first value for name, case-sensitively, or "".
func (c Context) Header(name string) string {
	if vs, ok := c.Headers[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}
