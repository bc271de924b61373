// Package feedback implements the Feedback Workflows (spec 4.H): PR
// decoration (Markdown comment rendering with a stable identifier for
// update-vs-create) and push-workflow SARIF delivery. Both satisfy
// internal/polling.FeedbackHandler so the Scan Polling State Machine can
// fan out to either or both on a terminal scan.
package feedback

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Severity names the scanner's finding severities. Rank order (spec §3:
// "severity_rank is numeric (Critical=0 ... Info=4)") is shared across
// every finding table the PR decoration document renders — SAST, SCA,
// IaC, and Resolved-SAST all sort through the same severityRank, folded
// in from original_source/workflows/pr.py per SPEC_FULL.md supplement #6.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// severityRank implements spec invariant 8.7: any finding with severity s1
// precedes a finding with s2 iff rank(s1) < rank(s2).
func severityRank(s Severity) int {
	switch strings.ToUpper(string(s)) {
	case string(SeverityCritical):
		return 0
	case string(SeverityHigh):
		return 1
	case string(SeverityMedium):
		return 2
	case string(SeverityLow):
		return 3
	default:
		return 4
	}
}

// Engine names which scan engine produced a finding.
type Engine string

const (
	EngineSAST     Engine = "sast"
	EngineSCA      Engine = "sca"
	EngineIaC      Engine = "iac"
	EngineResolved Engine = "resolved-sast"
)

// Finding is one row in a PR decoration finding table.
type Finding struct {
	Engine   Engine   `json:"engine"`
	Severity Severity `json:"severity"`
	State    string   `json:"state"` // e.g. "TO_VERIFY", "CONFIRMED", "NOT_EXPLOITABLE"
	RuleName string   `json:"rule_name"`
	FileName string   `json:"file_name"`
	Line     int      `json:"line"`
	PackageID string  `json:"package_id,omitempty"` // SCA
}

// secondaryKey is the composite-ordering tiebreaker within one severity
// (spec §3: "composite key: severity_rank‖secondary_field(s)") — rule
// name then file then line for SAST/IaC, package id then rule for SCA.
func (f Finding) secondaryKey() string {
	if f.Engine == EngineSCA {
		return fmt.Sprintf("%s\x00%s", f.PackageID, f.RuleName)
	}
	return fmt.Sprintf("%s\x00%s\x00%06d", f.RuleName, f.FileName, f.Line)
}

// EnhancedReport is the scanner's aggregated findings document (spec
// glossary: "Enhanced report"). Only the fields PR decoration consumes are
// modeled; everything else in the real document is opaque to this system.
type EnhancedReport struct {
	ScanID    string    `json:"scan_id"`
	ProjectID string    `json:"project_id"`
	Findings  []Finding `json:"findings"`
}

// ParseEnhancedReport decodes the scanner's enhanced-report JSON body.
func ParseEnhancedReport(raw []byte) (EnhancedReport, error) {
	var r EnhancedReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return EnhancedReport{}, fmt.Errorf("feedback: parse enhanced report: %w", err)
	}
	return r, nil
}

// ExcludeFilter decides whether a finding should be dropped before
// rendering (spec 4.H: "Excluded severities/states are filtered").
type ExcludeFilter struct {
	Severities map[Severity]struct{}
	States     map[string]struct{}
}

func (f ExcludeFilter) excluded(finding Finding) bool {
	if _, ok := f.Severities[finding.Severity]; ok {
		return true
	}
	if _, ok := f.States[strings.ToUpper(finding.State)]; ok {
		return true
	}
	return false
}

// sortFindings orders a slice in place by (severity_rank, secondary_key)
// (spec invariant 8.7).
func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := severityRank(findings[i].Severity), severityRank(findings[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return findings[i].secondaryKey() < findings[j].secondaryKey()
	})
}

// markerPrefix is the hidden identifier comment family every decoration
// section is bracketed by (spec §3: "hidden identifier comments"), and
// the stable key used to find-and-replace an existing PR comment.
const markerPrefix = "<!-- cxoneflow:decoration:"

func marker(section string) string {
	return fmt.Sprintf("%s%s -->", markerPrefix, section)
}

// IdentifierMarker is the top-level marker comment that makes a PR
// comment recognizable as "this system's decoration comment" regardless
// of which sections it currently carries (spec invariant 8.2).
var IdentifierMarker = marker("header")

// HasIdentifier reports whether body carries the stable identifier marker
// (spec §4.H: "If any comment starts with the identifier marker, edit").
func HasIdentifier(body string) bool {
	return strings.HasPrefix(strings.TrimSpace(body), IdentifierMarker)
}

// Document is the ordered set of Markdown sections that make up a PR
// decoration comment (spec §3: "PR Decoration Document").
type Document struct {
	ScanID    string
	ProjectID string
	ScanURL   string
	Annotation string
	IsError    bool
	ErrorMsg   string
	Findings   []Finding
}

// maxRowsPerSection bounds RenderCapped's per-section row count, the
// secondary truncation tier SPEC_FULL.md supplement #7 describes: tried
// after the full document proves too large and before falling all the way
// back to a details-free summary.
const maxRowsPerSection = 200

// Render produces the full, untruncated decoration document: header,
// annotation (if any), a per-engine severity-count summary table, and one
// details subsection per engine holding every finding, each independently
// sorted (spec 4.H). Callers that enforce the SCM's length limit should
// fall back to RenderCapped and then RenderSummaryOnly, in that order,
// rather than call this blind to the limit.
func (d Document) Render() string {
	var b strings.Builder
	d.renderHeader(&b)
	d.renderAnnotation(&b)
	d.renderSummary(&b)
	d.renderDetails(&b, 0)
	return b.String()
}

// RenderCapped produces the secondary truncation tier SPEC_FULL.md
// supplement #7 describes: the same sections as Render, but each details
// subsection capped at maxRowsPerSection rows with a trailing "N
// additional findings omitted" marker, for use when the full document
// exceeds the SCM's length limit but dropping details entirely is not yet
// necessary.
func (d Document) RenderCapped() string {
	var b strings.Builder
	d.renderHeader(&b)
	d.renderAnnotation(&b)
	d.renderSummary(&b)
	d.renderDetails(&b, maxRowsPerSection)
	return b.String()
}

// RenderSummaryOnly produces the final fallback tier: header, annotation,
// and the summary table only, no per-engine details at all. Used when even
// RenderCapped's truncated details still exceed the SCM's length limit
// (spec 4.H: "~1,000,000 chars").
func (d Document) RenderSummaryOnly() string {
	var b strings.Builder
	d.renderHeader(&b)
	d.renderAnnotation(&b)
	d.renderSummary(&b)
	return b.String()
}

func (d Document) renderHeader(b *strings.Builder) {
	fmt.Fprintf(b, "%s\n", marker("header"))
	fmt.Fprintf(b, "## CxOne Scan Results\n\n")
	fmt.Fprintf(b, "Scan `%s` for project `%s`.\n\n", d.ScanID, d.ProjectID)
	if d.ScanURL != "" {
		fmt.Fprintf(b, "[View full results](%s)\n\n", d.ScanURL)
	}
}

func (d Document) renderAnnotation(b *strings.Builder) {
	fmt.Fprintf(b, "%s\n", marker("annotation"))
	if d.IsError {
		fmt.Fprintf(b, "**Scan failed:** %s\n\n", d.ErrorMsg)
		return
	}
	if d.Annotation != "" {
		fmt.Fprintf(b, "%s\n\n", d.Annotation)
	}
}

func (d Document) renderSummary(b *strings.Builder) {
	fmt.Fprintf(b, "%s\n", marker("summary"))
	fmt.Fprintf(b, "### Summary\n\n")
	fmt.Fprintf(b, "| Engine | Critical | High | Medium | Low | Info |\n")
	fmt.Fprintf(b, "|---|---|---|---|---|---|\n")
	counts := map[Engine][5]int{}
	for _, f := range d.Findings {
		c := counts[f.Engine]
		c[severityRank(f.Severity)]++
		counts[f.Engine] = c
	}
	engines := []Engine{EngineSAST, EngineSCA, EngineIaC, EngineResolved}
	for _, e := range engines {
		c := counts[e]
		fmt.Fprintf(b, "| %s | %d | %d | %d | %d | %d |\n", e, c[0], c[1], c[2], c[3], c[4])
	}
	fmt.Fprintln(b)
}

// renderDetails writes one details subsection per non-empty engine. A
// maxRows <= 0 means unbounded (Render's full-document path); a positive
// maxRows truncates each section with an omitted-count marker row
// (RenderCapped's secondary truncation tier).
func (d Document) renderDetails(b *strings.Builder, maxRows int) {
	fmt.Fprintf(b, "%s\n", marker("details"))
	fmt.Fprintf(b, "### Details\n\n")
	byEngine := map[Engine][]Finding{}
	for _, f := range d.Findings {
		byEngine[f.Engine] = append(byEngine[f.Engine], f)
	}
	for _, e := range []Engine{EngineSAST, EngineSCA, EngineIaC, EngineResolved} {
		rows := byEngine[e]
		if len(rows) == 0 {
			continue
		}
		sortFindings(rows)
		fmt.Fprintf(b, "#### %s\n\n", strings.ToUpper(string(e)))
		fmt.Fprintf(b, "| Severity | Rule | Location |\n|---|---|---|\n")
		shown := rows
		omitted := 0
		if maxRows > 0 && len(shown) > maxRows {
			omitted = len(shown) - maxRows
			shown = shown[:maxRows]
		}
		for _, f := range shown {
			loc := fmt.Sprintf("%s:%d", f.FileName, f.Line)
			if f.Engine == EngineSCA {
				loc = f.PackageID
			}
			fmt.Fprintf(b, "| %s | %s | %s |\n", f.Severity, f.RuleName, loc)
		}
		if omitted > 0 {
			fmt.Fprintf(b, "| | *%d additional findings omitted* | |\n", omitted)
		}
		fmt.Fprintln(b)
	}
}

// FilterFindings applies an ExcludeFilter, returning a new slice.
func FilterFindings(findings []Finding, filter ExcludeFilter) []Finding {
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if filter.excluded(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}
