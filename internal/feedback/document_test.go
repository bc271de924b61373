package feedback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityOrderingInvariant(t *testing.T) {
	findings := []Finding{
		{Engine: EngineSAST, Severity: SeverityInfo, RuleName: "z"},
		{Engine: EngineSAST, Severity: SeverityCritical, RuleName: "a"},
		{Engine: EngineSAST, Severity: SeverityHigh, RuleName: "m"},
	}
	sortFindings(findings)
	assert.Equal(t, SeverityCritical, findings[0].Severity)
	assert.Equal(t, SeverityHigh, findings[1].Severity)
	assert.Equal(t, SeverityInfo, findings[2].Severity)
}

func TestSecondaryKeyOrdersWithinSeverity(t *testing.T) {
	findings := []Finding{
		{Engine: EngineSAST, Severity: SeverityHigh, RuleName: "xss", FileName: "b.go", Line: 2},
		{Engine: EngineSAST, Severity: SeverityHigh, RuleName: "sqli", FileName: "a.go", Line: 1},
	}
	sortFindings(findings)
	assert.Equal(t, "sqli", findings[0].RuleName)
	assert.Equal(t, "xss", findings[1].RuleName)
}

func TestHasIdentifierMarker(t *testing.T) {
	doc := Document{ScanID: "s1", ProjectID: "p1"}
	rendered := doc.Render()
	assert.True(t, HasIdentifier(rendered))
	assert.False(t, HasIdentifier("some unrelated PR comment"))
}

func TestFilterFindingsExcludesConfiguredSeverityAndState(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityInfo, State: "TO_VERIFY"},
		{Severity: SeverityCritical, State: "NOT_EXPLOITABLE"},
		{Severity: SeverityHigh, State: "CONFIRMED"},
	}
	filter := ExcludeFilter{
		Severities: map[Severity]struct{}{SeverityInfo: {}},
		States:     map[string]struct{}{"NOT_EXPLOITABLE": {}},
	}
	out := FilterFindings(findings, filter)
	assert.Len(t, out, 1)
	assert.Equal(t, SeverityHigh, out[0].Severity)
}

func TestRenderSummaryOnlyOmitsDetails(t *testing.T) {
	doc := Document{
		ScanID:    "s1",
		ProjectID: "p1",
		Findings:  []Finding{{Engine: EngineSAST, Severity: SeverityCritical, RuleName: "sqli"}},
	}
	full := doc.Render()
	summary := doc.RenderSummaryOnly()
	assert.Contains(t, full, "sqli")
	assert.NotContains(t, summary, "sqli")
	assert.Contains(t, summary, "### Summary")
}

func TestRenderDoesNotTruncateLargeFindingSets(t *testing.T) {
	findings := make([]Finding, 0, 250)
	for i := 0; i < 250; i++ {
		findings = append(findings, Finding{Engine: EngineSAST, Severity: SeverityHigh, RuleName: "r"})
	}
	doc := Document{ScanID: "s", ProjectID: "p", Findings: findings}
	full := doc.Render()
	assert.NotContains(t, full, "additional findings omitted")
	assert.Equal(t, 250, strings.Count(full, "| HIGH | r | :0 |"))
}

func TestRenderCappedTruncatesLargeFindingSets(t *testing.T) {
	findings := make([]Finding, 0, 250)
	for i := 0; i < 250; i++ {
		findings = append(findings, Finding{Engine: EngineSAST, Severity: SeverityHigh, RuleName: "r"})
	}
	doc := Document{ScanID: "s", ProjectID: "p", Findings: findings}
	capped := doc.RenderCapped()
	assert.Contains(t, capped, "50 additional findings omitted")
	assert.Equal(t, maxRowsPerSection, strings.Count(capped, "| HIGH | r | :0 |"))
}

func TestRenderDetailsTruncatesAndMarksOmitted(t *testing.T) {
	findings := make([]Finding, 0, 5)
	for i := 0; i < 5; i++ {
		findings = append(findings, Finding{Engine: EngineSAST, Severity: SeverityHigh, RuleName: "r"})
	}
	doc := Document{ScanID: "s", ProjectID: "p", Findings: findings}
	var b strings.Builder
	doc.renderDetails(&b, 2)
	assert.Contains(t, b.String(), "3 additional findings omitted")
}
