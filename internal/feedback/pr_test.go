package feedback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
	"github.com/cxoneflow/cxoneflow-go/internal/scm"
)

type fakeScannerClient struct {
	scanner.Client
	report []byte
}

func (f fakeScannerClient) FetchEnhancedReport(ctx context.Context, scanID string) ([]byte, error) {
	return f.report, nil
}

type fakeSCMClient struct {
	scm.Client
	comments   []scm.Comment
	created    []string
	edited     map[string]string
	maxLen     int
}

func (f *fakeSCMClient) ListPRComments(ctx context.Context, repoSlug, prID string) ([]scm.Comment, error) {
	return f.comments, nil
}

func (f *fakeSCMClient) CreatePRComment(ctx context.Context, repoSlug, prID, body string) (string, error) {
	f.created = append(f.created, body)
	id := "c1"
	f.comments = append(f.comments, scm.Comment{ID: id, Body: body})
	return id, nil
}

func (f *fakeSCMClient) EditPRComment(ctx context.Context, repoSlug, prID, commentID, body string) error {
	if f.edited == nil {
		f.edited = map[string]string{}
	}
	f.edited[commentID] = body
	for i, c := range f.comments {
		if c.ID == commentID {
			f.comments[i].Body = body
		}
	}
	return nil
}

func (f *fakeSCMClient) MaxCommentLength() int {
	if f.maxLen == 0 {
		return 1_000_000
	}
	return f.maxLen
}

func prID(s string) *string { return &s }

// TestPRCommentCreateThenUpdate implements spec scenario S5: first run
// creates, second run edits the same identifier-marked comment; comment
// count never grows past one.
func TestPRCommentCreateThenUpdate(t *testing.T) {
	scannerClient := fakeScannerClient{report: []byte(`{"scan_id":"s1","findings":[]}`)}
	scmClient := &fakeSCMClient{}
	w := NewPRWorkflow(scannerClient, scmClient, ExcludeFilter{}, nil)

	fc := envelope.FeedbackContext{RepoSlug: "org/repo", PRID: prID("7")}
	details, err := fc.Binary()
	require.NoError(t, err)

	require.NoError(t, w.OnSuccess(context.Background(), "p1", "s1", details))
	require.Len(t, scmClient.comments, 1)
	require.Len(t, scmClient.created, 1)

	require.NoError(t, w.OnSuccess(context.Background(), "p1", "s1", details))
	assert.Len(t, scmClient.comments, 1, "second run must edit, not create a second comment")
	assert.Len(t, scmClient.created, 1)
	assert.Len(t, scmClient.edited, 1)
}

func TestPRWorkflowSkipsPushScans(t *testing.T) {
	scannerClient := fakeScannerClient{}
	scmClient := &fakeSCMClient{}
	w := NewPRWorkflow(scannerClient, scmClient, ExcludeFilter{}, nil)

	fc := envelope.FeedbackContext{RepoSlug: "org/repo"} // no PRID: push workflow
	details, err := fc.Binary()
	require.NoError(t, err)

	require.NoError(t, w.OnSuccess(context.Background(), "p1", "s1", details))
	assert.Empty(t, scmClient.comments)
}

func TestPRWorkflowOnFailureAnnotatesError(t *testing.T) {
	scmClient := &fakeSCMClient{}
	w := NewPRWorkflow(fakeScannerClient{}, scmClient, ExcludeFilter{}, nil)

	fc := envelope.FeedbackContext{RepoSlug: "org/repo", PRID: prID("9")}
	details, err := fc.Binary()
	require.NoError(t, err)

	require.NoError(t, w.OnFailure(context.Background(), "p1", "s1", details, "scan timed out"))
	require.Len(t, scmClient.created, 1)
	assert.Contains(t, scmClient.created[0], "scan timed out")
}

// TestPRWorkflowFallsBackToCappedDetailsBeforeSummaryOnly exercises the
// middle truncation tier (SPEC_FULL.md supplement #7): a comment length
// limit one character above what the capped-details render produces, and
// so below what the full, untruncated document needs, should keep
// per-engine detail rows (truncated) rather than jumping straight to
// summary-only.
func TestPRWorkflowFallsBackToCappedDetailsBeforeSummaryOnly(t *testing.T) {
	findings := `[`
	for i := 0; i < 250; i++ {
		if i > 0 {
			findings += ","
		}
		findings += `{"engine":"sast","severity":"HIGH","rule_name":"sqli","file_name":"a.go","line":1}`
	}
	findings += `]`
	scannerClient := fakeScannerClient{report: []byte(`{"scan_id":"s1","findings":` + findings + `}`)}

	doc := Document{ScanID: "s1", ProjectID: "p1"}
	report, err := ParseEnhancedReport(scannerClient.report)
	require.NoError(t, err)
	doc.Findings = report.Findings
	cappedLen := len(doc.RenderCapped())
	fullLen := len(doc.Render())
	require.Less(t, cappedLen, fullLen, "capped render must be shorter than the untruncated render")

	scmClient := &fakeSCMClient{maxLen: cappedLen + 1}
	w := NewPRWorkflow(scannerClient, scmClient, ExcludeFilter{}, nil)

	fc := envelope.FeedbackContext{RepoSlug: "org/repo", PRID: prID("1")}
	details, err := fc.Binary()
	require.NoError(t, err)

	require.NoError(t, w.OnSuccess(context.Background(), "p1", "s1", details))
	require.Len(t, scmClient.created, 1)
	assert.Contains(t, scmClient.created[0], "sqli")
	assert.Contains(t, scmClient.created[0], "additional findings omitted")
}

func TestPRWorkflowFallsBackToSummaryWhenOversized(t *testing.T) {
	scmClient := &fakeSCMClient{maxLen: 10}
	scannerClient := fakeScannerClient{report: []byte(`{"scan_id":"s1","findings":[{"engine":"sast","severity":"HIGH","rule_name":"sqli","file_name":"a.go","line":1}]}`)}
	w := NewPRWorkflow(scannerClient, scmClient, ExcludeFilter{}, nil)

	fc := envelope.FeedbackContext{RepoSlug: "org/repo", PRID: prID("1")}
	details, err := fc.Binary()
	require.NoError(t, err)

	require.NoError(t, w.OnSuccess(context.Background(), "p1", "s1", details))
	require.Len(t, scmClient.created, 1)
	assert.NotContains(t, scmClient.created[0], "sqli")
}
