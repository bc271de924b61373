package feedback

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/metrics"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
	"github.com/cxoneflow/cxoneflow-go/internal/scm"
)

// PRWorkflow is AbstractPRFeedbackWorkflow (spec 4.H): given a terminal
// scan, fetch the enhanced report, render a Document, and find-and-replace
// the PR's identifier-marked comment.
type PRWorkflow struct {
	ScannerClient scanner.Client
	SCMClient     scm.Client
	ExcludeFilter ExcludeFilter
	Log           *logrus.Entry
}

func NewPRWorkflow(scannerClient scanner.Client, scmClient scm.Client, filter ExcludeFilter, log *logrus.Entry) *PRWorkflow {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PRWorkflow{ScannerClient: scannerClient, SCMClient: scmClient, ExcludeFilter: filter, Log: log}
}

// OnSuccess implements polling.FeedbackHandler for a terminal-success scan.
func (w *PRWorkflow) OnSuccess(ctx context.Context, projectID, scanID string, details []byte) error {
	fc, err := envelope.DecodeFeedbackContext(details)
	if err != nil {
		return fmt.Errorf("feedback: pr workflow: decode context: %w", err)
	}
	if fc.PRID == nil {
		// Push workflow scans carry no PR to decorate; nothing to do.
		return nil
	}

	raw, err := w.ScannerClient.FetchEnhancedReport(ctx, scanID)
	if err != nil {
		return fmt.Errorf("feedback: fetch enhanced report: %w", err)
	}
	report, err := ParseEnhancedReport(raw)
	if err != nil {
		return err
	}

	doc := Document{
		ScanID:    scanID,
		ProjectID: projectID,
		Findings:  FilterFindings(report.Findings, w.ExcludeFilter),
	}
	return w.upsert(ctx, fc, doc)
}

// OnFailure implements polling.FeedbackHandler for a terminal-failure scan
// or a polled scanner-API error surfaced as feedback (spec §7: "on PR
// workflows, failures are surfaced as an annotation comment on the PR").
func (w *PRWorkflow) OnFailure(ctx context.Context, projectID, scanID string, details []byte, errMsg string) error {
	fc, err := envelope.DecodeFeedbackContext(details)
	if err != nil {
		return fmt.Errorf("feedback: pr workflow: decode context: %w", err)
	}
	if fc.PRID == nil {
		return nil
	}
	doc := Document{
		ScanID:    scanID,
		ProjectID: projectID,
		IsError:   true,
		ErrorMsg:  errMsg,
	}
	return w.upsert(ctx, fc, doc)
}

// upsert implements the create-or-edit decision (spec 4.H: "Query
// existing PR comments. If any comment starts with the identifier marker,
// edit that comment; otherwise create") plus the oversized-document
// summary-only fallback.
func (w *PRWorkflow) upsert(ctx context.Context, fc envelope.FeedbackContext, doc Document) error {
	limit := w.SCMClient.MaxCommentLength()
	body := doc.Render()
	if len(body) > limit {
		body = doc.RenderCapped()
	}
	if len(body) > limit {
		body = doc.RenderSummaryOnly()
	}

	comments, err := w.SCMClient.ListPRComments(ctx, fc.RepoSlug, *fc.PRID)
	if err != nil {
		return fmt.Errorf("feedback: list pr comments: %w", err)
	}

	for _, c := range comments {
		if HasIdentifier(c.Body) {
			if err := w.SCMClient.EditPRComment(ctx, fc.RepoSlug, *fc.PRID, c.ID, body); err != nil {
				return fmt.Errorf("feedback: edit pr comment: %w", err)
			}
			metrics.PRCommentOperations.WithLabelValues("edit").Inc()
			return nil
		}
	}

	if _, err := w.SCMClient.CreatePRComment(ctx, fc.RepoSlug, *fc.PRID, body); err != nil {
		return fmt.Errorf("feedback: create pr comment: %w", err)
	}
	metrics.PRCommentOperations.WithLabelValues("create").Inc()
	return nil
}
