package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cxoneflow/cxoneflow-go/internal/config"
	"github.com/cxoneflow/cxoneflow-go/internal/crypto"
	"github.com/cxoneflow/cxoneflow-go/internal/errs"
	"github.com/cxoneflow/cxoneflow-go/internal/eventctx"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
	"github.com/cxoneflow/cxoneflow-go/internal/scm"
)

// GitHub implements Variant for github.com/GitHub Enterprise Server
// webhooks, grounded on the teacher's own
// internal/webhook/handler.go:ServeHTTP (X-Hub-Signature-256 header,
// X-GitHub-Event dispatch, typed JSON payload) generalized from
// workflow_job-only handling to push/pull_request.
type GitHub struct{}

func (GitHub) Name() model.ConfigKey { return model.ConfigKeyGH }

type ghPayload struct {
	Action      string `json:"action"`
	Ref         string `json:"ref"`
	After       string `json:"after"`
	Zen         string `json:"zen"`
	Repository  struct {
		FullName      string `json:"full_name"`
		Name          string `json:"name"`
		DefaultBranch string `json:"default_branch"`
		CloneURL      string `json:"clone_url"`
		SSHURL        string `json:"ssh_url"`
		Owner         struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	PullRequest struct {
		Number int    `json:"number"`
		State  string `json:"state"`
		Draft  bool   `json:"draft"`
		Head   struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"base"`
		MergeableState string `json:"mergeable_state"`
	} `json:"pull_request"`
}

func (GitHub) IsDiagnostic(ctx eventctx.Context) bool {
	return ctx.Header("X-GitHub-Event") == "ping"
}

func (GitHub) ValidateSignature(ctx eventctx.Context, sharedSecret string) error {
	sig := ctx.Header("X-Hub-Signature-256")
	if sig == "" || !crypto.VerifyHMAC(sig, []byte(sharedSecret), ctx.RawBytes) {
		return fmt.Errorf("gh: signature header missing or mismatched")
	}
	return nil
}

func (GitHub) Parse(ctx context.Context, ev eventctx.Context, route config.RouteConfig, scmClient scm.Client) (model.ScanRequest, bool, error) {
	event := ev.Header("X-GitHub-Event")

	var p ghPayload
	if err := json.Unmarshal(ev.ParsedBody, &p); err != nil {
		return model.ScanRequest{}, false, fmt.Errorf("gh: decode payload: %w", err)
	}

	req := model.ScanRequest{
		ConfigKey:        model.ConfigKeyGH,
		RepoOrganization: p.Repository.Owner.Login,
		RepoName:         p.Repository.Name,
		CloneURLs:        []string{p.Repository.SSHURL, p.Repository.CloneURL},
	}

	protected, err := scmClient.ProtectedBranches(ctx, p.Repository.FullName)
	if err != nil {
		return model.ScanRequest{}, false, fmt.Errorf("gh: protected branches: %w", err)
	}
	req.ProtectedBranches = toBranchSet(protected, p.Repository.DefaultBranch)

	switch event {
	case "push":
		branch := refToBranch(p.Ref)
		req.Workflow = model.WorkflowPush
		req.SourceBranch = branch
		req.TargetBranch = branch
		req.SourceHash = p.After
		req.TargetHash = p.After
		return req, true, nil

	case "pull_request":
		if p.Action != "opened" && p.Action != "synchronize" && p.Action != "reopened" {
			return model.ScanRequest{}, false, nil
		}
		prID := fmt.Sprintf("%d", p.PullRequest.Number)
		state := p.PullRequest.State
		if p.PullRequest.Draft {
			state = "draft"
		}
		status := p.PullRequest.MergeableState
		req.Workflow = model.WorkflowPR
		req.SourceBranch = p.PullRequest.Head.Ref
		req.SourceHash = p.PullRequest.Head.SHA
		req.TargetBranch = p.PullRequest.Base.Ref
		req.TargetHash = p.PullRequest.Base.SHA
		req.PRID = &prID
		req.PRState = &state
		req.PRStatus = &status
		return req, true, nil

	default:
		return model.ScanRequest{}, false, nil
	}
}

func (GitHub) ExistingScanLookup(ctx context.Context, scannerClient scanner.Client, projectID string, req model.ScanRequest) (*scanner.Scan, error) {
	if req.PRID == nil {
		return nil, nil
	}
	scans, err := scannerClient.FindScans(ctx, projectID, map[string]string{"pr-id": *req.PRID, "commit": req.SourceHash})
	if err != nil {
		return nil, &errs.ScannerAPIError{Op: "find pr scans", Err: err}
	}
	if len(scans) == 0 {
		return nil, nil
	}
	return &scans[0], nil
}

func toBranchSet(branches []string, extra ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(branches)+len(extra))
	for _, b := range branches {
		set[b] = struct{}{}
	}
	for _, b := range extra {
		if b != "" {
			set[b] = struct{}{}
		}
	}
	return set
}

func refToBranch(ref string) string {
	const prefix = "refs/heads/"
	if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
		return ref[len(prefix):]
	}
	return ref
}
