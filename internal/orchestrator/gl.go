package orchestrator

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/cxoneflow/cxoneflow-go/internal/config"
	"github.com/cxoneflow/cxoneflow-go/internal/errs"
	"github.com/cxoneflow/cxoneflow-go/internal/eventctx"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
	"github.com/cxoneflow/cxoneflow-go/internal/scm"
)

// GitLab implements Variant for self-managed GitLab webhooks, grounded on
// original_source/orchestration/gl.py (`GitlabOrchestrator`): shared-secret
// comparison against the `X-Gitlab-Token` header rather than an HMAC
// signature, a `{"message": "Hello World"}` diagnostic payload, and a
// no-hash sentinel distinguishing branch create/delete from an ordinary
// push.
type GitLab struct{}

func (GitLab) Name() model.ConfigKey { return model.ConfigKeyGL }

const glNoHash = "0000000000000000000000000000000000000000"

type glPayload struct {
	Message       string `json:"message"`
	ObjectKind    string `json:"object_kind"`
	EventName     string `json:"event_name"`
	Before        string `json:"before"`
	After         string `json:"after"`
	Ref           string `json:"ref"`
	Project       struct {
		PathWithNamespace string `json:"path_with_namespace"`
		DefaultBranch     string `json:"default_branch"`
		GitSSHURL         string `json:"git_ssh_url"`
		GitHTTPURL        string `json:"git_http_url"`
	} `json:"project"`
	ObjectAttributes struct {
		IID           int    `json:"iid"`
		State         string `json:"state"`
		Action        string `json:"action"`
		Draft         bool   `json:"draft"`
		SourceBranch  string `json:"source_branch"`
		TargetBranch  string `json:"target_branch"`
		LastCommit    struct {
			ID string `json:"id"`
		} `json:"last_commit"`
	} `json:"object_attributes"`
}

func (GitLab) IsDiagnostic(ctx eventctx.Context) bool {
	var probe struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(ctx.ParsedBody, &probe)
	return probe.Message == "Hello World"
}

func (GitLab) ValidateSignature(ctx eventctx.Context, sharedSecret string) error {
	token := ctx.Header("X-Gitlab-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(sharedSecret)) != 1 {
		return fmt.Errorf("gl: X-Gitlab-Token mismatch")
	}
	return nil
}

func (GitLab) Parse(ctx context.Context, ev eventctx.Context, route config.RouteConfig, scmClient scm.Client) (model.ScanRequest, bool, error) {
	var p glPayload
	if err := json.Unmarshal(ev.ParsedBody, &p); err != nil {
		return model.ScanRequest{}, false, fmt.Errorf("gl: decode payload: %w", err)
	}
	event := p.ObjectKind
	if event == "" {
		event = p.EventName
	}

	req := model.ScanRequest{ConfigKey: model.ConfigKeyGL}
	if p.Project.GitSSHURL != "" {
		req.CloneURLs = append(req.CloneURLs, p.Project.GitSSHURL)
	}
	if p.Project.GitHTTPURL != "" {
		req.CloneURLs = append(req.CloneURLs, p.Project.GitHTTPURL)
	}

	protected, err := scmClient.ProtectedBranches(ctx, p.Project.PathWithNamespace)
	if err != nil {
		return model.ScanRequest{}, false, fmt.Errorf("gl: protected branches: %w", err)
	}
	req.ProtectedBranches = toBranchSet(protected, p.Project.DefaultBranch)

	switch event {
	case "push":
		if p.After == glNoHash || p.Before == glNoHash {
			// Branch create/delete carries no meaningful scan target.
			return model.ScanRequest{}, false, nil
		}
		branch := refToBranch(p.Ref)
		req.Workflow = model.WorkflowPush
		req.SourceBranch = branch
		req.TargetBranch = branch
		req.SourceHash = p.After
		req.TargetHash = p.After
		return req, true, nil

	case "merge_request":
		iid := fmt.Sprintf("%d", p.ObjectAttributes.IID)
		state := p.ObjectAttributes.State
		action := p.ObjectAttributes.Action
		if p.ObjectAttributes.Draft {
			state = "draft"
		}
		req.Workflow = model.WorkflowPR
		req.SourceBranch = p.ObjectAttributes.SourceBranch
		req.TargetBranch = p.ObjectAttributes.TargetBranch
		req.SourceHash = p.ObjectAttributes.LastCommit.ID
		req.PRID = &iid
		req.PRState = &state
		req.PRStatus = &action
		return req, true, nil

	default:
		return model.ScanRequest{}, false, nil
	}
}

func (GitLab) ExistingScanLookup(ctx context.Context, scannerClient scanner.Client, projectID string, req model.ScanRequest) (*scanner.Scan, error) {
	if req.PRID == nil {
		return nil, nil
	}
	scans, err := scannerClient.FindScans(ctx, projectID, map[string]string{"pr-id": *req.PRID, "commit": req.SourceHash})
	if err != nil {
		return nil, &errs.ScannerAPIError{Op: "find merge request scans", Err: err}
	}
	if len(scans) == 0 {
		return nil, nil
	}
	return &scans[0], nil
}
