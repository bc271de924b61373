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

// BitbucketDataCenter implements Variant for Bitbucket Data Center (Server)
// webhooks: `X-Event-Key` dispatch and an HMAC signature in
// `X-Hub-Signature`, the scheme Bitbucket's built-in webhook plugin sends
// when configured with a shared secret — the same "alg=hexdigest" shape
// internal/crypto.VerifyHMAC already implements for GitHub (spec 4.A).
// original_source carries no dedicated bbdc.py (the retrieval pack's
// original implementation only ships adoe.py/gl.py alongside base.py), so
// this variant is grounded on
// original_source/orchestration/base.py's common AbstractOrchestrator
// contract plus the same header/payload shape as the gh.go/gl.go siblings.
type BitbucketDataCenter struct{}

func (BitbucketDataCenter) Name() model.ConfigKey { return model.ConfigKeyBBDC }

type bbdcPayload struct {
	EventKey   string `json:"eventKey"`
	Test       bool   `json:"test"`
	Repository struct {
		Slug    string `json:"slug"`
		Name    string `json:"name"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
		Links struct {
			Clone []struct {
				Name string `json:"name"`
				Href string `json:"href"`
			} `json:"clone"`
		} `json:"links"`
	} `json:"repository"`
	Changes []struct {
		RefID    string `json:"refId"`
		ToHash   string `json:"toHash"`
		FromHash string `json:"fromHash"`
	} `json:"changes"`
	PullRequest struct {
		ID     int    `json:"id"`
		State  string `json:"state"`
		Open   bool   `json:"open"`
		Properties struct {
			Draft bool `json:"draft"`
		} `json:"properties"`
		FromRef struct {
			DisplayID      string `json:"displayId"`
			LatestCommit   string `json:"latestCommit"`
		} `json:"fromRef"`
		ToRef struct {
			DisplayID    string `json:"displayId"`
			LatestCommit string `json:"latestCommit"`
		} `json:"toRef"`
	} `json:"pullRequest"`
}

func (BitbucketDataCenter) IsDiagnostic(ctx eventctx.Context) bool {
	if ctx.Header("X-Event-Key") == "diagnostics:ping" {
		return true
	}
	var probe struct {
		Test bool `json:"test"`
	}
	_ = json.Unmarshal(ctx.ParsedBody, &probe)
	return probe.Test
}

func (BitbucketDataCenter) ValidateSignature(ctx eventctx.Context, sharedSecret string) error {
	sig := ctx.Header("X-Hub-Signature")
	if sig == "" || !crypto.VerifyHMAC(sig, []byte(sharedSecret), ctx.RawBytes) {
		return fmt.Errorf("bbdc: signature header missing or mismatched")
	}
	return nil
}

func (BitbucketDataCenter) Parse(ctx context.Context, ev eventctx.Context, route config.RouteConfig, scmClient scm.Client) (model.ScanRequest, bool, error) {
	var p bbdcPayload
	if err := json.Unmarshal(ev.ParsedBody, &p); err != nil {
		return model.ScanRequest{}, false, fmt.Errorf("bbdc: decode payload: %w", err)
	}

	repoSlug := fmt.Sprintf("%s/%s", p.Repository.Project.Key, p.Repository.Slug)
	req := model.ScanRequest{
		ConfigKey:        model.ConfigKeyBBDC,
		RepoOrganization: p.Repository.Project.Key,
		RepoProjectKey:   p.Repository.Project.Key,
		RepoSlug:         p.Repository.Slug,
		RepoName:         p.Repository.Name,
	}
	for _, c := range p.Repository.Links.Clone {
		req.CloneURLs = append(req.CloneURLs, c.Href)
	}

	defaultBranch, err := scmClient.DefaultBranch(ctx, repoSlug)
	if err != nil {
		return model.ScanRequest{}, false, fmt.Errorf("bbdc: default branch: %w", err)
	}
	protected, err := scmClient.ProtectedBranches(ctx, repoSlug)
	if err != nil {
		return model.ScanRequest{}, false, fmt.Errorf("bbdc: protected branches: %w", err)
	}
	req.ProtectedBranches = toBranchSet(protected, defaultBranch)

	switch p.EventKey {
	case "repo:refs_changed":
		if len(p.Changes) == 0 {
			return model.ScanRequest{}, false, nil
		}
		change := p.Changes[0]
		branch := refToBranch(change.RefID)
		req.Workflow = model.WorkflowPush
		req.SourceBranch = branch
		req.TargetBranch = branch
		req.SourceHash = change.ToHash
		req.TargetHash = change.ToHash
		return req, true, nil

	case "pr:opened", "pr:modified", "pr:from_ref_updated":
		draft, err := scmClient.IsDraft(ctx, repoSlug, fmt.Sprintf("%d", p.PullRequest.ID))
		if err != nil {
			draft = p.PullRequest.Properties.Draft
		}
		prID := fmt.Sprintf("%d", p.PullRequest.ID)
		state := p.PullRequest.State
		if draft {
			state = "draft"
		}
		req.Workflow = model.WorkflowPR
		req.SourceBranch = refToBranch(p.PullRequest.FromRef.DisplayID)
		req.TargetBranch = refToBranch(p.PullRequest.ToRef.DisplayID)
		req.SourceHash = p.PullRequest.FromRef.LatestCommit
		req.TargetHash = p.PullRequest.ToRef.LatestCommit
		req.PRID = &prID
		req.PRState = &state
		return req, true, nil

	default:
		return model.ScanRequest{}, false, nil
	}
}

func (BitbucketDataCenter) ExistingScanLookup(ctx context.Context, scannerClient scanner.Client, projectID string, req model.ScanRequest) (*scanner.Scan, error) {
	if req.PRID == nil {
		return nil, nil
	}
	scans, err := scannerClient.FindScans(ctx, projectID, map[string]string{"pr-id": *req.PRID, "commit": req.SourceHash})
	if err != nil {
		return nil, &errs.ScannerAPIError{Op: "find pull request scans", Err: err}
	}
	if len(scans) == 0 {
		return nil, nil
	}
	return &scans[0], nil
}
