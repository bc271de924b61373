package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cxoneflow/cxoneflow-go/internal/config"
	"github.com/cxoneflow/cxoneflow-go/internal/errs"
	"github.com/cxoneflow/cxoneflow-go/internal/eventctx"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
	"github.com/cxoneflow/cxoneflow-go/internal/scm"
)

// AzureDevOpsEnterprise implements Variant for Azure DevOps Server/Service
// webhooks, grounded on
// original_source/orchestration/adoe.py
// (`AzureDevOpsEnterpriseOrchestrator`): a fixed diagnostic resource id, a
// Basic-auth-style shared secret carried in the service-hook subscription's
// `Authorization` header, and `eventType` dispatch across
// `git.push`/`git.pullrequest.created`/`git.pullrequest.updated`.
type AzureDevOpsEnterprise struct{}

func (AzureDevOpsEnterprise) Name() model.ConfigKey { return model.ConfigKeyADOE }

// adoeDiagID is the resourceContainers.account.id Azure DevOps sends on its
// built-in "Test" delivery, used the same way across every subscribed
// service hook regardless of tenant.
const adoeDiagID = "f844ec47-a9db-4511-8281-8b63f4eaf94e"

type adoePayload struct {
	EventType          string `json:"eventType"`
	ResourceContainers struct {
		Account struct {
			ID string `json:"id"`
		} `json:"account"`
		Collection struct {
			BaseURL string `json:"baseUrl"`
		} `json:"collection"`
	} `json:"resourceContainers"`
	Resource struct {
		Repository struct {
			ID            string `json:"id"`
			Name          string `json:"name"`
			RemoteURL     string `json:"remoteUrl"`
			DefaultBranch string `json:"defaultBranch"`
			Project       struct {
				Name string `json:"name"`
			} `json:"project"`
		} `json:"repository"`
		IsDraft  bool   `json:"isDraft"`
		Status   string `json:"status"`
		PullRequestID int `json:"pullRequestId"`
		SourceRefName string `json:"sourceRefName"`
		TargetRefName string `json:"targetRefName"`
		LastMergeSourceCommit struct {
			CommitID string `json:"commitId"`
		} `json:"lastMergeSourceCommit"`
		LastMergeTargetCommit struct {
			CommitID string `json:"commitId"`
		} `json:"lastMergeTargetCommit"`
		RefUpdates []struct {
			Name        string `json:"name"`
			NewObjectID string `json:"newObjectId"`
		} `json:"refUpdates"`
	} `json:"resource"`
}

func (AzureDevOpsEnterprise) IsDiagnostic(ctx eventctx.Context) bool {
	var probe struct {
		ResourceContainers struct {
			Account struct {
				ID string `json:"id"`
			} `json:"account"`
		} `json:"resourceContainers"`
	}
	_ = json.Unmarshal(ctx.ParsedBody, &probe)
	return probe.ResourceContainers.Account.ID == adoeDiagID
}

// ValidateSignature checks the Basic-auth-style Authorization header Azure
// DevOps sends for a service hook subscription configured with basic
// authentication: base64("<anything>:<shared-secret>").
func (AzureDevOpsEnterprise) ValidateSignature(ctx eventctx.Context, sharedSecret string) error {
	auth := ctx.Header("Authorization")
	if auth == "" {
		return fmt.Errorf("adoe: Authorization header missing")
	}
	fields := strings.Fields(auth)
	if len(fields) == 0 {
		return fmt.Errorf("adoe: Authorization header malformed")
	}
	decoded, err := base64.StdEncoding.DecodeString(fields[len(fields)-1])
	if err != nil {
		return fmt.Errorf("adoe: Authorization header not base64: %w", err)
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	sent := parts[len(parts)-1]
	if sent != sharedSecret {
		return fmt.Errorf("adoe: shared secret mismatch")
	}
	return nil
}

func (AzureDevOpsEnterprise) Parse(ctx context.Context, ev eventctx.Context, route config.RouteConfig, scmClient scm.Client) (model.ScanRequest, bool, error) {
	var p adoePayload
	if err := json.Unmarshal(ev.ParsedBody, &p); err != nil {
		return model.ScanRequest{}, false, fmt.Errorf("adoe: decode payload: %w", err)
	}

	req := model.ScanRequest{
		ConfigKey:        model.ConfigKeyADOE,
		RepoOrganization: collectionName(p.ResourceContainers.Collection.BaseURL),
		RepoProjectKey:   p.Resource.Repository.Project.Name,
		RepoSlug:         p.Resource.Repository.Name,
		RepoName:         p.Resource.Repository.Name,
		CloneURLs:        []string{p.Resource.Repository.RemoteURL},
	}

	protected, err := scmClient.ProtectedBranches(ctx, p.Resource.Repository.ID)
	if err != nil {
		return model.ScanRequest{}, false, fmt.Errorf("adoe: protected branches: %w", err)
	}
	req.ProtectedBranches = toBranchSet(protected, refToBranch(p.Resource.Repository.DefaultBranch))

	switch p.EventType {
	case "git.push":
		if len(p.Resource.RefUpdates) == 0 {
			return model.ScanRequest{}, false, nil
		}
		update := p.Resource.RefUpdates[0]
		branch := refToBranch(update.Name)
		req.Workflow = model.WorkflowPush
		req.SourceBranch = branch
		req.TargetBranch = branch
		req.SourceHash = update.NewObjectID
		req.TargetHash = update.NewObjectID
		return req, true, nil

	case "git.pullrequest.created", "git.pullrequest.updated":
		prID := fmt.Sprintf("%d", p.Resource.PullRequestID)
		status := p.Resource.Status
		state := status
		if p.Resource.IsDraft {
			state = "draft"
		}
		req.Workflow = model.WorkflowPR
		req.SourceBranch = refToBranch(p.Resource.SourceRefName)
		req.TargetBranch = refToBranch(p.Resource.TargetRefName)
		req.SourceHash = p.Resource.LastMergeSourceCommit.CommitID
		req.TargetHash = p.Resource.LastMergeTargetCommit.CommitID
		req.PRID = &prID
		req.PRState = &state
		req.PRStatus = &status
		return req, true, nil

	default:
		return model.ScanRequest{}, false, nil
	}
}

func (AzureDevOpsEnterprise) ExistingScanLookup(ctx context.Context, scannerClient scanner.Client, projectID string, req model.ScanRequest) (*scanner.Scan, error) {
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

// collectionName extracts the collection name from its base URL
// (".../tfs/DefaultCollection" -> "DefaultCollection"), mirroring
// Path(urlparse(collection_url).path).name in the original.
func collectionName(baseURL string) string {
	trimmed := strings.TrimRight(baseURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}
