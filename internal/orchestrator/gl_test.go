package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxoneflow/cxoneflow-go/internal/config"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
)

func TestGitLabIsDiagnostic(t *testing.T) {
	var gl GitLab
	ctx := newTestEventCtx(t, `{"message":"Hello World"}`, nil)
	assert.True(t, gl.IsDiagnostic(ctx))

	ctx2 := newTestEventCtx(t, `{"object_kind":"push"}`, nil)
	assert.False(t, gl.IsDiagnostic(ctx2))
}

func TestGitLabValidateSignature(t *testing.T) {
	var gl GitLab
	ctx := newTestEventCtx(t, `{}`, map[string][]string{"X-Gitlab-Token": {"s3cr3t"}})
	assert.NoError(t, gl.ValidateSignature(ctx, "s3cr3t"))
	assert.Error(t, gl.ValidateSignature(ctx, "wrong"))
}

func TestGitLabParsePushSkipsBranchCreateDelete(t *testing.T) {
	var gl GitLab
	body := `{"object_kind":"push","before":"0000000000000000000000000000000000000000",
		"after":"abc123","ref":"refs/heads/feature","project":{"path_with_namespace":"acme/widgets","default_branch":"main"}}`
	ctx := newTestEventCtx(t, body, nil)
	scmClient := fakeSCMClient{defaultBranch: "main"}
	_, ok, err := gl.Parse(context.Background(), ctx, config.RouteConfig{}, scmClient)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGitLabParsePush(t *testing.T) {
	var gl GitLab
	body := `{"object_kind":"push","before":"deadbeef","after":"abc123","ref":"refs/heads/main",
		"project":{"path_with_namespace":"acme/widgets","default_branch":"main","git_ssh_url":"git@gl:acme/widgets.git"}}`
	ctx := newTestEventCtx(t, body, nil)
	scmClient := fakeSCMClient{defaultBranch: "main", protected: []string{"main"}}
	req, ok, err := gl.Parse(context.Background(), ctx, config.RouteConfig{}, scmClient)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.WorkflowPush, req.Workflow)
	assert.Equal(t, "abc123", req.SourceHash)
	assert.True(t, req.IsProtectedTarget())
}

func TestGitLabParseMergeRequestDraft(t *testing.T) {
	var gl GitLab
	body := `{"object_kind":"merge_request","object_attributes":{"iid":3,"state":"opened","action":"open",
		"draft":true,"source_branch":"feature","target_branch":"main","last_commit":{"id":"abc123"}},
		"project":{"path_with_namespace":"acme/widgets","default_branch":"main"}}`
	ctx := newTestEventCtx(t, body, nil)
	scmClient := fakeSCMClient{defaultBranch: "main"}
	req, ok, err := gl.Parse(context.Background(), ctx, config.RouteConfig{}, scmClient)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, req.PRState)
	assert.Equal(t, "draft", *req.PRState)
	require.NotNil(t, req.PRID)
	assert.Equal(t, "3", *req.PRID)
}
