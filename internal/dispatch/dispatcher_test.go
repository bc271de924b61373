package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/cxoneflow/cxoneflow-go/internal/errs"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/project"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScannerClient struct {
	resolveProjectFn     func(ctx context.Context, canonicalName string, groupIDs []string) (model.ProjectConfig, error)
	updateGroupsCalls    int
	updateGroupsFailures int
	renameCalls          int
	submitScanFn         func(ctx context.Context, projectID string, archive []byte, tags map[string]string, engines map[string]bool) (scanner.Scan, error)
}

func (f *fakeScannerClient) ResolveProject(ctx context.Context, canonicalName string, groupIDs []string) (model.ProjectConfig, error) {
	return f.resolveProjectFn(ctx, canonicalName, groupIDs)
}
func (f *fakeScannerClient) RenameProject(ctx context.Context, projectID, canonicalName string) error {
	f.renameCalls++
	return nil
}
func (f *fakeScannerClient) UpdateProjectGroups(ctx context.Context, projectID string, groupIDs []string) error {
	f.updateGroupsCalls++
	if f.updateGroupsCalls <= f.updateGroupsFailures {
		return errors.New("stale group ids")
	}
	return nil
}
func (f *fakeScannerClient) ResolveGroupID(ctx context.Context, groupPath string) (string, error) {
	return "id-" + groupPath, nil
}
func (f *fakeScannerClient) SubmitScan(ctx context.Context, projectID string, archive []byte, tags map[string]string, engines map[string]bool) (scanner.Scan, error) {
	if f.submitScanFn != nil {
		return f.submitScanFn(ctx, projectID, archive, tags, engines)
	}
	return scanner.Scan{ID: "scan-1", ProjectID: projectID}, nil
}
func (f *fakeScannerClient) FindScans(ctx context.Context, projectID string, tagFilter map[string]string) ([]scanner.Scan, error) {
	return nil, nil
}
func (f *fakeScannerClient) UpdateScanTags(ctx context.Context, scanID string, tags map[string]string) error {
	return nil
}
func (f *fakeScannerClient) GetScanStatus(ctx context.Context, scanID string) (scanner.ScanStatus, error) {
	return scanner.StatusCompleted, nil
}
func (f *fakeScannerClient) FetchEnhancedReport(ctx context.Context, scanID string) ([]byte, error) {
	return nil, nil
}
func (f *fakeScannerClient) FetchSARIF(ctx context.Context, scanID string) ([]byte, error) {
	return nil, nil
}

func TestResolveResolverTagDelegatesWhenAllowed(t *testing.T) {
	cfg := model.ProjectConfig{Tags: map[string]string{"resolver": "npm-legacy"}}
	decision := ResolveResolverTag(cfg, "resolver", "", []string{"npm-legacy", "go-modules"})
	assert.True(t, decision.Delegated)
	assert.Equal(t, "npm-legacy", decision.Tag)
}

func TestResolveResolverTagNotAllowed(t *testing.T) {
	cfg := model.ProjectConfig{Tags: map[string]string{"resolver": "npm-legacy"}}
	decision := ResolveResolverTag(cfg, "resolver", "", []string{"go-modules"})
	assert.False(t, decision.Delegated)
	assert.Empty(t, decision.Tag)
}

func TestResolveResolverTagEmptyTagNeverDelegates(t *testing.T) {
	cfg := model.ProjectConfig{}
	decision := ResolveResolverTag(cfg, "resolver", "", []string{"npm-legacy"})
	assert.False(t, decision.Delegated)
}

func TestResolveResolverTagFallsBackToDefault(t *testing.T) {
	cfg := model.ProjectConfig{}
	decision := ResolveResolverTag(cfg, "resolver", "go-modules", []string{"go-modules"})
	assert.True(t, decision.Delegated)
	assert.Equal(t, "go-modules", decision.Tag)
}

func TestResolveProjectConfigMergesDefaultTagsAndGroups(t *testing.T) {
	fake := &fakeScannerClient{
		resolveProjectFn: func(ctx context.Context, canonicalName string, groupIDs []string) (model.ProjectConfig, error) {
			return model.ProjectConfig{ProjectID: "p1", CanonicalName: canonicalName, Tags: map[string]string{"existing": "keep"}}, nil
		},
	}
	d := New(fake, nil, nil)
	groupCache := project.NewGroupCache(8)

	cfg, err := d.ResolveProjectConfig(context.Background(), "acme/widgets", "", false, groupCache, "https://example.com/acme/widgets.git", nil, map[string]string{"existing": "overwritten?", "added": "yes"})
	require.NoError(t, err)
	assert.Equal(t, "keep", cfg.Tags["existing"], "existing tags must not be overwritten by defaults")
	assert.Equal(t, "yes", cfg.Tags["added"])
	assert.Equal(t, 1, fake.updateGroupsCalls)
}

func TestResolveProjectConfigCachesByName(t *testing.T) {
	calls := 0
	fake := &fakeScannerClient{
		resolveProjectFn: func(ctx context.Context, canonicalName string, groupIDs []string) (model.ProjectConfig, error) {
			calls++
			return model.ProjectConfig{ProjectID: "p1", CanonicalName: canonicalName}, nil
		},
	}
	d := New(fake, nil, nil)
	groupCache := project.NewGroupCache(8)

	for i := 0; i < 3; i++ {
		_, err := d.ResolveProjectConfig(context.Background(), "acme/widgets", "", false, groupCache, "", nil, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls, "subsequent calls for the same canonical name should hit the cache")
}

func TestResolveProjectConfigRetriesGroupUpdateAfterPurge(t *testing.T) {
	fake := &fakeScannerClient{
		resolveProjectFn: func(ctx context.Context, canonicalName string, groupIDs []string) (model.ProjectConfig, error) {
			return model.ProjectConfig{ProjectID: "p1", CanonicalName: canonicalName}, nil
		},
		updateGroupsFailures: 1,
	}
	d := New(fake, nil, nil)
	groupCache := project.NewGroupCache(8)

	cfg, err := d.ResolveProjectConfig(context.Background(), "acme/widgets", "", false, groupCache, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.updateGroupsCalls, "first call fails, retry after purge succeeds")
	_ = cfg
}

func TestResolveProjectConfigRenamesLegacyName(t *testing.T) {
	fake := &fakeScannerClient{
		resolveProjectFn: func(ctx context.Context, canonicalName string, groupIDs []string) (model.ProjectConfig, error) {
			return model.ProjectConfig{ProjectID: "p1", CanonicalName: "legacy/name"}, nil
		},
	}
	d := New(fake, nil, nil)
	groupCache := project.NewGroupCache(8)

	cfg, err := d.ResolveProjectConfig(context.Background(), "acme/widgets", "legacy/name", true, groupCache, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.renameCalls)
	assert.Equal(t, "acme/widgets", cfg.CanonicalName)
}

func TestResolveProjectConfigWrapsScannerError(t *testing.T) {
	fake := &fakeScannerClient{
		resolveProjectFn: func(ctx context.Context, canonicalName string, groupIDs []string) (model.ProjectConfig, error) {
			return model.ProjectConfig{}, errors.New("scanner down")
		},
	}
	d := New(fake, nil, nil)
	groupCache := project.NewGroupCache(8)

	_, err := d.ResolveProjectConfig(context.Background(), "acme/widgets", "", false, groupCache, "", nil, nil)
	require.Error(t, err)
	var apiErr *errs.ScannerAPIError
	assert.ErrorAs(t, err, &apiErr)
}
