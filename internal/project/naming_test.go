package project

import (
	"context"
	"errors"
	"testing"

	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNamer(t *testing.T) {
	req := model.ScanRequest{RepoOrganization: "acme", RepoProjectKey: "core", RepoName: "widgets"}
	name, err := DefaultNamer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "acme/core/widgets", name)
}

func TestDefaultNamerSkipsEmptySegments(t *testing.T) {
	req := model.ScanRequest{RepoOrganization: "", RepoProjectKey: "core", RepoName: "widgets"}
	name, err := DefaultNamer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "core/widgets", name)
}

func TestDefaultNamerRejectsEmptyRepo(t *testing.T) {
	_, err := DefaultNamer(context.Background(), model.ScanRequest{})
	assert.Error(t, err)
}

func TestResolveNameUsesNamerResult(t *testing.T) {
	req := model.ScanRequest{RepoName: "widgets"}
	namer := func(ctx context.Context, r model.ScanRequest) (string, error) {
		return "custom/name", nil
	}
	name, err := ResolveName(context.Background(), namer, req, logrus.NewEntry(logrus.StandardLogger()))
	require.NoError(t, err)
	assert.Equal(t, "custom/name", name)
}

func TestResolveNameFallsBackOnError(t *testing.T) {
	req := model.ScanRequest{RepoOrganization: "acme", RepoName: "widgets"}
	namer := func(ctx context.Context, r model.ScanRequest) (string, error) {
		return "", errors.New("naming service down")
	}
	name, err := ResolveName(context.Background(), namer, req, logrus.NewEntry(logrus.StandardLogger()))
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", name)
}

func TestResolveNameFallsBackOnEmptyResult(t *testing.T) {
	req := model.ScanRequest{RepoOrganization: "acme", RepoName: "widgets"}
	namer := func(ctx context.Context, r model.ScanRequest) (string, error) {
		return "", nil
	}
	name, err := ResolveName(context.Background(), namer, req, logrus.NewEntry(logrus.StandardLogger()))
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", name)
}

func TestResolveNameNilNamer(t *testing.T) {
	req := model.ScanRequest{RepoOrganization: "acme", RepoName: "widgets"}
	name, err := ResolveName(context.Background(), nil, req, logrus.NewEntry(logrus.StandardLogger()))
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", name)
}
