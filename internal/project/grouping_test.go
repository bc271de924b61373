package project

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveGroupsMatchesRule(t *testing.T) {
	cache := NewGroupCache(8)
	rules := []GroupRule{
		{CloneURLRegex: regexp.MustCompile(`acme/.*`), GroupPaths: []string{"team-a", "team-b"}},
	}
	calls := 0
	resolve := func(ctx context.Context, path string) (string, error) {
		calls++
		return "id-" + path, nil
	}
	ids := cache.ResolveGroups(context.Background(), "git@github.com:acme/widgets.git", rules, resolve, nil)
	sort.Strings(ids)
	assert.Equal(t, []string{"id-team-a", "id-team-b"}, ids)
	assert.Equal(t, 2, calls)
}

func TestResolveGroupsSkipsNonMatchingRule(t *testing.T) {
	cache := NewGroupCache(8)
	rules := []GroupRule{
		{CloneURLRegex: regexp.MustCompile(`other/.*`), GroupPaths: []string{"team-a"}},
	}
	resolve := func(ctx context.Context, path string) (string, error) {
		t.Fatal("resolve should not be called for a non-matching rule")
		return "", nil
	}
	ids := cache.ResolveGroups(context.Background(), "git@github.com:acme/widgets.git", rules, resolve, nil)
	assert.Empty(t, ids)
}

func TestResolveGroupsCachesResult(t *testing.T) {
	cache := NewGroupCache(8)
	rules := []GroupRule{
		{CloneURLRegex: regexp.MustCompile(`.*`), GroupPaths: []string{"team-a"}},
	}
	calls := 0
	resolve := func(ctx context.Context, path string) (string, error) {
		calls++
		return "id-" + path, nil
	}
	for i := 0; i < 3; i++ {
		ids := cache.ResolveGroups(context.Background(), "anything", rules, resolve, nil)
		assert.Equal(t, []string{"id-team-a"}, ids)
	}
	assert.Equal(t, 1, calls, "second and third resolution should hit cache")
}

func TestResolveGroupsRetriesThenWarnsAndContinues(t *testing.T) {
	cache := NewGroupCache(8)
	rules := []GroupRule{
		{CloneURLRegex: regexp.MustCompile(`.*`), GroupPaths: []string{"flaky", "stable"}},
	}
	calls := map[string]int{}
	resolve := func(ctx context.Context, path string) (string, error) {
		calls[path]++
		if path == "flaky" {
			return "", errors.New("transient resolution error")
		}
		return "id-" + path, nil
	}
	ids := cache.ResolveGroups(context.Background(), "anything", rules, resolve, nil)
	assert.Equal(t, []string{"id-stable"}, ids)
	assert.Equal(t, maxResolutionAttempts, calls["flaky"])
	assert.Equal(t, 1, calls["stable"])
}

func TestGroupCachePurgeForcesResolution(t *testing.T) {
	cache := NewGroupCache(8)
	rules := []GroupRule{
		{CloneURLRegex: regexp.MustCompile(`.*`), GroupPaths: []string{"team-a"}},
	}
	calls := 0
	resolve := func(ctx context.Context, path string) (string, error) {
		calls++
		return "id-" + path, nil
	}
	cache.ResolveGroups(context.Background(), "anything", rules, resolve, nil)
	cache.Purge()
	cache.ResolveGroups(context.Background(), "anything", rules, resolve, nil)
	assert.Equal(t, 2, calls, "purge should force re-resolution")
}

func TestNewGroupCacheDefaultsSize(t *testing.T) {
	cache := NewGroupCache(0)
	require.NotNil(t, cache.cache)
}
