package project

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// GroupRule maps clone URLs matching CloneURLRegex to a set of scanner
// group paths to resolve (spec 4.I).
type GroupRule struct {
	CloneURLRegex *regexp.Regexp
	GroupPaths    []string
}

// GroupIDResolver resolves a single scanner group path to its id. The
// concrete scanner client implements this.
type GroupIDResolver func(ctx context.Context, groupPath string) (string, error)

// maxResolutionAttempts bounds the retry-then-warn-continue loop
// (SPEC_FULL.md supplement #5, grounded on
// original_source/cxone_service/grouping.py).
const maxResolutionAttempts = 3

// GroupCache is the single process-wide group-id cache (spec §5: "a
// group-id cache (guarded by a single async lock)"), backed by a bounded
// LRU the way estuary-flow bounds its SNI cache
// (go/network/frontend.go).
type GroupCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, string]
}

// NewGroupCache builds a cache holding up to size resolved group paths.
func NewGroupCache(size int) *GroupCache {
	if size <= 0 {
		size = 1024
	}
	c, _ := lru.New[string, string](size)
	return &GroupCache{cache: c}
}

// Purge clears every cached group id. Triggered on a project-update
// failure that may be caused by stale group ids (spec 4.I).
func (g *GroupCache) Purge() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache.Purge()
}

// ResolveGroups resolves every rule whose CloneURLRegex matches cloneURL,
// retrying each unresolved path up to maxResolutionAttempts times before
// warning and continuing with whatever did resolve (spec 4.I; supplement
// #5: "never hard failing project creation over a grouping hiccup").
func (g *GroupCache) ResolveGroups(ctx context.Context, cloneURL string, rules []GroupRule, resolve GroupIDResolver, log *logrus.Entry) []string {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	var ids []string
	for _, rule := range rules {
		if !rule.CloneURLRegex.MatchString(cloneURL) {
			continue
		}
		for _, path := range rule.GroupPaths {
			id, ok := g.resolveOne(ctx, path, resolve, log)
			if ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (g *GroupCache) resolveOne(ctx context.Context, path string, resolve GroupIDResolver, log *logrus.Entry) (string, bool) {
	g.mu.Lock()
	if id, ok := g.cache.Get(path); ok {
		g.mu.Unlock()
		return id, true
	}
	g.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxResolutionAttempts; attempt++ {
		id, err := resolve(ctx, path)
		if err == nil {
			g.mu.Lock()
			g.cache.Add(path, id)
			g.mu.Unlock()
			return id, true
		}
		lastErr = err
	}

	log.WithField("group_path", path).WithError(fmt.Errorf("after %d attempts: %w", maxResolutionAttempts, lastErr)).
		Warn("group path resolution failed, continuing without it")
	return "", false
}
