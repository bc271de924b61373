// Package dispatch implements the Scan Dispatcher (spec 4.E): given a
// Normalized Scan Request, decides local-clone-scan vs delegated-resolver
// scan, resolves/caches the scanner Project Config, and submits the scan.
package dispatch

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/cxoneflow/cxoneflow-go/internal/cloner"
	"github.com/cxoneflow/cxoneflow-go/internal/errs"
	"github.com/cxoneflow/cxoneflow-go/internal/metrics"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/project"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
)

// Action is the outcome of a dispatch decision (spec 4.E /
// original_source AbstractOrchestrator.ScanAction).
type Action string

const (
	ActionDelegated Action = "delegated"
	ActionExecuting Action = "executing"
	ActionSkipped   Action = "skipped"
	ActionFailed    Action = "failed"
)

// projectConfigCacheTTL matches spec §3's "cached per request" intent:
// long enough to cover one webhook's worth of project-config lookups
// (create-or-retrieve, rename, group reconciliation) without going stale
// across separate events.
const projectConfigCacheTTL = 2 * time.Minute

// Result carries the dispatch outcome plus whatever scan record resulted
// (nil for SKIPPED/DELEGATED).
type Result struct {
	Action Action
	Scan   *scanner.Scan
}

// ResolverDecision is returned by ResolveResolverTag so callers can issue a
// delegated scan without the Dispatcher needing to know about the broker.
type ResolverDecision struct {
	Tag       string
	Delegated bool
}

// Dispatcher holds the Project Config cache (spec §3: "cached per
// request") and the SCM cloner used for the local-clone path.
type Dispatcher struct {
	scannerClient scanner.Client
	cloner        *cloner.Cloner
	cache         *gocache.Cache
	log           *logrus.Entry
}

func New(scannerClient scanner.Client, cl *cloner.Cloner, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		scannerClient: scannerClient,
		cloner:        cl,
		cache:         gocache.New(projectConfigCacheTTL, projectConfigCacheTTL*2),
		log:           log,
	}
}

// ResolveProjectConfig implements spec 4.E step 2: create-or-retrieve,
// optionally rename a legacy name, merge default tags, reconcile group
// memberships with one retry after a cache purge on group-resolution
// error.
func (d *Dispatcher) ResolveProjectConfig(
	ctx context.Context,
	canonicalName string,
	legacyName string,
	renameLegacy bool,
	groupCache *project.GroupCache,
	cloneURL string,
	groupRules []project.GroupRule,
	defaultTags map[string]string,
) (model.ProjectConfig, error) {
	if cached, ok := d.cache.Get(canonicalName); ok {
		return cached.(model.ProjectConfig), nil
	}

	groupIDs := groupCache.ResolveGroups(ctx, cloneURL, groupRules, d.scannerClient.ResolveGroupID, d.log)

	cfg, err := d.scannerClient.ResolveProject(ctx, canonicalName, groupIDs)
	if err != nil {
		return model.ProjectConfig{}, &errs.ScannerAPIError{Op: "resolve project", Err: err}
	}

	if renameLegacy && legacyName != "" && legacyName != canonicalName {
		if err := d.scannerClient.RenameProject(ctx, cfg.ProjectID, canonicalName); err != nil {
			d.log.WithError(err).Warn("legacy project rename failed, continuing with existing name")
		} else {
			cfg.CanonicalName = canonicalName
		}
	}

	if cfg.Tags == nil {
		cfg.Tags = map[string]string{}
	}
	for k, v := range defaultTags {
		if _, exists := cfg.Tags[k]; !exists {
			cfg.Tags[k] = v
		}
	}

	if err := d.scannerClient.UpdateProjectGroups(ctx, cfg.ProjectID, groupIDs); err != nil {
		// One retry with cache purge on group-resolution error (spec 4.E
		// step 2), since stale cached group ids are a likely cause.
		groupCache.Purge()
		groupIDs = groupCache.ResolveGroups(ctx, cloneURL, groupRules, d.scannerClient.ResolveGroupID, d.log)
		if retryErr := d.scannerClient.UpdateProjectGroups(ctx, cfg.ProjectID, groupIDs); retryErr != nil {
			d.log.WithError(retryErr).Warn("group reconciliation failed after cache-purge retry, continuing")
		} else {
			cfg.Groups = groupIDs
		}
	} else {
		cfg.Groups = groupIDs
	}

	d.cache.Set(canonicalName, cfg, gocache.DefaultExpiration)
	return cfg, nil
}

// ResolveResolverTag implements spec 4.E step 3: a project is delegated
// when its resolver tag (project.tags[resolverTagKey] || defaultTag) is
// non-empty and present in allowedTags.
func ResolveResolverTag(cfg model.ProjectConfig, resolverTagKey, defaultTag string, allowedTags []string) ResolverDecision {
	tag := cfg.ResolverTag(resolverTagKey, defaultTag)
	if tag == "" {
		return ResolverDecision{}
	}
	for _, allowed := range allowedTags {
		if allowed == tag {
			return ResolverDecision{Tag: tag, Delegated: true}
		}
	}
	return ResolverDecision{}
}

// CloneCredentials lets callers plug in per-route credential resolution
// without the Dispatcher depending on the secrets package directly.
type CloneCredentials func(ctx context.Context, forceReauth bool) (cloner.Credentials, error)

// ExecLocalScan implements spec 4.E steps 4-5: clone the repo (retrying
// once with force_reauth=true on a CloneAuthError), reset to sourceHash,
// zip, and submit. Spec invariant 8.3 (protected-branch gate) and step 3
// (delegation decision) are the caller's responsibility — ExecLocalScan
// assumes both have already been decided in favor of a local scan.
func (d *Dispatcher) ExecLocalScan(
	ctx context.Context,
	cloneURL, sourceHash, sourceBranch string,
	projectID string,
	creds CloneCredentials,
	archiver func(codeDir string) ([]byte, error),
	tags map[string]string,
	engines map[string]bool,
) (scanner.Scan, error) {
	workDir, err := tempCloneDir()
	if err != nil {
		return scanner.Scan{}, fmt.Errorf("dispatch: temp clone dir: %w", err)
	}
	defer cleanupDir(workDir)

	forceReauth := false
	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		cred, err := creds(ctx, forceReauth)
		if err != nil {
			return scanner.Scan{}, fmt.Errorf("dispatch: resolve clone credentials: %w", err)
		}
		if err := d.cloner.Clone(ctx, cloneURL, workDir, cred); err != nil {
			var authErr *errs.CloneAuthError
			if asCloneAuthError(err, &authErr) && attempt == 0 {
				d.log.WithField("clone_url", cloneURL).Warn("clone auth failure, retrying with force_reauth")
				forceReauth = true
				lastErr = err
				continue
			}
			return scanner.Scan{}, err
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return scanner.Scan{}, lastErr
	}

	if err := d.cloner.ResetHead(ctx, workDir, sourceHash); err != nil {
		return scanner.Scan{}, fmt.Errorf("dispatch: reset head: %w", err)
	}

	archive, err := archiver(workDir)
	if err != nil {
		return scanner.Scan{}, fmt.Errorf("dispatch: archive code: %w", err)
	}

	scan, err := d.scannerClient.SubmitScan(ctx, projectID, archive, tags, engines)
	if err != nil {
		return scanner.Scan{}, &errs.ScannerAPIError{Op: "submit scan", Err: err}
	}

	metrics.ScansDispatched.WithLabelValues(tags["workflow"], "").Inc()
	return scan, nil
}

func asCloneAuthError(err error, target **errs.CloneAuthError) bool {
	ce, ok := err.(*errs.CloneAuthError)
	if ok {
		*target = ce
	}
	return ok
}
