// Package orchestrator implements the Orchestrator Front-End (spec 4.D):
// one variant per SCM, each parsing that SCM's webhook payload into a
// Normalized Scan Request and handing it to the Scan Dispatcher (4.E), the
// Delegated Resolver Protocol (4.F), and the Feedback Workflows (4.H).
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cxoneflow/cxoneflow-go/internal/broker"
	"github.com/cxoneflow/cxoneflow-go/internal/config"
	"github.com/cxoneflow/cxoneflow-go/internal/dispatch"
	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/errs"
	"github.com/cxoneflow/cxoneflow-go/internal/eventctx"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/polling"
	"github.com/cxoneflow/cxoneflow-go/internal/project"
	"github.com/cxoneflow/cxoneflow-go/internal/resolver"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
	"github.com/cxoneflow/cxoneflow-go/internal/scm"
)

// Variant is the per-SCM parsing contract (spec 4.D: "One variant per
// SCM"). Each implementation recognizes its own diagnostic/ping payloads,
// shared-secret scheme, and event-type vocabulary, but hands a common
// Normalized Scan Request to the shared Execute algorithm below.
type Variant interface {
	// Name identifies the SCM for routing/logging ("bbdc", "adoe", "gh", "gl").
	Name() model.ConfigKey

	// IsDiagnostic reports whether this delivery is a ping/test payload
	// that should be acknowledged without further processing (spec 4.D
	// step 1).
	IsDiagnostic(ctx eventctx.Context) bool

	// ValidateSignature checks the shared-secret scheme this SCM uses
	// (HMAC header, or basic-auth equivalent) (spec 4.D step 2).
	ValidateSignature(ctx eventctx.Context, sharedSecret string) error

	// Parse turns a validated, non-diagnostic delivery into a Normalized
	// Scan Request (spec 4.D steps 3-5). ok is false for event types this
	// variant intentionally ignores (e.g. a comment-added webhook).
	Parse(ctx context.Context, ev eventctx.Context, route config.RouteConfig, scmClient scm.Client) (req model.ScanRequest, ok bool, err error)

	// ExistingScanLookup reports whether a scan already exists for
	// (project, pr_id, source_hash), for the PR tag-only-update path (spec
	// 4.D: "if a scan already exists ... tag-only update path").
	ExistingScanLookup(ctx context.Context, scannerClient scanner.Client, projectID string, req model.ScanRequest) (*scanner.Scan, error)
}

// Deps bundles the collaborators Execute threads through to the dispatcher
// and resolver packages, kept here rather than on Orchestrator so a single
// Orchestrator instance can serve many routes with per-route clients.
type Deps struct {
	ScannerClient scanner.Client
	SCMClient     scm.Client
	Dispatcher    *dispatch.Dispatcher
	GroupCache    *project.GroupCache
	Namer         project.Namer
	Issuer        *resolver.Issuer
	CloneCreds    dispatch.CloneCredentials
	Archiver      func(codeDir string) ([]byte, error)

	// Broker publishes the initial AWAIT message that hands a freshly
	// submitted (or delegated-and-resolved) scan off to the Scan Polling
	// State Machine (spec 4.E -> 4.G handoff). ArtifactsBase feeds the
	// FeedbackContext the eventual PR/push feedback workflow renders links
	// against (spec §6 "server-base-url: public URL prefix for PR artifact
	// links").
	Broker        *broker.Client
	ArtifactsBase string

	// SCMHandoffTemplate / ScannerHandoffTemplate carry everything a
	// resolver agent needs to rehydrate typed clients except the
	// request-specific moniker, which HandleEvent fills in per route
	// (spec §9 design note: declared handoff config, not pickled objects).
	SCMHandoffTemplate     model.HandoffConfig
	ScannerHandoffTemplate model.HandoffConfig
}

// Orchestrator runs the shared front-end algorithm against a pluggable
// Variant, grounded on
// original_source/orchestration/base.py's AbstractOrchestrator.handle_event
// / __orchestrate_scan.
type Orchestrator struct {
	variant Variant
	log     *logrus.Entry
}

func New(v Variant, log *logrus.Entry) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{variant: v, log: log}
}

// Outcome reports what HandleEvent decided to do, for the HTTP handler to
// turn into a status code and for metrics/logging.
type Outcome string

const (
	OutcomeDiagnostic   Outcome = "diagnostic"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeDraftSkipped Outcome = "draft_skipped"
	OutcomeTagOnly      Outcome = "tag_only_update"
	Outcome4EResult     Outcome = "dispatched" // delegates to dispatch.Action via Result.Dispatch
)

// Result is HandleEvent's return value.
type Result struct {
	Outcome Outcome
	Dispatch dispatch.Result
	Request  model.ScanRequest
}

// HandleEvent implements spec 4.D end to end: diagnostic check, signature
// validation, parse into a Normalized Scan Request, draft-PR skip,
// tag-only-update short circuit, then handoff to the Scan Dispatcher and
// (when delegated) the Delegated Resolver Protocol issuer.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev eventctx.Context, route config.RouteConfig, sharedSecret string, deps Deps) (Result, error) {
	if o.variant.IsDiagnostic(ev) {
		o.log.WithField("service", route.ServiceName).Debug("diagnostic payload, skipping")
		return Result{Outcome: OutcomeDiagnostic}, nil
	}

	if err := o.variant.ValidateSignature(ev, sharedSecret); err != nil {
		return Result{}, &errs.SignatureInvalidError{Reason: err.Error()}
	}

	req, ok, err := o.variant.Parse(ctx, ev, route, deps.SCMClient)
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: parse event: %w", err)
	}
	if !ok {
		return Result{Outcome: OutcomeIgnored}, nil
	}

	if req.PRID != nil && req.PRState != nil && *req.PRState == "draft" {
		o.log.WithField("pr_id", *req.PRID).Debug("draft PR, skipping")
		return Result{Outcome: OutcomeDraftSkipped, Request: req}, nil
	}

	// Scan Dispatcher decision order (spec 4.E): the protected-branch gate
	// is decision 1, strictly before decision 2 (resolve project config).
	// Checked here, ahead of project-name resolution and the tag-only-
	// update lookup too, so a push/PR against an unprotected branch never
	// drives any scanner-API side effect (project create/rename/tag-merge/
	// group-sync, or an existing-scan lookup) that a SKIPPED outcome would
	// waste.
	if !req.IsProtectedTarget() {
		return Result{Outcome: Outcome4EResult, Request: req, Dispatch: dispatch.Result{Action: dispatch.ActionSkipped}}, nil
	}

	canonicalName, err := project.ResolveName(ctx, deps.Namer, req, o.log)
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: resolve project name: %w", err)
	}

	cfg, err := deps.Dispatcher.ResolveProjectConfig(
		ctx, canonicalName, "", route.CxOne.RenameLegacy,
		deps.GroupCache, req.CloneURL(), compileGroupRules(route.ProjectGroups.Rules), route.CxOne.DefaultTags,
	)
	if err != nil {
		return Result{}, err
	}

	if req.PRID != nil {
		if existing, lookupErr := o.variant.ExistingScanLookup(ctx, deps.ScannerClient, cfg.ProjectID, req); lookupErr == nil && existing != nil {
			tags := scanTagsFor(req, route.ServiceName)
			if err := deps.ScannerClient.UpdateScanTags(ctx, existing.ID, tags); err != nil {
				return Result{}, &errs.ScannerAPIError{Op: "tag-only update", Err: err}
			}
			return Result{Outcome: OutcomeTagOnly, Request: req, Dispatch: dispatch.Result{Action: dispatch.ActionExecuting, Scan: existing}}, nil
		}
	}

	decision := dispatch.ResolveResolverTag(cfg, route.ScanAgent.ResolverTagKey, route.ScanAgent.DefaultTag, route.ScanAgent.AllowedTags)
	tags := scanTagsFor(req, route.ServiceName)

	if decision.Delegated {
		details := delegatedDetails(req, cfg, route, ev, deps)
		timeout := time.Duration(route.ScanAgent.ScanTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 2 * time.Hour
		}
		correlationID, err := deps.Issuer.Request(ctx, decision.Tag, details, route.ServiceName, envelope.Workflow(req.Workflow), route.Feedback.PRDecoration || route.Feedback.PushSARIF, timeout)
		if err != nil {
			return Result{}, err
		}
		o.log.WithField("correlation_id", correlationID).Info("delegated scan issued")
		return Result{Outcome: Outcome4EResult, Request: req, Dispatch: dispatch.Result{Action: dispatch.ActionDelegated}}, nil
	}

	scan, err := deps.Dispatcher.ExecLocalScan(ctx, req.CloneURL(), req.SourceHash, req.SourceBranch, cfg.ProjectID, deps.CloneCreds, deps.Archiver, tags, enginesAsBoolMap(cfg.EngineSelectionForBranch(req.SourceBranch)))
	if err != nil {
		return Result{}, err
	}

	header := envelope.Header{
		MessageType: envelope.TypeScanAwait,
		SchemaVersion: envelope.SchemaVersion,
		Moniker:       route.ServiceName,
		Workflow:      envelope.Workflow(req.Workflow),
		State:         envelope.StateAwait,
	}
	if err := o.PublishAwait(ctx, deps, header, cfg.ProjectID, scan.ID, feedbackContextFor(req, route, deps)); err != nil {
		o.log.WithError(err).Error("failed to publish initial scan-await message; scan will never be polled")
	}

	return Result{Outcome: Outcome4EResult, Request: req, Dispatch: dispatch.Result{Action: dispatch.ActionExecuting, Scan: &scan}}, nil
}

// PublishAwait encodes and publishes the initial AWAIT message for a
// submitted scan (spec 4.G: "AWAIT messages carry a drop_by absolute
// timestamp and per-message TTL set to the current polling interval").
// Exported so the kickoff HTTP handler, which dispatches scans outside
// HandleEvent to avoid an import cycle, can reuse it directly.
func (o *Orchestrator) PublishAwait(ctx context.Context, deps Deps, header envelope.Header, projectID, scanID string, fc envelope.FeedbackContext) error {
	if deps.Broker == nil {
		return fmt.Errorf("orchestrator: no broker configured, cannot start polling")
	}
	details, err := fc.Binary()
	if err != nil {
		return fmt.Errorf("orchestrator: encode feedback context: %w", err)
	}
	msg := polling.NewAwait(header, projectID, scanID, details, time.Now(), polling.DefaultCumulativeDrop)
	body, err := envelope.Encode(msg.Header, msg)
	if err != nil {
		return fmt.Errorf("orchestrator: encode scan-await message: %w", err)
	}
	routingKey := broker.RoutingKey("poll", string(envelope.StateAwait), string(header.Workflow), header.Moniker)
	return deps.Broker.Publish(ctx, broker.ExchangeScanAwait, routingKey, body, broker.PublishOpts{
		Expiration: polling.DefaultInitialInterval,
		Persistent: true,
	})
}

// feedbackContextFor builds the declared handoff the eventual feedback
// workflow needs to render PR decoration or push SARIF without re-parsing
// the original event (spec §3 WorkflowDetails, §9 "declared handoff config,
// not opaque object graphs").
func feedbackContextFor(req model.ScanRequest, route config.RouteConfig, deps Deps) envelope.FeedbackContext {
	return envelope.FeedbackContext{
		ConfigKey:     string(req.ConfigKey),
		Moniker:       route.ServiceName,
		RepoSlug:      req.RepoSlug,
		RepoName:      req.RepoName,
		CloneURL:      req.CloneURL(),
		Branch:        req.SourceBranch,
		CommitHash:    req.SourceHash,
		PRID:          req.PRID,
		ArtifactsBase: deps.ArtifactsBase,
	}
}

// HandleDelegatedResult implements spec 4.F's "Result path (issuer)":
// given a result message whose signature the caller has already verified
// against this issuer's own public key, classify it and either surface
// failure feedback directly (hard failure, no scan to poll) or dispatch
// the normal polling/feedback pipeline by publishing an AWAIT message for
// the delivered scan_id — "re-entering the orchestrator with the
// delivered scan_id, which routes to the normal polling/feedback
// pipeline."
func (o *Orchestrator) HandleDelegatedResult(ctx context.Context, msg envelope.DelegatedScanResultMessage, deps Deps, handlers []polling.FeedbackHandler) error {
	outcome, classifyErr := resolver.Classify(msg)
	fc := msg.Details.FeedbackContext

	switch outcome {
	case resolver.OutcomeHardFailure:
		o.log.WithError(classifyErr).Warn("delegated scan hard failure, surfacing feedback directly")
		details, err := fc.Binary()
		if err != nil {
			return fmt.Errorf("orchestrator: encode feedback context: %w", err)
		}
		for _, h := range handlers {
			if err := h.OnFailure(ctx, msg.Details.ProjectID, "", details, classifyErr.Error()); err != nil {
				o.log.WithError(err).Error("feedback handler failed on delegated hard failure")
			}
		}
		return nil
	case resolver.OutcomeSoftFailureProceed:
		o.log.WithError(classifyErr).Warn("delegated scan soft failure, proceeding to poll")
	}

	if msg.ScanID == nil {
		return fmt.Errorf("orchestrator: delegated result in outcome %d missing scan_id", outcome)
	}
	return o.PublishAwait(ctx, deps, msg.Header, msg.Details.ProjectID, *msg.ScanID, fc)
}

// scanTagsFor builds the always-present scan tags plus PR-workflow-only
// tags (spec 4.E: "Scan tags always include ... PR workflows additionally
// set pr-id, pr-target, pr-status, pr-state").
func scanTagsFor(req model.ScanRequest, moniker string) map[string]string {
	tags := map[string]string{
		"commit":       req.SourceHash,
		"workflow":     string(req.Workflow),
		"service":      moniker,
		"tool-version": ToolVersion,
	}
	for k, v := range req.ScanTags {
		tags[k] = v
	}
	if req.PRID != nil {
		tags["pr-id"] = *req.PRID
		tags["pr-target"] = req.TargetBranch
		if req.PRStatus != nil {
			tags["pr-status"] = *req.PRStatus
		}
		if req.PRState != nil {
			tags["pr-state"] = *req.PRState
		}
	}
	return tags
}

// enginesAsBoolMap adapts a ProjectConfig engine-selection set to the
// scanner.Client.SubmitScan engine-toggle map.
func enginesAsBoolMap(set map[string]struct{}) map[string]bool {
	out := make(map[string]bool, len(set))
	for k := range set {
		out[k] = true
	}
	return out
}

// compileGroupRules compiles the configured clone-url-regex group rules
// once per call; an invalid regex was already rejected at config load
// time (spec §6), so a compile failure here just drops that rule rather
// than failing the whole request.
func compileGroupRules(rules []config.GroupRule) []project.GroupRule {
	out := make([]project.GroupRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.CloneURLRegex)
		if err != nil {
			continue
		}
		out = append(out, project.GroupRule{CloneURLRegex: re, GroupPaths: r.GroupPaths})
	}
	return out
}

// ToolVersion is stamped onto every scan tag set (spec 4.E: "tool
// version"); overridden at build time via -ldflags in cmd/cxoneflow.
var ToolVersion = "dev"

// delegatedDetails builds the canonical DelegatedScanDetails payload
// handed to the resolver issuer (spec 4.F "Issue path"), filling the
// handoff-config templates with this route's moniker rather than
// transporting any live client/service object.
func delegatedDetails(req model.ScanRequest, cfg model.ProjectConfig, route config.RouteConfig, ev eventctx.Context, deps Deps) envelope.DelegatedScanDetails {
	scmHandoff := deps.SCMHandoffTemplate
	scmHandoff.Moniker = route.ServiceName
	scannerHandoff := deps.ScannerHandoffTemplate
	scannerHandoff.Moniker = route.ServiceName

	return envelope.DelegatedScanDetails{
		CloneURL:        req.CloneURL(),
		CommitHash:      req.SourceHash,
		ScanBranch:      req.SourceBranch,
		ScanTags:        scanTagsFor(req, route.ServiceName),
		FileFilters:     route.ScanConfig.FileFilters,
		ProjectID:       cfg.ProjectID,
		SCMHandoff:      scmHandoff,
		ScannerHandoff:  scannerHandoff,
		EventContext:    ev,
		Orchestrator:    string(req.ConfigKey),
		Version:         "1",
		FeedbackContext: feedbackContextFor(req, route, deps),
	}
}
