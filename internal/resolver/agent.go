package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/cxoneflow/cxoneflow-go/internal/cloner"
	"github.com/cxoneflow/cxoneflow-go/internal/crypto"
	"github.com/cxoneflow/cxoneflow-go/internal/dispatch"
	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
)

// Agent processes one delegated-scan message at a time (spec 4.F: "one
// message in-flight per agent instance"). It verifies the signature,
// clones, runs the configured Runner, copies result files into the
// clone, submits the scan, and produces the result message to publish.
type Agent struct {
	Tag          string
	PublicKey    any
	Runner       Runner
	Cloner       *cloner.Cloner
	ScannerClient scanner.Client
	Log          *logrus.Entry
}

// Process implements spec 4.F "Agent execution" steps 1-8, returning the
// DelegatedScanResultMessage to publish back to the issuer. It never
// returns a Go error for business-logic failures (clone, resolver or
// scan-submission failure) — those are encoded in the returned message's State,
// per spec 4.F's resubmission/failure contract; a non-nil error here
// means the message should be nacked without a result being published at
// all (e.g. signature verification failure, spec 4.F step 1: "nack (no
// requeue), log").
func (a *Agent) Process(ctx context.Context, msg envelope.DelegatedScanMessage, handoff CloneCredentialResolver) (envelope.DelegatedScanResultMessage, bool, error) {
	binary, err := msg.Details.Binary()
	if err != nil {
		return envelope.DelegatedScanResultMessage{}, false, fmt.Errorf("resolver agent: canonicalize details: %w", err)
	}

	verifier := crypto.NewCompositeVerifier()
	if err := verifier.Verify(binary, msg.DetailsSignature, a.PublicKey); err != nil {
		a.Log.WithField("tag", a.Tag).WithError(err).Error("signature validation failed, dropping message")
		return envelope.DelegatedScanResultMessage{}, false, err
	}

	workDir, err := os.MkdirTemp("", "cxoneflow-resolver-*")
	if err != nil {
		return a.failureResult(msg, nil, nil), true, nil
	}
	defer os.RemoveAll(workDir)

	creds, err := handoff(ctx, msg.Details.SCMHandoff)
	if err != nil {
		a.Log.WithError(err).Error("could not hydrate SCM credentials for delegated scan")
		return a.failureResult(msg, nil, nil), true, nil
	}

	if err := a.Cloner.Clone(ctx, msg.Details.CloneURL, workDir, creds); err != nil {
		a.Log.WithError(err).Error("resolver agent clone failed")
		return a.failureResult(msg, nil, nil), true, nil
	}
	if err := a.Cloner.ResetHead(ctx, workDir, msg.Details.CommitHash); err != nil {
		a.Log.WithError(err).Error("resolver agent reset-head failed")
		return a.failureResult(msg, nil, nil), true, nil
	}

	resultsDir := filepath.Join(workDir, ".resolver-out")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return a.failureResult(msg, nil, nil), true, nil
	}

	runResult, runErr := a.Runner.Run(ctx, workDir, resultsDir, msg.Details.ProjectID, msg.Details.FileFilters)
	if runErr != nil {
		a.Log.WithError(runErr).Error("resolver execution failed to start")
		return a.failureResult(msg, nil, nil), true, nil
	}

	resolverOut, containerOut := resultPaths(resultsDir)
	_ = copyIfExists(resolverOut, filepath.Join(workDir, ".cxsca-results.json"))
	_ = copyIfExists(containerOut, filepath.Join(workDir, ".cxsca-container-results.json"))

	tags := map[string]string{}
	for k, v := range msg.Details.ScanTags {
		tags[k] = v
	}
	if runResult.ExitCode == 0 {
		tags["resolver"] = "success"
	} else {
		tags["resolver"] = "failure"
	}

	archive, err := archiveFunc(workDir)
	if err != nil {
		return a.failureResult(msg, &runResult.ExitCode, runResult.Logs), true, nil
	}

	scan, err := a.ScannerClient.SubmitScan(ctx, msg.Details.ProjectID, archive, tags, nil)
	if err != nil {
		a.Log.WithError(err).Error("resolver agent scan submission failed")
		return a.failureResult(msg, &runResult.ExitCode, runResult.Logs), true, nil
	}

	state := envelope.StateDone
	if runResult.ExitCode != 0 {
		state = envelope.StateFailure
	}
	scanID := scan.ID
	exitCode := runResult.ExitCode
	logs := runResult.Logs

	return envelope.DelegatedScanResultMessage{
		Header: envelope.Header{
			MessageType:   envelope.TypeDelegatedScanResult,
			SchemaVersion: envelope.SchemaVersion,
			Moniker:       msg.Moniker,
			Workflow:      msg.Workflow,
			State:         state,
			CorrelationID: msg.CorrelationID,
		},
		Details:          msg.Details,
		DetailsSignature: msg.DetailsSignature,
		ResolverExitCode: &exitCode,
		ScanID:           &scanID,
		Logs:             logs,
	}, true, nil
}

// failureResult builds a hard- or soft-failure result depending on
// whether a scan_id is available (spec §3 invariant: ScanID presence
// distinguishes soft from hard failure).
func (a *Agent) failureResult(msg envelope.DelegatedScanMessage, exitCode *int, logs []byte) envelope.DelegatedScanResultMessage {
	return envelope.DelegatedScanResultMessage{
		Header: envelope.Header{
			MessageType:   envelope.TypeDelegatedScanResult,
			SchemaVersion: envelope.SchemaVersion,
			Moniker:       msg.Moniker,
			Workflow:      msg.Workflow,
			State:         envelope.StateFailure,
			CorrelationID: msg.CorrelationID,
		},
		Details:          msg.Details,
		DetailsSignature: msg.DetailsSignature,
		ResolverExitCode: exitCode,
		Logs:             logs,
	}
}

// CloneCredentialResolver hydrates clone credentials from a HandoffConfig
// (spec §9 design note: replace opaque pickled service objects with a
// declared handoff config the agent rehydrates typed clients from).
type CloneCredentialResolver func(ctx context.Context, handoff model.HandoffConfig) (cloner.Credentials, error)

// archiveFunc is a package-level indirection so tests can stub archiving
// without depending on internal/dispatch's exported Archive directly
// creating an import cycle risk as the package grows.
var archiveFunc = dispatch.Archive
