// Package kickoff implements the Kickoff Service (spec 4.J): on-demand
// scan requests that bypass the webhook path entirely, enforcing
// single-active-scan-per-(project,branch) and a concurrency cap, and
// validating a bearer JWT (spec 4.A) instead of a shared secret.
package kickoff

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cxoneflow/cxoneflow-go/internal/crypto"
	"github.com/cxoneflow/cxoneflow-go/internal/dispatch"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
)

// TagKey is the key of the kickoff tag this service sets, with the
// service moniker as its value, on every scan it starts (spec 4.J:
// "invokes the push-scan workflow with a kickoff=<moniker> tag").
const TagKey = "kickoff"

// KickoffScanStates is the set of scanner states that count toward the
// single-active-scan check (spec invariant 8.8: "Running/Queued/Completed");
// the concurrency cap counts RunningKickoffStates instead.
var KickoffScanStates = map[scanner.ScanStatus]struct{}{
	scanner.StatusRunning:   {},
	scanner.StatusQueued:    {},
	scanner.StatusCompleted: {},
}

// RunningKickoffStates is the narrower set counted against the
// concurrency cap: only scans still actually occupying capacity (spec
// 4.J: "currently running/queued kickoff scans").
var RunningKickoffStates = map[scanner.ScanStatus]struct{}{
	scanner.StatusRunning: {},
	scanner.StatusQueued:  {},
}

// Request is the typed kickoff message per SCM (spec 4.J: "clone urls +
// branch + sha + SCM-specific identifiers").
type Request struct {
	ConfigKey    model.ConfigKey
	CloneURLs    []string
	Branch       string
	CommitHash   string
	RepoSlug     string
	ExtraIDs     map[string]string // SCM-specific identifiers (e.g. Bitbucket project key)
}

// RunningScan is one currently-executing scan in the running-scans
// snapshot (SPEC_FULL.md supplement #4, the `ExecutingScan` tuple).
type RunningScan struct {
	ProjectName string `json:"project_name"`
	ProjectID   string `json:"project_id"`
	ScanID      string `json:"scan_id"`
	Branch      string `json:"branch"`
}

// Outcome is the decision KickoffService.Start returns.
type Outcome string

const (
	OutcomeStarted      Outcome = "started"
	OutcomeScanExists   Outcome = "scan_exists"
	OutcomeTooManyScans Outcome = "too_many_scans"
)

// Result is the JSON body the kickoff HTTP endpoint renders (spec §6:
// "{running_scans:[...], started_scan?:...}").
type Result struct {
	Outcome      Outcome       `json:"-"`
	RunningScans []RunningScan `json:"running_scans"`
	StartedScan  *RunningScan  `json:"started_scan,omitempty"`
}

// Service implements spec 4.J end to end.
type Service struct {
	ScannerClient      scanner.Client
	Dispatcher         *dispatch.Dispatcher
	MaxConcurrentScans int
	Moniker            string
	Log                *logrus.Entry
}

func New(scannerClient scanner.Client, dispatcher *dispatch.Dispatcher, maxConcurrentScans int, moniker string, log *logrus.Entry) *Service {
	if maxConcurrentScans <= 0 {
		maxConcurrentScans = 3
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{ScannerClient: scannerClient, Dispatcher: dispatcher, MaxConcurrentScans: maxConcurrentScans, Moniker: moniker, Log: log}
}

// VerifyBearer validates the kickoff JWT bearer token (spec 4.J step 2,
// 4.A) against the configured public key.
func VerifyBearer(token string, publicKey any) error {
	_, err := crypto.VerifyKickoffJWT(token, publicKey)
	return err
}

// CloneExec is the push-scan execution collaborator a caller plugs in, so
// Start can invoke the same local-or-delegated scan path the webhook
// orchestrator uses without Service importing orchestrator (which would
// create an import cycle: orchestrator already depends on dispatch).
type CloneExec func(ctx context.Context, projectID string, tags map[string]string) (scanner.Scan, error)

// Start implements spec 4.J: single-active-scan gate, concurrency cap,
// then push-scan execution tagged kickoff=<moniker>.
func (s *Service) Start(ctx context.Context, projectID, projectName string, req Request, exec CloneExec) (Result, error) {
	existing, err := s.ScannerClient.FindScans(ctx, projectID, map[string]string{TagKey: s.Moniker})
	if err != nil {
		return Result{}, fmt.Errorf("kickoff: find existing scans: %w", err)
	}

	if hasKickoffScanInStates(existing, req.Branch, KickoffScanStates) {
		return Result{Outcome: OutcomeScanExists, RunningScans: s.snapshot(existing, projectName)}, nil
	}

	runningCount := countInStates(existing, RunningKickoffStates)
	if runningCount >= s.MaxConcurrentScans {
		return Result{Outcome: OutcomeTooManyScans, RunningScans: s.snapshot(existing, projectName)}, nil
	}

	tags := map[string]string{
		TagKey:     s.Moniker,
		"workflow": string(model.WorkflowPush),
		"commit":   req.CommitHash,
	}
	scan, err := exec(ctx, projectID, tags)
	if err != nil {
		return Result{}, fmt.Errorf("kickoff: start scan: %w", err)
	}

	started := &RunningScan{ProjectName: projectName, ProjectID: projectID, ScanID: scan.ID, Branch: req.Branch}
	return Result{
		Outcome:      OutcomeStarted,
		RunningScans: s.snapshot(existing, projectName),
		StartedScan:  started,
	}, nil
}

func hasKickoffScanInStates(scans []scanner.Scan, branch string, states map[scanner.ScanStatus]struct{}) bool {
	for _, sc := range scans {
		if sc.Branch != branch {
			continue
		}
		if _, ok := states[sc.Status]; ok {
			return true
		}
	}
	return false
}

func countInStates(scans []scanner.Scan, states map[scanner.ScanStatus]struct{}) int {
	n := 0
	for _, sc := range scans {
		if _, ok := states[sc.Status]; ok {
			n++
		}
	}
	return n
}

func (s *Service) snapshot(scans []scanner.Scan, projectName string) []RunningScan {
	out := make([]RunningScan, 0, len(scans))
	for _, sc := range scans {
		if _, ok := RunningKickoffStates[sc.Status]; !ok {
			continue
		}
		out = append(out, RunningScan{ProjectName: projectName, ProjectID: sc.ProjectID, ScanID: sc.ID, Branch: sc.Branch})
	}
	return out
}
