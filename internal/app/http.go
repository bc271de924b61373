package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/errs"
	"github.com/cxoneflow/cxoneflow-go/internal/eventctx"
	"github.com/cxoneflow/cxoneflow-go/internal/kickoff"
	"github.com/cxoneflow/cxoneflow-go/internal/metrics"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/orchestrator"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
)

// Handler builds the HTTP surface spec §6 describes: one webhook receiver
// per route, one kickoff receiver per route, a static artifacts server,
// a liveness probe, and the Prometheus scrape endpoint — mirroring the
// teacher's cmd/webhook/main.go ServeMux-per-concern layout.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	for name, route := range a.Routes {
		r := route
		mux.HandleFunc("/"+name, a.webhookHandler(r))
		mux.HandleFunc("/"+name+"/kickoff", a.kickoffHandler(r))
	}

	if base := a.firstArtifactsBase(); base != "" {
		mux.Handle("/artifacts/", http.StripPrefix("/artifacts/", http.FileServer(http.Dir(base))))
	}

	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	return mux
}

func (a *App) firstArtifactsBase() string {
	for _, r := range a.Routes {
		if r.Config.Feedback.ArtifactsBase != "" {
			return r.Config.Feedback.ArtifactsBase
		}
	}
	return ""
}

// webhookHandler implements spec §6's `POST /<scm>` entrypoint: build the
// immutable Event Context, hand it to the route's Orchestrator, translate
// the typed errs.* taxonomy into the status codes spec §7 assigns.
func (a *App) webhookHandler(route *Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := a.Log.WithField("service", route.Config.ServiceName)

		raw, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}

		var parsed any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &parsed); err != nil {
				http.Error(w, "invalid json body", http.StatusBadRequest)
				return
			}
		}

		ev, err := eventctx.New(raw, r.Header, parsed)
		if err != nil {
			http.Error(w, "cannot build event context", http.StatusInternalServerError)
			return
		}

		result, err := route.Orch.HandleEvent(r.Context(), ev, route.Config, route.SharedSecret, route.Deps)
		if err != nil {
			writeOrchestratorError(w, log, err)
			return
		}

		log.WithField("outcome", result.Outcome).Info("webhook handled")
		w.WriteHeader(webhookStatusCode(route.SCM, result.Outcome))
	}
}

// webhookStatusCode implements spec §6's per-SCM acceptance codes:
// "2xx on acceptance (204 for most, 201 for gitlab) ... 200 for diagnostic
// ping probes when the shared secret verifies for any configured route."
func webhookStatusCode(scm model.ConfigKey, outcome orchestrator.Outcome) int {
	if outcome == orchestrator.OutcomeDiagnostic {
		return http.StatusOK
	}
	if scm == model.ConfigKeyGL {
		return http.StatusCreated
	}
	return http.StatusNoContent
}

func writeOrchestratorError(w http.ResponseWriter, log *logrus.Entry, err error) {
	var sigErr *errs.SignatureInvalidError
	var routeErr *errs.RouteNotFoundError
	var scannerErr *errs.ScannerAPIError
	switch {
	case errors.As(err, &sigErr):
		http.Error(w, "signature invalid", http.StatusUnauthorized)
	case errors.As(err, &routeErr):
		http.Error(w, "no matching route", http.StatusNotFound)
	case errors.As(err, &scannerErr):
		log.WithError(err).Error("scanner api error handling webhook")
		http.Error(w, "scanner unavailable", http.StatusBadGateway)
	default:
		log.WithError(err).Error("webhook handling failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// kickoffRequestBody is the JSON body spec §6 describes for the kickoff
// endpoint: repo identifiers plus the branch/commit to scan.
type kickoffRequestBody struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	CloneURL    string `json:"clone_url"`
	Branch      string `json:"branch"`
	CommitHash  string `json:"commit_hash"`
}

// kickoffHandler implements spec 4.J's HTTP entrypoint: bearer JWT
// verification, then Service.Start, rendering Result as JSON.
func (a *App) kickoffHandler(route *Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := a.Log.WithField("service", route.Config.ServiceName)

		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if route.Kickoff == nil || route.KickoffPublicKey == nil {
			http.Error(w, "kickoff not configured for this route", http.StatusForbidden)
			return
		}
		if err := kickoff.VerifyBearer(token, route.KickoffPublicKey); err != nil {
			log.WithError(err).Warn("kickoff bearer rejected")
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}

		var body kickoffRequestBody
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}

		req := kickoff.Request{
			ConfigKey:  route.SCM,
			CloneURLs:  []string{body.CloneURL},
			Branch:     body.Branch,
			CommitHash: body.CommitHash,
		}

		exec := func(ctx context.Context, projectID string, tags map[string]string) (scanner.Scan, error) {
			return route.Deps.Dispatcher.ExecLocalScan(ctx, body.CloneURL, body.CommitHash, body.Branch, projectID, route.Deps.CloneCreds, route.Deps.Archiver, tags, nil)
		}

		result, err := route.Kickoff.Start(r.Context(), body.ProjectID, body.ProjectName, req, exec)
		if err != nil {
			log.WithError(err).Error("kickoff failed")
			http.Error(w, "kickoff failed", http.StatusInternalServerError)
			return
		}

		if result.StartedScan != nil {
			header := envelope.Header{
				MessageType:   envelope.TypeScanAwait,
				SchemaVersion: envelope.SchemaVersion,
				Moniker:       route.Config.ServiceName,
				Workflow:      envelope.WorkflowPush,
				State:         envelope.StateAwait,
			}
			fc := envelope.FeedbackContext{
				ConfigKey:     string(route.SCM),
				Moniker:       route.Config.ServiceName,
				RepoSlug:      body.ProjectName,
				RepoName:      body.ProjectName,
				CloneURL:      body.CloneURL,
				Branch:        body.Branch,
				CommitHash:    body.CommitHash,
				ArtifactsBase: route.Deps.ArtifactsBase,
			}
			if err := route.Orch.PublishAwait(r.Context(), route.Deps, header, body.ProjectID, result.StartedScan.ScanID, fc); err != nil {
				log.WithError(err).Error("failed to publish scan-await message for kickoff scan; it will never be polled")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(kickoffStatusCode(result.Outcome))
		_ = json.NewEncoder(w).Encode(result)
	}
}

// kickoffStatusCode maps a kickoff Outcome to the status codes spec §6
// assigns the kickoff endpoint: "201 started, 299 already-exists ...
// 429 too many running".
func kickoffStatusCode(outcome kickoff.Outcome) int {
	switch outcome {
	case kickoff.OutcomeStarted:
		return http.StatusCreated
	case kickoff.OutcomeScanExists:
		return 299
	case kickoff.OutcomeTooManyScans:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
