// Package app wires the per-component packages (orchestrator, dispatch,
// resolver, polling, feedback, kickoff) into one running process, the way
// the teacher's cmd/webhook/main.go wires internal/github + internal/
// digitalocean + internal/webhook into a single *http.Server. Everything
// here is assembly: no business logic lives in this package.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cxoneflow/cxoneflow-go/internal/broker"
	"github.com/cxoneflow/cxoneflow-go/internal/cloner"
	"github.com/cxoneflow/cxoneflow-go/internal/config"
	"github.com/cxoneflow/cxoneflow-go/internal/crypto"
	"github.com/cxoneflow/cxoneflow-go/internal/dispatch"
	"github.com/cxoneflow/cxoneflow-go/internal/feedback"
	"github.com/cxoneflow/cxoneflow-go/internal/kickoff"
	"github.com/cxoneflow/cxoneflow-go/internal/logging"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/orchestrator"
	"github.com/cxoneflow/cxoneflow-go/internal/polling"
	"github.com/cxoneflow/cxoneflow-go/internal/project"
	"github.com/cxoneflow/cxoneflow-go/internal/resolver"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
	"github.com/cxoneflow/cxoneflow-go/internal/scm"
	"github.com/cxoneflow/cxoneflow-go/internal/secrets"
)

// ClientSet bundles the two external REST clients a route needs. Spec §1
// scopes both as external collaborators ("specified only in typed
// operations"), so this process never constructs one itself — a
// ClientFactory supplied by the deployment builds them against whatever
// concrete scanner/SCM is configured.
type ClientSet struct {
	Scanner scanner.Client
	SCM     scm.Client
}

// ClientFactory builds a ClientSet for one route, given that route's
// config and the shared secret resolver chain (so it can pull API tokens
// by credential-ref without this package ever seeing raw secret bytes).
type ClientFactory func(ctx context.Context, route config.RouteConfig, secretChain *secrets.Chain) (ClientSet, error)

// Route is one fully-wired `<scm>` route: its config, its clients, and
// every per-route component instance (spec §9: "no hidden singletons" —
// each route owns its own Dispatcher/Issuer/feedback workflows rather
// than sharing process-wide mutable state beyond the group cache).
type Route struct {
	SCM              model.ConfigKey
	Config           config.RouteConfig
	Clients          ClientSet
	Orch             *orchestrator.Orchestrator
	Deps             orchestrator.Deps
	PR               *feedback.PRWorkflow
	Push             *feedback.PushWorkflow
	Kickoff          *kickoff.Service
	KickoffPublicKey any
	SharedSecret     string
}

// App is the fully-wired process: every route, the shared broker
// connection/topology, the group-id cache, and the scan-polling state
// machine that services every route's AWAIT chain.
type App struct {
	Config     *config.Config
	Log        *logrus.Entry
	Broker     *broker.Client
	Topology   *broker.Topology
	SecretChain *secrets.Chain
	GroupCache *project.GroupCache
	Poller     *polling.Poller
	Tasks      Manager

	Routes map[string]*Route // keyed by service-name (moniker)
}

// Manager is the subset of internal/tasks.Manager App needs, accepted as
// an interface so tests can supply a synchronous stand-in.
type Manager interface {
	InForeground(ctx context.Context, fn func(ctx context.Context) error) error
	InBackground(ctx context.Context, name string, fn func(ctx context.Context) error)
	Offload(ctx context.Context, fn func() error) error
}

// Deps bundles the process-wide collaborators New needs beyond cfg itself.
type Deps struct {
	SecretChain    *secrets.Chain
	BrokerClient   *broker.Client
	Topology       *broker.Topology
	ClientFactory  ClientFactory
	Tasks          Manager
	Log            *logrus.Entry
}

// New builds every configured route's runtime. A route whose scan-agent
// config declares no resolver tags never gets an Issuer; a route whose
// feedback config disables both PR decoration and push SARIF gets no
// feedback workflows; a route whose kickoff config is disabled gets no
// Service. This mirrors spec 4.D/4.J: these are opt-in per route, not
// process-wide switches.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*App, error) {
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	a := &App{
		Config:      cfg,
		Log:         log,
		Broker:      deps.BrokerClient,
		Topology:    deps.Topology,
		SecretChain: deps.SecretChain,
		GroupCache:  project.NewGroupCache(4096),
		Routes:      map[string]*Route{},
		Tasks:       deps.Tasks,
	}

	type scmRoutes struct {
		key    model.ConfigKey
		routes []config.RouteConfig
	}
	for _, sr := range []scmRoutes{
		{model.ConfigKeyBBDC, cfg.BBDC},
		{model.ConfigKeyADOE, cfg.ADOE},
		{model.ConfigKeyGH, cfg.GH},
		{model.ConfigKeyGL, cfg.GL},
	} {
		for _, rc := range sr.routes {
			route, err := a.buildRoute(ctx, sr.key, rc, deps)
			if err != nil {
				return nil, fmt.Errorf("app: build route %q: %w", rc.ServiceName, err)
			}
			a.Routes[rc.ServiceName] = route
			logging.Register(route.SharedSecret)
		}
	}

	handlers := make([]polling.FeedbackHandler, 0, 2*len(a.Routes))
	for _, r := range a.Routes {
		if r.PR != nil {
			handlers = append(handlers, r.PR)
		}
		if r.Push != nil {
			handlers = append(handlers, r.Push)
		}
	}
	var scannerForPolling scanner.Client
	for _, r := range a.Routes {
		scannerForPolling = r.Clients.Scanner
		break
	}
	a.Poller = polling.New(scannerForPolling, deps.BrokerClient, handlers, polling.DefaultBackoffScalar, polling.DefaultMaxInterval, log)

	return a, nil
}

func (a *App) buildRoute(ctx context.Context, scmKey model.ConfigKey, rc config.RouteConfig, deps Deps) (*Route, error) {
	clients, err := deps.ClientFactory(ctx, rc, deps.SecretChain)
	if err != nil {
		return nil, fmt.Errorf("client factory: %w", err)
	}

	cl := cloner.New(a.Log)
	d := dispatch.New(clients.Scanner, cl, a.Log)

	var variant orchestrator.Variant
	switch scmKey {
	case model.ConfigKeyGH:
		variant = orchestrator.GitHub{}
	case model.ConfigKeyGL:
		variant = orchestrator.GitLab{}
	case model.ConfigKeyADOE:
		variant = orchestrator.AzureDevOpsEnterprise{}
	case model.ConfigKeyBBDC:
		variant = orchestrator.BitbucketDataCenter{}
	default:
		return nil, fmt.Errorf("unknown scm kind %q", scmKey)
	}

	sharedSecret, err := secretString(ctx, deps.SecretChain, rc.CxOne.CredentialRef)
	if err != nil {
		a.Log.WithError(err).Warn("no shared secret resolved for route; signature validation will reject everything")
	}

	route := &Route{
		SCM:          scmKey,
		Config:       rc,
		Clients:      clients,
		Orch:         orchestrator.New(variant, a.Log),
		SharedSecret: sharedSecret,
		Deps: orchestrator.Deps{
			ScannerClient: clients.Scanner,
			SCMClient:     clients.SCM,
			Dispatcher:    d,
			GroupCache:    a.GroupCache,
			Namer:         project.DefaultNamer,
			CloneCreds:    defaultCloneCreds(deps.SecretChain, rc),
			Archiver:      dispatch.Archive,
			Broker:        deps.BrokerClient,
			ArtifactsBase: a.Config.ServerBaseURL,
			SCMHandoffTemplate: model.HandoffConfig{
				Version: 1, SCMKind: scmKey, SCMEndpoint: rc.Connection.AMQPURL, SCMCredRef: rc.CxOne.CredentialRef,
			},
			ScannerHandoffTemplate: model.HandoffConfig{
				Version: 1, ScannerEndpoint: rc.CxOne.Endpoint, ScannerCredRef: rc.CxOne.CredentialRef, ScannerTenant: rc.CxOne.Tenant,
			},
		},
	}

	if len(rc.ScanAgent.AllowedTags) > 0 {
		if keyBytes, err := deps.SecretChain.Resolve(ctx, rc.Kickoff.PublicKeyPath); err == nil {
			if priv, err := crypto.ParsePrivateKeyPEM(keyBytes); err == nil {
				if signer, err := crypto.NewDetailSigner(priv); err == nil {
					route.Deps.Issuer = resolver.NewIssuer(deps.BrokerClient, signer, nil, a.Log)
				}
			}
		}
	}

	if rc.Feedback.PRDecoration {
		route.PR = feedback.NewPRWorkflow(clients.Scanner, clients.SCM, feedback.ExcludeFilter{}, a.Log)
	}
	if rc.Feedback.PushSARIF {
		agents := []feedback.DeliveryAgent{&feedback.AMQPDeliveryAgent{
			Client:     deps.BrokerClient,
			Exchange:   broker.ExchangeSARIFWork,
			RoutingKey: broker.RoutingKey("sarif", "FEEDBACK", "PUSH", rc.ServiceName),
		}}
		secretBytes, _ := deps.SecretChain.Resolve(ctx, rc.CxOne.CredentialRef)
		route.Push = feedback.NewPushWorkflow(clients.Scanner, agents, secretBytes, a.Log)
	}

	if rc.Kickoff.Enabled {
		route.Kickoff = kickoff.New(clients.Scanner, d, rc.Kickoff.MaxConcurrentScans, rc.ServiceName, a.Log)
		if keyBytes, err := deps.SecretChain.Resolve(ctx, rc.Kickoff.PublicKeyPath); err == nil {
			if pub, err := crypto.ParsePublicKeyPEM(keyBytes); err == nil {
				route.KickoffPublicKey = pub
			} else {
				a.Log.WithError(err).Warn("kickoff public key unparseable; bearer verification will reject everything")
			}
		} else {
			a.Log.WithError(err).Warn("kickoff public key unresolved; bearer verification will reject everything")
		}
	}

	return route, nil
}

func secretString(ctx context.Context, chain *secrets.Chain, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("app: empty credential-ref")
	}
	b, err := chain.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// defaultCloneCreds resolves clone credentials from the route's
// credential-ref every time ExecLocalScan needs them, so a forceReauth
// retry re-resolves rather than reusing a cached, possibly-stale value.
func defaultCloneCreds(chain *secrets.Chain, rc config.RouteConfig) dispatch.CloneCredentials {
	return func(ctx context.Context, forceReauth bool) (cloner.Credentials, error) {
		secret, err := chain.Resolve(ctx, rc.CxOne.CredentialRef)
		if err != nil {
			return cloner.Credentials{}, err
		}
		return cloner.Credentials{Style: cloner.AuthToken, Username: "x-access-token", Secret: string(secret)}, nil
	}
}

// The polling consumer, resolver-result consumer, and resolver-timeout
// consumer live in consumers.go as methods driven directly off the
// broker (spec 4.K: each registered as a supervised background task by
// `cxoneflow serve`).
