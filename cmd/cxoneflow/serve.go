package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cxoneflow/cxoneflow-go/internal/app"
	"github.com/cxoneflow/cxoneflow-go/internal/broker"
	cfgpkg "github.com/cxoneflow/cxoneflow-go/internal/config"
	"github.com/cxoneflow/cxoneflow-go/internal/logging"
	"github.com/cxoneflow/cxoneflow-go/internal/secrets"
	"github.com/cxoneflow/cxoneflow-go/internal/tasks"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP webhook listener and scan-polling loop",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("config", envOrDefault("CXONEFLOW_CONFIG", "/etc/cxoneflow/config.yaml"), "path to the route config YAML file")
	serveCmd.Flags().String("listen-addr", envOrDefault("LISTEN_ADDR", ":8080"), "HTTP listen address")
	serveCmd.Flags().String("log-level", envOrDefault("LOG_LEVEL", "info"), "log level")
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")
	logLevel, _ := cmd.Flags().GetString("log-level")

	logger := logging.New(logLevel)
	log := logrus.NewEntry(logger)

	cfg, err := cfgpkg.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	secretChain, err := buildSecretChain(context.Background(), cfg.SecretRootPath)
	if err != nil {
		log.WithError(err).Fatal("failed to build secret resolver chain")
	}

	brokerClient, err := broker.Dial(mustEnv("AMQP_URL"), 10*time.Second)
	if err != nil {
		log.WithError(err).Fatal("failed to dial broker")
	}
	defer brokerClient.Close()

	var resolverTags []string
	for _, r := range cfg.AllRoutes() {
		if r.ScanAgent.DefaultTag != "" {
			resolverTags = append(resolverTags, r.ScanAgent.DefaultTag)
		}
		resolverTags = append(resolverTags, r.ScanAgent.AllowedTags...)
	}
	topology, err := broker.Bootstrap(brokerClient.Channel(), resolverTags, log)
	if err != nil {
		log.WithError(err).Fatal("failed to bootstrap broker topology")
	}

	taskMgr := tasks.New(8, log)

	a, err := app.New(context.Background(), cfg, app.Deps{
		SecretChain:   secretChain,
		BrokerClient:  brokerClient,
		Topology:      topology,
		ClientFactory: newAppClientFactory(),
		Tasks:         taskMgr,
		Log:           log,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to wire application")
	}

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      a.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Every cross-process handoff this service services — polling,
	// delegated-scan results, delegated-scan timeouts — runs as a
	// supervised background task alongside the HTTP listener (spec 4.K: a
	// single process-wide event loop hosts the HTTP entrypoint, broker
	// consumers, and background tasks).
	taskMgr.InBackground(ctx, "poll-consumer", func(ctx context.Context) error {
		return a.RunPollConsumer(ctx, broker.QueuePollingScans)
	})
	taskMgr.InBackground(ctx, "poll-consumer-legacy", func(ctx context.Context) error {
		return a.RunPollConsumer(ctx, broker.QueuePollingScansLegacy)
	})
	taskMgr.InBackground(ctx, "resolver-result-consumer", a.RunResolverResultConsumer)
	taskMgr.InBackground(ctx, "resolver-timeout-consumer", a.RunResolverTimeoutConsumer)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", listenAddr).Info("cxoneflow listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server failed")
	}
	return taskMgr.Wait()
}

func buildSecretChain(ctx context.Context, rootPath string) (*secrets.Chain, error) {
	resolvers := []secrets.Resolver{secrets.NewFileResolver(rootPath)}
	if awsCfg, err := config.LoadDefaultConfig(ctx); err == nil {
		resolvers = append(resolvers, secrets.NewSSMResolver(ssm.NewFromConfig(awsCfg), "/cxoneflow"))
	}
	return secrets.NewChain(resolvers...), nil
}
