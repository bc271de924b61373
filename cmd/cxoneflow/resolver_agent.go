package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cxoneflow/cxoneflow-go/internal/broker"
	"github.com/cxoneflow/cxoneflow-go/internal/cloner"
	cfgpkg "github.com/cxoneflow/cxoneflow-go/internal/config"
	"github.com/cxoneflow/cxoneflow-go/internal/crypto"
	"github.com/cxoneflow/cxoneflow-go/internal/envelope"
	"github.com/cxoneflow/cxoneflow-go/internal/logging"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/resolver"
	"github.com/cxoneflow/cxoneflow-go/internal/scanner"
	"github.com/cxoneflow/cxoneflow-go/internal/secrets"
)

// newResolverScannerClient is the scanner.Client extension point a
// resolver-agent deployment links in, the agent-side counterpart to
// newAppClientFactory: the scanner REST client is an external
// collaborator this module never ships a concrete implementation of.
func newResolverScannerClient() (scanner.Client, error) {
	return nil, fmt.Errorf("cxoneflow: no scanner client implementation linked in for resolver-agent; build one against your scanner instance and link it in place of newResolverScannerClient")
}

var resolverAgentCmd = &cobra.Command{
	Use:   "resolver-agent",
	Short: "Run a delegated-scan resolver agent for the configured tags",
	RunE:  runResolverAgent,
}

func init() {
	rootCmd.AddCommand(resolverAgentCmd)
	resolverAgentCmd.Flags().String("config", envOrDefault("CXONEFLOW_RESOLVER_CONFIG", "/etc/cxoneflow/resolver-agent.yaml"), "path to the resolver-agent config YAML file")
	resolverAgentCmd.Flags().String("log-level", envOrDefault("LOG_LEVEL", "info"), "log level")
}

func runResolverAgent(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	log := logrus.NewEntry(logging.New(logLevel))

	cfg, err := loadResolverAgentConfig(configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load resolver-agent config")
	}

	secretChain, err := buildSecretChain(context.Background(), cfg.SecretRootPath)
	if err != nil {
		log.WithError(err).Fatal("failed to build secret resolver chain")
	}

	scannerClient, err := newResolverScannerClient()
	if err != nil {
		log.WithError(err).Fatal("failed to build scanner client")
	}

	client, err := broker.Dial(mustEnv("AMQP_URL"), 10*time.Second)
	if err != nil {
		log.WithError(err).Fatal("failed to dial broker")
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, len(cfg.ServicedTags))
	for tag, tagCfg := range cfg.ServicedTags {
		tag, tagCfg := tag, tagCfg
		go func() {
			errCh <- serviceTag(ctx, tag, tagCfg, client, secretChain, scannerClient, log)
		}()
	}

	for range cfg.ServicedTags {
		if err := <-errCh; err != nil {
			log.WithError(err).Error("resolver tag consumer exited")
		}
	}
	return nil
}

func loadResolverAgentConfig(path string) (*cfgpkg.ResolverAgentConfig, error) {
	var cfg cfgpkg.ResolverAgentConfig
	if err := cfgpkg.LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func serviceTag(ctx context.Context, tag string, tagCfg cfgpkg.ServicedTagConfig, client *broker.Client, secretChain *secrets.Chain, scannerClient scanner.Client, log *logrus.Entry) error {
	tagLog := log.WithField("tag", tag)

	publicKeyBytes, err := secretChain.Resolve(ctx, tagCfg.PublicKeyPath)
	if err != nil {
		return err
	}
	publicKey, err := crypto.ParsePublicKeyPEM(publicKeyBytes)
	if err != nil {
		return err
	}

	var runner resolver.Runner
	switch tagCfg.Runner {
	case cfgpkg.RunnerShell:
		runner = resolver.ShellRunner{
			ResolverPath: tagCfg.RunnerOpts["resolver-path"],
			RunAsUser:    tagCfg.RunnerOpts["run-as-user"],
			ExcludesCSV:  tagCfg.RunnerOpts["excludes"],
		}
	case cfgpkg.RunnerContainer:
		runner = resolver.ContainerRunner{
			Image: tagCfg.RunnerOpts["image"],
		}
	case cfgpkg.RunnerTwoStage:
		runner = resolver.TwoStageRunner{}
	default:
		runner = resolver.NoOpRunner{}
	}

	agent := &resolver.Agent{
		Tag:           tag,
		PublicKey:     publicKey,
		Runner:        runner,
		Cloner:        cloner.New(tagLog),
		ScannerClient: scannerClient,
		Log:           tagLog,
	}

	deliveries, err := client.Consume(ctx, broker.ResolverQueueName(tag), "cxoneflow-resolver-"+tag)
	if err != nil {
		return err
	}

	handoffResolver := func(ctx context.Context, handoff model.HandoffConfig) (cloner.Credentials, error) {
		secret, err := secretChain.Resolve(ctx, handoff.SCMCredRef)
		if err != nil {
			return cloner.Credentials{}, err
		}
		return cloner.Credentials{Style: cloner.AuthToken, Username: "x-access-token", Secret: string(secret)}, nil
	}

	for delivery := range deliveries {
		_, msg, err := envelope.Decode[envelope.DelegatedScanMessage](delivery.Body, envelope.TypeDelegatedScan)
		if err != nil {
			tagLog.WithError(err).Error("undecodable delegated scan message, dropping")
			_ = delivery.Nack(false, false)
			continue
		}

		result, publish, err := agent.Process(ctx, msg, handoffResolver)
		if err != nil {
			tagLog.WithError(err).Error("delegated scan processing failed, dropping")
			_ = delivery.Nack(false, false)
			continue
		}
		if publish {
			body, err := envelope.Encode(result.Header, result)
			if err != nil {
				tagLog.WithError(err).Error("failed to encode resolver result")
				_ = delivery.Nack(false, false)
				continue
			}
			if err := client.Publish(ctx, broker.ExchangeDelegatedScan, broker.ResolverResultRoutingKey(tag), body, broker.PublishOpts{Persistent: true}); err != nil {
				tagLog.WithError(err).Error("failed to publish resolver result")
				_ = delivery.Nack(false, true)
				continue
			}
		}
		_ = delivery.Ack(false)
	}
	return nil
}
