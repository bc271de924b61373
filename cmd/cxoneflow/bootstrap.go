package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cxoneflow/cxoneflow-go/internal/broker"
	cfgpkg "github.com/cxoneflow/cxoneflow-go/internal/config"
	"github.com/cxoneflow/cxoneflow-go/internal/logging"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap-topology",
	Short: "Declare the AMQP exchanges, queues, and bindings (idempotent)",
	RunE:  runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
	bootstrapCmd.Flags().String("config", envOrDefault("CXONEFLOW_CONFIG", "/etc/cxoneflow/config.yaml"), "path to the route config YAML file")
	bootstrapCmd.Flags().String("log-level", envOrDefault("LOG_LEVEL", "info"), "log level")
}

func runBootstrap(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	log := logrus.NewEntry(logging.New(logLevel))

	cfg, err := cfgpkg.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	client, err := broker.Dial(mustEnv("AMQP_URL"), 10*time.Second)
	if err != nil {
		log.WithError(err).Fatal("failed to dial broker")
	}
	defer client.Close()

	var resolverTags []string
	for _, r := range cfg.AllRoutes() {
		if r.ScanAgent.DefaultTag != "" {
			resolverTags = append(resolverTags, r.ScanAgent.DefaultTag)
		}
		resolverTags = append(resolverTags, r.ScanAgent.AllowedTags...)
	}

	if _, err := broker.Bootstrap(client.Channel(), resolverTags, log); err != nil {
		log.WithError(err).Fatal("bootstrap failed")
	}
	log.Info("broker topology bootstrapped")
	return nil
}
