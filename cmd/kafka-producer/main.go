package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-tls-client/internal/app"
	"github.com/YaganovValera/kafka-tls-client/internal/config"
	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kafka-producer: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "kafka-producer",
		Short:         "Publish a demo batch to Kafka over mutual TLS",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, configPath)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "path to YAML config file")
	f.StringSliceP("brokers", "b", []string{"localhost:9092"}, "broker list in kafka format")
	f.StringP("topic", "t", "", "destination topic")
	f.IntP("count", "n", 5, "number of demo records to publish")
	f.String("log-conf", "", "configure the logging format (example: 'sarama=debug')")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func run(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(config.RoleProducer, configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("logger init error: %w", err)
	}
	defer log.Sync()
	if cfg.Logging.DevMode {
		cfg.Print()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting producer",
		zap.Strings("brokers", cfg.Producer.Brokers),
		zap.String("topic", cfg.Publish.Topic),
		zap.Int("count", cfg.Publish.Count),
	)

	if err := app.RunProducer(ctx, cfg, log); err != nil {
		log.Error("producer exited with error", zap.Error(err))
		return err
	}
	return nil
}
