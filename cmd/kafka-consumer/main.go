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
		fmt.Fprintf(os.Stderr, "kafka-consumer: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "kafka-consumer",
		Short:         "Consume records from Kafka over mutual TLS and print them",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, configPath)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "path to YAML config file")
	f.StringSliceP("brokers", "b", []string{"localhost:9092"}, "broker list in kafka format")
	f.StringP("group-id", "g", "example_consumer_group_id", "consumer group id")
	f.StringSliceP("topics", "t", nil, "topic list (repeatable)")
	f.String("log-conf", "", "configure the logging format (example: 'sarama=debug')")
	_ = cmd.MarkFlagRequired("topics")
	return cmd
}

func run(cmd *cobra.Command, configPath string) error {
	// 1. Конфиг
	cfg, err := config.Load(config.RoleConsumer, configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// 2. Логгер
	log, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("logger init error: %w", err)
	}
	defer log.Sync()
	if cfg.Logging.DevMode {
		cfg.Print()
	}

	// 3. Контекст с отменой по сигналам
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting consumer",
		zap.Strings("brokers", cfg.Consumer.Brokers),
		zap.String("group_id", cfg.Consumer.GroupID),
		zap.Strings("topics", cfg.Consumer.Topics),
	)

	// 4. Основной цикл
	if err := app.RunConsumer(ctx, cfg, log); err != nil {
		log.Error("consumer exited with error", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

