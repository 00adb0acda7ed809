// internal/app/consumer.go
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/kafka-tls-client/internal/config"
	httpserver "github.com/YaganovValera/kafka-tls-client/internal/http"
	"github.com/YaganovValera/kafka-tls-client/internal/metrics"
	"github.com/YaganovValera/kafka-tls-client/pkg/kafka"
	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
)

// consumerRunner: то, что нужно приложению от kafka.Consumer.
type consumerRunner interface {
	Subscribe(ctx context.Context) error
	Run(ctx context.Context) error
	State() kafka.State
	Close() error
}

// RunConsumer подписывается на топики и печатает записи до отмены ctx.
func RunConsumer(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	metrics.Register(nil)

	shutdownTracer, err := initTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(context.Background()) }, log)

	collector := metrics.Collector{}
	consumer, err := kafka.NewConsumer(ctx, cfg.Consumer, log,
		kafka.WithListener(kafka.Listeners(kafka.LoggingListener{Log: log.Named("rebalance")}, collector)),
		kafka.WithRecorder(collector),
	)
	if err != nil {
		return fmt.Errorf("kafka consumer init: %w", err)
	}

	var srv server
	if cfg.HTTP.Addr != "" {
		s, err := httpserver.NewServer(cfg.HTTP, readiness(consumer), log)
		if err != nil {
			_ = consumer.Close()
			return fmt.Errorf("httpserver init: %w", err)
		}
		srv = s
	}
	return consume(ctx, consumer, srv, log)
}

type server interface {
	Start(ctx context.Context) error
}

// consume запускает consumer и (опционально) ops-сервер в одной errgroup.
func consume(ctx context.Context, c consumerRunner, srv server, log *logger.Logger) error {
	if err := c.Subscribe(ctx); err != nil {
		shutdownSafe(ctx, "kafka-consumer", c.Close, log)
		return fmt.Errorf("subscribe: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if srv != nil {
		g.Go(func() error { return srv.Start(gctx) })
	}
	g.Go(func() error { return c.Run(gctx) })

	if err := g.Wait(); err != nil {
		shutdownSafe(ctx, "kafka-consumer", c.Close, log)
		if errors.Is(err, context.Canceled) {
			log.Info("consumer stopped by context")
			return nil
		}
		return err
	}
	log.Info("consumer stopped", zap.Stringer("state", c.State()))
	return nil
}

// readiness готов, пока consumer опрашивает брокер.
func readiness(c interface{ State() kafka.State }) httpserver.ReadyChecker {
	return func() error {
		switch st := c.State(); st {
		case kafka.StatePolling:
			return nil
		default:
			return fmt.Errorf("consumer is %s", st)
		}
	}
}
