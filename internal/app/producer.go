// internal/app/producer.go
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-tls-client/internal/config"
	"github.com/YaganovValera/kafka-tls-client/internal/metrics"
	"github.com/YaganovValera/kafka-tls-client/pkg/kafka"
	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
)

type batchPublisher interface {
	PublishBatch(ctx context.Context, topic string, records []kafka.OutboundRecord) ([]kafka.DeliveryOutcome, error)
	Close() error
}

// RunProducer отправляет демонстрационный батч и логирует результат по каждой записи.
func RunProducer(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	metrics.Register(nil)

	shutdownTracer, err := initTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(context.Background()) }, log)

	p, err := kafka.NewProducer(ctx, cfg.Producer, log, kafka.WithRecorder(metrics.Collector{}))
	if err != nil {
		return fmt.Errorf("kafka producer init: %w", err)
	}
	_, err = publish(ctx, p, cfg.Publish, log)
	return err
}

// publish отправляет DemoBatch(count) и закрывает продюсер.
// Ошибки отдельных записей не делают прогон неуспешным.
func publish(ctx context.Context, p batchPublisher, run config.Publish, log *logger.Logger) ([]kafka.DeliveryOutcome, error) {
	defer shutdownSafe(ctx, "kafka-producer", p.Close, log)

	outcomes, err := p.PublishBatch(ctx, run.Topic, kafka.DemoBatch(run.Count))
	if err != nil {
		return nil, fmt.Errorf("publish batch: %w", err)
	}

	var failed int
	for _, o := range outcomes {
		if o.Success {
			log.Info("delivery status",
				zap.Int("index", o.Index),
				zap.Int32("partition", o.Partition),
				zap.Int64("offset", o.Offset),
			)
			continue
		}
		failed++
		log.Warn("delivery status", zap.Int("index", o.Index), zap.Error(o.Err))
	}
	log.Info("batch published",
		zap.String("topic", run.Topic),
		zap.Int("records", len(outcomes)),
		zap.Int("failed", failed),
	)
	return outcomes, nil
}
