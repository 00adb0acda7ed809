// internal/app/app.go
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-tls-client/internal/config"
	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
	"github.com/YaganovValera/kafka-tls-client/pkg/telemetry"
)

// initTelemetry поднимает трассировку; при выключенной телеметрии: no-op.
func initTelemetry(ctx context.Context, cfg *config.Config, log *logger.Logger) (func(context.Context) error, error) {
	shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	return shutdown, nil
}

// shutdownSafe вызывает fn и только логирует ошибку.
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	if err := fn(); err != nil {
		log.WithContext(ctx).Error("shutdown error", zap.String("component", name), zap.Error(err))
	}
}
