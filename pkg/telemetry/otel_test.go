// pkg/telemetry/otel_test.go
package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		expectsErr bool
	}{
		{"disabled skips checks", Config{}, false},
		{"missing endpoint", Config{Enabled: true, ServiceName: "svc", ServiceVersion: "v1"}, true},
		{"missing serviceName", Config{Enabled: true, Endpoint: "host:4317", ServiceVersion: "v1"}, true},
		{"missing version", Config{Enabled: true, Endpoint: "host:4317", ServiceName: "svc"}, true},
		{"all set", Config{Enabled: true, Endpoint: "host:4317", ServiceName: "svc", ServiceVersion: "v1"}, false},
		{"zero ratio defaults to 1", Config{Enabled: true, Endpoint: "host:4317", ServiceName: "svc", ServiceVersion: "v1", SamplerRatio: 0}, false},
		{"negative ratio", Config{Enabled: true, Endpoint: "host:4317", ServiceName: "svc", ServiceVersion: "v1", SamplerRatio: -0.1}, true},
		{"ratio above one", Config{Enabled: true, Endpoint: "host:4317", ServiceName: "svc", ServiceVersion: "v1", SamplerRatio: 3}, true},
		{"disabled ignores ratio", Config{SamplerRatio: 3}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.expectsErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.expectsErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected default Timeout=5s, got %v", cfg.Timeout)
	}
	if cfg.ReconnectPeriod != 5*time.Second {
		t.Errorf("expected default ReconnectPeriod=5s, got %v", cfg.ReconnectPeriod)
	}
	if cfg.SamplerRatio != 1.0 {
		t.Errorf("expected SamplerRatio=1.0, got %v", cfg.SamplerRatio)
	}
}

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{}, logger.NewNop())
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestInitTracer_Success(t *testing.T) {
	cfg := Config{
		Enabled:        true,
		Endpoint:       "localhost:4317",
		ServiceName:    "kafka-tls-test",
		ServiceVersion: "v0.1",
		Insecure:       true,
	}
	shutdown, err := InitTracer(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
