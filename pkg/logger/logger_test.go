// pkg/logger/logger_test.go
package logger_test

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := logger.New(logger.Config{Level: "invalid", DevMode: false})
	if err == nil {
		t.Error("expected error for invalid level, got nil")
	}
}

func TestNew_ValidLevels(t *testing.T) {
	levels := []string{"", "debug", "info", "warn", "error"}
	for _, lvl := range levels {
		_, err := logger.New(logger.Config{Level: lvl, DevMode: true})
		if err != nil {
			t.Errorf("expected no error for level %q, got %v", lvl, err)
		}
	}
}

func TestParseLogConf(t *testing.T) {
	cases := []struct {
		conf       string
		wantLevel  string
		wantClient bool
	}{
		{"", "", false},
		{"info", "info", false},
		{"DEBUG", "debug", false},
		{"sarama=debug", "debug", true},
		{"sarama=trace,warn", "warn", true},
		{"rdkafka=trace", "", false},
	}
	for _, c := range cases {
		t.Run(c.conf, func(t *testing.T) {
			got := logger.ParseLogConf(c.conf)
			if got.Level != c.wantLevel {
				t.Errorf("Level = %q; want %q", got.Level, c.wantLevel)
			}
			if got.ClientLogs != c.wantClient {
				t.Errorf("ClientLogs = %v; want %v", got.ClientLogs, c.wantClient)
			}
		})
	}
}

func TestWithContext_TraceAndRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := logger.FromZap(zap.New(core))

	ctx := logger.ContextWithTraceID(context.Background(), "trace-123")
	ctx = logger.ContextWithRequestID(ctx, "req-456")
	l.WithContext(ctx).Info("test message")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "trace-123" {
		t.Errorf("trace_id = %v", fields["trace_id"])
	}
	if fields["request_id"] != "req-456" {
		t.Errorf("request_id = %v", fields["request_id"])
	}
}

func TestWithContext_NoValues(t *testing.T) {
	l := logger.NewNop()
	if got := l.WithContext(context.Background()); got != l {
		t.Error("expected the same logger when context carries no ids")
	}
}

func TestStdLogger_WritesDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := logger.FromZap(zap.New(core))

	l.StdLogger().Print("client says hi")

	if logs.FilterMessage("client says hi").Len() != 1 {
		t.Fatalf("expected the std logger line to be captured, got %v", logs.All())
	}
}

func TestSync_NoPanic(t *testing.T) {
	l, _ := logger.New(logger.Config{Level: "info", DevMode: true})
	l.Sync()
}
