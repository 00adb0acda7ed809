// pkg/kafka/process.go
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// decodeText трактует байты как UTF-8. nil → "" без ошибки,
// невалидный UTF-8 → "" и ErrDecode.
func decodeText(b []byte) (string, error) {
	if b == nil {
		return "", nil
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: %d bytes are not valid UTF-8", ErrDecode, len(b))
	}
	return string(b), nil
}

// FormatHeaders рендерит заголовки как `0:"name"=>"value", 1:...`.
// Значения декодируются как payload: невалидный UTF-8 даёт "".
func FormatHeaders(headers []Header) string {
	if len(headers) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, h := range headers {
		if i > 0 {
			sb.WriteString(", ")
		}
		v, _ := decodeText(h.Value)
		fmt.Fprintf(&sb, "%d:%q=>%q", i, h.Key, v)
	}
	return sb.String()
}

// formatTimestamp: нулевое время → "none", иначе RFC3339 с миллисекундами в UTC.
func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "none"
	}
	return ts.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Summary рендерит однострочное описание записи.
func Summary(key, payload string, rec *InboundRecord, headers string) string {
	return fmt.Sprintf("key='%s' payload='%s', topic=%s partition=%d, offset=%d timestamp=%s headers=[%s]",
		key, payload, rec.Topic, rec.Partition, rec.Offset, formatTimestamp(rec.Timestamp), headers)
}

// process: шаг обработки одной записи: декод, лог, асинхронный коммит.
func (c *Consumer) process(ctx context.Context, rec *InboundRecord) {
	ctx, span := tracer.Start(ctx, "ProcessRecord", trace.WithAttributes(
		attribute.String("topic", rec.Topic),
		attribute.Int("partition", int(rec.Partition)),
		attribute.Int64("offset", rec.Offset),
	))
	defer span.End()
	log := c.log.WithContext(ctx)

	payload, err := decodeText(rec.Payload)
	if err != nil {
		span.RecordError(err)
		log.Warn("error while decoding record payload",
			zap.String("topic", rec.Topic),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
			zap.Error(err),
		)
	}
	key, err := decodeText(rec.Key)
	if err != nil {
		log.Warn("error while decoding record key",
			zap.String("topic", rec.Topic),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
			zap.Error(err),
		)
	}
	headers := FormatHeaders(rec.Headers)

	log.Info("record consumed",
		zap.String("key", key),
		zap.String("payload", payload),
		zap.String("topic", rec.Topic),
		zap.Int32("partition", rec.Partition),
		zap.Int64("offset", rec.Offset),
		zap.Time("timestamp", rec.Timestamp),
		zap.String("headers", headers),
		zap.String("summary", Summary(key, payload, rec, headers)),
	)
	c.opts.metrics.RecordConsumed(rec.Topic)

	c.src.commit(rec)
}
