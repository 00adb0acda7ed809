// pkg/kafka/producer.go
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-tls-client/pkg/backoff"
	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
)

// DemoBatch возвращает демонстрационный батч из n записей:
// ключ "Key i", payload "Message i", заголовок header_key=header_value.
func DemoBatch(n int) []OutboundRecord {
	out := make([]OutboundRecord, n)
	for i := range out {
		out[i] = OutboundRecord{
			Key:     fmt.Sprintf("Key %d", i),
			Payload: fmt.Sprintf("Message %d", i),
			Headers: []Header{{Key: "header_key", Value: []byte("header_value")}},
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Producer
// -----------------------------------------------------------------------------

// deliveryResult: ответ кластера по одной записи.
type deliveryResult struct {
	partition int32
	offset    int64
	err       error
}

// delivery связывает ответ sarama с записью батча. Ключ: указатель на
// ProducerMessage. Metadata не используется, её перезаписывает otelsarama.
type delivery struct {
	index int
	done  chan deliveryResult // cap 1: dispatcher никогда не блокируется
}

// Producer публикует батчи записей поверх sarama.AsyncProducer.
type Producer struct {
	cfg   ProducerConfig
	log   *logger.Logger
	opts  options
	async sarama.AsyncProducer

	mu     sync.RWMutex
	closed bool

	inflightMu sync.Mutex
	inflight   map[*sarama.ProducerMessage]*delivery

	dispatched sync.WaitGroup
}

// NewProducer валидирует конфиг и поднимает асинхронный продьюсер с back-off.
func NewProducer(ctx context.Context, cfg ProducerConfig, log *logger.Logger, opts ...Option) (*Producer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("kafka-producer")

	sc, err := producerSaramaConfig(cfg, log)
	if err != nil {
		return nil, err
	}

	var async sarama.AsyncProducer
	connect := func(ctx context.Context) error {
		p, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
		if err != nil {
			return permanentIfConfig(err)
		}
		async = p
		return nil
	}

	ctxConn, span := tracer.Start(ctx, "Connect", trace.WithAttributes(
		attribute.StringSlice("brokers", cfg.Brokers),
		attribute.String("security", string(cfg.Security)),
	))
	if err := backoff.Execute(ctxConn, "kafka-producer-connect", cfg.Backoff, log, connect); err != nil {
		span.RecordError(err)
		span.End()
		log.Error("kafka producer connect failed", zap.Error(err))
		return nil, fmt.Errorf("%w: producer: %w", ErrConnect, err)
	}
	span.End()

	log.Info("kafka producer ready",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("security", string(cfg.Security)),
		zap.String("acks", cfg.RequiredAcks),
	)
	return newTracedProducer(sc, async, cfg, log, opts...), nil
}

// newTracedProducer оборачивает async в otelsarama: каждая запись получает span.
func newTracedProducer(sc *sarama.Config, async sarama.AsyncProducer, cfg ProducerConfig, log *logger.Logger, opts ...Option) *Producer {
	return newProducer(otelsarama.WrapAsyncProducer(sc, async), cfg, log, opts...)
}

// newProducer оборачивает готовый AsyncProducer (в тестах: mocks.AsyncProducer).
func newProducer(async sarama.AsyncProducer, cfg ProducerConfig, log *logger.Logger, opts ...Option) *Producer {
	p := &Producer{
		cfg:   cfg,
		log:   log,
		opts:     buildOptions(opts),
		async:    async,
		inflight: make(map[*sarama.ProducerMessage]*delivery),
	}
	p.dispatched.Add(1)
	go p.dispatch()
	return p
}

// dispatch разводит ответы sarama по ожидающим записям.
func (p *Producer) dispatch() {
	defer p.dispatched.Done()
	successes, errs := p.async.Successes(), p.async.Errors()
	for successes != nil || errs != nil {
		select {
		case m, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			p.resolve(m, deliveryResult{partition: m.Partition, offset: m.Offset})
		case pe, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if pe.Msg == nil {
				p.log.Warn("producer error without message", zap.Error(pe.Err))
				continue
			}
			p.resolve(pe.Msg, deliveryResult{partition: pe.Msg.Partition, offset: -1, err: pe.Err})
		}
	}
}

func (p *Producer) track(msg *sarama.ProducerMessage, d *delivery) {
	p.inflightMu.Lock()
	p.inflight[msg] = d
	p.inflightMu.Unlock()
}

func (p *Producer) forget(msg *sarama.ProducerMessage) {
	p.inflightMu.Lock()
	delete(p.inflight, msg)
	p.inflightMu.Unlock()
}

func (p *Producer) resolve(msg *sarama.ProducerMessage, r deliveryResult) {
	p.inflightMu.Lock()
	d, ok := p.inflight[msg]
	delete(p.inflight, msg)
	p.inflightMu.Unlock()
	if !ok {
		// ответ на запись, которую уже перестали ждать
		return
	}
	p.log.Debug("delivery status received", zap.Int("index", d.index), zap.Bool("success", r.err == nil))
	select {
	case d.done <- r:
	default:
	}
}

// PublishBatch отправляет все записи, не дожидаясь ответов, затем ждёт
// результат каждой в порядке отправки. outcomes[i] соответствует records[i].
//
// Ошибка доставки отдельной записи не прерывает остальные и не поднимается
// наверх: метод возвращает error только для пустого топика или закрытого
// продьюсера.
func (p *Producer) PublishBatch(ctx context.Context, topic string, records []OutboundRecord) ([]DeliveryOutcome, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: topic required", ErrConfig)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	ctx, span := tracer.Start(ctx, "PublishBatch", trace.WithAttributes(
		attribute.String("topic", topic),
		attribute.Int("records", len(records)),
	))
	defer span.End()

	outcomes := make([]DeliveryOutcome, len(records))
	pending := make([]*delivery, len(records))
	msgs := make([]*sarama.ProducerMessage, len(records))
	sentAt := make([]time.Time, len(records))

	for i, r := range records {
		d := &delivery{index: i, done: make(chan deliveryResult, 1)}
		msg := &sarama.ProducerMessage{
			Topic:   topic,
			Key:     sarama.StringEncoder(r.Key),
			Value:   sarama.StringEncoder(r.Payload),
			Headers: toRecordHeaders(r.Headers),
		}
		p.track(msg, d)
		sentAt[i] = time.Now()
		if err := p.enqueue(ctx, msg); err != nil {
			p.forget(msg)
			outcomes[i] = failedOutcome(i, fmt.Errorf("%w: enqueue: %w", ErrDelivery, err))
			continue
		}
		pending[i], msgs[i] = d, msg
	}

	for i, d := range pending {
		if d != nil {
			outcomes[i] = p.await(ctx, d, sentAt[i])
			if !outcomes[i].Success {
				p.forget(msgs[i])
			}
		}
		p.opts.metrics.RecordDelivery(topic, outcomes[i].Success, time.Since(sentAt[i]))
		if !outcomes[i].Success {
			span.RecordError(outcomes[i].Err)
		}
	}
	return outcomes, nil
}

// enqueue кладёт сообщение во входной канал. QueueTimeout=0 → ждём, пока жив ctx.
func (p *Producer) enqueue(ctx context.Context, msg *sarama.ProducerMessage) error {
	var timeout <-chan time.Time
	if p.cfg.QueueTimeout > 0 {
		t := time.NewTimer(p.cfg.QueueTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case p.async.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("queue is full after %s", p.cfg.QueueTimeout)
	}
}

// await ждёт ответ по записи не дольше DeliveryTimeout от момента отправки.
// Ответ, пришедший после таймаута, игнорируется.
func (p *Producer) await(ctx context.Context, d *delivery, sentAt time.Time) DeliveryOutcome {
	timer := time.NewTimer(time.Until(sentAt.Add(p.cfg.DeliveryTimeout)))
	defer timer.Stop()

	select {
	case r := <-d.done:
		if r.err != nil {
			out := failedOutcome(d.index, fmt.Errorf("%w: %w", ErrDelivery, r.err))
			out.Partition = r.partition
			return out
		}
		return DeliveryOutcome{Index: d.index, Success: true, Partition: r.partition, Offset: r.offset}
	case <-timer.C:
		return failedOutcome(d.index, fmt.Errorf("%w: %w after %s", ErrDelivery, context.DeadlineExceeded, p.cfg.DeliveryTimeout))
	case <-ctx.Done():
		return failedOutcome(d.index, fmt.Errorf("%w: %w", ErrDelivery, ctx.Err()))
	}
}

// Close дожидается текущего батча, сбрасывает буферы sarama и освобождает соединение.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.async.Close()
	p.dispatched.Wait()
	if err != nil {
		p.log.Error("producer close failed", zap.Error(err))
		return err
	}
	p.log.Info("kafka producer closed")
	return nil
}

func failedOutcome(index int, err error) DeliveryOutcome {
	return DeliveryOutcome{Index: index, Partition: -1, Offset: -1, Err: err}
}

func toRecordHeaders(hs []Header) []sarama.RecordHeader {
	if len(hs) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, len(hs))
	for i, h := range hs {
		out[i] = sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value}
	}
	return out
}
