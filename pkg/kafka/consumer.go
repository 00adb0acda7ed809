// pkg/kafka/consumer.go
package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
	"github.com/YaganovValera/kafka-tls-client/pkg/telemetry"
)

var tracer = telemetry.Tracer("kafka-tls-client")

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State: состояние жизненного цикла Consumer.
//
//	Unsubscribed → Subscribed → {Polling ⇄ Rebalancing} → Closed
type State int32

const (
	StateUnsubscribed State = iota
	StateSubscribed
	StatePolling
	StateRebalancing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribed:
		return "subscribed"
	case StatePolling:
		return "polling"
	case StateRebalancing:
		return "rebalancing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// Recorder получает счётчики работы клиента (реализация: internal/metrics).
type Recorder interface {
	RecordConsumed(topic string)
	RecordPollError()
	RecordCommit(ok bool)
	RecordDelivery(topic string, ok bool, latency time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordConsumed(string)                      {}
func (nopRecorder) RecordPollError()                           {}
func (nopRecorder) RecordCommit(bool)                          {}
func (nopRecorder) RecordDelivery(string, bool, time.Duration) {}

type options struct {
	listener RebalanceListener
	metrics  Recorder
	source   recordSource
}

// Option настраивает Consumer и Producer.
type Option func(*options)

// WithListener подключает слушателя ребалансов и коммитов.
func WithListener(l RebalanceListener) Option {
	return func(o *options) { o.listener = l }
}

// WithRecorder подключает сборщик метрик.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.metrics = r }
}

// withSource подменяет источник записей (для тестов).
func withSource(src recordSource) Option {
	return func(o *options) { o.source = src }
}

func buildOptions(opts []Option) options {
	o := options{listener: NopListener{}, metrics: nopRecorder{}}
	for _, fn := range opts {
		fn(&o)
	}
	if o.listener == nil {
		o.listener = NopListener{}
	}
	if o.metrics == nil {
		o.metrics = nopRecorder{}
	}
	return o
}

// -----------------------------------------------------------------------------
// Record source
// -----------------------------------------------------------------------------

// recordSource: то, из чего цикл Run берёт записи.
// Реализация по умолчанию: groupSource поверх sarama.ConsumerGroup.
type recordSource interface {
	// subscribe запускает сессию группы; hooks получают события ребаланса и коммитов.
	subscribe(ctx context.Context, topics []string, hooks RebalanceListener) error
	// poll ждёт запись не дольше wait; (nil, nil) → таймаут.
	poll(ctx context.Context, wait time.Duration) (*InboundRecord, error)
	// commit ставит offset записи в очередь асинхронного коммита и не блокируется.
	commit(rec *InboundRecord)
	// flush ждёт отправки накопленных коммитов, пока жив ctx.
	flush(ctx context.Context)
	close() error
}

// -----------------------------------------------------------------------------
// Consumer
// -----------------------------------------------------------------------------

// Consumer читает топики в составе consumer group, логирует каждую запись
// и асинхронно коммитит её offset.
type Consumer struct {
	cfg   ConsumerConfig
	log   *logger.Logger
	opts  options
	src   recordSource
	state atomic.Int32

	listener RebalanceListener

	closeOnce sync.Once
	closeErr  error
}

// NewConsumer валидирует конфиг и подключается к кластеру с back-off.
//
// Ошибки: ErrConfig: конфиг/TLS-материалы невалидны; ErrConnect: подключение
// не удалось после всех ретраев.
func NewConsumer(ctx context.Context, cfg ConsumerConfig, log *logger.Logger, opts ...Option) (*Consumer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("kafka-consumer")
	o := buildOptions(opts)

	c := &Consumer{
		cfg:      cfg,
		log:      log,
		opts:     o,
		listener: safeListener{next: o.listener, log: log},
	}

	if o.source != nil {
		c.src = o.source
	} else {
		src, err := newGroupSource(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		c.src = src
	}
	return c, nil
}

// State возвращает текущее состояние.
func (c *Consumer) State() State { return State(c.state.Load()) }

// Subscribe запускает сессию группы для cfg.Topics. Повторный вызов: ошибка.
func (c *Consumer) Subscribe(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUnsubscribed), int32(StateSubscribed)) {
		if c.State() == StateClosed {
			return ErrClosed
		}
		return ErrAlreadySubscribed
	}

	ctx, span := tracer.Start(ctx, "Subscribe", trace.WithAttributes(
		attribute.StringSlice("topics", c.cfg.Topics),
		attribute.String("group", c.cfg.GroupID),
	))
	defer span.End()

	if err := c.src.subscribe(ctx, c.cfg.Topics, consumerHooks{c}); err != nil {
		span.RecordError(err)
		c.state.CompareAndSwap(int32(StateSubscribed), int32(StateUnsubscribed))
		return err
	}
	c.log.Info("subscribed",
		zap.Strings("topics", c.cfg.Topics),
		zap.String("group", c.cfg.GroupID),
	)
	return nil
}

// Run крутит цикл poll → process → commit до отмены ctx. После отмены
// дожидается отправки коммитов (не дольше CommitFlushTimeout), освобождает
// соединение и возвращает nil.
func (c *Consumer) Run(ctx context.Context) error {
	switch c.State() {
	case StateClosed:
		return ErrClosed
	case StateUnsubscribed:
		return ErrNotSubscribed
	}
	c.state.CompareAndSwap(int32(StateSubscribed), int32(StatePolling))
	c.log.Info("poll loop started", zap.Duration("poll_interval", c.cfg.PollInterval))

	for ctx.Err() == nil {
		rec, err := c.src.poll(ctx, c.cfg.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.opts.metrics.RecordPollError()
			c.log.Warn("kafka error", zap.Error(err))
			continue
		}
		if rec == nil {
			continue
		}
		c.process(ctx, rec)
	}

	c.log.Info("poll loop stopped", zap.NamedError("cause", context.Cause(ctx)))
	return c.Close()
}

// Close сбрасывает ожидающие коммиты и закрывает соединение. Идемпотентен.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), c.cfg.CommitFlushTimeout)
		c.src.flush(flushCtx)
		if errors.Is(flushCtx.Err(), context.DeadlineExceeded) {
			c.log.Warn("commit flush timed out", zap.Duration("timeout", c.cfg.CommitFlushTimeout))
		}
		cancel()

		c.closeErr = c.src.close()
		c.state.Store(int32(StateClosed))
		if c.closeErr != nil {
			c.log.Error("consumer close failed", zap.Error(c.closeErr))
			return
		}
		c.log.Info("kafka consumer closed")
	})
	return c.closeErr
}

// consumerHooks переводит состояние и пробрасывает события пользователю.
type consumerHooks struct{ c *Consumer }

func (h consumerHooks) OnAssigned(ev RebalanceEvent) {
	h.c.state.CompareAndSwap(int32(StateRebalancing), int32(StatePolling))
	h.c.listener.OnAssigned(ev)
}

func (h consumerHooks) OnRevoked(ev RebalanceEvent) {
	if !h.c.state.CompareAndSwap(int32(StatePolling), int32(StateRebalancing)) {
		h.c.state.CompareAndSwap(int32(StateSubscribed), int32(StateRebalancing))
	}
	h.c.listener.OnRevoked(ev)
}

func (h consumerHooks) OnCommit(ack CommitAck) {
	h.c.opts.metrics.RecordCommit(ack.Err == nil)
	h.c.listener.OnCommit(ack)
}
