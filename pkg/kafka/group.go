// pkg/kafka/group.go
package kafka

import (
	"context"
	"errors"
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

// sessionPause: пауза перед новой сессией после ошибки Consume.
const sessionPause = 500 * time.Millisecond

// delivered: сообщение из claim вместе с сессией, в которой оно получено.
type delivered struct {
	msg  *sarama.ConsumerMessage
	sess sarama.ConsumerGroupSession
}

// groupSource: recordSource поверх sarama.ConsumerGroup.
//
// Горутины claim'ов пишут в общий канал records; порядок внутри раздела
// сохраняется, т.к. у раздела ровно одна горутина claim.
type groupSource struct {
	cfg ConsumerConfig
	log *logger.Logger

	client sarama.Client
	group  sarama.ConsumerGroup

	records chan delivered
	errs    chan error

	// owners: последняя сессия, отдавшая запись раздела. Трогает только цикл Run.
	owners map[TopicPartition]sarama.ConsumerGroupSession

	committer *committer
	hooks     RebalanceListener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newGroupSource(ctx context.Context, cfg ConsumerConfig, log *logger.Logger) (*groupSource, error) {
	sc, err := consumerSaramaConfig(cfg, log)
	if err != nil {
		return nil, err
	}

	var (
		client sarama.Client
		group  sarama.ConsumerGroup
	)
	connect := func(ctx context.Context) error {
		cl, err := sarama.NewClient(cfg.Brokers, sc)
		if err != nil {
			return permanentIfConfig(err)
		}
		g, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, cl)
		if err != nil {
			_ = cl.Close()
			return permanentIfConfig(err)
		}
		client, group = cl, g
		return nil
	}

	ctxConn, span := tracer.Start(ctx, "Connect", trace.WithAttributes(
		attribute.StringSlice("brokers", cfg.Brokers),
		attribute.String("group", cfg.GroupID),
		attribute.String("security", string(cfg.Security)),
	))
	if err := backoff.Execute(ctxConn, "kafka-consumer-connect", cfg.Backoff, log, connect); err != nil {
		span.RecordError(err)
		span.End()
		return nil, fmt.Errorf("%w: consumer group %q: %w", ErrConnect, cfg.GroupID, err)
	}
	span.End()

	log.Info("kafka consumer group connected",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("group", cfg.GroupID),
		zap.String("security", string(cfg.Security)),
	)

	sessCtx, cancel := context.WithCancel(context.Background())
	return &groupSource{
		cfg:     cfg,
		log:     log,
		client:  client,
		group:   group,
		records: make(chan delivered),
		errs:    make(chan error, 16),
		owners:  make(map[TopicPartition]sarama.ConsumerGroupSession),
		ctx:     sessCtx,
		cancel:  cancel,
	}, nil
}

func (s *groupSource) subscribe(_ context.Context, topics []string, hooks RebalanceListener) error {
	s.hooks = hooks
	s.committer = newCommitter(s.cfg.GroupID, coordinatorCommit(s.client, s.cfg.GroupID), hooks, s.log)
	s.committer.start()

	handler := otelsarama.WrapConsumerGroupHandler(&groupHandler{src: s})

	s.wg.Add(2)
	go s.consumeLoop(topics, handler)
	go s.forwardErrors()
	return nil
}

// consumeLoop держит сессию группы: Consume возвращается на каждом ребалансе.
func (s *groupSource) consumeLoop(topics []string, handler sarama.ConsumerGroupHandler) {
	defer s.wg.Done()
	for {
		if err := s.group.Consume(s.ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			s.pushErr(fmt.Errorf("%w: session: %w", ErrPoll, err))
			select {
			case <-time.After(sessionPause):
			case <-s.ctx.Done():
				return
			}
		}
		if s.ctx.Err() != nil {
			return
		}
	}
}

func (s *groupSource) forwardErrors() {
	defer s.wg.Done()
	for err := range s.group.Errors() {
		s.pushErr(fmt.Errorf("%w: %w", ErrPoll, err))
	}
}

func (s *groupSource) pushErr(err error) {
	select {
	case s.errs <- err:
	case <-s.ctx.Done():
	default:
		s.log.Warn("kafka error dropped, poll loop is behind", zap.Error(err))
	}
}

func (s *groupSource) poll(ctx context.Context, wait time.Duration) (*InboundRecord, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case d := <-s.records:
		rec := toInbound(d.msg)
		s.owners[TopicPartition{Topic: rec.Topic, Partition: rec.Partition}] = d.sess
		return rec, nil
	case err := <-s.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (s *groupSource) commit(rec *InboundRecord) {
	tp := TopicPartition{Topic: rec.Topic, Partition: rec.Partition}
	sess, ok := s.owners[tp]
	if !ok || s.committer == nil {
		return
	}
	s.committer.submit(tp, rec.Offset+1, sess.GenerationID(), sess.MemberID())
}

func (s *groupSource) flush(ctx context.Context) {
	if s.committer != nil {
		s.committer.flush(ctx)
	}
}

// close останавливает сессию (Cleanup ещё успевает закоммитить),
// затем коммиттер и клиента.
func (s *groupSource) close() error {
	s.cancel()
	gerr := s.group.Close()
	s.wg.Wait()
	if s.committer != nil {
		s.committer.stop()
	}
	cerr := s.client.Close()
	if errors.Is(cerr, sarama.ErrClosedClient) {
		cerr = nil
	}
	return errors.Join(gerr, cerr)
}

func toInbound(m *sarama.ConsumerMessage) *InboundRecord {
	rec := &InboundRecord{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Payload:   m.Value,
		Timestamp: m.Timestamp,
	}
	if len(m.Headers) > 0 {
		rec.Headers = make([]Header, 0, len(m.Headers))
		for _, h := range m.Headers {
			if h == nil {
				continue
			}
			rec.Headers = append(rec.Headers, Header{Key: string(h.Key), Value: h.Value})
		}
	}
	return rec
}

// -----------------------------------------------------------------------------
// sarama handler
// -----------------------------------------------------------------------------

type groupHandler struct {
	src *groupSource
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.src.hooks.OnAssigned(RebalanceEvent{
		Kind:       RebalanceAssigned,
		Partitions: partitionsFromClaims(sess.Claims()),
	})
	return nil
}

// Cleanup вызывается до выхода из поколения, поэтому накопленные offset'ы
// ещё можно закоммитить с текущим generation.
func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.src.hooks.OnRevoked(RebalanceEvent{
		Kind:       RebalanceRevoked,
		Partitions: partitionsFromClaims(sess.Claims()),
	})
	ctx, cancel := context.WithTimeout(context.Background(), h.src.cfg.CommitFlushTimeout)
	defer cancel()
	h.src.committer.flush(ctx)
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	atEOF := false
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.src.records <- delivered{msg: msg, sess: sess}:
			case <-sess.Context().Done():
				return nil
			}
			if !h.src.cfg.PartitionEOF {
				continue
			}
			caughtUp := msg.Offset+1 >= claim.HighWaterMarkOffset()
			if caughtUp && !atEOF {
				h.src.log.Info("reached end of partition",
					zap.String("topic", claim.Topic()),
					zap.Int32("partition", claim.Partition()),
					zap.Int64("offset", msg.Offset+1),
				)
			}
			atEOF = caughtUp
		case <-sess.Context().Done():
			return nil
		}
	}
}
