// pkg/kafka/committer.go
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
)

// commitFunc отправляет OffsetCommit координатору группы.
type commitFunc func(req *sarama.OffsetCommitRequest) (*sarama.OffsetCommitResponse, error)

// coordinatorCommit шлёт запрос текущему координатору группы. При сетевой
// ошибке координатор перечитывается, но сам запрос не повторяется.
func coordinatorCommit(client sarama.Client, groupID string) commitFunc {
	return func(req *sarama.OffsetCommitRequest) (*sarama.OffsetCommitResponse, error) {
		broker, err := client.Coordinator(groupID)
		if err != nil {
			return nil, err
		}
		resp, err := broker.CommitOffset(req)
		if err != nil {
			_ = client.RefreshCoordinator(groupID)
			return nil, err
		}
		return resp, nil
	}
}

// pendingOffset: следующий offset к чтению и поколение сессии, в которой он получен.
type pendingOffset struct {
	offset     int64
	generation int32
	memberID   string
}

type generationKey struct {
	generation int32
	memberID   string
}

// committer копит offset'ы по разделам и отправляет их отдельной горутиной.
//
// submit только пишет в map под мьютексом: цикл обработки не ждёт сеть.
// Несколько submit'ов по одному разделу между отправками схлопываются в
// последний. Неудачные коммиты не повторяются: следующий коммит того же
// раздела их перекрывает.
type committer struct {
	groupID string
	send    commitFunc
	hooks   RebalanceListener
	log     *logger.Logger

	mu      sync.Mutex
	pending map[TopicPartition]pendingOffset

	wake     chan struct{}
	flushReq chan chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newCommitter(groupID string, send commitFunc, hooks RebalanceListener, log *logger.Logger) *committer {
	return &committer{
		groupID:  groupID,
		send:     send,
		hooks:    hooks,
		log:      log,
		pending:  make(map[TopicPartition]pendingOffset),
		wake:     make(chan struct{}, 1),
		flushReq: make(chan chan struct{}),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (c *committer) start() {
	go c.run()
}

func (c *committer) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.wake:
			c.commitPending()
		case ack := <-c.flushReq:
			c.commitPending()
			close(ack)
		case <-c.done:
			return
		}
	}
}

// submit ставит next-offset раздела в очередь и будит горутину коммита.
func (c *committer) submit(tp TopicPartition, next int64, generation int32, memberID string) {
	c.mu.Lock()
	c.pending[tp] = pendingOffset{offset: next, generation: generation, memberID: memberID}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// flush просит отправить всё накопленное и ждёт, пока жив ctx.
func (c *committer) flush(ctx context.Context) {
	ack := make(chan struct{})
	select {
	case c.flushReq <- ack:
	case <-c.stopped:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-ack:
	case <-ctx.Done():
	}
}

func (c *committer) stop() {
	c.stopOnce.Do(func() { close(c.done) })
	<-c.stopped
}

func (c *committer) takePending() map[TopicPartition]pendingOffset {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	batch := c.pending
	c.pending = make(map[TopicPartition]pendingOffset, len(batch))
	return batch
}

// commitPending отправляет по одному запросу на каждое поколение сессии.
func (c *committer) commitPending() {
	batch := c.takePending()
	if batch == nil {
		return
	}

	byGen := make(map[generationKey][]TopicPartitionOffset)
	for tp, p := range batch {
		k := generationKey{generation: p.generation, memberID: p.memberID}
		byGen[k] = append(byGen[k], TopicPartitionOffset{TopicPartition: tp, Offset: p.offset})
	}

	for k, offsets := range byGen {
		sortOffsets(offsets)
		ack := CommitAck{Offsets: offsets, Err: c.commitOnce(k, offsets)}
		if ack.Err != nil {
			c.log.Warn("offset commit failed", zap.Int32("generation", k.generation), zap.Error(ack.Err))
		}
		c.hooks.OnCommit(ack)
	}
}

func (c *committer) commitOnce(k generationKey, offsets []TopicPartitionOffset) error {
	req := &sarama.OffsetCommitRequest{
		Version:                 2,
		ConsumerGroup:           c.groupID,
		ConsumerGroupGeneration: k.generation,
		ConsumerID:              k.memberID,
		RetentionTime:           -1,
	}
	for _, o := range offsets {
		req.AddBlock(o.Topic, o.Partition, o.Offset, 0, "")
	}

	resp, err := c.send(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	if resp == nil {
		return nil
	}

	var errs []error
	for _, o := range offsets {
		if kerr, ok := resp.Errors[o.Topic][o.Partition]; ok && kerr != sarama.ErrNoError {
			errs = append(errs, fmt.Errorf("%s: %w", o.TopicPartition, kerr))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrCommit, errors.Join(errs...))
	}
	return nil
}

func sortOffsets(offsets []TopicPartitionOffset) {
	tps := make([]TopicPartition, len(offsets))
	byTP := make(map[TopicPartition]int64, len(offsets))
	for i, o := range offsets {
		tps[i] = o.TopicPartition
		byTP[o.TopicPartition] = o.Offset
	}
	sortPartitions(tps)
	for i, tp := range tps {
		offsets[i] = TopicPartitionOffset{TopicPartition: tp, Offset: byTP[tp]}
	}
}
