// pkg/kafka/listener.go
package kafka

import (
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
)

// RebalanceListener получает пассивные уведомления клиента.
//
// Хуки вызываются с горутин sarama и коммиттера: они не должны блокироваться
// и ничего не возвращают. Паника в хуке перехватывается и логируется.
type RebalanceListener interface {
	OnAssigned(RebalanceEvent)
	OnRevoked(RebalanceEvent)
	OnCommit(CommitAck)
}

// NopListener игнорирует все события.
type NopListener struct{}

func (NopListener) OnAssigned(RebalanceEvent) {}
func (NopListener) OnRevoked(RebalanceEvent)  {}
func (NopListener) OnCommit(CommitAck)        {}

// LoggingListener пишет каждое событие в лог на уровне info.
type LoggingListener struct {
	Log *logger.Logger
}

func (l LoggingListener) OnAssigned(ev RebalanceEvent) {
	l.Log.Info("partitions assigned", zap.Stringers("partitions", ev.Partitions))
}

func (l LoggingListener) OnRevoked(ev RebalanceEvent) {
	l.Log.Info("partitions revoked", zap.Stringers("partitions", ev.Partitions))
}

func (l LoggingListener) OnCommit(ack CommitAck) {
	fields := make([]zap.Field, 0, 3)
	fields = append(fields, zap.Int("offsets", len(ack.Offsets)))
	for _, o := range ack.Offsets {
		fields = append(fields, zap.Int64(o.TopicPartition.String(), o.Offset))
	}
	if ack.Err != nil {
		l.Log.Warn("offsets commit failed", append(fields, zap.Error(ack.Err))...)
		return
	}
	l.Log.Info("offsets committed", fields...)
}

// Listeners объединяет несколько слушателей в один.
func Listeners(ls ...RebalanceListener) RebalanceListener {
	out := make(multiListener, 0, len(ls))
	for _, l := range ls {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

type multiListener []RebalanceListener

func (m multiListener) OnAssigned(ev RebalanceEvent) {
	for _, l := range m {
		l.OnAssigned(ev)
	}
}

func (m multiListener) OnRevoked(ev RebalanceEvent) {
	for _, l := range m {
		l.OnRevoked(ev)
	}
}

func (m multiListener) OnCommit(ack CommitAck) {
	for _, l := range m {
		l.OnCommit(ack)
	}
}

// safeListener изолирует клиент от паник пользовательских хуков.
type safeListener struct {
	next RebalanceListener
	log  *logger.Logger
}

func (s safeListener) recover(hook string) {
	if r := recover(); r != nil {
		s.log.Error("listener panic recovered", zap.String("hook", hook), zap.Any("panic", r))
	}
}

func (s safeListener) OnAssigned(ev RebalanceEvent) {
	defer s.recover("assigned")
	s.next.OnAssigned(ev)
}

func (s safeListener) OnRevoked(ev RebalanceEvent) {
	defer s.recover("revoked")
	s.next.OnRevoked(ev)
}

func (s safeListener) OnCommit(ack CommitAck) {
	defer s.recover("commit")
	s.next.OnCommit(ack)
}
