// pkg/kafka/record.go
package kafka

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Header: один заголовок записи. Value == nil означает отсутствие значения.
type Header struct {
	Key   string
	Value []byte
}

// InboundRecord: запись, полученная из Kafka. Живёт до коммита своего offset'а.
type InboundRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte // nil → ключа нет
	Payload   []byte // nil → полезной нагрузки нет
	Headers   []Header
	Timestamp time.Time
}

// OutboundRecord: запись для отправки; топик передаётся в PublishBatch.
type OutboundRecord struct {
	Key     string
	Payload string
	Headers []Header
}

// DeliveryOutcome: результат доставки записи с индексом Index в батче.
type DeliveryOutcome struct {
	Index     int
	Success   bool
	Partition int32
	Offset    int64
	Err       error
}

// TopicPartition идентифицирует раздел топика.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s/%d", tp.Topic, tp.Partition)
}

// TopicPartitionOffset: offset, отправленный на коммит (следующий к чтению).
type TopicPartitionOffset struct {
	TopicPartition
	Offset int64
}

// RebalanceKind: тип события ребаланса.
type RebalanceKind int

const (
	RebalanceAssigned RebalanceKind = iota
	RebalanceRevoked
)

func (k RebalanceKind) String() string {
	switch k {
	case RebalanceAssigned:
		return "assigned"
	case RebalanceRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// RebalanceEvent носит чисто информационный характер.
type RebalanceEvent struct {
	Kind       RebalanceKind
	Partitions []TopicPartition
}

// CommitAck: результат одного асинхронного коммита.
type CommitAck struct {
	Offsets []TopicPartitionOffset
	Err     error
}

// partitionsFromClaims разворачивает sess.Claims() в стабильный список.
func partitionsFromClaims(claims map[string][]int32) []TopicPartition {
	out := make([]TopicPartition, 0, len(claims))
	for topic, parts := range claims {
		for _, p := range parts {
			out = append(out, TopicPartition{Topic: topic, Partition: p})
		}
	}
	sortPartitions(out)
	return out
}

func sortPartitions(tps []TopicPartition) {
	slices.SortFunc(tps, func(a, b TopicPartition) int {
		if c := cmp.Compare(a.Topic, b.Topic); c != 0 {
			return c
		}
		return cmp.Compare(a.Partition, b.Partition)
	})
}
