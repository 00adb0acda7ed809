package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YaganovValera/kafka-tls-client/pkg/kafka"
)

var (
	once sync.Once

	// RecordsConsumed: число обработанных записей по топикам.
	RecordsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka_tls",
		Subsystem: "consumer",
		Name:      "records_total",
		Help:      "Total number of records consumed and logged",
	}, []string{"topic"})

	// PollErrors: ошибки уровня poll (сессия группы, брокер).
	PollErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kafka_tls",
		Subsystem: "consumer",
		Name:      "poll_errors_total",
		Help:      "Total number of poll-level errors",
	})

	// Commits: результаты асинхронных коммитов offset'ов.
	Commits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka_tls",
		Subsystem: "consumer",
		Name:      "commits_total",
		Help:      "Offset commit requests by result",
	}, []string{"result"})

	// Rebalances: события ребаланса по типу.
	Rebalances = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka_tls",
		Subsystem: "consumer",
		Name:      "rebalances_total",
		Help:      "Rebalance events by kind",
	}, []string{"kind"})

	// AssignedPartitions: число разделов, назначенных после последнего ребаланса.
	AssignedPartitions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kafka_tls",
		Subsystem: "consumer",
		Name:      "assigned_partitions",
		Help:      "Partitions assigned to this member",
	})

	// Deliveries: исходы доставки записей продьюсера.
	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka_tls",
		Subsystem: "producer",
		Name:      "deliveries_total",
		Help:      "Delivery outcomes by topic and result",
	}, []string{"topic", "result"})

	// DeliveryLatency: время от отправки до подтверждения (секунды).
	DeliveryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kafka_tls",
		Subsystem: "producer",
		Name:      "delivery_latency_seconds",
		Help:      "Latency from send to delivery outcome (seconds)",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})
)

// Register регистрирует все метрики в заданном реестре.
// Без аргументов: в prometheus.DefaultRegisterer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			RecordsConsumed,
			PollErrors,
			Commits,
			Rebalances,
			AssignedPartitions,
			Deliveries,
			DeliveryLatency,
		)
	})
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Collector пишет счётчики клиента в Prometheus: реализует kafka.Recorder
// и kafka.RebalanceListener.
type Collector struct{}

var (
	_ kafka.Recorder          = Collector{}
	_ kafka.RebalanceListener = Collector{}
)

func (Collector) RecordConsumed(topic string) { RecordsConsumed.WithLabelValues(topic).Inc() }
func (Collector) RecordPollError()            { PollErrors.Inc() }
func (Collector) RecordCommit(ok bool)        { Commits.WithLabelValues(result(ok)).Inc() }

func (Collector) RecordDelivery(topic string, ok bool, latency time.Duration) {
	Deliveries.WithLabelValues(topic, result(ok)).Inc()
	DeliveryLatency.WithLabelValues(topic).Observe(latency.Seconds())
}

func (Collector) OnAssigned(ev kafka.RebalanceEvent) {
	Rebalances.WithLabelValues(ev.Kind.String()).Inc()
	AssignedPartitions.Set(float64(len(ev.Partitions)))
}

func (Collector) OnRevoked(ev kafka.RebalanceEvent) {
	Rebalances.WithLabelValues(ev.Kind.String()).Inc()
	AssignedPartitions.Set(0)
}

// OnCommit ничего не делает: коммиты уже считает RecordCommit.
func (Collector) OnCommit(kafka.CommitAck) {}
