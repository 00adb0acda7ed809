// pkg/kafka/tls.go
package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
)

// buildTLSConfig собирает клиентский tls.Config из PEM-файлов.
func buildTLSConfig(c ConnectionConfig) (*tls.Config, error) {
	caPEM, err := os.ReadFile(c.CAPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read CA: %v", ErrConfig, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("%w: no certificates found in CA file %s", ErrConfig, c.CAPath)
	}

	cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load client key pair: %v", ErrConfig, err)
	}

	return &tls.Config{
		RootCAs:            pool,
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // выключается только явно
		MinVersion:         tls.VersionTLS12,
	}, nil
}

// newSaramaConfig: общая часть sarama-конфига: версия, client.id, транспорт.
func newSaramaConfig(c ConnectionConfig, log *logger.Logger) (*sarama.Config, error) {
	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Version %q: %v", ErrConfig, c.Version, err)
	}

	sc := sarama.NewConfig()
	sc.Version = version
	sc.ClientID = c.ClientID
	if sc.ClientID == "" {
		sc.ClientID = "kafka-tls-client-" + uuid.NewString()[:8]
	}
	sc.Net.DialTimeout = 10 * time.Second
	sc.Metadata.Retry.Max = 3

	if c.Security == SecurityMutualTLS {
		tlsCfg, err := buildTLSConfig(c)
		if err != nil {
			return nil, err
		}
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tlsCfg
	}

	if log != nil && log.ClientLogs() {
		sarama.Logger = log.Named("sarama").StdLogger()
	}
	return sc, nil
}

func consumerSaramaConfig(c ConsumerConfig, log *logger.Logger) (*sarama.Config, error) {
	sc, err := newSaramaConfig(c.ConnectionConfig, log)
	if err != nil {
		return nil, err
	}
	sc.Consumer.Return.Errors = true
	sc.Consumer.Group.Session.Timeout = c.SessionTimeout
	sc.Consumer.Group.Heartbeat.Interval = c.SessionTimeout / 3
	// коммитим сами, через committer
	sc.Consumer.Offsets.AutoCommit.Enable = false

	switch c.InitialOffset {
	case "newest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return sc, nil
}

func producerSaramaConfig(c ProducerConfig, log *logger.Logger) (*sarama.Config, error) {
	sc, err := newSaramaConfig(c.ConnectionConfig, log)
	if err != nil {
		return nil, err
	}

	acks, err := parseRequiredAcks(c.RequiredAcks)
	if err != nil {
		return nil, err
	}
	comp, err := parseCompression(c.Compression)
	if err != nil {
		return nil, err
	}

	sc.Producer.RequiredAcks = acks
	sc.Producer.Compression = comp
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = c.DeliveryTimeout
	if acks == sarama.WaitForAll && sc.Version.IsAtLeast(sarama.V0_11_0_0) {
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return sc, nil
}

func parseRequiredAcks(s string) (sarama.RequiredAcks, error) {
	switch s {
	case "all":
		return sarama.WaitForAll, nil
	case "leader":
		return sarama.WaitForLocal, nil
	case "none":
		return sarama.NoResponse, nil
	default:
		return 0, fmt.Errorf("%w: invalid RequiredAcks %q", ErrConfig, s)
	}
}

func parseCompression(s string) (sarama.CompressionCodec, error) {
	switch s {
	case "none":
		return sarama.CompressionNone, nil
	case "gzip":
		return sarama.CompressionGZIP, nil
	case "snappy":
		return sarama.CompressionSnappy, nil
	case "lz4":
		return sarama.CompressionLZ4, nil
	case "zstd":
		return sarama.CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("%w: invalid Compression %q", ErrConfig, s)
	}
}
