// pkg/kafka/config.go
package kafka

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/YaganovValera/kafka-tls-client/pkg/backoff"
)

// SecurityMode задаёт транспорт до брокеров.
type SecurityMode string

const (
	SecurityPlaintext SecurityMode = "PLAINTEXT"
	SecurityMutualTLS SecurityMode = "MUTUAL_TLS"
)

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// ConnectionConfig: общие параметры подключения для consumer и producer.
//
// При Security == MUTUAL_TLS все три пути обязаны указывать на читаемые
// файлы: Validate проверяет это до любой сетевой активности.
type ConnectionConfig struct {
	Brokers  []string     `mapstructure:"brokers"`
	Security SecurityMode `mapstructure:"security"`

	CAPath   string `mapstructure:"ca_path"`
	KeyPath  string `mapstructure:"key_path"`
	CertPath string `mapstructure:"cert_path"`

	// InsecureSkipVerify=true отключает проверку сертификата брокера.
	// Нулевое значение: сертификат проверяется.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	ClientID string         `mapstructure:"client_id"`
	Version  string         `mapstructure:"version"`
	Backoff  backoff.Config `mapstructure:"backoff"`
}

// DefaultConnectionConfig возвращает конфиг с mTLS и проверкой сертификата брокера.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Security: SecurityMutualTLS,
		Version:  "2.8.0",
	}
}

// ApplyDefaults заполняет пустые поля.
func (c *ConnectionConfig) ApplyDefaults() {
	if c.Security == "" {
		c.Security = SecurityMutualTLS
	}
	c.Security = SecurityMode(strings.ToUpper(string(c.Security)))
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	if c.Backoff.MaxElapsedTime <= 0 {
		c.Backoff.MaxElapsedTime = 30 * time.Second
	}
	brokers := c.Brokers[:0:0]
	for _, b := range c.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Brokers = brokers
}

// Validate проверяет адреса брокеров и TLS-материалы.
func (c ConnectionConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("%w: brokers required", ErrConfig)
	}
	for _, b := range c.Brokers {
		host, port, err := net.SplitHostPort(b)
		if err != nil || host == "" || port == "" {
			return fmt.Errorf("%w: broker %q must be host:port", ErrConfig, b)
		}
	}
	if _, err := sarama.ParseKafkaVersion(c.Version); err != nil {
		return fmt.Errorf("%w: invalid Version %q: %v", ErrConfig, c.Version, err)
	}

	switch c.Security {
	case SecurityPlaintext:
		return nil
	case SecurityMutualTLS:
	default:
		return fmt.Errorf("%w: unknown security mode %q", ErrConfig, c.Security)
	}

	for _, f := range []struct{ name, path string }{
		{"CA", c.CAPath},
		{"client key", c.KeyPath},
		{"client certificate", c.CertPath},
	} {
		if err := checkReadable(f.path); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfig, f.name, err)
		}
	}
	return nil
}

func checkReadable(path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Consumer
// -----------------------------------------------------------------------------

// ConsumerConfig описывает участника consumer group.
type ConsumerConfig struct {
	ConnectionConfig `mapstructure:",squash"`

	GroupID string   `mapstructure:"group_id"`
	Topics  []string `mapstructure:"topics"`

	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// AutoCommit оставлен для совместимости конфигов: ядро всегда
	// коммитит явно и асинхронно после обработки записи.
	AutoCommit bool `mapstructure:"auto_commit"`

	// PartitionEOF=true → info-лог при достижении high-water mark раздела.
	PartitionEOF bool `mapstructure:"partition_eof"`

	PollInterval       time.Duration `mapstructure:"poll_interval"`
	InitialOffset      string        `mapstructure:"initial_offset"` // "oldest" | "newest"
	CommitFlushTimeout time.Duration `mapstructure:"commit_flush_timeout"`
}

// DefaultConsumerConfig возвращает конфиг с дефолтами клиента.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		ConnectionConfig:   DefaultConnectionConfig(),
		SessionTimeout:     6 * time.Second,
		AutoCommit:         true,
		PollInterval:       100 * time.Millisecond,
		InitialOffset:      "oldest",
		CommitFlushTimeout: 5 * time.Second,
	}
}

func (c *ConsumerConfig) ApplyDefaults() {
	c.ConnectionConfig.ApplyDefaults()
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 6 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.InitialOffset == "" {
		c.InitialOffset = "oldest"
	}
	c.InitialOffset = strings.ToLower(c.InitialOffset)
	if c.CommitFlushTimeout <= 0 {
		c.CommitFlushTimeout = 5 * time.Second
	}
	c.Topics = dedupTopics(c.Topics)
}

func (c ConsumerConfig) Validate() error {
	if err := c.ConnectionConfig.Validate(); err != nil {
		return err
	}
	if c.GroupID == "" {
		return fmt.Errorf("%w: GroupID required", ErrConfig)
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("%w: at least one topic required", ErrConfig)
	}
	switch c.InitialOffset {
	case "oldest", "newest":
	default:
		return fmt.Errorf("%w: invalid InitialOffset %q", ErrConfig, c.InitialOffset)
	}
	return nil
}

// dedupTopics убирает пустые и повторные имена, сохраняя порядок.
func dedupTopics(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// -----------------------------------------------------------------------------
// Producer
// -----------------------------------------------------------------------------

// ProducerConfig: параметры асинхронного продьюсера.
type ProducerConfig struct {
	ConnectionConfig `mapstructure:",squash"`

	// DeliveryTimeout ограничивает ожидание подтверждения каждой записи.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`

	// QueueTimeout ограничивает постановку в очередь. Ноль → ждать,
	// пока позволяет ctx, а завершение регулирует DeliveryTimeout.
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`

	// RequiredAcks: "all" (дефолт) | "leader" | "none".
	RequiredAcks string `mapstructure:"required_acks"`

	// Compression: "none" (дефолт) | "gzip" | "snappy" | "lz4" | "zstd".
	Compression string `mapstructure:"compression"`
}

func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		ConnectionConfig: DefaultConnectionConfig(),
		DeliveryTimeout:  5 * time.Second,
		RequiredAcks:     "all",
		Compression:      "none",
	}
}

func (c *ProducerConfig) ApplyDefaults() {
	c.ConnectionConfig.ApplyDefaults()
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 5 * time.Second
	}
	if c.QueueTimeout < 0 {
		c.QueueTimeout = 0
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	c.RequiredAcks = strings.ToLower(c.RequiredAcks)
	c.Compression = strings.ToLower(c.Compression)
}

func (c ProducerConfig) Validate() error {
	if err := c.ConnectionConfig.Validate(); err != nil {
		return err
	}
	if _, err := parseRequiredAcks(c.RequiredAcks); err != nil {
		return err
	}
	if _, err := parseCompression(c.Compression); err != nil {
		return err
	}
	return nil
}
