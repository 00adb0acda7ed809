// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	httpserver "github.com/YaganovValera/kafka-tls-client/internal/http"
	"github.com/YaganovValera/kafka-tls-client/pkg/kafka"
	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
	"github.com/YaganovValera/kafka-tls-client/pkg/telemetry"
)

/*
   --------------------------------------------------------------------------
   СТРУКТУРЫ
   --------------------------------------------------------------------------
*/

// Role определяет, какой клиент загружает конфиг.
type Role string

const (
	RoleConsumer Role = "kafka-consumer"
	RoleProducer Role = "kafka-producer"
)

const envPrefix = "KAFKA_TLS"

// Config: все настройки клиента.
// Секция kafka декодируется и в Consumer, и в Producer: общие ключи
// подключения попадают в оба, остальные: в свою роль.
type Config struct {
	Role      Role                 `mapstructure:"-"`
	Consumer  kafka.ConsumerConfig `mapstructure:"-"`
	Producer  kafka.ProducerConfig `mapstructure:"-"`
	Publish   Publish              `mapstructure:"producer"`
	Logging   Logging              `mapstructure:"logging"`
	Telemetry telemetry.Config     `mapstructure:"telemetry"`
	HTTP      httpserver.Config    `mapstructure:"http"`
}

// Publish: параметры одного прогона продюсера.
type Publish struct {
	Topic string `mapstructure:"topic"`
	Count int    `mapstructure:"count"`
}

// Logging хранит настройки логгера.
// Conf: строка --log-conf ("info", "sarama=debug"); если задана, важнее Level.
type Logging struct {
	Conf       string `mapstructure:"conf"`
	Level      string `mapstructure:"level"`
	DevMode    bool   `mapstructure:"dev_mode"`
	ClientLogs bool   `mapstructure:"client_logs"`
}

// LoggerConfig собирает logger.Config из секции logging.
func (l Logging) LoggerConfig() logger.Config {
	cfg := logger.Config{Level: l.Level, DevMode: l.DevMode, ClientLogs: l.ClientLogs}
	if l.Conf != "" {
		parsed := logger.ParseLogConf(l.Conf)
		if parsed.Level != "" {
			cfg.Level = parsed.Level
		}
		cfg.ClientLogs = cfg.ClientLogs || parsed.ClientLogs
	}
	return cfg
}

// flagKeys связывает имена CLI-флагов с ключами конфига.
var flagKeys = map[string]string{
	"brokers":  "kafka.brokers",
	"group-id": "kafka.group_id",
	"topics":   "kafka.topics",
	"topic":    "producer.topic",
	"count":    "producer.count",
	"log-conf": "logging.conf",
}

// legacyEnv: исторические имена переменных окружения без префикса.
var legacyEnv = map[string]string{
	"kafka.brokers":   "KAFKA_BROKERS",
	"kafka.ca_path":   "KAFKA_TLS_CLIENT_CA",
	"kafka.key_path":  "KAFKA_TLS_CLIENT_KEY",
	"kafka.cert_path": "KAFKA_TLS_CLIENT_CERT",
}

/*
   --------------------------------------------------------------------------
   LOADER
   --------------------------------------------------------------------------
*/

// Load собирает конфиг: defaults → YAML (если path не пуст) → ENV → флаги.
// flags может быть nil.
func Load(role Role, path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// ---------- 1) Defaults ----------
	setDefaults(v, role)

	// ---------- 2) ENV ----------
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %q: %w", key, err)
		}
	}

	// ---------- 3) Optional file ----------
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	// ---------- 4) Flags ----------
	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %q: %w", name, err)
			}
		}
	}

	// ---------- 5) Decode ----------
	cfg := &Config{Role: role}
	settings := v.AllSettings()
	if err := decode(settings, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	kafkaSection, _ := settings["kafka"].(map[string]interface{})
	cfg.Consumer = kafka.DefaultConsumerConfig()
	if err := decode(kafkaSection, &cfg.Consumer); err != nil {
		return nil, fmt.Errorf("decode kafka consumer config: %w", err)
	}
	cfg.Producer = kafka.DefaultProducerConfig()
	if err := decode(kafkaSection, &cfg.Producer); err != nil {
		return nil, fmt.Errorf("decode kafka producer config: %w", err)
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = string(role)
	}

	// ---------- 6) Validation ----------
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, role Role) {
	// Kafka
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.security", string(kafka.SecurityMutualTLS))
	v.SetDefault("kafka.ca_path", "./kubernetes/tls/ca.pem")
	v.SetDefault("kafka.key_path", "./kubernetes/tls/client-key.pem")
	v.SetDefault("kafka.cert_path", "./kubernetes/tls/client.pem")
	v.SetDefault("kafka.insecure_skip_verify", false)
	v.SetDefault("kafka.client_id", "")
	v.SetDefault("kafka.version", "2.8.0")

	v.SetDefault("kafka.group_id", "example_consumer_group_id")
	v.SetDefault("kafka.topics", []string{})
	v.SetDefault("kafka.session_timeout", "6s")
	v.SetDefault("kafka.auto_commit", true)
	v.SetDefault("kafka.partition_eof", false)
	v.SetDefault("kafka.poll_interval", "100ms")
	v.SetDefault("kafka.initial_offset", "oldest")
	v.SetDefault("kafka.commit_flush_timeout", "5s")

	v.SetDefault("kafka.delivery_timeout", "5s")
	v.SetDefault("kafka.queue_timeout", "0s")
	v.SetDefault("kafka.required_acks", "all")
	v.SetDefault("kafka.compression", "none")

	// Producer run
	v.SetDefault("producer.topic", "")
	v.SetDefault("producer.count", 5)

	// Logging
	v.SetDefault("logging.conf", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)
	v.SetDefault("logging.client_logs", false)

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", string(role))
	v.SetDefault("telemetry.service_version", "v1.0.0")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sampler_ratio", 1.0)

	// HTTP (только у consumer'а; пустой addr отключает сервер)
	addr := ""
	if role == RoleConsumer {
		addr = ":8080"
	}
	v.SetDefault("http.addr", addr)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
}

func decode(input map[string]interface{}, target interface{}) error {
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBoolHook,
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     target,
		DecodeHook: hook,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	return dec.Decode(input)
}

// stringToBoolHook разбирает true/false, иначе отдает исходные данные.
func stringToBoolHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(data.(string))
	}
	return data, nil
}

/*
   --------------------------------------------------------------------------
   VALIDATION
   --------------------------------------------------------------------------
*/

// Validate проверяет секции, относящиеся к роли.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleConsumer:
		c.Consumer.ApplyDefaults()
		if err := c.Consumer.Validate(); err != nil {
			return err
		}
	case RoleProducer:
		c.Producer.ApplyDefaults()
		if err := c.Producer.Validate(); err != nil {
			return err
		}
		if c.Publish.Topic == "" {
			return fmt.Errorf("%w: producer.topic is required", kafka.ErrConfig)
		}
		if c.Publish.Count < 0 {
			return fmt.Errorf("%w: producer.count must be >= 0", kafka.ErrConfig)
		}
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}

	// Logging
	switch strings.ToLower(c.Logging.LoggerConfig().Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}

	// Telemetry
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	return nil
}

/*
   --------------------------------------------------------------------------
   DEBUG PRINT
   --------------------------------------------------------------------------
*/

// Print выводит текущий конфиг в JSON (удобно в DevMode).
func (c *Config) Print() {
	b, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println("Loaded configuration:\n", string(b))
}
