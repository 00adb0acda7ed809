// pkg/kafka/errors.go
package kafka

import (
	"errors"

	"github.com/IBM/sarama"

	"github.com/YaganovValera/kafka-tls-client/pkg/backoff"
)

// Сентинелы ошибок клиента. Оборачиваются через %w, проверяются errors.Is.
//
// Фатальны только ErrConfig и ErrConnect: остальные логируются,
// а цикл обработки продолжает работу.
var (
	ErrConfig   = errors.New("kafka: invalid configuration")
	ErrConnect  = errors.New("kafka: connect failed")
	ErrPoll     = errors.New("kafka: poll failed")
	ErrDecode   = errors.New("kafka: text decode failed")
	ErrCommit   = errors.New("kafka: offset commit failed")
	ErrDelivery = errors.New("kafka: delivery failed")

	ErrClosed            = errors.New("kafka: client closed")
	ErrAlreadySubscribed = errors.New("kafka: consumer already subscribed")
	ErrNotSubscribed     = errors.New("kafka: consumer not subscribed")
)

// permanentIfConfig помечает ошибки конфигурации sarama как неповторяемые.
func permanentIfConfig(err error) error {
	var cfgErr sarama.ConfigurationError
	if errors.As(err, &cfgErr) {
		return backoff.Permanent(err)
	}
	return err
}
