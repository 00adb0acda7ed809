// pkg/kafka/errors_test.go
package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"

	"github.com/YaganovValera/kafka-tls-client/pkg/backoff"
	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
)

func TestPermanentIfConfig_StopsRetries(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"configuration error", sarama.ConfigurationError("Net.TLS.Config is nil"), 1},
		{"transient error", sarama.ErrOutOfBrokers, 3},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			calls := 0
			err := backoff.Execute(context.Background(), "test-"+c.name, backoff.Config{
				InitialInterval: 1,
				MaxInterval:     1,
			}, logger.NewNop(), func(context.Context) error {
				calls++
				if calls >= 3 {
					return backoff.Permanent(c.err)
				}
				return permanentIfConfig(c.err)
			})
			if !errors.Is(err, c.err) {
				t.Errorf("err = %v", err)
			}
			if calls != c.wantCalls {
				t.Errorf("calls = %d; want %d", calls, c.wantCalls)
			}
		})
	}
}
