// pkg/kafka/config_test.go
package kafka

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/YaganovValera/kafka-tls-client/pkg/logger"
)

// writeTestPKI выпускает CA и клиентский сертификат, подписанный им.
func writeTestPKI(t *testing.T) (caPath, certPath, keyPath string) {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ca key: %v", err)
	}
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("ca cert: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse ca: %v", err)
	}

	cliKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("client key: %v", err)
	}
	cliTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "test-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	cliDER, err := x509.CreateCertificate(rand.Reader, cliTmpl, caCert, &cliKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("client cert: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(cliKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	caPath = filepath.Join(dir, "ca.pem")
	certPath = filepath.Join(dir, "client.pem")
	keyPath = filepath.Join(dir, "client-key.pem")
	writePEM(t, caPath, "CERTIFICATE", caDER)
	writePEM(t, certPath, "CERTIFICATE", cliDER)
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER)
	return caPath, certPath, keyPath
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func tlsConn(t *testing.T) ConnectionConfig {
	ca, cert, key := writeTestPKI(t)
	c := DefaultConnectionConfig()
	c.Brokers = []string{"localhost:9093"}
	c.CAPath, c.CertPath, c.KeyPath = ca, cert, key
	return c
}

func TestConnectionConfig_Validate(t *testing.T) {
	ca, cert, key := writeTestPKI(t)
	dir := t.TempDir()

	cases := []struct {
		name    string
		cfg     ConnectionConfig
		wantErr bool
	}{
		{"no brokers", ConnectionConfig{Security: SecurityPlaintext}, true},
		{"blank brokers", ConnectionConfig{Brokers: []string{" ", ""}, Security: SecurityPlaintext}, true},
		{"broker without port", ConnectionConfig{Brokers: []string{"localhost"}, Security: SecurityPlaintext}, true},
		{"plaintext ok", ConnectionConfig{Brokers: []string{"localhost:9092"}, Security: SecurityPlaintext}, false},
		{"unknown security", ConnectionConfig{Brokers: []string{"localhost:9092"}, Security: "SASL"}, true},
		{"bad version", ConnectionConfig{Brokers: []string{"localhost:9092"}, Security: SecurityPlaintext, Version: "x.y"}, true},
		{"tls missing ca", ConnectionConfig{Brokers: []string{"b:9093"}, CertPath: cert, KeyPath: key}, true},
		{"tls missing key", ConnectionConfig{Brokers: []string{"b:9093"}, CAPath: ca, CertPath: cert}, true},
		{"tls missing cert", ConnectionConfig{Brokers: []string{"b:9093"}, CAPath: ca, KeyPath: key}, true},
		{"tls nonexistent file", ConnectionConfig{Brokers: []string{"b:9093"}, CAPath: filepath.Join(dir, "nope.pem"), CertPath: cert, KeyPath: key}, true},
		{"tls directory", ConnectionConfig{Brokers: []string{"b:9093"}, CAPath: dir, CertPath: cert, KeyPath: key}, true},
		{"tls ok", ConnectionConfig{Brokers: []string{"b:9093"}, CAPath: ca, CertPath: cert, KeyPath: key}, false},
		{"lowercase security", ConnectionConfig{Brokers: []string{"b:9093"}, Security: "mutual_tls", CAPath: ca, CertPath: cert, KeyPath: key}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := c.cfg
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() error = %v; wantErr=%v", err, c.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestConsumerConfig_DefaultsAndValidate(t *testing.T) {
	cfg := ConsumerConfig{
		ConnectionConfig: ConnectionConfig{Brokers: []string{"localhost:9092"}, Security: SecurityPlaintext},
		GroupID:          "g",
		Topics:           []string{"a", "b", "a", " ", "b", "c"},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(cfg.Topics); got != 3 || cfg.Topics[0] != "a" || cfg.Topics[1] != "b" || cfg.Topics[2] != "c" {
		t.Errorf("Topics = %v; want [a b c]", cfg.Topics)
	}
	if cfg.SessionTimeout != 6*time.Second {
		t.Errorf("SessionTimeout = %v", cfg.SessionTimeout)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.CommitFlushTimeout != 5*time.Second {
		t.Errorf("CommitFlushTimeout = %v", cfg.CommitFlushTimeout)
	}
	if cfg.InitialOffset != "oldest" {
		t.Errorf("InitialOffset = %q", cfg.InitialOffset)
	}

	bad := []struct {
		name string
		mod  func(*ConsumerConfig)
	}{
		{"no group", func(c *ConsumerConfig) { c.GroupID = "" }},
		{"no topics", func(c *ConsumerConfig) { c.Topics = nil }},
		{"bad offset", func(c *ConsumerConfig) { c.InitialOffset = "middle" }},
	}
	for _, b := range bad {
		t.Run(b.name, func(t *testing.T) {
			c := cfg
			b.mod(&c)
			c.ApplyDefaults()
			if err := c.Validate(); !errors.Is(err, ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestDefaultConsumerConfig(t *testing.T) {
	cfg := DefaultConsumerConfig()
	if !cfg.AutoCommit || cfg.PartitionEOF || cfg.InsecureSkipVerify {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Security != SecurityMutualTLS {
		t.Errorf("Security = %q", cfg.Security)
	}
}

func TestProducerConfig_DefaultsAndValidate(t *testing.T) {
	cases := []struct {
		name     string
		input    ProducerConfig
		wantErr  bool
		wantAcks string
		wantComp string
	}{
		{"empty", ProducerConfig{}, true, "all", "none"},
		{"ok", ProducerConfig{ConnectionConfig: ConnectionConfig{Brokers: []string{"b:1"}, Security: SecurityPlaintext}}, false, "all", "none"},
		{"upper", ProducerConfig{ConnectionConfig: ConnectionConfig{Brokers: []string{"b:1"}, Security: SecurityPlaintext}, RequiredAcks: "LeAdEr", Compression: "GZIP"}, false, "leader", "gzip"},
		{"bad acks", ProducerConfig{ConnectionConfig: ConnectionConfig{Brokers: []string{"b:1"}, Security: SecurityPlaintext}, RequiredAcks: "some"}, true, "some", "none"},
		{"bad compression", ProducerConfig{ConnectionConfig: ConnectionConfig{Brokers: []string{"b:1"}, Security: SecurityPlaintext}, Compression: "brotli"}, true, "all", "brotli"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := c.input
			cfg.ApplyDefaults()
			if cfg.RequiredAcks != c.wantAcks {
				t.Errorf("RequiredAcks = %q; want %q", cfg.RequiredAcks, c.wantAcks)
			}
			if cfg.Compression != c.wantComp {
				t.Errorf("Compression = %q; want %q", cfg.Compression, c.wantComp)
			}
			if cfg.DeliveryTimeout != 5*time.Second {
				t.Errorf("DeliveryTimeout = %v", cfg.DeliveryTimeout)
			}
			err := cfg.Validate()
			if (err != nil) != c.wantErr {
				t.Errorf("Validate() error = %v; wantErr=%v", err, c.wantErr)
			}
		})
	}
}

func TestBuildTLSConfig(t *testing.T) {
	conn := tlsConn(t)
	tc, err := buildTLSConfig(conn)
	if err != nil {
		t.Fatalf("buildTLSConfig: %v", err)
	}
	if len(tc.Certificates) != 1 {
		t.Errorf("expected 1 client certificate, got %d", len(tc.Certificates))
	}
	if tc.RootCAs == nil {
		t.Error("RootCAs not set")
	}
	if tc.InsecureSkipVerify {
		t.Error("server verification must be on by default")
	}

	conn.InsecureSkipVerify = true
	tc, err = buildTLSConfig(conn)
	if err != nil {
		t.Fatalf("buildTLSConfig: %v", err)
	}
	if !tc.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify when verification is disabled")
	}
}

func TestBuildTLSConfig_LiteralConfigVerifies(t *testing.T) {
	ca, cert, key := writeTestPKI(t)
	cfgs := map[string]ConnectionConfig{
		"connection": {Brokers: []string{"b:9093"}, Security: SecurityMutualTLS, CAPath: ca, CertPath: cert, KeyPath: key},
		"consumer": ConsumerConfig{
			ConnectionConfig: ConnectionConfig{Brokers: []string{"b:9093"}, Security: SecurityMutualTLS, CAPath: ca, CertPath: cert, KeyPath: key},
			GroupID:          "g",
			Topics:           []string{"t"},
		}.ConnectionConfig,
		"producer": ProducerConfig{
			ConnectionConfig: ConnectionConfig{Brokers: []string{"b:9093"}, Security: SecurityMutualTLS, CAPath: ca, CertPath: cert, KeyPath: key},
		}.ConnectionConfig,
	}
	for name, c := range cfgs {
		t.Run(name, func(t *testing.T) {
			c.ApplyDefaults()
			tc, err := buildTLSConfig(c)
			if err != nil {
				t.Fatalf("buildTLSConfig: %v", err)
			}
			if tc.InsecureSkipVerify {
				t.Error("a config built without constructors must verify the broker certificate")
			}
		})
	}
}

func TestBuildTLSConfig_BadMaterial(t *testing.T) {
	conn := tlsConn(t)
	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a pem"), 0o600); err != nil {
		t.Fatal(err)
	}

	badCA := conn
	badCA.CAPath = garbage
	if _, err := buildTLSConfig(badCA); !errors.Is(err, ErrConfig) {
		t.Errorf("bad CA: expected ErrConfig, got %v", err)
	}

	badKey := conn
	badKey.KeyPath = garbage
	if _, err := buildTLSConfig(badKey); !errors.Is(err, ErrConfig) {
		t.Errorf("bad key: expected ErrConfig, got %v", err)
	}
}

func TestConsumerSaramaConfig(t *testing.T) {
	cfg := DefaultConsumerConfig()
	cfg.ConnectionConfig = tlsConn(t)
	cfg.GroupID = "example_consumer_group_id"
	cfg.Topics = []string{"testing"}
	cfg.InitialOffset = "newest"
	cfg.ApplyDefaults()

	sc, err := consumerSaramaConfig(cfg, nil)
	if err != nil {
		t.Fatalf("consumerSaramaConfig: %v", err)
	}
	if !sc.Net.TLS.Enable || sc.Net.TLS.Config == nil {
		t.Error("TLS must be enabled for MUTUAL_TLS")
	}
	if sc.Consumer.Group.Session.Timeout != 6*time.Second {
		t.Errorf("session timeout = %v", sc.Consumer.Group.Session.Timeout)
	}
	if sc.Consumer.Offsets.AutoCommit.Enable {
		t.Error("sarama auto-commit must be off, offsets are committed explicitly")
	}
	if sc.Consumer.Offsets.Initial != sarama.OffsetNewest {
		t.Errorf("initial offset = %d", sc.Consumer.Offsets.Initial)
	}
	if !sc.Consumer.Return.Errors {
		t.Error("consumer errors must be returned")
	}
	if sc.ClientID == "" {
		t.Error("client id must be generated")
	}
}

func TestProducerSaramaConfig_RequiredAcks(t *testing.T) {
	cases := []struct {
		acks string
		want sarama.RequiredAcks
	}{
		{"all", sarama.WaitForAll},
		{"leader", sarama.WaitForLocal},
		{"none", sarama.NoResponse},
	}
	for _, c := range cases {
		t.Run(c.acks, func(t *testing.T) {
			cfg := ProducerConfig{
				ConnectionConfig: ConnectionConfig{Brokers: []string{"x:1"}, Security: SecurityPlaintext},
				RequiredAcks:     c.acks,
			}
			cfg.ApplyDefaults()
			sc, err := producerSaramaConfig(cfg, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sc.Producer.RequiredAcks != c.want {
				t.Errorf("got %v; want %v", sc.Producer.RequiredAcks, c.want)
			}
			if !sc.Producer.Return.Successes || !sc.Producer.Return.Errors {
				t.Error("successes and errors must be returned")
			}
			if sc.Net.TLS.Enable {
				t.Error("TLS must be off for PLAINTEXT")
			}
		})
	}
}

func TestNewConsumer_ConfigErrorsBeforeNetwork(t *testing.T) {
	cases := []struct {
		name string
		cfg  ConsumerConfig
	}{
		{"empty brokers", func() ConsumerConfig {
			c := DefaultConsumerConfig()
			c.GroupID, c.Topics = "g", []string{"t"}
			return c
		}()},
		{"missing tls paths", func() ConsumerConfig {
			c := DefaultConsumerConfig()
			c.Brokers = []string{"localhost:9093"}
			c.GroupID, c.Topics = "g", []string{"t"}
			return c
		}()},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewConsumer(context.Background(), c.cfg, logger.NewNop())
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestNewProducer_ConfigErrorsBeforeNetwork(t *testing.T) {
	cfg := DefaultProducerConfig()
	cfg.Brokers = []string{"localhost:9093"}
	cfg.CAPath = "./kubernetes/tls/does-not-exist.pem"
	if _, err := NewProducer(context.Background(), cfg, logger.NewNop()); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
