// Tests for real.go — in package publisher (not publisher_test) so that
// unexported helpers like newTLSConfig are accessible.
package publisher

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/sweeney/ups-pglog/internal/config"
)

// makeTempCACert writes a self-signed CA certificate to a temp file and
// returns its path (caller is responsible for cleanup).
func makeTempCACert(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test CA"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating cert: %v", err)
	}
	f, err := os.CreateTemp("", "test-ca-*.pem")
	if err != nil {
		t.Fatalf("creating temp cert file: %v", err)
	}
	if err := pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		t.Fatalf("encoding PEM: %v", err)
	}
	f.Close() //nolint:errcheck
	return f.Name()
}

func TestNewTLSConfig_NonexistentFile(t *testing.T) {
	_, err := newTLSConfig("/nonexistent/ca.pem")
	if err == nil {
		t.Fatal("expected error for non-existent CA cert file")
	}
}

func TestNewTLSConfig_InvalidPEM(t *testing.T) {
	f, err := os.CreateTemp("", "bad-ca-*.pem")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	defer os.Remove(f.Name()) //nolint:errcheck
	if _, err := f.WriteString("this is not a certificate"); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	f.Close() //nolint:errcheck

	if _, err := newTLSConfig(f.Name()); err == nil {
		t.Fatal("expected error for invalid PEM content")
	}
}

func TestNewTLSConfig_ValidCert(t *testing.T) {
	path := makeTempCACert(t)
	defer os.Remove(path) //nolint:errcheck

	tlsCfg, err := newTLSConfig(path)
	if err != nil {
		t.Fatalf("newTLSConfig: %v", err)
	}
	if tlsCfg.RootCAs == nil {
		t.Error("RootCAs should be populated")
	}
}

// NewMQTTPublisher against a broker that isn't there must fail fast rather
// than hang.
func TestNewMQTTPublisher_ConnectFailure(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:      "tcp://127.0.0.1:1",
		ClientID:    "ups-pglog-test",
		TopicPrefix: "ups",
	}
	if _, err := NewMQTTPublisher(cfg, "apc"); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestNewMQTTPublisher_BadCACertPath(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:      "ssl://127.0.0.1:8883",
		ClientID:    "ups-pglog-test",
		TopicPrefix: "ups",
		TLSCACert:   "/nonexistent/ca.pem",
	}
	if _, err := NewMQTTPublisher(cfg, "apc"); err == nil {
		t.Fatal("expected error for bad CA cert path")
	}
}
