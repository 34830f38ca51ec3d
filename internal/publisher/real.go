package publisher

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/ups-pglog/internal/config"
)

// MQTTPublisher wraps paho.mqtt.golang and implements Publisher.  It owns
// the availability lifecycle for one UPS: an offline payload is registered
// as the broker-side will at connect time, and AnnounceOnline flips the
// retained availability message back once connected.
type MQTTPublisher struct {
	client       mqtt.Client
	qos          byte
	availability string
}

// NewMQTTPublisher creates a connected MQTT client announcing rows for
// upsName.  The availability topic derives from cfg.TopicPrefix and upsName.
func NewMQTTPublisher(cfg config.MQTTConfig, upsName string) (*MQTTPublisher, error) {
	availability := AvailabilityTopic(cfg.TopicPrefix, upsName)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetWill(availability, FormatOffline(), cfg.QOS, true)

	if cfg.TLSCACert != "" {
		tlsCfg, err := newTLSConfig(cfg.TLSCACert)
		if err != nil {
			return nil, fmt.Errorf("loading TLS CA cert %q: %w", cfg.TLSCACert, err)
		}
		opts.SetTLSConfig(tlsCfg)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %q: %w", cfg.Broker, token.Error())
	}
	return &MQTTPublisher{client: client, qos: cfg.QOS, availability: availability}, nil
}

// AnnounceOnline publishes the retained online availability message,
// countering the offline will left with the broker.
func (p *MQTTPublisher) AnnounceOnline() error {
	return p.Publish(Message{Topic: p.availability, Payload: FormatOnline(), Retained: true})
}

// Publish sends a single MQTT message and waits for the broker to acknowledge.
func (p *MQTTPublisher) Publish(msg Message) error {
	token := p.client.Publish(msg.Topic, p.qos, msg.Retained, msg.Payload)
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker gracefully.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// newTLSConfig builds a *tls.Config that trusts caFile as an additional CA.
func newTLSConfig(caFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA cert from %q", caFile)
	}
	return &tls.Config{RootCAs: pool}, nil
}
