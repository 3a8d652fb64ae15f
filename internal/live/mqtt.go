package live

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/upright-data/posture.report/internal/monitoring"
	"github.com/upright-data/posture.report/internal/posture"
)

// MQTTConfig configures the MQTT reading publisher.
type MQTTConfig struct {
	// BrokerURL is the broker address, e.g. "tcp://localhost:1883".
	BrokerURL string

	// ClientID identifies this publisher to the broker.
	ClientID string

	// Topic is the topic readings are published to.
	Topic string

	// QoS is the MQTT quality of service level (0, 1 or 2).
	QoS byte

	// ConnectTimeout bounds the initial broker handshake.
	ConnectTimeout time.Duration
}

// DefaultMQTTConfig returns the standard publisher settings for a broker.
func DefaultMQTTConfig(brokerURL string) MQTTConfig {
	return MQTTConfig{
		BrokerURL:      brokerURL,
		ClientID:       "posture-report",
		Topic:          "posture/readings",
		QoS:            0,
		ConnectTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c MQTTConfig) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("live: mqtt broker url must not be empty")
	}
	if c.ClientID == "" {
		return fmt.Errorf("live: mqtt client id must not be empty")
	}
	if c.Topic == "" {
		return fmt.Errorf("live: mqtt topic must not be empty")
	}
	if c.QoS > 2 {
		return fmt.Errorf("live: mqtt qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("live: mqtt connect timeout must be positive, got %v", c.ConnectTimeout)
	}
	return nil
}

// MQTTPublisher pushes readings to an MQTT broker. Publishes are fire and
// forget: the frame path never waits on the network.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqtt.Client
	errors atomic.Uint64
}

// NewMQTTPublisher validates the configuration and connects to the broker.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		monitoring.Logf("live: mqtt connected to %s", cfg.BrokerURL)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Logf("live: mqtt connection lost, reconnecting: %v", err)
	}

	p := &MQTTPublisher{cfg: cfg, client: mqtt.NewClient(opts)}

	token := p.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("live: mqtt connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("live: mqtt connect to %s: %w", cfg.BrokerURL, err)
	}
	return p, nil
}

// Publish sends the reading to the configured topic without waiting for the
// broker acknowledgement.
func (p *MQTTPublisher) Publish(r *posture.Reading) {
	payload, err := json.Marshal(r)
	if err != nil {
		monitoring.Logf("live: encoding reading %d: %v", r.FrameNumber, err)
		return
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			if p.errors.Add(1) == 1 {
				monitoring.Logf("live: mqtt publish failed: %v", err)
			}
		}
	}()
}

// PublishErrors returns how many publishes the broker rejected.
func (p *MQTTPublisher) PublishErrors() uint64 {
	return p.errors.Load()
}

// Close disconnects from the broker, allowing in-flight publishes a moment
// to drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
