package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Publisher sends a payload to an MQTT topic.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close() error
}

// PahoPublisher publishes to an MQTT broker.
type PahoPublisher struct {
	client paho.Client
}

func NewPahoPublisher(broker, clientID string) (*PahoPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return &PahoPublisher{client: client}, nil
}

func (p *PahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *PahoPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

// MQTTSink publishes events as JSON to <prefix>/events/<kind>.
type MQTTSink struct {
	pub    Publisher
	prefix string
}

func NewMQTTSink(pub Publisher, prefix string) *MQTTSink {
	return &MQTTSink{pub: pub, prefix: prefix}
}

func (s *MQTTSink) Name() string {
	return "mqtt"
}

type mqttPayload struct {
	Kind      Kind   `json:"kind"`
	Zone      *int   `json:"zone,omitempty"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (s *MQTTSink) Topic(k Kind) string {
	return fmt.Sprintf("%s/events/%s", s.prefix, k)
}

func (s *MQTTSink) Send(ctx context.Context, e Event) error {
	p := mqttPayload{
		Kind:      e.Kind,
		Title:     e.Title,
		Message:   e.Message,
		Timestamp: e.Time.UTC().Format(time.RFC3339),
	}
	if e.Zone != NoZone {
		zone := e.Zone
		p.Zone = &zone
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// errors and warnings at-least-once, everything else at-most-once
	var qos byte
	if e.Kind == KindError || e.Kind == KindWarning {
		qos = 1
	}
	return s.pub.Publish(s.Topic(e.Kind), qos, false, payload)
}

// Close disconnects the underlying publisher.
func (s *MQTTSink) Close() error {
	return s.pub.Close()
}
