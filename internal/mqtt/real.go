package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/robplow/ebike-monitor/internal/bike"
)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	topics Topics
}

// NewRealPublisher creates a publisher connected to broker. The broker
// publishes a retained OFFLINE connection message if the daemon vanishes.
func NewRealPublisher(broker, clientID string, topics Topics) (*RealPublisher, error) {
	will, err := FormatConnectionPayload(ConnectionEvent{
		Timestamp: time.Now(),
		Event:     EventOffline,
		Reason:    "monitor went away",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(topics.Connection, will, 1, true).
		SetOnConnectHandler(func(paho.Client) {
			slog.Info("[MQTT] connected", "broker", broker)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("[MQTT] connection lost", "broker", broker, "error", err)
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &RealPublisher{
		client: client,
		topics: topics,
	}, nil
}

// PublishConnection sends a connection change, retained so late
// subscribers see the current link state.
func (p *RealPublisher) PublishConnection(event ConnectionEvent) error {
	payload, err := FormatConnectionPayload(event)
	if err != nil {
		return fmt.Errorf("format connection payload: %w", err)
	}
	return p.publish(p.topics.Connection, 1, true, payload)
}

// PublishData sends a decoded reading. QoS 0: the next one is never far off.
func (p *RealPublisher) PublishData(data bike.Data) error {
	payload, err := FormatDataPayload(data)
	if err != nil {
		return fmt.Errorf("format data payload: %w", err)
	}
	return p.publish(p.topics.Data, 0, false, payload)
}

// PublishSystem sends a system lifecycle event.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(p.topics.System, 1, false, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
