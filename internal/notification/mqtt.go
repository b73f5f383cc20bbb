package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/logging"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttPublishTimeout = 10 * time.Second
)

// MQTTProvider publishes the alert payload as JSON to a broker topic.
// The connection is established lazily on the first send and retried by
// the paho client afterwards.
type MQTTProvider struct {
	settings conf.MQTTSettings

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTTProvider(settings conf.MQTTSettings) *MQTTProvider {
	return &MQTTProvider{settings: settings}
}

func (m *MQTTProvider) GetName() string { return "mqtt" }

func (m *MQTTProvider) IsEnabled() bool { return m.settings.Enabled }

func (m *MQTTProvider) SupportsType(detection.AlertType) bool { return true }

func (m *MQTTProvider) ValidateConfig() error {
	if m.settings.Enabled && m.settings.Broker == "" {
		return errors.Newf("mqtt broker address is required").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func (m *MQTTProvider) connect() (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		return m.client, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.settings.Broker)
	opts.SetClientID(m.settings.ClientID)
	if m.settings.Username != "" {
		opts.SetUsername(m.settings.Username)
		opts.SetPassword(m.settings.Password)
	}
	opts.SetConnectRetry(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.ForService("mqtt").Warn("broker connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.Newf("timed out connecting to broker %s", m.settings.Broker).
			Component("notification").
			Category(errors.CategoryTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryMQTTPublish).
			Context("broker", m.settings.Broker).
			Build()
	}
	m.client = client
	return client, nil
}

func (m *MQTTProvider) Send(_ context.Context, n *Notification) error {
	client, err := m.connect()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	token := client.Publish(m.settings.Topic, 0, m.settings.Retain, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return errors.Newf("publish to %s timed out", m.settings.Topic).
			Component("notification").
			Category(errors.CategoryTimeout).
			Context("topic", m.settings.Topic).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryMQTTPublish).
			Context("topic", m.settings.Topic).
			Build()
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTTProvider) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.client = nil
}
