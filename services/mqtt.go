package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"wearwatch/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTOptions holds broker credentials and the topic table
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topics maps a topic to the event its messages imply ("" for none)
	Topics map[string]string
	// DisplayTopic receives text for the bedside unit's screen
	DisplayTopic string
}

// ErrNotConnected is returned when publishing without a live broker connection
var ErrNotConnected = errors.New("mqtt client not connected")

// DisplayDuration is how long the bedside unit shows a message, in seconds
const DisplayDuration = 5

// DisplayMessage is the payload rendered by the bedside unit
type DisplayMessage struct {
	Msg      string `json:"msg"`
	Color    string `json:"color"`
	Duration int    `json:"duration"`
}

// DisplayPayload encodes a display message, defaulting empty fields the way
// the unit expects
func DisplayPayload(msg, color string) ([]byte, error) {
	if msg == "" {
		msg = "Hello"
	}
	if color == "" {
		color = "white"
	}
	return json.Marshal(DisplayMessage{Msg: msg, Color: color, Duration: DisplayDuration})
}

// MQTTSource subscribes to the unit firmware topics. Messages on an alert
// topic carry their event by topic even when the payload has no flag.
type MQTTSource struct {
	opts    MQTTOptions
	base    Schema
	schemas map[string]Schema
	logger  *zap.Logger

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTTSource(opts MQTTOptions, schema Schema, logger *zap.Logger) *MQTTSource {
	base := schema.WithSource("mqtt")
	schemas := make(map[string]Schema, len(opts.Topics))
	for topic, event := range opts.Topics {
		s := base
		switch models.EventFlag(event) {
		case models.EventFall, models.EventHelp:
			s = base.WithImpliedEvent(models.EventFlag(event))
		}
		schemas[topic] = s
	}
	return &MQTTSource{opts: opts, base: base, schemas: schemas, logger: logger}
}

func (m *MQTTSource) Name() string { return "mqtt" }

// Run connects, subscribes on every (re)connect and blocks until ctx ends
func (m *MQTTSource) Run(ctx context.Context, sink Sink) error {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(m.opts.Broker)
	clientOpts.SetClientID(m.opts.ClientID)
	if m.opts.Username != "" {
		clientOpts.SetUsername(m.opts.Username)
		clientOpts.SetPassword(m.opts.Password)
	}
	clientOpts.SetKeepAlive(60 * time.Second)
	clientOpts.SetPingTimeout(10 * time.Second)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectRetryInterval(5 * time.Second)

	clientOpts.OnConnect = func(client mqtt.Client) {
		m.logger.Info("Connected to MQTT broker", zap.String("broker", m.opts.Broker))
		sink.ReportSourceSuccess(m.Name())
		m.subscribe(ctx, client, sink)
	}

	clientOpts.OnConnectionLost = func(client mqtt.Client, err error) {
		m.logger.Error("MQTT connection lost", zap.Error(err))
		sink.ReportSourceFailure(m.Name(), fmt.Errorf("connection lost: %w", err))
	}

	client := mqtt.NewClient(clientOpts)
	m.setClient(client)
	defer m.setClient(nil)

	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			sink.ReportSourceFailure(m.Name(), err)
		}
	case <-ctx.Done():
	}

	<-ctx.Done()
	m.logger.Info("Disconnecting from MQTT broker")
	client.Disconnect(250)
	return nil
}

func (m *MQTTSource) subscribe(ctx context.Context, client mqtt.Client, sink Sink) {
	topics := make([]string, 0, len(m.schemas))
	for topic := range m.schemas {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	for _, topic := range topics {
		token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			m.handleMessage(ctx, sink, msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			sink.ReportSourceFailure(m.Name(), fmt.Errorf("subscribe %s: %w", topic, token.Error()))
			continue
		}
		m.logger.Info("Subscribed to topic", zap.String("topic", topic))
	}
}

// handleMessage forwards one message with the schema of its topic
func (m *MQTTSource) handleMessage(ctx context.Context, sink Sink, topic string, payload []byte) {
	schema, ok := m.schemas[topic]
	if !ok {
		schema = m.base
	}

	m.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("bytes", len(payload)))

	// the payload is queued past the callback
	body := append([]byte(nil), payload...)
	if err := sink.Emit(ctx, body, schema); err != nil {
		sink.ReportSourceFailure(m.Name(), fmt.Errorf("emit from %s: %w", topic, err))
	}
}

func (m *MQTTSource) setClient(client mqtt.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.client = client
}

// SendDisplayMessage publishes text to the bedside unit's screen over the
// source's broker connection
func (m *MQTTSource) SendDisplayMessage(ctx context.Context, msg, color string) error {
	if m.opts.DisplayTopic == "" {
		return errors.New("display topic not configured")
	}

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := DisplayPayload(msg, color)
	if err != nil {
		return fmt.Errorf("marshal display message: %w", err)
	}

	token := client.Publish(m.opts.DisplayTopic, 1, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish display message: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.Info("Sent display message",
		zap.String("topic", m.opts.DisplayTopic),
		zap.String("color", color))
	return nil
}
